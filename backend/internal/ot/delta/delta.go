package delta

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindRetain Kind = "retain"
	KindInsert Kind = "insert"
	KindDelete Kind = "delete"
)

type Op struct {
	Kind  Kind           `json:"kind"`            // "retain" / "insert" / "delete"
	Count int            `json:"count,omitempty"` // retain/delete 的长度
	Text  string         `json:"text,omitempty"`  // insert 的文本
	Attrs map[string]any `json:"attrs,omitempty"` // 样式属性（粗体/颜色等）
}

type Delta []Op

// "ops":[{"kind":"retain","count":5},{"kind":"insert","text":"Hello"}]

var ErrDeltaInvalid = errors.New("DELTA_INVALID")

// Validate 在不修改文档的前提下，模拟一遍 delta 对长度为 docLen 的文档的作用。
// retain/delete 越界、count 为负、未知 kind 都会返回包裹 ErrDeltaInvalid 的错误。
func (d Delta) Validate(docLen int) error {
	pos, size := 0, docLen
	for i, op := range d {
		switch op.Kind {
		case KindRetain, KindDelete:
			if op.Count < 0 {
				return fmt.Errorf("%w: op %d: negative count %d", ErrDeltaInvalid, i, op.Count)
			}
			// 写成减法，避免 pos+count 溢出
			if op.Count > size-pos {
				return fmt.Errorf("%w: op %d: %s %d at %d exceeds length %d", ErrDeltaInvalid, i, op.Kind, op.Count, pos, size)
			}
			if op.Kind == KindRetain {
				pos += op.Count
			} else {
				size -= op.Count
			}
		case KindInsert:
			n := len([]rune(op.Text))
			pos += n
			size += n
		default:
			return fmt.Errorf("%w: op %d: unknown kind %q", ErrDeltaInvalid, i, op.Kind)
		}
	}
	return nil
}

// TargetLen 返回 delta 作用于长度为 baseLen 的文档之后的长度（假定 delta 合法）
func (d Delta) TargetLen(baseLen int) int {
	n := baseLen
	for _, op := range d {
		switch op.Kind {
		case KindInsert:
			n += len([]rune(op.Text))
		case KindDelete:
			n -= op.Count
		}
	}
	return n
}
