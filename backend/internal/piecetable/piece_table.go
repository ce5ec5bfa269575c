// Package piecetable 实现文档内容缓冲区：一个只读的 original 缓冲区、一个只追加的
// added 缓冲区，以及按文档顺序排列的 piece 列表。
//
// 结构示例，初始文档 "Hello world"：
//
//	original = "Hello world"，added = ""
//	pieces   = [ {Original,0,11} ]
//
// 在位置 5 插入 " collaborative"：
//
//	added  = " collaborative"
//	pieces = [ {Original,0,5}, {Added,0,14}, {Original,5,6} ]
//
// PieceTable 内部没有锁，并发访问需要调用方自己串行化。
package piecetable

import (
	"iter"
	"strings"

	"piecetable/backend/internal/ot/delta"
)

type PieceTable struct {
	// 原始文本，构造后不再修改
	original []rune
	// 新增文本，只追加，已写入的部分永不改写
	added []rune
	// 分片列表，顺序即文档顺序
	pieces []Piece
	// 所有 piece 长度之和，随每次修改同步维护
	length int
}

// New 用 original 作为只读缓冲区构造 PieceTable。空文本对应空的 piece 列表。
func New(original string) *PieceTable {
	r := []rune(original)
	pt := &PieceTable{original: r, length: len(r)}
	if len(r) > 0 {
		pt.pieces = []Piece{{Source: Original, Offset: 0, Length: len(r)}}
	}
	return pt
}

// Len 返回文档长度（字符数）
func (pt *PieceTable) Len() int { return pt.length }

// AddedLen 返回 added 缓冲区的大小，它只会增长
func (pt *PieceTable) AddedLen() int { return len(pt.added) }

// Pieces 返回 piece 列表的副本
func (pt *PieceTable) Pieces() []Piece {
	out := make([]Piece, len(pt.pieces))
	copy(out, pt.pieces)
	return out
}

// Insert 在 pos 处插入 text，pos 取值 [0, Len()]。空文本什么都不做。
func (pt *PieceTable) Insert(text string, pos int) error {
	if pos < 0 || pos > pt.length {
		return &PositionOutOfBoundsError{Requested: pos, Max: pt.length}
	}
	r := []rune(text)
	if len(r) == 0 {
		return nil
	}

	newPiece := Piece{Source: Added, Offset: len(pt.added), Length: len(r)}

	// 先在新切片里拼好完整的替换结果，最后一次性赋值，不会出现“删了旧 piece 还没插新 piece”的中间状态
	var next []Piece
	idx, cum, ok := pt.locate(pos)
	if !ok {
		next = []Piece{newPiece}
	} else {
		left, right := pt.pieces[idx].split(pos - cum)
		next = make([]Piece, 0, len(pt.pieces)+2)
		next = append(next, pt.pieces[:idx]...)
		if left.Length > 0 {
			next = append(next, left)
		}
		next = append(next, newPiece)
		if right.Length > 0 {
			next = append(next, right)
		}
		next = append(next, pt.pieces[idx+1:]...)
	}

	pt.added = append(pt.added, r...)
	pt.pieces = next
	pt.length += len(r)
	pt.checkInvariants()
	return nil
}

// Delete 删除 [pos, pos+length)，范围可以跨越任意多个 piece。length 为 0 时什么都不做。
func (pt *PieceTable) Delete(pos, length int) error {
	// length > pt.length-pos 等价于 pos+length > pt.length，但不会溢出
	if pos < 0 || length < 0 || pos > pt.length || length > pt.length-pos {
		return &DeleteRangeInvalidError{Position: pos, Length: length, DocumentLength: pt.length}
	}
	if length == 0 {
		return nil
	}

	end := pos + length
	idx, cum, _ := pt.locate(pos)

	next := make([]Piece, 0, len(pt.pieces)+1)
	next = append(next, pt.pieces[:idx]...)
	i := idx
	for ; i < len(pt.pieces) && cum < end; i++ {
		p := pt.pieces[i]
		pStart, pEnd := cum, cum+p.Length
		cum = pEnd

		// 左边界命中时 locate 返回左侧 piece，它与删除区间没有交集，原样保留
		if pEnd <= pos {
			next = append(next, p)
			continue
		}
		// 保留 pos 之前的前缀
		if pStart < pos {
			left, _ := p.split(pos - pStart)
			next = append(next, left)
		}
		// 保留 end 之后的后缀
		if pEnd > end {
			_, right := p.split(end - pStart)
			next = append(next, right)
		}
		// 完全落在区间内的 piece 直接丢弃
	}
	next = append(next, pt.pieces[i:]...)

	pt.pieces = next
	pt.length -= length
	pt.checkInvariants()
	return nil
}

// CharAt 返回 pos 处的字符，pos 取值 [0, Len())
func (pt *PieceTable) CharAt(pos int) (rune, error) {
	if pos < 0 || pos >= pt.length {
		return 0, &PositionOutOfBoundsError{Requested: pos, Max: pt.length}
	}
	idx, cum := pt.locateChar(pos)
	p := pt.pieces[idx]
	return pt.buffer(p.Source)[p.Offset+pos-cum], nil
}

// Slice 返回 [pos, pos+length) 的文本副本
func (pt *PieceTable) Slice(pos, length int) (string, error) {
	if pos < 0 || length < 0 || pos > pt.length || length > pt.length-pos {
		return "", &RangeOutOfBoundsError{Position: pos, Length: length, DocumentLength: pt.length}
	}
	var sb strings.Builder
	i := 0
	for r := range pt.Materialize() {
		if i >= pos+length {
			break
		}
		if i >= pos {
			sb.WriteRune(r)
		}
		i++
	}
	return sb.String(), nil
}

// Materialize 按 piece 顺序逐个产出字符。
// 序列捕获调用时刻的 piece 列表，可以重复遍历；之后的修改不会影响已经拿到的序列。
func (pt *PieceTable) Materialize() iter.Seq[rune] {
	// 修改操作总是整体替换 pieces 切片、只向 added 追加，所以这里持有的切片头始终有效
	pieces, original, added := pt.pieces, pt.original, pt.added
	return func(yield func(rune) bool) {
		for _, p := range pieces {
			buf := original
			if p.Source == Added {
				buf = added
			}
			for _, r := range buf[p.Offset : p.Offset+p.Length] {
				if !yield(r) {
					return
				}
			}
		}
	}
}

func (pt *PieceTable) String() string {
	var sb strings.Builder
	sb.Grow(pt.length)
	for _, p := range pt.pieces {
		sb.WriteString(string(pt.buffer(p.Source)[p.Offset : p.Offset+p.Length]))
	}
	return sb.String()
}

// Apply 依次执行 delta 里的 retain/insert/delete。
// 整个 delta 先做一遍校验，校验失败时文档保持原样。
func (pt *PieceTable) Apply(d delta.Delta) error {
	if err := d.Validate(pt.length); err != nil {
		return err
	}
	pos := 0
	//retain: 向前移动 pos；insert: 在 pos 插入并跳过插入的文本；delete: 从 pos 开始删除
	for _, op := range d {
		switch op.Kind {
		case delta.KindRetain:
			pos += op.Count
		case delta.KindInsert:
			if err := pt.Insert(op.Text, pos); err != nil {
				return err
			}
			pos += len([]rune(op.Text))
		case delta.KindDelete:
			if err := pt.Delete(pos, op.Count); err != nil {
				return err
			}
		}
	}
	return nil
}

func (pt *PieceTable) buffer(s Source) []rune {
	if s == Added {
		return pt.added
	}
	return pt.original
}
