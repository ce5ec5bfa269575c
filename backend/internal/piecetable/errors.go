package piecetable

import (
	"errors"
	"fmt"
)

// 调用方可以用 errors.Is 判断错误类别，用 errors.As 取出具体字段
var (
	ErrPositionOutOfBounds = errors.New("POSITION_OUT_OF_BOUNDS")
	ErrDeleteRangeInvalid  = errors.New("DELETE_RANGE_INVALID")
)

// PositionOutOfBoundsError 由 Insert / CharAt / Slice 返回。
// Max 是当前文档长度：Insert 接受 [0, Max]，CharAt 接受 [0, Max)。
type PositionOutOfBoundsError struct {
	Requested int
	Max       int
}

func (e *PositionOutOfBoundsError) Error() string {
	return fmt.Sprintf("position %d out of bounds (document length %d)", e.Requested, e.Max)
}

func (e *PositionOutOfBoundsError) Is(target error) bool { return target == ErrPositionOutOfBounds }

// RangeOutOfBoundsError 由 Slice 返回，[Position, Position+Length) 不在文档范围内。
// 它也满足 errors.Is(err, ErrPositionOutOfBounds)。
type RangeOutOfBoundsError struct {
	Position       int
	Length         int
	DocumentLength int
}

func (e *RangeOutOfBoundsError) Error() string {
	return fmt.Sprintf("range [%d, %d+%d) out of bounds (document length %d)",
		e.Position, e.Position, e.Length, e.DocumentLength)
}

func (e *RangeOutOfBoundsError) Is(target error) bool { return target == ErrPositionOutOfBounds }

// DeleteRangeInvalidError 由 Delete 返回，position+length 超出文档长度
type DeleteRangeInvalidError struct {
	Position       int
	Length         int
	DocumentLength int
}

func (e *DeleteRangeInvalidError) Error() string {
	return fmt.Sprintf("delete range [%d, %d+%d) invalid for document length %d",
		e.Position, e.Position, e.Length, e.DocumentLength)
}

func (e *DeleteRangeInvalidError) Is(target error) bool { return target == ErrDeleteRangeInvalid }

// CorruptionError 表示 piece 索引本身坏掉了（算法 bug，不是输入错误）。
// 它只会通过 panic 抛出，不会作为普通 error 返回。
type CorruptionError struct {
	Reason string
	Pieces []Piece
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("piece table corrupted: %s (pieces=%v)", e.Reason, e.Pieces)
}
