package collab

import (
	"piecetable/backend/internal/ot/delta"
	"piecetable/backend/internal/piecetable"
)

// 抽象文档内容缓冲区接口，*piecetable.PieceTable 是唯一实现
type Buffer interface {
	Len() int
	String() string
	Insert(text string, pos int) error
	Delete(pos, length int) error
	CharAt(pos int) (rune, error)
	Apply(d delta.Delta) error
	Pieces() []piecetable.Piece
}

var _ Buffer = (*piecetable.PieceTable)(nil)

func newBuffer(content string) Buffer {
	return piecetable.New(content)
}
