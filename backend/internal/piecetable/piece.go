package piecetable

import "fmt"

// Source 标记 piece 指向哪个缓冲区
type Source int

const (
	// iota 从 0 开始：Original = 0, Added = 1
	Original Source = iota
	Added
)

func (s Source) String() string {
	switch s {
	case Original:
		return "Original"
	case Added:
		return "Added"
	default:
		return fmt.Sprintf("Source(%d)", int(s))
	}
}

// Piece 是对某个缓冲区中一段连续字符的引用 (source, offset, length)。
// 它是值类型，对外只暴露副本。
type Piece struct {
	Source Source
	Offset int
	Length int
}

func (p Piece) String() string {
	return fmt.Sprintf("{%s,%d,%d}", p.Source, p.Offset, p.Length)
}

// split 在 piece 内部偏移 at 处切成左右两段，任意一段可能为空
func (p Piece) split(at int) (left, right Piece) {
	left = Piece{Source: p.Source, Offset: p.Offset, Length: at}
	right = Piece{Source: p.Source, Offset: p.Offset + at, Length: p.Length - at}
	return left, right
}
