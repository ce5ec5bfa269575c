package piecetable

// locate 根据逻辑位置 pos 找到编辑用的 piece 下标 idx，以及它之前所有 piece 的长度和 cum。
//
// 选中的是第一个满足 cum+length >= pos 的 piece：pos 恰好落在两个 piece 的边界上时返回左边那个，
// 此时 pos-cum == length，右半段为空。插入文本因此紧跟在左侧 piece 之后。
// piece 列表为空时 ok 为 false。
func (pt *PieceTable) locate(pos int) (idx, cum int, ok bool) {
	for i, p := range pt.pieces {
		if cum+p.Length >= pos {
			return i, cum, true
		}
		cum += p.Length
	}
	return len(pt.pieces), cum, false
}

// locateChar 找到真正包含 pos 处字符的 piece，调用方保证 0 <= pos < Len()
func (pt *PieceTable) locateChar(pos int) (idx, cum int) {
	for i, p := range pt.pieces {
		if pos < cum+p.Length {
			return i, cum
		}
		cum += p.Length
	}
	panic(&CorruptionError{Reason: "position inside document but no piece covers it", Pieces: pt.Pieces()})
}

// checkInvariants 在每次修改之后运行。
// 违反不变量说明算法本身有 bug，直接 panic，和调用方的参数错误区分开。
func (pt *PieceTable) checkInvariants() {
	sum := 0
	for _, p := range pt.pieces {
		if p.Length <= 0 {
			panic(&CorruptionError{Reason: "zero-length piece", Pieces: pt.Pieces()})
		}
		if p.Offset < 0 || p.Offset+p.Length > len(pt.buffer(p.Source)) {
			panic(&CorruptionError{Reason: "piece exceeds its buffer", Pieces: pt.Pieces()})
		}
		sum += p.Length
		if sum < 0 {
			panic(&CorruptionError{Reason: "length overflow", Pieces: pt.Pieces()})
		}
	}
	if sum != pt.length {
		panic(&CorruptionError{Reason: "cached length does not match pieces", Pieces: pt.Pieces()})
	}
}
