package piecetable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"piecetable/backend/internal/ot/delta"
)

func TestPieceTable_ApplyInsertMiddle(t *testing.T) {
	pt := New("Hello world")

	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},               // 跳过 "Hello"
		{Kind: delta.KindInsert, Text: " collaborative"}, // 在 pos=5 插入
	}
	require.NoError(t, pt.Apply(d))
	assert.Equal(t, "Hello collaborative world", pt.String())
}

func TestPieceTable_ApplyDeleteMiddle(t *testing.T) {
	pt := New("Hello collaborative world")

	// 保留 "Hello"，然后删 " collaborative"
	d := delta.Delta{
		{Kind: delta.KindRetain, Count: 5},
		{Kind: delta.KindDelete, Count: 14},
	}
	require.NoError(t, pt.Apply(d))
	assert.Equal(t, "Hello world", pt.String())
}

func TestPieceTable_ApplyMixed(t *testing.T) {
	pt := New("abcdef")

	d := delta.Delta{
		{Kind: delta.KindInsert, Text: ">"},
		{Kind: delta.KindRetain, Count: 2},
		{Kind: delta.KindDelete, Count: 2},
		{Kind: delta.KindInsert, Text: "XY"},
		{Kind: delta.KindRetain, Count: 1},
		{Kind: delta.KindInsert, Text: "!"},
	}
	require.NoError(t, pt.Apply(d))
	assert.Equal(t, ">abXYe!f", pt.String())
	assert.Equal(t, d.TargetLen(6), pt.Len())
}

func TestPieceTable_ApplyInvalidLeavesDocumentUntouched(t *testing.T) {
	pt := New("abc")
	require.NoError(t, pt.Insert("Z", 3))
	before := pt.Pieces()
	addedBefore := pt.AddedLen()

	// 前两个 op 合法，第三个越界：整个 delta 都不能生效
	d := delta.Delta{
		{Kind: delta.KindInsert, Text: "hello"},
		{Kind: delta.KindRetain, Count: 2},
		{Kind: delta.KindDelete, Count: 10},
	}
	err := pt.Apply(d)
	require.ErrorIs(t, err, delta.ErrDeltaInvalid)

	assert.Equal(t, before, pt.Pieces())
	assert.Equal(t, addedBefore, pt.AddedLen())
	assert.Equal(t, "abcZ", pt.String())
}
