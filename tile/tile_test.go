package tile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdb-core/tdb/datatype"
)

func TestAppendAndMBR(t *testing.T) {
	ct := NewCoord(0, datatype.Int32, 2, 16, 4)
	require.NoError(t, ct.AppendCoords([]float64{1, 1}))
	require.NoError(t, ct.AppendCoords([]float64{3, 5}))
	require.NoError(t, ct.AppendCoords([]float64{2, 0}))

	lo, hi := ct.MBR()
	assert.Equal(t, []float64{1, 0}, lo)
	assert.Equal(t, []float64{3, 5}, hi)
	assert.Equal(t, []float64{1, 1}, ct.BoundingFirst())
	assert.Equal(t, []float64{2, 0}, ct.BoundingLast())

	got, err := ct.Coord(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 5}, got)
}

func TestCursorIteration(t *testing.T) {
	tl := New(AttributeKind, datatype.Int32, 0, 4, 2)
	require.NoError(t, tl.AppendCell([]byte{1, 0, 0, 0}))
	require.NoError(t, tl.AppendCell([]byte{2, 0, 0, 0}))

	cur := NewCursor(tl)
	n := 0
	for cur.Next() {
		n++
	}
	assert.Equal(t, 2, n)
}

func TestRangeContains(t *testing.T) {
	r := Range{Lo: []float64{1, 1}, Hi: []float64{3, 3}}
	assert.True(t, r.Contains([]float64{2, 2}))
	assert.False(t, r.Contains([]float64{4, 2}))
	assert.True(t, r.ContainsRect([]float64{1, 1}, []float64{3, 3}))
	assert.False(t, r.ContainsRect([]float64{0, 1}, []float64{3, 3}))
}

func TestVarLengthCells(t *testing.T) {
	tl := New(AttributeKind, datatype.StringUTF8, 0, datatype.Var, 4)
	require.NoError(t, tl.AppendVarCell([]byte("a")))
	require.NoError(t, tl.AppendVarCell([]byte("bb")))
	require.NoError(t, tl.AppendVarCell([]byte("")))
	assert.Equal(t, []uint64{0, 1, 3, 3}, tl.Offsets())

	cell, err := tl.Cell(1)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(cell))
}
