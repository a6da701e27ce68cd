package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdb-core/tdb/datatype"
)

func denseSchema() *ArraySchema {
	return &ArraySchema{
		ArrayName: "a",
		Dimensions: []Dimension{
			{Name: "x", Type: datatype.Int32, Lo: 1, Hi: 4, TileExtent: 2, HasExtent: true},
			{Name: "y", Type: datatype.Int32, Lo: 1, Hi: 4, TileExtent: 2, HasExtent: true},
		},
		Attributes: []Attribute{
			{Name: "a", Type: datatype.Int32},
		},
		TileOrder: RowMajor,
		CellOrder: RowMajor,
		Capacity:  4,
	}
}

func TestSchemaRoundTrip(t *testing.T) {
	s := denseSchema()
	require.NoError(t, s.Validate())

	buf, err := s.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(buf)
	require.NoError(t, err)
	assert.Equal(t, s.ArrayName, got.ArrayName)
	assert.Equal(t, s.TileOrder, got.TileOrder)
	assert.Equal(t, s.CellOrder, got.CellOrder)
	assert.Equal(t, s.Capacity, got.Capacity)
	assert.Len(t, got.Dimensions, 2)
	assert.Equal(t, s.Dimensions[0].Lo, got.Dimensions[0].Lo)
	assert.Equal(t, s.Dimensions[0].TileExtent, got.Dimensions[0].TileExtent)
	assert.Len(t, got.Attributes, 1)
}

func TestDeserializeCorrupted(t *testing.T) {
	_, err := Deserialize([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestS1TileIDRowMajor(t *testing.T) {
	s := denseSchema()
	id, err := s.TileIDRowMajor([]float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, uint64(0), id)

	id, err = s.TileIDRowMajor([]float64{3, 3})
	require.NoError(t, err)
	assert.Equal(t, uint64(3), id)
}

func TestPrecedesTotalOrder(t *testing.T) {
	s := denseSchema()
	a := []float64{1, 1}
	b := []float64{1, 2}
	lt, err := s.Precedes(a, b)
	require.NoError(t, err)
	assert.True(t, lt)
	gt, err := s.Succeeds(a, b)
	require.NoError(t, err)
	assert.False(t, gt)
}

func TestHilbertCellOrder(t *testing.T) {
	s := &ArraySchema{
		ArrayName: "h",
		Dimensions: []Dimension{
			{Name: "x", Type: datatype.Int32, Lo: 0, Hi: 3, TileExtent: 4, HasExtent: true},
			{Name: "y", Type: datatype.Int32, Lo: 0, Hi: 3, TileExtent: 4, HasExtent: true},
		},
		Attributes: []Attribute{{Name: "a", Type: datatype.Int32}},
		TileOrder:  RowMajor,
		CellOrder:  Hilbert,
		Capacity:   16,
	}
	require.NoError(t, s.Validate())
	id1, err := s.CellIDHilbert([]float64{0, 0})
	require.NoError(t, err)
	id2, err := s.CellIDHilbert([]float64{0, 3})
	require.NoError(t, err)
	assert.NotEqual(t, id1, id2)
}

func TestValidateRejectsEmptyDims(t *testing.T) {
	s := &ArraySchema{Attributes: []Attribute{{Name: "a", Type: datatype.Int32}}, CellOrder: RowMajor, Capacity: 1}
	require.Error(t, s.Validate())
}
