package fragment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/xerrors"
)

func sparseSchema() *schema.ArraySchema {
	return &schema.ArraySchema{
		ArrayName: "s",
		Dimensions: []schema.Dimension{
			{Name: "x", Type: datatype.Uint32, Lo: 1, Hi: 100},
		},
		Attributes: []schema.Attribute{{Name: "a", Type: datatype.Int32}},
		CellOrder:  schema.RowMajor,
		Capacity:   2,
	}
}

func TestBookKeepingRoundTrip(t *testing.T) {
	s := sparseSchema()
	bk := NewBookKeeping(s, true)

	require.NoError(t, bk.AppendTile(0, &Rect{Lo: []float64{1}, Hi: []float64{3}}, []float64{1}, []float64{3}))
	require.NoError(t, bk.AppendTileMetadata(0, 0, nil, nil))
	require.NoError(t, bk.AppendTile(1, &Rect{Lo: []float64{5}, Hi: []float64{9}}, []float64{5}, []float64{9}))
	require.NoError(t, bk.AppendTileMetadata(0, 100, nil, nil))
	bk.LastTileCellNum = 2
	bk.Finalize()

	buf, err := bk.Serialize()
	require.NoError(t, err)

	got, err := Deserialize(s, true, buf)
	require.NoError(t, err)
	assert.Equal(t, bk.TileIDs, got.TileIDs)
	assert.Equal(t, bk.LastTileCellNum, got.LastTileCellNum)
	assert.Equal(t, bk.NonEmptyDomain.Lo, got.NonEmptyDomain.Lo)
	assert.Equal(t, bk.NonEmptyDomain.Hi, got.NonEmptyDomain.Hi)

	rank, ok := got.TileRank(1)
	require.True(t, ok)
	assert.Equal(t, 1, rank)

	_, ok = got.TileRank(5)
	assert.False(t, ok)
}

func TestBookKeepingCorruption(t *testing.T) {
	s := sparseSchema()
	bk := NewBookKeeping(s, true)
	require.NoError(t, bk.AppendTile(0, &Rect{Lo: []float64{1}, Hi: []float64{3}}, []float64{1}, []float64{3}))
	bk.Finalize()

	buf, err := bk.Serialize()
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	_, err = Deserialize(s, true, buf)
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.Corrupted))
}

func TestAppendTileOrderViolation(t *testing.T) {
	s := sparseSchema()
	bk := NewBookKeeping(s, true)
	require.NoError(t, bk.AppendTile(5, nil, []float64{1}, []float64{1}))
	err := bk.AppendTile(5, nil, []float64{2}, []float64{2})
	require.Error(t, err)
	assert.True(t, xerrors.Is(err, xerrors.TileOrderViolation))
}

func TestOverlappingTileRanks(t *testing.T) {
	s := sparseSchema()
	bk := NewBookKeeping(s, true)
	require.NoError(t, bk.AppendTile(0, &Rect{Lo: []float64{1}, Hi: []float64{3}}, []float64{1}, []float64{3}))
	require.NoError(t, bk.AppendTile(1, &Rect{Lo: []float64{5}, Hi: []float64{9}}, []float64{5}, []float64{9}))
	bk.Finalize()

	ranks, err := bk.OverlappingTileRanks(Rect{Lo: []float64{2}, Hi: []float64{6}})
	require.NoError(t, err)
	require.Len(t, ranks, 2)
	assert.False(t, ranks[0].Full)
	assert.False(t, ranks[1].Full)
}
