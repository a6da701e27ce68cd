package fragment

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/schema"
	"github.com/tdb-core/tdb/tile"
)

// stubLoader serves tiles straight out of an in-memory map, standing in
// for the storage manager's segment-staged disk loader.
type stubLoader struct {
	attrTiles map[int]map[int]*tile.Tile // attrIdx -> rank -> tile
	coordTiles map[int]*tile.Tile         // rank -> tile
}

func (l *stubLoader) LoadTile(ctx context.Context, attrIdx, rank int) (*tile.Tile, error) {
	return l.attrTiles[attrIdx][rank], nil
}

func (l *stubLoader) LoadCoordTile(ctx context.Context, rank int) (*tile.Tile, error) {
	return l.coordTiles[rank], nil
}

func buildSparseFixture(t *testing.T) (*schema.ArraySchema, *BookKeeping, *stubLoader) {
	s := sparseSchema()
	bk := NewBookKeeping(s, true)

	ct0 := tile.NewCoord(0, datatype.Uint32, 1, 8, 2)
	require.NoError(t, ct0.AppendCoords([]float64{1}))
	require.NoError(t, ct0.AppendCoords([]float64{2}))
	lo0, hi0 := ct0.MBR()
	require.NoError(t, bk.AppendTile(0, &Rect{Lo: lo0, Hi: hi0}, ct0.BoundingFirst(), ct0.BoundingLast()))

	ct1 := tile.NewCoord(1, datatype.Uint32, 1, 8, 2)
	require.NoError(t, ct1.AppendCoords([]float64{10}))
	require.NoError(t, ct1.AppendCoords([]float64{11}))
	lo1, hi1 := ct1.MBR()
	require.NoError(t, bk.AppendTile(1, &Rect{Lo: lo1, Hi: hi1}, ct1.BoundingFirst(), ct1.BoundingLast()))
	bk.Finalize()

	at0 := tile.New(tile.AttributeKind, datatype.Int32, 0, 4, 2)
	require.NoError(t, at0.AppendCell(u32(100)))
	require.NoError(t, at0.AppendCell(u32(200)))
	at1 := tile.New(tile.AttributeKind, datatype.Int32, 1, 4, 2)
	require.NoError(t, at1.AppendCell(u32(300)))
	require.NoError(t, at1.AppendCell(u32(400)))

	loader := &stubLoader{
		attrTiles:  map[int]map[int]*tile.Tile{0: {0: at0, 1: at1}},
		coordTiles: map[int]*tile.Tile{0: ct0, 1: ct1},
	}
	return s, bk, loader
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func TestReaderSkipsNonOverlappingTiles(t *testing.T) {
	s, bk, loader := buildSparseFixture(t)
	rd, err := NewReader(s, bk, true, loader, tile.Range{Lo: []float64{0}, Hi: []float64{5}})
	require.NoError(t, err)

	var got []float64
	for {
		c, ok, err := rd.Next(context.Background(), tile.Range{Lo: []float64{0}, Hi: []float64{5}}, []int{0})
		require.NoError(t, err)
		if !ok {
			break
		}
		got = append(got, c.Coords[0])
	}
	assert.Equal(t, []float64{1, 2}, got)
}

func TestReaderReturnsAttributeBytes(t *testing.T) {
	s, bk, loader := buildSparseFixture(t)
	rd, err := NewReader(s, bk, true, loader, tile.Range{Lo: []float64{1}, Hi: []float64{11}})
	require.NoError(t, err)

	var values []uint32
	for {
		c, ok, err := rd.Next(context.Background(), tile.Range{Lo: []float64{1}, Hi: []float64{11}}, []int{0})
		require.NoError(t, err)
		if !ok {
			break
		}
		values = append(values, binary.LittleEndian.Uint32(c.AttrBytes[0]))
	}
	assert.Equal(t, []uint32{100, 200, 300, 400}, values)
}
