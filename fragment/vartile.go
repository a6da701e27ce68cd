package fragment

import (
	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/tile"
	"github.com/tdb-core/tdb/xerrors"
)

// EncodeVarPayload prefixes a variable-length tile's raw payload with
// its offset table so the tile is self-describing once it comes back
// off disk (the on-disk tile_var_offsets/tile_var_sizes book-keeping
// records only the tile's own byte span in the attribute file, not
// per-cell boundaries within it).
func EncodeVarPayload(t *tile.Tile) []byte {
	offsets := t.Offsets()
	w := bytebuf.NewWriter(8 + 8*len(offsets) + len(t.Payload()))
	w.PutUint64(uint64(len(offsets)))
	for _, o := range offsets {
		w.PutUint64(o)
	}
	w.PutRawBytes(t.Payload())
	return w.AllBytes()
}

// DecodeVarPayload is EncodeVarPayload's inverse, populating a fresh
// datatype.Var tile with the recovered offset table and payload bytes.
func DecodeVarPayload(tileID uint64, attrType datatype.Datatype, attrIdx int, raw []byte) (*tile.Tile, error) {
	const op = "fragment.decodeVarPayload"
	r := bytebuf.NewReader(raw)
	n, err := r.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	offsets := make([]uint64, n)
	for i := range offsets {
		offsets[i], err = r.Uint64()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}
	payload, err := r.RawBytes(r.Remaining())
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	t := tile.New(tile.AttributeKind, attrType, tileID, datatype.Var, 0)
	t.AttrIdx = attrIdx
	t.SetOffsets(offsets)
	t.SetPayload(payload)
	return t, nil
}
