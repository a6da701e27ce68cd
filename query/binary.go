package query

import (
	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/schema"
)

// encodeCellBinary renders one cell into the query processor's binary
// wire format: the chosen dimensions' coordinates (each narrowed to its
// own wire type and length-prefixed, mirroring fragment.encodeCell's
// run-file convention) followed by the chosen attributes' values, in
// schema attribute order (spec §4.9's subarray_buf: "coords then
// attribute values, in schema attribute order").
func encodeCellBinary(w *bytebuf.Buffer, s *schema.ArraySchema, coords []float64, dimIdxs []int, attrBytes [][]byte) error {
	for _, di := range dimIdxs {
		v, err := datatype.CoerceFromFloat64(s.Dimensions[di].Type, coords[di])
		if err != nil {
			return err
		}
		enc, err := datatype.Encode(s.Dimensions[di].Type, v)
		if err != nil {
			return err
		}
		w.PutBytes(enc)
	}
	for _, raw := range attrBytes {
		w.PutBytes(raw)
	}
	return nil
}
