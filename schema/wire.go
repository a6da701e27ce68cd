package schema

import (
	"github.com/tdb-core/tdb/bytebuf"
	"github.com/tdb-core/tdb/datatype"
	"github.com/tdb-core/tdb/xerrors"
)

// orderWireTag / orderFromWire implement the 0=none,1=row,2=col,3=hilbert
// encoding shared by tile_order and cell_order (spec §6).
func orderWireTag(o Order) uint8 {
	switch o {
	case RowMajor:
		return 1
	case ColumnMajor:
		return 2
	case Hilbert:
		return 3
	default:
		return 0
	}
}

func orderFromWire(tag uint8) (Order, error) {
	switch tag {
	case 0:
		return OrderNone, nil
	case 1:
		return RowMajor, nil
	case 2:
		return ColumnMajor, nil
	case 3:
		return Hilbert, nil
	default:
		return OrderNone, xerrors.E("orderFromWire", xerrors.Corrupted, "unknown order tag %d", tag)
	}
}

func compressionFromWire(tag uint8) (CompressionTag, error) {
	if tag > uint8(CompressionDoubleDelta) {
		return 0, xerrors.E("compressionFromWire", xerrors.Corrupted, "unknown compression tag %d", tag)
	}
	return CompressionTag(tag), nil
}

// Serialize emits the bit-exact little-endian schema file layout of
// spec §6, as produced by the original ArraySchema::serialize.
func (s *ArraySchema) Serialize() ([]byte, error) {
	const op = "ArraySchema.Serialize"
	if err := s.Validate(); err != nil {
		return nil, err
	}
	w := bytebuf.NewWriter(256)
	w.PutString(s.ArrayName)
	w.PutUint8(orderWireTag(s.TileOrder))
	w.PutUint8(orderWireTag(s.CellOrder))
	w.PutUint64(s.Capacity)
	w.PutUint32(s.ConsolidationStep)

	w.PutUint32(uint32(len(s.Attributes)))
	for _, a := range s.Attributes {
		w.PutString(a.Name)
	}

	w.PutUint32(uint32(len(s.Dimensions)))
	for _, d := range s.Dimensions {
		w.PutString(d.Name)
	}
	for _, d := range s.Dimensions {
		w.PutFloat64(d.Lo)
		w.PutFloat64(d.Hi)
	}

	if s.Dense() {
		w.PutUint32(uint32(len(s.Dimensions)))
		for _, d := range s.Dimensions {
			w.PutFloat64(d.TileExtent)
		}
	} else {
		w.PutUint32(0)
	}

	for _, a := range s.Attributes {
		tag, err := a.Type.WireTag()
		if err != nil {
			return nil, err
		}
		w.PutUint8(tag)
	}
	if len(s.Dimensions) == 0 {
		return nil, xerrors.E(op, xerrors.SchemaInvalid, "no dimensions to derive coordinate type from")
	}
	coordTag, err := s.Dimensions[0].Type.WireTag()
	if err != nil {
		return nil, err
	}
	w.PutUint8(coordTag)

	for _, a := range s.Attributes {
		w.PutUint8(uint8(a.Compressed))
	}
	w.PutUint8(uint8(s.CoordCompression))

	return w.AllBytes(), nil
}

// Deserialize parses the layout written by Serialize. A truncated or
// malformed buffer surfaces as xerrors.Corrupted.
func Deserialize(data []byte) (*ArraySchema, error) {
	const op = "schema.Deserialize"
	r := bytebuf.NewReader(data)
	s := &ArraySchema{}

	name, err := r.String()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	s.ArrayName = name

	tileTag, err := r.Uint8()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	s.TileOrder, err = orderFromWire(tileTag)
	if err != nil {
		return nil, err
	}

	cellTag, err := r.Uint8()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	s.CellOrder, err = orderFromWire(cellTag)
	if err != nil {
		return nil, err
	}

	s.Capacity, err = r.Uint64()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	s.ConsolidationStep, err = r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}

	attrNum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	attrNames := make([]string, attrNum)
	for i := range attrNames {
		attrNames[i], err = r.String()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}

	dimNum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	dimNames := make([]string, dimNum)
	for i := range dimNames {
		dimNames[i], err = r.String()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
	}

	s.Dimensions = make([]Dimension, dimNum)
	for i := range s.Dimensions {
		s.Dimensions[i].Name = dimNames[i]
		lo, err := r.Float64()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
		hi, err := r.Float64()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
		s.Dimensions[i].Lo = lo
		s.Dimensions[i].Hi = hi
	}

	extentsNum, err := r.Uint32()
	if err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	if extentsNum != 0 {
		if extentsNum != dimNum {
			return nil, xerrors.E(op, xerrors.Corrupted, "tile_extents_num %d does not match dim_num %d", extentsNum, dimNum)
		}
		for i := range s.Dimensions {
			e, err := r.Float64()
			if err != nil {
				return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
			}
			s.Dimensions[i].TileExtent = e
			s.Dimensions[i].HasExtent = true
		}
	}

	types := make([]datatype.Datatype, attrNum+1)
	for i := range types {
		tag, err := r.Uint8()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
		types[i], err = datatype.FromWireTag(tag)
		if err != nil {
			return nil, err
		}
	}
	compressions := make([]CompressionTag, attrNum+1)
	for i := range compressions {
		tag, err := r.Uint8()
		if err != nil {
			return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
		}
		compressions[i], err = compressionFromWire(tag)
		if err != nil {
			return nil, err
		}
	}

	coordType := types[attrNum]
	for i := range s.Dimensions {
		s.Dimensions[i].Type = coordType
	}
	s.CoordCompression = compressions[attrNum]

	s.Attributes = make([]Attribute, attrNum)
	for i := range s.Attributes {
		s.Attributes[i].Name = attrNames[i]
		s.Attributes[i].Type = types[i]
		s.Attributes[i].Compressed = compressions[i]
		s.Attributes[i].Var = types[i].IsVar()
	}

	if err := s.Validate(); err != nil {
		return nil, xerrors.Wrap(op, xerrors.Corrupted, err)
	}
	return s, nil
}
