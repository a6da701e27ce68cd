package datatype

import (
	"encoding/binary"
	"math"
	"strconv"

	"github.com/tdb-core/tdb/xerrors"
)

// Decode interprets raw as one little-endian-encoded value of d and
// widens it to its natural Go type, generalizing tile.Tile.Coord's
// float64 decode (which only handles coordinate buffers) to every
// Datatype the query processor needs to format as text or copy into a
// caller's buffer.
func Decode(d Datatype, raw []byte) (interface{}, error) {
	const op = "datatype.Decode"
	switch d {
	case Char, Uint8:
		if err := needLen(op, d, raw, 1); err != nil {
			return nil, err
		}
		return raw[0], nil
	case Int8:
		if err := needLen(op, d, raw, 1); err != nil {
			return nil, err
		}
		return int8(raw[0]), nil
	case Uint16:
		if err := needLen(op, d, raw, 2); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint16(raw), nil
	case Int16:
		if err := needLen(op, d, raw, 2); err != nil {
			return nil, err
		}
		return int16(binary.LittleEndian.Uint16(raw)), nil
	case Int32:
		if err := needLen(op, d, raw, 4); err != nil {
			return nil, err
		}
		return int32(binary.LittleEndian.Uint32(raw)), nil
	case Uint32:
		if err := needLen(op, d, raw, 4); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint32(raw), nil
	case Int64:
		if err := needLen(op, d, raw, 8); err != nil {
			return nil, err
		}
		return int64(binary.LittleEndian.Uint64(raw)), nil
	case Uint64:
		if err := needLen(op, d, raw, 8); err != nil {
			return nil, err
		}
		return binary.LittleEndian.Uint64(raw), nil
	case Float32:
		if err := needLen(op, d, raw, 4); err != nil {
			return nil, err
		}
		return math.Float32frombits(binary.LittleEndian.Uint32(raw)), nil
	case Float64:
		if err := needLen(op, d, raw, 8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.LittleEndian.Uint64(raw)), nil
	case StringUTF8:
		return string(raw), nil
	default:
		return nil, xerrors.E(op, xerrors.Unsupported, "cannot decode %s", d)
	}
}

func needLen(op string, d Datatype, raw []byte, want int) error {
	if len(raw) != want {
		return xerrors.E(op, xerrors.Corrupted, "%s value needs %d bytes, got %d", d, want, len(raw))
	}
	return nil
}

// Encode is Decode's inverse: renders v (of the native Go type matching
// d) into its little-endian byte encoding.
func Encode(d Datatype, v interface{}) ([]byte, error) {
	const op = "datatype.Encode"
	switch d {
	case Char, Uint8:
		b, ok := v.(byte)
		if !ok {
			return nil, badValue(op, d, v)
		}
		return []byte{b}, nil
	case Int8:
		n, ok := v.(int8)
		if !ok {
			return nil, badValue(op, d, v)
		}
		return []byte{byte(n)}, nil
	case Uint16:
		n, ok := v.(uint16)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, n)
		return buf, nil
	case Int16:
		n, ok := v.(int16)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 2)
		binary.LittleEndian.PutUint16(buf, uint16(n))
		return buf, nil
	case Int32:
		n, ok := v.(int32)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, uint32(n))
		return buf, nil
	case Uint32:
		n, ok := v.(uint32)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, n)
		return buf, nil
	case Int64:
		n, ok := v.(int64)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, uint64(n))
		return buf, nil
	case Uint64:
		n, ok := v.(uint64)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, n)
		return buf, nil
	case Float32:
		n, ok := v.(float32)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 4)
		binary.LittleEndian.PutUint32(buf, math.Float32bits(n))
		return buf, nil
	case Float64:
		n, ok := v.(float64)
		if !ok {
			return nil, badValue(op, d, v)
		}
		buf := make([]byte, 8)
		binary.LittleEndian.PutUint64(buf, math.Float64bits(n))
		return buf, nil
	case StringUTF8:
		s, ok := v.(string)
		if !ok {
			return nil, badValue(op, d, v)
		}
		return []byte(s), nil
	default:
		return nil, xerrors.E(op, xerrors.Unsupported, "cannot encode %s", d)
	}
}

func badValue(op string, d Datatype, v interface{}) error {
	return xerrors.E(op, xerrors.SchemaInvalid, "value %v (%T) does not match datatype %s", v, v, d)
}

// CoerceFromFloat64 narrows a dimension coordinate (always carried as
// float64 in this package's in-memory representation, see
// tile.Tile.AppendCoords) back to d's native Go type, so it can be
// passed to Encode when serializing coordinates in a dimension's own
// wire type.
func CoerceFromFloat64(d Datatype, v float64) (interface{}, error) {
	switch d {
	case Char, Uint8:
		return byte(v), nil
	case Int8:
		return int8(v), nil
	case Uint16:
		return uint16(v), nil
	case Int16:
		return int16(v), nil
	case Int32:
		return int32(v), nil
	case Uint32:
		return uint32(v), nil
	case Int64:
		return int64(v), nil
	case Uint64:
		return uint64(v), nil
	case Float32:
		return float32(v), nil
	case Float64:
		return v, nil
	default:
		return nil, xerrors.E("datatype.CoerceFromFloat64", xerrors.Unsupported, "%s is not a coordinate type", d)
	}
}

// FormatText renders v as CSV cell text, honoring precision for
// floating-point kinds (spec §9's next_line/write_record redesign: a
// CsvWriter configured with precision rather than << operator
// overloading).
func FormatText(d Datatype, v interface{}, precision int) (string, error) {
	const op = "datatype.FormatText"
	switch d {
	case Char, Uint8:
		b, ok := v.(byte)
		if !ok {
			return "", badValue(op, d, v)
		}
		return string(rune(b)), nil
	case Int8:
		n, ok := v.(int8)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case Int16:
		n, ok := v.(int16)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case Int32:
		n, ok := v.(int32)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatInt(int64(n), 10), nil
	case Int64:
		n, ok := v.(int64)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatInt(n, 10), nil
	case Uint16:
		n, ok := v.(uint16)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatUint(uint64(n), 10), nil
	case Uint32:
		n, ok := v.(uint32)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatUint(uint64(n), 10), nil
	case Uint64:
		n, ok := v.(uint64)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatUint(n, 10), nil
	case Float32:
		n, ok := v.(float32)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatFloat(float64(n), 'f', precision, 32), nil
	case Float64:
		n, ok := v.(float64)
		if !ok {
			return "", badValue(op, d, v)
		}
		return strconv.FormatFloat(n, 'f', precision, 64), nil
	case StringUTF8:
		s, ok := v.(string)
		if !ok {
			return "", badValue(op, d, v)
		}
		return s, nil
	default:
		return "", xerrors.E(op, xerrors.Unsupported, "cannot format %s", d)
	}
}
