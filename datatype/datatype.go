// Package datatype defines the fixed set of cell value types the engine
// understands and the fixed-size/variable-length/null-sentinel rules
// every other component dispatches on.
package datatype

import (
	"math"

	"github.com/tdb-core/tdb/xerrors"
)

// Datatype tags the primitive kind of a dimension or attribute value. It
// stands in for the source's per-type template instantiation: every
// cross-type operation in this module switches on a Datatype value
// instead of being generated once per C++ type parameter.
type Datatype uint8

const (
	Char Datatype = iota + 1
	Int32
	Int64
	Float32
	Float64
	Uint8
	Uint16
	Uint32
	Uint64
	Int8
	Int16
	StringUTF8
)

var names = map[Datatype]string{
	Char: "char", Int32: "int32", Int64: "int64", Float32: "float32",
	Float64: "float64", Uint8: "uint8", Uint16: "uint16", Uint32: "uint32",
	Uint64: "uint64", Int8: "int8", Int16: "int16", StringUTF8: "string",
}

// wireTag matches the schema file format's `u8 type` encoding (spec §6):
// 1=char,2=i32,3=i64,4=f32,5=f64,6=u8,7=u16,...
var wireTag = map[Datatype]uint8{
	Char: 1, Int32: 2, Int64: 3, Float32: 4, Float64: 5,
	Uint8: 6, Uint16: 7, Uint32: 8, Uint64: 9, Int8: 10, Int16: 11, StringUTF8: 12,
}

var fromWireTag = func() map[uint8]Datatype {
	m := make(map[uint8]Datatype, len(wireTag))
	for d, t := range wireTag {
		m[t] = d
	}
	return m
}()

var fromName = func() map[string]Datatype {
	m := make(map[string]Datatype, len(names))
	for d, n := range names {
		m[n] = d
	}
	return m
}()

// ParseDatatype maps a CLI/config type name (e.g. "int32", "float64") to
// its Datatype, the inverse of String.
func ParseDatatype(name string) (Datatype, error) {
	d, ok := fromName[name]
	if !ok {
		return 0, xerrors.E("ParseDatatype", xerrors.SchemaInvalid, "unknown type %q", name)
	}
	return d, nil
}

func (d Datatype) String() string {
	if n, ok := names[d]; ok {
		return n
	}
	return "unknown"
}

// WireTag returns the schema file format's single-byte type code.
func (d Datatype) WireTag() (uint8, error) {
	t, ok := wireTag[d]
	if !ok {
		return 0, xerrors.E("Datatype.WireTag", xerrors.SchemaInvalid, "no wire tag for %s", d)
	}
	return t, nil
}

// FromWireTag decodes a schema file format type byte.
func FromWireTag(t uint8) (Datatype, error) {
	d, ok := fromWireTag[t]
	if !ok {
		return 0, xerrors.E("FromWireTag", xerrors.Corrupted, "unknown datatype tag %d", t)
	}
	return d, nil
}

// Var is the "variable-length" cell-size sentinel used wherever a
// component needs to distinguish a fixed cell size from a per-cell length
// prefix (spec §3's `VAR` sentinel).
const Var = ^uint64(0)

// Size returns the fixed byte size of one value of d. For StringUTF8,
// which is only ever variable-length, it returns the Var sentinel; an
// unknown datatype is a SchemaInvalid error.
func (d Datatype) Size() (uint64, error) {
	switch d {
	case Char, Uint8, Int8:
		return 1, nil
	case Uint16, Int16:
		return 2, nil
	case Int32, Uint32, Float32:
		return 4, nil
	case Int64, Uint64, Float64:
		return 8, nil
	case StringUTF8:
		return Var, nil
	default:
		return 0, xerrors.E("Datatype.Size", xerrors.SchemaInvalid, "unknown datatype %s", d)
	}
}

// IsInteger reports whether d is one of the integer kinds usable as a
// dimension type.
func (d Datatype) IsInteger() bool {
	switch d {
	case Int8, Int16, Int32, Int64, Uint8, Uint16, Uint32, Uint64:
		return true
	}
	return false
}

// IsFloat reports whether d is a floating-point kind.
func (d Datatype) IsFloat() bool {
	return d == Float32 || d == Float64
}

// IsNumeric reports whether d supports dimension-domain arithmetic.
func (d Datatype) IsNumeric() bool { return d.IsInteger() || d.IsFloat() }

// IsVar reports whether values of d are logically variable-length
// (carrying a per-cell offset-table entry rather than a fixed size).
func (d Datatype) IsVar() bool { return d == StringUTF8 }

// NullSentinel returns the dense-CSV-export null value for d, per spec §6:
// char='$', i32=INT_MAX, i64=I64_MAX, u64=U64_MAX, f32=FLT_MAX, f64=DBL_MAX.
func (d Datatype) NullSentinel() (interface{}, error) {
	switch d {
	case Char:
		return byte('$'), nil
	case Int32:
		return int32(math.MaxInt32), nil
	case Int64:
		return int64(math.MaxInt64), nil
	case Uint64:
		return uint64(math.MaxUint64), nil
	case Float32:
		return float32(math.MaxFloat32), nil
	case Float64:
		return math.MaxFloat64, nil
	default:
		return nil, xerrors.E("Datatype.NullSentinel", xerrors.Unsupported, "no null sentinel defined for %s", d)
	}
}

// ToFloat64 widens any numeric value of d to a float64 for domain/order
// arithmetic that must compare across mixed-precision dimensions.
func ToFloat64(d Datatype, v interface{}) (float64, error) {
	switch x := v.(type) {
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case uint64:
		return float64(x), nil
	case float32:
		return float64(x), nil
	case float64:
		return x, nil
	default:
		return 0, xerrors.E("ToFloat64", xerrors.SchemaInvalid, "value %v is not numeric for %s", v, d)
	}
}

// FloorToInt64 casts a float coordinate to an integer index, flooring per
// spec §4.2 ("cast each coord to integer (floor for floats)").
func FloorToInt64(d Datatype, v interface{}) (int64, error) {
	if d.IsFloat() {
		f, err := ToFloat64(d, v)
		if err != nil {
			return 0, err
		}
		return int64(math.Floor(f)), nil
	}
	f, err := ToFloat64(d, v)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}
