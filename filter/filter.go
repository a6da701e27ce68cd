// Package filter implements the ordered chain of reversible byte-buffer
// transforms attached to each attribute (spec §4.4): compression,
// shuffling, delta-style transforms, and checksums.
package filter

import (
	"github.com/tdb-core/tdb/xerrors"
)

// Filter is one stage of a pipeline: an encode/decode pair over an
// opaque byte buffer. Per spec §1, filter internals are treated as
// opaque (encode, decode) pairs — callers never inspect the format a
// filter produces, only that decode(encode(x)) == x.
type Filter interface {
	Tag() string
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// Pipeline is an ordered chain of filters, applied forward on write and
// in reverse on read (spec §4.4).
type Pipeline struct {
	Filters []Filter
}

// Encode applies every filter in forward order.
func (p *Pipeline) Encode(data []byte) ([]byte, error) {
	const op = "Pipeline.Encode"
	for _, f := range p.Filters {
		out, err := f.Encode(data)
		if err != nil {
			return nil, xerrors.Wrap(op+":"+f.Tag(), xerrors.Unsupported, err)
		}
		data = out
	}
	return data, nil
}

// Decode applies every filter in reverse order.
func (p *Pipeline) Decode(data []byte) ([]byte, error) {
	const op = "Pipeline.Decode"
	for i := len(p.Filters) - 1; i >= 0; i-- {
		f := p.Filters[i]
		out, err := f.Decode(data)
		if err != nil {
			return nil, xerrors.Wrap(op+":"+f.Tag(), xerrors.Corrupted, err)
		}
		data = out
	}
	return data, nil
}

// Spec describes one pipeline stage as it appears in an attribute
// definition: a tag plus opaque parameter bytes (spec §3).
type Spec struct {
	Tag    string
	Params []byte
}

// Build constructs a concrete Filter for each Spec in order.
func Build(specs []Spec) (*Pipeline, error) {
	p := &Pipeline{Filters: make([]Filter, 0, len(specs))}
	for _, s := range specs {
		f, err := newFilter(s)
		if err != nil {
			return nil, err
		}
		p.Filters = append(p.Filters, f)
	}
	return p, nil
}

func newFilter(s Spec) (Filter, error) {
	const op = "filter.newFilter"
	switch s.Tag {
	case TagNone:
		return noneFilter{}, nil
	case TagGzip:
		return newGzipFilter(s.Params), nil
	case TagZstd:
		return newZstdFilter(), nil
	case TagLZ4:
		return lz4Filter{}, nil
	case TagBzip2:
		return bzip2Filter{}, nil
	case TagRLE:
		return rleFilter{}, nil
	case TagBitWidthReduction:
		return bitWidthReductionFilter{}, nil
	case TagBitShuffle:
		return bitShuffleFilter{}, nil
	case TagByteShuffle:
		return byteShuffleFilter{width: paramWidth(s.Params)}, nil
	case TagPositiveDelta:
		return positiveDeltaFilter{width: paramWidth(s.Params)}, nil
	case TagDoubleDelta:
		return doubleDeltaFilter{width: paramWidth(s.Params)}, nil
	case TagChecksumMD5:
		return checksumMD5Filter{}, nil
	case TagChecksumSHA256:
		return checksumSHA256Filter{}, nil
	default:
		return nil, xerrors.E(op, xerrors.Unsupported, "unknown filter tag %q", s.Tag)
	}
}

func paramWidth(params []byte) int {
	if len(params) == 0 {
		return 4
	}
	return int(params[0])
}

// Filter tags, per spec §4.4.
const (
	TagNone              = "NONE"
	TagGzip              = "GZIP"
	TagZstd              = "ZSTD"
	TagLZ4               = "LZ4"
	TagBzip2             = "BZIP2"
	TagRLE               = "RLE"
	TagBitWidthReduction = "BIT_WIDTH_REDUCTION"
	TagBitShuffle        = "BIT_SHUFFLE"
	TagByteShuffle       = "BYTESHUFFLE"
	TagPositiveDelta     = "POSITIVE_DELTA"
	TagDoubleDelta       = "DOUBLE_DELTA"
	TagChecksumMD5       = "CHECKSUM_MD5"
	TagChecksumSHA256    = "CHECKSUM_SHA256"
)

type noneFilter struct{}

func (noneFilter) Tag() string                        { return TagNone }
func (noneFilter) Encode(d []byte) ([]byte, error)     { return d, nil }
func (noneFilter) Decode(d []byte) ([]byte, error)     { return d, nil }
