package filter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func u32bytes(vals ...uint32) []byte {
	out := make([]byte, len(vals)*4)
	for i, v := range vals {
		binary.LittleEndian.PutUint32(out[i*4:], v)
	}
	return out
}

func TestPipelineRoundTrip(t *testing.T) {
	specs := []Spec{{Tag: TagGzip}, {Tag: TagChecksumSHA256}}
	p, err := Build(specs)
	require.NoError(t, err)

	data := []byte("the quick brown fox jumps over the lazy dog")
	enc, err := p.Encode(data)
	require.NoError(t, err)
	dec, err := p.Decode(enc)
	require.NoError(t, err)
	assert.Equal(t, data, dec)
}

func TestEachFilterRoundTrips(t *testing.T) {
	cases := []struct {
		spec Spec
		data []byte
	}{
		{Spec{Tag: TagNone}, []byte("abc")},
		{Spec{Tag: TagGzip}, []byte("aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb")},
		{Spec{Tag: TagZstd}, []byte("aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb")},
		{Spec{Tag: TagLZ4}, []byte("aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb")},
		{Spec{Tag: TagBzip2}, []byte("aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb")},
		{Spec{Tag: TagRLE}, []byte("aaaaaaaaaaaaaaaabbbbbbbbbbbbbbbb")},
		{Spec{Tag: TagBitWidthReduction}, u32bytes(1, 2, 3, 255)},
		{Spec{Tag: TagByteShuffle, Params: []byte{4}}, u32bytes(1, 2, 3, 4)},
		{Spec{Tag: TagBitShuffle}, u32bytes(1, 2, 3, 4)},
		{Spec{Tag: TagPositiveDelta, Params: []byte{4}}, u32bytes(1, 3, 6, 10)},
		{Spec{Tag: TagDoubleDelta, Params: []byte{4}}, u32bytes(1, 3, 6, 10)},
		{Spec{Tag: TagChecksumMD5}, []byte("hello world")},
		{Spec{Tag: TagChecksumSHA256}, []byte("hello world")},
	}
	for _, c := range cases {
		c := c
		t.Run(c.spec.Tag, func(t *testing.T) {
			f, err := newFilter(c.spec)
			require.NoError(t, err)
			enc, err := f.Encode(c.data)
			require.NoError(t, err)
			dec, err := f.Decode(enc)
			require.NoError(t, err)
			assert.Equal(t, c.data, dec)
		})
	}
}

func TestChecksumDetectsCorruption(t *testing.T) {
	f := checksumMD5Filter{}
	enc, err := f.Encode([]byte("payload"))
	require.NoError(t, err)
	enc[0] ^= 0xFF
	_, err = f.Decode(enc)
	require.Error(t, err)
}

func TestUnknownFilterTag(t *testing.T) {
	_, err := Build([]Spec{{Tag: "NOPE"}})
	require.Error(t, err)
}
