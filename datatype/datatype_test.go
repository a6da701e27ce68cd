package datatype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tdb-core/tdb/xerrors"
)

func TestSize(t *testing.T) {
	sz, err := Int64.Size()
	require.NoError(t, err)
	assert.Equal(t, uint64(8), sz)

	sz, err = StringUTF8.Size()
	require.NoError(t, err)
	assert.Equal(t, Var, sz)
}

func TestWireTagRoundTrip(t *testing.T) {
	for d := range wireTag {
		tag, err := d.WireTag()
		require.NoError(t, err)
		got, err := FromWireTag(tag)
		require.NoError(t, err)
		assert.Equal(t, d, got)
	}
}

func TestFromWireTagUnknown(t *testing.T) {
	_, err := FromWireTag(250)
	assert.True(t, xerrors.Is(err, xerrors.Corrupted))
}

func TestNullSentinel(t *testing.T) {
	v, err := Int32.NullSentinel()
	require.NoError(t, err)
	assert.Equal(t, int32(2147483647), v)

	_, err = Uint8.NullSentinel()
	assert.True(t, xerrors.Is(err, xerrors.Unsupported))
}

func TestFloorToInt64(t *testing.T) {
	v, err := FloorToInt64(Float64, 3.9)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = FloorToInt64(Float64, -0.1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), v)
}
