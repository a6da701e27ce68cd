package bytebuf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	w := NewWriter(0)
	w.PutUint8(7)
	w.PutUint32(12345)
	w.PutUint64(1 << 40)
	w.PutFloat64(3.25)
	w.PutString("hello")

	r := NewReader(w.AllBytes())
	u8, err := r.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(7), u8)

	u32, err := r.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(12345), u32)

	u64, err := r.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(1<<40), u64)

	f64, err := r.Float64()
	require.NoError(t, err)
	assert.Equal(t, 3.25, f64)

	s, err := r.String()
	require.NoError(t, err)
	assert.Equal(t, "hello", s)

	assert.Equal(t, 0, r.Remaining())
}

func TestUnderflow(t *testing.T) {
	r := NewReader([]byte{1, 2})
	_, err := r.Uint32()
	require.Error(t, err)
}
