package hilbert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBijection2D(t *testing.T) {
	const bits = 4
	for x := uint64(0); x < 1<<bits; x++ {
		for y := uint64(0); y < 1<<bits; y++ {
			line, err := AxesToLine([]uint64{x, y}, bits)
			require.NoError(t, err)
			back, err := LineToAxes(line, 2, bits)
			require.NoError(t, err)
			assert.Equal(t, []uint64{x, y}, back)
		}
	}
}

func TestBijection3D(t *testing.T) {
	const bits = 3
	seen := map[uint64]bool{}
	for x := uint64(0); x < 1<<bits; x++ {
		for y := uint64(0); y < 1<<bits; y++ {
			for z := uint64(0); z < 1<<bits; z++ {
				line, err := AxesToLine([]uint64{x, y, z}, bits)
				require.NoError(t, err)
				assert.False(t, seen[line], "collision at %d", line)
				seen[line] = true
				back, err := LineToAxes(line, 3, bits)
				require.NoError(t, err)
				assert.Equal(t, []uint64{x, y, z}, back)
			}
		}
	}
}

func TestOutOfRange(t *testing.T) {
	_, err := AxesToLine([]uint64{16}, 4)
	require.Error(t, err)
}

func TestBitsDimsOverflow(t *testing.T) {
	_, err := AxesToLine(make([]uint64, 64), 1)
	require.Error(t, err)
}
