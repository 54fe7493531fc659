package watershed

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fullMask(n int) []uint8 {
	mask := make([]uint8, n)
	for i := range mask {
		mask[i] = 255
	}
	return mask
}

func TestEmptyMarkersYieldEmptyLabels(t *testing.T) {
	width, height := 8, 6
	elevation := make([]float32, width*height)
	markers := make([]int32, width*height)

	out := Segment(elevation, markers, fullMask(width*height), width, height)

	for i, v := range out {
		require.Zero(t, v, "pixel %d", i)
	}
}

func TestTwoSeedsSplitAtRidge(t *testing.T) {
	width, height := 9, 3
	elevation := make([]float32, width*height)
	markers := make([]int32, width*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x == 4 {
				elevation[y*width+x] = 0 // ridge column
			} else {
				elevation[y*width+x] = -1
			}
		}
	}
	markers[1*width+1] = 1
	markers[1*width+7] = 2

	out := Segment(elevation, markers, fullMask(width*height), width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, int32(1), out[y*width+x], "left basin at (%d,%d)", x, y)
		}
		for x := 5; x < width; x++ {
			assert.Equal(t, int32(2), out[y*width+x], "right basin at (%d,%d)", x, y)
		}
		// Ridge pixels belong to one of the basins, never background.
		assert.NotZero(t, out[y*width+4])
	}
}

func TestMaskGatesFlood(t *testing.T) {
	width, height := 6, 4
	elevation := make([]float32, width*height)
	markers := make([]int32, width*height)
	mask := fullMask(width * height)

	markers[1*width+1] = 1
	for y := 0; y < height; y++ {
		mask[y*width+4] = 0
		mask[y*width+5] = 0
	}

	out := Segment(elevation, markers, mask, width, height)

	for y := 0; y < height; y++ {
		for x := 0; x < 4; x++ {
			assert.Equal(t, int32(1), out[y*width+x])
		}
		assert.Zero(t, out[y*width+4])
		assert.Zero(t, out[y*width+5])
	}
}

func TestSeedOutsideMaskIsIgnored(t *testing.T) {
	width, height := 4, 4
	elevation := make([]float32, width*height)
	markers := make([]int32, width*height)
	mask := make([]uint8, width*height)

	markers[0] = 7 // mask is zero everywhere, the seed must not flood

	out := Segment(elevation, markers, mask, width, height)
	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestFloodIsDeterministic(t *testing.T) {
	width, height := 16, 16
	elevation := make([]float32, width*height)
	markers := make([]int32, width*height)
	for i := range elevation {
		// Repeating pattern with many exact elevation ties.
		elevation[i] = float32(i%3) * -0.5
	}
	markers[2*width+2] = 1
	markers[2*width+13] = 2
	markers[13*width+7] = 3

	first := Segment(elevation, markers, fullMask(width*height), width, height)
	second := Segment(elevation, markers, fullMask(width*height), width, height)

	assert.Equal(t, first, second)
}
