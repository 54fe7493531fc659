package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsBadShapes(t *testing.T) {
	tests := []struct {
		name     string
		pred     PredictionMap
		numTypes int
	}{
		{
			name:     "zero dimensions",
			pred:     PredictionMap{Height: 0, Width: 10, Channels: 3},
			numTypes: 0,
		},
		{
			name:     "data length mismatch",
			pred:     PredictionMap{Data: make([]float32, 5), Height: 2, Width: 2, Channels: 3},
			numTypes: 0,
		},
		{
			name:     "too few channels for types",
			pred:     PredictionMap{Data: make([]float32, 2*2*4), Height: 2, Width: 2, Channels: 4},
			numTypes: 3,
		},
		{
			name:     "not three channels without types",
			pred:     PredictionMap{Data: make([]float32, 2*2*5), Height: 2, Width: 2, Channels: 5},
			numTypes: 0,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.pred.Validate(tc.numTypes)
			var shapeErr *InvalidShapeError
			require.ErrorAs(t, err, &shapeErr)
		})
	}
}

func TestValidateAcceptsMatchingShape(t *testing.T) {
	pred := PredictionMap{Data: make([]float32, 4*5*6), Height: 4, Width: 5, Channels: 6}
	assert.NoError(t, pred.Validate(3))
}

func TestClassIndexArgmaxTieGoesToLowestClass(t *testing.T) {
	pred := PredictionMap{Data: make([]float32, 1*2*5), Height: 1, Width: 2, Channels: 5}
	// Pixel 0: classes {0.2, 0.9, 0.9} -> class 1 wins the tie.
	pred.Data[0], pred.Data[1], pred.Data[2] = 0.2, 0.9, 0.9
	// Pixel 1: classes {0.5, 0.1, 0.7} -> class 2.
	pred.Data[5], pred.Data[6], pred.Data[7] = 0.5, 0.1, 0.7

	idx := pred.ClassIndex(3)
	assert.Equal(t, []int32{1, 2}, idx)
}

func TestMaskBounds(t *testing.T) {
	width, height := 8, 6
	mask := make([]bool, width*height)
	mask[2*width+3] = true
	mask[4*width+5] = true

	box, ok := MaskBounds(mask, width, height)
	require.True(t, ok)
	assert.Equal(t, BoundingBox{RowMin: 2, RowMax: 5, ColMin: 3, ColMax: 6}, box)
	assert.Equal(t, 3, box.Rows())
	assert.Equal(t, 3, box.Cols())
}

func TestMaskBoundsEmpty(t *testing.T) {
	_, ok := MaskBounds(make([]bool, 12), 4, 3)
	assert.False(t, ok)
}

func TestLabelImageIDs(t *testing.T) {
	labels := LabelImage{
		Pixels: []int32{0, 5, 0, 2, 2, 5, 0, 0, 9},
		Height: 3,
		Width:  3,
	}
	assert.Equal(t, []int{2, 5, 9}, labels.IDs())
}
