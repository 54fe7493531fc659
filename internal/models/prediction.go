package models

// PredictionMap is the dense network output for one image tile, stored as a
// flat float32 tensor in row-major HWC layout. When NumTypes classification
// channels are present they occupy channels [0, NumTypes) and the three
// instance channels [NumTypes, NumTypes+3) are foreground probability,
// horizontal gradient and vertical gradient, in that order.
//
// The tensor is read-only input; no stage of the pipeline mutates it.
type PredictionMap struct {
	Data     []float32
	Height   int
	Width    int
	Channels int
}

// At returns the value at (row, col, channel). Callers are expected to stay
// in bounds; this is a hot-path accessor with no checks.
func (p PredictionMap) At(row, col, channel int) float32 {
	return p.Data[(row*p.Width+col)*p.Channels+channel]
}

// Validate checks that the tensor is self-consistent and carries enough
// channels for the requested number of classification types.
func (p PredictionMap) Validate(numTypes int) error {
	if p.Height <= 0 || p.Width <= 0 || p.Channels <= 0 {
		return &InvalidShapeError{
			Height:   p.Height,
			Width:    p.Width,
			Channels: p.Channels,
			NumTypes: numTypes,
			Reason:   "dimensions must be positive",
		}
	}
	if len(p.Data) != p.Height*p.Width*p.Channels {
		return &InvalidShapeError{
			Height:   p.Height,
			Width:    p.Width,
			Channels: p.Channels,
			NumTypes: numTypes,
			Reason:   "data length does not match dimensions",
		}
	}
	if numTypes > 0 && p.Channels < numTypes+3 {
		return &InvalidShapeError{
			Height:   p.Height,
			Width:    p.Width,
			Channels: p.Channels,
			NumTypes: numTypes,
			Reason:   "fewer channels than nr_types + 3",
		}
	}
	if numTypes == 0 && p.Channels != 3 {
		return &InvalidShapeError{
			Height:   p.Height,
			Width:    p.Width,
			Channels: p.Channels,
			NumTypes: numTypes,
			Reason:   "expected exactly 3 instance channels",
		}
	}
	return nil
}

// ClassIndex collapses the classification channels [0, numTypes) into a
// per-pixel argmax class id. Ties go to the lowest class id.
func (p PredictionMap) ClassIndex(numTypes int) []int32 {
	out := make([]int32, p.Height*p.Width)
	for row := 0; row < p.Height; row++ {
		for col := 0; col < p.Width; col++ {
			best := int32(0)
			bestScore := p.At(row, col, 0)
			for c := 1; c < numTypes; c++ {
				if score := p.At(row, col, c); score > bestScore {
					bestScore = score
					best = int32(c)
				}
			}
			out[row*p.Width+col] = best
		}
	}
	return out
}
