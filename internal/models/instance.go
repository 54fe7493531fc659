package models

import (
	"image"
	"sort"
)

// LabelImage assigns every pixel an instance id. 0 is background; every
// connected foreground component carries a unique id >= 1. Ids are not
// guaranteed to be contiguous. The image is immutable once returned from the
// pipeline; ownership transfers to the caller.
type LabelImage struct {
	Pixels []int32
	Height int
	Width  int
}

func (l LabelImage) At(row, col int) int32 {
	return l.Pixels[row*l.Width+col]
}

// IDs returns the distinct non-zero instance ids present, in ascending order.
func (l LabelImage) IDs() []int {
	seen := make(map[int32]struct{})
	for _, v := range l.Pixels {
		if v > 0 {
			seen[v] = struct{}{}
		}
	}
	ids := make([]int, 0, len(seen))
	for v := range seen {
		ids = append(ids, int(v))
	}
	sort.Ints(ids)
	return ids
}

// BoundingBox is a tight axis-aligned box over an instance mask. Row and
// column maxima are exclusive, matching slice semantics.
type BoundingBox struct {
	RowMin int
	RowMax int
	ColMin int
	ColMax int
}

func (b BoundingBox) Rows() int { return b.RowMax - b.RowMin }
func (b BoundingBox) Cols() int { return b.ColMax - b.ColMin }

// ContainsPoint reports whether the full-image coordinate (x, y) lies inside
// the box.
func (b BoundingBox) ContainsPoint(x, y int) bool {
	return y >= b.RowMin && y < b.RowMax && x >= b.ColMin && x < b.ColMax
}

// MaskBounds computes the bounding box of the true pixels in a row-major
// boolean mask. ok is false when the mask is empty.
func MaskBounds(mask []bool, width, height int) (box BoundingBox, ok bool) {
	box = BoundingBox{RowMin: height, ColMin: width}
	for row := 0; row < height; row++ {
		for col := 0; col < width; col++ {
			if !mask[row*width+col] {
				continue
			}
			ok = true
			if row < box.RowMin {
				box.RowMin = row
			}
			if row+1 > box.RowMax {
				box.RowMax = row + 1
			}
			if col < box.ColMin {
				box.ColMin = col
			}
			if col+1 > box.ColMax {
				box.ColMax = col + 1
			}
		}
	}
	if !ok {
		return BoundingBox{}, false
	}
	return box, true
}

// InstanceInfo is the per-instance record produced by attribute extraction.
// Type and Probs are populated only when classification is requested; HasType
// distinguishes "class 0" from "no classification ran". Records are never
// mutated after creation.
type InstanceInfo struct {
	BBox     BoundingBox
	Centroid [2]float64 // x, then y, in full-image coordinates
	Contour  []image.Point
	HasType  bool
	Type     int
	Probs    []float64
}
