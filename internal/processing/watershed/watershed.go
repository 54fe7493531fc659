// Package watershed implements marker-controlled watershed over a scalar
// elevation surface, restricted to a foreground mask. Each labeled seed
// floods outward; a pixel belongs to the basin that reaches it first.
package watershed

import "container/heap"

// pixel is one flood-front entry. seq is a monotonically increasing
// insertion counter: when two fronts meet at exactly equal elevation, the
// earliest-queued pixel wins. Seeds are scanned in raster order, so the
// whole flood is deterministic for identical inputs.
type pixel struct {
	index     int
	elevation float32
	seq       int64
}

type floodHeap []pixel

func (h floodHeap) Len() int { return len(h) }
func (h floodHeap) Less(i, j int) bool {
	if h[i].elevation != h[j].elevation {
		return h[i].elevation < h[j].elevation
	}
	return h[i].seq < h[j].seq
}
func (h floodHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *floodHeap) Push(x any) { *h = append(*h, x.(pixel)) }

func (h *floodHeap) Pop() any {
	old := *h
	n := len(old)
	p := old[n-1]
	*h = old[:n-1]
	return p
}

// Segment floods every basin of the marker image over the elevation surface.
// All slices are row-major width*height grids. markers holds the seed labels
// (0 = no seed); mask gates the flood (0 = never labeled). The returned
// label image has the same geometry; pixels outside the mask stay 0.
//
// An empty marker set yields an all-zero label image.
func Segment(elevation []float32, markers []int32, mask []uint8, width, height int) []int32 {
	out := make([]int32, len(markers))
	visited := make([]bool, len(markers))

	front := make(floodHeap, 0, width+height)
	heap.Init(&front)

	var seq int64
	for i := range markers {
		if mask[i] == 0 || markers[i] <= 0 {
			continue
		}
		out[i] = markers[i]
		visited[i] = true
		heap.Push(&front, pixel{index: i, elevation: elevation[i], seq: seq})
		seq++
	}

	// 4-connected neighborhood, fixed scan order.
	for front.Len() > 0 {
		cur := heap.Pop(&front).(pixel)
		x := cur.index % width
		y := cur.index / width

		neighbors := [4]int{cur.index - width, cur.index - 1, cur.index + 1, cur.index + width}
		valid := [4]bool{y > 0, x > 0, x < width-1, y < height-1}

		for k, n := range neighbors {
			if !valid[k] || visited[n] || mask[n] == 0 {
				continue
			}
			visited[n] = true
			out[n] = out[cur.index]
			heap.Push(&front, pixel{index: n, elevation: elevation[n], seq: seq})
			seq++
		}
	}

	return out
}
