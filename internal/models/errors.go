package models

import "fmt"

// InvalidShapeError reports a prediction tensor whose dimensions cannot
// satisfy the requested decoding. The pipeline fails fast on it; no partial
// result is produced.
type InvalidShapeError struct {
	Height   int
	Width    int
	Channels int
	NumTypes int
	Reason   string
}

func (e *InvalidShapeError) Error() string {
	return fmt.Sprintf("invalid prediction shape %dx%dx%d for nr_types=%d: %s",
		e.Height, e.Width, e.Channels, e.NumTypes, e.Reason)
}

// DegenerateInstanceError reports an instance whose cropped mask has zero
// area, which makes its centroid undefined. Upstream min-size filtering
// should make this impossible, so it is surfaced loudly instead of letting
// NaN coordinates escape.
type DegenerateInstanceError struct {
	ID int
}

func (e *DegenerateInstanceError) Error() string {
	return fmt.Sprintf("instance %d has zero-area mask, centroid is undefined", e.ID)
}
