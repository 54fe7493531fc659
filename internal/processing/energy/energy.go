// Package energy turns the three-channel instance prediction (foreground
// probability plus the horizontal/vertical gradient field) into the inputs
// of marker-controlled watershed: a foreground mask, an elevation surface
// whose basins sit at nucleus centers, and a labeled seed image.
package energy

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"hovernet-postproc/internal/logger"
	"hovernet-postproc/internal/opencv/conversion"
)

const (
	// Fixed stage constants. These are part of the behavioral contract, not
	// tunables.
	probThreshold     = 0.5
	boundaryThreshold = 0.4
	minObjectSize     = 10
	sobelKernelSize   = 21
	openKernelSize    = 5
)

// Builder derives the watershed inputs from one tile's prediction channels.
type Builder struct {
	log              logger.Logger
	suppressFlatWarn bool
}

func NewBuilder(log logger.Logger, suppressFlatChannelWarnings bool) *Builder {
	if log == nil {
		log = logger.NewNop()
	}
	return &Builder{log: log, suppressFlatWarn: suppressFlatChannelWarnings}
}

// Result carries the three stage outputs. The caller owns all Mats and must
// Close them.
type Result struct {
	Mask      gocv.Mat // CV8U, 0 or 255
	Elevation gocv.Mat // CV32F, negated so nucleus interiors are minima
	Markers   gocv.Mat // CV32S connected-component labels, 0 = no seed
}

func (r *Result) Close() {
	r.Mask.Close()
	r.Elevation.Close()
	r.Markers.Close()
}

// Build runs the full stage: foreground thresholding with small-object
// removal, gradient-derivative ridge construction, elevation surface
// assembly and seed labeling. prob, hGrad and vGrad must be CV32F Mats of
// identical size.
func (b *Builder) Build(prob, hGrad, vGrad gocv.Mat) (*Result, error) {
	for _, in := range []struct {
		mat  gocv.Mat
		name string
	}{{prob, "probability"}, {hGrad, "horizontal gradient"}, {vGrad, "vertical gradient"}} {
		if err := conversion.ValidateMat(in.mat, in.name+" channel"); err != nil {
			return nil, err
		}
	}
	rows, cols := prob.Rows(), prob.Cols()
	if hGrad.Rows() != rows || hGrad.Cols() != cols || vGrad.Rows() != rows || vGrad.Cols() != cols {
		return nil, fmt.Errorf("channel size mismatch: %dx%d vs %dx%d", cols, rows, hGrad.Cols(), hGrad.Rows())
	}

	mask := b.foregroundMask(prob)

	maskF := gocv.NewMat()
	mask.ConvertTo(&maskF, gocv.MatTypeCV32F)
	maskF.MultiplyFloat(1.0 / 255.0)
	defer maskF.Close()

	overall := b.boundaryRidge(hGrad, vGrad, maskF)
	defer overall.Close()

	elevation := b.elevationSurface(overall, maskF)
	markers := b.markerLabels(overall, mask)

	return &Result{Mask: mask, Elevation: elevation, Markers: markers}, nil
}

// foregroundMask thresholds the probability channel at 0.5 and drops
// connected components below the minimum size. Returns an 8U 0/255 mask.
func (b *Builder) foregroundMask(prob gocv.Mat) gocv.Mat {
	rows, cols := prob.Rows(), prob.Cols()

	bin := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if prob.GetFloatAt(row, col) >= probThreshold {
				bin.SetUCharAt(row, col, 255)
			} else {
				bin.SetUCharAt(row, col, 0)
			}
		}
	}
	defer bin.Close()

	return removeSmallObjectsMask(bin)
}

// boundaryRidge builds the combined inverted-derivative map. High values
// mark likely boundaries between touching nuclei; background is forced to
// zero.
func (b *Builder) boundaryRidge(hGrad, vGrad, maskF gocv.Mat) gocv.Mat {
	hNorm := b.normalizeUnit(hGrad, "horizontal gradient")
	defer hNorm.Close()
	vNorm := b.normalizeUnit(vGrad, "vertical gradient")
	defer vNorm.Close()

	sobelH := b.invertedDerivative(hNorm, 1, 0, "horizontal")
	defer sobelH.Close()
	sobelV := b.invertedDerivative(vNorm, 0, 1, "vertical")
	defer sobelV.Close()

	overall := gocv.NewMat()
	gocv.Max(sobelH, sobelV, &overall)

	// Subtract (1 - mask) so background lands below zero, then clip.
	invMask := maskF.Clone()
	defer invMask.Close()
	invMask.MultiplyFloat(-1)
	invMask.AddFloat(1)
	gocv.Subtract(overall, invMask, &overall)
	gocv.Threshold(overall, &overall, 0, 0, gocv.ThresholdToZero)

	return overall
}

// elevationSurface is the negated, blurred ridge interior: nuclei become
// basins for the flood.
func (b *Builder) elevationSurface(overall, maskF gocv.Mat) gocv.Mat {
	interior := overall.Clone()
	defer interior.Close()
	interior.MultiplyFloat(-1)
	interior.AddFloat(1)
	gocv.Multiply(interior, maskF, &interior)

	elevation := gocv.NewMat()
	gocv.GaussianBlur(interior, &elevation, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
	elevation.MultiplyFloat(-1)
	return elevation
}

// markerLabels removes ridge pixels from the foreground mask, cleans the
// remainder and labels each surviving fragment as one watershed seed.
func (b *Builder) markerLabels(overall, mask gocv.Mat) gocv.Mat {
	rows, cols := overall.Rows(), overall.Cols()

	boundary := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	defer boundary.Close()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			if overall.GetFloatAt(row, col) >= boundaryThreshold {
				boundary.SetUCharAt(row, col, 255)
			} else {
				boundary.SetUCharAt(row, col, 0)
			}
		}
	}

	// Saturating 8U subtraction clips at zero.
	marker := gocv.NewMat()
	defer marker.Close()
	gocv.Subtract(mask, boundary, &marker)

	filled := fillHoles(marker)
	defer filled.Close()

	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Pt(openKernelSize, openKernelSize))
	defer kernel.Close()
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(filled, &opened, gocv.MorphOpen, kernel)

	return removeSmallObjectsLabels(opened)
}

// normalizeUnit min-max normalizes a channel into [0, 1]. A flat channel has
// no dynamic range; it is replaced by zeros and reported unless the caller
// suppressed flat-channel warnings.
func (b *Builder) normalizeUnit(src gocv.Mat, name string) gocv.Mat {
	minVal, maxVal, _, _ := gocv.MinMaxLoc(src)
	if maxVal == minVal {
		b.warnFlat(name)
		return gocv.Zeros(src.Rows(), src.Cols(), gocv.MatTypeCV32F)
	}
	dst := gocv.NewMat()
	gocv.Normalize(src, &dst, 0, 1, gocv.NormMinMax)
	return dst
}

// invertedDerivative applies the wide Sobel derivative along one axis,
// normalizes into [0, 1] and inverts, so strong gradient transitions become
// high "boundary evidence". A flat derivative field carries no boundary
// evidence at all and maps to zeros rather than to an all-boundary response.
func (b *Builder) invertedDerivative(src gocv.Mat, dx, dy int, axis string) gocv.Mat {
	sobel := gocv.NewMat()
	defer sobel.Close()
	gocv.Sobel(src, &sobel, gocv.MatTypeCV64F, dx, dy, sobelKernelSize, 1, 0, gocv.BorderDefault)

	minVal, maxVal, _, _ := gocv.MinMaxLoc(sobel)
	if maxVal == minVal {
		b.warnFlat(axis + " derivative")
		return gocv.Zeros(src.Rows(), src.Cols(), gocv.MatTypeCV32F)
	}

	norm := gocv.NewMat()
	defer norm.Close()
	gocv.Normalize(sobel, &norm, 0, 1, gocv.NormMinMax)

	out := gocv.NewMat()
	norm.ConvertTo(&out, gocv.MatTypeCV32F)
	out.MultiplyFloat(-1)
	out.AddFloat(1)
	return out
}

func (b *Builder) warnFlat(name string) {
	if b.suppressFlatWarn {
		return
	}
	b.log.Warning("energy", "flat channel has no dynamic range, substituting zeros", map[string]interface{}{
		"channel": name,
	})
}

// removeSmallObjectsMask labels the binary input, drops components below
// minObjectSize and collapses the survivors back into an 8U 0/255 mask.
func removeSmallObjectsMask(bin gocv.Mat) gocv.Mat {
	labels, areas := componentAreas(bin)
	defer labels.Close()

	rows, cols := bin.Rows(), bin.Cols()
	out := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8UC1)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			lbl := labels.GetIntAt(row, col)
			if lbl > 0 && areas[lbl] >= minObjectSize {
				out.SetUCharAt(row, col, 255)
			} else {
				out.SetUCharAt(row, col, 0)
			}
		}
	}
	return out
}

// removeSmallObjectsLabels labels the binary input and zeroes components
// below minObjectSize, keeping the surviving component ids as-is. Gaps in
// the id sequence are fine; the watershed floods whatever seeds exist.
func removeSmallObjectsLabels(bin gocv.Mat) gocv.Mat {
	labels, areas := componentAreas(bin)

	rows, cols := bin.Rows(), bin.Cols()
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			lbl := labels.GetIntAt(row, col)
			if lbl > 0 && areas[lbl] < minObjectSize {
				labels.SetIntAt(row, col, 0)
			}
		}
	}
	return labels
}

// componentAreas runs connected-component labeling and returns the label Mat
// (CV32S) together with the pixel count per label.
func componentAreas(bin gocv.Mat) (gocv.Mat, []int32) {
	labels := gocv.NewMat()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	count := gocv.ConnectedComponentsWithStats(bin, &labels, &stats, &centroids)

	// Column 4 of the stats Mat is CC_STAT_AREA.
	areas := make([]int32, count)
	for i := 0; i < count; i++ {
		areas[i] = stats.GetIntAt(i, 4)
	}
	return labels, areas
}

// fillHoles closes interior holes of every connected region by redrawing the
// outer contours filled.
func fillHoles(bin gocv.Mat) gocv.Mat {
	contours := gocv.FindContours(bin, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	filled := gocv.Zeros(bin.Rows(), bin.Cols(), gocv.MatTypeCV8UC1)
	if contours.Size() > 0 {
		gocv.DrawContours(&filled, contours, -1, color.RGBA{R: 255, G: 255, B: 255, A: 255}, -1)
	}
	return filled
}
