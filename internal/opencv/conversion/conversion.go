// Package conversion bridges flat Go tensors and GoCV Mats. The pipeline
// keeps its public surface free of gocv types; everything crossing that
// boundary goes through here.
package conversion

import (
	"fmt"

	"gocv.io/x/gocv"

	"hovernet-postproc/internal/models"
)

// ValidateMat checks a Mat before it enters an OpenCV operation.
func ValidateMat(mat gocv.Mat, operation string) error {
	if mat.Empty() {
		return fmt.Errorf("%s: Mat is empty", operation)
	}
	if mat.Rows() <= 0 || mat.Cols() <= 0 {
		return fmt.Errorf("%s: Mat has invalid dimensions %dx%d", operation, mat.Cols(), mat.Rows())
	}
	return nil
}

// ChannelMat extracts one channel of the prediction tensor into a CV32F Mat.
func ChannelMat(pred models.PredictionMap, channel int) (gocv.Mat, error) {
	if channel < 0 || channel >= pred.Channels {
		return gocv.Mat{}, fmt.Errorf("channel %d out of range for %d-channel prediction", channel, pred.Channels)
	}

	mat := gocv.NewMatWithSize(pred.Height, pred.Width, gocv.MatTypeCV32F)
	for row := 0; row < pred.Height; row++ {
		for col := 0; col < pred.Width; col++ {
			mat.SetFloatAt(row, col, pred.At(row, col, channel))
		}
	}
	return mat, nil
}

// MatToFloat32 copies a CV32F single-channel Mat into a row-major slice.
func MatToFloat32(mat gocv.Mat) []float32 {
	rows, cols := mat.Rows(), mat.Cols()
	out := make([]float32, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out[row*cols+col] = mat.GetFloatAt(row, col)
		}
	}
	return out
}

// MatToInt32 copies a CV32S single-channel Mat into a row-major slice.
func MatToInt32(mat gocv.Mat) []int32 {
	rows, cols := mat.Rows(), mat.Cols()
	out := make([]int32, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out[row*cols+col] = mat.GetIntAt(row, col)
		}
	}
	return out
}

// MatToUint8 copies a CV8U single-channel Mat into a row-major slice.
func MatToUint8(mat gocv.Mat) []uint8 {
	rows, cols := mat.Rows(), mat.Cols()
	out := make([]uint8, rows*cols)
	for row := 0; row < rows; row++ {
		for col := 0; col < cols; col++ {
			out[row*cols+col] = mat.GetUCharAt(row, col)
		}
	}
	return out
}

// LabelImageToMat renders a label image as a 16-bit single-channel Mat,
// suitable for lossless PNG export. Ids above 65535 do not occur at the tile
// sizes this pipeline handles.
func LabelImageToMat(labels models.LabelImage) gocv.Mat {
	mat := gocv.NewMatWithSize(labels.Height, labels.Width, gocv.MatTypeCV16UC1)
	for row := 0; row < labels.Height; row++ {
		for col := 0; col < labels.Width; col++ {
			mat.SetShortAt(row, col, int16(labels.At(row, col)))
		}
	}
	return mat
}
