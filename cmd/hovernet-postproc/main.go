package main

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/akamensky/argparse"
	"github.com/rs/zerolog"
	"github.com/sbinet/npyio"
	"gocv.io/x/gocv"

	"hovernet-postproc/internal/logger"
	"hovernet-postproc/internal/models"
	"hovernet-postproc/internal/opencv/conversion"
	"hovernet-postproc/internal/pipeline"
)

func main() {
	parser := argparse.NewParser("hovernet-postproc", "Convert a HoVer-Net prediction map into labeled nucleus instances")
	input := parser.String("i", "input", &argparse.Options{Help: "Prediction map (.npy, or raw little-endian float32 with explicit dims)", Required: true})
	outputLabel := parser.String("o", "output-label", &argparse.Options{Help: "Write the instance label image as 16-bit PNG", Default: ""})
	outputJSON := parser.String("j", "output-json", &argparse.Options{Help: "Write the per-instance info map as JSON", Default: ""})
	numTypes := parser.Int("t", "types", &argparse.Options{Help: "Number of classification channels leading the tensor (0 = none)", Default: 0})
	withProbs := parser.Flag("p", "probs", &argparse.Options{Help: "Include per-type probability vectors", Default: false})
	workers := parser.Int("w", "workers", &argparse.Options{Help: "Worker count for attribute extraction", Default: 1})
	height := parser.Int("", "height", &argparse.Options{Help: "Tensor height (raw input only)", Default: 0})
	width := parser.Int("", "width", &argparse.Options{Help: "Tensor width (raw input only)", Default: 0})
	channels := parser.Int("", "channels", &argparse.Options{Help: "Tensor channel count (raw input only)", Default: 0})
	quiet := parser.Flag("q", "quiet", &argparse.Options{Help: "Only log errors", Default: false})

	if err := parser.Parse(os.Args); err != nil {
		fmt.Fprint(os.Stderr, parser.Usage(err))
		os.Exit(1)
	}

	level := zerolog.InfoLevel
	if *quiet {
		level = zerolog.ErrorLevel
	}
	log := logger.NewConsoleLogger(level)

	pred, err := loadPrediction(*input, *height, *width, *channels)
	if err != nil {
		log.Error("main", err, map[string]interface{}{"input": *input})
		os.Exit(1)
	}

	start := time.Now()
	labels, info, err := pipeline.Process(pred, pipeline.Options{
		NumTypes:         *numTypes,
		WithInstanceInfo: *outputJSON != "",
		WithTypeProbs:    *withProbs,
		Workers:          *workers,
		Logger:           log,
	})
	if err != nil {
		log.Error("main", err, nil)
		os.Exit(1)
	}

	log.Info("main", "post-processing finished", map[string]interface{}{
		"instances":  len(labels.IDs()),
		"elapsed_ms": time.Since(start).Milliseconds(),
	})

	if *outputLabel != "" {
		if err := writeLabelPNG(*outputLabel, labels); err != nil {
			log.Error("main", err, map[string]interface{}{"path": *outputLabel})
			os.Exit(1)
		}
	}
	if *outputJSON != "" {
		if err := writeInfoJSON(*outputJSON, info); err != nil {
			log.Error("main", err, map[string]interface{}{"path": *outputJSON})
			os.Exit(1)
		}
	}
}

// loadPrediction reads a .npy tensor, or a raw float32 dump when explicit
// dims are given.
func loadPrediction(path string, height, width, channels int) (models.PredictionMap, error) {
	if filepath.Ext(path) == ".npy" {
		return loadNpy(path)
	}
	if height <= 0 || width <= 0 || channels <= 0 {
		return models.PredictionMap{}, fmt.Errorf("raw input %s needs --height, --width and --channels", path)
	}
	return loadRaw(path, height, width, channels)
}

func loadNpy(path string) (models.PredictionMap, error) {
	f, err := os.Open(path)
	if err != nil {
		return models.PredictionMap{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	rd, err := npyio.NewReader(f)
	if err != nil {
		return models.PredictionMap{}, fmt.Errorf("reading npy header of %s: %w", path, err)
	}

	if rd.Header.Descr.Fortran {
		return models.PredictionMap{}, fmt.Errorf("%s is column-major (fortran order); save the tensor in C order", path)
	}

	shape := rd.Header.Descr.Shape
	if len(shape) != 3 {
		return models.PredictionMap{}, fmt.Errorf("expected a HxWxC tensor in %s, got shape %v", path, shape)
	}

	var data []float32
	switch rd.Header.Descr.Type {
	case "<f4":
		if err := rd.Read(&data); err != nil {
			return models.PredictionMap{}, fmt.Errorf("reading %s: %w", path, err)
		}
	case "<f8":
		var wide []float64
		if err := rd.Read(&wide); err != nil {
			return models.PredictionMap{}, fmt.Errorf("reading %s: %w", path, err)
		}
		data = make([]float32, len(wide))
		for i, v := range wide {
			data[i] = float32(v)
		}
	default:
		return models.PredictionMap{}, fmt.Errorf("unsupported npy dtype %q in %s", rd.Header.Descr.Type, path)
	}

	return models.PredictionMap{Data: data, Height: shape[0], Width: shape[1], Channels: shape[2]}, nil
}

func loadRaw(path string, height, width, channels int) (models.PredictionMap, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return models.PredictionMap{}, fmt.Errorf("reading %s: %w", path, err)
	}
	want := height * width * channels * 4
	if len(raw) != want {
		return models.PredictionMap{}, fmt.Errorf("%s holds %d bytes, want %d for %dx%dx%d float32", path, len(raw), want, height, width, channels)
	}
	data := make([]float32, height*width*channels)
	for i := range data {
		data[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return models.PredictionMap{Data: data, Height: height, Width: width, Channels: channels}, nil
}

func writeLabelPNG(path string, labels models.LabelImage) error {
	mat := conversion.LabelImageToMat(labels)
	defer mat.Close()
	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("writing label image to %s failed", path)
	}
	return nil
}

type instanceJSON struct {
	BBox     [4]int     `json:"bbox"` // row_min, row_max, col_min, col_max
	Centroid [2]float64 `json:"centroid"`
	Contour  [][2]int   `json:"contour"`
	Type     *int       `json:"type,omitempty"`
	Probs    []float64  `json:"probs,omitempty"`
}

func writeInfoJSON(path string, info map[int]models.InstanceInfo) error {
	out := make(map[string]instanceJSON, len(info))
	for id, rec := range info {
		entry := instanceJSON{
			BBox:     [4]int{rec.BBox.RowMin, rec.BBox.RowMax, rec.BBox.ColMin, rec.BBox.ColMax},
			Centroid: rec.Centroid,
			Contour:  make([][2]int, len(rec.Contour)),
			Probs:    rec.Probs,
		}
		for i, pt := range rec.Contour {
			entry.Contour[i] = [2]int{pt.X, pt.Y}
		}
		if rec.HasType {
			t := rec.Type
			entry.Type = &t
		}
		out[strconv.Itoa(id)] = entry
	}

	blob, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding instance info: %w", err)
	}
	return os.WriteFile(path, blob, 0o644)
}
