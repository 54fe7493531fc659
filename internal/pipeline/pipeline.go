// Package pipeline is the entry point of the post-processing chain: it
// splits the prediction tensor into its channels, runs the energy/marker
// stage, floods the watershed and extracts per-instance attributes.
package pipeline

import (
	"time"

	"hovernet-postproc/internal/logger"
	"hovernet-postproc/internal/models"
	"hovernet-postproc/internal/opencv/conversion"
	"hovernet-postproc/internal/processing/energy"
	"hovernet-postproc/internal/processing/instances"
	"hovernet-postproc/internal/processing/watershed"
)

const component = "pipeline"

// Options configures one Process call.
type Options struct {
	// NumTypes is the number of classification channels leading the tensor;
	// 0 means the tensor carries only the three instance channels and no
	// type inference runs. Class id 0 is the null/background class.
	NumTypes int

	// WithInstanceInfo requests the per-instance attribute map. It is
	// implied by NumTypes > 0.
	WithInstanceInfo bool

	// WithTypeProbs fills the dense per-type probability vectors. Only
	// effective when NumTypes > 0.
	WithTypeProbs bool

	// SuppressFlatChannelWarnings silences the warning logged when a
	// gradient channel (or its derivative) has no dynamic range. True
	// arithmetic failures are never suppressed.
	SuppressFlatChannelWarnings bool

	// Workers bounds the parallelism of attribute extraction. Values <= 1
	// run serially. Results are identical either way.
	Workers int

	Logger logger.Logger
}

// Process converts a prediction tensor into an instance label image and,
// when requested, a per-instance info map. The returned label image and map
// are freshly allocated on every call and never retained by the pipeline;
// ownership transfers to the caller.
//
// All stages are pure and synchronous. The first error aborts the call with
// no partial result. An input with no foreground is not an error: it yields
// an all-zero label image and an empty map.
func Process(pred models.PredictionMap, opts Options) (models.LabelImage, map[int]models.InstanceInfo, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewNop()
	}
	start := time.Now()

	if err := pred.Validate(opts.NumTypes); err != nil {
		return models.LabelImage{}, nil, err
	}

	var classIndex []int32
	if opts.NumTypes > 0 {
		classIndex = pred.ClassIndex(opts.NumTypes)
	}

	// Instance channels follow the classification channels.
	base := opts.NumTypes
	prob, err := conversion.ChannelMat(pred, base)
	if err != nil {
		return models.LabelImage{}, nil, err
	}
	defer prob.Close()
	hGrad, err := conversion.ChannelMat(pred, base+1)
	if err != nil {
		return models.LabelImage{}, nil, err
	}
	defer hGrad.Close()
	vGrad, err := conversion.ChannelMat(pred, base+2)
	if err != nil {
		return models.LabelImage{}, nil, err
	}
	defer vGrad.Close()

	builder := energy.NewBuilder(log, opts.SuppressFlatChannelWarnings)
	surface, err := builder.Build(prob, hGrad, vGrad)
	if err != nil {
		return models.LabelImage{}, nil, err
	}
	defer surface.Close()

	pixels := watershed.Segment(
		conversion.MatToFloat32(surface.Elevation),
		conversion.MatToInt32(surface.Markers),
		conversion.MatToUint8(surface.Mask),
		pred.Width, pred.Height,
	)
	labels := models.LabelImage{Pixels: pixels, Height: pred.Height, Width: pred.Width}

	var info map[int]models.InstanceInfo
	if opts.WithInstanceInfo || opts.NumTypes > 0 {
		extractor := instances.NewExtractor(log)
		info, err = extractor.Extract(labels, classIndex, instances.Options{
			NumTypes:  opts.NumTypes,
			WithProbs: opts.WithTypeProbs,
			Workers:   opts.Workers,
		})
		if err != nil {
			return models.LabelImage{}, nil, err
		}
	}

	log.Debug(component, "post-processing complete", map[string]interface{}{
		"instances":  len(labels.IDs()),
		"with_info":  info != nil,
		"elapsed_ms": time.Since(start).Milliseconds(),
		"image_size": []int{pred.Width, pred.Height},
		"nr_types":   opts.NumTypes,
	})

	return labels, info, nil
}
