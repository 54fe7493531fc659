// Package instances computes per-instance attributes from a label image:
// bounding box, centroid, outer contour, and optionally a dominant cell type
// with per-type probabilities voted from a per-pixel class-index map.
package instances

import (
	"image"
	"sort"
	"sync"

	"gocv.io/x/gocv"

	"hovernet-postproc/internal/logger"
	"hovernet-postproc/internal/models"
)

// Options controls the extraction pass. NumTypes > 0 together with a
// class-index map enables type voting; WithProbs additionally fills the
// dense per-type probability vector. Workers > 1 fans extraction out over a
// bounded pool; results are identical to the serial path.
type Options struct {
	NumTypes  int
	WithProbs bool
	Workers   int
}

type Extractor struct {
	log logger.Logger
}

func NewExtractor(log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{log: log}
}

// Extract builds one InstanceInfo record per distinct non-zero id in the
// label image. classIndex may be nil when no classification is requested.
// The first error aborts the whole pass; no partial map is returned.
func (e *Extractor) Extract(labels models.LabelImage, classIndex []int32, opts Options) (map[int]models.InstanceInfo, error) {
	ids := labels.IDs()
	infos := make([]models.InstanceInfo, len(ids))
	errs := make([]error, len(ids))

	extractOne := func(slot int) {
		id := ids[slot]
		info, err := e.geometry(labels, id)
		if err != nil {
			errs[slot] = err
			return
		}
		if classIndex != nil && opts.NumTypes > 0 {
			e.classify(&info, labels, classIndex, id, opts)
		}
		infos[slot] = info
	}

	workers := opts.Workers
	if workers <= 1 || len(ids) < 2 {
		for slot := range ids {
			extractOne(slot)
		}
	} else {
		if workers > len(ids) {
			workers = len(ids)
		}
		slots := make(chan int)
		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for slot := range slots {
					extractOne(slot)
				}
			}()
		}
		for slot := range ids {
			slots <- slot
		}
		close(slots)
		wg.Wait()
	}

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := make(map[int]models.InstanceInfo, len(ids))
	for slot, id := range ids {
		out[id] = infos[slot]
	}
	return out, nil
}

// geometry computes bounding box, centroid and outer contour of one
// instance. Moments and the contour are taken on the cropped mask and
// shifted back into full-image coordinates.
func (e *Extractor) geometry(labels models.LabelImage, id int) (models.InstanceInfo, error) {
	mask := make([]bool, labels.Height*labels.Width)
	for i, v := range labels.Pixels {
		mask[i] = v == int32(id)
	}

	box, ok := models.MaskBounds(mask, labels.Width, labels.Height)
	if !ok {
		return models.InstanceInfo{}, &models.DegenerateInstanceError{ID: id}
	}

	crop := gocv.NewMatWithSize(box.Rows(), box.Cols(), gocv.MatTypeCV8UC1)
	defer crop.Close()
	for row := box.RowMin; row < box.RowMax; row++ {
		for col := box.ColMin; col < box.ColMax; col++ {
			if labels.At(row, col) == int32(id) {
				crop.SetUCharAt(row-box.RowMin, col-box.ColMin, 255)
			} else {
				crop.SetUCharAt(row-box.RowMin, col-box.ColMin, 0)
			}
		}
	}

	moments := gocv.Moments(crop, true)
	m00 := moments["m00"]
	if m00 == 0 {
		return models.InstanceInfo{}, &models.DegenerateInstanceError{ID: id}
	}

	contour, err := largestContour(crop, id)
	if err != nil {
		return models.InstanceInfo{}, err
	}
	for i := range contour {
		contour[i].X += box.ColMin
		contour[i].Y += box.RowMin
	}

	return models.InstanceInfo{
		BBox: box,
		Centroid: [2]float64{
			moments["m10"]/m00 + float64(box.ColMin),
			moments["m01"]/m00 + float64(box.RowMin),
		},
		Contour: contour,
	}, nil
}

// largestContour returns the biggest outer boundary of the cropped mask.
// Inner contours (holes) are ignored.
func largestContour(crop gocv.Mat, id int) ([]image.Point, error) {
	contours := gocv.FindContours(crop, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	if contours.Size() == 0 {
		return nil, &models.DegenerateInstanceError{ID: id}
	}

	best := 0
	bestArea := gocv.ContourArea(contours.At(0))
	for i := 1; i < contours.Size(); i++ {
		if area := gocv.ContourArea(contours.At(i)); area > bestArea {
			bestArea = area
			best = i
		}
	}
	return contours.At(best).ToPoints(), nil
}

type classCount struct {
	class int
	count int
}

// classify votes the dominant type over the instance's pixels within its
// bounding box. Counts are tabulated in ascending class order and sorted by
// descending count with a stable sort, so ties keep the lower class first.
// Class 0 is the null class: it is never reported as the type unless it is
// the only class present.
func (e *Extractor) classify(info *models.InstanceInfo, labels models.LabelImage, classIndex []int32, id int, opts Options) {
	counts := make(map[int]int)
	total := 0
	for row := info.BBox.RowMin; row < info.BBox.RowMax; row++ {
		for col := info.BBox.ColMin; col < info.BBox.ColMax; col++ {
			if labels.At(row, col) != int32(id) {
				continue
			}
			counts[int(classIndex[row*labels.Width+col])]++
			total++
		}
	}

	ranked := make([]classCount, 0, len(counts))
	for class := range counts {
		ranked = append(ranked, classCount{class: class, count: counts[class]})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].class < ranked[j].class })
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })

	dominant := ranked[0].class
	if dominant == 0 && len(ranked) > 1 {
		dominant = ranked[1].class
	}
	info.HasType = true
	info.Type = dominant

	if opts.WithProbs {
		probs := make([]float64, opts.NumTypes)
		for _, cc := range ranked {
			if cc.class >= 0 && cc.class < opts.NumTypes {
				probs[cc.class] = float64(cc.count) / float64(total)
			}
		}
		info.Probs = probs
	}
}
