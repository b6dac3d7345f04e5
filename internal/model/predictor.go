package model

import (
	"image"
	"sort"

	"github.com/Brownie44l1/plant-disease-api/internal/labels"
)

// Predictor runs the whole inference pipeline: preprocessing, the forward
// pass and the label lookup.
type Predictor struct {
	classifier *Classifier
	table      *labels.Table
	imageSize  int
	layout     Layout
	topK       int
}

type PredictorOptions struct {
	ImageSize int
	Layout    Layout
	TopK      int
}

func NewPredictor(classifier *Classifier, table *labels.Table, opts PredictorOptions) *Predictor {
	if opts.ImageSize <= 0 {
		opts.ImageSize = DefaultImageSize
	}
	if opts.Layout == "" {
		opts.Layout = LayoutNHWC
	}
	return &Predictor{
		classifier: classifier,
		table:      table,
		imageSize:  opts.ImageSize,
		layout:     opts.Layout,
		topK:       opts.TopK,
	}
}

func (p *Predictor) Labels() *labels.Table {
	return p.table
}

func (p *Predictor) InputShape() []int64 {
	return p.classifier.InputShape()
}

// InputSize is the number of float32 values one input tensor holds.
func (p *Predictor) InputSize() int {
	return elements(p.classifier.InputShape())
}

func (p *Predictor) PredictImage(img image.Image) (*PredictionResult, error) {
	return p.PredictTensor(Preprocess(img, p.imageSize, p.layout))
}

// PredictTensor classifies an already preprocessed tensor. An index outside
// the label table is a hard failure of the request.
func (p *Predictor) PredictTensor(t Tensor) (*PredictionResult, error) {
	scores, err := p.classifier.Scores(t)
	if err != nil {
		return nil, err
	}

	idx := Argmax(scores)
	class, err := p.table.Lookup(idx)
	if err != nil {
		return nil, err
	}

	return &PredictionResult{
		Index:       idx,
		Class:       class,
		DisplayName: labels.DisplayName(class),
		Confidence:  scores[idx],
		TopK:        p.rank(scores),
	}, nil
}

func (p *Predictor) rank(scores []float32) []ClassScore {
	if p.topK <= 0 {
		return nil
	}
	ranked := make([]ClassScore, 0, len(scores))
	for i, score := range scores {
		class, err := p.table.Lookup(i)
		if err != nil {
			continue
		}
		ranked = append(ranked, ClassScore{Index: i, Class: class, Score: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	if len(ranked) > p.topK {
		ranked = ranked[:p.topK]
	}
	return ranked
}
