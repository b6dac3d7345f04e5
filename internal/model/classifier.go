package model

import (
	"fmt"
	"math"
	"sync"

	"github.com/rs/zerolog/log"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

// Runner performs a single forward pass over a flattened input tensor.
type Runner interface {
	Run(input []float32) ([]float32, error)
	InputShape() []int64
	Close() error
}

// Classifier owns the single loaded model instance. Forward passes are
// serialized because the runner reuses its bound tensors.
type Classifier struct {
	mu         sync.Mutex
	runner     Runner
	activation Activation
	warnOnce   sync.Once
}

func NewClassifier(runner Runner, activation Activation) *Classifier {
	if activation == "" {
		activation = ActivationNone
	}
	return &Classifier{runner: runner, activation: activation}
}

func (c *Classifier) InputShape() []int64 {
	return c.runner.InputShape()
}

// Predict returns the index of the highest score and that score. Ties go to
// the lowest index.
func (c *Classifier) Predict(t Tensor) (int, float32, error) {
	scores, err := c.Scores(t)
	if err != nil {
		return 0, 0, err
	}
	idx := Argmax(scores)
	return idx, scores[idx], nil
}

// Scores runs the model and returns the full output vector after activation.
func (c *Classifier) Scores(t Tensor) ([]float32, error) {
	if err := c.validate(t); err != nil {
		return nil, err
	}

	c.mu.Lock()
	output, err := c.runner.Run(t.Data)
	c.mu.Unlock()
	if err != nil {
		return nil, &apperrors.InferenceError{ErrorMsg: "forward pass failed", Err: err}
	}
	if len(output) == 0 {
		return nil, &apperrors.InferenceError{ErrorMsg: "model produced no output"}
	}

	if c.activation == ActivationSoftmax {
		return Softmax(output), nil
	}
	if !looksLikeDistribution(output) {
		c.warnOnce.Do(func() {
			log.Warn().Msg("model output is not a probability distribution; set MODEL_OUTPUT_ACTIVATION=softmax if the model has no final softmax")
		})
	}
	return output, nil
}

func (c *Classifier) validate(t Tensor) error {
	want := c.runner.InputShape()
	if len(t.Shape) != len(want) {
		return &apperrors.InferenceError{ErrorMsg: fmt.Sprintf("tensor shape %v does not match model input %v", t.Shape, want)}
	}
	for i := range want {
		// Dynamic dimensions are reported as -1 by the runtime.
		if want[i] > 0 && t.Shape[i] != want[i] {
			return &apperrors.InferenceError{ErrorMsg: fmt.Sprintf("tensor shape %v does not match model input %v", t.Shape, want)}
		}
	}
	if len(t.Data) != t.Elements() {
		return &apperrors.InferenceError{ErrorMsg: fmt.Sprintf("tensor has %d values, shape %v needs %d", len(t.Data), t.Shape, t.Elements())}
	}
	return nil
}

func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runner.Close()
}

// Argmax returns the index of the largest value, preferring the lowest index
// on ties. It returns -1 for an empty slice.
func Argmax(values []float32) int {
	if len(values) == 0 {
		return -1
	}
	maxIdx := 0
	maxVal := values[0]
	for i, val := range values[1:] {
		if val > maxVal {
			maxVal = val
			maxIdx = i + 1
		}
	}
	return maxIdx
}

func Softmax(values []float32) []float32 {
	out := make([]float32, len(values))
	if len(values) == 0 {
		return out
	}
	maxVal := values[Argmax(values)]
	var sum float64
	for i, v := range values {
		e := math.Exp(float64(v - maxVal))
		out[i] = float32(e)
		sum += e
	}
	for i := range out {
		out[i] = float32(float64(out[i]) / sum)
	}
	return out
}

func looksLikeDistribution(values []float32) bool {
	var sum float64
	for _, v := range values {
		if v < 0 || v > 1 || math.IsNaN(float64(v)) {
			return false
		}
		sum += float64(v)
	}
	return math.Abs(sum-1) < 1e-2
}
