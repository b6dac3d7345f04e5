package model

import (
	"fmt"
	"strings"
)

// Layout is the memory order the model expects for the image tensor.
type Layout string

const (
	LayoutNHWC Layout = "nhwc"
	LayoutNCHW Layout = "nchw"
)

func ParseLayout(s string) (Layout, error) {
	switch Layout(strings.ToLower(strings.TrimSpace(s))) {
	case LayoutNHWC, "":
		return LayoutNHWC, nil
	case LayoutNCHW:
		return LayoutNCHW, nil
	default:
		return "", fmt.Errorf("unknown tensor layout %q", s)
	}
}

// InputShape returns the batch-of-one shape for a square RGB image.
func (l Layout) InputShape(size int) []int64 {
	if l == LayoutNCHW {
		return []int64{1, 3, int64(size), int64(size)}
	}
	return []int64{1, int64(size), int64(size), 3}
}

// Activation is applied to the raw model output before argmax.
type Activation string

const (
	ActivationNone    Activation = "none"
	ActivationSoftmax Activation = "softmax"
)

func ParseActivation(s string) (Activation, error) {
	switch Activation(strings.ToLower(strings.TrimSpace(s))) {
	case ActivationNone, "":
		return ActivationNone, nil
	case ActivationSoftmax:
		return ActivationSoftmax, nil
	default:
		return "", fmt.Errorf("unknown output activation %q", s)
	}
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements returns the number of values the shape describes.
func (t Tensor) Elements() int {
	return elements(t.Shape)
}

func elements(shape []int64) int {
	if len(shape) == 0 {
		return 0
	}
	n := 1
	for _, dim := range shape {
		n *= int(dim)
	}
	return n
}

type ClassScore struct {
	Index int     `json:"index"`
	Class string  `json:"class"`
	Score float32 `json:"score"`
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResult struct {
	Index       int          `json:"index"`
	Class       string       `json:"class"`
	DisplayName string       `json:"display_name"`
	Confidence  float32      `json:"confidence"`
	TopK        []ClassScore `json:"top_k"`
}
