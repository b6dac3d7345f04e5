package model

import (
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

var destroyEnvironment = ort.DestroyEnvironment

type ONNXOptions struct {
	ModelPath   string
	LibraryPath string
	InputName   string
	OutputName  string
	InputShape  []int64
	// OutputWidth is used when the model reports a dynamic class dimension.
	OutputWidth int
}

// ONNXRunner holds one ONNX Runtime session with its input and output
// tensors bound once at load time. It is not safe for concurrent Run calls;
// Classifier serializes access.
type ONNXRunner struct {
	session      *ort.AdvancedSession
	inputTensor  *ort.Tensor[float32]
	outputTensor *ort.Tensor[float32]
	inputShape   []int64
}

func NewONNXRunner(opts ONNXOptions) (*ONNXRunner, error) {
	if _, err := os.Stat(opts.ModelPath); err != nil {
		return nil, &apperrors.ModelLoadError{ErrorMsg: "model file not found at " + opts.ModelPath, Err: err}
	}

	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}
	owned := false
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, &apperrors.ModelLoadError{ErrorMsg: "failed to initialize ONNX environment", Err: err}
		}
		owned = true
	}

	inputs, outputs, err := ort.GetInputOutputInfo(opts.ModelPath)
	if err != nil {
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{ErrorMsg: "failed to read model inputs and outputs", Err: err})
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{ErrorMsg: "model declares no inputs or outputs"})
	}

	inputName := opts.InputName
	if inputName == "" {
		inputName = inputs[0].Name
	}
	outputName := opts.OutputName
	if outputName == "" {
		outputName = outputs[0].Name
	}

	outputShape, err := resolveOutputShape(outputs, outputName, opts.OutputWidth)
	if err != nil {
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{Err: err})
	}
	log.Info().
		Str("input", inputName).
		Str("output", outputName).
		Ints64("input_shape", opts.InputShape).
		Ints64("output_shape", outputShape).
		Msg("binding ONNX model tensors")

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(opts.InputShape...))
	if err != nil {
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{ErrorMsg: "failed to create input tensor", Err: err})
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		inputTensor.Destroy()
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{ErrorMsg: "failed to create output tensor", Err: err})
	}

	session, err := ort.NewAdvancedSession(opts.ModelPath,
		[]string{inputName}, []string{outputName},
		[]ort.ArbitraryTensor{inputTensor}, []ort.ArbitraryTensor{outputTensor},
		nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, releaseOnFailure(owned, &apperrors.ModelLoadError{ErrorMsg: "failed to create ONNX session", Err: err})
	}

	return &ONNXRunner{
		session:      session,
		inputTensor:  inputTensor,
		outputTensor: outputTensor,
		inputShape:   append([]int64(nil), opts.InputShape...),
	}, nil
}

// releaseOnFailure tears down the runtime environment when the failed load was
// the one that initialized it.
func releaseOnFailure(owned bool, err error) error {
	if owned {
		if destroyErr := destroyEnvironment(); destroyErr != nil {
			log.Warn().Err(destroyErr).Msg("failed to destroy ONNX environment after load failure")
		}
	}
	return err
}

func resolveOutputShape(outputs []ort.InputOutputInfo, name string, fallbackWidth int) ([]int64, error) {
	for _, info := range outputs {
		if info.Name != name {
			continue
		}
		shape := make([]int64, len(info.Dimensions))
		for i, dim := range info.Dimensions {
			switch {
			case dim > 0:
				shape[i] = dim
			case i == len(info.Dimensions)-1 && fallbackWidth > 0:
				shape[i] = int64(fallbackWidth)
			case i == 0:
				shape[i] = 1
			default:
				return nil, fmt.Errorf("output %q has dynamic dimension %d", name, i)
			}
		}
		if len(shape) == 0 {
			return nil, fmt.Errorf("output %q is a scalar", name)
		}
		if fallbackWidth > 0 && shape[len(shape)-1] != int64(fallbackWidth) {
			log.Warn().
				Int64("model_classes", shape[len(shape)-1]).
				Int("labels", fallbackWidth).
				Msg("model output width does not match label table; predictions outside the table will fail")
		}
		return shape, nil
	}
	return nil, fmt.Errorf("model has no output named %q", name)
}

func (r *ONNXRunner) Run(input []float32) ([]float32, error) {
	dst := r.inputTensor.GetData()
	if len(input) != len(dst) {
		return nil, fmt.Errorf("expected %d input values, got %d", len(dst), len(input))
	}
	copy(dst, input)

	if err := r.session.Run(); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	// The output tensor is overwritten by the next run.
	out := r.outputTensor.GetData()
	result := make([]float32, len(out))
	copy(result, out)
	return result, nil
}

func (r *ONNXRunner) InputShape() []int64 {
	return r.inputShape
}

func (r *ONNXRunner) Close() error {
	if r.inputTensor != nil {
		r.inputTensor.Destroy()
	}
	if r.outputTensor != nil {
		r.outputTensor.Destroy()
	}
	if r.session != nil {
		r.session.Destroy()
	}
	return destroyEnvironment()
}
