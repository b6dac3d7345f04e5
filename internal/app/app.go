// Package app builds the long-lived components shared by the server and the CLI.
package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/labels"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

// LoadPredictor opens the ONNX model described by cfg. The returned func
// releases the runtime session.
func LoadPredictor(cfg *config.Config, table *labels.Table) (*model.Predictor, func(), error) {
	layout, err := cfg.Layout()
	if err != nil {
		return nil, nil, err
	}
	activation, err := cfg.Activation()
	if err != nil {
		return nil, nil, err
	}

	runner, err := model.NewONNXRunner(model.ONNXOptions{
		ModelPath:   cfg.ModelPath,
		LibraryPath: cfg.ONNXLibraryPath,
		InputName:   cfg.ModelInputName,
		OutputName:  cfg.ModelOutputName,
		InputShape:  layout.InputShape(cfg.ImageSize),
		OutputWidth: table.Len(),
	})
	if err != nil {
		return nil, nil, err
	}

	classifier := model.NewClassifier(runner, activation)
	predictor := model.NewPredictor(classifier, table, model.PredictorOptions{
		ImageSize: cfg.ImageSize,
		Layout:    layout,
		TopK:      cfg.TopK,
	})
	release := func() {
		if err := classifier.Close(); err != nil {
			log.Error().Err(err).Msg("failed to release model")
		}
	}
	return predictor, release, nil
}

// NewGenerator picks the advisory backend named by ADVISOR_PROVIDER.
func NewGenerator(ctx context.Context, cfg *config.Config) (advisory.Generator, func(), error) {
	if cfg.AdvisorProvider == config.ProviderStub {
		log.Warn().Msg("using stub advisory generator, replies are placeholders")
		return advisory.NewStubGenerator(), func() {}, nil
	}

	gemini, err := advisory.NewGeminiGenerator(ctx, cfg.GoogleAPIKey, cfg.GeminiModel)
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		if err := gemini.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close gemini client")
		}
	}
	return gemini, release, nil
}
