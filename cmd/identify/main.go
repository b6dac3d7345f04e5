package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Brownie44l1/plant-disease-api/internal/advisory"
	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/labels"
	"github.com/Brownie44l1/plant-disease-api/internal/logger"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

const usage = "identify -image <leaf.jpg> [-model <model.onnx>] [-labels <class_indices.json>] [-info] [-ask <question>]"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code. Results go to stdout; usage, errors
// and logs go to stderr.
func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("identify", flag.ContinueOnError)
	fs.SetOutput(stderr)
	imagePath := fs.String("image", "", "path to a leaf image (jpeg, png, gif, bmp, webp)")
	modelPath := fs.String("model", "", "ONNX model path, overrides MODEL_PATH")
	labelsPath := fs.String("labels", "", "class index JSON path, overrides LABELS_PATH")
	info := fs.Bool("info", false, "also generate a disease description")
	ask := fs.String("ask", "", "question to ask about the detected disease")
	help := fs.Bool("help", false, "help")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *help {
		fmt.Fprintln(stdout, "Usage:\n  "+usage)
		return 0
	}
	if *imagePath == "" {
		fmt.Fprintln(stderr, "Usage:\n  "+usage)
		return 2
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, "Error: unable to load configuration:", err)
		return 1
	}
	if *modelPath != "" {
		cfg.ModelPath = *modelPath
	}
	if *labelsPath != "" {
		cfg.LabelsPath = *labelsPath
	}
	if err := logger.InitWithWriter(cfg.LogLevel, cfg.LogPretty, stderr); err != nil {
		fmt.Fprintln(stderr, "Error: unable to initialize logger:", err)
		return 1
	}

	needAdvisor := *info || *ask != ""
	if err := cfg.ValidateForCLI(needAdvisor); err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}

	table, err := labels.Load(cfg.LabelsPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to load class labels")
		return 1
	}
	predictor, release, err := app.LoadPredictor(cfg, table)
	if err != nil {
		log.Error().Err(err).Msg("failed to load model")
		return 1
	}
	defer release()

	data, err := os.ReadFile(*imagePath)
	if err != nil {
		log.Error().Err(err).Str("path", *imagePath).Msg("failed to read image")
		return 1
	}
	img, _, err := model.DecodeImage(data)
	if err != nil {
		log.Error().Err(err).Str("path", *imagePath).Msg("failed to decode image")
		return 1
	}

	result, err := predictor.PredictImage(img)
	if err != nil {
		log.Error().Err(err).Msg("prediction failed")
		return 1
	}
	fmt.Fprintf(stdout, "Detected: %s (%s)\n", result.DisplayName, result.Class)
	fmt.Fprintf(stdout, "Confidence: %.4f\n", result.Confidence)
	for _, alt := range result.TopK {
		fmt.Fprintf(stdout, "  %-45s %.4f\n", alt.Class, alt.Score)
	}

	if !needAdvisor {
		return 0
	}

	ctx := context.Background()
	generator, closeGenerator, err := app.NewGenerator(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to create advisory client")
		return 1
	}
	defer closeGenerator()
	advisor := advisory.NewAdvisor(generator, cfg.AdvisoryTimeout)

	if *info {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, advisor.DiseaseInfo(ctx, result.Class).Render(advisory.InfoErrorPrefix))
	}
	if *ask != "" {
		fmt.Fprintln(stdout)
		fmt.Fprintln(stdout, advisor.Answer(ctx, result.Class, *ask).Render(advisory.AnswerErrorPrefix))
	}
	return 0
}
