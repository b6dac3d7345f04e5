package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/model"
)

const (
	ProviderGemini = "gemini"
	ProviderStub   = "stub"
)

// Config holds all configuration for the plant disease service
type Config struct {
	// Server
	Port              string
	CORSAllowedOrigin string
	MaxUploadBytes    int64

	// Logging
	LogLevel  string
	LogPretty bool

	// Classifier
	ModelPath        string
	LabelsPath       string
	ONNXLibraryPath  string
	ModelInputName   string
	ModelOutputName  string
	ModelLayout      string
	OutputActivation string
	ImageSize        int
	TopK             int

	// Advisory text generation
	AdvisorProvider string
	GoogleAPIKey    string
	GeminiModel     string
	AdvisoryTimeout time.Duration

	// Sessions
	SessionTTL        time.Duration
	SessionCacheBytes int
}

var defaults = map[string]any{
	"PORT":                    "8080",
	"CORS_ALLOWED_ORIGIN":     "*",
	"MAX_UPLOAD_BYTES":        10 << 20,
	"LOG_LEVEL":               "info",
	"LOG_PRETTY":              true,
	"MODEL_PATH":              "models/plant_disease_prediction_model.onnx",
	"LABELS_PATH":             "models/class_indices.json",
	"ONNX_LIBRARY_PATH":       "",
	"MODEL_INPUT_NAME":        "",
	"MODEL_OUTPUT_NAME":       "",
	"MODEL_LAYOUT":            string(model.LayoutNHWC),
	"MODEL_OUTPUT_ACTIVATION": string(model.ActivationNone),
	"IMAGE_SIZE":              model.DefaultImageSize,
	"TOP_K":                   3,
	"ADVISOR_PROVIDER":        ProviderGemini,
	"GOOGLE_API_KEY":          "",
	"GEMINI_MODEL":            "gemini-2.0-flash-lite",
	"ADVISORY_TIMEOUT":        "0s",
	"SESSION_TTL":             "1h",
	"SESSION_CACHE_BYTES":     64 << 20,
}

// Load reads a .env file when one exists and then the process environment.
// Real environment variables win over .env entries.
func Load(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &apperrors.ConfigurationError{ErrorMsg: "failed to read .env file", Err: err}
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	return &Config{
		Port:              v.GetString("PORT"),
		CORSAllowedOrigin: v.GetString("CORS_ALLOWED_ORIGIN"),
		MaxUploadBytes:    v.GetInt64("MAX_UPLOAD_BYTES"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		LogPretty:         v.GetBool("LOG_PRETTY"),
		ModelPath:         v.GetString("MODEL_PATH"),
		LabelsPath:        v.GetString("LABELS_PATH"),
		ONNXLibraryPath:   v.GetString("ONNX_LIBRARY_PATH"),
		ModelInputName:    v.GetString("MODEL_INPUT_NAME"),
		ModelOutputName:   v.GetString("MODEL_OUTPUT_NAME"),
		ModelLayout:       v.GetString("MODEL_LAYOUT"),
		OutputActivation:  v.GetString("MODEL_OUTPUT_ACTIVATION"),
		ImageSize:         v.GetInt("IMAGE_SIZE"),
		TopK:              v.GetInt("TOP_K"),
		AdvisorProvider:   strings.ToLower(v.GetString("ADVISOR_PROVIDER")),
		GoogleAPIKey:      v.GetString("GOOGLE_API_KEY"),
		GeminiModel:       v.GetString("GEMINI_MODEL"),
		AdvisoryTimeout:   v.GetDuration("ADVISORY_TIMEOUT"),
		SessionTTL:        v.GetDuration("SESSION_TTL"),
		SessionCacheBytes: v.GetInt("SESSION_CACHE_BYTES"),
	}, nil
}

// Validate checks everything the service needs before it may accept requests.
func (c *Config) Validate() error {
	return c.validate(true)
}

// ValidateForCLI skips the advisor checks when the caller only classifies.
func (c *Config) ValidateForCLI(needAdvisor bool) error {
	return c.validate(needAdvisor)
}

func (c *Config) validate(needAdvisor bool) error {
	if err := requireFile("MODEL_PATH", c.ModelPath); err != nil {
		return err
	}
	if err := requireFile("LABELS_PATH", c.LabelsPath); err != nil {
		return err
	}
	if _, err := c.Layout(); err != nil {
		return &apperrors.ConfigurationError{ErrorMsg: "MODEL_LAYOUT", Err: err}
	}
	if _, err := c.Activation(); err != nil {
		return &apperrors.ConfigurationError{ErrorMsg: "MODEL_OUTPUT_ACTIVATION", Err: err}
	}
	if c.ImageSize <= 0 {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("IMAGE_SIZE must be positive, got %d", c.ImageSize)}
	}
	if c.MaxUploadBytes <= 0 {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("MAX_UPLOAD_BYTES must be positive, got %d", c.MaxUploadBytes)}
	}
	if c.SessionCacheBytes <= 0 {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("SESSION_CACHE_BYTES must be positive, got %d", c.SessionCacheBytes)}
	}
	// freecache counts expiry in whole seconds and treats 0 as never.
	if c.SessionTTL < time.Second {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("SESSION_TTL must be at least 1s, got %s", c.SessionTTL)}
	}
	if !needAdvisor {
		return nil
	}

	if c.AdvisoryTimeout < 0 {
		return &apperrors.ConfigurationError{ErrorMsg: "ADVISORY_TIMEOUT must not be negative"}
	}
	switch c.AdvisorProvider {
	case ProviderGemini:
		if c.GoogleAPIKey == "" {
			return &apperrors.ConfigurationError{ErrorMsg: "GOOGLE_API_KEY environment variable is required"}
		}
	case ProviderStub:
	default:
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("unknown ADVISOR_PROVIDER %q", c.AdvisorProvider)}
	}
	return nil
}

func (c *Config) Layout() (model.Layout, error) {
	return model.ParseLayout(c.ModelLayout)
}

func (c *Config) Activation() (model.Activation, error) {
	return model.ParseActivation(c.OutputActivation)
}

func requireFile(key, path string) error {
	if path == "" {
		return &apperrors.ConfigurationError{ErrorMsg: key + " is not set"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("%s %s is not readable", key, path), Err: err}
	}
	if info.IsDir() {
		return &apperrors.ConfigurationError{ErrorMsg: fmt.Sprintf("%s %s is a directory", key, path)}
	}
	return nil
}
