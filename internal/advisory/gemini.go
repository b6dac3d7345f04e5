package advisory

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
)

const DefaultGeminiModel = "gemini-2.0-flash-lite"

// Generator sends one prompt to a text-generation backend and returns its
// reply. Implementations must be safe for concurrent use.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	Name() string
}

type GeminiGenerator struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

func NewGeminiGenerator(ctx context.Context, apiKey, modelName string) (*GeminiGenerator, error) {
	if apiKey == "" {
		return nil, &apperrors.ConfigurationError{ErrorMsg: "GOOGLE_API_KEY is required for the gemini advisor"}
	}
	if modelName == "" {
		modelName = DefaultGeminiModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, &apperrors.ConfigurationError{ErrorMsg: "failed to create Gemini client", Err: err}
	}

	return &GeminiGenerator{
		client: client,
		model:  client.GenerativeModel(modelName),
		name:   modelName,
	}, nil
}

func (g *GeminiGenerator) Name() string {
	return "gemini/" + g.name
}

func (g *GeminiGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content: %w", err)
	}
	return responseText(resp)
}

// responseText joins the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", fmt.Errorf("no candidates in response")
	}

	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no text part in response")
	}
	return sb.String(), nil
}

func (g *GeminiGenerator) Close() error {
	return g.client.Close()
}
