package advisory

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/Brownie44l1/plant-disease-api/internal/errors"
	"github.com/Brownie44l1/plant-disease-api/internal/metrics"
)

const (
	KindInfo   = "info"
	KindAnswer = "answer"

	// Prefixes used when a failed Result is rendered as user-facing text.
	InfoErrorPrefix   = "Error"
	AnswerErrorPrefix = "Error generating answer"
)

// Result separates a generated reply from a failed call.
type Result struct {
	Text string
	Err  error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Render returns the reply text, or prefix + ": " + the failure for a
// failed call. The caller picks the prefix; both start with "Error".
func (r Result) Render(prefix string) string {
	if r.Err != nil {
		return prefix + ": " + r.Err.Error()
	}
	return r.Text
}

// Advisor produces disease descriptions and answers through a Generator.
// Calls are never retried.
type Advisor struct {
	generator Generator
	timeout   time.Duration
}

// NewAdvisor returns an Advisor. A zero timeout leaves deadlines to the
// caller's context.
func NewAdvisor(generator Generator, timeout time.Duration) *Advisor {
	return &Advisor{generator: generator, timeout: timeout}
}

func (a *Advisor) GeneratorName() string {
	return a.generator.Name()
}

func (a *Advisor) DiseaseInfo(ctx context.Context, label string) Result {
	if strings.TrimSpace(label) == "" {
		return Result{Err: &apperrors.AdvisoryServiceError{ErrorMsg: "disease label is empty"}}
	}
	return a.generate(ctx, KindInfo, DiseaseInfoPrompt(label))
}

func (a *Advisor) Answer(ctx context.Context, label, question string) Result {
	if strings.TrimSpace(label) == "" {
		return Result{Err: &apperrors.AdvisoryServiceError{ErrorMsg: "disease label is empty"}}
	}
	if strings.TrimSpace(question) == "" {
		return Result{Err: &apperrors.AdvisoryServiceError{ErrorMsg: "question is empty"}}
	}
	return a.generate(ctx, KindAnswer, AnswerPrompt(label, question))
}

func (a *Advisor) generate(ctx context.Context, kind, prompt string) Result {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := a.generator.Generate(ctx, prompt)
	metrics.ObserveAdvisory(kind, err == nil, time.Since(start))
	if err != nil {
		log.Error().Err(err).Str("kind", kind).Str("generator", a.generator.Name()).Msg("advisory call failed")
		return Result{Err: &apperrors.AdvisoryServiceError{Err: err}}
	}
	return Result{Text: text}
}
