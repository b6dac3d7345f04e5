package advisory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// StubGenerator is a deterministic, no-network generator for local runs and
// CI. Replies depend only on the prompt.
type StubGenerator struct{}

func NewStubGenerator() *StubGenerator { return &StubGenerator{} }

func (s *StubGenerator) Name() string { return "stub" }

func (s *StubGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	sum := sha256.Sum256([]byte(prompt))
	return fmt.Sprintf("### Stubbed advice (%s)\n\nNo generative backend is configured. Prompt was %d bytes.",
		hex.EncodeToString(sum[:6]), len(prompt)), nil
}
