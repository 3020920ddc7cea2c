package verdict

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/whisper/verdict-app/internal/llm"
)

// DefaultTemperature is sent with every generation request. Backends that
// reject it are handled by the negotiation rule in llm.
const DefaultTemperature = 0.9

// Generator asks the generative backend for a verdict.
type Generator struct {
	backend llm.Completer
	model   string
	logger  *zap.Logger
}

// NewGenerator creates a Generator. The backend is expected to carry any
// request-shape negotiation (see llm.Negotiator).
func NewGenerator(backend llm.Completer, model string, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{backend: backend, model: model, logger: logger.Named("generator")}
}

// Generate returns the parsed completion for text. A nil map with a nil
// error means the model answered but nothing usable could be parsed.
func (g *Generator) Generate(ctx context.Context, text string, density float64, limits Limits) (map[string]any, error) {
	req := llm.Request{
		Model: g.model,
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildPrompt(text, density, limits)},
		},
		Temperature: llm.Temperature(DefaultTemperature),
	}

	completion, err := g.backend.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("generator: complete: %w", err)
	}

	raw := ParseCompletion(completion)
	if raw == nil {
		g.logger.Warn("unparsable completion", zap.Int("len", len(completion)))
	}
	return raw, nil
}

// ParseCompletion decodes a JSON object from a completion, tolerating a
// surrounding Markdown code fence. Anything else yields nil.
func ParseCompletion(completion string) map[string]any {
	var out map[string]any
	if err := llm.DecodeJSON(completion, &out); err != nil {
		return nil
	}
	return out
}
