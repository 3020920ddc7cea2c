// Package language detects the language of a case and translates it into
// the working language before generation. Unlike moderation this stage
// fails open: any error falls back to the original text tagged as English.
package language

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/whisper/verdict-app/internal/llm"
)

// Fallback is the code assumed whenever detection fails.
const Fallback = "en"

const detectInstruction = `Identify the language of the user's text. Answer with exactly one JSON object: {"language":"<ISO 639-1 code>"}`

const translateInstruction = `Translate the user's text from %s to %s. Keep the meaning, tone and any emoji. Answer with the translation only.`

// Config controls detection and translation.
type Config struct {
	Model  string
	Target string // working language, defaults to "en"
	// FailOpen recovers from any failure with the original text. It
	// defaults to true via DefaultConfig.
	FailOpen bool
}

// DefaultConfig returns the fail-open English configuration.
func DefaultConfig() Config {
	return Config{Target: Fallback, FailOpen: true}
}

// Translation is the outcome of Translate.
type Translation struct {
	Translated    string
	WasTranslated bool
}

// Result is the outcome of Normalize.
type Result struct {
	Text       string
	Source     string
	Translated bool
}

// Normalizer implements detection and translation over a chat backend.
type Normalizer struct {
	backend llm.Completer
	cfg     Config
	logger  *zap.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(backend llm.Completer, cfg Config, logger *zap.Logger) *Normalizer {
	if cfg.Target == "" {
		cfg.Target = Fallback
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{backend: backend, cfg: cfg, logger: logger.Named("language")}
}

// NormalizeCode reduces a language tag to its base language ("pt-BR" -> "pt").
// Unparsable or undetermined tags map to Fallback.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return Fallback
	}
	tag, err := language.Parse(code)
	if err != nil || tag == language.Und {
		return Fallback
	}
	base, conf := tag.Base()
	if conf == language.No {
		return Fallback
	}
	return base.String()
}

// Detect returns the base language code of text. An answer that cannot be
// parsed yields Fallback with a nil error; transport failures are returned
// alongside Fallback.
func (n *Normalizer) Detect(ctx context.Context, text string) (string, error) {
	if strings.TrimSpace(text) == "" {
		return Fallback, nil
	}
	completion, err := n.backend.Complete(ctx, llm.Request{
		Model: n.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: detectInstruction},
			{Role: "user", Content: text},
		},
		MaxTokens: 20,
	})
	if err != nil {
		return Fallback, fmt.Errorf("language: detect: %w", err)
	}

	var out struct {
		Language string `json:"language"`
	}
	if err := llm.DecodeJSON(completion, &out); err != nil {
		return Fallback, nil
	}
	return NormalizeCode(out.Language), nil
}

// Translate converts text between languages. It is the identity when the
// languages match or the text is blank.
func (n *Normalizer) Translate(ctx context.Context, text, from, to string) (Translation, error) {
	if strings.TrimSpace(text) == "" || NormalizeCode(from) == NormalizeCode(to) {
		return Translation{Translated: text}, nil
	}

	completion, err := n.backend.Complete(ctx, llm.Request{
		Model: n.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: fmt.Sprintf(translateInstruction, from, to)},
			{Role: "user", Content: text},
		},
		MaxTokens: 400,
	})
	if err != nil {
		return Translation{Translated: text}, fmt.Errorf("language: translate: %w", err)
	}
	translated := strings.TrimSpace(llm.StripFence(completion))
	if translated == "" {
		return Translation{Translated: text}, errors.New("language: translate: empty translation")
	}
	return Translation{Translated: translated, WasTranslated: translated != text}, nil
}

// Normalize detects the language of text and translates it into the working
// language. With FailOpen set it never returns an error.
func (n *Normalizer) Normalize(ctx context.Context, text string) (Result, error) {
	source, err := n.Detect(ctx, text)
	if err != nil {
		return n.recover(text, err)
	}

	tr, err := n.Translate(ctx, text, source, n.cfg.Target)
	if err != nil {
		return n.recover(text, err)
	}
	return Result{Text: tr.Translated, Source: source, Translated: tr.WasTranslated}, nil
}

func (n *Normalizer) recover(text string, err error) (Result, error) {
	if !n.cfg.FailOpen {
		return Result{}, err
	}
	n.logger.Warn("language stage failed, using original text", zap.Error(err))
	return Result{Text: text, Source: Fallback}, nil
}
