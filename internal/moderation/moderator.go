package moderation

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/whisper/verdict-app/internal/llm"
)

const classifierInstruction = `You are a content safety classifier for a light-hearted emoji court.
Classify the user's statement and answer with exactly one JSON object:
{"decision":"allow"|"rewrite"|"block","reason":"<short user-facing reason>","safe_text":"<rewritten statement, only for rewrite>"}
Use "allow" for harmless statements, "rewrite" when a harmless version can be produced by removing insults, personal data or crude language, and "block" for hate, harassment of real people, sexual content, self-harm or violence.`

const (
	reasonPrescreen = "This case contains content the court will not hear."
	reasonBlocked   = "This case can't be judged."
	reasonRewritten = "Your case was reworded to keep things friendly."
	reasonRedacted  = "Contact details were removed from your case."
)

// Config controls the classifier call.
type Config struct {
	Model string
	// FailOpen lets text through when the classifier cannot be reached.
	// Moderation fails closed by default.
	FailOpen bool
}

// Moderator runs the pre-screen, redaction and classifier stages.
type Moderator struct {
	filter     *Filter
	classifier llm.Completer
	cfg        Config
	logger     *zap.Logger
}

// NewModerator creates a Moderator. A nil filter uses the default blocklist.
func NewModerator(filter *Filter, classifier llm.Completer, cfg Config, logger *zap.Logger) *Moderator {
	if filter == nil {
		filter = NewFilter()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Moderator{filter: filter, classifier: classifier, cfg: cfg, logger: logger.Named("moderation")}
}

type classification struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
	SafeText string `json:"safe_text"`
}

// Moderate decides whether text may be judged. Transport failures are
// returned as errors unless FailOpen is set; a classifier answer that cannot
// be parsed is treated as allow.
func (m *Moderator) Moderate(ctx context.Context, text string) (Decision, error) {
	if res := m.filter.Check(text); res.Blocked {
		m.logger.Info("blocked by prescreen", zap.String("term", res.Term))
		d := Block(reasonPrescreen)
		d.Source = SourcePrescreen
		return d, nil
	}

	safe, fired := Redact(text)
	fallback := Allow()
	if len(fired) > 0 {
		fallback = Rewrite(reasonRedacted, safe)
	}
	fallback.Source = SourcePrescreen

	completion, err := m.classifier.Complete(ctx, llm.Request{
		Model: m.cfg.Model,
		Messages: []llm.Message{
			{Role: "system", Content: classifierInstruction},
			{Role: "user", Content: safe},
		},
		MaxTokens: 300,
	})
	if err != nil {
		if m.cfg.FailOpen && ctx.Err() == nil {
			m.logger.Warn("classifier unavailable, failing open", zap.Error(err))
			return fallback, nil
		}
		return Decision{}, fmt.Errorf("moderation: classify: %w", err)
	}

	var c classification
	if err := llm.DecodeJSON(completion, &c); err != nil {
		m.logger.Warn("unparsable classifier answer, allowing", zap.Error(err))
		return fallback, nil
	}

	var d Decision
	switch strings.ToLower(strings.TrimSpace(c.Decision)) {
	case string(KindBlock):
		d = Block(orDefault(c.Reason, reasonBlocked))
	case string(KindRewrite):
		safeText := strings.TrimSpace(c.SafeText)
		if safeText == "" {
			safeText = safe
		}
		d = Rewrite(orDefault(c.Reason, reasonRewritten), safeText)
	default:
		d = fallback
	}
	d.Source = SourceClassifier
	return d, nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}
