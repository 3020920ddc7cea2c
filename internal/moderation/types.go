package moderation

// Kind is the outcome of moderating a case.
type Kind string

const (
	KindAllow   Kind = "allow"
	KindRewrite Kind = "rewrite"
	KindBlock   Kind = "block"
)

// Stages that can produce a decision.
const (
	SourcePrescreen  = "prescreen"
	SourceClassifier = "classifier"
)

// Decision is the moderation verdict for one text. SafeText is only set for
// KindRewrite.
type Decision struct {
	Kind     Kind
	Reason   string
	SafeText string
	Source   string
}

// Allow lets the text through unchanged.
func Allow() Decision { return Decision{Kind: KindAllow} }

// Rewrite lets a safe substitute through in place of the original.
func Rewrite(reason, safeText string) Decision {
	return Decision{Kind: KindRewrite, Reason: reason, SafeText: safeText}
}

// Block stops the pipeline.
func Block(reason string) Decision { return Decision{Kind: KindBlock, Reason: reason} }

// Blocked reports whether the decision halts the pipeline.
func (d Decision) Blocked() bool { return d.Kind == KindBlock }

// TextFor returns the text that continues down the pipeline.
func (d Decision) TextFor(original string) string {
	if d.Kind == KindRewrite {
		return d.SafeText
	}
	return original
}

// OutcomeEvent is published to moderation.outcome for every moderated
// request. It never carries the submitted text.
type OutcomeEvent struct {
	RequestID  string `json:"request_id"`
	ClientHash string `json:"client_hash"`
	Decision   Kind   `json:"decision"`
	Reason     string `json:"reason"`
	Source     string `json:"source"`
	Ts         int64  `json:"ts"`
}
