package stream

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/verdict-app/internal/language"
	"github.com/whisper/verdict-app/internal/metrics"
	"github.com/whisper/verdict-app/internal/moderation"
	"github.com/whisper/verdict-app/internal/protocol"
	"github.com/whisper/verdict-app/internal/share"
	"github.com/whisper/verdict-app/internal/verdict"
)

// User-facing messages.
const (
	MsgReviewing    = "Reviewing your case..."
	MsgUnavailable  = "The verdict service is unavailable right now. Please try again shortly."
	MsgNoVerdict    = "The jury could not reach a verdict. Please try again."
	MsgInvalidFmt   = "Invalid verdict: %s"
	MsgShareWarning = "Share link unavailable."
)

// Sentinel errors returned by Run alongside the matching Outcome.
var (
	ErrBlocked     = errors.New("stream: blocked by moderation")
	ErrUpstream    = errors.New("stream: upstream unavailable")
	ErrEmptyOutput = errors.New("stream: model returned no verdict")
)

// Outcome summarizes how a run ended. Values double as metric labels.
type Outcome string

const (
	OutcomeOK            Outcome = "ok"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeUpstream      Outcome = "upstream"
	OutcomeEmpty         Outcome = "empty"
	OutcomeInvalidOutput Outcome = "invalid_output"
	OutcomeCancelled     Outcome = "cancelled"
)

// Moderator decides whether a case may be judged.
type Moderator interface {
	Moderate(ctx context.Context, text string) (moderation.Decision, error)
}

// Normalizer brings a case into the working language.
type Normalizer interface {
	Normalize(ctx context.Context, text string) (language.Result, error)
}

// Generator produces an unvalidated verdict. A nil map with a nil error
// means the model answered but produced nothing usable.
type Generator interface {
	Generate(ctx context.Context, text string, density float64, limits verdict.Limits) (map[string]any, error)
}

// Linker builds a share link for a payload.
type Linker interface {
	Link(ctx context.Context, p share.Payload) (share.Link, error)
}

// Publisher fans pipeline events out to other services. Failures are logged
// and never affect the stream.
type Publisher interface {
	PublishShared(data []byte) error
	PublishModerationOutcome(data []byte) error
}

// Request is one verdict request after HTTP validation.
type Request struct {
	ID       string
	ClientID string
	Text     string
	Density  float64
}

// Orchestrator runs the pipeline stages in order.
type Orchestrator struct {
	moderator  Moderator
	normalizer Normalizer
	generator  Generator
	linker     Linker
	publisher  Publisher
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator wires the stages. publisher may be nil.
func NewOrchestrator(m Moderator, n Normalizer, g Generator, l Linker, p Publisher, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		moderator:  m,
		normalizer: n,
		generator:  g,
		linker:     l,
		publisher:  p,
		logger:     logger.Named("stream"),
		now:        time.Now,
	}
}

// run carries the per-request state through the stages.
type run struct {
	o   *Orchestrator
	req Request
	em  Emitter
	m   *Machine
	log *zap.Logger
}

// Run executes the pipeline for req, emitting events to em. It returns the
// outcome and, for anything but OutcomeOK, the error that ended the run.
func (o *Orchestrator) Run(ctx context.Context, req Request, em Emitter) (Outcome, error) {
	r := &run{
		o:   o,
		req: req,
		em:  em,
		m:   NewMachine(),
		log: o.logger.With(zap.String("request_id", req.ID)),
	}
	return r.execute(ctx)
}

func (r *run) execute(ctx context.Context) (Outcome, error) {
	if err := r.advance(StateModerating); err != nil {
		return OutcomeCancelled, err
	}
	if err := r.emit(protocol.Status(MsgReviewing)); err != nil {
		return OutcomeCancelled, err
	}

	start := time.Now()
	decision, err := r.o.moderator.Moderate(ctx, r.req.Text)
	metrics.ObserveStage("moderation", start)
	if err != nil {
		return r.fail(ctx, OutcomeUpstream, MsgUnavailable, fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	r.recordModeration(decision)

	if decision.Blocked() {
		if err := r.advance(StateBlocked); err != nil {
			return OutcomeCancelled, err
		}
		if err := r.emit(protocol.Error(decision.Reason)); err != nil {
			return OutcomeCancelled, err
		}
		return OutcomeBlocked, fmt.Errorf("%w: %s", ErrBlocked, decision.Reason)
	}

	moderated := decision.TextFor(r.req.Text)
	if err := r.advance(StateTranslating); err != nil {
		return OutcomeCancelled, err
	}
	if decision.Kind == moderation.KindRewrite && decision.Reason != "" {
		if err := r.emit(protocol.Status(decision.Reason)); err != nil {
			return OutcomeCancelled, err
		}
	}

	start = time.Now()
	normalized, err := r.o.normalizer.Normalize(ctx, moderated)
	metrics.ObserveStage("language", start)
	if err != nil {
		return r.fail(ctx, OutcomeUpstream, MsgUnavailable, fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	if normalized.Translated {
		r.log.Debug("case translated", zap.String("source", normalized.Source))
	}

	if err := r.advance(StateGenerating); err != nil {
		return OutcomeCancelled, err
	}
	limits := verdict.LimitsFor(r.req.Density)

	start = time.Now()
	raw, err := r.o.generator.Generate(ctx, normalized.Text, r.req.Density, limits)
	metrics.ObserveStage("generation", start)
	if err != nil {
		return r.fail(ctx, OutcomeUpstream, MsgUnavailable, fmt.Errorf("%w: %v", ErrUpstream, err))
	}
	if raw == nil {
		return r.fail(ctx, OutcomeEmpty, MsgNoVerdict, ErrEmptyOutput)
	}

	if err := r.advance(StateValidating); err != nil {
		return OutcomeCancelled, err
	}
	v, err := verdict.Validate(raw, limits)
	if err != nil {
		return r.fail(ctx, OutcomeInvalidOutput, fmt.Sprintf(MsgInvalidFmt, ruleOf(err)), err)
	}
	if err := r.emitVerdict(v); err != nil {
		return OutcomeCancelled, err
	}

	if err := r.advance(StateSharing); err != nil {
		return OutcomeCancelled, err
	}
	if err := r.emitShare(ctx, moderated, v); err != nil {
		return OutcomeCancelled, err
	}

	if err := r.advance(StateDone); err != nil {
		return OutcomeCancelled, err
	}
	if err := r.emit(protocol.Done()); err != nil {
		return OutcomeCancelled, err
	}
	return OutcomeOK, nil
}

func (r *run) emitVerdict(v verdict.Verdict) error {
	events := []protocol.Event{
		protocol.Update(protocol.FieldVerdict, v.Verdict),
		protocol.Update(protocol.FieldVerdictText, v.VerdictText),
		protocol.Update(protocol.FieldSentence, v.Sentence),
		protocol.Update(protocol.FieldSentenceText, v.SentenceText),
	}
	for i, e := range v.Evidence {
		events = append(events, protocol.UpdateAt(protocol.FieldEvidence, i, e))
	}
	for i, e := range v.EvidenceText {
		events = append(events, protocol.UpdateAt(protocol.FieldEvidenceText, i, e))
	}
	events = append(events, protocol.Status(v.StatusAdvice))

	for _, ev := range events {
		if err := r.emit(ev); err != nil {
			return err
		}
	}
	return nil
}

// emitShare never fails the run on share errors; only a broken stream is
// returned.
func (r *run) emitShare(ctx context.Context, text string, v verdict.Verdict) error {
	payload := share.Build(text, r.req.Density, v)

	start := time.Now()
	link, err := r.o.linker.Link(ctx, payload)
	metrics.ObserveStage("share", start)
	if err != nil {
		r.log.Warn("share link failed", zap.Error(err))
		return r.emit(protocol.Status(MsgShareWarning))
	}

	if r.o.publisher != nil {
		if data, err := json.Marshal(payload); err == nil {
			if err := r.o.publisher.PublishShared(data); err != nil {
				r.log.Warn("publish share payload", zap.Error(err))
			}
		}
	}
	return r.emit(protocol.Share(link.URL, link.Type))
}

// fail moves to FAILED and emits the user-facing message. A cancelled
// context is reported as OutcomeCancelled whatever the stage said.
func (r *run) fail(ctx context.Context, outcome Outcome, message string, cause error) (Outcome, error) {
	if ctx.Err() != nil {
		outcome = OutcomeCancelled
	}
	r.log.Warn("pipeline failed",
		zap.Stringer("state", r.m.State()),
		zap.String("outcome", string(outcome)),
		zap.Error(cause))

	if err := r.advance(StateFailed); err != nil {
		return outcome, errors.Join(cause, err)
	}
	if err := r.emit(protocol.Error(message)); err != nil {
		r.log.Debug("could not deliver error event", zap.Error(err))
	}
	return outcome, cause
}

func (r *run) advance(next State) error {
	if err := r.m.To(next); err != nil {
		r.log.Error("state machine", zap.Error(err))
		return err
	}
	return nil
}

func (r *run) emit(ev protocol.Event) error {
	if r.m.State() == StateStart {
		return fmt.Errorf("stream: emit before start")
	}
	return r.em.Emit(ev)
}

func (r *run) recordModeration(d moderation.Decision) {
	metrics.ModerationDecisions.WithLabelValues(string(d.Kind), d.Source).Inc()
	if r.o.publisher == nil {
		return
	}
	data, err := json.Marshal(moderation.OutcomeEvent{
		RequestID:  r.req.ID,
		ClientHash: HashClient(r.req.ClientID),
		Decision:   d.Kind,
		Reason:     d.Reason,
		Source:     d.Source,
		Ts:         r.o.now().UnixMilli(),
	})
	if err != nil {
		return
	}
	if err := r.o.publisher.PublishModerationOutcome(data); err != nil {
		r.log.Warn("publish moderation outcome", zap.Error(err))
	}
}

// HashClient returns a stable pseudonym for a client identifier so audit
// records never carry addresses.
func HashClient(id string) string {
	sum := sha256.Sum256([]byte(id))
	return hex.EncodeToString(sum[:8])
}

// ruleOf extracts the violated rule from a validation error.
func ruleOf(err error) string {
	return strings.TrimPrefix(err.Error(), verdict.ErrInvalidOutput.Error()+": ")
}
