package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/whisper/verdict-app/internal/language"
	"github.com/whisper/verdict-app/internal/moderation"
	"github.com/whisper/verdict-app/internal/protocol"
	"github.com/whisper/verdict-app/internal/share"
	"github.com/whisper/verdict-app/internal/verdict"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeModerator struct {
	decision moderation.Decision
	err      error
}

func (f fakeModerator) Moderate(context.Context, string) (moderation.Decision, error) {
	return f.decision, f.err
}

type passthroughNormalizer struct{}

func (passthroughNormalizer) Normalize(_ context.Context, text string) (language.Result, error) {
	return language.Result{Text: text, Source: language.Fallback}, nil
}

type fakeGenerator struct {
	raw        map[string]any
	err        error
	gotText    string
	gotLimits  verdict.Limits
	gotDensity float64
}

func (f *fakeGenerator) Generate(_ context.Context, text string, density float64, limits verdict.Limits) (map[string]any, error) {
	f.gotText, f.gotDensity, f.gotLimits = text, density, limits
	return f.raw, f.err
}

type fakeLinker struct {
	link    share.Link
	err     error
	payload share.Payload
}

func (f *fakeLinker) Link(_ context.Context, p share.Payload) (share.Link, error) {
	f.payload = p
	return f.link, f.err
}

type recordingPublisher struct {
	mu       sync.Mutex
	shared   [][]byte
	outcomes [][]byte
}

func (p *recordingPublisher) PublishShared(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.shared = append(p.shared, data)
	return nil
}

func (p *recordingPublisher) PublishModerationOutcome(data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes = append(p.outcomes, data)
	return nil
}

func validRaw() map[string]any {
	return map[string]any{
		"verdict":       "⚖️",
		"verdict_text":  "Guilty of overthinking.",
		"sentence":      "🧘🧘",
		"sentence_text": "Two deep breaths.",
		"evidence":      []any{"🤯", "📚"},
		"evidence_text": []any{"Mind blown.", "Too much reading."},
		"status_advice": "Take a walk.",
	}
}

func runPipeline(t *testing.T, o *Orchestrator, req Request) (Outcome, error, []protocol.Event) {
	t.Helper()
	var buf bytes.Buffer
	outcome, err := o.Run(context.Background(), req, NewNDJSONWriter(&buf))
	events, perr := protocol.ParseStream(buf.Bytes())
	require.NoError(t, perr)
	return outcome, err, events
}

func idx(i int) *int { return &i }

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestRun_AllowedEndToEnd(t *testing.T) {
	gen := &fakeGenerator{raw: validRaw()}
	linker := &fakeLinker{link: share.Link{URL: "https://v.example/abc", Type: share.TypeDirect}}
	pub := &recordingPublisher{}
	o := NewOrchestrator(fakeModerator{decision: moderation.Allow()}, passthroughNormalizer{}, gen, linker, pub, nil)

	outcome, err, events := runPipeline(t, o, Request{ID: "r1", ClientID: "1.2.3.4", Text: "I ate the last slice", Density: 5})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)

	want := []protocol.Event{
		{Field: "status", Content: MsgReviewing},
		{Field: "verdict", Content: "⚖️", Replace: true},
		{Field: "verdict_text", Content: "Guilty of overthinking.", Replace: true},
		{Field: "sentence", Content: "🧘🧘", Replace: true},
		{Field: "sentence_text", Content: "Two deep breaths.", Replace: true},
		{Field: "evidence", Index: idx(0), Content: "🤯", Replace: true},
		{Field: "evidence", Index: idx(1), Content: "📚", Replace: true},
		{Field: "evidence_text", Index: idx(0), Content: "Mind blown.", Replace: true},
		{Field: "evidence_text", Index: idx(1), Content: "Too much reading.", Replace: true},
		{Field: "status", Content: "Take a walk."},
		{Field: "share", URL: "https://v.example/abc", Type: "direct"},
		{Field: "done"},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, verdict.Limits{VerdictMax: 1, SentenceMax: 14, EvidenceMax: 8}, gen.gotLimits)
	assert.Equal(t, "I ate the last slice", gen.gotText)
	assert.Equal(t, "I ate the last slice", linker.payload.Text)
	assert.Len(t, pub.shared, 1)
	require.Len(t, pub.outcomes, 1)

	var ev moderation.OutcomeEvent
	require.NoError(t, json.Unmarshal(pub.outcomes[0], &ev))
	assert.Equal(t, moderation.KindAllow, ev.Decision)
	assert.Equal(t, HashClient("1.2.3.4"), ev.ClientHash)
	assert.NotContains(t, string(pub.outcomes[0]), "last slice")
}

func TestRun_PineappleCase(t *testing.T) {
	gen := &fakeGenerator{raw: map[string]any{
		"verdict":       "🚨",
		"verdict_text":  "Guilty of culinary treason.",
		"sentence":      "🍕🚫🍍⛓️",
		"sentence_text": "Pineapple is banned from all pizza for life.",
		"evidence":      []any{"🍍🍕", "🤢", "🇮🇹😱"},
		"evidence_text": []any{"Fruit was found on the pizza.", "Witnesses felt ill.", "Italy is horrified."},
		"status_advice": "Try it on a fruit salad instead.",
	}}
	linker := &fakeLinker{link: share.Link{URL: "https://v.example/p1", Type: share.TypeDirect}}
	o := NewOrchestrator(fakeModerator{decision: moderation.Allow()}, passthroughNormalizer{}, gen, linker, nil, nil)

	outcome, err, events := runPipeline(t, o, Request{ID: "p1", Text: "Pineapple on pizza is a crime.", Density: 5})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Equal(t, verdict.Limits{VerdictMax: 1, SentenceMax: 14, EvidenceMax: 8}, gen.gotLimits)

	want := []protocol.Event{
		{Field: "status", Content: MsgReviewing},
		{Field: "verdict", Content: "🚨", Replace: true},
		{Field: "verdict_text", Content: "Guilty of culinary treason.", Replace: true},
		{Field: "sentence", Content: "🍕🚫🍍⛓️", Replace: true},
		{Field: "sentence_text", Content: "Pineapple is banned from all pizza for life.", Replace: true},
		{Field: "evidence", Index: idx(0), Content: "🍍🍕", Replace: true},
		{Field: "evidence", Index: idx(1), Content: "🤢", Replace: true},
		{Field: "evidence", Index: idx(2), Content: "🇮🇹😱", Replace: true},
		{Field: "evidence_text", Index: idx(0), Content: "Fruit was found on the pizza.", Replace: true},
		{Field: "evidence_text", Index: idx(1), Content: "Witnesses felt ill.", Replace: true},
		{Field: "evidence_text", Index: idx(2), Content: "Italy is horrified.", Replace: true},
		{Field: "status", Content: "Try it on a fruit salad instead."},
		{Field: "share", URL: "https://v.example/p1", Type: "direct"},
		{Field: "done"},
	}
	require.Len(t, events, 14)
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
	for _, ev := range events {
		assert.NotEqual(t, protocol.FieldError, ev.Field)
	}
	assert.Equal(t, "Pineapple on pizza is a crime.", linker.payload.Text)
	assert.Len(t, linker.payload.Evidence, 3)
}

func TestRun_BlockedYieldsStatusAndError(t *testing.T) {
	gen := &fakeGenerator{raw: validRaw()}
	o := NewOrchestrator(fakeModerator{decision: moderation.Block("R")}, passthroughNormalizer{}, gen, &fakeLinker{}, nil, nil)

	outcome, err, events := runPipeline(t, o, Request{Text: "bad", Density: 3})
	assert.ErrorIs(t, err, ErrBlocked)
	assert.Equal(t, OutcomeBlocked, outcome)

	want := []protocol.Event{
		{Field: "status", Content: MsgReviewing},
		{Field: "error", Message: "R"},
	}
	if diff := cmp.Diff(want, events); diff != "" {
		t.Errorf("event sequence mismatch (-want +got):\n%s", diff)
	}
	assert.Empty(t, gen.gotText, "generator must not run after a block")
}

func TestRun_RewriteUsesSafeTextAndNotes(t *testing.T) {
	gen := &fakeGenerator{raw: validRaw()}
	linker := &fakeLinker{link: share.Link{URL: "u", Type: share.TypeLong}}
	o := NewOrchestrator(fakeModerator{decision: moderation.Rewrite("reworded", "nice text")}, passthroughNormalizer{}, gen, linker, nil, nil)

	_, err, events := runPipeline(t, o, Request{Text: "rude text", Density: 0})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(events), 2)
	assert.Equal(t, protocol.Status("reworded"), events[1])
	assert.Equal(t, "nice text", gen.gotText)
	assert.Equal(t, "nice text", linker.payload.Text)
}

func TestRun_ShareFailureIsWarning(t *testing.T) {
	o := NewOrchestrator(fakeModerator{decision: moderation.Allow()}, passthroughNormalizer{},
		&fakeGenerator{raw: validRaw()}, &fakeLinker{err: errors.New("down")}, nil, nil)

	outcome, err, events := runPipeline(t, o, Request{Text: "x", Density: 5})
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, outcome)

	n := len(events)
	require.GreaterOrEqual(t, n, 2)
	assert.Equal(t, protocol.Status(MsgShareWarning), events[n-2])
	assert.Equal(t, protocol.Done(), events[n-1])
	for _, ev := range events {
		assert.NotEqual(t, protocol.FieldError, ev.Field)
	}
}

func TestRun_Failures(t *testing.T) {
	tests := []struct {
		name     string
		mod      fakeModerator
		gen      *fakeGenerator
		outcome  Outcome
		message  string
		sentinel error
	}{
		{
			name:     "moderation unavailable",
			mod:      fakeModerator{err: errors.New("dial tcp")},
			gen:      &fakeGenerator{raw: validRaw()},
			outcome:  OutcomeUpstream,
			message:  MsgUnavailable,
			sentinel: ErrUpstream,
		},
		{
			name:     "generator unavailable",
			mod:      fakeModerator{decision: moderation.Allow()},
			gen:      &fakeGenerator{err: errors.New("status 500")},
			outcome:  OutcomeUpstream,
			message:  MsgUnavailable,
			sentinel: ErrUpstream,
		},
		{
			name:     "empty output",
			mod:      fakeModerator{decision: moderation.Allow()},
			gen:      &fakeGenerator{},
			outcome:  OutcomeEmpty,
			message:  MsgNoVerdict,
			sentinel: ErrEmptyOutput,
		},
		{
			name: "evidence mismatch",
			mod:  fakeModerator{decision: moderation.Allow()},
			gen: &fakeGenerator{raw: func() map[string]any {
				raw := validRaw()
				raw["evidence"] = []any{"🤯", "📚", "🔥"}
				return raw
			}()},
			outcome:  OutcomeInvalidOutput,
			message:  "Invalid verdict: evidence_text has 2 entries, want 3",
			sentinel: verdict.ErrInvalidOutput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewOrchestrator(tt.mod, passthroughNormalizer{}, tt.gen, &fakeLinker{}, nil, nil)
			outcome, err, events := runPipeline(t, o, Request{Text: "x", Density: 5})

			assert.ErrorIs(t, err, tt.sentinel)
			assert.Equal(t, tt.outcome, outcome)
			require.NotEmpty(t, events)
			assert.Equal(t, protocol.Error(tt.message), events[len(events)-1])
			for _, ev := range events[:len(events)-1] {
				assert.Equal(t, protocol.FieldStatus, ev.Field, "no verdict fields before a failure")
			}
		})
	}
}

func TestRun_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := NewOrchestrator(fakeModerator{err: context.Canceled}, passthroughNormalizer{},
		&fakeGenerator{}, &fakeLinker{}, nil, nil)
	var buf bytes.Buffer
	outcome, err := o.Run(ctx, Request{Text: "x"}, NewNDJSONWriter(&buf))
	assert.Error(t, err)
	assert.Equal(t, OutcomeCancelled, outcome)
}

// ---------------------------------------------------------------------------
// State machine and writer
// ---------------------------------------------------------------------------

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	require.NoError(t, m.To(StateModerating))
	require.Error(t, m.To(StateDone), "cannot skip to DONE")
	assert.Equal(t, StateModerating, m.State())

	require.NoError(t, m.To(StateFailed))
	assert.True(t, m.State().Terminal())
	for _, next := range []State{StateModerating, StateTranslating, StateDone, StateFailed} {
		assert.Error(t, m.To(next), "terminal state must reject %s", next)
	}
}

func TestMachine_HappyPath(t *testing.T) {
	m := NewMachine()
	for _, next := range []State{StateModerating, StateTranslating, StateGenerating, StateValidating, StateSharing, StateDone} {
		require.NoError(t, m.To(next))
	}
	assert.Equal(t, "DONE", m.State().String())
}

func TestNDJSONWriter_RejectsAfterTerminal(t *testing.T) {
	var buf bytes.Buffer
	w := NewNDJSONWriter(&buf)

	require.NoError(t, w.Emit(protocol.Status("a")))
	require.NoError(t, w.Emit(protocol.Done()))
	assert.ErrorIs(t, w.Emit(protocol.Status("late")), ErrClosed)
	assert.Equal(t, 2, w.Written())
	assert.Equal(t, 2, bytes.Count(buf.Bytes(), []byte("\n")))
}
