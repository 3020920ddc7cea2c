// Package ratelimit provides fixed-window rate limiting per client
// identifier. Window state lives behind the Store interface so a single
// process can count in memory while a fleet shares counters in Redis.
//
// Fixed windows allow bursts around the window boundary; this is accepted.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the key prefix, maximum number of
// calls allowed in the window, and the window duration.
type Rule struct {
	Key    string        // key prefix, e.g. "rl:verdict:"
	Limit  int           // max count in the window
	Window time.Duration // window length
}

// RuleVerdict allows 30 verdict requests per day per client.
var RuleVerdict = Rule{Key: "rl:verdict:", Limit: 30, Window: 24 * time.Hour}

// Window is the state of one identifier's current window.
type Window struct {
	Count   int
	ResetAt time.Time
}

// Store holds window state. Take must be atomic per key: it starts a fresh
// window when none is live, increments the count unless it already reached
// limit, and reports whether the call was counted.
type Store interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (Window, bool, error)
}

// Decision is the result of a Check.
type Decision struct {
	Allowed           bool
	Remaining         int
	ResetAt           time.Time
	RetryAfterSeconds int
}

// Limiter applies a Rule against a Store.
type Limiter struct {
	store  Store
	rule   Rule
	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *Limiter) { l.logger = logger.Named("ratelimit") }
}

// NewLimiter creates a Limiter for rule backed by store.
func NewLimiter(store Store, rule Rule, opts ...Option) *Limiter {
	l := &Limiter{store: store, rule: rule, now: time.Now, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Rule returns the policy the limiter enforces.
func (l *Limiter) Rule() Rule {
	return l.rule
}

// Check counts one call for identifier. Rejected calls are not counted.
//
// On store errors the returned decision allows the call and the error is
// returned as well, so callers can fail open without losing the signal.
func (l *Limiter) Check(ctx context.Context, identifier string) (Decision, error) {
	key := l.rule.Key + identifier

	win, counted, err := l.store.Take(ctx, key, l.rule.Limit, l.rule.Window)
	if err != nil {
		l.logger.Warn("store error, failing open", zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Remaining: l.rule.Limit}, fmt.Errorf("ratelimit: take %s: %w", key, err)
	}

	d := Decision{Allowed: counted, ResetAt: win.ResetAt}
	if counted {
		d.Remaining = l.rule.Limit - win.Count
		if d.Remaining < 0 {
			d.Remaining = 0
		}
		return d, nil
	}

	wait := win.ResetAt.Sub(l.now()).Seconds()
	d.RetryAfterSeconds = int(math.Ceil(wait))
	if d.RetryAfterSeconds < 1 {
		d.RetryAfterSeconds = 1
	}
	return d, nil
}
