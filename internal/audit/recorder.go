package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/whisper/verdict-app/internal/metrics"
	"github.com/whisper/verdict-app/internal/moderation"
)

// Repeat-offender detection: a client blocked RepeatThreshold or more times
// within RepeatWindow is flagged in logs and metrics.
const (
	RepeatWindow    = time.Hour
	RepeatThreshold = 3
)

// EventStore persists moderation outcomes and counts recent ones.
type EventStore interface {
	Insert(ctx context.Context, ev moderation.OutcomeEvent) error
	CountRecent(ctx context.Context, clientHash string, decision moderation.Kind, window time.Duration) (int, error)
}

// Recorder turns moderation.outcome messages into stored rows.
type Recorder struct {
	store   EventStore
	timeout time.Duration
	logger  *zap.Logger
}

// NewRecorder creates a Recorder with a per-message write timeout.
func NewRecorder(store EventStore, timeout time.Duration, logger *zap.Logger) *Recorder {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{store: store, timeout: timeout, logger: logger.Named("audit")}
}

// Handle decodes and stores one message. Malformed messages are dropped
// with an error; they are never retried.
func (r *Recorder) Handle(ctx context.Context, data []byte) error {
	var ev moderation.OutcomeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("audit: decode outcome: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	if err := r.store.Insert(ctx, ev); err != nil {
		metrics.AuditEventsTotal.WithLabelValues("failed").Inc()
		return err
	}
	metrics.AuditEventsTotal.WithLabelValues("stored").Inc()
	r.logger.Debug("stored outcome",
		zap.String("request_id", ev.RequestID),
		zap.String("decision", string(ev.Decision)))

	if ev.Decision == moderation.KindBlock {
		r.checkRepeat(ctx, ev.ClientHash)
	}
	return nil
}

// checkRepeat flags clients that keep submitting blocked cases. The row is
// already stored, so a failed count is only logged.
func (r *Recorder) checkRepeat(ctx context.Context, clientHash string) {
	n, err := r.store.CountRecent(ctx, clientHash, moderation.KindBlock, RepeatWindow)
	if err != nil {
		r.logger.Warn("count recent blocks", zap.Error(err))
		return
	}
	if n >= RepeatThreshold {
		metrics.AuditRepeatBlocks.Inc()
		r.logger.Warn("repeat blocked client",
			zap.String("client_hash", clientHash),
			zap.Int("blocks", n),
			zap.Duration("window", RepeatWindow))
	}
}
