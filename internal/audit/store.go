// Package audit provides PostgreSQL-backed storage for moderation outcomes.
// Each row records what was decided for a pseudonymous client, never the
// submitted text.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"time"

	"github.com/whisper/verdict-app/internal/moderation"
)

// validDecisions matches the CHECK constraint on the moderation_events table.
var validDecisions = map[moderation.Kind]bool{
	moderation.KindAllow:   true,
	moderation.KindRewrite: true,
	moderation.KindBlock:   true,
}

// Store manages moderation events in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a new audit store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Insert persists one moderation outcome. The decision is validated against
// the allowed set before insertion.
func (s *Store) Insert(ctx context.Context, ev moderation.OutcomeEvent) error {
	if !validDecisions[ev.Decision] {
		return fmt.Errorf("audit: invalid decision %q", ev.Decision)
	}
	if ev.RequestID == "" || ev.ClientHash == "" {
		return fmt.Errorf("audit: request_id and client_hash are required")
	}

	const query = `
		INSERT INTO moderation_events (request_id, client_hash, decision, reason, source, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.db.ExecContext(ctx, query,
		ev.RequestID,
		ev.ClientHash,
		string(ev.Decision),
		ev.Reason,
		ev.Source,
		time.UnixMilli(ev.Ts).UTC(),
	)
	if err != nil {
		return fmt.Errorf("audit: insert: %w", err)
	}
	return nil
}

// CountRecent returns how many times a client was given decision within
// the window ending now. The window is sent to Postgres in whole seconds.
func (s *Store) CountRecent(ctx context.Context, clientHash string, decision moderation.Kind, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM moderation_events
		WHERE client_hash = $1
		  AND decision = $2
		  AND decided_at >= NOW() - $3::interval`

	var count int
	err := s.db.QueryRowContext(ctx, query, clientHash, string(decision), intervalSeconds(window)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: count recent: %w", err)
	}
	return count, nil
}

// intervalSeconds formats d as a Postgres interval literal, rounded up to
// at least one second.
func intervalSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%d seconds", secs)
}
