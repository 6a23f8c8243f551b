package submission

import (
	"context"
	"encoding/json"
	"time"
)

// Store persists submissions. Implementations must make Transition a single
// conditional write so concurrent workers cannot move a row backwards.
type Store interface {
	// Create inserts s with status RECEIVED, filling ID and timestamps.
	Create(ctx context.Context, s *Submission) error
	// Get loads a submission regardless of owner.
	Get(ctx context.Context, id string) (Submission, error)
	// FindOwned loads a submission only if it belongs to userID. Absent and
	// foreign rows both return ErrNotFound.
	FindOwned(ctx context.Context, id, userID string) (Submission, error)
	// Transition moves id from status from to status to, storing result for
	// terminal statuses. Returns ErrInvalidTransition when the row is not in
	// status from or the step is not allowed.
	Transition(ctx context.Context, id string, from, to Status, result json.RawMessage) error
	// ListStale returns RECEIVED submissions last touched before cutoff and
	// republished fewer than maxRepublish times (no cap when <= 0), oldest
	// first.
	ListStale(ctx context.Context, cutoff time.Time, maxRepublish, limit int) ([]Submission, error)
	// MarkRepublished claims a stale RECEIVED row for one more republish: it
	// bumps the republish count and updated_at, returning the new count.
	// Returns ErrNotStale when the row moved on or was touched after cutoff.
	MarkRepublished(ctx context.Context, id string, cutoff time.Time) (int, error)
}
