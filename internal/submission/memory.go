package submission

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/RaghavMadan07/Agri/internal/ids"
)

var _ Store = (*InMemory)(nil)

// InMemory implements Store with in-process concurrency safety.
type InMemory struct {
	mu          sync.RWMutex
	rows        map[string]*Submission
	republished map[string]int
	now         func() time.Time
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		rows:        make(map[string]*Submission),
		republished: make(map[string]int),
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the timestamp source.
func (m *InMemory) SetClock(fn func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = fn
}

func (m *InMemory) Create(_ context.Context, s *Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s.ID == "" {
		s.ID = ids.New()
	}
	if _, ok := m.rows[s.ID]; ok {
		return fmt.Errorf("submission %s already exists", s.ID)
	}
	now := m.now()
	s.Status = StatusReceived
	s.AnalysisResult = nil
	s.CreatedAt = now
	s.UpdatedAt = now
	row := *s
	m.rows[s.ID] = &row
	return nil
}

func (m *InMemory) Get(_ context.Context, id string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok {
		return Submission{}, ErrNotFound
	}
	return copyOf(row), nil
}

func (m *InMemory) FindOwned(_ context.Context, id, userID string) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	row, ok := m.rows[id]
	if !ok || row.UserID != userID {
		return Submission{}, ErrNotFound
	}
	return copyOf(row), nil
}

func (m *InMemory) Transition(_ context.Context, id string, from, to Status, result json.RawMessage) error {
	if err := CheckTransition(from, to, result); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return ErrNotFound
	}
	if row.Status != from {
		return fmt.Errorf("%w: %s is %s, not %s", ErrInvalidTransition, id, row.Status, from)
	}
	row.Status = to
	if len(result) > 0 {
		row.AnalysisResult = append(json.RawMessage(nil), result...)
	}
	row.UpdatedAt = m.now()
	return nil
}

func (m *InMemory) ListStale(_ context.Context, cutoff time.Time, maxRepublish, limit int) ([]Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Submission
	for id, row := range m.rows {
		if row.Status != StatusReceived || !row.UpdatedAt.Before(cutoff) {
			continue
		}
		if maxRepublish > 0 && m.republished[id] >= maxRepublish {
			continue
		}
		out = append(out, copyOf(row))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *InMemory) MarkRepublished(_ context.Context, id string, cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[id]
	if !ok {
		return 0, ErrNotFound
	}
	if row.Status != StatusReceived || !row.UpdatedAt.Before(cutoff) {
		return 0, fmt.Errorf("%w: %s", ErrNotStale, id)
	}
	m.republished[id]++
	row.UpdatedAt = m.now()
	return m.republished[id], nil
}

func copyOf(row *Submission) Submission {
	out := *row
	if row.AnalysisResult != nil {
		out.AnalysisResult = append(json.RawMessage(nil), row.AnalysisResult...)
	}
	return out
}
