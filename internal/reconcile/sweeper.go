// Package reconcile re-enqueues submissions that were stored but never
// reached the work queue.
package reconcile

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

// Publisher enqueues analysis work.
type Publisher interface {
	Publish(ctx context.Context, w queue.WorkMessage) error
}

// StaleStore finds and claims RECEIVED submissions that nothing has touched
// since a cutoff.
type StaleStore interface {
	ListStale(ctx context.Context, cutoff time.Time, maxRepublish, limit int) ([]submission.Submission, error)
	MarkRepublished(ctx context.Context, id string, cutoff time.Time) (int, error)
}

type Config struct {
	Interval   time.Duration
	StaleAfter time.Duration
	BatchSize  int
	// MaxRepublish caps how often one submission is re-enqueued.
	MaxRepublish int
}

// Sweeper republishes stale submissions. Each republish is claimed in the
// store first, which restarts the row's staleness clock, so a row is sent at
// most once per StaleAfter and at most MaxRepublish times overall. The
// message UUID is the submission id, so a republish inside the broker
// duplicate window is dropped and one outside it is discarded by the worker's
// status guard.
type Sweeper struct {
	subs StaleStore
	pub  Publisher
	cfg  Config
	now  func() time.Time
	log  zerolog.Logger
}

func NewSweeper(subs StaleStore, pub Publisher, cfg Config, log zerolog.Logger) *Sweeper {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.MaxRepublish <= 0 {
		cfg.MaxRepublish = 5
	}
	return &Sweeper{
		subs: subs,
		pub:  pub,
		cfg:  cfg,
		now:  time.Now,
		log:  log.With().Str("component", "reconcile").Logger(),
	}
}

// Sweep runs one pass and returns how many submissions were republished.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.subs.ListStale(ctx, cutoff, s.cfg.MaxRepublish, s.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, sub := range stale {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		attempt, err := s.subs.MarkRepublished(ctx, sub.ID, cutoff)
		if errors.Is(err, submission.ErrNotStale) || errors.Is(err, submission.ErrNotFound) {
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID).Msg("claim stale submission failed")
			continue
		}
		err = s.pub.Publish(ctx, queue.WorkMessage{SubmissionID: sub.ID, FilePath: sub.StoragePath})
		if err != nil {
			s.log.Warn().Err(err).Str("submission_id", sub.ID).Int("attempt", attempt).Msg("republish failed")
		} else {
			n++
		}
		if attempt >= s.cfg.MaxRepublish {
			obs.RepublishExhausted.Inc()
			s.log.Warn().
				Str("submission_id", sub.ID).
				Int("attempts", attempt).
				Time("created_at", sub.CreatedAt).
				Msg("submission still RECEIVED after last republish; no further retries")
		}
	}
	if n > 0 {
		obs.Republished.Add(float64(n))
		s.log.Info().Int("republished", n).Int("stale", len(stale)).Msg("reconcile sweep")
	}
	return n, nil
}

// Serve runs Sweep every Interval until ctx ends. A zero interval disables
// the sweeper. Serve satisfies suture.Service.
func (s *Sweeper) Serve(ctx context.Context) error {
	if s.cfg.Interval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	t := time.NewTicker(s.cfg.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Error().Err(err).Msg("reconcile sweep failed")
			}
		}
	}
}

func (s *Sweeper) String() string { return "reconcile-sweeper" }
