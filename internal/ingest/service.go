// Package ingest accepts crop image submissions and reports their status.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/filestore"
	"github.com/RaghavMadan07/Agri/internal/ids"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

var (
	ErrUnauthenticated = errors.New("ingest: authentication required")
	// ErrEnqueue means the submission was stored but not queued. The
	// reconciliation sweep picks it up later.
	ErrEnqueue = errors.New("ingest: submission stored but not queued")
)

// Publisher enqueues analysis work.
type Publisher interface {
	Publish(ctx context.Context, w queue.WorkMessage) error
}

// Upload is the image part of a submission.
type Upload struct {
	Filename    string
	ContentType string
	Body        io.Reader
}

// Receipt is returned once the work message has been accepted by the broker.
type Receipt struct {
	SubmissionID string
	StatusURL    string
}

type Service struct {
	files filestore.Store
	subs  submission.Store
	queue Publisher
	log   zerolog.Logger
}

type Option func(*Service)

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func NewService(files filestore.Store, subs submission.Store, pub Publisher, opts ...Option) *Service {
	s := &Service{files: files, subs: subs, queue: pub, log: obs.Logger()}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With().Str("component", "ingest").Logger()
	return s
}

// Submit validates the metadata, stores the image, records the submission as
// RECEIVED and enqueues it, in that order. A failure at any step stops the
// later ones.
func (s *Service) Submit(ctx context.Context, p auth.Principal, up Upload, md Metadata) (Receipt, error) {
	if p.UserID == "" {
		return Receipt{}, ErrUnauthenticated
	}
	if up.Body == nil {
		return Receipt{}, newValidationError("no file uploaded")
	}
	if err := validateMetadata(md); err != nil {
		return Receipt{}, err
	}
	stage, err := submission.ParseGrowthStage(md.GrowthStage)
	if err != nil {
		return Receipt{}, newValidationError(err.Error())
	}

	path, err := s.files.Save(ctx, up.Filename, up.ContentType, up.Body)
	if err != nil {
		return Receipt{}, fmt.Errorf("store upload: %w", err)
	}

	sub := &submission.Submission{
		UserID:           p.UserID,
		OriginalFilename: up.Filename,
		StoragePath:      path,
		Latitude:         *md.Latitude,
		Longitude:        *md.Longitude,
		GrowthStage:      stage,
	}
	if err := s.subs.Create(ctx, sub); err != nil {
		s.log.Error().Err(err).Str("storage_path", path).Msg("submission insert failed")
		return Receipt{}, fmt.Errorf("record submission: %w", err)
	}

	if err := s.queue.Publish(ctx, queue.WorkMessage{SubmissionID: sub.ID, FilePath: path}); err != nil {
		obs.PublishFailures.Inc()
		s.log.Error().Err(err).Str("submission_id", sub.ID).Msg("enqueue failed; left for reconciliation")
		return Receipt{}, fmt.Errorf("%w: %v", ErrEnqueue, err)
	}

	obs.SubmissionsReceived.Inc()
	s.log.Info().
		Str("submission_id", sub.ID).
		Str("user_id", p.UserID).
		Str("growth_stage", string(stage)).
		Msg("submission received")
	return Receipt{SubmissionID: sub.ID, StatusURL: "/status/" + sub.ID}, nil
}

// Status returns the owner's view of a submission. Absent and foreign
// submissions are both ErrNotFound.
func (s *Service) Status(ctx context.Context, p auth.Principal, id string) (submission.StatusView, error) {
	if p.UserID == "" {
		return submission.StatusView{}, ErrUnauthenticated
	}
	if !ids.Valid(id) {
		return submission.StatusView{}, submission.ErrNotFound
	}
	sub, err := s.subs.FindOwned(ctx, id, p.UserID)
	if err != nil {
		return submission.StatusView{}, err
	}
	return submission.NewStatusView(sub), nil
}
