// Package worker consumes work messages and records analysis outcomes.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	gojson "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/queue"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

const failureMessage = "Failed to analyze image."

// Processor drives one submission from RECEIVED to a terminal status.
type Processor struct {
	subs     submission.Store
	analyzer Analyzer
	log      zerolog.Logger

	fusionPub   message.Publisher
	fusionTopic string
}

type Option func(*Processor)

// WithFusion publishes a completion notice to topic after every COMPLETED
// submission.
func WithFusion(pub message.Publisher, topic string) Option {
	return func(p *Processor) {
		p.fusionPub = pub
		p.fusionTopic = topic
	}
}

func NewProcessor(subs submission.Store, analyzer Analyzer, log zerolog.Logger, opts ...Option) *Processor {
	p := &Processor{subs: subs, analyzer: analyzer, log: log.With().Str("component", "worker").Logger()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Handle is a watermill consumer handler. Store errors are returned so the
// router retries; malformed or unknown messages are poison. Redelivery of an
// already finished submission is acknowledged without work, except that a
// COMPLETED one re-sends its fusion notice.
func (p *Processor) Handle(msg *message.Message) error {
	ctx := msg.Context()
	work, err := queue.Decode(msg)
	if err != nil {
		p.log.Warn().Err(err).Str("message_uuid", msg.UUID).Msg("malformed work message")
		return err
	}
	log := p.log.With().Str("submission_id", work.SubmissionID).Logger()

	sub, err := p.subs.Get(ctx, work.SubmissionID)
	if errors.Is(err, submission.ErrNotFound) {
		return fmt.Errorf("%w: unknown submission %s", queue.ErrPoison, work.SubmissionID)
	}
	if err != nil {
		return fmt.Errorf("load submission: %w", err)
	}

	switch sub.Status {
	case submission.StatusCompleted, submission.StatusFailed:
		log.Info().Str("status", string(sub.Status)).Msg("already finished; skipping redelivery")
		if sub.Status == submission.StatusCompleted {
			return p.notifyFusion(sub.ID, log)
		}
		return nil
	case submission.StatusReceived:
		err := p.subs.Transition(ctx, sub.ID, submission.StatusReceived, submission.StatusProcessing, nil)
		if errors.Is(err, submission.ErrInvalidTransition) {
			// another delivery claimed it first
			log.Info().Msg("submission claimed concurrently")
			return nil
		}
		if err != nil {
			return fmt.Errorf("mark processing: %w", err)
		}
	case submission.StatusProcessing:
		log.Info().Msg("resuming submission left in PROCESSING")
	}

	log.Info().Str("file_path", work.FilePath).Msg("analysis started")
	status, result := p.analyze(ctx, work.FilePath, log)

	err = p.subs.Transition(ctx, sub.ID, submission.StatusProcessing, status, result)
	if errors.Is(err, submission.ErrInvalidTransition) {
		log.Info().Msg("submission finished by another delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("record %s: %w", status, err)
	}
	obs.SubmissionsFinished.WithLabelValues(string(status)).Inc()
	log.Info().Str("status", string(status)).Msg("analysis finished")
	if status == submission.StatusCompleted {
		return p.notifyFusion(sub.ID, log)
	}
	return nil
}

// notifyFusion errors are retried by the router; the retry finds the row
// COMPLETED and lands back here.
func (p *Processor) notifyFusion(id string, log zerolog.Logger) error {
	if p.fusionPub == nil || p.fusionTopic == "" {
		return nil
	}
	msg, err := queue.NewCompletedMessage(id, p.fusionTopic)
	if err != nil {
		return err
	}
	if err := p.fusionPub.Publish(p.fusionTopic, msg); err != nil {
		return fmt.Errorf("publish fusion notice: %w", err)
	}
	log.Info().Str("topic", p.fusionTopic).Msg("sent to fusion")
	return nil
}

func (p *Processor) analyze(ctx context.Context, filePath string, log zerolog.Logger) (submission.Status, json.RawMessage) {
	result, err := p.analyzer.Analyze(ctx, filePath)
	if err == nil {
		return submission.StatusCompleted, result
	}
	log.Warn().Err(err).Msg("analysis failed; marking FAILED")
	detail, mErr := gojson.Marshal(submission.FailureDetail{Error: failureMessage, Details: err.Error()})
	if mErr != nil {
		detail = json.RawMessage(`{"error":"` + failureMessage + `"}`)
	}
	return submission.StatusFailed, detail
}
