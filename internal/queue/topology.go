package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/RaghavMadan07/Agri/internal/config"
)

// JetStreamContext is the subset of jetstream.JetStream used to provision streams.
type JetStreamContext interface {
	Stream(ctx context.Context, name string) (jetstream.Stream, error)
	CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
	UpdateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error)
}

// Topology owns the work stream, its dead-letter stream and, when a fusion
// topic is configured, the completion stream.
type Topology struct {
	js      JetStreamContext
	streams []jetstream.StreamConfig
}

func NewTopology(js JetStreamContext, cfg config.QueueConfig) (*Topology, error) {
	if js == nil {
		return nil, errors.New("queue: JetStream context required")
	}
	work := jetstream.StreamConfig{
		Name:       cfg.Stream,
		Subjects:   []string{cfg.Topic},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     7 * 24 * time.Hour,
		Duplicates: cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}
	dlq := jetstream.StreamConfig{
		Name:       cfg.DLQStream,
		Subjects:   []string{cfg.DLQTopic},
		Retention:  jetstream.LimitsPolicy,
		MaxAge:     30 * 24 * time.Hour,
		Duplicates: cfg.DuplicateWindow,
		Storage:    jetstream.FileStorage,
		Discard:    jetstream.DiscardOld,
	}
	streams := []jetstream.StreamConfig{work, dlq}
	if cfg.FusionTopic != "" {
		streams = append(streams, jetstream.StreamConfig{
			Name:       cfg.Stream + "_FUSION",
			Subjects:   []string{cfg.FusionTopic},
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     7 * 24 * time.Hour,
			Duplicates: cfg.DuplicateWindow,
			Storage:    jetstream.FileStorage,
			Discard:    jetstream.DiscardOld,
		})
	}
	return &Topology{js: js, streams: streams}, nil
}

// Ensure creates missing streams and updates existing ones. Safe to repeat.
func (t *Topology) Ensure(ctx context.Context) error {
	for _, sc := range t.streams {
		_, err := t.js.Stream(ctx, sc.Name)
		switch {
		case err == nil:
			if _, err := t.js.UpdateStream(ctx, sc); err != nil {
				return fmt.Errorf("update stream %s: %w", sc.Name, err)
			}
		case errors.Is(err, jetstream.ErrStreamNotFound):
			if _, err := t.js.CreateStream(ctx, sc); err != nil {
				return fmt.Errorf("create stream %s: %w", sc.Name, err)
			}
		default:
			return fmt.Errorf("check stream %s: %w", sc.Name, err)
		}
	}
	return nil
}

// Check reports whether every stream is reachable. Used by readiness probes.
func (t *Topology) Check(ctx context.Context) error {
	for _, sc := range t.streams {
		if _, err := t.js.Stream(ctx, sc.Name); err != nil {
			return fmt.Errorf("stream %s: %w", sc.Name, err)
		}
	}
	return nil
}
