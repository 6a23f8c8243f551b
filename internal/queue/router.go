package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"

	"github.com/RaghavMadan07/Agri/internal/config"
	"github.com/RaghavMadan07/Agri/internal/obs"
)

// RouterConfig controls retries and dead-lettering for consumer handlers.
type RouterConfig struct {
	CloseTimeout         time.Duration
	MaxRetries           int
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration
	RetryMultiplier      float64
	PoisonTopic          string
}

// RouterConfigFrom maps queue settings onto the router.
func RouterConfigFrom(cfg config.QueueConfig) RouterConfig {
	return RouterConfig{
		CloseTimeout:         30 * time.Second,
		MaxRetries:           cfg.MaxRetries,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		RetryMultiplier:      2.0,
		PoisonTopic:          cfg.DLQTopic,
	}
}

// NewRouter returns a watermill router whose handlers are wrapped, outermost
// first, in: poison queue, retry with backoff, panic recovery. A handler
// error that survives MaxRetries, or any error wrapping ErrPoison, is
// published to PoisonTopic and the original message is acked.
func NewRouter(cfg RouterConfig, poisonPub message.Publisher, logger watermill.LoggerAdapter) (*message.Router, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	if poisonPub == nil || cfg.PoisonTopic == "" {
		return nil, errors.New("queue: poison publisher and topic required")
	}

	r, err := message.NewRouter(message.RouterConfig{CloseTimeout: cfg.CloseTimeout}, logger)
	if err != nil {
		return nil, fmt.Errorf("create router: %w", err)
	}

	poison, err := middleware.PoisonQueue(countingPublisher{poisonPub}, cfg.PoisonTopic)
	if err != nil {
		return nil, fmt.Errorf("create poison queue middleware: %w", err)
	}
	retry := middleware.Retry{
		MaxRetries:      cfg.MaxRetries,
		InitialInterval: cfg.RetryInitialInterval,
		MaxInterval:     cfg.RetryMaxInterval,
		Multiplier:      cfg.RetryMultiplier,
		Logger:          logger,
	}

	r.AddMiddleware(
		poison,
		skipRetryOnPoison(retry.Middleware),
		middleware.Recoverer,
	)
	return r, nil
}

// skipRetryOnPoison lets ErrPoison short-circuit the retry loop while still
// surfacing the error to the poison queue above it.
func skipRetryOnPoison(retry message.HandlerMiddleware) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			var poisoned error
			inner := func(m *message.Message) ([]*message.Message, error) {
				msgs, err := h(m)
				if errors.Is(err, ErrPoison) {
					poisoned = err
					return msgs, nil
				}
				return msgs, err
			}
			msgs, err := retry(inner)(msg)
			if poisoned != nil {
				return nil, poisoned
			}
			return msgs, err
		}
	}
}

type countingPublisher struct {
	message.Publisher
}

func (p countingPublisher) Publish(topic string, msgs ...*message.Message) error {
	if err := p.Publisher.Publish(topic, msgs...); err != nil {
		return err
	}
	obs.MessagesPoisoned.Add(float64(len(msgs)))
	return nil
}
