package obs

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// WatermillLogger adapts a zerolog logger to watermill.LoggerAdapter so broker
// and router logs share the service log stream.
type WatermillLogger struct {
	log zerolog.Logger
}

var _ watermill.LoggerAdapter = WatermillLogger{}

// NewWatermillLogger wraps l, tagging entries with component=queue.
func NewWatermillLogger(l zerolog.Logger) WatermillLogger {
	return WatermillLogger{log: l.With().Str("component", "queue").Logger()}
}

func (w WatermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.log.Error().Err(err).Fields(map[string]any(fields)).Msg(msg)
}

func (w WatermillLogger) Info(msg string, fields watermill.LogFields) {
	w.log.Info().Fields(map[string]any(fields)).Msg(msg)
}

func (w WatermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.log.Debug().Fields(map[string]any(fields)).Msg(msg)
}

func (w WatermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.log.Trace().Fields(map[string]any(fields)).Msg(msg)
}

func (w WatermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return WatermillLogger{log: w.log.With().Fields(map[string]any(fields)).Logger()}
}
