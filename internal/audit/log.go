// Package audit records security relevant events on the service log stream.
package audit

import (
	"context"
	"errors"
	"strings"

	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier to the context for audit logging.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext returns the request id set by WithRequestID.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent writes an audit entry enriched with request and user context.
// Callers must not pass secrets in fields.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	log := obs.Logger()
	e := log.Info().Str("type", "audit").Str("event", event)
	if rid := RequestIDFromContext(ctx); rid != "" {
		e = e.Str("request_id", rid)
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		e = e.Str("user_id", p.UserID)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	e.Interface("fields", fields).Msg(event)
	return nil
}
