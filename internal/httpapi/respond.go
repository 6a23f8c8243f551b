package httpapi

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/goccy/go-json"

	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/ingest"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

// Stable error codes returned in the "code" field.
const (
	codeValidation         = "validation_error"
	codeTokenRequired      = "token_required"
	codeInvalidToken       = "invalid_token"
	codeInvalidCredentials = "invalid_credentials"
	codeConflict           = "conflict"
	codeNotFound           = "not_found"
	codeInternal           = "internal_error"
	codeRateLimited        = "rate_limited"
	codeMethodNotAllowed   = "method_not_allowed"
)

const (
	msgReceived         = "Your submission has been received and is being processed."
	msgNotFound         = "Submission not found or you do not have permission to view it."
	msgInternal         = "An internal error occurred."
	msgInternalIngest   = "An internal error occurred during submission."
	msgTokenRequired    = "A token is required for authentication"
	msgInvalidToken     = "Invalid Token"
	msgInvalidCreds     = "Invalid credentials"
	msgUsernameConflict = "Username already exists."
)

type errorResponse struct {
	Error     string            `json:"error"`
	Code      string            `json:"code"`
	RequestID string            `json:"request_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code, RequestID: RequestIDFromContext(r)})
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusMethodNotAllowed, codeMethodNotAllowed, "method not allowed")
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, codeNotFound, "not found")
}

// decodeJSON reads a single JSON object of at most 1MB, rejecting unknown
// fields and trailing data.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	if dec.More() {
		return errors.New("request body must contain a single JSON object")
	}
	return nil
}

func handleAuthError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, codeValidation, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case errors.Is(err, auth.ErrAlreadyExists):
		writeError(w, r, http.StatusConflict, codeConflict, msgUsernameConflict)
	case errors.Is(err, auth.ErrUnauthorized):
		writeError(w, r, http.StatusUnauthorized, codeInvalidCredentials, msgInvalidCreds)
	case errors.Is(err, auth.ErrInvalidToken):
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, msgInvalidToken)
	default:
		internalError(w, r, err, msgInternal)
	}
}

func handleIngestError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var verr *ingest.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:     verr.Message,
			Code:      codeValidation,
			RequestID: RequestIDFromContext(r),
			Fields:    verr.Fields,
		})
	case errors.Is(err, ingest.ErrUnauthenticated):
		writeError(w, r, http.StatusUnauthorized, codeInvalidToken, msgInvalidToken)
	case errors.Is(err, submission.ErrNotFound):
		writeError(w, r, http.StatusNotFound, codeNotFound, msgNotFound)
	default:
		internalError(w, r, err, fallback)
	}
}

func internalError(w http.ResponseWriter, r *http.Request, err error, msg string) {
	log := obs.Logger()
	log.Error().
		Err(err).
		Str("request_id", RequestIDFromContext(r)).
		Str("path", r.URL.Path).
		Msg("request failed")
	writeError(w, r, http.StatusInternalServerError, codeInternal, msg)
}
