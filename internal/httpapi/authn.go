package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/RaghavMadan07/Agri/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

var errMissingToken = errors.New("missing bearer token")

// Authenticator validates session tokens.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// withAuth rejects requests without a bearer token with 403 and requests
// with an unusable token with 401.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if errors.Is(err, errMissingToken) {
			writeError(w, r, http.StatusForbidden, codeTokenRequired, msgTokenRequired)
			return
		}
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, codeInvalidToken, msgInvalidToken)
			return
		}

		principal, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			if errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusUnauthorized, codeInvalidToken, msgInvalidToken)
				return
			}
			internalError(w, r, err, msgInternal)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
