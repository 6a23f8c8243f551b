// Package httpapi exposes the ingestion API over HTTP and a gRPC health
// service over the same readiness probe.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/RaghavMadan07/Agri/internal/auth"
	"github.com/RaghavMadan07/Agri/internal/config"
	"github.com/RaghavMadan07/Agri/internal/ingest"
	"github.com/RaghavMadan07/Agri/internal/obs"
	"github.com/RaghavMadan07/Agri/internal/submission"
)

const serviceName = "agri-ingest"

// Checker is one readiness dependency (database, queue).
type Checker interface {
	Check(ctx context.Context) error
}

// CheckFunc adapts a function to Checker.
type CheckFunc func(ctx context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

type namedCheck struct {
	name  string
	check Checker
}

// ReadyProbe runs every registered dependency check. The zero value is ready.
type ReadyProbe struct {
	checks  []namedCheck
	timeout time.Duration
}

func NewReadyProbe(timeout time.Duration) *ReadyProbe {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &ReadyProbe{timeout: timeout}
}

// Add registers a dependency check under name.
func (rp *ReadyProbe) Add(name string, c Checker) *ReadyProbe {
	rp.checks = append(rp.checks, namedCheck{name: name, check: c})
	return rp
}

// Check stops at the first failing dependency and records the outcome in
// the service_ready gauge.
func (rp *ReadyProbe) Check(ctx context.Context) error {
	if rp == nil {
		return nil
	}
	if rp.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rp.timeout)
		defer cancel()
	}
	for _, c := range rp.checks {
		if err := c.check.Check(ctx); err != nil {
			obs.SetReady(false)
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	obs.SetReady(true)
	return nil
}

// AuthService registers users, issues and validates session tokens.
type AuthService interface {
	Authenticator
	Register(ctx context.Context, username, password string) (auth.User, error)
	Login(ctx context.Context, username, password string) (auth.Token, error)
}

// IngestService accepts submissions and reports their status.
type IngestService interface {
	Submit(ctx context.Context, p auth.Principal, up ingest.Upload, md ingest.Metadata) (ingest.Receipt, error)
	Status(ctx context.Context, p auth.Principal, id string) (submission.StatusView, error)
}

// Options tunes the HTTP surface.
type Options struct {
	Version        string
	MaxUploadBytes int64
	RateBurst      int
	RatePerSec     int
	CORSOrigins    []string
	TrustedProxies []netip.Prefix
}

// OptionsFrom maps server configuration onto Options.
// Invalid trusted proxy entries are dropped; config.Validate rejects them
// first.
func OptionsFrom(cfg config.ServerConfig, version string) Options {
	trusted, _ := cfg.TrustedProxyPrefixes()
	return Options{
		Version:        version,
		MaxUploadBytes: cfg.MaxUploadBytes,
		RateBurst:      cfg.RateBurst,
		RatePerSec:     cfg.RatePerSec,
		CORSOrigins:    cfg.CORSOrigins,
		TrustedProxies: trusted,
	}
}

// API is the HTTP layer.
type API struct {
	auth           AuthService
	ingest         IngestService
	readyProbe     *ReadyProbe
	version        string
	maxUploadBytes int64
	limiter        *RateLimiter
	corsOrigins    []string
	trusted        []netip.Prefix
}

func New(authSvc AuthService, ingestSvc IngestService, rp *ReadyProbe, opts Options) *API {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	return &API{
		auth:           authSvc,
		ingest:         ingestSvc,
		readyProbe:     rp,
		version:        opts.Version,
		maxUploadBytes: opts.MaxUploadBytes,
		limiter:        NewRateLimiter(opts.RateBurst, opts.RatePerSec),
		corsOrigins:    opts.CORSOrigins,
		trusted:        opts.TrustedProxies,
	}
}

// Handler builds the router. Probes and metrics bypass the rate limiter.
func (a *API) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID, ClientIP(a.trusted), LoggingJSON, obs.Instrument, SecurityHeaders, CORS(a.corsOrigins))
	r.NotFound(notFound)
	r.MethodNotAllowed(methodNotAllowed)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Ready)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Group(func(r chi.Router) {
		r.Use(a.limiter.Middleware)

		r.Route("/auth", func(r chi.Router) {
			r.Use(MaxBodyBytes(1 << 20))
			r.Post("/register", a.handleRegister)
			r.Post("/login", a.handleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(a.withAuth)
			r.Post("/ingest", a.handleIngest)
			r.Get("/status/{id}", a.handleStatus)
		})
	})
	return r
}

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.version,
	})
}

func (a *API) Ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		log := obs.Logger()
		log.Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ready",
	})
}
