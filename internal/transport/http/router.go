package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	consentHandler "consentledger/internal/consent/handler"
	"consentledger/internal/platform/health"
	"consentledger/pkg/platform/middleware/auth"
	"consentledger/pkg/platform/middleware/request"
	"consentledger/pkg/platform/middleware/requesttime"
	"consentledger/pkg/platform/validation"
)

// Deps are the pieces the router mounts. Health, Metrics and Gatherer are optional.
type Deps struct {
	Logger      *slog.Logger
	Consent     *consentHandler.Handler
	Health      *health.Handler
	Validator   auth.JWTValidator
	Metrics     *request.Metrics
	Gatherer    prometheus.Gatherer
	Timeout     time.Duration
	MaxBodySize int64
	TrustProxy  bool
}

// NewRouter wires the public endpoints with middleware. Probes and /metrics
// are unauthenticated; every consent route requires a bearer token.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	maxBody := d.MaxBodySize
	if maxBody <= 0 {
		maxBody = validation.MaxBodySize
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.ClientIP(d.TrustProxy))
	r.Use(request.ClientAgent)
	r.Use(request.Recovery(logger))
	r.Use(request.Logger(logger))
	r.Use(request.Latency(d.Metrics))
	r.Use(requesttime.Middleware)

	if d.Health != nil {
		d.Health.Register(r)
	}
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(request.BodyLimit(maxBody))
		r.Use(request.ContentTypeJSON)
		if d.Timeout > 0 {
			r.Use(request.Timeout(d.Timeout))
		}
		r.Use(auth.RequireAuth(d.Validator, logger))
		d.Consent.Register(r)
	})

	return r
}
