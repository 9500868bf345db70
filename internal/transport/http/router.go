// Package httptransport serves the ops surface: health probes, Prometheus
// metrics and read-only ledger queries for capability holders.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	credential "credline/internal/credential/models"
	lending "credline/internal/lending/models"
	"credline/internal/platform/metrics"
	scoring "credline/internal/scoring/models"
	"credline/pkg/capability"
	id "credline/pkg/domain"
	dErrors "credline/pkg/domain-errors"
	audit "credline/pkg/platform/audit"
	"credline/pkg/platform/httputil"
	"credline/pkg/platform/middleware/auth"
	"credline/pkg/platform/middleware/request"
	"credline/pkg/platform/middleware/requesttime"
	"credline/pkg/requestcontext"
)

const (
	defaultFeedLimit = 100
	maxFeedLimit     = 1000
	requestTimeout   = 30 * time.Second
)

// Ledger is the read side of the ledger used by the HTTP surface.
type Ledger interface {
	ListEvents(ctx context.Context, subject id.Address) ([]audit.Event, error)
	RecentEvents(ctx context.Context, limit int) ([]audit.Event, error)
	GetScore(ctx context.Context, subject id.Address) (*scoring.Record, error)
	GetUserSBT(ctx context.Context, subject id.Address) (*credential.Credential, error)
	LoansByBorrower(ctx context.Context, borrower id.Address) ([]*lending.Loan, error)
}

// Check is a named readiness probe.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Handler is the thin HTTP layer. It delegates to the ledger without
// embedding business logic.
type Handler struct {
	ledger   Ledger
	verifier auth.Verifier
	logger   *slog.Logger
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	checks   []Check
	limiter  func(http.Handler) http.Handler
	timeout  time.Duration
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

// WithMetrics exposes registry at /metrics and records request metrics in m.
func WithMetrics(m *metrics.Metrics, registry *prometheus.Registry) Option {
	return func(h *Handler) {
		h.metrics = m
		h.registry = registry
	}
}

func WithReadinessCheck(name string, fn func(ctx context.Context) error) Option {
	return func(h *Handler) {
		h.checks = append(h.checks, Check{Name: name, Fn: fn})
	}
}

// WithRateLimit applies limiter to authenticated routes, after the caller is
// known.
func WithRateLimit(limiter func(http.Handler) http.Handler) Option {
	return func(h *Handler) {
		h.limiter = limiter
	}
}

// WithRequestTimeout bounds each /v1 request. Requests that run past it get
// 504.
func WithRequestTimeout(d time.Duration) Option {
	return func(h *Handler) {
		if d > 0 {
			h.timeout = d
		}
	}
}

func NewHandler(ledger Ledger, verifier auth.Verifier, opts ...Option) *Handler {
	h := &Handler{
		ledger:   ledger,
		verifier: verifier,
		logger:   slog.Default(),
		timeout:  requestTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewRouter wires the ops endpoints. Ledger reads require a capability; a
// holder may read only its own records.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(request.Recovery(h.logger))
	r.Use(request.RequestID)
	var observer request.Observer
	if h.metrics != nil {
		observer = h.metrics
	}
	r.Use(request.Logger(h.logger, observer, routePattern))

	r.Get("/healthz", h.handleLiveness)
	r.Get("/readyz", h.handleReadiness)
	if h.registry != nil {
		r.Method(http.MethodGet, "/metrics", metrics.Handler(h.registry))
	}

	if h.verifier != nil {
		r.Route("/v1", func(v1 chi.Router) {
			v1.Use(requesttime.Middleware(nil))
			v1.Use(chimw.Timeout(h.timeout))
			v1.Use(auth.RequireCapability(h.verifier, h.logger))
			if h.limiter != nil {
				v1.Use(h.limiter)
			}

			v1.Get("/subjects/{subject}/events", h.handleSubjectEvents)
			v1.Get("/subjects/{subject}/score", h.handleScore)
			v1.Get("/subjects/{subject}/credential", h.handleCredential)
			v1.Get("/subjects/{subject}/loans", h.handleLoans)

			v1.With(auth.RequireRole(capability.RoleOperator, h.logger)).Get("/events", h.handleRecentEvents)
		})
	}
	return r
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}

// subjectParam parses {subject} and enforces that holders read only their
// own records.
func (h *Handler) subjectParam(w http.ResponseWriter, r *http.Request) (id.Address, bool) {
	subject, err := id.ParseAddress(chi.URLParam(r, "subject"))
	if err != nil {
		httputil.WriteError(w, err)
		return "", false
	}
	ctx := r.Context()
	if auth.GetRole(ctx) != capability.RoleOperator && requestcontext.Caller(ctx) != subject {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotAuthorized, "capability does not cover this subject"))
		return "", false
	}
	return subject, true
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, v any, err error) {
	if err != nil {
		if dErrors.CodeOf(err) == "" || dErrors.HasCode(err, dErrors.CodeInternal) {
			h.logger.ErrorContext(r.Context(), "ledger query failed",
				"path", r.URL.Path,
				"error", err,
				"request_id", request.GetRequestID(r.Context()),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func parseLimit(raw string) (int, error) {
	if raw == "" {
		return defaultFeedLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "limit must be a positive integer")
	}
	return min(n, maxFeedLimit), nil
}
