package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stakemetrics/query-cost-api/internal/config"
	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
)

// EstimateStore is the persistence surface the HTTP handlers depend on.
type EstimateStore interface {
	InsertEstimate(ctx context.Context, est model.Estimate) error
	ListEstimates(ctx context.Context, filter *model.EstimateFilter) ([]*model.Estimate, error)
	Stats(ctx context.Context, since time.Time) (*model.EstimateStats, error)
	LastEstimatedAt(ctx context.Context) (*time.Time, error)
}

// Server holds the dependencies of the HTTP surface.
type Server struct {
	estimator     cost.Estimator
	store         EstimateStore
	logger        *slog.Logger
	metrics       *observability.Metrics
	maxQueryBytes int
	maxConcurrent int
}

// New builds a Server from configuration.
func New(cfg *config.Config, store EstimateStore, m *observability.Metrics, logger *slog.Logger) *Server {
	return &Server{
		estimator:     cost.Estimator{MaxDepth: cfg.MaxQueryDepth},
		store:         store,
		logger:        logger,
		metrics:       m,
		maxQueryBytes: cfg.MaxQueryBytes,
		maxConcurrent: cfg.MaxConcurrent,
	}
}

// Routes assembles the router: API endpoints behind the concurrency limiter,
// operational endpoints outside it so probes keep answering under load.
func (s *Server) Routes(readiness observability.ReadinessChecker) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.AllowAll().Handler)
	r.Use(observability.MetricsMiddleware(s.metrics))

	r.Group(func(r chi.Router) {
		r.Use(ConcurrencyLimit(s.maxConcurrent))
		r.Post("/estimate", s.handleEstimate)
		r.Get("/estimates/recent", s.handleRecent)
		r.Get("/stats", s.handleStats)
	})

	r.Get("/healthz", observability.LivenessHandler())
	r.Get("/readyz", observability.ReadinessHandler(readiness))
	r.Handle("/metrics", promhttp.Handler())

	return r
}
