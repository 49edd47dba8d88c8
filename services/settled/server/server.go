package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"paysettle/core"
	"paysettle/core/types"
	"paysettle/native/settlement"
	"paysettle/observability/metrics"
	"paysettle/services/settled/journal"
)

// EventLog is the read side of the settlement journal: paged history plus a
// live feed of newly committed records.
type EventLog interface {
	List(ctx context.Context, filter journal.Filter) ([]journal.Record, error)
	Subscribe(buffer int) (<-chan journal.Record, func())
}

// Config captures the dependencies required to construct the server.
type Config struct {
	Envelope *core.Envelope
	Engine   *settlement.Engine
	Module   types.Address
	Journal  EventLog
	Auth     *Authenticator
	Limiter  *RateLimiter
	Logger   *slog.Logger
	// Registerer and Gatherer default to the process-wide Prometheus registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
}

// Server exposes the settlement engine over HTTP.
type Server struct {
	envelope *core.Envelope
	engine   *settlement.Engine
	module   types.Address
	journal  EventLog
	auth     *Authenticator
	limiter  *RateLimiter
	logger   *slog.Logger
	obs      *Observability
	metrics  *metrics.SettlementMetrics
	gatherer prometheus.Gatherer

	router http.Handler
}

// New constructs a configured HTTP router.
func New(cfg Config) (*Server, error) {
	if cfg.Envelope == nil {
		return nil, fmt.Errorf("envelope required")
	}
	if cfg.Engine == nil {
		return nil, fmt.Errorf("settlement engine required")
	}
	if cfg.Auth == nil {
		return nil, fmt.Errorf("authenticator required")
	}
	if cfg.Module.IsZero() {
		return nil, fmt.Errorf("module identity required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Registerer == nil {
		cfg.Registerer = prometheus.DefaultRegisterer
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	srv := &Server{
		envelope: cfg.Envelope,
		engine:   cfg.Engine,
		module:   cfg.Module,
		journal:  cfg.Journal,
		auth:     cfg.Auth,
		limiter:  cfg.Limiter,
		logger:   cfg.Logger,
		obs:      NewObservability(cfg.Registerer, cfg.Logger),
		metrics:  metrics.Settlement(),
		gatherer: cfg.Gatherer,
	}
	srv.router = srv.buildRouter()
	return srv, nil
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(chimw.Recoverer)
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(api chi.Router) {
		api.Group(func(settle chi.Router) {
			settle.Use(s.auth.Require(ScopeSettle))
			settle.With(s.obs.Middleware("settlements.direct")).Post("/settlements/direct", s.SettleDirect)
			settle.With(s.obs.Middleware("settlements.split")).Post("/settlements/split", s.SettleSplit)
			settle.With(s.obs.Middleware("settlements.swap")).Post("/settlements/swap", s.SettleSwap)
			settle.With(s.obs.Middleware("settlements.donation")).Post("/settlements/donation", s.SettleDonation)
		})
		api.Group(func(admin chi.Router) {
			admin.Use(s.auth.Require(ScopeAdmin))
			admin.With(s.obs.Middleware("treasury.redeem")).Post("/treasury/redeem", s.RedeemFees)
			admin.With(s.obs.Middleware("owner.change")).Post("/owner", s.ChangeOwner)
		})
		api.Group(func(read chi.Router) {
			read.Use(s.auth.Require())
			read.With(s.obs.Middleware("accounts.get")).Get("/accounts/{address}", s.GetAccount)
			read.With(s.obs.Middleware("events.list")).Get("/events", s.ListEvents)
			read.With(s.obs.Middleware("events.stream")).Get("/events/stream", s.StreamEvents)
		})
	})

	return otelhttp.NewHandler(r, "settled")
}

// Run serves on addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("http server listening", "address", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
