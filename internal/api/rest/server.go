package rest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortuna/scoreline/internal/api/websocket"
	"github.com/fortuna/scoreline/internal/backfill"
	"github.com/fortuna/scoreline/internal/cache"
	"github.com/fortuna/scoreline/internal/ingest/push"
	"github.com/fortuna/scoreline/internal/latency"
	"github.com/fortuna/scoreline/internal/logging"
	"github.com/fortuna/scoreline/internal/reconcile"
	"github.com/fortuna/scoreline/internal/scheduler"
	"github.com/fortuna/scoreline/internal/store"
)

// HealthChecker reports whether a dependency is reachable.
type HealthChecker func(ctx context.Context) error

// PushStats exposes push feed counters.
type PushStats interface {
	Stats() push.Stats
}

// Deps are the components the API reads from and drives. Optional fields
// may be nil; their routes then answer 503.
type Deps struct {
	Store      store.Store
	Reconciler *reconcile.Reconciler
	Diary      *reconcile.DiarySync
	Backfill   *backfill.Service
	Monitor    *latency.Monitor
	Hub        *websocket.Hub
	Scheduler  *scheduler.Orchestrator
	Push       PushStats
	Cache      *cache.RedisCache
	Checks     map[string]HealthChecker
	// Local is the zone operator dates are read in.
	Local *time.Location
}

// Server represents the REST API server
type Server struct {
	port    string
	server  *http.Server
	handler *Handler
	router  *mux.Router
}

// NewServer creates a new REST API server
func NewServer(port string, deps Deps) *Server {
	handler := NewHandler(deps)
	syncHandler := NewSyncHandler(deps)

	router := mux.NewRouter()

	// Apply middleware
	router.Use(RecoveryMiddleware)
	router.Use(LoggingMiddleware)
	router.Use(CORSMiddleware)

	router.HandleFunc("/health", handler.HealthCheck).Methods("GET")
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()

	// Observability
	api.HandleFunc("/latency", handler.GetLatency).Methods("GET")
	api.HandleFunc("/broadcast/health", handler.GetBroadcastHealth).Methods("GET")
	api.HandleFunc("/scheduler", handler.GetSchedulerStatus).Methods("GET")
	api.HandleFunc("/reconcile/metrics", handler.GetReconcileMetrics).Methods("GET")
	api.HandleFunc("/push/stats", handler.GetPushStats).Methods("GET")

	// Matches
	api.HandleFunc("/matches/refresh-stuck", handler.RefreshStuck).Methods("POST")
	api.HandleFunc("/matches/{matchID}", handler.GetMatch).Methods("GET")
	api.HandleFunc("/matches/{matchID}/refresh", handler.RefreshMatch).Methods("POST")
	api.HandleFunc("/matches/{matchID}/override", handler.OverrideMatch).Methods("POST")

	// Diary sync
	api.HandleFunc("/diary/sync", syncHandler.HandleSyncRequest).Methods("POST")
	api.HandleFunc("/diary/jobs", syncHandler.HandleJobStatus).Methods("GET")

	return &Server{
		port:    port,
		handler: handler,
		router:  router,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%s", port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the REST API server
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// Serve runs the server until ctx is cancelled. It satisfies suture.Service.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("port", s.port).Msg("rest server listening")
		errCh <- s.Start()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("rest server shutdown")
	}
	return ctx.Err()
}
