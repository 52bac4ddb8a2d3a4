package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Clark-Hu/tierlist/internal/app"
	"github.com/Clark-Hu/tierlist/internal/catalog"
	"github.com/Clark-Hu/tierlist/internal/config"
	"github.com/Clark-Hu/tierlist/internal/domain"
)

// RatingService is the application surface the handlers drive.
type RatingService interface {
	StartRating(ctx context.Context, user domain.Identity, candidate domain.Title, tier domain.Tier) (app.Step, error)
	StartRerank(ctx context.Context, user domain.Identity, titleID string, tier domain.Tier) (app.Step, error)
	Answer(ctx context.Context, userID, sessionID string, outcome domain.Outcome) (app.Step, error)
	Cancel(ctx context.Context, userID, sessionID string) error
	Remove(ctx context.Context, userID, titleID string) error
	List(ctx context.Context, userID string) ([]app.TierList, error)
	CommunityRating(ctx context.Context, catalogID string) (domain.GlobalRating, error)
	OpenSessions() int
}

// HealthChecker reports whether a backing dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	health  HealthChecker
	svc     RatingService
	catalog catalog.Client
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes. health and
// catalogClient may be nil.
func New(cfg config.Config, health HealthChecker, svc RatingService, catalogClient catalog.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	s := &Server{
		cfg:     cfg,
		health:  health,
		svc:     svc,
		catalog: catalogClient,
		logger:  logger,
		router:  r,
	}
	s.registerRoutes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) registerRoutes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Get("/list", s.handleList)
	s.router.Post("/ratings", s.handleStartRating)
	s.router.Route("/sessions/{sessionID}", func(r chi.Router) {
		r.Post("/answer", s.handleAnswer)
		r.Delete("/", s.handleCancel)
	})
	s.router.Route("/titles/{titleID}", func(r chi.Router) {
		r.Post("/rerank", s.handleRerank)
		r.Delete("/", s.handleRemove)
	})
	s.router.Get("/community/{catalogID}", s.handleCommunity)
}

// Start boots the HTTP server and blocks until ctx is done or it fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health != nil {
		if err := s.health.HealthCheck(ctx); err != nil {
			s.logger.Warn("health check failed", "error", err)
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
			return
		}
	}
	s.respondJSON(w, http.StatusOK, healthResponse{Status: "ok", OpenSessions: s.svc.OpenSessions()})
}

type healthResponse struct {
	Status       string `json:"status"`
	OpenSessions int    `json:"openSessions"`
}
