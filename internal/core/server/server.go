package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/tilestream/internal/core/health"
	middleware "github.com/mohammed-shakir/tilestream/internal/core/middleware"
	"github.com/mohammed-shakir/tilestream/internal/core/router"
)

// Session is the controller behind the /v1 routes.
type Session interface {
	router.Controller
	health.ReadinessReporter
}

type Deps struct {
	Session Session
	// Viewer serves /v1/ws. Optional.
	Viewer http.Handler
	// Metrics serves /metrics. Optional.
	Metrics http.Handler
}

func NewHandler(logger *slog.Logger, d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(d.Session))
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/evaluate", router.HandleEvaluate(logger, d.Session))
		r.Put("/viewpoint", router.HandleViewpoint(logger, d.Session))
		r.Get("/status", router.HandleStatus(d.Session))
		if d.Viewer != nil {
			r.Method(http.MethodGet, "/ws", d.Viewer)
		}
	})
	return r
}

// sets up http and serves until ctx is done
func Run(ctx context.Context, addr string, logger *slog.Logger, d Deps) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
