package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/oklog/run"

	efhttp "github.com/Strob0t/EventForge/internal/adapter/http"
	"github.com/Strob0t/EventForge/internal/adapter/ws"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/middleware"
)

// addServeActors adds the HTTP server and its housekeeping loops to g.
func addServeActors(ctx context.Context, g *run.Group, a *app) {
	cfg := a.cfg
	hub := ws.NewHub(a.svc, cfg.Push, originPatterns(cfg.Server.CORSOrigin))
	limiter := middleware.NewRateLimiter(cfg.Rate)

	handlers := &efhttp.Handlers{
		Extractions: a.svc,
		Providers:   a.providers,
		Push:        cfg.Push,
		Version:     Version,
		Checks:      a.checks(),
	}
	router := efhttp.NewRouter(handlers, efhttp.RouterOptions{
		Server:      cfg.Server,
		ServiceName: cfg.OTel.ServiceName,
		Limit:       limiter.Handler,
		WebSocket:   hub,
	})

	srv := newServer(cfg.Server, router)

	// HTTP server.
	g.Add(
		func() error {
			slog.Info("server starting", "addr", srv.Addr, "default_provider", a.providers.Default())
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
		func(_ error) {
			slog.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()

			hub.CloseAll()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				slog.Error("server shutdown failed", "error", err)
			}

			waitCtx, cancelWait := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancelWait()
			if err := a.registry.Wait(waitCtx); err != nil {
				slog.Warn("background runs still active at shutdown", "error", err)
			}
		},
	)

	// Housekeeping.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return limiter.Run(ctx)
			},
			func(_ error) {
				cancel()
			},
		)
	}
	if a.tasks != nil {
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				return a.tasks.RunJanitor(ctx, cfg.Tasks.SweepInterval)
			},
			func(_ error) {
				cancel()
			},
		)
	}
}

// newServer builds the HTTP server. Push streams stay open for a whole run,
// so there is no WriteTimeout; request contexts are cancelled as soon as
// Shutdown starts.
func newServer(cfg config.Server, handler http.Handler) *http.Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.ReadTimeout,
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancel)
	return srv
}

// originPatterns turns the CORS origin into WebSocket origin host patterns.
func originPatterns(origin string) []string {
	if origin == "" {
		return nil
	}
	if origin == "*" {
		return []string{"*"}
	}
	u, err := url.Parse(origin)
	if err != nil || u.Host == "" {
		return []string{origin}
	}
	return []string{u.Host}
}
