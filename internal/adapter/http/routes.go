package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/middleware"
)

// RouterOptions carries the pieces NewRouter wires around the handlers.
type RouterOptions struct {
	Server      config.Server
	ServiceName string
	// Limit guards the endpoints that start runs. Nil disables limiting.
	Limit func(http.Handler) http.Handler
	// WebSocket serves the WebSocket push channel. Nil leaves it unmounted.
	WebSocket http.Handler
}

// NewRouter builds the chi router with the middleware stack and all routes.
func NewRouter(h *Handlers, opts RouterOptions) chi.Router {
	r := chi.NewRouter()
	if opts.Server.TrustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(otel.HTTPMiddleware(opts.ServiceName))
	r.Use(Logger)
	r.Use(SecurityHeaders)
	r.Use(CORS(opts.Server.CORSOrigin))

	MountRoutes(r, h, opts.Limit, opts.WebSocket)
	return r
}

// MountRoutes registers all routes on r.
func MountRoutes(r chi.Router, h *Handlers, limit func(http.Handler) http.Handler, ws http.Handler) {
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}

	r.Get("/health", h.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": h.Version})
		})

		r.With(limit).Post("/extractions", h.CreateExtraction)
		r.With(limit).Get("/extractions/stream", h.StreamExtraction)
		if ws != nil {
			r.With(limit).Get("/extractions/ws", ws.ServeHTTP)
		}
		r.Get("/extractions/{taskId}", h.GetExtraction)
	})
}
