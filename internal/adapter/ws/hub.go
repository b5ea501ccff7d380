// Package ws implements the WebSocket push channel for extraction runs.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/service"
)

// Extractor is the part of the extraction service the channel needs.
type Extractor interface {
	Validate(req service.Request) (service.Request, error)
	Push(ctx context.Context, req service.Request, w service.EventWriter, opts service.PushOptions) error
}

// conn wraps a single WebSocket connection.
type conn struct {
	ws     *websocket.Conn
	cancel context.CancelFunc
}

// Hub serves push runs over WebSocket and tracks the open connections so
// they can be closed on shutdown.
type Hub struct {
	extractor Extractor
	push      config.Push
	origins   []string

	mu    sync.RWMutex
	conns map[*conn]struct{}
}

// NewHub creates a hub. origins lists the host patterns allowed to connect
// cross-origin; empty means same origin only.
func NewHub(extractor Extractor, push config.Push, origins []string) *Hub {
	return &Hub{
		extractor: extractor,
		push:      push,
		origins:   origins,
		conns:     make(map[*conn]struct{}),
	}
}

// ServeHTTP handles GET /api/v1/extractions/ws. The query carries the same
// parameters as the SSE stream; every event is one JSON text frame.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	req, err := h.extractor.Validate(service.ParseQuery(r.URL.Query()))
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, strings.TrimPrefix(err.Error(), domain.ErrValidation.Error()+": "))
			return
		}
		slog.ErrorContext(r.Context(), "websocket request validation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		slog.WarnContext(r.Context(), "websocket accept failed", "error", err)
		return
	}

	// CloseRead consumes control frames and cancels ctx once the client goes.
	ctx, cancel := context.WithCancel(ws.CloseRead(r.Context()))
	c := &conn{ws: ws, cancel: cancel}
	h.add(c)
	defer h.remove(c)

	slog.InfoContext(ctx, "websocket push connected", "remote", r.RemoteAddr, "urls", len(req.URLs))

	err = h.extractor.Push(ctx, req, writer{ws: ws}, service.PushOptions{
		Keepalive:  h.push.Keepalive,
		CloseDelay: h.push.CloseDelay,
	})
	switch {
	case err != nil && ctx.Err() == nil:
		slog.InfoContext(ctx, "websocket push ended early", "error", err)
		_ = ws.Close(websocket.StatusInternalError, "stream failed")
	case ctx.Err() != nil:
		_ = ws.CloseNow()
	default:
		_ = ws.Close(websocket.StatusNormalClosure, "done")
	}
}

// writeError rejects an upgrade with the API's JSON error body.
func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": message}); err != nil {
		slog.Error("failed to write JSON response", "error", err)
	}
}

// CloseAll closes every open connection with StatusGoingAway.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*conn, 0, len(h.conns))
	for c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

func (h *Hub) add(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[c] = struct{}{}
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.conns[c]; ok {
		c.cancel()
		delete(h.conns, c)
		slog.Debug("websocket disconnected")
	}
}

// writer sends events as JSON text frames.
type writer struct {
	ws *websocket.Conn
}

func (w writer) WriteEvent(ctx context.Context, ev service.Event) error {
	return wsjson.Write(ctx, w.ws, ev)
}
