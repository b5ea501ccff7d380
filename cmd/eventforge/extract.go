package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/Strob0t/EventForge/internal/service"
)

type extractOptions struct {
	URLs     []string
	Strategy string
	Provider string
}

// lineWriter prints push events as JSON lines and remembers a terminal
// error event.
type lineWriter struct {
	enc    *json.Encoder
	failed string
}

func (w *lineWriter) WriteEvent(_ context.Context, ev service.Event) error {
	switch ev.Type {
	case service.EventPing:
		return nil
	case service.EventError:
		w.failed = ev.Error
	}
	return w.enc.Encode(ev)
}

// runExtract runs one extraction through the push path with stdout as the
// client.
func runExtract(ctx context.Context, a *app, opts extractOptions, out io.Writer) error {
	w := &lineWriter{enc: json.NewEncoder(out)}
	req := service.Request{
		URLs:     opts.URLs,
		Strategy: service.Strategy(opts.Strategy),
		Provider: opts.Provider,
	}
	if err := a.svc.Push(ctx, req, w, service.PushOptions{Keepalive: a.cfg.Push.Keepalive}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if w.failed != "" {
		return errors.New(w.failed)
	}
	return nil
}
