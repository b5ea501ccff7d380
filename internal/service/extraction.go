package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/task"
	"github.com/Strob0t/EventForge/internal/logger"
)

// Strategy selects how a run produces its record.
type Strategy string

const (
	StrategyAgent  Strategy = "agent"
	StrategyDirect Strategy = "direct"
)

// Request is one extraction request from either delivery channel.
type Request struct {
	URLs     []string `json:"urls"`
	Strategy Strategy `json:"strategy,omitempty"`
	Provider string   `json:"provider,omitempty"`
}

// ParseQuery builds a Request from push query parameters: strategy, urls
// (comma-separated) and provider. Validation is left to Validate.
func ParseQuery(q url.Values) Request {
	var urls []string
	for _, part := range strings.Split(q.Get("urls"), ",") {
		if part = strings.TrimSpace(part); part != "" {
			urls = append(urls, part)
		}
	}
	return Request{
		URLs:     urls,
		Strategy: Strategy(q.Get("strategy")),
		Provider: q.Get("provider"),
	}
}

// Push event types.
const (
	EventConnected = "connected"
	EventPing      = "ping"
	EventProgress  = "progress"
	EventResult    = "result"
	EventError     = "error"
)

// Event is one message on a push channel.
type Event struct {
	Type             string       `json:"type"`
	Phase            Phase        `json:"phase,omitempty"`
	Progress         int          `json:"progress,omitempty"`
	Message          string       `json:"message,omitempty"`
	PagesVisited     int          `json:"pagesVisited,omitempty"`
	CurrentIteration int          `json:"currentIteration,omitempty"`
	MaxIterations    int          `json:"maxIterations,omitempty"`
	Strategy         Strategy     `json:"strategy,omitempty"`
	URLs             []string     `json:"urls,omitempty"`
	Result           *task.Result `json:"result,omitempty"`
	Error            string       `json:"error,omitempty"`
	Timestamp        time.Time    `json:"timestamp"`
}

// EventWriter delivers events to one push client. Implementations need
// not be safe for concurrent use; Push calls them from one goroutine.
type EventWriter interface {
	WriteEvent(ctx context.Context, ev Event) error
}

// PushOptions tunes a push stream.
type PushOptions struct {
	Keepalive  time.Duration
	CloseDelay time.Duration
}

// ExtractionService is the application facade used by both delivery
// channels and the CLI.
type ExtractionService struct {
	registry  *TaskRegistry
	agent     *Agent
	providers *ProviderSet
	metrics   *otel.Metrics
	now       func() time.Time
}

// NewExtractionService creates the facade.
func NewExtractionService(registry *TaskRegistry, agent *Agent, providers *ProviderSet, metrics *otel.Metrics) *ExtractionService {
	return &ExtractionService{
		registry:  registry,
		agent:     agent,
		providers: providers,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Validate normalizes req: trimmed URLs within bounds, a known strategy and
// a known provider name.
func (s *ExtractionService) Validate(req Request) (Request, error) {
	urls, err := task.ValidateURLs(req.URLs)
	if err != nil {
		return Request{}, err
	}
	req.URLs = urls

	switch Strategy(strings.ToLower(string(req.Strategy))) {
	case "", StrategyAgent:
		req.Strategy = StrategyAgent
	case StrategyDirect:
		req.Strategy = StrategyDirect
	default:
		return Request{}, fmt.Errorf("%w: unknown strategy %q", domain.ErrValidation, req.Strategy)
	}

	if req.Provider, err = s.providers.Check(req.Provider); err != nil {
		return Request{}, err
	}
	return req, nil
}

// Start registers a task and runs the extraction in the background.
func (s *ExtractionService) Start(ctx context.Context, req Request) (*task.Task, error) {
	req, err := s.Validate(req)
	if err != nil {
		return nil, err
	}

	t, err := s.registry.Create(ctx, map[string]any{
		task.MetaURLs:          req.URLs,
		task.MetaProvider:      req.Provider,
		task.MetaMaxIterations: s.agent.MaxIterations(),
		task.MetaMessage:       "queued",
	})
	if err != nil {
		return nil, err
	}

	s.registry.RunInBackground(ctx, t.ID, func(ctx context.Context) (*task.Result, error) {
		return s.Execute(ctx, t.ID, req, func(p Progress) {
			if err := s.registry.Report(ctx, t.ID, p); err != nil && !isNotFound(err) {
				slog.WarnContext(ctx, "failed to record progress", "error", err)
			}
		})
	})
	slog.InfoContext(ctx, "extraction task created", "task_id", t.ID, "urls", len(req.URLs), "provider", req.Provider)
	return t, nil
}

// Get returns the current state of a task.
func (s *ExtractionService) Get(ctx context.Context, id string) (*task.Task, error) {
	return s.registry.Get(ctx, id)
}

// Execute runs one validated request inline and returns its result.
func (s *ExtractionService) Execute(ctx context.Context, runID string, req Request, progress ProgressFunc) (*task.Result, error) {
	provider, err := s.providers.Resolve(req.Provider)
	if err != nil {
		return nil, err
	}

	ctx, span := otel.StartRunSpan(ctx, runID, string(req.Strategy), provider.Name())
	s.metrics.RunStarted(ctx, string(req.Strategy))
	start := s.now()

	var out *Outcome
	if req.Strategy == StrategyDirect {
		out, err = s.agent.RunDirect(ctx, req.URLs, provider, progress)
	} else {
		out, err = s.agent.Run(ctx, req.URLs, provider, progress)
	}

	iterations := 0
	if out != nil {
		iterations = out.Iterations
	}
	s.metrics.RunFinished(ctx, string(req.Strategy), s.now().Sub(start), iterations, err)
	otel.EndSpan(span, err)
	if err != nil {
		return nil, err
	}
	if len(out.Trail) > 0 {
		slog.InfoContext(ctx, "extraction trail", "entries", out.Trail)
	}

	return &task.Result{
		Success:       true,
		JSON:          out.Record,
		Provider:      out.Provider,
		URLsProcessed: out.URLsProcessed,
		Iterations:    out.Iterations,
	}, nil
}

// Push runs one extraction inline and streams its events to w. It returns
// when the terminal event was delivered, or as soon as ctx (the client
// connection) is done or a write fails. The run itself continues on a
// detached context after a disconnect; its later events are dropped.
func (s *ExtractionService) Push(ctx context.Context, req Request, w EventWriter, opts PushOptions) error {
	req, err := s.Validate(req)
	if err != nil {
		return err
	}
	runID := "push-" + s.registry.newID()
	runCtx := logger.WithTaskID(context.WithoutCancel(ctx), runID)

	if err := w.WriteEvent(ctx, Event{Type: EventConnected, Strategy: req.Strategy, URLs: req.URLs, Timestamp: s.now().UTC()}); err != nil {
		return err
	}

	// stopped is closed when the client side is gone; the run goroutine
	// never blocks on events after that.
	stopped := make(chan struct{})
	defer close(stopped)

	events := make(chan Event, 16)
	type outcome struct {
		res *task.Result
		err error
	}
	done := make(chan outcome, 1)

	progress := func(p Progress) {
		ev := Event{
			Type:             EventProgress,
			Phase:            p.Phase,
			Progress:         p.Progress,
			Message:          p.Message,
			PagesVisited:     p.PagesVisited,
			CurrentIteration: p.CurrentIteration,
			MaxIterations:    p.MaxIterations,
			Timestamp:        s.now().UTC(),
		}
		select {
		case events <- ev:
		case <-stopped:
		}
	}

	s.registry.Go(func() {
		res, err := safeRun(runCtx, func() (*task.Result, error) {
			return s.Execute(runCtx, runID, req, progress)
		})
		if err != nil {
			slog.ErrorContext(runCtx, "push extraction failed", "error", err)
		}
		done <- outcome{res: res, err: err}
	})

	keepalive := opts.Keepalive
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(runCtx, "push client disconnected, run continues detached")
			return nil

		case ev := <-events:
			if err := w.WriteEvent(ctx, ev); err != nil {
				return err
			}

		case <-ticker.C:
			if err := w.WriteEvent(ctx, Event{Type: EventPing, Timestamp: s.now().UTC()}); err != nil {
				return err
			}

		case out := <-done:
			if err := s.drain(ctx, events, w); err != nil {
				return err
			}
			final := Event{Type: EventResult, Result: out.res, Timestamp: s.now().UTC()}
			if out.err != nil {
				final = Event{Type: EventError, Error: out.err.Error(), Timestamp: s.now().UTC()}
			}
			if err := w.WriteEvent(ctx, final); err != nil {
				return err
			}
			if opts.CloseDelay > 0 {
				select {
				case <-time.After(opts.CloseDelay):
				case <-ctx.Done():
				}
			}
			return nil
		}
	}
}

// drain writes events queued before the run finished.
func (s *ExtractionService) drain(ctx context.Context, events <-chan Event, w EventWriter) error {
	for {
		select {
		case ev := <-events:
			if err := w.WriteEvent(ctx, ev); err != nil {
				return err
			}
		default:
			return nil
		}
	}
}
