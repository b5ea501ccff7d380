package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/domain/budget"
	"github.com/Strob0t/EventForge/internal/domain/directive"
	"github.com/Strob0t/EventForge/internal/domain/record"
	"github.com/Strob0t/EventForge/internal/port/llm"
)

// Phase is the state of an exploration run.
type Phase string

const (
	PhaseSeeding    Phase = "seeding"
	PhaseReviewing  Phase = "reviewing"
	PhaseExploring  Phase = "exploring"
	PhaseForcing    Phase = "forcing"
	PhaseGenerating Phase = "generating" // direct strategy
	PhaseEnriching  Phase = "enriching"
	PhaseDone       Phase = "done"
)

// ErrExtractionFailed is returned when every fallback failed to produce a record.
var ErrExtractionFailed = errors.New("extraction failed")

// Progress is emitted on every phase transition and iteration.
type Progress struct {
	Phase            Phase  `json:"phase"`
	Progress         int    `json:"progress"`
	Message          string `json:"message"`
	PagesVisited     int    `json:"pagesVisited"`
	CurrentIteration int    `json:"currentIteration"`
	MaxIterations    int    `json:"maxIterations"`
}

// ProgressFunc receives progress updates. It is called synchronously from
// the run goroutine.
type ProgressFunc func(Progress)

// Outcome is the artifact of a successful run.
type Outcome struct {
	Record        *record.Record
	URLsProcessed []string
	Iterations    int
	Provider      string
	Trail         []string
}

// AgentConfig bounds a run.
type AgentConfig struct {
	MaxIterations             int
	MaxInvalidDirectives      int
	BackendTimeout            time.Duration
	MinDescriptionForFeatures int
	TotalChars                int
	PerPageChars              int
}

// AgentConfigFrom extracts the agent bounds from the service configuration.
func AgentConfigFrom(cfg *config.Config) AgentConfig {
	return AgentConfig{
		MaxIterations:             cfg.Agent.MaxIterations,
		MaxInvalidDirectives:      cfg.Agent.MaxInvalidDirectives,
		BackendTimeout:            cfg.Agent.BackendTimeout,
		MinDescriptionForFeatures: cfg.Agent.MinDescriptionForFeatures,
		TotalChars:                cfg.Budget.TotalChars,
		PerPageChars:              cfg.Budget.PerPageChars,
	}
}

// Agent drives the fetch, reason, decide loop. It holds no per-run state
// and may be shared by concurrent runs.
type Agent struct {
	fetcher  PageFetcher
	simple   SimpleGenerator
	features FeatureInferrer
	cfg      AgentConfig
}

// NewAgent creates an Agent. features may be nil to skip inference.
func NewAgent(fetcher PageFetcher, simple SimpleGenerator, features FeatureInferrer, cfg AgentConfig) *Agent {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 8
	}
	if cfg.MaxInvalidDirectives <= 0 {
		cfg.MaxInvalidDirectives = 2
	}
	return &Agent{fetcher: fetcher, simple: simple, features: features, cfg: cfg}
}

// MaxIterations returns the configured iteration cap.
func (a *Agent) MaxIterations() int { return a.cfg.MaxIterations }

// run is the state of one extraction. It is confined to one goroutine.
type run struct {
	agent    *Agent
	provider llm.Provider
	progress ProgressFunc

	phase     Phase
	iteration int
	invalid   int
	visited   []string
	seen      map[string]bool
	pages     []Page
	failed    []string
	budget    *budget.Budget
	history   []llm.Message
	prefill   *record.Record
	trail     []string
}

func (a *Agent) newRun(provider llm.Provider, progress ProgressFunc) *run {
	if progress == nil {
		progress = func(Progress) {}
	}
	return &run{
		agent:    a,
		provider: provider,
		progress: progress,
		seen:     make(map[string]bool),
		budget:   budget.New(a.cfg.TotalChars, a.cfg.PerPageChars),
	}
}

// Run executes the agent strategy over the seed URLs.
func (a *Agent) Run(ctx context.Context, urls []string, provider llm.Provider, progress ProgressFunc) (*Outcome, error) {
	r := a.newRun(provider, progress)

	r.seed(ctx, urls)

	r.enter(ctx, PhaseReviewing, 35, "reviewing gathered content")
	raw, err := r.ask(ctx, fmt.Sprintf(reviewPrompt, combinedSummary(r.pages, r.failed, a.cfg.TotalChars)))
	if err != nil {
		return nil, err
	}

	rec, err := r.explore(ctx, raw)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		if rec, err = r.force(ctx); err != nil {
			return nil, err
		}
	}

	r.enrich(ctx, rec)
	return r.finish(ctx, rec), nil
}

// RunDirect skips exploration: one single-shot generation over the seeds,
// then enrichment.
func (a *Agent) RunDirect(ctx context.Context, urls []string, provider llm.Provider, progress ProgressFunc) (*Outcome, error) {
	r := a.newRun(provider, progress)
	r.visited = append(r.visited, urls...)
	r.iteration = 1

	r.enter(ctx, PhaseGenerating, 20, "generating record in a single pass")
	rec, err := a.simple.Generate(ctx, urls, provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}

	r.enrich(ctx, rec)
	return r.finish(ctx, rec), nil
}

// seed fetches every seed URL regardless of budget. Each seed counts as
// one iteration.
func (r *run) seed(ctx context.Context, urls []string) {
	r.enter(ctx, PhaseSeeding, 5, fmt.Sprintf("fetching %d source page(s)", len(urls)))
	for i, u := range urls {
		norm := directive.NormalizeURL(u)
		if r.seen[norm] {
			continue
		}
		r.iteration++
		page := r.fetch(ctx, u)
		msg := "fetched " + u
		if page.Err != nil {
			msg = fmt.Sprintf("fetch failed for %s: %v", u, page.Err)
		}
		r.emit(5+25*(i+1)/len(urls), msg)
	}
}

// fetch records u as visited, fetches it and accumulates the result.
func (r *run) fetch(ctx context.Context, u string) Page {
	r.seen[directive.NormalizeURL(u)] = true
	r.visited = append(r.visited, u)

	page := r.agent.fetcher.Fetch(ctx, u)
	if page.Err != nil {
		r.failed = append(r.failed, u)
		r.note(ctx, fmt.Sprintf("fetch failed for %s: %v", u, page.Err))
		return page
	}
	page.Text = r.budget.Consume(page.Text)
	r.pages = append(r.pages, page)
	if page.Prefill != nil {
		if r.prefill == nil {
			r.prefill = &record.Record{}
		}
		r.prefill.ApplyPrefill(page.Prefill)
	}
	return page
}

// explore handles directives until a record is parsed (returned) or a
// guard trips (nil record, no error). Only backend errors are returned.
// A record already in hand is accepted even at the iteration cap.
func (r *run) explore(ctx context.Context, raw string) (*record.Record, error) {
	r.enter(ctx, PhaseExploring, r.exploreProgress(), "deciding next step")
	maxIter := r.agent.cfg.MaxIterations

	for {
		d := directive.Parse(raw)
		if d.Kind == directive.Generate {
			if rec, ok := record.Extract(d.Payload); ok {
				r.iteration = min(r.iteration+1, maxIter)
				r.emit(r.exploreProgress(), "record generated")
				return rec, nil
			}
		}
		if r.iteration >= maxIter {
			r.note(ctx, fmt.Sprintf("iteration cap %d reached", maxIter))
			return nil, nil
		}
		r.iteration++

		var reply, msg string
		switch d.Kind {
		case directive.Generate:
			r.invalid++
			msg = "generated record could not be parsed"
			r.note(ctx, msg)
			reply = invalidRecordPrompt

		case directive.Fetch:
			switch {
			case r.seen[directive.NormalizeURL(d.URL)]:
				r.invalid++
				msg = "duplicate fetch request for " + d.URL
				r.note(ctx, msg)
				reply = fmt.Sprintf(duplicatePrompt, d.URL)
			case !r.budget.CanFetchMore():
				r.invalid++
				msg = "content budget exhausted, refused " + d.URL
				r.note(ctx, msg)
				reply = budgetPrompt
			default:
				r.invalid = 0
				page := r.fetch(ctx, d.URL)
				if page.Err != nil {
					msg = fmt.Sprintf("fetch failed for %s: %v", d.URL, page.Err)
					reply = fmt.Sprintf(fetchFailedPrompt, d.URL, page.Err)
				} else {
					msg = "fetched " + d.URL
					reply = fmt.Sprintf(fetchedPrompt, d.URL, page.Text)
				}
			}

		default:
			r.invalid++
			msg = "unrecognized directive"
			r.note(ctx, msg)
			reply = unrecognizedPrompt
		}

		r.emit(r.exploreProgress(), msg)

		if r.invalid >= r.agent.cfg.MaxInvalidDirectives {
			r.note(ctx, fmt.Sprintf("%d consecutive invalid directives", r.invalid))
			return nil, nil
		}
		if r.iteration >= maxIter {
			r.note(ctx, fmt.Sprintf("iteration cap %d reached", maxIter))
			return nil, nil
		}

		var err error
		if raw, err = r.ask(ctx, reply); err != nil {
			return nil, err
		}
	}
}

// force runs the fallback ladder: one final call, then the history, then
// the single-shot generator.
func (r *run) force(ctx context.Context) (*record.Record, error) {
	r.enter(ctx, PhaseForcing, 85, "forcing final record")

	raw, err := r.ask(ctx, fmt.Sprintf(forcePrompt, r.condensed()))
	if err != nil {
		return nil, err
	}
	if rec, ok := record.Extract(raw); ok {
		return rec, nil
	}
	r.note(ctx, "forced generation unparseable, scanning history")

	for i := len(r.history) - 1; i >= 0; i-- {
		if r.history[i].Role != llm.RoleAssistant {
			continue
		}
		if rec, ok := record.Extract(r.history[i].Content); ok {
			return rec, nil
		}
	}
	r.note(ctx, "no record in history, falling back to single-shot generation")

	if r.agent.simple == nil {
		return nil, fmt.Errorf("%w: no record could be produced", ErrExtractionFailed)
	}
	rec, err := r.agent.simple.GenerateFromPages(ctx, r.visited, r.pages, r.failed, r.provider)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	return rec, nil
}

// enrich merges the pre-fill, normalizes and infers feature flags.
// Inference problems are noted, never fatal.
func (r *run) enrich(ctx context.Context, rec *record.Record) {
	r.enter(ctx, PhaseEnriching, 90, "enriching record")

	rec.ApplyPrefill(r.prefill)
	rec.Normalize()

	desc := rec.Description()
	if r.agent.features == nil || len([]rune(desc)) < r.agent.cfg.MinDescriptionForFeatures {
		return
	}
	flags, err := r.agent.features.InferFeatures(ctx, desc, r.provider)
	if err != nil {
		r.note(ctx, fmt.Sprintf("feature inference failed: %v", err))
		return
	}
	rec.Edition.MergeFeatures(flags)
	if r.prefill != nil {
		rec.Edition.MergeFeatures(r.prefill.Edition.Features)
	}
}

func (r *run) finish(ctx context.Context, rec *record.Record) *Outcome {
	r.enter(ctx, PhaseDone, 100, "extraction complete")
	return &Outcome{
		Record:        rec,
		URLsProcessed: append([]string(nil), r.visited...),
		Iterations:    r.iteration,
		Provider:      r.provider.Name(),
		Trail:         r.trail,
	}
}

// ask appends msg to the conversation and returns the backend's reply.
func (r *run) ask(ctx context.Context, msg string) (string, error) {
	r.history = append(r.history, llm.User(msg))

	cctx := ctx
	if t := r.agent.cfg.BackendTimeout; t > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, t)
		defer cancel()
	}
	raw, err := r.provider.Complete(cctx, agentSystemPrompt, r.history)
	if err != nil {
		return "", fmt.Errorf("backend %s: %w", r.provider.Name(), err)
	}
	r.history = append(r.history, llm.Assistant(raw))
	return raw, nil
}

// condensed is the best available content for the forcing call: the
// pre-fill page first, then the others in fetch order, cut to one page.
func (r *run) condensed() string {
	ordered := make([]Page, 0, len(r.pages))
	for _, p := range r.pages {
		if p.Specialized {
			ordered = append(ordered, p)
		}
	}
	for _, p := range r.pages {
		if !p.Specialized {
			ordered = append(ordered, p)
		}
	}
	return combinedSummary(ordered, r.failed, r.agent.cfg.PerPageChars)
}

func (r *run) exploreProgress() int {
	return 35 + 45*r.iteration/r.agent.cfg.MaxIterations
}

func (r *run) enter(ctx context.Context, p Phase, progress int, msg string) {
	r.phase = p
	slog.DebugContext(ctx, "agent phase", "phase", p, "iteration", r.iteration)
	r.emit(progress, msg)
}

func (r *run) emit(progress int, msg string) {
	r.progress(Progress{
		Phase:            r.phase,
		Progress:         progress,
		Message:          msg,
		PagesVisited:     len(r.visited),
		CurrentIteration: r.iteration,
		MaxIterations:    r.agent.cfg.MaxIterations,
	})
}

// note appends to the run's trail and logs it.
func (r *run) note(ctx context.Context, msg string) {
	r.trail = append(r.trail, msg)
	slog.InfoContext(ctx, "agent trail", "phase", r.phase, "iteration", r.iteration, "message", msg)
}
