package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Strob0t/EventForge/internal/adapter/jsonld"
	"github.com/Strob0t/EventForge/internal/adapter/memstore"
	efnats "github.com/Strob0t/EventForge/internal/adapter/nats"
	"github.com/Strob0t/EventForge/internal/adapter/natskv"
	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/adapter/ristretto"
	"github.com/Strob0t/EventForge/internal/adapter/tiered"
	"github.com/Strob0t/EventForge/internal/adapter/webfetch"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/port/cache"
	"github.com/Strob0t/EventForge/internal/port/messagequeue"
	"github.com/Strob0t/EventForge/internal/port/taskstore"
	"github.com/Strob0t/EventForge/internal/service"
)

// pageBucket is the JetStream KV bucket backing the shared page cache.
const pageBucket = "EXTRACTION_PAGES"

// app holds the wired components shared by the serve and extract commands.
type app struct {
	cfg       *config.Config
	metrics   *otel.Metrics
	queue     *efnats.Queue   // nil without NATS
	tasks     *memstore.Store // nil when tasks live in NATS KV
	l1        *ristretto.Cache
	registry  *service.TaskRegistry
	providers *service.ProviderSet
	svc       *service.ExtractionService
}

// newApp wires infrastructure and services from cfg.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	metrics, err := otel.NewMetrics(nil)
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	a := &app{cfg: cfg, metrics: metrics}

	// --- Infrastructure ---

	var (
		events messagequeue.Publisher
		l2     cache.Cache
		store  taskstore.Store
	)
	if cfg.NATS.URL != "" {
		a.queue, err = efnats.Connect(ctx, cfg.NATS.URL, cfg.NATS.Stream)
		if err != nil {
			return nil, fmt.Errorf("nats: %w", err)
		}
		events = a.queue
		slog.Info("nats connected", "stream", cfg.NATS.Stream)

		pages, err := a.queue.KeyValue(ctx, pageBucket, cfg.Fetch.CacheTTL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("nats page cache: %w", err)
		}
		l2 = natskv.NewCache(pages)
	}

	switch cfg.Tasks.Backend {
	case "nats":
		if a.queue == nil {
			return nil, fmt.Errorf("tasks backend nats requires nats.url")
		}
		kv, err := a.queue.KeyValue(ctx, cfg.Tasks.Bucket, cfg.Tasks.TTL)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("nats task bucket: %w", err)
		}
		store = natskv.NewTaskStore(kv)
	default:
		a.tasks = memstore.New(cfg.Tasks.TTL, cfg.Tasks.MaxEntries)
		store = a.tasks
	}
	slog.Info("task store ready", "backend", cfg.Tasks.Backend)

	a.l1, err = ristretto.New(cfg.Fetch.CacheMaxMB)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("page cache: %w", err)
	}
	pageCache := tiered.New(a.l1, l2, cfg.Fetch.CacheTTL)

	// --- Fetching ---

	downloader := webfetch.New(webfetch.Options{
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	fetcher, err := service.NewContentFetcher(downloader, webfetch.NewExtractor(), jsonld.New(downloader), pageCache, service.FetcherConfig{
		Timeout:             cfg.Fetch.Timeout,
		PerPageChars:        cfg.Budget.PerPageChars,
		CacheTTL:            cfg.Fetch.CacheTTL,
		SpecializedPatterns: cfg.Fetch.SpecializedPatterns,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("fetcher: %w", err)
	}
	fetcher.SetMetrics(metrics)

	// --- Services ---

	agent := service.NewAgent(
		fetcher,
		service.NewLLMSimpleGenerator(fetcher, cfg.Budget.TotalChars, cfg.Agent.BackendTimeout),
		service.NewLLMFeatureInferrer(nil, cfg.Agent.BackendTimeout),
		service.AgentConfigFrom(cfg),
	)
	a.registry = service.NewTaskRegistry(store, events)
	a.providers = service.NewProviderSet(cfg.LLM, cfg.Breaker, cfg.Agent.BackendTimeout, metrics)
	a.svc = service.NewExtractionService(a.registry, agent, a.providers, metrics)

	return a, nil
}

// checks returns the optional dependency probes reported by /health.
func (a *app) checks() map[string]func() bool {
	checks := map[string]func() bool{}
	if a.queue != nil {
		checks["nats"] = a.queue.IsConnected
	}
	return checks
}

// close releases infrastructure. Background runs must be finished first.
func (a *app) close() {
	if a.l1 != nil {
		a.l1.Close()
	}
	if a.queue != nil {
		if err := a.queue.Drain(); err != nil {
			slog.Warn("nats drain failed", "error", err)
		}
	}
}
