package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/port/llm"
	"github.com/Strob0t/EventForge/internal/resilience"
)

// ProviderSet resolves text backends by name. Each provider is built once
// through the llm registry and shared, guarded by its own circuit breaker.
type ProviderSet struct {
	cfg     config.LLM
	breaker config.Breaker
	timeout time.Duration
	metrics *otel.Metrics
	factory func(name string, cfg llm.Config) (llm.Provider, error)

	mu       sync.Mutex
	resolved map[string]llm.Provider
}

// NewProviderSet creates a ProviderSet. timeout is the per-call backstop
// given to provider HTTP clients.
func NewProviderSet(cfg config.LLM, breaker config.Breaker, timeout time.Duration, metrics *otel.Metrics) *ProviderSet {
	return &ProviderSet{
		cfg:      cfg,
		breaker:  breaker,
		timeout:  timeout,
		metrics:  metrics,
		factory:  llm.New,
		resolved: make(map[string]llm.Provider),
	}
}

// Default returns the configured default provider name.
func (s *ProviderSet) Default() string { return s.cfg.Default }

// Names returns the configured provider names that have a registered adapter.
func (s *ProviderSet) Names() []string {
	registered := make(map[string]bool)
	for _, n := range llm.Available() {
		registered[n] = true
	}
	var names []string
	for n := range s.cfg.Providers {
		if registered[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Check validates a provider name without building the provider. An empty
// name selects the default.
func (s *ProviderSet) Check(name string) (string, error) {
	if name == "" {
		name = s.cfg.Default
	}
	if _, ok := s.cfg.Providers[name]; !ok {
		return "", fmt.Errorf("%w: unknown provider %q", domain.ErrValidation, name)
	}
	return name, nil
}

// Resolve returns the provider for name (the default when empty).
// Misconfiguration, such as a missing API key, surfaces here as a backend error.
func (s *ProviderSet) Resolve(name string) (llm.Provider, error) {
	name, err := s.Check(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.resolved[name]; ok {
		return p, nil
	}

	pc := s.cfg.Providers[name]
	inner, err := s.factory(name, llm.Config{
		BaseURL:   pc.BaseURL,
		APIKey:    pc.APIKey,
		Model:     pc.Model,
		MaxTokens: pc.MaxTokens,
		Timeout:   s.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", name, err)
	}
	p := &guardedProvider{
		inner:   inner,
		breaker: resilience.NewBreaker(s.breaker.MaxFailures, s.breaker.Timeout),
		metrics: s.metrics,
	}
	s.resolved[name] = p
	return p, nil
}

// guardedProvider wraps a provider with a circuit breaker, a span and metrics.
type guardedProvider struct {
	inner   llm.Provider
	breaker *resilience.Breaker
	metrics *otel.Metrics
}

func (g *guardedProvider) Name() string { return g.inner.Name() }

func (g *guardedProvider) Complete(ctx context.Context, system string, messages []llm.Message) (string, error) {
	ctx, span := otel.StartBackendSpan(ctx, g.inner.Name(), len(messages))
	var out string
	err := g.breaker.ExecuteContext(ctx, func(ctx context.Context) error {
		var err error
		out, err = g.inner.Complete(ctx, system, messages)
		return err
	})
	g.metrics.BackendCall(ctx, g.inner.Name(), err)
	otel.EndSpan(span, err)
	return out, err
}
