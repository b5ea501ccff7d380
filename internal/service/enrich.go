package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Strob0t/EventForge/internal/domain/record"
	"github.com/Strob0t/EventForge/internal/port/llm"
)

// FeatureInferrer derives boolean feature flags from a free-text description.
type FeatureInferrer interface {
	InferFeatures(ctx context.Context, description string, provider llm.Provider) (map[string]bool, error)
}

// SimpleGenerator produces a record in a single backend call. It is the
// last resort of the agent and the whole of the direct strategy.
type SimpleGenerator interface {
	// Generate fetches urls and generates from their content.
	Generate(ctx context.Context, urls []string, provider llm.Provider) (*record.Record, error)
	// GenerateFromPages generates from pages a run already fetched; failed
	// lists the URLs that did not load. Nothing is fetched again.
	GenerateFromPages(ctx context.Context, urls []string, pages []Page, failed []string, provider llm.Provider) (*record.Record, error)
}

// DefaultFeatureFlags are the flags the inferrer asks about.
var DefaultFeatureFlags = []string{
	"hasCamping",
	"hasFoodVendors",
	"hasParking",
	"hasWorkshops",
	"hasLiveMusic",
	"hasAccommodation",
	"isFamilyFriendly",
	"isFree",
	"isAccessible",
	"isOutdoor",
}

// errNoRecord is returned when backend output holds no usable record.
var errNoRecord = errors.New("no structured record in backend output")

// LLMFeatureInferrer asks the text backend to classify a description.
type LLMFeatureInferrer struct {
	flags   []string
	timeout time.Duration
}

// NewLLMFeatureInferrer creates an inferrer for flags (DefaultFeatureFlags
// when empty).
func NewLLMFeatureInferrer(flags []string, timeout time.Duration) *LLMFeatureInferrer {
	if len(flags) == 0 {
		flags = DefaultFeatureFlags
	}
	return &LLMFeatureInferrer{flags: flags, timeout: timeout}
}

// InferFeatures returns only the requested flags the backend answered with
// a recognizable boolean.
func (f *LLMFeatureInferrer) InferFeatures(ctx context.Context, description string, provider llm.Provider) (map[string]bool, error) {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	raw, err := provider.Complete(ctx, featureSystemPrompt, []llm.Message{llm.User(featurePrompt(description, f.flags))})
	if err != nil {
		return nil, fmt.Errorf("infer features: %w", err)
	}
	obj, ok := record.ExtractObject(raw, "")
	if !ok {
		return nil, fmt.Errorf("infer features: no JSON object in %q", clip(raw, 120))
	}

	all := record.FlagsFromObject(obj)
	flags := make(map[string]bool, len(f.flags))
	for _, name := range f.flags {
		if v, ok := all[name]; ok {
			flags[name] = v
		}
	}
	return flags, nil
}

// LLMSimpleGenerator asks for the record in one call over the given pages,
// fetching them first when needed.
type LLMSimpleGenerator struct {
	fetcher    PageFetcher
	totalChars int
	timeout    time.Duration
}

// NewLLMSimpleGenerator creates a single-shot generator.
func NewLLMSimpleGenerator(fetcher PageFetcher, totalChars int, timeout time.Duration) *LLMSimpleGenerator {
	return &LLMSimpleGenerator{fetcher: fetcher, totalChars: totalChars, timeout: timeout}
}

// Generate builds one prompt from the pages behind urls. Pages that fail to
// load are listed so the backend can still work from the URLs themselves.
func (g *LLMSimpleGenerator) Generate(ctx context.Context, urls []string, provider llm.Provider) (*record.Record, error) {
	var pages []Page
	var failed []string
	for _, u := range urls {
		p := g.fetcher.Fetch(ctx, u)
		if p.Err != nil {
			failed = append(failed, u)
			continue
		}
		pages = append(pages, p)
	}
	return g.GenerateFromPages(ctx, urls, pages, failed, provider)
}

// GenerateFromPages asks for the record in one call over pages.
func (g *LLMSimpleGenerator) GenerateFromPages(ctx context.Context, urls []string, pages []Page, failed []string, provider llm.Provider) (*record.Record, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	prompt := fmt.Sprintf("Source URLs: %s\n\n%s", strings.Join(urls, ", "), combinedSummary(pages, failed, g.totalChars))
	raw, err := provider.Complete(ctx, simpleSystemPrompt, []llm.Message{llm.User(prompt)})
	if err != nil {
		return nil, fmt.Errorf("simple generation: %w", err)
	}
	rec, ok := record.Extract(raw)
	if !ok {
		return nil, fmt.Errorf("simple generation: %w", errNoRecord)
	}
	return rec, nil
}

func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
