package service

import (
	"context"
	"errors"
	"sync"

	"github.com/Strob0t/EventForge/internal/domain/record"
	"github.com/Strob0t/EventForge/internal/port/llm"
)

// scriptedProvider replies with the next scripted response on every call
// and repeats the last one when the script runs out.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []string
	err     error
	calls   [][]llm.Message
	systems []string
}

func newScripted(replies ...string) *scriptedProvider {
	return &scriptedProvider{replies: replies}
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Complete(_ context.Context, system string, messages []llm.Message) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, append([]llm.Message(nil), messages...))
	p.systems = append(p.systems, system)
	if p.err != nil {
		return "", p.err
	}
	if len(p.replies) == 0 {
		return "", nil
	}
	idx := min(len(p.calls)-1, len(p.replies)-1)
	return p.replies[idx], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeFetcher serves pages from a map and records every fetch.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]Page
	fetched []string
}

func newFakeFetcher(pages ...Page) *fakeFetcher {
	f := &fakeFetcher{pages: make(map[string]Page)}
	for _, p := range pages {
		f.pages[p.URL] = p
	}
	return f
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, url)
	if p, ok := f.pages[url]; ok {
		return p
	}
	return Page{URL: url, Err: errors.New("HTTP 404 Not Found")}
}

func (f *fakeFetcher) fetchedURLs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.fetched...)
}

// stubSimple is a SimpleGenerator returning a fixed record or error.
type stubSimple struct {
	rec   *record.Record
	err   error
	calls     int
	fromPages int
	urls      []string
}

func (s *stubSimple) Generate(_ context.Context, urls []string, _ llm.Provider) (*record.Record, error) {
	return s.generate(urls)
}

func (s *stubSimple) GenerateFromPages(_ context.Context, urls []string, _ []Page, _ []string, _ llm.Provider) (*record.Record, error) {
	s.fromPages++
	return s.generate(urls)
}

func (s *stubSimple) generate(urls []string) (*record.Record, error) {
	s.calls++
	s.urls = urls
	if s.err != nil {
		return nil, s.err
	}
	c := *s.rec
	return &c, nil
}

// stubFeatures is a FeatureInferrer returning fixed flags or an error.
type stubFeatures struct {
	flags map[string]bool
	err   error
	calls int
}

func (s *stubFeatures) InferFeatures(context.Context, string, llm.Provider) (map[string]bool, error) {
	s.calls++
	return s.flags, s.err
}

const recordJSON = `{"convention": {"name": "RailCon", "description": "Annual model railway fair with exhibitors from all over Europe and workshops for beginners.", "website": "https://railcon.example"}, "edition": {"name": "RailCon 2026", "description": "", "startDate": "2026-05-02", "endDate": "2026-05-03", "timezone": "Europe/Berlin", "city": "Leipzig", "country": "DE"}}`

func testAgentConfig() AgentConfig {
	return AgentConfig{
		MaxIterations:             8,
		MaxInvalidDirectives:      2,
		MinDescriptionForFeatures: 50,
		TotalChars:                60000,
		PerPageChars:              15000,
	}
}
