package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	efhttp "github.com/Strob0t/EventForge/internal/adapter/http"
	"github.com/Strob0t/EventForge/internal/adapter/memstore"
	"github.com/Strob0t/EventForge/internal/config"
	"github.com/Strob0t/EventForge/internal/middleware"
	"github.com/Strob0t/EventForge/internal/port/llm"
	"github.com/Strob0t/EventForge/internal/service"
)

const recordReply = `GENERATE_JSON {"convention": {"name": "RailCon", "description": "", "website": "https://railcon.example"}, "edition": {"name": "RailCon 2026", "startDate": "2026-05-02", "city": "Leipzig", "country": "DE"}}`

// backends maps a model name to the test backend serving it, so every test
// gets its own provider through the shared registry.
var backends sync.Map

func init() {
	llm.Register("fake", func(cfg llm.Config) (llm.Provider, error) {
		b, ok := backends.Load(cfg.Model)
		if !ok {
			return nil, fmt.Errorf("no test backend for model %q", cfg.Model)
		}
		return b.(*testBackend), nil //nolint:forcetypeassert // only testBackends are stored
	})
}

type testBackend struct {
	reply string
	gate  chan struct{}
}

func (b *testBackend) Name() string { return "fake" }

func (b *testBackend) Complete(ctx context.Context, _ string, _ []llm.Message) (string, error) {
	if b.gate != nil {
		select {
		case <-b.gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return b.reply, nil
}

type staticFetcher struct{}

func (staticFetcher) Fetch(_ context.Context, url string) service.Page {
	return service.Page{URL: url, Text: "RailCon 2026 takes place in Leipzig on 2-3 May."}
}

type testEnv struct {
	srv      *httptest.Server
	registry *service.TaskRegistry
}

func newTestEnv(t *testing.T, backend *testBackend, limit func(http.Handler) http.Handler) *testEnv {
	t.Helper()
	backends.Store(t.Name(), backend)

	registry := service.NewTaskRegistry(memstore.New(time.Hour, 100), nil)
	agent := service.NewAgent(staticFetcher{}, service.NewLLMSimpleGenerator(staticFetcher{}, 1000, 0), nil, service.AgentConfig{MaxIterations: 8})
	providers := service.NewProviderSet(config.LLM{
		Default:   "fake",
		Providers: map[string]config.LLMProvider{"fake": {Model: t.Name()}},
	}, config.Breaker{MaxFailures: 5, Timeout: time.Minute}, time.Second, nil)

	h := &efhttp.Handlers{
		Extractions: service.NewExtractionService(registry, agent, providers, nil),
		Providers:   providers,
		Push:        config.Push{Keepalive: time.Hour},
		Version:     "test",
		Checks:      map[string]func() bool{"nats": func() bool { return false }},
	}
	router := efhttp.NewRouter(h, efhttp.RouterOptions{
		Server:      config.Server{CORSOrigin: "*"},
		ServiceName: "eventforge-test",
		Limit:       limit,
	})

	env := &testEnv{srv: httptest.NewServer(router), registry: registry}
	t.Cleanup(func() {
		if backend.gate != nil {
			select {
			case <-backend.gate:
			default:
				close(backend.gate)
			}
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = registry.Wait(ctx)
		env.srv.Close()
	})
	return env
}

func (e *testEnv) post(t *testing.T, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/api/v1/extractions", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func (e *testEnv) getJSON(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return resp.StatusCode, body
}

func decode(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	return body
}

func TestCreateAndPollExtraction(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	resp := env.post(t, `{"urls": ["https://railcon.example"]}`)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	created := decode(t, resp)
	taskID, _ := created["taskId"].(string)
	if taskID == "" || created["status"] != "processing" || created["message"] == "" {
		t.Fatalf("unexpected create response %v", created)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := env.registry.Wait(ctx); err != nil {
		t.Fatal(err)
	}

	code, body := env.getJSON(t, "/api/v1/extractions/"+taskID)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "completed" || body["progress"] != float64(100) {
		t.Fatalf("unexpected status body %v", body)
	}
	if _, ok := body["error"]; ok {
		t.Fatal("completed response must not carry an error")
	}
	result, _ := body["result"].(map[string]any)
	if result["success"] != true || result["provider"] != "fake" {
		t.Fatalf("unexpected result %v", result)
	}
	rec, _ := result["json"].(map[string]any)
	conv, _ := rec["convention"].(map[string]any)
	if conv["name"] != "RailCon" {
		t.Fatalf("unexpected record %v", rec)
	}
}

func TestPollProcessingShape(t *testing.T) {
	backend := &testBackend{reply: recordReply, gate: make(chan struct{})}
	env := newTestEnv(t, backend, nil)

	created := decode(t, env.post(t, `{"urls": ["https://railcon.example"]}`))
	taskID, _ := created["taskId"].(string)

	var body map[string]any
	deadline := time.Now().Add(2 * time.Second)
	for {
		_, body = env.getJSON(t, "/api/v1/extractions/"+taskID)
		if body["pagesVisited"] == float64(1) || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if body["status"] != "processing" {
		t.Fatalf("status = %v", body["status"])
	}
	for _, key := range []string{"progress", "pagesVisited", "currentIteration", "maxIterations", "message"} {
		if _, ok := body[key]; !ok {
			t.Errorf("processing response lacks %q: %v", key, body)
		}
	}
	if body["maxIterations"] != float64(8) {
		t.Errorf("maxIterations = %v", body["maxIterations"])
	}
	if _, ok := body["result"]; ok {
		t.Error("processing response must not carry a result")
	}
	close(backend.gate)
}

func TestCreateExtractionValidation(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "malformed json", body: `{"urls":`, want: http.StatusBadRequest},
		{name: "no urls", body: `{"urls": []}`, want: http.StatusBadRequest},
		{name: "six urls", body: `{"urls": ["https://a.example","https://b.example","https://c.example","https://d.example","https://e.example","https://f.example"]}`, want: http.StatusBadRequest},
		{name: "not absolute", body: `{"urls": ["railcon.example"]}`, want: http.StatusBadRequest},
		{name: "unknown provider", body: `{"urls": ["https://a.example"], "provider": "nope"}`, want: http.StatusBadRequest},
		{name: "too large", body: `{"urls": ["https://a.example/` + strings.Repeat("x", 70<<10) + `"]}`, want: http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.post(t, tt.body)
			body := decode(t, resp)
			if resp.StatusCode != tt.want {
				t.Fatalf("expected %d, got %d (%v)", tt.want, resp.StatusCode, body)
			}
			if body["error"] == "" {
				t.Fatal("expected an error message")
			}
		})
	}
}

func TestGetExtractionNotFound(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	code, body := env.getJSON(t, "/api/v1/extractions/does-not-exist")
	if code != http.StatusNotFound || body["error"] != "extraction not found" {
		t.Fatalf("got %d %v", code, body)
	}
}

func TestStreamExtraction(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	resp, err := http.Get(env.srv.URL + "/api/v1/extractions/stream?strategy=agent&urls=https://railcon.example")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var events []map[string]any
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64<<10), 1<<20)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		data, ok := strings.CutPrefix(line, "data: ")
		if !ok {
			t.Fatalf("unexpected line %q", line)
		}
		var ev map[string]any
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			t.Fatal(err)
		}
		events = append(events, ev)
	}

	if len(events) < 3 {
		t.Fatalf("expected connected, progress and result events, got %v", events)
	}
	if events[0]["type"] != "connected" {
		t.Fatalf("first event = %v", events[0])
	}
	last := events[len(events)-1]
	if last["type"] != "result" {
		t.Fatalf("last event = %v", last)
	}
	for _, ev := range events[1 : len(events)-1] {
		if ev["type"] != "progress" || ev["phase"] == "" {
			t.Fatalf("unexpected mid-stream event %v", ev)
		}
	}
}

func TestStreamExtractionRejectsInvalid(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	resp, err := http.Get(env.srv.URL + "/api/v1/extractions/stream?strategy=crawl&urls=https://railcon.example")
	if err != nil {
		t.Fatal(err)
	}
	body := decode(t, resp)
	if resp.StatusCode != http.StatusBadRequest || !strings.Contains(fmt.Sprint(body["error"]), "strategy") {
		t.Fatalf("got %d %v", resp.StatusCode, body)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	code, body := env.getJSON(t, "/health")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if body["status"] != "degraded" || body["defaultProvider"] != "fake" {
		t.Fatalf("unexpected health %v", body)
	}
	deps, _ := body["dependencies"].(map[string]any)
	if deps["nats"] != "down" {
		t.Fatalf("dependencies = %v", deps)
	}
}

func TestCreateExtractionRateLimited(t *testing.T) {
	limiter := middleware.NewRateLimiter(config.Rate{RequestsPerSecond: 0.001, Burst: 1})
	env := newTestEnv(t, &testBackend{reply: recordReply}, limiter.Handler)

	first := env.post(t, `{"urls": ["https://railcon.example"]}`)
	first.Body.Close()
	if first.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", first.StatusCode)
	}
	second := env.post(t, `{"urls": ["https://railcon.example"]}`)
	second.Body.Close()
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.StatusCode)
	}

	// Polling is never limited.
	code, _ := env.getJSON(t, "/api/v1/extractions/unknown")
	if code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
}

func TestRequestIDEchoed(t *testing.T) {
	env := newTestEnv(t, &testBackend{reply: recordReply}, nil)

	req, _ := http.NewRequest(http.MethodGet, env.srv.URL+"/health", http.NoBody)
	req.Header.Set("X-Request-ID", "req-42")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get("X-Request-ID") != "req-42" {
		t.Fatalf("X-Request-ID = %q", resp.Header.Get("X-Request-ID"))
	}
}
