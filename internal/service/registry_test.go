package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/Strob0t/EventForge/internal/adapter/memstore"
	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/record"
	"github.com/Strob0t/EventForge/internal/domain/task"
	"github.com/Strob0t/EventForge/internal/port/messagequeue"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type published struct {
	subject string
	data    []byte
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *recordingPublisher) Publish(_ context.Context, subject string, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{subject: subject, data: data})
	return p.err
}

func (p *recordingPublisher) subjects() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.msgs))
	for i, m := range p.msgs {
		out[i] = m.subject
	}
	return out
}

func (p *recordingPublisher) last() published {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.msgs[len(p.msgs)-1]
}

func newTestRegistry(pub messagequeue.Publisher) *TaskRegistry {
	r := NewTaskRegistry(memstore.New(time.Hour, 100), pub)
	var n int
	r.newID = func() string {
		n++
		return fmt.Sprintf("task-%d", n)
	}
	return r
}

func waitRegistry(t *testing.T, r *TaskRegistry) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.Wait(ctx); err != nil {
		t.Fatalf("background runs did not finish: %v", err)
	}
}

func TestRegistry_CreateAndGet(t *testing.T) {
	pub := &recordingPublisher{}
	r := newTestRegistry(pub)
	ctx := context.Background()

	created, err := r.Create(ctx, map[string]any{task.MetaURLs: []string{"https://a.example"}, task.MetaProvider: "openai"})
	if err != nil {
		t.Fatal(err)
	}
	if created.ID != "task-1" || created.Status != task.StatusPending {
		t.Fatalf("unexpected task %+v", created)
	}

	got, err := r.Get(ctx, created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Metadata[task.MetaProvider] != "openai" {
		t.Fatalf("seed metadata missing: %v", got.Metadata)
	}

	msg := pub.last()
	if msg.subject != messagequeue.SubjectExtractionCreated {
		t.Fatalf("subject = %s", msg.subject)
	}
	if err := messagequeue.Validate(msg.subject, msg.data); err != nil {
		t.Fatalf("created payload invalid: %v", err)
	}

	if _, err := r.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegistry_ReportNeverRegresses(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()
	created, _ := r.Create(ctx, nil)

	if err := r.Report(ctx, created.ID, Progress{Phase: PhaseExploring, Progress: 50, PagesVisited: 2, CurrentIteration: 3, MaxIterations: 8}); err != nil {
		t.Fatal(err)
	}
	if err := r.Report(ctx, created.ID, Progress{Phase: PhaseExploring, Progress: 40}); err != nil {
		t.Fatal(err)
	}

	got, _ := r.Get(ctx, created.ID)
	if got.Status != task.StatusProcessing || got.Progress != 50 {
		t.Fatalf("unexpected state %s/%d", got.Status, got.Progress)
	}
	if got.Metadata[task.MetaPhase] != string(PhaseExploring) {
		t.Fatalf("phase metadata = %v", got.Metadata[task.MetaPhase])
	}
}

func TestRegistry_RunInBackgroundCompletes(t *testing.T) {
	pub := &recordingPublisher{}
	r := newTestRegistry(pub)
	ctx, cancel := context.WithCancel(context.Background())
	created, _ := r.Create(ctx, nil)

	rec := &record.Record{Convention: record.Convention{Name: "RailCon"}}
	rec.Edition.MergeFeatures(map[string]bool{"hasParking": true})

	r.RunInBackground(ctx, created.ID, func(ctx context.Context) (*task.Result, error) {
		if ctx.Err() != nil {
			return nil, errors.New("run context must be detached from the request")
		}
		return &task.Result{Success: true, JSON: rec, Provider: "openai", URLsProcessed: []string{"https://a.example"}, Iterations: 2}, nil
	})
	// The request finishing must not cancel the run.
	cancel()
	waitRegistry(t, r)

	got, err := r.Get(context.Background(), created.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != task.StatusCompleted || got.Progress != 100 {
		t.Fatalf("unexpected state %s/%d (%s)", got.Status, got.Progress, got.Error)
	}
	if got.Result == nil || got.Error != "" {
		t.Fatal("completed task must carry a result and no error")
	}

	msg := pub.last()
	if msg.subject != messagequeue.SubjectExtractionCompleted {
		t.Fatalf("subject = %s", msg.subject)
	}
	var payload messagequeue.ExtractionCompletedPayload
	if err := json.Unmarshal(msg.data, &payload); err != nil {
		t.Fatal(err)
	}
	if !payload.Features["hasParking"] || payload.Record == nil || payload.Iterations != 2 {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestRegistry_RunInBackgroundFails(t *testing.T) {
	tests := []struct {
		name    string
		fn      RunFunc
		wantErr string
	}{
		{
			name:    "error",
			fn:      func(context.Context) (*task.Result, error) { return nil, errors.New("backend openai: boom") },
			wantErr: "backend openai: boom",
		},
		{
			name:    "panic",
			fn:      func(context.Context) (*task.Result, error) { panic("nil map") },
			wantErr: "internal error: nil map",
		},
		{
			name:    "no result",
			fn:      func(context.Context) (*task.Result, error) { return nil, nil },
			wantErr: "run returned no result",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := &recordingPublisher{}
			r := newTestRegistry(pub)
			created, _ := r.Create(context.Background(), nil)

			r.RunInBackground(context.Background(), created.ID, tt.fn)
			waitRegistry(t, r)

			got, _ := r.Get(context.Background(), created.ID)
			if got.Status != task.StatusFailed || got.Error != tt.wantErr {
				t.Fatalf("got %s %q, want failed %q", got.Status, got.Error, tt.wantErr)
			}
			if got.Result != nil {
				t.Fatal("failed task must not carry a result")
			}
			subjects := pub.subjects()
			if subjects[len(subjects)-1] != messagequeue.SubjectExtractionFailed {
				t.Fatalf("subjects = %v", subjects)
			}
		})
	}
}

func TestRegistry_TerminalIsFinal(t *testing.T) {
	r := newTestRegistry(nil)
	ctx := context.Background()
	created, _ := r.Create(ctx, nil)

	if err := r.Fail(ctx, created.ID, "timeout"); err != nil {
		t.Fatal(err)
	}
	if err := r.Complete(ctx, created.ID, &task.Result{Success: true}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if err := r.Report(ctx, created.ID, Progress{Progress: 10}); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestRegistry_PublishErrorsAreIgnored(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("nats: connection closed")}
	r := newTestRegistry(pub)

	if _, err := r.Create(context.Background(), nil); err != nil {
		t.Fatalf("publish failure must not fail Create: %v", err)
	}
}

func TestRegistry_WaitHonorsContext(t *testing.T) {
	r := newTestRegistry(nil)
	created, _ := r.Create(context.Background(), nil)
	release := make(chan struct{})

	r.RunInBackground(context.Background(), created.ID, func(context.Context) (*task.Result, error) {
		<-release
		return &task.Result{Success: true}, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline, got %v", err)
	}

	close(release)
	waitRegistry(t, r)
}
