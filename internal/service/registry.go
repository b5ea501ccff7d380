package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/task"
	"github.com/Strob0t/EventForge/internal/logger"
	"github.com/Strob0t/EventForge/internal/port/messagequeue"
	"github.com/Strob0t/EventForge/internal/port/taskstore"
)

// RunFunc is the background work attached to a task.
type RunFunc func(ctx context.Context) (*task.Result, error)

// TaskRegistry tracks extraction tasks for pollers. One running agent
// writes a task; any number of pollers read it.
type TaskRegistry struct {
	store  taskstore.Store
	events messagequeue.Publisher
	now    func() time.Time
	newID  func() string
	wg     sync.WaitGroup
}

// NewTaskRegistry creates a registry over store. events may be nil.
func NewTaskRegistry(store taskstore.Store, events messagequeue.Publisher) *TaskRegistry {
	return &TaskRegistry{
		store:  store,
		events: events,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// Create registers a pending task seeded with metadata.
func (r *TaskRegistry) Create(ctx context.Context, seed map[string]any) (*task.Task, error) {
	now := r.now().UTC()
	t := task.New(r.newID(), seed, now)
	if err := r.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}

	urls, _ := seed[task.MetaURLs].([]string)
	provider, _ := seed[task.MetaProvider].(string)
	r.publish(ctx, messagequeue.SubjectExtractionCreated, messagequeue.ExtractionCreatedPayload{
		TaskID:    t.ID,
		URLs:      urls,
		Provider:  provider,
		CreatedAt: now,
	})
	return t, nil
}

// Get returns a snapshot of the task, or domain.ErrNotFound.
func (r *TaskRegistry) Get(ctx context.Context, id string) (*task.Task, error) {
	return r.store.Get(ctx, id)
}

// UpdateStatus moves a task to a non-terminal status.
func (r *TaskRegistry) UpdateStatus(ctx context.Context, id string, status task.Status, progress int) error {
	_, err := r.store.Update(ctx, id, func(t *task.Task) error {
		return t.SetStatus(status, progress, r.now().UTC())
	})
	return err
}

// UpdateMetadata merges meta into the task metadata.
func (r *TaskRegistry) UpdateMetadata(ctx context.Context, id string, meta map[string]any) error {
	_, err := r.store.Update(ctx, id, func(t *task.Task) error {
		return t.MergeMetadata(meta, r.now().UTC())
	})
	return err
}

// Report applies one agent progress update in a single write.
func (r *TaskRegistry) Report(ctx context.Context, id string, p Progress) error {
	_, err := r.store.Update(ctx, id, func(t *task.Task) error {
		now := r.now().UTC()
		if err := t.SetStatus(task.StatusProcessing, p.Progress, now); err != nil {
			return err
		}
		return t.MergeMetadata(map[string]any{
			task.MetaPhase:            string(p.Phase),
			task.MetaMessage:          p.Message,
			task.MetaPagesVisited:     p.PagesVisited,
			task.MetaCurrentIteration: p.CurrentIteration,
			task.MetaMaxIterations:    p.MaxIterations,
		}, now)
	})
	return err
}

// Complete records the result and publishes extractions.completed.
func (r *TaskRegistry) Complete(ctx context.Context, id string, res *task.Result) error {
	now := r.now().UTC()
	if _, err := r.store.Update(ctx, id, func(t *task.Task) error {
		return t.Complete(res, now)
	}); err != nil {
		return err
	}

	payload := messagequeue.ExtractionCompletedPayload{
		TaskID:        id,
		Provider:      res.Provider,
		URLsProcessed: res.URLsProcessed,
		Iterations:    res.Iterations,
		FinishedAt:    now,
	}
	if res.JSON != nil {
		payload.Features = res.JSON.Edition.Features
		if data, err := res.JSON.Marshal(); err == nil {
			_ = json.Unmarshal(data, &payload.Record)
		}
	}
	r.publish(ctx, messagequeue.SubjectExtractionCompleted, payload)
	return nil
}

// Fail records msg as the terminal error and publishes extractions.failed.
func (r *TaskRegistry) Fail(ctx context.Context, id, msg string) error {
	now := r.now().UTC()
	if _, err := r.store.Update(ctx, id, func(t *task.Task) error {
		return t.Fail(msg, now)
	}); err != nil {
		return err
	}
	r.publish(ctx, messagequeue.SubjectExtractionFailed, messagequeue.ExtractionFailedPayload{
		TaskID:     id,
		Error:      msg,
		FinishedAt: now,
	})
	return nil
}

// RunInBackground runs fn detached from the caller's cancellation. Its
// result completes the task; a returned error or a panic fails it.
func (r *TaskRegistry) RunInBackground(ctx context.Context, id string, fn RunFunc) {
	ctx = logger.WithTaskID(context.WithoutCancel(ctx), id)

	r.Go(func() {
		res, err := r.execute(ctx, id, fn)
		if err == nil && res == nil {
			err = errors.New("run returned no result")
		}
		if err != nil {
			slog.ErrorContext(ctx, "extraction failed", "error", err)
			if ferr := r.Fail(ctx, id, err.Error()); ferr != nil {
				slog.WarnContext(ctx, "failed to record task failure", "error", ferr)
			}
			return
		}
		if cerr := r.Complete(ctx, id, res); cerr != nil {
			slog.WarnContext(ctx, "failed to record task result", "error", cerr)
			return
		}
		slog.InfoContext(ctx, "extraction completed", "iterations", res.Iterations, "urls", len(res.URLsProcessed))
	})
}

// Go runs fn in a goroutine that Wait accounts for.
func (r *TaskRegistry) Go(fn func()) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		fn()
	}()
}

func (r *TaskRegistry) execute(ctx context.Context, id string, fn RunFunc) (*task.Result, error) {
	return safeRun(ctx, func() (*task.Result, error) {
		if err := r.UpdateStatus(ctx, id, task.StatusProcessing, 0); err != nil {
			return nil, fmt.Errorf("start task: %w", err)
		}
		return fn(ctx)
	})
}

// safeRun calls fn and turns a panic into an error, so a failing run never
// takes the process down. Both delivery channels run through it.
func safeRun(ctx context.Context, fn func() (*task.Result, error)) (res *task.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "extraction panicked", "panic", p, "stack", string(debug.Stack()))
			res, err = nil, fmt.Errorf("internal error: %v", p)
		}
	}()
	return fn()
}

// Wait blocks until every background run, push runs included, finished
// or ctx is done.
func (r *TaskRegistry) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *TaskRegistry) publish(ctx context.Context, subject string, payload any) {
	if r.events == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.ErrorContext(ctx, "failed to marshal lifecycle event", "subject", subject, "error", err)
		return
	}
	if err := r.events.Publish(ctx, subject, data); err != nil {
		slog.WarnContext(ctx, "failed to publish lifecycle event", "subject", subject, "error", err)
	}
}

// isNotFound reports whether err means the task is unknown or evicted.
func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
