// Package taskstoretest provides the shared compliance suite for
// taskstore.Store implementations.
package taskstoretest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/task"
	"github.com/Strob0t/EventForge/internal/port/taskstore"
)

// RunComplianceTests runs the standard compliance suite against a Store.
// newStore must return an empty store for each call.
func RunComplianceTests(t *testing.T, newStore func(t *testing.T) taskstore.Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, task.New("a", map[string]any{task.MetaProvider: "openai"}, now)); err != nil {
			t.Fatal(err)
		}
		got, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != task.StatusPending || got.Metadata[task.MetaProvider] != "openai" {
			t.Fatalf("unexpected task %+v", got)
		}
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		s := newStore(t)
		_ = s.Create(ctx, task.New("dup", nil, now))
		if err := s.Create(ctx, task.New("dup", nil, now)); !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateUnknown", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Update(ctx, "missing", func(*task.Task) error { return nil })
		if !errors.Is(err, domain.ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("UpdateAppliesAndReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		_ = s.Create(ctx, task.New("u", nil, now))
		updated, err := s.Update(ctx, "u", func(tk *task.Task) error {
			return tk.SetStatus(task.StatusProcessing, 30, now)
		})
		if err != nil {
			t.Fatal(err)
		}
		if updated.Progress != 30 {
			t.Fatalf("expected progress 30, got %d", updated.Progress)
		}
		updated.Metadata["leak"] = true
		got, _ := s.Get(ctx, "u")
		if _, ok := got.Metadata["leak"]; ok {
			t.Fatal("returned task aliases stored metadata")
		}
	})

	t.Run("UpdateErrorAborts", func(t *testing.T) {
		s := newStore(t)
		_ = s.Create(ctx, task.New("e", nil, now))
		boom := errors.New("boom")
		_, err := s.Update(ctx, "e", func(tk *task.Task) error {
			tk.Progress = 99
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
		got, _ := s.Get(ctx, "e")
		if got.Progress != 0 {
			t.Fatalf("aborted update was persisted: %d", got.Progress)
		}
	})

	t.Run("TerminalIsFinal", func(t *testing.T) {
		s := newStore(t)
		_ = s.Create(ctx, task.New("f", nil, now))
		if _, err := s.Update(ctx, "f", func(tk *task.Task) error { return tk.Fail("no sources", now) }); err != nil {
			t.Fatal(err)
		}
		_, err := s.Update(ctx, "f", func(tk *task.Task) error { return tk.SetStatus(task.StatusProcessing, 50, now) })
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("expected ErrConflict, got %v", err)
		}
		got, _ := s.Get(ctx, "f")
		if got.Status != task.StatusFailed || got.Error != "no sources" || got.Result != nil {
			t.Fatalf("unexpected failed task %+v", got)
		}
	})

	t.Run("ConcurrentReadersOneWriter", func(t *testing.T) {
		s := newStore(t)
		_ = s.Create(ctx, task.New("c", nil, now))
		_, _ = s.Update(ctx, "c", func(tk *task.Task) error { return tk.SetStatus(task.StatusProcessing, 0, now) })

		var wg sync.WaitGroup
		stop := make(chan struct{})
		errs := make(chan error, 8)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				last := 0
				for {
					select {
					case <-stop:
						return
					default:
					}
					got, err := s.Get(ctx, "c")
					if err != nil {
						errs <- err
						return
					}
					if got.Progress < last {
						errs <- fmt.Errorf("progress went backwards: %d < %d", got.Progress, last)
						return
					}
					last = got.Progress
				}
			}()
		}
		for p := 1; p <= 50; p++ {
			_, err := s.Update(ctx, "c", func(tk *task.Task) error {
				if err := tk.SetStatus(task.StatusProcessing, p*2, now); err != nil {
					return err
				}
				return tk.MergeMetadata(map[string]any{task.MetaCurrentIteration: p}, now)
			})
			if err != nil {
				t.Fatal(err)
			}
		}
		close(stop)
		wg.Wait()
		close(errs)
		for err := range errs {
			t.Error(err)
		}
	})
}
