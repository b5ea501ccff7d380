package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

var errBackend = errors.New("provider unavailable")

func fail() error { return errBackend }
func ok() error   { return nil }

// trip drives b into the open state.
func trip(b *Breaker) {
	for range b.maxFailures {
		_ = b.Execute(fail)
	}
}

func TestClosedStateAllowsCalls(t *testing.T) {
	b := NewBreaker(3, time.Second)
	called := false
	err := b.Execute(func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !called {
		t.Fatal("expected fn to be called")
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestOpensAfterMaxFailures(t *testing.T) {
	b := NewBreaker(3, time.Second)
	trip(b)

	err := b.Execute(ok)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen, got %v", err)
	}
	if b.State() != "open" {
		t.Fatalf("expected open, got %s", b.State())
	}
}

func TestBackendErrorIsReturnedUnchanged(t *testing.T) {
	b := NewBreaker(3, time.Second)
	wrapped := fmt.Errorf("anthropic: %w", errBackend)
	if err := b.Execute(func() error { return wrapped }); !errors.Is(err, errBackend) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
}

func TestHalfOpenRecovery(t *testing.T) {
	tests := []struct {
		name      string
		probe     func() error
		wantState string
	}{
		{"probe success closes", ok, "closed"},
		{"probe failure reopens", fail, "open"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := time.Now()
			b := NewBreaker(2, time.Second)
			b.now = func() time.Time { return now }
			trip(b)

			if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("expected ErrCircuitOpen before timeout, got %v", err)
			}

			now = now.Add(2 * time.Second)
			called := false
			_ = b.Execute(func() error {
				called = true
				return tt.probe()
			})
			if !called {
				t.Fatal("expected probe to run after timeout")
			}
			if b.State() != tt.wantState {
				t.Fatalf("expected %s, got %s", tt.wantState, b.State())
			}
		})
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(1, time.Second)
	b.now = func() time.Time { return now }
	trip(b)
	now = now.Add(2 * time.Second)

	release := make(chan struct{})
	done := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		done <- b.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := b.Execute(ok); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("second call during probe should be rejected, got %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("probe failed: %v", err)
	}
	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected closed circuit after probe, got %v", err)
	}
}

func TestCallerCancellationNotCounted(t *testing.T) {
	b := NewBreaker(1, time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := b.ExecuteContext(ctx, func(ctx context.Context) error { return ctx.Err() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("cancellation tripped the breaker: %s", b.State())
	}
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker(3, time.Second)

	_ = b.Execute(fail)
	_ = b.Execute(fail)
	_ = b.Execute(ok)
	_ = b.Execute(fail)
	_ = b.Execute(fail)

	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected circuit to stay closed, got %v", err)
	}
}

func TestPanicCountsAsFailureAndReleasesProbe(t *testing.T) {
	b := NewBreaker(1, time.Minute)
	now := time.Now()
	b.now = func() time.Time { return now }

	boom := func() error { panic("nil map") }
	mustPanic := func() {
		t.Helper()
		defer func() {
			if recover() == nil {
				t.Fatal("expected the panic to propagate")
			}
		}()
		_ = b.Execute(boom)
	}

	mustPanic()
	if b.State() != "open" {
		t.Fatalf("expected open after panic, got %s", b.State())
	}

	// The half-open probe panics too; the breaker must not stay stuck probing.
	now = now.Add(2 * time.Minute)
	mustPanic()
	if b.State() != "open" {
		t.Fatalf("expected open after failed probe, got %s", b.State())
	}

	now = now.Add(2 * time.Minute)
	if err := b.Execute(ok); err != nil {
		t.Fatalf("expected the next probe to run, got %v", err)
	}
	if b.State() != "closed" {
		t.Fatalf("expected closed, got %s", b.State())
	}
}
