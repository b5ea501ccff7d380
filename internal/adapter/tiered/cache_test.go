package tiered_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Strob0t/EventForge/internal/adapter/tiered"
	"github.com/Strob0t/EventForge/internal/port/cache/cachetest"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, m.err
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func TestTieredCompliance(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), newMemCache(), time.Minute))
}

func TestTieredL1OnlyCompliance(t *testing.T) {
	cachetest.RunComplianceTests(t, tiered.New(newMemCache(), nil, time.Minute))
}

func TestTiered_L1Hit(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l1.data["page.a"] = []byte("text a")

	val, found, err := c.Get(context.Background(), "page.a")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "text a" {
		t.Fatalf("expected L1 hit, got %q found=%v", val, found)
	}
}

func TestTiered_L2HitBackfillsL1(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)

	l2.data["page.b"] = []byte("text b")

	val, found, err := c.Get(context.Background(), "page.b")
	if err != nil {
		t.Fatal(err)
	}
	if !found || string(val) != "text b" {
		t.Fatalf("expected L2 hit, got %q found=%v", val, found)
	}
	if string(l1.data["page.b"]) != "text b" {
		t.Fatal("expected L1 backfill")
	}
}

func TestTiered_L2FailureIsMiss(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	l2.err = errors.New("nats: connection closed")
	c := tiered.New(l1, l2, time.Minute)
	ctx := context.Background()

	if _, found, err := c.Get(ctx, "page.c"); err != nil || found {
		t.Fatalf("expected silent miss, got found=%v err=%v", found, err)
	}
	if err := c.Set(ctx, "page.c", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set should tolerate L2 failure: %v", err)
	}
	if string(l1.data["page.c"]) != "v" {
		t.Fatal("L1 should still be written")
	}
}

func TestTiered_DeleteBoth(t *testing.T) {
	l1, l2 := newMemCache(), newMemCache()
	c := tiered.New(l1, l2, time.Minute)
	l1.data["k"] = []byte("1")
	l2.data["k"] = []byte("1")

	if err := c.Delete(context.Background(), "k"); err != nil {
		t.Fatal(err)
	}
	if _, ok := l1.data["k"]; ok {
		t.Fatal("L1 entry not deleted")
	}
	if _, ok := l2.data["k"]; ok {
		t.Fatal("L2 entry not deleted")
	}
}
