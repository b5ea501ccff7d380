package natskv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/Strob0t/EventForge/internal/domain"
	"github.com/Strob0t/EventForge/internal/domain/task"
)

// maxUpdateAttempts bounds optimistic-concurrency retries.
const maxUpdateAttempts = 5

var validKey = regexp.MustCompile(`^[-_=.a-zA-Z0-9]+$`)

// KeyValue is the subset of jetstream.KeyValue the task store needs.
// Revision 0 in Update means "key must not exist".
type KeyValue interface {
	Get(ctx context.Context, key string) (jetstream.KeyValueEntry, error)
	Update(ctx context.Context, key string, value []byte, revision uint64) (uint64, error)
}

// TaskStore implements taskstore.Store on a JetStream KV bucket. Expiry is
// delegated to the bucket TTL, so no janitor is needed.
type TaskStore struct {
	kv KeyValue
}

// NewTaskStore creates a KV-backed task store.
func NewTaskStore(kv KeyValue) *TaskStore {
	return &TaskStore{kv: kv}
}

// Create stores a new task; an existing id yields domain.ErrConflict.
func (s *TaskStore) Create(ctx context.Context, t *task.Task) error {
	if !validKey.MatchString(t.ID) {
		return fmt.Errorf("%w: invalid task id %q", domain.ErrValidation, t.ID)
	}
	data, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", t.ID, err)
	}
	if _, err := s.kv.Update(ctx, t.ID, data, 0); err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return fmt.Errorf("%w: task %s exists", domain.ErrConflict, t.ID)
		}
		return fmt.Errorf("kv create %s: %w", t.ID, err)
	}
	return nil
}

// Get loads a task.
func (s *TaskStore) Get(ctx context.Context, id string) (*task.Task, error) {
	t, _, err := s.load(ctx, id)
	return t, err
}

// Update applies fn with optimistic concurrency on the entry revision.
func (s *TaskStore) Update(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error) {
	for range maxUpdateAttempts {
		t, rev, err := s.load(ctx, id)
		if err != nil {
			return nil, err
		}
		if err := fn(t); err != nil {
			return nil, err
		}
		data, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("marshal task %s: %w", id, err)
		}
		_, err = s.kv.Update(ctx, id, data, rev)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, jetstream.ErrKeyExists) {
			return nil, fmt.Errorf("kv update %s: %w", id, err)
		}
	}
	return nil, fmt.Errorf("%w: task %s changed concurrently", domain.ErrConflict, id)
}

func (s *TaskStore) load(ctx context.Context, id string) (*task.Task, uint64, error) {
	if !validKey.MatchString(id) {
		return nil, 0, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
	}
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrKeyDeleted) {
			return nil, 0, fmt.Errorf("%w: task %s", domain.ErrNotFound, id)
		}
		return nil, 0, fmt.Errorf("kv get %s: %w", id, err)
	}
	var t task.Task
	if err := json.Unmarshal(entry.Value(), &t); err != nil {
		return nil, 0, fmt.Errorf("decode task %s: %w", id, err)
	}
	if t.Metadata == nil {
		t.Metadata = make(map[string]any)
	}
	return &t, entry.Revision(), nil
}
