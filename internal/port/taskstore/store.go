// Package taskstore defines the storage port behind the task registry.
package taskstore

import (
	"context"
	"time"

	"github.com/Strob0t/EventForge/internal/domain/task"
)

// Store persists extraction tasks. Implementations must allow one writer
// and many concurrent readers per task id. Get returns a copy the caller
// may keep; unknown or evicted ids yield domain.ErrNotFound.
type Store interface {
	Create(ctx context.Context, t *task.Task) error
	Get(ctx context.Context, id string) (*task.Task, error)
	// Update applies fn to the current task under the store's write
	// discipline and returns the updated copy. An error from fn aborts the
	// update and is returned unchanged.
	Update(ctx context.Context, id string, fn func(*task.Task) error) (*task.Task, error)
}

// Sweeper is implemented by stores that evict entries themselves rather
// than relying on backend-side expiry.
type Sweeper interface {
	Sweep(ctx context.Context, now time.Time) (evicted int, err error)
}
