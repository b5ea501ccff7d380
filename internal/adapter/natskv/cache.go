// Package natskv implements JetStream KV backed adapters: the shared L2
// page cache and the replicated task store.
package natskv

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Cache wraps a NATS JetStream KeyValue bucket as an L2 page cache shared
// between replicas.
type Cache struct {
	kv jetstream.KeyValue
}

// NewCache creates a NATS KV-backed cache.
func NewCache(kv jetstream.KeyValue) *Cache {
	return &Cache{kv: kv}
}

// cacheKey maps a URL onto the KV key alphabet.
func cacheKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return "page." + hex.EncodeToString(sum[:])
}

// Get retrieves a value from the NATS KV store.
func (c *Cache) Get(ctx context.Context, key string) (data []byte, ok bool, err error) {
	entry, err := c.kv.Get(ctx, cacheKey(key))
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set stores a value in the NATS KV store. TTL is managed at bucket level.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	_, err := c.kv.Put(ctx, cacheKey(key), value)
	return err
}

// Delete removes a value from the NATS KV store.
func (c *Cache) Delete(ctx context.Context, key string) error {
	err := c.kv.Delete(ctx, cacheKey(key))
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}
