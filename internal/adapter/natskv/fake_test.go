package natskv

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go/jetstream"
)

// fakeKV is an in-memory stand-in for a JetStream KV bucket with revision
// semantics.
type fakeKV struct {
	jetstream.KeyValue // unused methods panic

	mu      sync.Mutex
	rev     uint64
	entries map[string]fakeEntry
	updates int
	// conflictOnce forces one revision mismatch on the next Update.
	conflictOnce bool
}

func newFakeKV() *fakeKV {
	return &fakeKV{entries: make(map[string]fakeEntry)}
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	key   string
	value []byte
	rev   uint64
}

func (e fakeEntry) Key() string      { return e.key }
func (e fakeEntry) Value() []byte    { return e.value }
func (e fakeEntry) Revision() uint64 { return e.rev }

func (f *fakeKV) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return e, nil
}

func (f *fakeKV) Update(_ context.Context, key string, value []byte, revision uint64) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates++
	if f.conflictOnce && revision != 0 {
		f.conflictOnce = false
		f.rev++
		cur := f.entries[key]
		cur.rev = f.rev
		f.entries[key] = cur
		return 0, jetstream.ErrKeyExists
	}
	cur, exists := f.entries[key]
	if (revision == 0 && exists) || (revision != 0 && (!exists || cur.rev != revision)) {
		return 0, jetstream.ErrKeyExists
	}
	f.rev++
	f.entries[key] = fakeEntry{key: key, value: append([]byte(nil), value...), rev: f.rev}
	return f.rev, nil
}

func (f *fakeKV) Put(ctx context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rev++
	f.entries[key] = fakeEntry{key: key, value: append([]byte(nil), value...), rev: f.rev}
	return f.rev, nil
}

func (f *fakeKV) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.entries[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(f.entries, key)
	return nil
}

