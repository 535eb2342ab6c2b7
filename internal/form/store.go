package form

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

// Store is the keyed persistence behind in-progress accumulations. The
// collector is its only caller; implementations must make each operation
// atomic per key.
type Store interface {
	Get(ctx context.Context, key Key) (State, bool, error)
	Put(ctx context.Context, key Key, st State) error
	Delete(ctx context.Context, key Key) error
	// Sweep removes states not touched since the cutoff and reports how
	// many were removed. Stores with native expiry may make it a no-op.
	Sweep(ctx context.Context, cutoff time.Time) (int, error)
}

const shardCount = 16

type shard struct {
	mu     sync.Mutex
	states map[Key]State
}

// MemoryStore keeps accumulations in a sharded in-process map so unrelated
// actors never contend on one lock.
type MemoryStore struct {
	shards [shardCount]*shard
}

func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	for i := range s.shards {
		s.shards[i] = &shard{states: make(map[Key]State)}
	}
	return s
}

func (m *MemoryStore) shardFor(key Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(key.Actor))
	h.Write([]byte{0})
	h.Write([]byte(key.FormID))
	return m.shards[h.Sum32()%shardCount]
}

func (m *MemoryStore) Get(_ context.Context, key Key) (State, bool, error) {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	st, ok := sh.states[key]
	return st, ok, nil
}

func (m *MemoryStore) Put(_ context.Context, key Key, st State) error {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.states[key] = st
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, key Key) error {
	sh := m.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.states, key)
	return nil
}

func (m *MemoryStore) Sweep(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, sh := range m.shards {
		sh.mu.Lock()
		for key, st := range sh.states {
			if st.Touched.Before(cutoff) {
				delete(sh.states, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
