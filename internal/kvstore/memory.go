package kvstore

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value     string
	version   int64
	expiresAt time.Time // zero: never
}

// MemoryStore is an in-process [Store]. It is what the ask subcommand
// and the tests use; a restart loses everything.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// SetClock replaces the time source. Tests use it to exercise expiry.
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// live returns the entry for key if present and unexpired. Expired
// entries stay in the map until Sweep so their version keeps counting
// up; a reader holding a pre-expiry version can never win a CAS against
// a record recreated after expiry. Callers hold mu.
func (m *MemoryStore) live(key string) (memoryEntry, bool) {
	e, ok := m.entries[key]
	if !ok || m.expired(e) {
		return memoryEntry{}, false
	}
	return e, true
}

func (m *MemoryStore) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *MemoryStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.live(key)
	if !ok {
		return Entry{}, false, nil
	}
	return Entry{Value: e.value, Version: e.version}, true, nil
}

func (m *MemoryStore) Set(ctx context.Context, key, value string, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.write(key, value, ttl), nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, key, value string, version int64, ttl time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	cur, _ := m.live(key)
	if cur.version != version {
		return 0, ErrVersionConflict
	}
	return m.write(key, value, ttl), nil
}

func (m *MemoryStore) write(key, value string, ttl time.Duration) int64 {
	e := memoryEntry{value: value, version: m.entries[key].version + 1}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.entries[key] = e
	return e.version
}

// Len returns the number of live entries.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if !m.expired(e) {
			n++
		}
	}
	return n
}

// Sweep drops expired entries and returns how many were removed.
func (m *MemoryStore) Sweep(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, e := range m.entries {
		if m.expired(e) {
			delete(m.entries, k)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
