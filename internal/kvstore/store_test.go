package kvstore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

// exerciseStore runs the behaviour every backend must share.
func exerciseStore(t *testing.T, s Store, prefix string) {
	ctx := context.Background()

	t.Run("get missing", func(t *testing.T) {
		_, found, err := s.Get(ctx, prefix+"missing")
		if err != nil {
			t.Fatalf("Get() error: %v", err)
		}
		if found {
			t.Error("Get() found = true for missing key")
		}
	})

	t.Run("set then get", func(t *testing.T) {
		key := prefix + "set"
		v1, err := s.Set(ctx, key, "one", time.Hour)
		if err != nil {
			t.Fatalf("Set() error: %v", err)
		}
		v2, err := s.Set(ctx, key, "two", time.Hour)
		if err != nil {
			t.Fatalf("Set() error: %v", err)
		}
		if v2 != v1+1 {
			t.Errorf("versions = %d, %d; want consecutive", v1, v2)
		}

		e, found, err := s.Get(ctx, key)
		if err != nil || !found {
			t.Fatalf("Get() = %v, %v, %v", e, found, err)
		}
		if e.Value != "two" || e.Version != v2 {
			t.Errorf("Get() = %+v, want {two %d}", e, v2)
		}
	})

	t.Run("compare and swap", func(t *testing.T) {
		key := prefix + "cas"
		v1, err := s.CompareAndSwap(ctx, key, "a", 0, time.Hour)
		if err != nil {
			t.Fatalf("CAS create error: %v", err)
		}
		if _, err := s.CompareAndSwap(ctx, key, "b", 0, time.Hour); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("CAS create over live key err = %v, want ErrVersionConflict", err)
		}
		v2, err := s.CompareAndSwap(ctx, key, "b", v1, time.Hour)
		if err != nil {
			t.Fatalf("CAS update error: %v", err)
		}
		if _, err := s.CompareAndSwap(ctx, key, "c", v1, time.Hour); !errors.Is(err, ErrVersionConflict) {
			t.Errorf("CAS with stale version err = %v, want ErrVersionConflict", err)
		}

		e, _, _ := s.Get(ctx, key)
		if e.Value != "b" || e.Version != v2 {
			t.Errorf("Get() = %+v, want {b %d}", e, v2)
		}
	})

	t.Run("concurrent increments", func(t *testing.T) {
		key := prefix + "counter"
		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for {
					e, _, err := s.Get(ctx, key)
					if err != nil {
						t.Errorf("Get() error: %v", err)
						return
					}
					_, err = s.CompareAndSwap(ctx, key, e.Value+"x", e.Version, time.Hour)
					if errors.Is(err, ErrVersionConflict) {
						continue
					}
					if err != nil {
						t.Errorf("CAS error: %v", err)
						return
					}
					mu.Lock()
					wins++
					mu.Unlock()
					return
				}
			}()
		}
		wg.Wait()

		e, _, _ := s.Get(ctx, key)
		if len(e.Value) != workers || wins != workers {
			t.Errorf("value %q (len %d), wins %d; want %d of each", e.Value, len(e.Value), wins, workers)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore(), "")
}

func testSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kv_test.db")
	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore(%q): %v", dbPath, err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStore(t *testing.T) {
	exerciseStore(t, testSQLiteStore(t), "")
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("STUDYWITHME_TEST_REDIS")
	if addr == "" {
		t.Skip("STUDYWITHME_TEST_REDIS not set")
	}
	s, err := NewRedisStore(context.Background(), RedisOptions{Addr: addr})
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	exerciseStore(t, s, "studywithme-test:"+uuid.NewString()+":")
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	v1, _ := s.Set(ctx, "k", "v", time.Minute)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Fatal("entry should be live before its deadline")
	}

	now = now.Add(2 * time.Minute)
	if _, found, _ := s.Get(ctx, "k"); found {
		t.Fatal("entry should be gone after its deadline")
	}
	if s.Len() != 0 {
		t.Errorf("Len() = %d, want 0", s.Len())
	}

	// A writer holding the pre-expiry version must not win.
	if _, err := s.CompareAndSwap(ctx, "k", "stale", v1, time.Minute); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("stale CAS err = %v, want ErrVersionConflict", err)
	}
	v2, err := s.CompareAndSwap(ctx, "k", "fresh", 0, time.Minute)
	if err != nil {
		t.Fatalf("CAS after expiry error: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("version after expiry = %d, want > %d", v2, v1)
	}

	now = now.Add(2 * time.Minute)
	if n, _ := s.Sweep(ctx); n != 1 {
		t.Errorf("Sweep() = %d, want 1", n)
	}
}

func TestMemoryStore_NoTTL(t *testing.T) {
	ctx := context.Background()
	now := time.Now()
	s := NewMemoryStore()
	s.SetClock(func() time.Time { return now })

	s.Set(ctx, "k", "v", 0)
	now = now.Add(1000 * time.Hour)
	if _, found, _ := s.Get(ctx, "k"); !found {
		t.Error("entry without TTL should never expire")
	}
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMemoryStore().Set(ctx, "k", "v", 0); !errors.Is(err, context.Canceled) {
		t.Errorf("Set() with cancelled ctx err = %v, want context.Canceled", err)
	}
}

func TestSQLiteStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s := testSQLiteStore(t)
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	v1, err := s.Set(ctx, "session:alice", `{"history":[]}`, 24*time.Hour)
	if err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	now = now.Add(23 * time.Hour)
	if _, found, _ := s.Get(ctx, "session:alice"); !found {
		t.Fatal("entry should be live before 24h")
	}

	now = now.Add(2 * time.Hour)
	if _, found, _ := s.Get(ctx, "session:alice"); found {
		t.Fatal("entry should be expired after 24h")
	}
	if _, err := s.CompareAndSwap(ctx, "session:alice", "x", v1, time.Hour); !errors.Is(err, ErrVersionConflict) {
		t.Errorf("CAS against expired row err = %v, want ErrVersionConflict", err)
	}
	v2, err := s.CompareAndSwap(ctx, "session:alice", "fresh", 0, time.Hour)
	if err != nil {
		t.Fatalf("CAS create over expired row error: %v", err)
	}
	if v2 <= v1 {
		t.Errorf("version after takeover = %d, want > %d", v2, v1)
	}

	s.Set(ctx, "session:bob", "b", time.Minute)
	now = now.Add(2 * time.Hour)
	n, err := s.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep() error: %v", err)
	}
	if n != 2 {
		t.Errorf("Sweep() = %d, want 2", n)
	}
}

func TestSQLiteStore_Persists(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "persist.db")

	s, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	s.Set(ctx, "k", "survives", 0)
	s.Close()

	s2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	e, found, err := s2.Get(ctx, "k")
	if err != nil || !found || e.Value != "survives" {
		t.Errorf("Get() after reopen = %+v, %v, %v", e, found, err)
	}
}

func TestRunJanitor_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewMemoryStore()
	done := make(chan struct{})
	go func() {
		RunJanitor(ctx, s, time.Millisecond, nil)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunJanitor did not return after cancel")
	}
}
