package keypool

import (
	"errors"
	"testing"
)

func TestNew_Empty(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys, got %v", err)
	}
	if _, err := New([]string{"", ""}); !errors.Is(err, ErrNoKeys) {
		t.Errorf("expected ErrNoKeys for blank keys, got %v", err)
	}
}

func TestTryEach_FirstSuccess(t *testing.T) {
	pool, err := New([]string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	err = pool.TryEach(func(key string) error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestTryEach_FallsThroughAllKeys(t *testing.T) {
	pool, err := New([]string{"k1", "k2", "k3"})
	if err != nil {
		t.Fatal(err)
	}

	seen := make(map[string]int)
	err = pool.TryEach(func(key string) error {
		seen[key]++
		return errors.New("quota exceeded")
	})
	if err == nil {
		t.Fatal("expected error when every key fails")
	}
	if len(seen) != 3 {
		t.Errorf("expected all 3 keys tried, saw %d", len(seen))
	}
	for key, n := range seen {
		if n != 1 {
			t.Errorf("key %s tried %d times, expected exactly once", key, n)
		}
	}
}

func TestTryEach_SucceedsOnFallbackKey(t *testing.T) {
	pool, err := New([]string{"bad", "good"})
	if err != nil {
		t.Fatal(err)
	}

	// Whatever the random start, the good key is reachable within one pass.
	for i := 0; i < 20; i++ {
		err := pool.TryEach(func(key string) error {
			if key == "bad" {
				return errors.New("unauthorized")
			}
			return nil
		})
		if err != nil {
			t.Fatalf("expected fallback to succeed, got %v", err)
		}
	}
}
