// Package keypool provides a load-balanced credential pool with linear
// fallback. Call sites start at a random key and walk the pool once,
// spreading quota across keys while still surviving a dead credential.
package keypool

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrNoKeys is returned by New when the key list is empty.
var ErrNoKeys = errors.New("keypool: no keys configured")

// Pool holds an immutable set of API keys. It has no package-level state;
// construct one per provider and inject it.
type Pool struct {
	keys []string
}

// New creates a pool from the given keys. Empty entries are dropped.
func New(keys []string) (*Pool, error) {
	cleaned := make([]string, 0, len(keys))
	for _, k := range keys {
		if k != "" {
			cleaned = append(cleaned, k)
		}
	}
	if len(cleaned) == 0 {
		return nil, ErrNoKeys
	}
	return &Pool{keys: cleaned}, nil
}

// Len returns the number of keys in the pool.
func (p *Pool) Len() int {
	return len(p.keys)
}

// Keys returns a copy of the key list, in pool order. Callers that cache
// per-key state (e.g. API clients) key it off this list.
func (p *Pool) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// TryEach runs op with each key in turn, starting from a random index and
// wrapping around the pool exactly once. It returns nil on the first
// success, or the last error if every key fails.
func (p *Pool) TryEach(op func(key string) error) error {
	start := rand.IntN(len(p.keys))

	var lastErr error
	for i := 0; i < len(p.keys); i++ {
		key := p.keys[(start+i)%len(p.keys)]
		if err := op(key); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("keypool: all %d keys failed: %w", len(p.keys), lastErr)
}
