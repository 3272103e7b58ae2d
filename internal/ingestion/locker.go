package ingestion

import (
	"sync"

	"github.com/google/uuid"
)

// docLocker serializes ingestion per document. Two concurrent Ingest calls for
// the same document would otherwise interleave their delete-then-write passes.
type docLocker struct {
	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func newDocLocker() *docLocker {
	return &docLocker{locks: make(map[uuid.UUID]*sync.Mutex)}
}

// lock acquires the mutex for the given document, creating it on first use.
// The returned func releases it.
func (l *docLocker) lock(id uuid.UUID) func() {
	l.mu.Lock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
