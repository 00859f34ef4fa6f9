package service

import "sync"

// instanceLocks serializes orchestration operations per instance id.
// Operations on different instances run concurrently; a suspend and a
// rollback on the same record cannot interleave.
type instanceLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newInstanceLocks() *instanceLocks {
	return &instanceLocks{locks: make(map[string]*lockEntry)}
}

// acquire locks id and returns the release function. Entries are dropped
// once the last holder releases, so the map does not grow with instance
// churn.
func (l *instanceLocks) acquire(id string) func() {
	l.mu.Lock()
	entry, ok := l.locks[id]
	if !ok {
		entry = &lockEntry{}
		l.locks[id] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()
		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, id)
		}
		l.mu.Unlock()
	}
}
