package lifecycle

import "sync"

// entityLocks serializes mutations per (tenant, entity) key. Lock entries
// are reference counted and removed when the last holder releases, so the
// map does not grow with the corpus.
type entityLocks struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newEntityLocks() *entityLocks {
	return &entityLocks{locks: make(map[string]*lockEntry)}
}

func lockKey(tenantID, entityID string) string {
	return tenantID + "\x00" + entityID
}

// acquire blocks until the caller holds the entity's lock, and returns the
// release function.
func (l *entityLocks) acquire(tenantID, entityID string) func() {
	key := lockKey(tenantID, entityID)

	l.mu.Lock()
	entry, ok := l.locks[key]
	if !ok {
		entry = &lockEntry{}
		l.locks[key] = entry
	}
	entry.refs++
	l.mu.Unlock()

	entry.mu.Lock()

	return func() {
		entry.mu.Unlock()

		l.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(l.locks, key)
		}
		l.mu.Unlock()
	}
}
