package engine

import "sync"

// keyLocks serializes evaluation per alert key so suppression and
// escalation updates for one key never race. Locks are created on first
// use and kept for the life of the engine; the key space is bounded by the
// number of registered thresholds plus caller-supplied keys.
type keyLocks struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyLocks() *keyLocks {
	return &keyLocks{locks: make(map[string]*sync.Mutex)}
}

// lock acquires the mutex for key and returns its unlock func.
func (k *keyLocks) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
