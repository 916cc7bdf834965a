// Package memory provides in-memory implementations of every store and
// collaborator interface the engine consumes. Intended for tests and dev.
package memory

import "sync"

// keyedMutex hands out one mutex per key. Entries are never evicted; the
// key space (accounts, accumulation keys, payrolls) is bounded in practice.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
