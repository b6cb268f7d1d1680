// Package keylock provides per-key mutual exclusion. Entries are created on
// demand and removed once no goroutine holds or waits on them, so the lock
// table stays proportional to contention, not to the key space.
package keylock

import "sync"

type entry struct {
	mu   sync.RWMutex
	refs int
}

// KeyLock is a dynamic set of named read/write locks
type KeyLock struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// NewKeyLock creates an empty KeyLock
func NewKeyLock() *KeyLock {
	return &KeyLock{entries: make(map[string]*entry)}
}

func (kl *KeyLock) acquire(key string) *entry {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e, ok := kl.entries[key]
	if !ok {
		e = &entry{}
		kl.entries[key] = e
	}
	e.refs++
	return e
}

func (kl *KeyLock) release(key string, e *entry) {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	e.refs--
	if e.refs == 0 {
		delete(kl.entries, key)
	}
}

// Lock acquires the exclusive lock for key and returns its unlock function
func (kl *KeyLock) Lock(key string) func() {
	e := kl.acquire(key)
	e.mu.Lock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Unlock()
			kl.release(key, e)
		})
	}
}

// RLock acquires the shared lock for key and returns its unlock function
func (kl *KeyLock) RLock(key string) func() {
	e := kl.acquire(key)
	e.mu.RLock()
	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.RUnlock()
			kl.release(key, e)
		})
	}
}

// Len returns the number of keys currently held or contended
func (kl *KeyLock) Len() int {
	kl.mu.Lock()
	defer kl.mu.Unlock()
	return len(kl.entries)
}
