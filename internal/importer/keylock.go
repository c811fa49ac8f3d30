package importer

import (
	"sync"

	"github.com/franz/photor/internal/fingerprint"
)

// keyLock serialises work per fingerprint while letting distinct
// fingerprints proceed in parallel
type keyLock struct {
	mu    sync.Mutex
	locks map[fingerprint.Fingerprint]*keyEntry
}

type keyEntry struct {
	mu   sync.Mutex
	refs int
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[fingerprint.Fingerprint]*keyEntry)}
}

// Lock blocks until key is free and returns its unlock function
func (k *keyLock) Lock(key fingerprint.Fingerprint) func() {
	k.mu.Lock()
	e, ok := k.locks[key]
	if !ok {
		e = &keyEntry{}
		k.locks[key] = e
	}
	e.refs++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
