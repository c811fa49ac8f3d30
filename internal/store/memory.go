package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/franz/photor/internal/fingerprint"
)

// Memory is an in-process catalog with the same lookup and insert semantics
// as Store. Nothing is persisted.
type Memory struct {
	mu     sync.RWMutex
	photos map[fingerprint.Fingerprint]*Photo
	nextID int64
}

// NewMemory creates an empty in-memory catalog
func NewMemory() *Memory {
	return &Memory{
		photos: make(map[fingerprint.Fingerprint]*Photo),
		nextID: 1,
	}
}

// Lookup returns a copy of the photo with the given fingerprint, or nil
func (m *Memory) Lookup(ctx context.Context, fp fingerprint.Fingerprint) (*Photo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.photos[fp]
	if !ok {
		return nil, nil
	}
	cp := *p
	return &cp, nil
}

// Insert adds a photo, or returns ErrDuplicateFingerprint
func (m *Memory) Insert(ctx context.Context, p *NewPhoto) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.photos[p.Fingerprint]; ok {
		return 0, fmt.Errorf("insert %s: %w", p.Fingerprint.Short(), ErrDuplicateFingerprint)
	}

	id := m.nextID
	m.nextID++
	m.photos[p.Fingerprint] = &Photo{
		ID:         id,
		NewPhoto:   *p,
		InsertedAt: time.Now().UTC(),
	}
	return id, nil
}

// Len returns the number of cataloged photos
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.photos)
}
