// Package checkpoint stores run snapshots while a run waits for approval.
package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrIDRequired = errors.New("checkpoint id is required")
	ErrNotFound   = errors.New("checkpoint not found")
)

// Store saves opaque snapshots by id. Save overwrites; Delete of a missing
// id is not an error.
type Store interface {
	Save(ctx context.Context, id string, data []byte) error
	Load(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// MemoryStore keeps snapshots for the lifetime of the process.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]byte
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snapshots: make(map[string][]byte)}
}

func (m *MemoryStore) Save(ctx context.Context, id string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normalizeID(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots[key] = slices.Clone(data)
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, id string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := normalizeID(id)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.snapshots[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return slices.Clone(data), nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	key, err := normalizeID(id)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, key)
	return nil
}

// List returns stored ids in sorted order.
func (m *MemoryStore) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.snapshots))
	for id := range m.snapshots {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func normalizeID(id string) (string, error) {
	key := strings.TrimSpace(id)
	if key == "" {
		return "", ErrIDRequired
	}
	return key, nil
}
