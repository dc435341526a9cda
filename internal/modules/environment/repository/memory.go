package repository

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"iot-environment-server/internal/modules/environment/types"
)

// MemoryRepository keeps readings in process. Reads sort a copy, so insertion order never leaks.
type MemoryRepository struct {
	mu       sync.RWMutex
	readings []types.Reading
	ids      map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ids: make(map[string]struct{})}
}

func (m *MemoryRepository) MostRecent(_ context.Context, n int) ([]types.Reading, error) {
	if n <= 0 {
		return []types.Reading{}, nil
	}
	out := m.snapshot()
	slices.SortFunc(out, func(a, b types.Reading) int {
		switch {
		case types.NewerThan(a, b):
			return -1
		case types.NewerThan(b, a):
			return 1
		default:
			return 0
		}
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (m *MemoryRepository) After(_ context.Context, ts time.Time) ([]types.Reading, error) {
	all := m.snapshot()
	out := make([]types.Reading, 0, len(all))
	for _, r := range all {
		if r.Timestamp.After(ts) {
			out = append(out, r)
		}
	}
	slices.SortFunc(out, func(a, b types.Reading) int {
		switch {
		case types.NewerThan(a, b):
			return 1
		case types.NewerThan(b, a):
			return -1
		default:
			return 0
		}
	})
	return out, nil
}

func (m *MemoryRepository) Insert(_ context.Context, r types.Reading) error {
	if r.ID == "" {
		return fmt.Errorf("insert reading: id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[r.ID]; ok {
		return fmt.Errorf("insert reading %q: duplicate id", r.ID)
	}
	m.ids[r.ID] = struct{}{}
	m.readings = append(m.readings, r.Clone())
	return nil
}

func (m *MemoryRepository) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings), nil
}

func (m *MemoryRepository) snapshot() []types.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]types.Reading, len(m.readings))
	for i, r := range m.readings {
		out[i] = r.Clone()
	}
	return out
}
