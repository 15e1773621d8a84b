package journal

import (
	"context"
	"sync"

	"github.com/xgr-network/xgr-relay/types"
)

// Memory is a process-local Store.
type Memory struct {
	mu         sync.RWMutex
	records    map[types.RequestID]*Record
	checkpoint *uint64
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{records: make(map[types.RequestID]*Record)}
}

func (m *Memory) Get(_ context.Context, id types.RequestID) (*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	return r.Clone(), nil
}

func (m *Memory) Put(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records[r.RequestID] = r.Clone()

	return nil
}

func (m *Memory) List(_ context.Context, f Filter) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Record, 0, len(m.records))

	for _, r := range m.records {
		if f.Match(r) {
			out = append(out, r.Clone())
		}
	}

	SortRecords(out)

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}

	return out, nil
}

func (m *Memory) Checkpoint(context.Context) (uint64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.checkpoint == nil {
		return 0, false, nil
	}

	return *m.checkpoint, true, nil
}

func (m *Memory) SetCheckpoint(_ context.Context, block uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.checkpoint = &block

	return nil
}

func (m *Memory) Close() error { return nil }
