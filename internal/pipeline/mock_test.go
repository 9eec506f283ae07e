package pipeline

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"

	"github.com/sells-group/funnel-cli/internal/model"
	"github.com/sells-group/funnel-cli/internal/store"
)

// --- In-memory Store ---

type memStore struct {
	mu        sync.Mutex
	snapshots map[string]*model.RunState
	saveErr   error
	saves     int
}

func newMemStore() *memStore {
	return &memStore{snapshots: make(map[string]*model.RunState)}
}

func (m *memStore) SaveSnapshot(ctx context.Context, runID string, state *model.RunState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.snapshots[runID] = state.Clone()
	m.saves++
	return nil
}

func (m *memStore) LoadSnapshot(ctx context.Context, runID string) (*model.RunState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.snapshots[runID]
	if !ok {
		return nil, nil
	}
	return state.Clone(), nil
}

func (m *memStore) RemoveSnapshot(ctx context.Context, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snapshots, runID)
	return nil
}

func (m *memStore) ListSnapshots(ctx context.Context) ([]store.SnapshotInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.SnapshotInfo
	for id, state := range m.snapshots {
		out = append(out, store.SnapshotInfo{
			RunID:              id,
			LeadCount:          len(state.Leads),
			CurrentStageIndex:  state.CurrentStageIndex,
			ProcessingComplete: state.ProcessingComplete,
			UpdatedAt:          state.UpdatedAt,
		})
	}
	return out, nil
}

func (m *memStore) Migrate(ctx context.Context) error { return nil }
func (m *memStore) Close() error                      { return nil }

var _ store.Store = (*memStore)(nil)

// --- Flaky probe ---

type flakyProbe struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (p *flakyProbe) probe(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	if p.calls <= p.failures {
		return eris.New("provider unreachable")
	}
	return nil
}
