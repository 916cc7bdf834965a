package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/snapshot"
)

// Snapshots implements snapshot.Store.
type Snapshots struct {
	mu    sync.RWMutex
	items map[string]snapshot.Snapshot
}

func NewSnapshots() *Snapshots {
	return &Snapshots{items: make(map[string]snapshot.Snapshot)}
}

func (s *Snapshots) SaveSnapshot(_ context.Context, snap *snapshot.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.items[snap.ID]; exists {
		return fmt.Errorf("snapshot %s already saved", snap.ID)
	}
	s.items[snap.ID] = *snap
	return nil
}

func (s *Snapshots) GetSnapshot(_ context.Context, id string) (*snapshot.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.items[id]
	if !ok {
		return nil, fmt.Errorf("%w: snapshot %s", generic.ErrNotFound, id)
	}
	return &snap, nil
}
