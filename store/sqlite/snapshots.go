package sqlite

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/warp/payroll-engine/generic"
	"github.com/warp/payroll-engine/snapshot"
)

// SnapshotStore implements snapshot.Store. Content is kept as JSON; the
// checksum column is what snapshot.Verify compares against.
type SnapshotStore struct {
	s *Store
}

// Snapshots returns the snapshot view of the store.
func (s *Store) Snapshots() *SnapshotStore {
	return &SnapshotStore{s: s}
}

func (ss *SnapshotStore) SaveSnapshot(ctx context.Context, snap *snapshot.Snapshot) error {
	content, err := json.Marshal(snap.Content)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	ss.s.mu.Lock()
	defer ss.s.mu.Unlock()

	_, err = ss.s.db.ExecContext(ctx, `
		INSERT INTO config_snapshots (id, payroll_id, checksum, content_json, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, snap.ID, snap.Payroll.ID, snap.Checksum, string(content), formatTime(snap.CreatedAt))
	if isUniqueConstraintError(err) {
		return fmt.Errorf("snapshot %s already saved", snap.ID)
	}
	return err
}

func (ss *SnapshotStore) GetSnapshot(ctx context.Context, id string) (*snapshot.Snapshot, error) {
	ss.s.mu.RLock()
	defer ss.s.mu.RUnlock()

	snap := &snapshot.Snapshot{ID: id}
	var content, createdAt string
	err := ss.s.db.QueryRowContext(ctx, `
		SELECT checksum, content_json, created_at FROM config_snapshots WHERE id = ?
	`, id).Scan(&snap.Checksum, &content, &createdAt)
	if isNoRows(err) {
		return nil, fmt.Errorf("%w: snapshot %s", generic.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(content), &snap.Content); err != nil {
		return nil, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	snap.CreatedAt = parseTime(createdAt)
	return snap, nil
}
