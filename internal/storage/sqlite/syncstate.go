package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

// GetSyncState returns when a sync type last completed for a scope, or nil
// if it has never run.
func (s *SQLiteStore) GetSyncState(ctx context.Context, scopeID int64, syncType types.SyncType) (*types.ScopeSyncState, error) {
	var state types.ScopeSyncState
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT scope_id, sync_type, last_synced_at
		FROM scope_sync_state WHERE scope_id = ? AND sync_type = ?
	`, scopeID, syncType).Scan(&state.ScopeID, &state.SyncType, &state.LastSyncedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync state for scope %d: %w", scopeID, err)
	}
	return &state, nil
}

// TouchSyncState records a completed run of syncType for the scope. Only the
// owning orchestrator calls this, and only when at least one repository
// succeeded, so a scope that failed entirely is retried promptly instead of
// waiting out the cooldown.
func (s *SQLiteStore) TouchSyncState(ctx context.Context, scopeID int64, syncType types.SyncType, at time.Time) error {
	if !syncType.IsValid() {
		return fmt.Errorf("invalid sync type: %q", syncType)
	}
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO scope_sync_state (scope_id, sync_type, last_synced_at)
		VALUES (?, ?, ?)
		ON CONFLICT (scope_id, sync_type) DO UPDATE SET last_synced_at = excluded.last_synced_at
	`, scopeID, syncType, at)
	if err != nil {
		return fmt.Errorf("failed to touch sync state for scope %d: %w", scopeID, err)
	}
	return nil
}
