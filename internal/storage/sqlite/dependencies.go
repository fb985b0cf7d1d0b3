package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

// AddDependency adds a blocking edge. Returns true if the edge was actually
// inserted, false if it already existed (idempotent, not an error).
func (s *SQLiteStore) AddDependency(ctx context.Context, dep *types.Dependency, actor string) (bool, error) {
	if dep.BlockedID == dep.BlockerID {
		return false, fmt.Errorf("entity %d cannot block itself", dep.BlockedID)
	}
	if dep.CreatedAt.IsZero() {
		dep.CreatedAt = time.Now()
	}
	if dep.CreatedBy == "" {
		dep.CreatedBy = actor
	}
	if dep.Source == "" {
		dep.Source = "webhook"
	}

	var inserted bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO dependencies (blocked_id, blocker_id, source, created_at, created_by)
			VALUES (?, ?, ?, ?, ?)
		`, dep.BlockedID, dep.BlockerID, dep.Source, dep.CreatedAt, dep.CreatedBy)
		if err != nil {
			return fmt.Errorf("failed to add dependency %d -> %d: %w", dep.BlockedID, dep.BlockerID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		inserted = true
		return recordEvent(ctx, tx, dep.BlockedID, types.EventDepAdded, actor,
			fmt.Sprintf("blocked by entity %d", dep.BlockerID))
	})
	return inserted, err
}

// RemoveDependency removes a blocking edge. Returns true if an edge was
// actually removed; removing a non-existent edge is a no-op.
func (s *SQLiteStore) RemoveDependency(ctx context.Context, blockedID, blockerID int64, actor string) (bool, error) {
	var removed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			DELETE FROM dependencies WHERE blocked_id = ? AND blocker_id = ?
		`, blockedID, blockerID)
		if err != nil {
			return fmt.Errorf("failed to remove dependency %d -> %d: %w", blockedID, blockerID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		removed = true
		return recordEvent(ctx, tx, blockedID, types.EventDepRemoved, actor,
			fmt.Sprintf("no longer blocked by entity %d", blockerID))
	})
	return removed, err
}

// GetBlockers returns the entities blocking the given entity
func (s *SQLiteStore) GetBlockers(ctx context.Context, blockedID int64) ([]*types.Entity, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+entityJoinColumns+`
		FROM entities
		JOIN dependencies d ON d.blocker_id = entities.id
		WHERE d.blocked_id = ?
		ORDER BY d.created_at, entities.id
	`, blockedID)
	if err != nil {
		return nil, fmt.Errorf("failed to get blockers for entity %d: %w", blockedID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

// GetBlocked returns the entities blocked by the given entity
func (s *SQLiteStore) GetBlocked(ctx context.Context, blockerID int64) ([]*types.Entity, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+entityJoinColumns+`
		FROM entities
		JOIN dependencies d ON d.blocked_id = entities.id
		WHERE d.blocker_id = ?
		ORDER BY d.created_at, entities.id
	`, blockerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get blocked entities for %d: %w", blockerID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

func scanEntities(rows *sql.Rows) ([]*types.Entity, error) {
	var entities []*types.Entity
	for rows.Next() {
		entity, err := scanEntity(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan entity: %w", err)
		}
		entities = append(entities, entity)
	}
	return entities, rows.Err()
}

// ReplaceBlockers makes the stored blocker set for blockedID exactly equal
// to blockerIDs: missing edges are added in the given order, stale edges are
// removed. Returns the IDs actually added and removed so the caller can
// publish link/unlink notifications. Runs in one transaction.
//
// This is the storage half of the page-authoritative replace: a blocker set
// deleted on the remote while the local copy was stale gets removed here
// even if no webhook for the removal ever arrived.
func (s *SQLiteStore) ReplaceBlockers(ctx context.Context, blockedID int64, blockerIDs []int64, actor string) (added, removed []int64, err error) {
	want := make(map[int64]bool, len(blockerIDs))
	for _, id := range blockerIDs {
		if id == blockedID {
			// Self-loops in remote data are tolerated, not stored.
			continue
		}
		want[id] = true
	}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, `
			SELECT blocker_id FROM dependencies WHERE blocked_id = ?
		`, blockedID)
		if err != nil {
			return fmt.Errorf("failed to read current blockers: %w", err)
		}
		have := make(map[int64]bool)
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				_ = rows.Close()
				return fmt.Errorf("failed to scan blocker: %w", err)
			}
			have[id] = true
		}
		if err := rows.Err(); err != nil {
			_ = rows.Close()
			return err
		}
		_ = rows.Close()

		now := time.Now()
		// Adds in document order.
		for _, id := range blockerIDs {
			if id == blockedID || have[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO dependencies (blocked_id, blocker_id, source, created_at, created_by)
				VALUES (?, ?, 'bulk', ?, ?)
			`, blockedID, id, now, actor); err != nil {
				return fmt.Errorf("failed to add blocker %d: %w", id, err)
			}
			have[id] = true
			added = append(added, id)
			if err := recordEvent(ctx, tx, blockedID, types.EventDepAdded, actor,
				fmt.Sprintf("blocked by entity %d", id)); err != nil {
				return err
			}
		}

		for id := range have {
			if want[id] {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM dependencies WHERE blocked_id = ? AND blocker_id = ?
			`, blockedID, id); err != nil {
				return fmt.Errorf("failed to remove stale blocker %d: %w", id, err)
			}
			removed = append(removed, id)
			if err := recordEvent(ctx, tx, blockedID, types.EventDepRemoved, actor,
				fmt.Sprintf("no longer blocked by entity %d", id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return added, removed, nil
}
