package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/forgesync/forgesync/internal/types"
)

// SetParent sets the single hierarchy parent of a child entity. Returns true
// if the link actually changed; setting the same parent twice is a no-op.
// Setting a new parent replaces the old one (strict single-parent).
//
// Cycles can arrive from bad remote data (a parent chain looping back onto
// itself). They are stored as-is and surfaced by the reconciler's logging;
// nothing here walks the chain, so a cycle cannot hang a write.
func (s *SQLiteStore) SetParent(ctx context.Context, childID, parentID int64, actor string) (bool, error) {
	if childID == parentID {
		return false, fmt.Errorf("entity %d cannot be its own parent", childID)
	}

	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current sql.NullInt64
		err := tx.QueryRowContext(ctx, `SELECT parent_id FROM entities WHERE id = ?`, childID).Scan(&current)
		if err == sql.ErrNoRows {
			return fmt.Errorf("entity %d not found", childID)
		}
		if err != nil {
			return fmt.Errorf("failed to read parent of entity %d: %w", childID, err)
		}
		if current.Valid && current.Int64 == parentID {
			return nil
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE entities SET parent_id = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?
		`, parentID, childID); err != nil {
			return fmt.Errorf("failed to set parent of entity %d: %w", childID, err)
		}
		changed = true
		return recordEvent(ctx, tx, childID, types.EventParentSet, actor,
			fmt.Sprintf("parent set to entity %d", parentID))
	})
	return changed, err
}

// ClearParent removes the hierarchy link of a child entity. Returns true if
// a link was actually cleared; clearing an absent link is a no-op.
func (s *SQLiteStore) ClearParent(ctx context.Context, childID int64, actor string) (bool, error) {
	var changed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE entities SET parent_id = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE id = ? AND parent_id IS NOT NULL
		`, childID)
		if err != nil {
			return fmt.Errorf("failed to clear parent of entity %d: %w", childID, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return nil
		}
		changed = true
		return recordEvent(ctx, tx, childID, types.EventParentCleared, actor, "")
	})
	return changed, err
}

// GetChildren returns the direct children of a parent entity
func (s *SQLiteStore) GetChildren(ctx context.Context, parentID int64) ([]*types.Entity, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT `+entityColumns+` FROM entities WHERE parent_id = ? ORDER BY number, id
	`, parentID)
	if err != nil {
		return nil, fmt.Errorf("failed to get children of entity %d: %w", parentID, err)
	}
	defer func() { _ = rows.Close() }()
	return scanEntities(rows)
}

// RecomputeRollup recalculates the sub-entity counters of a parent from its
// stored children and persists them. Used on the event-driven path when a
// child changes state; bulk sync instead takes the summary the page supplies.
func (s *SQLiteStore) RecomputeRollup(ctx context.Context, parentID int64) (total, closed int, err error) {
	err = s.q(ctx).QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(CASE WHEN state = 'closed' THEN 1 END)
		FROM entities WHERE parent_id = ?
	`, parentID).Scan(&total, &closed)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to recompute rollup for entity %d: %w", parentID, err)
	}
	if err := s.SetRollup(ctx, parentID, total, closed); err != nil {
		return 0, 0, err
	}
	return total, closed, nil
}

// SetRollup persists sub-entity counters on a parent
func (s *SQLiteStore) SetRollup(ctx context.Context, parentID int64, total, closed int) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE entities SET sub_total = ?, sub_closed = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, total, closed, parentID)
	if err != nil {
		return fmt.Errorf("failed to set rollup for entity %d: %w", parentID, err)
	}
	return nil
}
