package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

// UpsertEntity applies create-or-update semantics keyed by the entity's
// natural key (provider, native_id). Conflict resolution happens at the
// database level, so two concurrent writers for the same key converge on one
// row.
//
// Merge semantics depend on Entity.Hydrated:
//
//   - Partial upsert (webhook payloads, stubs): a nil field never overwrites
//     a stored value. State and remote timestamps overwrite when present.
//     The stub flag of an existing row is left alone.
//   - Hydrating upsert (bulk sync, full webhook objects): every payload
//     field takes the incoming value, including explicit nils, and the stub
//     flag is cleared.
//
// The hierarchy link (parent_id) belongs to the reconciler and is never
// touched here. The rollup counters (sub_total/sub_closed) are COALESCE
// merged in both modes: issue payloads do not carry them, so only hierarchy
// sync writes them and an issue write must not null them out.
func (s *SQLiteStore) UpsertEntity(ctx context.Context, entity *types.Entity, actor string) (*types.Entity, error) {
	if err := entity.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()

	var merged *types.Entity
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		// Existing state decides which audit event this write produces. The
		// read is inside the same immediate transaction as the write, so it
		// cannot race another writer.
		var existingID int64
		var existingStub bool
		existed := true
		err := tx.QueryRowContext(ctx, `
			SELECT id, stub FROM entities WHERE provider = ? AND native_id = ?
		`, entity.Provider, entity.NativeID).Scan(&existingID, &existingStub)
		if err == sql.ErrNoRows {
			existed = false
		} else if err != nil {
			return fmt.Errorf("failed to check existing entity: %w", err)
		}

		conflictSet := `
			repo_id = excluded.repo_id,
			number = CASE WHEN excluded.number > 0 THEN excluded.number ELSE entities.number END,
			kind = COALESCE(excluded.kind, entities.kind),
			title = COALESCE(excluded.title, entities.title),
			body = COALESCE(excluded.body, entities.body),
			state = COALESCE(excluded.state, entities.state),
			author = COALESCE(excluded.author, entities.author),
			sub_total = COALESCE(excluded.sub_total, entities.sub_total),
			sub_closed = COALESCE(excluded.sub_closed, entities.sub_closed),
			remote_created_at = COALESCE(excluded.remote_created_at, entities.remote_created_at),
			remote_updated_at = COALESCE(excluded.remote_updated_at, entities.remote_updated_at),
			closed_at = COALESCE(excluded.closed_at, entities.closed_at),
			updated_at = excluded.updated_at`
		if entity.Hydrated {
			conflictSet = `
			repo_id = excluded.repo_id,
			number = CASE WHEN excluded.number > 0 THEN excluded.number ELSE entities.number END,
			kind = excluded.kind,
			title = excluded.title,
			body = excluded.body,
			state = excluded.state,
			author = excluded.author,
			sub_total = COALESCE(excluded.sub_total, entities.sub_total),
			sub_closed = COALESCE(excluded.sub_closed, entities.sub_closed),
			stub = FALSE,
			remote_created_at = excluded.remote_created_at,
			remote_updated_at = excluded.remote_updated_at,
			closed_at = excluded.closed_at,
			updated_at = excluded.updated_at`
		}

		var kind, state interface{}
		if entity.Kind != "" {
			kind = string(entity.Kind)
		}
		if entity.State != "" {
			state = string(entity.State)
		}

		stub := entity.Stub && !entity.Hydrated

		var id int64
		err = tx.QueryRowContext(ctx, fmt.Sprintf(`
			INSERT INTO entities (
				provider, native_id, repo_id, number, kind, title, body, state,
				author, sub_total, sub_closed, stub,
				remote_created_at, remote_updated_at, closed_at,
				created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (provider, native_id) DO UPDATE SET %s
			RETURNING id
		`, conflictSet),
			entity.Provider, entity.NativeID, entity.RepoID, entity.Number,
			kind, entity.Title, entity.Body, state,
			entity.Author, entity.SubTotal, entity.SubClosed, stub,
			entity.RemoteCreatedAt, entity.RemoteUpdatedAt, entity.ClosedAt,
			now, now,
		).Scan(&id)
		if err != nil {
			return fmt.Errorf("failed to upsert entity %s: %w", entity.NativeID, err)
		}

		switch {
		case !existed:
			if err := recordEvent(ctx, tx, id, types.EventCreated, actor, string(entity.NativeID)); err != nil {
				return err
			}
		case existingStub && entity.Hydrated:
			if err := recordEvent(ctx, tx, id, types.EventHydrated, actor, ""); err != nil {
				return err
			}
		default:
			if err := recordEvent(ctx, tx, id, types.EventUpdated, actor, ""); err != nil {
				return err
			}
		}

		merged, err = getEntityTx(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return merged, nil
}

const entityColumns = `
	id, provider, native_id, repo_id, number, kind, title, body, state,
	author, parent_id, sub_total, sub_closed, stub,
	remote_created_at, remote_updated_at, closed_at, deps_empty_seen_at,
	created_at, updated_at`

// entityJoinColumns is entityColumns qualified for queries that join
// entities against another table sharing column names.
const entityJoinColumns = `
	entities.id, entities.provider, entities.native_id, entities.repo_id,
	entities.number, entities.kind, entities.title, entities.body,
	entities.state, entities.author, entities.parent_id, entities.sub_total,
	entities.sub_closed, entities.stub, entities.remote_created_at,
	entities.remote_updated_at, entities.closed_at,
	entities.deps_empty_seen_at, entities.created_at, entities.updated_at`

func scanEntity(scan func(dest ...interface{}) error) (*types.Entity, error) {
	var e types.Entity
	var kind, title, body, state, author sql.NullString
	var parentID sql.NullInt64
	var subTotal, subClosed sql.NullInt64
	var remoteCreated, remoteUpdated, closedAt, depsEmpty sql.NullTime

	err := scan(&e.ID, &e.Provider, &e.NativeID, &e.RepoID, &e.Number,
		&kind, &title, &body, &state, &author, &parentID,
		&subTotal, &subClosed, &e.Stub,
		&remoteCreated, &remoteUpdated, &closedAt, &depsEmpty,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if kind.Valid {
		e.Kind = types.EntityKind(kind.String)
	}
	if title.Valid {
		e.Title = &title.String
	}
	if body.Valid {
		e.Body = &body.String
	}
	if state.Valid {
		e.State = types.EntityState(state.String)
	}
	if author.Valid {
		e.Author = &author.String
	}
	if parentID.Valid {
		e.ParentID = &parentID.Int64
	}
	if subTotal.Valid {
		v := int(subTotal.Int64)
		e.SubTotal = &v
	}
	if subClosed.Valid {
		v := int(subClosed.Int64)
		e.SubClosed = &v
	}
	if remoteCreated.Valid {
		e.RemoteCreatedAt = &remoteCreated.Time
	}
	if remoteUpdated.Valid {
		e.RemoteUpdatedAt = &remoteUpdated.Time
	}
	if closedAt.Valid {
		e.ClosedAt = &closedAt.Time
	}
	if depsEmpty.Valid {
		e.DepsEmptySeenAt = &depsEmpty.Time
	}
	return &e, nil
}

func getEntityTx(ctx context.Context, tx *sql.Tx, id int64) (*types.Entity, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row.Scan)
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %d: %w", id, err)
	}
	return entity, nil
}

// GetEntity retrieves an entity by local ID, or nil if it does not exist
func (s *SQLiteStore) GetEntity(ctx context.Context, id int64) (*types.Entity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `SELECT `+entityColumns+` FROM entities WHERE id = ?`, id)
	entity, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return entity, nil
}

// GetEntityByNativeID retrieves an entity by natural key, or nil
func (s *SQLiteStore) GetEntityByNativeID(ctx context.Context, provider types.Provider, nativeID string) (*types.Entity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities WHERE provider = ? AND native_id = ?
	`, provider, nativeID)
	entity, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity %s: %w", nativeID, err)
	}
	return entity, nil
}

// GetEntityByNumber retrieves an entity by repository and number, or nil.
// Webhook payloads frequently carry only the number, not the native ID.
func (s *SQLiteStore) GetEntityByNumber(ctx context.Context, repoID int64, number int) (*types.Entity, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT `+entityColumns+` FROM entities WHERE repo_id = ? AND number = ?
	`, repoID, number)
	entity, err := scanEntity(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity #%d in repo %d: %w", number, repoID, err)
	}
	return entity, nil
}

// DeleteEntity hard-deletes an entity in response to an explicit deletion
// event. Dependency edges and the audit trail cascade; children keep
// existing with parent_id nulled by the schema.
func (s *SQLiteStore) DeleteEntity(ctx context.Context, id int64, actor string) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM entities WHERE id = ?`, id)
		if err != nil {
			return fmt.Errorf("failed to delete entity %d: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to check rows affected: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("entity %d not found", id)
		}
		return nil
	})
}

// MarkDepsEmptySeen records that an authoritative page reported zero blocker
// edges for this entity. Edges are only mass-cleared once a second confirmed
// empty read arrives, guarding against truncated pages.
func (s *SQLiteStore) MarkDepsEmptySeen(ctx context.Context, entityID int64, at time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE entities SET deps_empty_seen_at = ? WHERE id = ?
	`, at, entityID)
	if err != nil {
		return fmt.Errorf("failed to mark deps empty for entity %d: %w", entityID, err)
	}
	return nil
}

// ClearDepsEmptySeen resets the empty-read marker after a non-empty page
func (s *SQLiteStore) ClearDepsEmptySeen(ctx context.Context, entityID int64) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE entities SET deps_empty_seen_at = NULL WHERE id = ?
	`, entityID)
	if err != nil {
		return fmt.Errorf("failed to clear deps empty marker for entity %d: %w", entityID, err)
	}
	return nil
}

// GetEvents returns the audit trail for an entity, oldest first
func (s *SQLiteStore) GetEvents(ctx context.Context, entityID int64, limit int) ([]*types.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, entity_id, event_type, actor, old_value, new_value, comment, created_at
		FROM events WHERE entity_id = ?
		ORDER BY id ASC LIMIT ?
	`, entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var events []*types.Event
	for rows.Next() {
		var ev types.Event
		var oldVal, newVal, comment sql.NullString
		if err := rows.Scan(&ev.ID, &ev.EntityID, &ev.EventType, &ev.Actor,
			&oldVal, &newVal, &comment, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		if oldVal.Valid {
			ev.OldValue = &oldVal.String
		}
		if newVal.Valid {
			ev.NewValue = &newVal.String
		}
		if comment.Valid {
			ev.Comment = &comment.String
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}
