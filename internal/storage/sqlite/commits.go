package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

// UpsertCommit inserts or updates a commit keyed by (repo_id, sha). Commits
// are content addressed, so an update only ever fills in fields a previous
// partial payload lacked.
func (s *SQLiteStore) UpsertCommit(ctx context.Context, commit *types.Commit) (*types.Commit, error) {
	if err := commit.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	var id int64
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO commits (repo_id, sha, message, authored_at, committed_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (repo_id, sha) DO UPDATE SET
			message = CASE WHEN excluded.message != '' THEN excluded.message ELSE commits.message END,
			authored_at = COALESCE(excluded.authored_at, commits.authored_at),
			committed_at = COALESCE(excluded.committed_at, commits.committed_at)
		RETURNING id
	`, commit.RepoID, commit.SHA, commit.Message, commit.AuthoredAt, commit.CommittedAt, time.Now()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert commit %s: %w", commit.SHA, err)
	}
	return s.getCommit(ctx, id)
}

func (s *SQLiteStore) getCommit(ctx context.Context, id int64) (*types.Commit, error) {
	var c types.Commit
	var authoredAt, committedAt sql.NullTime
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, repo_id, sha, message, authored_at, committed_at, created_at
		FROM commits WHERE id = ?
	`, id).Scan(&c.ID, &c.RepoID, &c.SHA, &c.Message, &authoredAt, &committedAt, &c.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get commit %d: %w", id, err)
	}
	if authoredAt.Valid {
		c.AuthoredAt = &authoredAt.Time
	}
	if committedAt.Valid {
		c.CommittedAt = &committedAt.Time
	}
	return &c, nil
}

// ReplaceContributors replaces the stored contributor rows of a commit.
// Contributors are immutable per commit upstream, so re-sync simply rewrites
// the set; rows with a freshly resolved identity replace NULL ones.
func (s *SQLiteStore) ReplaceContributors(ctx context.Context, commitID int64, contribs []*types.Contributor) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM commit_contributors WHERE commit_id = ?
		`, commitID); err != nil {
			return fmt.Errorf("failed to clear contributors for commit %d: %w", commitID, err)
		}
		for _, c := range contribs {
			if _, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO commit_contributors (commit_id, role, name, email, identity_id)
				VALUES (?, ?, ?, ?, ?)
			`, commitID, c.Role, c.Name, c.Email, c.IdentityID); err != nil {
				return fmt.Errorf("failed to insert contributor %s: %w", c.Email, err)
			}
		}
		return nil
	})
}

// GetContributors returns the contributor rows of a commit
func (s *SQLiteStore) GetContributors(ctx context.Context, commitID int64) ([]*types.Contributor, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT commit_id, role, name, email, identity_id
		FROM commit_contributors WHERE commit_id = ?
		ORDER BY role, email
	`, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contributors for commit %d: %w", commitID, err)
	}
	defer func() { _ = rows.Close() }()

	var contribs []*types.Contributor
	for rows.Next() {
		var c types.Contributor
		var identityID sql.NullInt64
		if err := rows.Scan(&c.CommitID, &c.Role, &c.Name, &c.Email, &identityID); err != nil {
			return nil, fmt.Errorf("failed to scan contributor: %w", err)
		}
		if identityID.Valid {
			c.IdentityID = &identityID.Int64
		}
		contribs = append(contribs, &c)
	}
	return contribs, rows.Err()
}

// UpsertIdentity inserts or updates a known identity keyed by (provider, login)
func (s *SQLiteStore) UpsertIdentity(ctx context.Context, identity *types.Identity) (*types.Identity, error) {
	if identity.Login == "" {
		return nil, fmt.Errorf("login is required")
	}
	if !identity.Provider.IsValid() {
		return nil, fmt.Errorf("invalid provider: %q", identity.Provider)
	}

	var id int64
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO identities (provider, login, email, display_name, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (provider, login) DO UPDATE SET
			email = CASE WHEN excluded.email != '' THEN excluded.email ELSE identities.email END,
			display_name = CASE WHEN excluded.display_name != '' THEN excluded.display_name ELSE identities.display_name END
		RETURNING id
	`, identity.Provider, identity.Login, identity.Email, identity.DisplayName, time.Now()).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert identity %s: %w", identity.Login, err)
	}

	var out types.Identity
	err = s.q(ctx).QueryRowContext(ctx, `
		SELECT id, provider, login, email, display_name, created_at FROM identities WHERE id = ?
	`, id).Scan(&out.ID, &out.Provider, &out.Login, &out.Email, &out.DisplayName, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get identity %d: %w", id, err)
	}
	return &out, nil
}

// FindIdentityByEmail finds an identity by exact email match, or nil
func (s *SQLiteStore) FindIdentityByEmail(ctx context.Context, provider types.Provider, email string) (*types.Identity, error) {
	if email == "" {
		return nil, nil
	}
	var out types.Identity
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, provider, login, email, display_name, created_at
		FROM identities WHERE provider = ? AND email = ? COLLATE NOCASE
	`, provider, email).Scan(&out.ID, &out.Provider, &out.Login, &out.Email, &out.DisplayName, &out.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by email: %w", err)
	}
	return &out, nil
}

// FindIdentityByLogin finds an identity by exact login match, or nil
func (s *SQLiteStore) FindIdentityByLogin(ctx context.Context, provider types.Provider, login string) (*types.Identity, error) {
	if login == "" {
		return nil, nil
	}
	var out types.Identity
	err := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, provider, login, email, display_name, created_at
		FROM identities WHERE provider = ? AND login = ? COLLATE NOCASE
	`, provider, login).Scan(&out.ID, &out.Provider, &out.Login, &out.Email, &out.DisplayName, &out.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find identity by login: %w", err)
	}
	return &out, nil
}
