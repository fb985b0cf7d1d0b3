package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/forgesync/forgesync/internal/types"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db *sql.DB
}

// New creates a new SQLite store backend
func New(path string) (*SQLiteStore, error) {
	dsn := "file::memory:"
	if path != ":memory:" {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
		dsn = "file:" + path
	}

	// WAL for concurrent readers during a bulk run, immediate transactions so
	// writers serialize up front instead of failing at commit.
	dsn += "?_txlock=immediate" +
		"&_pragma=journal_mode(wal)" +
		"&_pragma=foreign_keys(1)" +
		"&_pragma=busy_timeout(5000)"

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if path == ":memory:" {
		// Each pooled connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

type txKey struct{}

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// q returns the open transaction carried by ctx, or the pooled database.
func (s *SQLiteStore) q(ctx context.Context) querier {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// Transact runs fn inside one transaction carried through the returned
// context. Every store call made with that context joins the transaction,
// so a whole unit of work (one sync page) commits or rolls back together.
// A nested Transact joins the outer transaction.
func (s *SQLiteStore) Transact(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(ctx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	return tx.Commit()
}

// withTx runs fn inside a transaction, committing on success. A transaction
// already open on the context is joined instead; the outer owner commits.
func (s *SQLiteStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return fn(tx)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// recordEvent appends a row to the audit trail inside an open transaction
func recordEvent(ctx context.Context, tx *sql.Tx, entityID int64, eventType types.EventType, actor, comment string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO events (entity_id, event_type, actor, comment)
		VALUES (?, ?, ?, ?)
	`, entityID, eventType, actor, comment)
	if err != nil {
		return fmt.Errorf("failed to record event: %w", err)
	}
	return nil
}

// CreateScope creates a new tenant scope
func (s *SQLiteStore) CreateScope(ctx context.Context, scope *types.Scope) error {
	if scope.Name == "" {
		return fmt.Errorf("scope name is required")
	}
	if scope.Provider == "" {
		scope.Provider = types.ProviderGitHub
	}
	if !scope.Provider.IsValid() {
		return fmt.Errorf("invalid provider: %q", scope.Provider)
	}
	scope.CreatedAt = time.Now()

	res, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO scopes (name, provider, created_at) VALUES (?, ?, ?)
	`, scope.Name, scope.Provider, scope.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create scope %s: %w", scope.Name, err)
	}
	scope.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get scope id: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanScope(row *sql.Row) (*types.Scope, error) {
	var scope types.Scope
	var resetAt sql.NullTime
	err := row.Scan(&scope.ID, &scope.Name, &scope.Provider,
		&scope.RateRemaining, &resetAt, &scope.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get scope: %w", err)
	}
	if resetAt.Valid {
		scope.RateResetAt = resetAt.Time
	}
	return &scope, nil
}

// GetScope retrieves a scope by ID, or nil if it does not exist
func (s *SQLiteStore) GetScope(ctx context.Context, id int64) (*types.Scope, error) {
	return s.scanScope(s.q(ctx).QueryRowContext(ctx, `
		SELECT id, name, provider, rate_remaining, rate_reset_at, created_at
		FROM scopes WHERE id = ?
	`, id))
}

// GetScopeByName retrieves a scope by name, or nil if it does not exist
func (s *SQLiteStore) GetScopeByName(ctx context.Context, name string) (*types.Scope, error) {
	return s.scanScope(s.q(ctx).QueryRowContext(ctx, `
		SELECT id, name, provider, rate_remaining, rate_reset_at, created_at
		FROM scopes WHERE name = ?
	`, name))
}

// ListScopes returns all scopes ordered by name
func (s *SQLiteStore) ListScopes(ctx context.Context) ([]*types.Scope, error) {
	rows, err := s.q(ctx).QueryContext(ctx, `
		SELECT id, name, provider, rate_remaining, rate_reset_at, created_at
		FROM scopes ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var scopes []*types.Scope
	for rows.Next() {
		var scope types.Scope
		var resetAt sql.NullTime
		if err := rows.Scan(&scope.ID, &scope.Name, &scope.Provider,
			&scope.RateRemaining, &resetAt, &scope.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		if resetAt.Valid {
			scope.RateResetAt = resetAt.Time
		}
		scopes = append(scopes, &scope)
	}
	return scopes, rows.Err()
}

// SaveRateSnapshot persists the last observed rate-limit state for a scope
func (s *SQLiteStore) SaveRateSnapshot(ctx context.Context, scopeID int64, remaining int, resetAt time.Time) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		UPDATE scopes SET rate_remaining = ?, rate_reset_at = ? WHERE id = ?
	`, remaining, resetAt, scopeID)
	if err != nil {
		return fmt.Errorf("failed to save rate snapshot for scope %d: %w", scopeID, err)
	}
	return nil
}

// UpsertRepository inserts or updates a repository keyed by (provider, owner, name).
// A later upsert may supply the native ID or flip the monitored flag; it never
// clears a previously known native ID.
func (s *SQLiteStore) UpsertRepository(ctx context.Context, repo *types.Repository) (*types.Repository, error) {
	if err := repo.Validate(); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}
	now := time.Now()

	var id int64
	err := s.q(ctx).QueryRowContext(ctx, `
		INSERT INTO repositories (scope_id, provider, native_id, owner, name, monitored, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (provider, owner, name) DO UPDATE SET
			native_id = CASE WHEN excluded.native_id != '' THEN excluded.native_id ELSE repositories.native_id END,
			monitored = repositories.monitored OR excluded.monitored,
			updated_at = excluded.updated_at
		RETURNING id
	`, repo.ScopeID, repo.Provider, repo.NativeID, repo.Owner, repo.Name, repo.Monitored, now, now).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert repository %s: %w", repo.FullName(), err)
	}
	return s.GetRepository(ctx, id)
}

func scanRepository(scan func(dest ...interface{}) error) (*types.Repository, error) {
	var repo types.Repository
	err := scan(&repo.ID, &repo.ScopeID, &repo.Provider, &repo.NativeID,
		&repo.Owner, &repo.Name, &repo.Monitored, &repo.CreatedAt, &repo.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &repo, nil
}

// GetRepository retrieves a repository by ID, or nil if it does not exist
func (s *SQLiteStore) GetRepository(ctx context.Context, id int64) (*types.Repository, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, scope_id, provider, native_id, owner, name, monitored, created_at, updated_at
		FROM repositories WHERE id = ?
	`, id)
	repo, err := scanRepository(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return repo, nil
}

// FindRepository retrieves a repository by provider and owner/name, or nil
func (s *SQLiteStore) FindRepository(ctx context.Context, provider types.Provider, owner, name string) (*types.Repository, error) {
	row := s.q(ctx).QueryRowContext(ctx, `
		SELECT id, scope_id, provider, native_id, owner, name, monitored, created_at, updated_at
		FROM repositories WHERE provider = ? AND owner = ? AND name = ?
	`, provider, owner, name)
	repo, err := scanRepository(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find repository %s/%s: %w", owner, name, err)
	}
	return repo, nil
}

// ListRepositories returns repositories under a scope
func (s *SQLiteStore) ListRepositories(ctx context.Context, scopeID int64, monitoredOnly bool) ([]*types.Repository, error) {
	query := `
		SELECT id, scope_id, provider, native_id, owner, name, monitored, created_at, updated_at
		FROM repositories WHERE scope_id = ?`
	if monitoredOnly {
		query += ` AND monitored`
	}
	query += ` ORDER BY owner, name`

	rows, err := s.q(ctx).QueryContext(ctx, query, scopeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*types.Repository
	for rows.Next() {
		repo, err := scanRepository(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan repository: %w", err)
		}
		repos = append(repos, repo)
	}
	return repos, rows.Err()
}

// GetConfig gets a configuration value from the config table
func (s *SQLiteStore) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.q(ctx).QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// SetConfig sets a configuration value in the config table
func (s *SQLiteStore) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.q(ctx).ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
