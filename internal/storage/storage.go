package storage

import (
	"context"
	"time"

	"github.com/forgesync/forgesync/internal/storage/sqlite"
	"github.com/forgesync/forgesync/internal/types"
)

// Store defines the interface for the entity store backing the sync engine
type Store interface {
	// Transact runs fn as one unit of work. Store calls made with the
	// context fn receives commit or roll back together.
	Transact(ctx context.Context, fn func(ctx context.Context) error) error

	// Scopes
	CreateScope(ctx context.Context, scope *types.Scope) error
	GetScope(ctx context.Context, id int64) (*types.Scope, error)
	GetScopeByName(ctx context.Context, name string) (*types.Scope, error)
	ListScopes(ctx context.Context) ([]*types.Scope, error)
	SaveRateSnapshot(ctx context.Context, scopeID int64, remaining int, resetAt time.Time) error

	// Repositories
	UpsertRepository(ctx context.Context, repo *types.Repository) (*types.Repository, error)
	GetRepository(ctx context.Context, id int64) (*types.Repository, error)
	FindRepository(ctx context.Context, provider types.Provider, owner, name string) (*types.Repository, error)
	ListRepositories(ctx context.Context, scopeID int64, monitoredOnly bool) ([]*types.Repository, error)

	// Entities (idempotent upsert keyed by natural key)
	UpsertEntity(ctx context.Context, entity *types.Entity, actor string) (*types.Entity, error)
	GetEntity(ctx context.Context, id int64) (*types.Entity, error)
	GetEntityByNativeID(ctx context.Context, provider types.Provider, nativeID string) (*types.Entity, error)
	GetEntityByNumber(ctx context.Context, repoID int64, number int) (*types.Entity, error)
	DeleteEntity(ctx context.Context, id int64, actor string) error
	MarkDepsEmptySeen(ctx context.Context, entityID int64, at time.Time) error
	ClearDepsEmptySeen(ctx context.Context, entityID int64) error

	// Blocking-dependency edges
	AddDependency(ctx context.Context, dep *types.Dependency, actor string) (bool, error)
	RemoveDependency(ctx context.Context, blockedID, blockerID int64, actor string) (bool, error)
	GetBlockers(ctx context.Context, blockedID int64) ([]*types.Entity, error)
	GetBlocked(ctx context.Context, blockerID int64) ([]*types.Entity, error)
	ReplaceBlockers(ctx context.Context, blockedID int64, blockerIDs []int64, actor string) (added, removed []int64, err error)

	// Hierarchy links
	SetParent(ctx context.Context, childID, parentID int64, actor string) (bool, error)
	ClearParent(ctx context.Context, childID int64, actor string) (bool, error)
	GetChildren(ctx context.Context, parentID int64) ([]*types.Entity, error)
	RecomputeRollup(ctx context.Context, parentID int64) (total, closed int, err error)
	SetRollup(ctx context.Context, parentID int64, total, closed int) error

	// Commits and contributors
	UpsertCommit(ctx context.Context, commit *types.Commit) (*types.Commit, error)
	ReplaceContributors(ctx context.Context, commitID int64, contribs []*types.Contributor) error
	GetContributors(ctx context.Context, commitID int64) ([]*types.Contributor, error)

	// Identities
	UpsertIdentity(ctx context.Context, identity *types.Identity) (*types.Identity, error)
	FindIdentityByEmail(ctx context.Context, provider types.Provider, email string) (*types.Identity, error)
	FindIdentityByLogin(ctx context.Context, provider types.Provider, login string) (*types.Identity, error)

	// Scope sync metadata
	GetSyncState(ctx context.Context, scopeID int64, syncType types.SyncType) (*types.ScopeSyncState, error)
	TouchSyncState(ctx context.Context, scopeID int64, syncType types.SyncType, at time.Time) error

	// Audit trail
	GetEvents(ctx context.Context, entityID int64, limit int) ([]*types.Event, error)

	// Config
	GetConfig(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error

	// Lifecycle
	Close() error
}

// Config holds database configuration
type Config struct {
	// Path is the SQLite database file path
	// Default: ".forgesync/sync.db"
	// Special value ":memory:" creates an in-memory database (useful for tests)
	Path string
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Path: ".forgesync/sync.db",
	}
}

// NewStore creates a new SQLite store backend
func NewStore(ctx context.Context, cfg *Config) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Path == "" {
		cfg.Path = ".forgesync/sync.db"
	}
	return sqlite.New(cfg.Path)
}
