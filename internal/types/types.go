package types

import (
	"fmt"
	"strings"
	"time"
)

// Provider identifies the external Git hosting provider an entity came from.
type Provider string

const (
	ProviderGitHub Provider = "github"
	ProviderGitLab Provider = "gitlab"
)

// IsValid checks if the provider value is valid
func (p Provider) IsValid() bool {
	switch p {
	case ProviderGitHub, ProviderGitLab:
		return true
	}
	return false
}

// EntityState represents the remote state of an entity
type EntityState string

const (
	StateOpen   EntityState = "open"
	StateClosed EntityState = "closed"
)

// IsValid checks if the state value is valid
func (s EntityState) IsValid() bool {
	switch s {
	case StateOpen, StateClosed:
		return true
	}
	return false
}

// EntityKind categorizes the kind of node in the synced graph
type EntityKind string

const (
	KindIssue       EntityKind = "issue"
	KindPullRequest EntityKind = "pull_request"
)

// IsValid checks if the kind value is valid
func (k EntityKind) IsValid() bool {
	switch k {
	case KindIssue, KindPullRequest:
		return true
	}
	return false
}

// Entity is an issue-like node in the synced graph.
//
// Entities are keyed by their natural key (Provider, NativeID), never by the
// local row ID, so that webhook deltas and bulk sync pages converge on one
// row no matter which channel saw the entity first.
//
// Optional fields are pointers: nil means "not supplied by this payload" and
// must never erase a previously stored value. See Store.UpsertEntity.
type Entity struct {
	ID       int64    `json:"id"`
	Provider Provider `json:"provider"`
	NativeID string   `json:"native_id"`
	RepoID   int64    `json:"repo_id"`
	Number   int      `json:"number"`

	Kind  EntityKind  `json:"kind"`
	Title *string     `json:"title,omitempty"`
	Body  *string     `json:"body,omitempty"`
	State EntityState `json:"state,omitempty"`

	// Author is the provider login of the entity author, when known.
	Author *string `json:"author,omitempty"`

	// ParentID is a weak reference to the hierarchy parent. Set and cleared
	// only by the relationship reconciler.
	ParentID *int64 `json:"parent_id,omitempty"`

	// Rollup counters for sub-entities, recomputed on child state changes
	// or taken from a fresh bulk-sync summary.
	SubTotal  *int `json:"sub_total,omitempty"`
	SubClosed *int `json:"sub_closed,omitempty"`

	// Stub is true while only identity and repository are known. A stub is
	// created to satisfy a relationship reference before the entity's full
	// payload has been synced.
	Stub bool `json:"stub"`

	// Hydrated marks an upsert carrying a complete payload (bulk sync or a
	// full webhook object). Hydrating upserts overwrite payload fields and
	// clear the stub flag; partial upserts merge field by field.
	Hydrated bool `json:"-"`

	RemoteCreatedAt *time.Time `json:"remote_created_at,omitempty"`
	RemoteUpdatedAt *time.Time `json:"remote_updated_at,omitempty"`
	ClosedAt        *time.Time `json:"closed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// DepsEmptySeenAt records when an authoritative dependency page last
	// reported zero blockers for this entity. Edges are only mass-cleared
	// once a second confirmed empty read arrives.
	DepsEmptySeenAt *time.Time `json:"-"`
}

// Validate checks if the entity has valid field values
func (e *Entity) Validate() error {
	if !e.Provider.IsValid() {
		return fmt.Errorf("invalid provider: %q", e.Provider)
	}
	if strings.TrimSpace(e.NativeID) == "" {
		return fmt.Errorf("native_id is required")
	}
	if e.RepoID == 0 {
		return fmt.Errorf("repo_id is required")
	}
	if e.Number < 0 {
		return fmt.Errorf("number cannot be negative (got %d)", e.Number)
	}
	if e.Kind != "" && !e.Kind.IsValid() {
		return fmt.Errorf("invalid entity kind: %q", e.Kind)
	}
	if e.State != "" && !e.State.IsValid() {
		return fmt.Errorf("invalid state: %q", e.State)
	}
	if e.Title != nil && len(*e.Title) > 500 {
		return fmt.Errorf("title must be 500 characters or less (got %d)", len(*e.Title))
	}
	return nil
}

// IsOpen reports whether the entity is in the open state.
func (e *Entity) IsOpen() bool { return e.State == StateOpen }

// Repository is a monitored remote repository under a scope.
type Repository struct {
	ID       int64    `json:"id"`
	ScopeID  int64    `json:"scope_id"`
	Provider Provider `json:"provider"`
	NativeID string   `json:"native_id"`
	Owner    string   `json:"owner"`
	Name     string   `json:"name"`

	// Monitored is false for repositories we only know about through
	// cross-repository references. Unmonitored repositories can own stubs
	// but are never bulk synced.
	Monitored bool `json:"monitored"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName returns the owner/name form of the repository.
func (r *Repository) FullName() string {
	return r.Owner + "/" + r.Name
}

// Validate checks if the repository has valid field values
func (r *Repository) Validate() error {
	if !r.Provider.IsValid() {
		return fmt.Errorf("invalid provider: %q", r.Provider)
	}
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("owner and name are required (got %q/%q)", r.Owner, r.Name)
	}
	return nil
}

// Scope is a tenant boundary: rate limits, credentials, and sync cooldowns
// are tracked independently per scope.
type Scope struct {
	ID       int64    `json:"id"`
	Name     string   `json:"name"`
	Provider Provider `json:"provider"`

	// RateRemaining / RateResetAt are the last rate-limit snapshot observed
	// for this scope. Zero values mean no snapshot has been taken yet.
	RateRemaining int       `json:"rate_remaining"`
	RateResetAt   time.Time `json:"rate_reset_at"`

	CreatedAt time.Time `json:"created_at"`
}

// SyncType identifies one kind of bulk synchronization run.
type SyncType string

const (
	SyncIssues       SyncType = "issues"
	SyncDependencies SyncType = "dependencies"
	SyncHierarchy    SyncType = "hierarchy"
	SyncCommits      SyncType = "commits"
)

// IsValid checks if the sync type value is valid
func (t SyncType) IsValid() bool {
	switch t {
	case SyncIssues, SyncDependencies, SyncHierarchy, SyncCommits:
		return true
	}
	return false
}

// AllSyncTypes lists every bulk sync type in the order they are run.
func AllSyncTypes() []SyncType {
	return []SyncType{SyncIssues, SyncHierarchy, SyncDependencies, SyncCommits}
}

// ScopeSyncState records when a sync type last completed for a scope.
// Mutated only by the owning orchestrator after a run; read by the cooldown
// check before starting a new one.
type ScopeSyncState struct {
	ScopeID      int64     `json:"scope_id"`
	SyncType     SyncType  `json:"sync_type"`
	LastSyncedAt time.Time `json:"last_synced_at"`
}

// Dependency is a directed blocking edge: Blocked cannot proceed until
// Blocker is resolved. Uniqueness is per ordered pair; self-loops are
// rejected at the schema level.
type Dependency struct {
	BlockedID int64     `json:"blocked_id"`
	BlockerID int64     `json:"blocker_id"`
	Source    string    `json:"source"` // "bulk" or "webhook"
	CreatedAt time.Time `json:"created_at"`
	CreatedBy string    `json:"created_by"`
}

// Ref is an unresolved reference to an entity that may live in a different
// repository, as carried by provider payloads. The stub resolver turns a Ref
// into a local Entity, creating placeholder rows as needed.
type Ref struct {
	NativeID string  `json:"native_id"`
	Number   int     `json:"number"`
	Repo     RepoRef `json:"repo"`
}

// RepoRef identifies the repository owning a referenced entity.
type RepoRef struct {
	NativeID string `json:"native_id"`
	Owner    string `json:"owner"`
	Name     string `json:"name"`
}

// String returns the owner/repo#number form commonly used in log lines.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s#%d", r.Repo.Owner, r.Repo.Name, r.Number)
}
