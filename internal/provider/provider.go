// Package provider defines the boundary to the remote forge's paginated
// query API. Implementations translate forge-specific wire formats into
// the neutral node payloads consumed by the reconciler; they perform no
// retries and no rate limiting themselves, that is the caller's job.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

// PageQuery identifies one page of a scoped listing.
type PageQuery struct {
	Owner    string // repository owner
	Name     string // repository name
	PageSize int    // requested page size (the governor may have stepped it down)
	After    string // opaque cursor from the previous page, empty for the first
}

// RateInfo is the provider's rate budget as reported on a response.
type RateInfo struct {
	Remaining int
	ResetAt   time.Time
}

// Page is one window of results plus the cursor state to continue.
type Page[T any] struct {
	Nodes       []T
	HasNextPage bool
	EndCursor   string
	Rate        RateInfo
}

// IssueNode is the full remote representation of an issue or pull request.
type IssueNode struct {
	NativeID  string
	Number    int
	Kind      types.EntityKind
	Title     string
	Body      string
	State     types.EntityState
	Author    string
	CreatedAt *time.Time
	UpdatedAt *time.Time
	ClosedAt  *time.Time
}

// DependencyNode carries the authoritative blocker set for one entity.
type DependencyNode struct {
	Node     types.Ref
	Blockers []types.Ref
}

// HierarchyNode carries the authoritative parent/child picture for one entity.
type HierarchyNode struct {
	Node      types.Ref
	Parent    *types.Ref // nil means no parent
	SubTotal  int
	SubClosed int
}

// CommitNode is one commit with its raw signature lines.
type CommitNode struct {
	SHA         string
	Message     string
	AuthoredAt  *time.Time
	CommittedAt *time.Time
	Author      types.Signature
	Committer   types.Signature
	CoAuthors   []types.Signature
}

// APIError is a non-2xx response from the provider. The status code drives
// retry classification; the message is whatever the provider sent back.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("provider returned status %d: %s", e.StatusCode, e.Message)
}

// Client is the read surface of a forge's query API.
type Client interface {
	// ListIssues pages through issues and pull requests, most recently
	// updated first.
	ListIssues(ctx context.Context, q PageQuery) (*Page[IssueNode], error)

	// ListDependencies pages through entities that carry blocking
	// relationships; each node's blocker list is authoritative.
	ListDependencies(ctx context.Context, q PageQuery) (*Page[DependencyNode], error)

	// ListHierarchy pages through entities that participate in a
	// sub-issue hierarchy.
	ListHierarchy(ctx context.Context, q PageQuery) (*Page[HierarchyNode], error)

	// ListCommits pages through commits on the default branch.
	ListCommits(ctx context.Context, q PageQuery) (*Page[CommitNode], error)
}
