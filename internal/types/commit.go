package types

import (
	"fmt"
	"strings"
	"time"
)

// Commit is a synced commit, keyed by (SHA, RepoID). Commits are content
// hashed upstream so the natural key never changes once seen.
type Commit struct {
	ID     int64  `json:"id"`
	RepoID int64  `json:"repo_id"`
	SHA    string `json:"sha"`

	Message     string     `json:"message"`
	AuthoredAt  *time.Time `json:"authored_at,omitempty"`
	CommittedAt *time.Time `json:"committed_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks if the commit has valid field values
func (c *Commit) Validate() error {
	if c.RepoID == 0 {
		return fmt.Errorf("repo_id is required")
	}
	sha := strings.TrimSpace(c.SHA)
	if len(sha) < 7 {
		return fmt.Errorf("sha too short: %q", c.SHA)
	}
	return nil
}

// ContributorRole distinguishes how a contributor participated in a commit.
type ContributorRole string

const (
	RoleAuthor    ContributorRole = "author"
	RoleCommitter ContributorRole = "committer"
	RoleCoAuthor  ContributorRole = "co_author"
)

// Signature is the raw name/email/login triple carried by a commit payload,
// before identity resolution.
type Signature struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Login string `json:"login,omitempty"`
}

// Contributor links a commit to a signature and, when resolution succeeded,
// to a known identity. IdentityID is nil for unresolved contributors; the
// raw name and email are always kept so resolution can be retried later.
type Contributor struct {
	CommitID   int64           `json:"commit_id"`
	Role       ContributorRole `json:"role"`
	Name       string          `json:"name"`
	Email      string          `json:"email"`
	IdentityID *int64          `json:"identity_id,omitempty"`
}

// Identity is a known person on the provider, matched against commit
// signatures by email, no-reply pattern, or login.
type Identity struct {
	ID          int64    `json:"id"`
	Provider    Provider `json:"provider"`
	Login       string   `json:"login"`
	Email       string   `json:"email,omitempty"`
	DisplayName string   `json:"display_name,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
