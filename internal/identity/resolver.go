// Package identity maps raw commit signatures to known provider identities.
// Resolution is best-effort: an unresolved signature is never an error and
// never blocks persisting the commit it came from.
package identity

import (
	"context"
	"regexp"
	"strings"

	"github.com/forgesync/forgesync/internal/types"
)

// Directory is the identity lookup/creation surface the resolver needs.
// *sqlite.SQLiteStore satisfies it.
type Directory interface {
	UpsertIdentity(ctx context.Context, identity *types.Identity) (*types.Identity, error)
	FindIdentityByEmail(ctx context.Context, provider types.Provider, email string) (*types.Identity, error)
	FindIdentityByLogin(ctx context.Context, provider types.Provider, login string) (*types.Identity, error)
}

// noReplyRe matches GitHub's no-reply address forms:
// "login@users.noreply.github.com" and "12345+login@users.noreply.github.com".
var noReplyRe = regexp.MustCompile(`^(?:\d+\+)?([a-zA-Z0-9-]+)@users\.noreply\.github\.com$`)

// Resolver resolves signatures against a directory of known identities.
type Resolver struct {
	dir Directory
}

// NewResolver creates a resolver backed by the given directory.
func NewResolver(dir Directory) *Resolver {
	return &Resolver{dir: dir}
}

// Resolve maps a signature to a known identity, first match wins: an exact
// email match, the no-reply address pattern, then the signature's literal
// login. When none of the chain matches but the wire carried a login, the
// identity is created from it; a login on a provider payload names a real
// account, so the row only front-runs a future sync. Returns (nil, nil)
// when nothing matched.
func (r *Resolver) Resolve(ctx context.Context, provider types.Provider, sig types.Signature) (*types.Identity, error) {
	email := strings.TrimSpace(sig.Email)
	if email != "" {
		found, err := r.dir.FindIdentityByEmail(ctx, provider, email)
		if err != nil {
			return nil, err
		}
		if found != nil {
			return found, nil
		}

		if login := noReplyLogin(email); login != "" {
			found, err := r.dir.FindIdentityByLogin(ctx, provider, login)
			if err != nil {
				return nil, err
			}
			if found != nil {
				return found, nil
			}
		}
	}

	login := strings.TrimSpace(sig.Login)
	if login == "" {
		return nil, nil
	}
	found, err := r.dir.FindIdentityByLogin(ctx, provider, login)
	if err != nil {
		return nil, err
	}
	if found != nil {
		return found, nil
	}
	return r.dir.UpsertIdentity(ctx, &types.Identity{
		Provider:    provider,
		Login:       login,
		Email:       realEmail(email),
		DisplayName: sig.Name,
	})
}

// noReplyLogin extracts the login from a no-reply address, or "".
func noReplyLogin(email string) string {
	m := noReplyRe.FindStringSubmatch(strings.ToLower(email))
	if m == nil {
		return ""
	}
	return m[1]
}

// realEmail filters out no-reply addresses so they never become an
// identity's stored email.
func realEmail(email string) string {
	email = strings.TrimSpace(email)
	if noReplyLogin(email) != "" {
		return ""
	}
	return email
}
