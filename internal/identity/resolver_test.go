package identity

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forgesync/forgesync/internal/types"
)

// fakeDirectory is an in-memory Directory for resolver tests.
type fakeDirectory struct {
	nextID     int64
	identities []*types.Identity
}

func (d *fakeDirectory) UpsertIdentity(_ context.Context, identity *types.Identity) (*types.Identity, error) {
	for _, existing := range d.identities {
		if existing.Provider == identity.Provider && existing.Login == identity.Login {
			if identity.Email != "" {
				existing.Email = identity.Email
			}
			if identity.DisplayName != "" {
				existing.DisplayName = identity.DisplayName
			}
			return existing, nil
		}
	}
	d.nextID++
	identity.ID = d.nextID
	d.identities = append(d.identities, identity)
	return identity, nil
}

func (d *fakeDirectory) FindIdentityByEmail(_ context.Context, provider types.Provider, email string) (*types.Identity, error) {
	for _, existing := range d.identities {
		if existing.Provider == provider && existing.Email == email {
			return existing, nil
		}
	}
	return nil, nil
}

func (d *fakeDirectory) FindIdentityByLogin(_ context.Context, provider types.Provider, login string) (*types.Identity, error) {
	for _, existing := range d.identities {
		if existing.Provider == provider && existing.Login == login {
			return existing, nil
		}
	}
	return nil, nil
}

func TestResolveByLogin(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	// An unmatched wire login creates the identity.
	got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Name:  "Ada Lovelace",
		Email: "ada@example.com",
		Login: "ada",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ada", got.Login)
	assert.Equal(t, "ada@example.com", got.Email)

	// Resolving again lands on the same identity.
	again, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{Login: "ada"})
	require.NoError(t, err)
	require.NotNil(t, again)
	assert.Equal(t, got.ID, again.ID)
}

func TestResolveEmailWinsOverLogin(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	known, err := dir.UpsertIdentity(ctx, &types.Identity{
		Provider: types.ProviderGitHub,
		Login:    "grace",
		Email:    "grace@example.com",
	})
	require.NoError(t, err)

	// The email matches a known identity; the login on the wire names
	// someone else. First match in the chain wins and nothing is created.
	got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Email: "grace@example.com",
		Login: "impostor",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, known.ID, got.ID)
	assert.Len(t, dir.identities, 1)
}

func TestResolveByExactEmail(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	seed, err := dir.UpsertIdentity(ctx, &types.Identity{
		Provider: types.ProviderGitHub,
		Login:    "grace",
		Email:    "grace@example.com",
	})
	require.NoError(t, err)

	got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Name:  "Grace Hopper",
		Email: "grace@example.com",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, seed.ID, got.ID)
}

func TestResolveByNoReplyPattern(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	seed, err := dir.UpsertIdentity(ctx, &types.Identity{
		Provider: types.ProviderGitHub,
		Login:    "octocat",
	})
	require.NoError(t, err)

	tests := []struct {
		name  string
		email string
	}{
		{"plain form", "octocat@users.noreply.github.com"},
		{"numeric prefix form", "583231+octocat@users.noreply.github.com"},
		{"mixed case", "Octocat@users.noreply.GitHub.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{Email: tt.email})
			require.NoError(t, err)
			require.NotNil(t, got)
			assert.Equal(t, seed.ID, got.ID)
		})
	}
}

func TestResolveUnresolved(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	// Unknown email, no login: unresolved but not an error.
	got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Name:  "Mystery",
		Email: "nobody@example.com",
	})
	require.NoError(t, err)
	assert.Nil(t, got)

	// Empty signature.
	got, err = r.Resolve(ctx, types.ProviderGitHub, types.Signature{})
	require.NoError(t, err)
	assert.Nil(t, got)

	// No-reply address for a login we have never seen.
	got, err = r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Email: "ghost@users.noreply.github.com",
	})
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNoReplyNeverStoredAsEmail(t *testing.T) {
	dir := &fakeDirectory{}
	r := NewResolver(dir)
	ctx := context.Background()

	got, err := r.Resolve(ctx, types.ProviderGitHub, types.Signature{
		Login: "octocat",
		Email: "583231+octocat@users.noreply.github.com",
	})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Empty(t, got.Email)
}
