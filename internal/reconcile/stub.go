package reconcile

import (
	"context"
	"fmt"

	"github.com/forgesync/forgesync/internal/storage"
	"github.com/forgesync/forgesync/internal/types"
)

// StubResolver turns provider references into local entities, creating
// placeholder rows when the referenced entity has not been synced yet.
// Stubs carry only identity: no payload, no domain events.
type StubResolver struct {
	store storage.Store
}

// NewStubResolver creates a resolver backed by the given store.
func NewStubResolver(store storage.Store) *StubResolver {
	return &StubResolver{store: store}
}

// Resolve returns the local entity for a reference, creating a stub (and a
// placeholder repository for cross-repo references) when needed. Fails only
// when the reference cannot identify an entity at all.
func (r *StubResolver) Resolve(ctx context.Context, scopeID int64, provider types.Provider, ref types.Ref) (*types.Entity, error) {
	// Fast path: the entity is already known by its native ID.
	if ref.NativeID != "" {
		existing, err := r.store.GetEntityByNativeID(ctx, provider, ref.NativeID)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", ref, err)
		}
		if existing != nil {
			return existing, nil
		}
	}

	repo, err := r.resolveRepo(ctx, scopeID, provider, ref.Repo)
	if err != nil {
		return nil, err
	}

	// Second chance by repo+number, for payloads that omit the native ID.
	if ref.NativeID == "" {
		if ref.Number <= 0 {
			return nil, fmt.Errorf("reference %s has neither native ID nor number", ref)
		}
		existing, err := r.store.GetEntityByNumber(ctx, repo.ID, ref.Number)
		if err != nil {
			return nil, fmt.Errorf("failed to look up %s: %w", ref, err)
		}
		if existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("reference %s has no native ID and no local row", ref)
	}

	stub := &types.Entity{
		Provider: provider,
		NativeID: ref.NativeID,
		RepoID:   repo.ID,
		Number:   ref.Number,
		Kind:     types.KindIssue,
		State:    types.StateOpen,
		Stub:     true,
	}
	created, err := r.store.UpsertEntity(ctx, stub, "stub-resolver")
	if err != nil {
		return nil, fmt.Errorf("failed to create stub for %s: %w", ref, err)
	}
	return created, nil
}

// resolveRepo finds or creates the repository a reference points into.
// Cross-repo references create an unmonitored placeholder under the same
// scope, so the edge can be stored without pulling the foreign repo into
// bulk sync.
func (r *StubResolver) resolveRepo(ctx context.Context, scopeID int64, provider types.Provider, ref types.RepoRef) (*types.Repository, error) {
	if ref.Owner == "" || ref.Name == "" {
		return nil, fmt.Errorf("repository reference %q/%q is incomplete", ref.Owner, ref.Name)
	}

	existing, err := r.store.FindRepository(ctx, provider, ref.Owner, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to look up repository %s/%s: %w", ref.Owner, ref.Name, err)
	}
	if existing != nil {
		return existing, nil
	}

	return r.store.UpsertRepository(ctx, &types.Repository{
		ScopeID:   scopeID,
		Provider:  provider,
		NativeID:  ref.NativeID,
		Owner:     ref.Owner,
		Name:      ref.Name,
		Monitored: false,
	})
}
