package sqlite

import (
	"context"
	"testing"

	"github.com/forgesync/forgesync/internal/types"
)

func TestSetAndClearParent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")
	repo := testRepo(t, store, scope.ID, "acme", "rocket")
	parent := testEntity(t, store, repo.ID, "I_p", 1)
	child := testEntity(t, store, repo.ID, "I_c", 2)

	changed, err := store.SetParent(ctx, child.ID, parent.ID, "hook")
	if err != nil {
		t.Fatalf("SetParent failed: %v", err)
	}
	if !changed {
		t.Error("expected first SetParent to change the row")
	}

	// Same parent again is a no-op.
	changed, err = store.SetParent(ctx, child.ID, parent.ID, "hook")
	if err != nil {
		t.Fatalf("SetParent replay failed: %v", err)
	}
	if changed {
		t.Error("expected replay to be a no-op")
	}

	got, err := store.GetEntity(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != parent.ID {
		t.Errorf("expected parent %d, got %+v", parent.ID, got.ParentID)
	}

	children, err := store.GetChildren(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(children) != 1 || children[0].ID != child.ID {
		t.Errorf("unexpected children: %+v", children)
	}

	cleared, err := store.ClearParent(ctx, child.ID, "hook")
	if err != nil {
		t.Fatalf("ClearParent failed: %v", err)
	}
	if !cleared {
		t.Error("expected ClearParent to change the row")
	}

	cleared, err = store.ClearParent(ctx, child.ID, "hook")
	if err != nil {
		t.Fatalf("ClearParent replay failed: %v", err)
	}
	if cleared {
		t.Error("expected second ClearParent to be a no-op")
	}
}

func TestSetParentReassigns(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")
	repo := testRepo(t, store, scope.ID, "acme", "rocket")
	p1 := testEntity(t, store, repo.ID, "I_p1", 1)
	p2 := testEntity(t, store, repo.ID, "I_p2", 2)
	child := testEntity(t, store, repo.ID, "I_c", 3)

	if _, err := store.SetParent(ctx, child.ID, p1.ID, "hook"); err != nil {
		t.Fatalf("SetParent failed: %v", err)
	}
	// A single parent slot: the second assignment displaces the first.
	changed, err := store.SetParent(ctx, child.ID, p2.ID, "hook")
	if err != nil {
		t.Fatalf("SetParent reassign failed: %v", err)
	}
	if !changed {
		t.Error("expected reassignment to change the row")
	}

	got, err := store.GetEntity(ctx, child.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.ParentID == nil || *got.ParentID != p2.ID {
		t.Errorf("expected parent %d, got %+v", p2.ID, got.ParentID)
	}

	old, err := store.GetChildren(ctx, p1.ID)
	if err != nil {
		t.Fatalf("GetChildren failed: %v", err)
	}
	if len(old) != 0 {
		t.Errorf("expected old parent to lose the child, got %d children", len(old))
	}
}

func TestSetParentSelf(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")
	repo := testRepo(t, store, scope.ID, "acme", "rocket")
	a := testEntity(t, store, repo.ID, "I_a", 1)

	if _, err := store.SetParent(ctx, a.ID, a.ID, "hook"); err == nil {
		t.Error("expected self-parenting to be rejected")
	}
}

func TestRecomputeRollup(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")
	repo := testRepo(t, store, scope.ID, "acme", "rocket")
	parent := testEntity(t, store, repo.ID, "I_p", 1)

	for i, state := range []types.EntityState{types.StateOpen, types.StateClosed, types.StateClosed} {
		child, err := store.UpsertEntity(ctx, &types.Entity{
			Provider: types.ProviderGitHub,
			NativeID: "I_c" + string(rune('0'+i)),
			RepoID:   repo.ID,
			Number:   10 + i,
			Kind:     types.KindIssue,
			State:    state,
			Hydrated: true,
		}, "test")
		if err != nil {
			t.Fatalf("upsert child failed: %v", err)
		}
		if _, err := store.SetParent(ctx, child.ID, parent.ID, "test"); err != nil {
			t.Fatalf("SetParent failed: %v", err)
		}
	}

	total, closed, err := store.RecomputeRollup(ctx, parent.ID)
	if err != nil {
		t.Fatalf("RecomputeRollup failed: %v", err)
	}
	if total != 3 || closed != 2 {
		t.Errorf("expected 3/2, got %d/%d", total, closed)
	}

	got, err := store.GetEntity(ctx, parent.ID)
	if err != nil {
		t.Fatalf("GetEntity failed: %v", err)
	}
	if got.SubTotal == nil || *got.SubTotal != 3 || got.SubClosed == nil || *got.SubClosed != 2 {
		t.Errorf("expected rollup persisted as 3/2, got %+v/%+v", got.SubTotal, got.SubClosed)
	}
}
