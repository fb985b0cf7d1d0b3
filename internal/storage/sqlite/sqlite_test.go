package sqlite

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/forgesync/forgesync/internal/types"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "forgesync-test-*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	_ = tmpfile.Close()

	store, err := New(tmpfile.Name())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	t.Cleanup(func() {
		_ = store.Close()
		_ = os.Remove(tmpfile.Name())
	})
	return store
}

// testScope creates a scope for tests that need one
func testScope(t *testing.T, store *SQLiteStore, name string) *types.Scope {
	t.Helper()
	scope := &types.Scope{Name: name, Provider: types.ProviderGitHub}
	if err := store.CreateScope(context.Background(), scope); err != nil {
		t.Fatalf("Failed to create scope: %v", err)
	}
	return scope
}

// testRepo creates a monitored repository under the given scope
func testRepo(t *testing.T, store *SQLiteStore, scopeID int64, owner, name string) *types.Repository {
	t.Helper()
	repo, err := store.UpsertRepository(context.Background(), &types.Repository{
		ScopeID:   scopeID,
		Provider:  types.ProviderGitHub,
		NativeID:  "R_" + owner + "_" + name,
		Owner:     owner,
		Name:      name,
		Monitored: true,
	})
	if err != nil {
		t.Fatalf("Failed to upsert repository: %v", err)
	}
	return repo
}

// testEntity creates a hydrated entity in the given repository
func testEntity(t *testing.T, store *SQLiteStore, repoID int64, nativeID string, number int) *types.Entity {
	t.Helper()
	title := "Entity " + nativeID
	entity, err := store.UpsertEntity(context.Background(), &types.Entity{
		Provider: types.ProviderGitHub,
		NativeID: nativeID,
		RepoID:   repoID,
		Number:   number,
		Kind:     types.KindIssue,
		State:    types.StateOpen,
		Title:    &title,
		Hydrated: true,
	}, "test")
	if err != nil {
		t.Fatalf("Failed to upsert entity: %v", err)
	}
	return entity
}

func TestTransactRollsBackUnit(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")
	repo := testRepo(t, store, scope.ID, "acme", "rocket")

	upsert := func(ctx context.Context, nativeID string, number int) *types.Entity {
		t.Helper()
		e, err := store.UpsertEntity(ctx, &types.Entity{
			Provider: types.ProviderGitHub,
			NativeID: nativeID,
			RepoID:   repo.ID,
			Number:   number,
			Kind:     types.KindIssue,
			State:    types.StateOpen,
			Hydrated: true,
		}, "test")
		if err != nil {
			t.Fatalf("UpsertEntity failed: %v", err)
		}
		return e
	}

	// A failing unit of work takes all of its writes with it.
	sentinel := context.DeadlineExceeded
	err := store.Transact(ctx, func(ctx context.Context) error {
		a := upsert(ctx, "I_a", 1)
		b := upsert(ctx, "I_b", 2)
		if _, err := store.AddDependency(ctx, &types.Dependency{BlockedID: a.ID, BlockerID: b.ID, Source: "bulk_sync"}, "sync"); err != nil {
			return err
		}
		return sentinel
	})
	if err != sentinel {
		t.Fatalf("expected the unit's error back, got %v", err)
	}

	gone, err := store.GetEntityByNativeID(ctx, types.ProviderGitHub, "I_a")
	if err != nil {
		t.Fatalf("GetEntityByNativeID failed: %v", err)
	}
	if gone != nil {
		t.Error("expected rollback to remove the entity")
	}

	// A successful unit commits everything at once, including writes made
	// by nested store calls.
	err = store.Transact(ctx, func(ctx context.Context) error {
		a := upsert(ctx, "I_a", 1)
		b := upsert(ctx, "I_b", 2)
		_, err := store.AddDependency(ctx, &types.Dependency{BlockedID: a.ID, BlockerID: b.ID, Source: "bulk_sync"}, "sync")
		return err
	})
	if err != nil {
		t.Fatalf("Transact failed: %v", err)
	}

	a, err := store.GetEntityByNativeID(ctx, types.ProviderGitHub, "I_a")
	if err != nil || a == nil {
		t.Fatalf("expected committed entity, got %v, %v", a, err)
	}
	blockers, err := store.GetBlockers(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetBlockers failed: %v", err)
	}
	if len(blockers) != 1 {
		t.Errorf("expected 1 committed blocker, got %d", len(blockers))
	}
}

func TestCreateAndGetScope(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	scope := testScope(t, store, "acme")
	if scope.ID == 0 {
		t.Fatal("expected scope ID to be assigned")
	}

	got, err := store.GetScope(ctx, scope.ID)
	if err != nil {
		t.Fatalf("GetScope failed: %v", err)
	}
	if got == nil || got.Name != "acme" {
		t.Errorf("unexpected scope: %+v", got)
	}

	byName, err := store.GetScopeByName(ctx, "acme")
	if err != nil {
		t.Fatalf("GetScopeByName failed: %v", err)
	}
	if byName == nil || byName.ID != scope.ID {
		t.Errorf("expected same scope by name, got %+v", byName)
	}

	missing, err := store.GetScopeByName(ctx, "nope")
	if err != nil {
		t.Fatalf("GetScopeByName failed: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing scope, got %+v", missing)
	}
}

func TestSaveRateSnapshot(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")

	resetAt := time.Now().Add(30 * time.Minute).Truncate(time.Second)
	if err := store.SaveRateSnapshot(ctx, scope.ID, 420, resetAt); err != nil {
		t.Fatalf("SaveRateSnapshot failed: %v", err)
	}

	got, err := store.GetScope(ctx, scope.ID)
	if err != nil {
		t.Fatalf("GetScope failed: %v", err)
	}
	if got.RateRemaining != 420 {
		t.Errorf("expected remaining 420, got %d", got.RateRemaining)
	}
	if !got.RateResetAt.Equal(resetAt) {
		t.Errorf("expected reset at %v, got %v", resetAt, got.RateResetAt)
	}
}

func TestUpsertRepositoryIdempotent(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")

	first := testRepo(t, store, scope.ID, "acme", "rocket")

	// Same owner/name again, this time without a native ID and unmonitored.
	second, err := store.UpsertRepository(ctx, &types.Repository{
		ScopeID:  scope.ID,
		Provider: types.ProviderGitHub,
		Owner:    "acme",
		Name:     "rocket",
	})
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}
	if second.ID != first.ID {
		t.Errorf("expected same row, got %d and %d", first.ID, second.ID)
	}
	if second.NativeID != first.NativeID {
		t.Errorf("empty native ID should not erase stored value, got %q", second.NativeID)
	}
	if !second.Monitored {
		t.Error("monitored flag should not be cleared by a later unmonitored upsert")
	}
}

func TestListRepositoriesMonitoredOnly(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	scope := testScope(t, store, "acme")

	testRepo(t, store, scope.ID, "acme", "rocket")
	if _, err := store.UpsertRepository(ctx, &types.Repository{
		ScopeID:  scope.ID,
		Provider: types.ProviderGitHub,
		Owner:    "other",
		Name:     "lib",
	}); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	all, err := store.ListRepositories(ctx, scope.ID, false)
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 repositories, got %d", len(all))
	}

	monitored, err := store.ListRepositories(ctx, scope.ID, true)
	if err != nil {
		t.Fatalf("ListRepositories failed: %v", err)
	}
	if len(monitored) != 1 || monitored[0].Name != "rocket" {
		t.Errorf("expected only the monitored repo, got %+v", monitored)
	}
}

func TestConfigRoundTrip(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	val, err := store.GetConfig(ctx, "missing")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if val != "" {
		t.Errorf("expected empty value for missing key, got %q", val)
	}

	if err := store.SetConfig(ctx, "cursor", "abc"); err != nil {
		t.Fatalf("SetConfig failed: %v", err)
	}
	if err := store.SetConfig(ctx, "cursor", "def"); err != nil {
		t.Fatalf("SetConfig overwrite failed: %v", err)
	}
	val, err = store.GetConfig(ctx, "cursor")
	if err != nil {
		t.Fatalf("GetConfig failed: %v", err)
	}
	if val != "def" {
		t.Errorf("expected def, got %q", val)
	}
}
