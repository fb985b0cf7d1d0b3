// Package reconcile applies provider state to the local store. Bulk sync
// pages are authoritative for the relationship sets they report; webhook
// deltas touch one edge or one entity at a time. Both channels converge on
// the same idempotent upserts, so duplicate or out-of-order delivery is
// harmless.
package reconcile

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/forgesync/forgesync/internal/events"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/storage"
	"github.com/forgesync/forgesync/internal/types"
)

// Reconciler folds provider payloads into the store and publishes domain
// events for the changes it makes.
type Reconciler struct {
	store  storage.Store
	stubs  *StubResolver
	sink   events.Sink
	logger *log.Logger
}

// New creates a reconciler.
func New(store storage.Store, sink events.Sink, logger *log.Logger) *Reconciler {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Reconciler{
		store:  store,
		stubs:  NewStubResolver(store),
		sink:   sink,
		logger: logger,
	}
}

// PageResult counts the outcome of one reconciled page. Skipped items were
// logged and dropped; they never abort the page.
type PageResult struct {
	Applied int
	Skipped int
}

// ReconcileIssuePage applies one bulk-sync page of issues in one commit
// boundary. Every node is a full payload, so upserts hydrate.
func (r *Reconciler) ReconcileIssuePage(ctx context.Context, repo *types.Repository, nodes []provider.IssueNode) (PageResult, error) {
	var res PageResult
	err := r.store.Transact(ctx, func(ctx context.Context) error {
		for i := range nodes {
			if err := r.applyIssueNode(ctx, repo, &nodes[i], events.SourceBulkSync, "bulk-sync"); err != nil {
				r.logger.Warn("skipping issue node",
					"repo", repo.FullName(), "native_id", nodes[i].NativeID, "error", err)
				res.Skipped++
				continue
			}
			res.Applied++
		}
		return ctx.Err()
	})
	return res, err
}

// applyIssueNode hydrates one entity and publishes lifecycle events based
// on the transition it caused.
func (r *Reconciler) applyIssueNode(ctx context.Context, repo *types.Repository, node *provider.IssueNode, source events.Source, actor string) error {
	prior, err := r.store.GetEntityByNativeID(ctx, repo.Provider, node.NativeID)
	if err != nil {
		return err
	}

	entity := &types.Entity{
		Provider:        repo.Provider,
		NativeID:        node.NativeID,
		RepoID:          repo.ID,
		Number:          node.Number,
		Kind:            node.Kind,
		Title:           &node.Title,
		Body:            &node.Body,
		State:           node.State,
		RemoteCreatedAt: node.CreatedAt,
		RemoteUpdatedAt: node.UpdatedAt,
		ClosedAt:        node.ClosedAt,
		Hydrated:        true,
	}
	if node.Author != "" {
		entity.Author = &node.Author
	}

	merged, err := r.store.UpsertEntity(ctx, entity, actor)
	if err != nil {
		return err
	}

	switch {
	case prior == nil || prior.Stub:
		r.sink.Publish(ctx, events.New(events.EventTypeEntityCreated, source, merged.ID, ""))
	case prior.State != merged.State && !merged.IsOpen():
		r.sink.Publish(ctx, events.New(events.EventTypeEntityClosed, source, merged.ID, ""))
	case prior.State != merged.State && merged.IsOpen():
		r.sink.Publish(ctx, events.New(events.EventTypeEntityReopened, source, merged.ID, ""))
	default:
		r.sink.Publish(ctx, events.New(events.EventTypeEntityUpdated, source, merged.ID, ""))
	}

	// A state change ripples into the parent's rollup counters.
	if prior != nil && prior.State != merged.State && merged.ParentID != nil {
		if _, _, err := r.store.RecomputeRollup(ctx, *merged.ParentID); err != nil {
			r.logger.Warn("failed to recompute rollup", "parent", *merged.ParentID, "error", err)
		}
	}
	return nil
}

// ReconcileDependencyPage applies one bulk-sync page of blocker sets. Each
// node's blocker list is authoritative, with one exception: an empty set is
// only acted on after a second confirming read, so a single anomalous empty
// response cannot mass-remove edges.
func (r *Reconciler) ReconcileDependencyPage(ctx context.Context, scopeID int64, prov types.Provider, nodes []provider.DependencyNode) (PageResult, error) {
	var res PageResult
	err := r.store.Transact(ctx, func(ctx context.Context) error {
		for _, node := range nodes {
			if err := r.applyBlockerSet(ctx, scopeID, prov, node, events.SourceBulkSync, "bulk-sync"); err != nil {
				r.logger.Warn("skipping dependency node", "node", node.Node.String(), "error", err)
				res.Skipped++
				continue
			}
			res.Applied++
		}
		return ctx.Err()
	})
	return res, err
}

func (r *Reconciler) applyBlockerSet(ctx context.Context, scopeID int64, prov types.Provider, node provider.DependencyNode, source events.Source, actor string) error {
	blocked, err := r.stubs.Resolve(ctx, scopeID, prov, node.Node)
	if err != nil {
		return err
	}

	if len(node.Blockers) == 0 {
		if blocked.DepsEmptySeenAt == nil {
			// First empty sighting: record it, keep the edges.
			return r.store.MarkDepsEmptySeen(ctx, blocked.ID, time.Now())
		}
		// Confirmed empty: clear everything.
		_, removed, err := r.store.ReplaceBlockers(ctx, blocked.ID, nil, actor)
		if err != nil {
			return err
		}
		for _, id := range removed {
			r.sink.Publish(ctx, events.NewUnlinked(source, blocked.ID, id))
		}
		return r.store.ClearDepsEmptySeen(ctx, blocked.ID)
	}

	var blockerIDs []int64
	for _, ref := range node.Blockers {
		blocker, err := r.stubs.Resolve(ctx, scopeID, prov, ref)
		if err != nil {
			// One bad reference drops that edge, not the whole set.
			r.logger.Warn("skipping unresolvable blocker",
				"blocked", node.Node.String(), "blocker", ref.String(), "error", err)
			continue
		}
		blockerIDs = append(blockerIDs, blocker.ID)
	}

	added, removed, err := r.store.ReplaceBlockers(ctx, blocked.ID, blockerIDs, actor)
	if err != nil {
		return err
	}
	for _, id := range added {
		r.sink.Publish(ctx, events.NewLinked(source, blocked.ID, id))
	}
	for _, id := range removed {
		r.sink.Publish(ctx, events.NewUnlinked(source, blocked.ID, id))
	}
	if blocked.DepsEmptySeenAt != nil {
		return r.store.ClearDepsEmptySeen(ctx, blocked.ID)
	}
	return nil
}

// ReconcileHierarchyPage applies one bulk-sync page of parent/child state.
func (r *Reconciler) ReconcileHierarchyPage(ctx context.Context, scopeID int64, prov types.Provider, nodes []provider.HierarchyNode) (PageResult, error) {
	var res PageResult
	err := r.store.Transact(ctx, func(ctx context.Context) error {
		for _, node := range nodes {
			if err := r.applyHierarchyNode(ctx, scopeID, prov, node, events.SourceBulkSync, "bulk-sync"); err != nil {
				r.logger.Warn("skipping hierarchy node", "node", node.Node.String(), "error", err)
				res.Skipped++
				continue
			}
			res.Applied++
		}
		return ctx.Err()
	})
	return res, err
}

func (r *Reconciler) applyHierarchyNode(ctx context.Context, scopeID int64, prov types.Provider, node provider.HierarchyNode, source events.Source, actor string) error {
	entity, err := r.stubs.Resolve(ctx, scopeID, prov, node.Node)
	if err != nil {
		return err
	}

	if node.Parent == nil {
		changed, err := r.store.ClearParent(ctx, entity.ID, actor)
		if err != nil {
			return err
		}
		if changed {
			r.sink.Publish(ctx, events.NewParentChanged(source, entity.ID, 0))
		}
	} else {
		parent, err := r.stubs.Resolve(ctx, scopeID, prov, *node.Parent)
		if err != nil {
			return err
		}
		changed, err := r.store.SetParent(ctx, entity.ID, parent.ID, actor)
		if err != nil {
			return err
		}
		if changed {
			r.sink.Publish(ctx, events.NewParentChanged(source, entity.ID, parent.ID))
		}
	}

	// The provider's summary is fresher than anything derived locally.
	return r.store.SetRollup(ctx, entity.ID, node.SubTotal, node.SubClosed)
}

// ReconcileCommitPage persists one bulk-sync page of commits with their
// contributor rows. Identity resolution happens in the caller's resolve
// function; a nil resolve persists contributors unresolved.
func (r *Reconciler) ReconcileCommitPage(ctx context.Context, repo *types.Repository, nodes []provider.CommitNode, resolve func(context.Context, types.Signature) *int64) (PageResult, error) {
	var res PageResult
	err := r.store.Transact(ctx, func(ctx context.Context) error {
		for _, node := range nodes {
			if err := r.applyCommitNode(ctx, repo, node, resolve); err != nil {
				r.logger.Warn("skipping commit", "repo", repo.FullName(), "sha", node.SHA, "error", err)
				res.Skipped++
				continue
			}
			res.Applied++
		}
		return ctx.Err()
	})
	return res, err
}

func (r *Reconciler) applyCommitNode(ctx context.Context, repo *types.Repository, node provider.CommitNode, resolve func(context.Context, types.Signature) *int64) error {
	commit, err := r.store.UpsertCommit(ctx, &types.Commit{
		RepoID:      repo.ID,
		SHA:         node.SHA,
		Message:     node.Message,
		AuthoredAt:  node.AuthoredAt,
		CommittedAt: node.CommittedAt,
	})
	if err != nil {
		return err
	}

	var contribs []*types.Contributor
	appendSig := func(role types.ContributorRole, sig types.Signature) {
		if sig.Email == "" && sig.Name == "" && sig.Login == "" {
			return
		}
		c := &types.Contributor{
			CommitID: commit.ID,
			Role:     role,
			Name:     sig.Name,
			Email:    sig.Email,
		}
		if resolve != nil {
			c.IdentityID = resolve(ctx, sig)
		}
		contribs = append(contribs, c)
	}
	appendSig(types.RoleAuthor, node.Author)
	appendSig(types.RoleCommitter, node.Committer)
	for _, sig := range node.CoAuthors {
		appendSig(types.RoleCoAuthor, sig)
	}

	return r.store.ReplaceContributors(ctx, commit.ID, contribs)
}
