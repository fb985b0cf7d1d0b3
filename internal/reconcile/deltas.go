package reconcile

import (
	"context"
	"fmt"

	"github.com/forgesync/forgesync/internal/events"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/types"
)

// Webhook deltas. Delivery is at-least-once and unordered, so every
// operation here must be safe to replay and safe to receive before the
// entities it mentions have been bulk-synced.

// ApplyIssueEvent applies one webhook issue event. The node is the full
// object as carried in the webhook payload, so non-delete actions hydrate.
func (r *Reconciler) ApplyIssueEvent(ctx context.Context, scopeID int64, action string, repoRef types.RepoRef, node provider.IssueNode) error {
	repo, err := r.stubs.resolveRepo(ctx, scopeID, r.providerOf(node, repoRef), repoRef)
	if err != nil {
		return err
	}

	switch action {
	case "opened", "edited", "closed", "reopened", "transferred":
		return r.applyIssueNode(ctx, repo, &node, events.SourceWebhook, "webhook")

	case "deleted":
		existing, err := r.store.GetEntityByNativeID(ctx, repo.Provider, node.NativeID)
		if err != nil {
			return err
		}
		if existing == nil {
			// Deleted before we ever saw it. Nothing to do.
			return nil
		}
		if err := r.store.DeleteEntity(ctx, existing.ID, "webhook"); err != nil {
			return err
		}
		r.sink.Publish(ctx, events.New(events.EventTypeEntityDeleted, events.SourceWebhook, existing.ID, ""))
		return nil

	default:
		return fmt.Errorf("unsupported issue action %q", action)
	}
}

// providerOf picks the provider for a webhook payload. Only GitHub webhooks
// are wired today; the repo ref decides once GitLab lands.
func (r *Reconciler) providerOf(_ provider.IssueNode, _ types.RepoRef) types.Provider {
	return types.ProviderGitHub
}

// ApplyDependencyDelta applies one webhook edge change. Unknown endpoints
// become stubs; replayed deltas are no-ops.
func (r *Reconciler) ApplyDependencyDelta(ctx context.Context, scopeID int64, prov types.Provider, add bool, blockedRef, blockerRef types.Ref) error {
	blocked, err := r.stubs.Resolve(ctx, scopeID, prov, blockedRef)
	if err != nil {
		return fmt.Errorf("failed to resolve blocked side: %w", err)
	}
	blocker, err := r.stubs.Resolve(ctx, scopeID, prov, blockerRef)
	if err != nil {
		return fmt.Errorf("failed to resolve blocker side: %w", err)
	}

	if add {
		inserted, err := r.store.AddDependency(ctx, &types.Dependency{
			BlockedID: blocked.ID,
			BlockerID: blocker.ID,
			Source:    "webhook",
		}, "webhook")
		if err != nil {
			return err
		}
		if inserted {
			r.sink.Publish(ctx, events.NewLinked(events.SourceWebhook, blocked.ID, blocker.ID))
			// A real edge arrived; any pending empty observation is stale.
			if blocked.DepsEmptySeenAt != nil {
				return r.store.ClearDepsEmptySeen(ctx, blocked.ID)
			}
		}
		return nil
	}

	removed, err := r.store.RemoveDependency(ctx, blocked.ID, blocker.ID, "webhook")
	if err != nil {
		return err
	}
	if removed {
		r.sink.Publish(ctx, events.NewUnlinked(events.SourceWebhook, blocked.ID, blocker.ID))
	}
	return nil
}

// ApplyHierarchyDelta applies one webhook sub-issue change. Both sides of
// the delta name the parent, so a late-delivered removal of a pair the
// child has already moved past is recognized as stale and ignored. Rollups
// of every parent involved are recomputed.
func (r *Reconciler) ApplyHierarchyDelta(ctx context.Context, scopeID int64, prov types.Provider, link bool, childRef, parentRef types.Ref) error {
	child, err := r.stubs.Resolve(ctx, scopeID, prov, childRef)
	if err != nil {
		return fmt.Errorf("failed to resolve child: %w", err)
	}
	parent, err := r.stubs.Resolve(ctx, scopeID, prov, parentRef)
	if err != nil {
		return fmt.Errorf("failed to resolve parent: %w", err)
	}
	oldParentID := child.ParentID

	if link {
		changed, err := r.store.SetParent(ctx, child.ID, parent.ID, "webhook")
		if err != nil {
			return err
		}
		if changed {
			r.sink.Publish(ctx, events.NewParentChanged(events.SourceWebhook, child.ID, parent.ID))
		}
		if _, _, err := r.store.RecomputeRollup(ctx, parent.ID); err != nil {
			r.logger.Warn("failed to recompute rollup", "parent", parent.ID, "error", err)
		}
	} else {
		if oldParentID == nil || *oldParentID != parent.ID {
			r.logger.Debug("ignoring stale parent removal",
				"child", child.ID, "named_parent", parent.ID)
			return nil
		}
		changed, err := r.store.ClearParent(ctx, child.ID, "webhook")
		if err != nil {
			return err
		}
		if changed {
			r.sink.Publish(ctx, events.NewParentChanged(events.SourceWebhook, child.ID, 0))
		}
	}

	if oldParentID != nil {
		if _, _, err := r.store.RecomputeRollup(ctx, *oldParentID); err != nil {
			r.logger.Warn("failed to recompute rollup", "parent", *oldParentID, "error", err)
		}
	}
	return nil
}
