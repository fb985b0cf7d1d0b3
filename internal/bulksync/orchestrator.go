package bulksync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/forgesync/forgesync/internal/identity"
	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/ratelimit"
	"github.com/forgesync/forgesync/internal/reconcile"
	"github.com/forgesync/forgesync/internal/retry"
	"github.com/forgesync/forgesync/internal/storage"
	"github.com/forgesync/forgesync/internal/types"
)

// Status is the outcome of one scope's sync run.
type Status string

const (
	// StatusCompleted means every repository and sync type went through.
	StatusCompleted Status = "completed"
	// StatusCompletedWithErrors means the run finished but some
	// repositories failed and were skipped.
	StatusCompletedWithErrors Status = "completed_with_errors"
	// StatusAbortedRateLimit means the remote budget ran out and the run
	// stopped early. Already-applied pages are kept.
	StatusAbortedRateLimit Status = "aborted_rate_limit"
	// StatusAbortedError means credentials failed or the run hit an
	// unrecoverable error.
	StatusAbortedError Status = "aborted_error"
	// StatusSkippedCooldown means the scope synced too recently.
	StatusSkippedCooldown Status = "skipped_cooldown"
)

// Config holds orchestrator settings.
type Config struct {
	BasePageSize       int             // requested page size before stepping (default: 100)
	MaxPages           int             // per-repo per-type page ceiling (default: 50)
	Cooldown           time.Duration   // minimum gap between runs per sync type (default: 10m)
	MaxConcurrentRepos int64           // repositories synced in parallel (default: 4)
	SyncTypes          []types.SyncType // which listings to walk (default: all)
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		BasePageSize:       100,
		MaxPages:           50,
		Cooldown:           10 * time.Minute,
		MaxConcurrentRepos: 4,
		SyncTypes:          types.AllSyncTypes(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.BasePageSize <= 0 {
		return fmt.Errorf("base page size must be positive, got %d", c.BasePageSize)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive, got %d", c.MaxPages)
	}
	if c.MaxConcurrentRepos <= 0 {
		return fmt.Errorf("max concurrent repos must be positive, got %d", c.MaxConcurrentRepos)
	}
	for _, st := range c.SyncTypes {
		if !st.IsValid() {
			return fmt.Errorf("invalid sync type %q", st)
		}
	}
	return nil
}

// ScopeResult summarizes one scope's run.
type ScopeResult struct {
	ScopeID     int64
	ScopeName   string
	Status      Status
	Repos       int
	FailedRepos int
	Applied     int
	Skipped     int
	Err         error
}

// Orchestrator runs bulk sync across scopes: cooldown gating, one run per
// scope at a time, repositories fanned out under a concurrency cap.
type Orchestrator struct {
	store    storage.Store
	client   provider.Client
	rec      *reconcile.Reconciler
	resolver *identity.Resolver
	gov      *ratelimit.Governor
	driver   *Driver
	cfg      Config
	logger   *log.Logger

	mu      sync.Mutex
	running map[int64]bool
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(store storage.Store, client provider.Client, rec *reconcile.Reconciler, gov *ratelimit.Governor, policy retry.Policy, cfg Config, logger *log.Logger) *Orchestrator {
	return &Orchestrator{
		store:    store,
		client:   client,
		rec:      rec,
		resolver: identity.NewResolver(store),
		gov:      gov,
		driver:   NewDriver(gov, policy, cfg.MaxPages, logger),
		cfg:      cfg,
		logger:   logger,
		running:  make(map[int64]bool),
	}
}

// SyncAll runs SyncScope for every scope in the store. Scope failures are
// reported in the results, not returned; only a canceled context errors.
func (o *Orchestrator) SyncAll(ctx context.Context) ([]*ScopeResult, error) {
	scopes, err := o.store.ListScopes(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}

	results := make([]*ScopeResult, len(scopes))
	g, gctx := errgroup.WithContext(ctx)
	for i, scope := range scopes {
		i, scope := i, scope
		g.Go(func() error {
			results[i] = o.SyncScope(gctx, scope)
			return gctx.Err()
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// SyncScope runs one scope through every due sync type. A scope already
// mid-run is skipped rather than doubled up.
func (o *Orchestrator) SyncScope(ctx context.Context, scope *types.Scope) *ScopeResult {
	res := &ScopeResult{ScopeID: scope.ID, ScopeName: scope.Name}

	o.mu.Lock()
	if o.running[scope.ID] {
		o.mu.Unlock()
		res.Status = StatusSkippedCooldown
		res.Err = fmt.Errorf("scope %s is already syncing", scope.Name)
		return res
	}
	o.running[scope.ID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.running, scope.ID)
		o.mu.Unlock()
	}()

	due, err := o.dueSyncTypes(ctx, scope.ID)
	if err != nil {
		res.Status = StatusAbortedError
		res.Err = err
		return res
	}
	if len(due) == 0 {
		o.logger.Debug("scope in cooldown", "scope", scope.Name)
		res.Status = StatusSkippedCooldown
		return res
	}

	repos, err := o.store.ListRepositories(ctx, scope.ID, true)
	if err != nil {
		res.Status = StatusAbortedError
		res.Err = fmt.Errorf("failed to list repositories: %w", err)
		return res
	}
	res.Repos = len(repos)
	if len(repos) == 0 {
		res.Status = StatusCompleted
		return res
	}

	o.logger.Info("starting bulk sync",
		"scope", scope.Name, "repos", len(repos), "types", len(due))

	var (
		resMu     sync.Mutex
		succeeded = make(map[types.SyncType]int)
	)
	sem := semaphore.NewWeighted(o.cfg.MaxConcurrentRepos)
	g, gctx := errgroup.WithContext(ctx)

	for _, repo := range repos {
		repo := repo
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			var repoFailed bool
			for _, syncType := range due {
				result, err := o.syncRepo(gctx, scope, repo, syncType)

				resMu.Lock()
				res.Applied += result.Applied
				res.Skipped += result.Skipped
				resMu.Unlock()

				if err != nil {
					// Budget and credential failures stop the whole
					// scope; anything else just marks this repo.
					if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrAuth) {
						return err
					}
					o.logger.Warn("repository sync failed",
						"repo", repo.FullName(), "type", syncType, "error", err)
					repoFailed = true
					continue
				}
				resMu.Lock()
				succeeded[syncType]++
				resMu.Unlock()
			}
			if repoFailed {
				resMu.Lock()
				res.FailedRepos++
				resMu.Unlock()
			}
			return nil
		})
	}

	runErr := g.Wait()

	// Touch sync state for every type that landed at least one repository,
	// even on an aborted run: applied pages are real progress.
	now := time.Now()
	for _, syncType := range due {
		if succeeded[syncType] == 0 {
			continue
		}
		if err := o.store.TouchSyncState(ctx, scope.ID, syncType, now); err != nil {
			o.logger.Warn("failed to record sync state", "scope", scope.Name, "type", syncType, "error", err)
		}
	}
	if remaining, resetAt, ok := o.gov.Snapshot(scope.ID); ok {
		if err := o.store.SaveRateSnapshot(ctx, scope.ID, remaining, resetAt); err != nil {
			o.logger.Warn("failed to save rate snapshot", "scope", scope.Name, "error", err)
		}
	}

	switch {
	case errors.Is(runErr, ErrRateLimited):
		res.Status = StatusAbortedRateLimit
		res.Err = runErr
	case runErr != nil:
		res.Status = StatusAbortedError
		res.Err = runErr
	case res.FailedRepos > 0:
		res.Status = StatusCompletedWithErrors
	default:
		res.Status = StatusCompleted
	}

	o.logger.Info("bulk sync finished",
		"scope", scope.Name, "status", res.Status,
		"applied", res.Applied, "skipped", res.Skipped, "failed_repos", res.FailedRepos)
	return res
}

// dueSyncTypes filters the configured sync types down to those outside
// their cooldown window.
func (o *Orchestrator) dueSyncTypes(ctx context.Context, scopeID int64) ([]types.SyncType, error) {
	var due []types.SyncType
	for _, syncType := range o.cfg.SyncTypes {
		state, err := o.store.GetSyncState(ctx, scopeID, syncType)
		if err != nil {
			return nil, fmt.Errorf("failed to read sync state: %w", err)
		}
		if state != nil && time.Since(state.LastSyncedAt) < o.cfg.Cooldown {
			continue
		}
		due = append(due, syncType)
	}
	return due, nil
}

// syncRepo drives one listing for one repository.
func (o *Orchestrator) syncRepo(ctx context.Context, scope *types.Scope, repo *types.Repository, syncType types.SyncType) (Result, error) {
	q := provider.PageQuery{
		Owner:    repo.Owner,
		Name:     repo.Name,
		PageSize: o.cfg.BasePageSize,
	}

	switch syncType {
	case types.SyncIssues:
		return Drive(ctx, o.driver, scope.ID, q, o.client.ListIssues,
			func(ctx context.Context, nodes []provider.IssueNode) (reconcile.PageResult, error) {
				return o.rec.ReconcileIssuePage(ctx, repo, nodes)
			})

	case types.SyncDependencies:
		return Drive(ctx, o.driver, scope.ID, q, o.client.ListDependencies,
			func(ctx context.Context, nodes []provider.DependencyNode) (reconcile.PageResult, error) {
				return o.rec.ReconcileDependencyPage(ctx, scope.ID, scope.Provider, nodes)
			})

	case types.SyncHierarchy:
		return Drive(ctx, o.driver, scope.ID, q, o.client.ListHierarchy,
			func(ctx context.Context, nodes []provider.HierarchyNode) (reconcile.PageResult, error) {
				return o.rec.ReconcileHierarchyPage(ctx, scope.ID, scope.Provider, nodes)
			})

	case types.SyncCommits:
		resolve := func(ctx context.Context, sig types.Signature) *int64 {
			id, err := o.resolver.Resolve(ctx, scope.Provider, sig)
			if err != nil || id == nil {
				return nil
			}
			return &id.ID
		}
		return Drive(ctx, o.driver, scope.ID, q, o.client.ListCommits,
			func(ctx context.Context, nodes []provider.CommitNode) (reconcile.PageResult, error) {
				return o.rec.ReconcileCommitPage(ctx, repo, nodes, resolve)
			})

	default:
		return Result{}, fmt.Errorf("unknown sync type %q", syncType)
	}
}
