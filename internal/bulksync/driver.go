// Package bulksync walks the provider's paginated listings and feeds each
// page to the reconciler, pacing itself against the remote rate budget.
package bulksync

import (
	"context"
	"errors"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/forgesync/forgesync/internal/provider"
	"github.com/forgesync/forgesync/internal/ratelimit"
	"github.com/forgesync/forgesync/internal/reconcile"
	"github.com/forgesync/forgesync/internal/retry"
)

// Sentinel errors a drive can stop on. The orchestrator maps them to run
// statuses; everything else is an ordinary failure.
var (
	// ErrRateLimited means the remote budget ran out mid-drive and did
	// not recover within the retry attempts.
	ErrRateLimited = errors.New("rate limited")
	// ErrAuth means the provider rejected our credentials.
	ErrAuth = errors.New("authentication failed")
	// ErrNotFound means the listing target is gone (repo deleted or moved).
	ErrNotFound = errors.New("not found")
)

// FetchFunc fetches one page.
type FetchFunc[T any] func(ctx context.Context, q provider.PageQuery) (*provider.Page[T], error)

// ApplyFunc applies one fetched page to the store.
type ApplyFunc[T any] func(ctx context.Context, nodes []T) (reconcile.PageResult, error)

// Result accumulates what one drive did.
type Result struct {
	Pages          int
	Applied        int
	Skipped        int
	HitPageCeiling bool
}

// Driver holds the pieces shared by every drive: the governor that paces
// and sizes requests, and the retry policy for transient failures.
type Driver struct {
	gov      *ratelimit.Governor
	policy   retry.Policy
	maxPages int
	logger   *log.Logger
}

// NewDriver creates a driver. maxPages caps how far a single drive will
// paginate; zero means 50.
func NewDriver(gov *ratelimit.Governor, policy retry.Policy, maxPages int, logger *log.Logger) *Driver {
	if maxPages <= 0 {
		maxPages = 50
	}
	return &Driver{gov: gov, policy: policy, maxPages: maxPages, logger: logger}
}

// Drive walks pages from the first cursor until the listing is exhausted,
// the page ceiling is hit, or a non-retryable failure stops it. Each page
// is applied before the next is fetched, so a partial drive leaves a
// consistent prefix behind.
func Drive[T any](ctx context.Context, d *Driver, scopeID int64, q provider.PageQuery, fetch FetchFunc[T], apply ApplyFunc[T]) (Result, error) {
	var res Result
	base := q.PageSize

	for res.Pages < d.maxPages {
		if !d.gov.WaitIfLow(ctx, scopeID) {
			return res, ctx.Err()
		}
		if err := d.gov.Acquire(ctx, scopeID); err != nil {
			return res, err
		}

		q.PageSize = d.gov.AdaptPageSize(scopeID, base)
		page, err := fetchWithRetry(ctx, d, q, fetch)
		if err != nil {
			return res, err
		}

		d.gov.Track(scopeID, page.Rate)

		applied, err := apply(ctx, page.Nodes)
		if err != nil {
			return res, fmt.Errorf("failed to apply page %d: %w", res.Pages, err)
		}
		res.Pages++
		res.Applied += applied.Applied
		res.Skipped += applied.Skipped

		if !page.HasNextPage {
			return res, nil
		}
		q.After = page.EndCursor
	}

	res.HitPageCeiling = true
	d.logger.Warn("drive hit page ceiling", "owner", q.Owner, "name", q.Name, "pages", res.Pages)
	return res, nil
}

// fetchWithRetry runs one fetch through classification and backoff.
// Retryable and rate-limited failures back off and try again up to the
// policy's attempt count; auth and not-found surface immediately, and an
// exhausted rate limit surfaces as ErrRateLimited wrapping the cause.
func fetchWithRetry[T any](ctx context.Context, d *Driver, q provider.PageQuery, fetch FetchFunc[T]) (*provider.Page[T], error) {
	var lastErr error
	lastClass := retry.Fatal
	for attempt := 0; attempt < d.policy.MaxAttempts; attempt++ {
		page, err := fetch(ctx, q)
		if err == nil {
			return page, nil
		}
		lastErr = err

		class := retry.Classify(err)
		lastClass = class
		switch class {
		case retry.Auth:
			return nil, fmt.Errorf("%w: %w", ErrAuth, err)
		case retry.NotFound:
			return nil, fmt.Errorf("%w: %w", ErrNotFound, err)
		case retry.Fatal:
			return nil, err
		}

		if !d.policy.ShouldRetry(class, attempt) {
			break
		}
		backoff := d.policy.Backoff(attempt)
		d.logger.Debug("retrying fetch",
			"owner", q.Owner, "name", q.Name, "attempt", attempt+1,
			"class", class, "backoff", backoff, "error", err)
		if err := retry.Sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}
	if lastClass == retry.RateLimited {
		return nil, fmt.Errorf("%w: %w", ErrRateLimited, lastErr)
	}
	return nil, fmt.Errorf("fetch failed after %d attempts: %w", d.policy.MaxAttempts, lastErr)
}
