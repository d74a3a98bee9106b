// Package orchestrator fans repository scan tasks out to a bounded worker
// pool and aggregates their results independent of completion order. It has
// no knowledge of entity kinds: the task closure carries those semantics.
package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/fetcher"
)

// DefaultMaxWorkers bounds concurrent repository scans when the caller does
// not supply a limit
const DefaultMaxWorkers = 8

// Task scans one repository and returns its results keyed by entity key.
// Implementations must be safe for concurrent use across repositories.
type Task[T any] func(ctx context.Context, repo entities.RepoConfig) (map[string]T, error)

// FailureReason classifies a task error for the run summary
type FailureReason string

const (
	// ReasonFetch means no branch of the repository could be materialized
	ReasonFetch FailureReason = "fetch_failed"

	// ReasonCancelled means the run deadline expired or the run was
	// cancelled before the task finished
	ReasonCancelled FailureReason = "cancelled"

	// ReasonScan covers descriptor walking and parsing failures
	ReasonScan FailureReason = "scan_failed"
)

// Failure records one repository whose task did not complete
type Failure struct {
	Repo    string        `json:"repo"`
	Reason  FailureReason `json:"reason"`
	Message string        `json:"message"`
	Elapsed time.Duration `json:"elapsed"`

	// Err is the original task error, kept for classification by callers
	Err error `json:"-"`
}

// RunSummary aggregates the outcome of one fan-out
type RunSummary struct {
	// Repos is the number of enabled repositories dispatched
	Repos int `json:"repos"`

	// Succeeded counts tasks whose results made it into the aggregate
	Succeeded int `json:"succeeded"`

	// Failures lists repositories excluded from the aggregate
	Failures []Failure `json:"failures,omitempty"`

	// Elapsed is the wall-clock duration of the whole fan-out
	Elapsed time.Duration `json:"elapsed"`
}

// Options bound one fan-out run
type Options struct {
	// MaxWorkers caps concurrent tasks; the effective pool size is
	// min(MaxWorkers, number of enabled repositories)
	MaxWorkers int

	// Timeout is the overall run deadline. Zero means no deadline beyond
	// what the caller's context already carries.
	Timeout time.Duration
}

// FetchAll runs one task per enabled repository on a bounded worker pool.
// Failures are recorded in the summary and excluded from the aggregate;
// sibling tasks keep running. The call blocks until every task has completed
// or definitively failed. Because the aggregate is key-indexed, it is
// identical regardless of completion order.
func FetchAll[T any](
	ctx context.Context,
	repos []entities.RepoConfig,
	opts Options,
	task Task[T],
) (map[string]T, *RunSummary) {
	start := time.Now()

	enabled := make([]entities.RepoConfig, 0, len(repos))
	for _, repo := range repos {
		if repo.Enabled {
			enabled = append(enabled, repo)
		}
	}

	results := make(map[string]T)
	summary := &RunSummary{Repos: len(enabled)}
	if len(enabled) == 0 {
		summary.Elapsed = time.Since(start)
		return results, summary
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	workers := opts.MaxWorkers
	if workers <= 0 {
		workers = DefaultMaxWorkers
	}
	if workers > len(enabled) {
		workers = len(enabled)
	}

	// Semaphore to limit concurrency; mutex to protect the shared aggregate
	semaphore := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	record := func(repo entities.RepoConfig, err error, elapsed time.Duration) {
		reason := classify(ctx.Err(), err)
		slog.Warn("Repository scan failed",
			"repo", repo.ID(),
			"reason", reason,
			"elapsed", elapsed,
			"error", err)
		mu.Lock()
		defer mu.Unlock()
		summary.Failures = append(summary.Failures, Failure{
			Repo:    repo.ID(),
			Reason:  reason,
			Message: err.Error(),
			Elapsed: elapsed,
			Err:     err,
		})
	}

	for _, repo := range enabled {
		wg.Add(1)
		go func(repo entities.RepoConfig) {
			defer wg.Done()

			select {
			case semaphore <- struct{}{}:
				defer func() { <-semaphore }()
			case <-ctx.Done():
				// Queued past the deadline; never started
				record(repo, ctx.Err(), 0)
				return
			}

			taskStart := time.Now()
			found, err := task(ctx, repo)
			elapsed := time.Since(taskStart)
			if err != nil {
				record(repo, err, elapsed)
				return
			}

			mu.Lock()
			for key, value := range found {
				results[key] = value
			}
			summary.Succeeded++
			mu.Unlock()
		}(repo)
	}

	wg.Wait()
	summary.Elapsed = time.Since(start)
	return results, summary
}

// classify maps a task error onto a summary reason. runErr is the run
// context's error at recording time: once the run itself is cancelled,
// whatever shape the task error took, the cause is the cancellation. A
// per-attempt clone timeout inside a live run stays a fetch failure.
func classify(runErr error, err error) FailureReason {
	if runErr != nil {
		return ReasonCancelled
	}
	var fetchErr *fetcher.FetchError
	if errors.As(err, &fetchErr) {
		return ReasonFetch
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	return ReasonScan
}
