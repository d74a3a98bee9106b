package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/fetcher"
)

func testRepos(n int) []entities.RepoConfig {
	repos := make([]entities.RepoConfig, 0, n)
	for i := 0; i < n; i++ {
		repos = append(repos, entities.RepoConfig{
			Owner:   "acme",
			Name:    fmt.Sprintf("repo-%d", i),
			Branch:  "main",
			Enabled: true,
		})
	}
	return repos
}

// singleEntity returns a task yielding one entity keyed by the repository name
func singleEntity(delay time.Duration) Task[entities.Entity] {
	return func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		if delay > 0 {
			time.Sleep(delay)
		}
		key := entities.Key(repo.Owner, repo.Name, "item")
		return map[string]entities.Entity{
			key: {Key: key, Name: repo.Name, Category: entities.CategorySkills},
		}, nil
	}
}

func TestFetchAll_AggregatesAllRepos(t *testing.T) {
	t.Parallel()

	repos := testRepos(5)

	results, summary := FetchAll(context.Background(), repos, Options{MaxWorkers: 3}, singleEntity(0))

	assert.Len(t, results, 5)
	assert.Equal(t, 5, summary.Repos)
	assert.Equal(t, 5, summary.Succeeded)
	assert.Empty(t, summary.Failures)
}

func TestFetchAll_ResultIndependentOfCompletionOrder(t *testing.T) {
	t.Parallel()

	repos := testRepos(6)

	// Stagger completion so tasks finish in a scrambled order
	task := func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		digit := int(repo.Name[len(repo.Name)-1] - '0')
		time.Sleep(time.Duration(digit%3) * 5 * time.Millisecond)
		key := entities.Key(repo.Owner, repo.Name, "item")
		return map[string]entities.Entity{key: {Key: key}}, nil
	}

	first, _ := FetchAll(context.Background(), repos, Options{MaxWorkers: 2}, task)
	second, _ := FetchAll(context.Background(), repos, Options{MaxWorkers: 6}, task)

	assert.Equal(t, first, second)
}

func TestFetchAll_PartialFailure(t *testing.T) {
	t.Parallel()

	repos := []entities.RepoConfig{
		{Owner: "acme", Name: "unreachable", Branch: "main", Enabled: true},
		{Owner: "acme", Name: "reachable", Branch: "main", Enabled: true},
	}

	fetchErr := &fetcher.FetchError{
		Repo:     "acme/unreachable",
		Branches: []string{"main"},
		Err:      errors.New("connection refused"),
	}
	task := func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		if repo.Name == "unreachable" {
			return nil, fetchErr
		}
		key := entities.Key(repo.Owner, repo.Name, "item")
		return map[string]entities.Entity{key: {Key: key}}, nil
	}

	results, summary := FetchAll(context.Background(), repos, Options{MaxWorkers: 2}, task)

	assert.Len(t, results, 1)
	assert.Contains(t, results, "acme/reachable:item")
	assert.Equal(t, 1, summary.Succeeded)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "acme/unreachable", summary.Failures[0].Repo)
	assert.Equal(t, ReasonFetch, summary.Failures[0].Reason)
	assert.ErrorIs(t, summary.Failures[0].Err, fetchErr.Err)
}

func TestFetchAll_DisabledReposSkipped(t *testing.T) {
	t.Parallel()

	repos := testRepos(3)
	repos[1].Enabled = false

	var calls atomic.Int32
	task := func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		calls.Add(1)
		key := entities.Key(repo.Owner, repo.Name, "item")
		return map[string]entities.Entity{key: {Key: key}}, nil
	}

	results, summary := FetchAll(context.Background(), repos, Options{MaxWorkers: 4}, task)

	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, results, 2)
	assert.Equal(t, 2, summary.Repos)
	assert.NotContains(t, results, "acme/repo-1:item")
}

func TestFetchAll_BoundedConcurrency(t *testing.T) {
	t.Parallel()

	const maxWorkers = 2

	var running, peak atomic.Int32
	task := func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		now := running.Add(1)
		defer running.Add(-1)
		for {
			observed := peak.Load()
			if now <= observed || peak.CompareAndSwap(observed, now) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return map[string]entities.Entity{repo.Name: {Key: repo.Name}}, nil
	}

	_, summary := FetchAll(context.Background(), testRepos(8), Options{MaxWorkers: maxWorkers}, task)

	assert.Equal(t, 8, summary.Succeeded)
	assert.LessOrEqual(t, peak.Load(), int32(maxWorkers))
}

func TestFetchAll_EmptyRepoList(t *testing.T) {
	t.Parallel()

	task := singleEntity(0)

	results, summary := FetchAll(context.Background(), nil, Options{MaxWorkers: 4}, task)

	assert.Empty(t, results)
	assert.Equal(t, 0, summary.Repos)
	assert.Equal(t, 0, summary.Succeeded)
}

func TestFetchAll_RunDeadline(t *testing.T) {
	t.Parallel()

	// Tasks block until cancelled, so only the deadline ends the run
	task := func(ctx context.Context, _ entities.RepoConfig) (map[string]entities.Entity, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	start := time.Now()
	results, summary := FetchAll(
		context.Background(),
		testRepos(3),
		Options{MaxWorkers: 3, Timeout: 50 * time.Millisecond},
		task,
	)

	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, results)
	require.Len(t, summary.Failures, 3)
	for _, failure := range summary.Failures {
		assert.Equal(t, ReasonCancelled, failure.Reason)
	}
}

func TestFetchAll_LateFailureDoesNotDropEarlierResults(t *testing.T) {
	t.Parallel()

	repos := testRepos(4)
	task := func(_ context.Context, repo entities.RepoConfig) (map[string]entities.Entity, error) {
		if repo.Name == "repo-3" {
			time.Sleep(15 * time.Millisecond)
			return nil, errors.New("descriptor walk failed")
		}
		key := entities.Key(repo.Owner, repo.Name, "item")
		return map[string]entities.Entity{key: {Key: key}}, nil
	}

	results, summary := FetchAll(context.Background(), repos, Options{MaxWorkers: 4}, task)

	assert.Len(t, results, 3)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, ReasonScan, summary.Failures[0].Reason)
}

func TestClassify(t *testing.T) {
	t.Parallel()

	fetchErr := &fetcher.FetchError{Repo: "acme/x", Err: errors.New("boom")}

	tests := []struct {
		name     string
		runErr   error
		err      error
		expected FailureReason
	}{
		{
			name:     "fetch error",
			err:      fetchErr,
			expected: ReasonFetch,
		},
		{
			name:     "wrapped fetch error",
			err:      fmt.Errorf("task: %w", fetchErr),
			expected: ReasonFetch,
		},
		{
			name:     "attempt timeout inside a live run is a fetch failure",
			err:      &fetcher.FetchError{Repo: "acme/x", Err: context.DeadlineExceeded},
			expected: ReasonFetch,
		},
		{
			name:     "cancelled run wins over error shape",
			runErr:   context.DeadlineExceeded,
			err:      fetchErr,
			expected: ReasonCancelled,
		},
		{
			name:     "bare context error",
			err:      context.Canceled,
			expected: ReasonCancelled,
		},
		{
			name:     "anything else is a scan failure",
			err:      errors.New("bad descriptor"),
			expected: ReasonScan,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			assert.Equal(t, tt.expected, classify(tt.runErr, tt.err))
		})
	}
}
