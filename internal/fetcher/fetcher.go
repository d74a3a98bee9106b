// Package fetcher materializes source repositories into scoped in-memory
// checkouts, trying an ordered list of fallback branches when the configured
// branch cannot be fetched.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"

	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/git"
)

// DefaultAttemptTimeout bounds a single clone attempt
const DefaultAttemptTimeout = 60 * time.Second

// DefaultFallbackBranches is the ordered list of branch names tried after
// the configured branch fails. The configured branch is always tried first
// and never retried.
var DefaultFallbackBranches = []string{"main", "master", "develop", "development", "dev", "trunk"}

// FetchError reports a repository that could not be materialized on any
// candidate branch. It carries the last underlying error and the branches
// that were attempted, in order.
type FetchError struct {
	Repo     string
	Branches []string
	Err      error
}

// Error implements the error interface
func (e *FetchError) Error() string {
	if len(e.Branches) == 0 {
		return fmt.Sprintf("failed to fetch repository %s: %v", e.Repo, e.Err)
	}
	return fmt.Sprintf("failed to fetch repository %s (tried branches: %s): %v",
		e.Repo, strings.Join(e.Branches, ", "), e.Err)
}

// Unwrap returns the last underlying attempt error
func (e *FetchError) Unwrap() error {
	return e.Err
}

// Materialized is a scoped handle to one fetched repository checkout. The
// caller owns it and must call Close on every exit path; Close is safe to
// call more than once.
type Materialized struct {
	repo     entities.RepoConfig
	branch   string
	checkout *git.Checkout
	client   git.Client
	once     sync.Once
}

// FS returns the checked-out file tree, rooted at the repository root
func (m *Materialized) FS() billy.Filesystem {
	return m.checkout.Filesystem
}

// Branch returns the branch that was actually fetched, which may be a
// fallback rather than the configured one
func (m *Materialized) Branch() string {
	return m.branch
}

// Repo returns the repository configuration this checkout was fetched for
func (m *Materialized) Repo() entities.RepoConfig {
	return m.repo
}

// Close releases the checkout's in-memory storage
func (m *Materialized) Close(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		err = m.client.Cleanup(ctx, m.checkout)
	})
	return err
}

// Fetcher materializes repositories into scoped checkouts
type Fetcher interface {
	// Materialize fetches the repository, trying fallback branches when the
	// configured one does not exist. All candidates exhausted returns a
	// *FetchError for this repository only.
	Materialize(ctx context.Context, repo entities.RepoConfig) (*Materialized, error)
}

type defaultFetcher struct {
	client         git.Client
	fallbacks      []string
	attemptTimeout time.Duration
}

var _ Fetcher = (*defaultFetcher)(nil)

// Option configures the fetcher
type Option func(*defaultFetcher)

// WithFallbackBranches replaces the default branch fallback list
func WithFallbackBranches(branches []string) Option {
	return func(f *defaultFetcher) {
		f.fallbacks = branches
	}
}

// WithAttemptTimeout bounds each individual clone attempt
func WithAttemptTimeout(d time.Duration) Option {
	return func(f *defaultFetcher) {
		if d > 0 {
			f.attemptTimeout = d
		}
	}
}

// New creates a fetcher backed by the given git client
func New(client git.Client, opts ...Option) Fetcher {
	f := &defaultFetcher{
		client:         client,
		fallbacks:      DefaultFallbackBranches,
		attemptTimeout: DefaultAttemptTimeout,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Materialize implements Fetcher
func (f *defaultFetcher) Materialize(ctx context.Context, repo entities.RepoConfig) (*Materialized, error) {
	candidates := branchCandidates(repo.Branch, f.fallbacks)
	if len(candidates) == 0 {
		return nil, &FetchError{Repo: repo.ID(), Err: errors.New("no branch candidates")}
	}

	var (
		tried   []string
		lastErr error
	)
	for _, branch := range candidates {
		// A cancelled run takes precedence over further fallback attempts
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}

		tried = append(tried, branch)
		checkout, err := f.cloneBranch(ctx, repo, branch)
		if err != nil {
			lastErr = err
			slog.Debug("Branch attempt failed",
				"repo", repo.ID(),
				"branch", branch,
				"error", err)
			if errors.Is(err, transport.ErrRepositoryNotFound) {
				// No branch of a missing repository can succeed
				break
			}
			continue
		}

		actual := checkout.Branch
		if actual == "" {
			actual = branch
		}
		slog.Debug("Materialized repository",
			"repo", repo.ID(),
			"branch", actual)
		return &Materialized{
			repo:     repo,
			branch:   actual,
			checkout: checkout,
			client:   f.client,
		}, nil
	}

	return nil, &FetchError{Repo: repo.ID(), Branches: tried, Err: lastErr}
}

func (f *defaultFetcher) cloneBranch(ctx context.Context, repo entities.RepoConfig, branch string) (*git.Checkout, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, f.attemptTimeout)
	defer cancel()

	return f.client.Clone(attemptCtx, &git.CloneConfig{
		URL:    repo.CloneURL(),
		Branch: branch,
	})
}

// branchCandidates builds the ordered attempt list: the requested branch
// first, then the fallbacks minus anything already listed.
func branchCandidates(requested string, fallbacks []string) []string {
	seen := make(map[string]struct{}, len(fallbacks)+1)
	out := make([]string, 0, len(fallbacks)+1)
	for _, branch := range append([]string{requested}, fallbacks...) {
		if branch == "" {
			continue
		}
		if _, ok := seen[branch]; ok {
			continue
		}
		seen[branch] = struct{}{}
		out = append(out, branch)
	}
	return out
}
