package git

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

const (
	// maxCloneFiles bounds the number of files a single clone may create
	maxCloneFiles = 10 * 1000

	// maxCloneBytes bounds the total bytes a single clone may write
	maxCloneBytes = 100 * 1024 * 1024
)

// Client defines the interface for Git operations
type Client interface {
	// Clone clones a repository with the given configuration
	Clone(ctx context.Context, config *CloneConfig) (*Checkout, error)

	// Cleanup releases the in-memory resources held by a checkout
	Cleanup(ctx context.Context, checkout *Checkout) error
}

// defaultClient implements Client using go-git
type defaultClient struct{}

// NewDefaultClient creates a new defaultClient
func NewDefaultClient() Client {
	return &defaultClient{}
}

// Clone clones a repository with the given configuration
func (c *defaultClient) Clone(ctx context.Context, config *CloneConfig) (*Checkout, error) {
	cloneOptions := &gogit.CloneOptions{
		URL:   config.URL,
		Depth: 1,
	}
	if config.Branch != "" {
		cloneOptions.ReferenceName = plumbing.NewBranchReferenceName(config.Branch)
		cloneOptions.SingleBranch = true
	}

	// Use in-memory filesystems for the repository and the storer.
	// go-git wants separate filesystems for the storer and the checked out files.
	memFS := memfs.New()
	worktreeFS := &LimitedFs{
		Fs:            memFS,
		MaxFiles:      maxCloneFiles,
		TotalFileSize: maxCloneBytes,
	}
	storerFS := &LimitedFs{
		Fs:            memfs.New(),
		MaxFiles:      maxCloneFiles,
		TotalFileSize: maxCloneBytes,
	}
	storerCache := cache.NewObjectLRUDefault()
	storer := filesystem.NewStorage(storerFS, storerCache)

	repo, err := gogit.CloneContext(ctx, storer, worktreeFS, cloneOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to clone repository: %w", err)
	}

	checkout := &Checkout{
		Repository:       repo,
		Filesystem:       worktreeFS,
		RemoteURL:        config.URL,
		storerFilesystem: storerFS,
		objectCache:      storerCache,
	}

	if err := resolveCheckedOutBranch(checkout); err != nil {
		return nil, fmt.Errorf("failed to resolve checked out branch: %w", err)
	}

	return checkout, nil
}

// Cleanup releases the in-memory resources held by a checkout
func (*defaultClient) Cleanup(_ context.Context, checkout *Checkout) error {
	if checkout == nil || checkout.Repository == nil {
		return fmt.Errorf("checkout is nil")
	}

	// 1. Clear object cache explicitly
	if checkout.objectCache != nil {
		slog.Debug("Clearing object cache")
		checkout.objectCache.Clear()
	}

	// 2. Clear worktree filesystem
	if checkout.Filesystem != nil {
		slog.Debug("Clearing worktree filesystem")
		_ = util.RemoveAll(checkout.Filesystem, "/")
	}

	// 3. Clear storer filesystem (memfs)
	if checkout.storerFilesystem != nil {
		slog.Debug("Clearing storer filesystem")
		_ = util.RemoveAll(checkout.storerFilesystem, "/")
	}

	// 4. Nil out all references
	checkout.objectCache = nil
	checkout.storerFilesystem = nil
	checkout.Filesystem = nil
	checkout.Repository = nil

	// 5. Force GC to reclaim memory
	runtime.GC()
	return nil
}

// resolveCheckedOutBranch records the branch HEAD points at after the clone
func resolveCheckedOutBranch(checkout *Checkout) error {
	ref, err := checkout.Repository.Head()
	if err != nil {
		return fmt.Errorf("failed to get HEAD reference: %w", err)
	}

	if ref.Name().IsBranch() {
		checkout.Branch = ref.Name().Short()
	}
	return nil
}
