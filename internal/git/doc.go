// Package git provides Git repository operations for entity discovery.
//
// This package implements a thin wrapper around the go-git library so the
// repository fetcher can materialize third-party repositories and scan their
// descriptor files without touching the local disk. It supports shallow
// single-branch clones into an in-memory filesystem and explicit resource
// release once scanning is done.
//
// Key Components:
//
// # Client Interface
//
// The Client interface defines the core Git operations:
//   - Clone: Clone public repositories to an in-memory filesystem
//   - Cleanup: Release in-memory repository resources
//
// The checked-out worktree is exposed as a billy.Filesystem on the Checkout
// struct so callers can walk it for descriptor files.
//
// # Example Usage
//
//	client := git.NewDefaultClient()
//	checkout, err := client.Clone(ctx, &git.CloneConfig{
//	    URL:    "https://github.com/acme/skills.git",
//	    Branch: "main",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Cleanup(ctx, checkout)
//
//	content, err := util.ReadFile(checkout.Filesystem, "SKILL.md")
//
// # Implementation Details
//
// Current implementation uses:
//   - In-memory filesystems (go-billy memfs) for all Git operations
//   - LimitedFs wrapper to enforce size constraints (10k files, 100MB total)
//   - Shallow single-branch clones (depth=1)
//   - Explicit memory cleanup via Cleanup() method with GC hints
//
// Branch fallback is deliberately not handled here; the fetcher layer owns
// the candidate order and calls Clone once per attempt.
package git
