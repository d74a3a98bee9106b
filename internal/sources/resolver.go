package sources

import (
	"context"
	"log/slog"

	"github.com/curio-sh/curio/internal/entities"
)

// defaultResolver is the default implementation of Resolver
type defaultResolver struct {
	factory HandlerFactory
}

var _ Resolver = (*defaultResolver)(nil)

// NewResolver creates a resolver using the given handler factory
func NewResolver(factory HandlerFactory) Resolver {
	return &defaultResolver{factory: factory}
}

// Resolve implements Resolver. Sources are processed in the given order and
// merged first-writer-wins: an owner/name claimed by an earlier source is
// never overwritten by a later one. A source that fails to load is skipped
// with a warning. When every source fails the result is an empty map, not
// an error.
func (r *defaultResolver) Resolve(ctx context.Context, specs []SourceSpec) map[string]entities.RepoConfig {
	merged := make(map[string]entities.RepoConfig)

	for _, spec := range specs {
		handler, err := r.factory.HandlerFor(spec.Kind)
		if err != nil {
			slog.Warn("Skipping source of unsupported kind",
				"source", spec.String(),
				"error", err)
			continue
		}

		repos, err := handler.Load(ctx, spec)
		if err != nil {
			slog.Warn("Skipping unavailable source",
				"source", spec.String(),
				"error", err)
			continue
		}

		added := 0
		for id, repo := range repos {
			if _, exists := merged[id]; exists {
				continue
			}
			merged[id] = repo
			added++
		}
		slog.Debug("Merged source",
			"source", spec.String(),
			"repos", len(repos),
			"added", added)
	}

	return merged
}
