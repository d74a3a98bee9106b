// Package names canonicalizes marketplace display names and resolves
// user-chosen names back to their source repositories.
package names

import (
	"fmt"
	"strings"

	"github.com/curio-sh/curio/internal/entities"
)

// AmbiguousNameError reports a name that matched zero or several
// marketplaces. Resolution never guesses between candidates.
type AmbiguousNameError struct {
	// Input is the name the user asked for
	Input string

	// Candidates holds the registry keys of every match; empty when
	// nothing matched at all
	Candidates []string
}

// Error implements error
func (e *AmbiguousNameError) Error() string {
	if len(e.Candidates) == 0 {
		return fmt.Sprintf("name %q does not match any marketplace", e.Input)
	}
	return fmt.Sprintf("name %q is ambiguous between: %s", e.Input, strings.Join(e.Candidates, ", "))
}

// DisplayName returns the name a marketplace is presented under: the
// descriptor's embedded name when it has one, otherwise the owner/repo
// identifier.
func DisplayName(info entities.MarketplaceInfo) string {
	if info.ResolvedName != "" {
		return info.ResolvedName
	}
	return info.Repo.ID()
}

// Dedupe collapses marketplaces presenting the same display name, keeping
// the first occurrence in source-priority order. Comparison ignores case.
func Dedupe(infos []entities.MarketplaceInfo) []entities.MarketplaceInfo {
	seen := make(map[string]bool, len(infos))
	deduped := make([]entities.MarketplaceInfo, 0, len(infos))
	for _, info := range infos {
		name := strings.ToLower(DisplayName(info))
		if seen[name] {
			continue
		}
		seen[name] = true
		deduped = append(deduped, info)
	}
	return deduped
}

// Resolve maps a user-supplied name to the repository it identifies. It
// tries, in order: exact registry key, display name, alias. The first tier
// with exactly one match wins; a tier with several matches fails as
// ambiguous rather than continuing. Registry keys match exactly; display
// names and aliases ignore case.
func Resolve(input string, infos []entities.MarketplaceInfo) (entities.RepoConfig, error) {
	matchers := []func(entities.MarketplaceInfo) bool{
		func(info entities.MarketplaceInfo) bool {
			return registryKey(info) == input
		},
		func(info entities.MarketplaceInfo) bool {
			return strings.EqualFold(DisplayName(info), input)
		},
		func(info entities.MarketplaceInfo) bool {
			return info.Repo.Alias != "" && strings.EqualFold(info.Repo.Alias, input)
		},
	}

	for _, matches := range matchers {
		var hits []entities.MarketplaceInfo
		for _, info := range infos {
			if matches(info) {
				hits = append(hits, info)
			}
		}

		switch len(hits) {
		case 0:
			continue
		case 1:
			return hits[0].Repo, nil
		default:
			candidates := make([]string, 0, len(hits))
			for _, hit := range hits {
				candidates = append(candidates, registryKey(hit))
			}
			return entities.RepoConfig{}, &AmbiguousNameError{Input: input, Candidates: candidates}
		}
	}

	return entities.RepoConfig{}, &AmbiguousNameError{Input: input}
}

func registryKey(info entities.MarketplaceInfo) string {
	return entities.Key(info.Repo.Owner, info.Repo.Name, DisplayName(info))
}
