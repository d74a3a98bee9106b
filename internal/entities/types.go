// Package entities defines the discovered entity model and the per-kind
// descriptor parsers that produce it.
package entities

import (
	"fmt"
	"strings"
	"time"
)

// Category identifies one kind of discoverable entity
type Category string

const (
	// CategorySkills are SKILL.md descriptors discovered recursively
	CategorySkills Category = "skills"

	// CategoryAgents are markdown files with an agent frontmatter block
	CategoryAgents Category = "agents"

	// CategoryPlugins are repository-level plugin marketplace descriptors
	CategoryPlugins Category = "plugins"
)

// Categories returns all known categories in display order
func Categories() []Category {
	return []Category{CategorySkills, CategoryAgents, CategoryPlugins}
}

// ParseCategory converts a user-supplied string into a Category
func ParseCategory(s string) (Category, error) {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategorySkills:
		return CategorySkills, nil
	case CategoryAgents:
		return CategoryAgents, nil
	case CategoryPlugins:
		return CategoryPlugins, nil
	default:
		return "", fmt.Errorf("unknown category %q (expected one of: skills, agents, plugins)", s)
	}
}

// RepoConfig describes one source repository to scan for entities.
// It is produced by the source resolver and immutable for a discovery run.
type RepoConfig struct {
	// Owner is the repository owner (user or organization)
	Owner string `yaml:"owner" json:"owner"`

	// Name is the repository name
	Name string `yaml:"name" json:"name"`

	// Branch is the branch to fetch first; fallbacks may be tried
	Branch string `yaml:"branch" json:"branch"`

	// Subpath restricts scanning to a subdirectory of the repository
	Subpath string `yaml:"subpath,omitempty" json:"subpath,omitempty"`

	// Enabled excludes the repository from discovery when false
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Alias is an optional short name users may resolve this repository by
	Alias string `yaml:"alias,omitempty" json:"alias,omitempty"`
}

// ID returns the repository's unique identifier within a category
func (r RepoConfig) ID() string {
	return r.Owner + "/" + r.Name
}

// CloneURL returns the HTTPS clone URL for the repository
func (r RepoConfig) CloneURL() string {
	return fmt.Sprintf("https://github.com/%s/%s.git", r.Owner, r.Name)
}

// Entity is one discovered skill, agent, or plugin marketplace.
// Key is the stable identifier used both for display and installation lookup.
type Entity struct {
	Key          string   `json:"key"`
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Category     Category `json:"category"`
	SourceOwner  string   `json:"source_owner"`
	SourceRepo   string   `json:"source_repo"`
	SourceBranch string   `json:"source_branch,omitempty"`

	// Installed is owned by the entity registry. Discovery never sets it;
	// the merge carries it forward from persisted state.
	Installed bool `json:"installed"`

	// Tools and Color are populated for agents only
	Tools []string `json:"tools,omitempty"`
	Color string   `json:"color,omitempty"`

	// UpdatedAt is stamped by the registry when descriptive fields change
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// SourceID returns the owner/name of the repository the entity came from
func (e Entity) SourceID() string {
	return e.SourceOwner + "/" + e.SourceRepo
}

// Key builds the stable identifier for an entity discovered in a repository.
// leaf must be a single path component: the part after the final ':' is
// handed unchanged to installers, so it never contains intermediate
// directory segments.
func Key(owner, repo, leaf string) string {
	leaf = strings.ReplaceAll(leaf, "/", "-")
	return fmt.Sprintf("%s/%s:%s", owner, repo, leaf)
}

// Leaf returns the component after the final ':' of a key. A key without a
// ':' is returned whole, so bare leaf names pass through unchanged.
func Leaf(key string) string {
	if i := strings.LastIndex(key, ":"); i >= 0 {
		return key[i+1:]
	}
	return key
}

// PluginEntry is one installable plugin listed by a marketplace descriptor
type PluginEntry struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
	Source      string `json:"source,omitempty"`
}

// MarketplaceInfo is the plugin-category specialization of a parsed
// descriptor: one per repository, carrying the full plugin list
type MarketplaceInfo struct {
	// ResolvedName is the display name, preferring the descriptor's
	// embedded name over the owner/repo identifier
	ResolvedName string `json:"resolved_name"`

	// Description comes from the descriptor metadata when present
	Description string `json:"description,omitempty"`

	// Plugins lists the installable plugins the marketplace offers
	Plugins []PluginEntry `json:"plugins"`

	// Repo is the repository configuration the descriptor was fetched from
	Repo RepoConfig `json:"repo"`

	// Branch is the branch the descriptor was actually fetched from
	Branch string `json:"branch"`
}

// Entity converts the marketplace into the generic entity shape used by the
// registry and the CLI
func (m MarketplaceInfo) Entity() Entity {
	return Entity{
		Key:          Key(m.Repo.Owner, m.Repo.Name, m.ResolvedName),
		Name:         m.ResolvedName,
		Description:  m.Description,
		Category:     CategoryPlugins,
		SourceOwner:  m.Repo.Owner,
		SourceRepo:   m.Repo.Name,
		SourceBranch: m.Branch,
	}
}
