package entities

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCategory(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		input       string
		expected    Category
		expectError bool
	}{
		{
			name:     "skills",
			input:    "skills",
			expected: CategorySkills,
		},
		{
			name:     "agents with surrounding whitespace",
			input:    "  agents ",
			expected: CategoryAgents,
		},
		{
			name:     "plugins uppercase",
			input:    "PLUGINS",
			expected: CategoryPlugins,
		},
		{
			name:        "unknown category",
			input:       "themes",
			expectError: true,
		},
		{
			name:        "empty string",
			input:       "",
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseCategory(tt.input)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestKey(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		owner    string
		repo     string
		leaf     string
		expected string
	}{
		{
			name:     "simple leaf",
			owner:    "acme",
			repo:     "skills",
			leaf:     "guide",
			expected: "acme/skills:guide",
		},
		{
			name:     "leaf with slash is flattened",
			owner:    "acme",
			repo:     "plugins",
			leaf:     "tools/formatter",
			expected: "acme/plugins:tools-formatter",
		},
		{
			name:     "leaf with spaces is preserved",
			owner:    "acme",
			repo:     "plugins",
			leaf:     "Dev Tools",
			expected: "acme/plugins:Dev Tools",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			key := Key(tt.owner, tt.repo, tt.leaf)

			assert.Equal(t, tt.expected, key)
			// The part after the final ':' is handed to installers and
			// must never contain a path separator.
			assert.NotContains(t, key[strings.LastIndex(key, ":")+1:], "/")
		})
	}
}

func TestRepoConfig(t *testing.T) {
	t.Parallel()

	repo := RepoConfig{
		Owner:   "acme",
		Name:    "skills",
		Branch:  "main",
		Enabled: true,
	}

	assert.Equal(t, "acme/skills", repo.ID())
	assert.Equal(t, "https://github.com/acme/skills.git", repo.CloneURL())
}

func TestMarketplaceInfo_Entity(t *testing.T) {
	t.Parallel()

	info := MarketplaceInfo{
		ResolvedName: "Dev Tools",
		Description:  "Handy developer plugins",
		Plugins: []PluginEntry{
			{Name: "formatter", Version: "1.0.0"},
			{Name: "linter"},
		},
		Repo: RepoConfig{
			Owner:   "acme",
			Name:    "plugins",
			Branch:  "main",
			Enabled: true,
		},
		Branch: "master",
	}

	entity := info.Entity()

	assert.Equal(t, "acme/plugins:Dev Tools", entity.Key)
	assert.Equal(t, "Dev Tools", entity.Name)
	assert.Equal(t, "Handy developer plugins", entity.Description)
	assert.Equal(t, CategoryPlugins, entity.Category)
	assert.Equal(t, "acme", entity.SourceOwner)
	assert.Equal(t, "plugins", entity.SourceRepo)
	assert.Equal(t, "master", entity.SourceBranch, "branch should reflect what was actually fetched")
	assert.False(t, entity.Installed)
}
