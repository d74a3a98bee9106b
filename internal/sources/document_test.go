package sources

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curio-sh/curio/internal/entities"
)

func TestValidateDocument(t *testing.T) {
	t.Parallel()

	validator := NewDocumentValidator()

	t.Run("yaml document with full fields", func(t *testing.T) {
		t.Parallel()

		doc := []byte(`
acme/skills:
  owner: acme
  name: skills
  branch: main
  subpath: docs/skills
  enabled: true
  alias: acme
`)

		repos, err := validator.ValidateDocument(doc)
		require.NoError(t, err)
		require.Len(t, repos, 1)

		repo := repos["acme/skills"]
		assert.Equal(t, "acme", repo.Owner)
		assert.Equal(t, "skills", repo.Name)
		assert.Equal(t, "main", repo.Branch)
		assert.Equal(t, "docs/skills", repo.Subpath)
		assert.True(t, repo.Enabled)
		assert.Equal(t, "acme", repo.Alias)
	})

	t.Run("json document", func(t *testing.T) {
		t.Parallel()

		doc := []byte(`{"acme/agents": {"branch": "main", "enabled": false}}`)

		repos, err := validator.ValidateDocument(doc)
		require.NoError(t, err)
		require.Len(t, repos, 1)

		repo := repos["acme/agents"]
		assert.Equal(t, "acme", repo.Owner)
		assert.Equal(t, "agents", repo.Name)
		assert.False(t, repo.Enabled)
	})

	t.Run("owner and name derived from the entry key", func(t *testing.T) {
		t.Parallel()

		doc := []byte("acme/skills:\n  branch: main\n")

		repos, err := validator.ValidateDocument(doc)
		require.NoError(t, err)

		repo := repos["acme/skills"]
		assert.Equal(t, "acme", repo.Owner)
		assert.Equal(t, "skills", repo.Name)
	})

	t.Run("enabled defaults to true", func(t *testing.T) {
		t.Parallel()

		doc := []byte("acme/skills:\n  branch: main\n")

		repos, err := validator.ValidateDocument(doc)
		require.NoError(t, err)
		assert.True(t, repos["acme/skills"].Enabled)
	})

	tests := []struct {
		name          string
		doc           string
		errorContains string
	}{
		{
			name:          "empty document",
			doc:           "",
			errorContains: "empty",
		},
		{
			name:          "key without owner",
			doc:           "skills:\n  branch: main\n",
			errorContains: "schema validation",
		},
		{
			name:          "unknown entry field",
			doc:           "acme/skills:\n  url: https://example.com\n",
			errorContains: "schema validation",
		},
		{
			name:          "wrong type for enabled",
			doc:           "acme/skills:\n  enabled: \"yes\"\n",
			errorContains: "schema validation",
		},
		{
			name:          "owner contradicts the key",
			doc:           "acme/skills:\n  owner: emca\n",
			errorContains: "does not match",
		},
		{
			name:          "name contradicts the key",
			doc:           "acme/skills:\n  name: sllisk\n",
			errorContains: "does not match",
		},
		{
			name:          "not a document at all",
			doc:           "{{{{",
			errorContains: "failed to parse",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := validator.ValidateDocument([]byte(tt.doc))

			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errorContains)
		})
	}
}

func TestRepoEntryToRepoConfig(t *testing.T) {
	t.Parallel()

	enabled := false
	docEntry := repoEntry{Branch: "develop", Enabled: &enabled, Alias: "short"}

	repo, err := docEntry.toRepoConfig("acme/tools")
	require.NoError(t, err)

	assert.Equal(t, entities.RepoConfig{
		Owner:   "acme",
		Name:    "tools",
		Branch:  "develop",
		Enabled: false,
		Alias:   "short",
	}, repo)

	_, err = docEntry.toRepoConfig("no-slash")
	assert.Error(t, err)
}
