package entities

import (
	"strings"
	"testing"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		category    Category
		expectError bool
	}{
		{
			name:     "skills",
			category: CategorySkills,
		},
		{
			name:     "agents",
			category: CategoryAgents,
		},
		{
			name:        "plugins have no per-file parser",
			category:    CategoryPlugins,
			expectError: true,
		},
		{
			name:        "unknown",
			category:    Category("themes"),
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			parser, err := ParserFor(tt.category)

			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, parser)
			assert.Equal(t, tt.category, parser.Category())
		})
	}
}

func writeTestFile(t *testing.T, fsys billy.Filesystem, path, content string) {
	t.Helper()
	require.NoError(t, util.WriteFile(fsys, path, []byte(content), 0o644))
}

func TestScan(t *testing.T) {
	t.Parallel()

	repo := RepoConfig{
		Owner:   "acme",
		Name:    "skills",
		Branch:  "main",
		Enabled: true,
	}

	t.Run("keys use the leaf directory regardless of depth", func(t *testing.T) {
		t.Parallel()

		fsys := memfs.New()
		writeTestFile(t, fsys, "docs/skills/writing/guide/SKILL.md",
			"---\nname: Guided Writing\ndescription: Long-form prose\n---\n")
		writeTestFile(t, fsys, "review/SKILL.md",
			"---\nname: Code Review\ndescription: Reviews diffs\n---\n")
		writeTestFile(t, fsys, "docs/skills/README.md", "# not a skill\n")

		found, err := Scan(fsys, repo, "main", NewSkillParser())
		require.NoError(t, err)
		require.Len(t, found, 2)

		keys := make([]string, 0, len(found))
		for _, entity := range found {
			keys = append(keys, entity.Key)
			leaf := entity.Key[strings.LastIndex(entity.Key, ":")+1:]
			assert.NotContains(t, leaf, "/",
				"intermediate path segments must never leak into keys")
		}
		assert.ElementsMatch(t, []string{"acme/skills:guide", "acme/skills:review"}, keys)
	})

	t.Run("scan is scoped to the subpath", func(t *testing.T) {
		t.Parallel()

		fsys := memfs.New()
		writeTestFile(t, fsys, "inside/one/SKILL.md", "---\nname: One\ndescription: d\n---\n")
		writeTestFile(t, fsys, "outside/two/SKILL.md", "---\nname: Two\ndescription: d\n---\n")

		scoped := repo
		scoped.Subpath = "inside"

		found, err := Scan(fsys, scoped, "main", NewSkillParser())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "acme/skills:one", found[0].Key)
	})

	t.Run("missing subpath yields no entities", func(t *testing.T) {
		t.Parallel()

		fsys := memfs.New()
		writeTestFile(t, fsys, "elsewhere/SKILL.md", "---\nname: X\ndescription: d\n---\n")

		scoped := repo
		scoped.Subpath = "no/such/dir"

		found, err := Scan(fsys, scoped, "main", NewSkillParser())
		require.NoError(t, err)
		assert.Empty(t, found)
	})

	t.Run("a malformed descriptor does not hide the others", func(t *testing.T) {
		t.Parallel()

		fsys := memfs.New()
		writeTestFile(t, fsys, "good/SKILL.md", "---\nname: Good\ndescription: d\n---\n")
		writeTestFile(t, fsys, "bad/SKILL.md", "---\nname: [oops\n---\n")

		found, err := Scan(fsys, repo, "main", NewSkillParser())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "acme/skills:good", found[0].Key)
	})

	t.Run("agent scan skips plain markdown", func(t *testing.T) {
		t.Parallel()

		fsys := memfs.New()
		writeTestFile(t, fsys, "agents/reviewer.md",
			"---\nname: Reviewer\ndescription: Reviews code\ntools: Read, Grep\n---\n")
		writeTestFile(t, fsys, "agents/README.md", "# docs only\n")

		agentRepo := RepoConfig{Owner: "acme", Name: "agents", Branch: "main", Enabled: true}

		found, err := Scan(fsys, agentRepo, "main", NewAgentParser())
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, "acme/agents:reviewer", found[0].Key)
		assert.Equal(t, []string{"Read", "Grep"}, []string(found[0].Tools))
	})
}

func TestSplitFrontmatter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		content      string
		expectOK     bool
		expectedMeta string
	}{
		{
			name:         "unix line endings",
			content:      "---\nname: x\n---\nbody\n",
			expectOK:     true,
			expectedMeta: "name: x\n",
		},
		{
			name:         "windows line endings",
			content:      "---\r\nname: x\r\n---\r\nbody\r\n",
			expectOK:     true,
			expectedMeta: "name: x\r\n",
		},
		{
			name:     "no opening delimiter",
			content:  "name: x\n---\n",
			expectOK: false,
		},
		{
			name:     "unterminated block",
			content:  "---\nname: x\n",
			expectOK: false,
		},
		{
			name:     "empty file",
			content:  "",
			expectOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			meta, _, ok := splitFrontmatter([]byte(tt.content))

			assert.Equal(t, tt.expectOK, ok)
			if tt.expectOK {
				assert.Equal(t, tt.expectedMeta, string(meta))
			}
		})
	}
}
