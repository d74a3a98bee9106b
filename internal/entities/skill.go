package entities

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// skillFileName is the exact descriptor file name scanned for skills
const skillFileName = "SKILL.md"

// descriptionScanLines bounds how far into a descriptor the fallback
// description scan looks
const descriptionScanLines = 10

// skillMeta is the YAML frontmatter schema of a SKILL.md descriptor
type skillMeta struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SkillParser discovers SKILL.md descriptors anywhere under the scan root.
// The key's leaf component is the directory holding the descriptor, never
// an intermediate path segment.
type SkillParser struct{}

var _ Parser = (*SkillParser)(nil)

// NewSkillParser creates a parser for the skills category
func NewSkillParser() *SkillParser {
	return &SkillParser{}
}

// Category implements Parser
func (*SkillParser) Category() Category {
	return CategorySkills
}

// Matches implements Parser. The descriptor name is case sensitive.
func (*SkillParser) Matches(relPath string) bool {
	return path.Base(relPath) == skillFileName
}

// Parse implements Parser. Metadata comes from the YAML frontmatter block;
// descriptors without one fall back to the first markdown heading and a
// "description:" line near the top of the file.
func (*SkillParser) Parse(relPath string, content []byte, repo RepoConfig, branch string) (*Entity, error) {
	leaf := leafDir(relPath, repo)

	var name, description string
	if meta, _, ok := splitFrontmatter(content); ok {
		var sm skillMeta
		if err := yaml.Unmarshal(meta, &sm); err != nil {
			return nil, fmt.Errorf("invalid skill frontmatter: %w", err)
		}
		name = strings.TrimSpace(sm.Name)
		description = strings.TrimSpace(sm.Description)
	}

	if name == "" || description == "" {
		headingName, lineDescription := scanSkillBody(content)
		if name == "" {
			name = headingName
		}
		if description == "" {
			description = lineDescription
		}
	}
	if name == "" {
		name = leaf
	}

	return &Entity{
		Key:          Key(repo.Owner, repo.Name, leaf),
		Name:         name,
		Description:  description,
		Category:     CategorySkills,
		SourceOwner:  repo.Owner,
		SourceRepo:   repo.Name,
		SourceBranch: branch,
	}, nil
}

// scanSkillBody extracts a display name from the first "# " heading and a
// description from a "description:" line within the first few lines.
func scanSkillBody(content []byte) (name, description string) {
	for i, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)

		if name == "" && strings.HasPrefix(line, "# ") {
			name = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
		if description == "" && i < descriptionScanLines {
			if rest, ok := strings.CutPrefix(line, "description:"); ok {
				description = strings.TrimSpace(rest)
			}
		}
		if name != "" && (description != "" || i >= descriptionScanLines) {
			break
		}
	}
	return name, description
}
