package entities

import (
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// agentFileSuffix selects candidate agent definition files
const agentFileSuffix = ".md"

// ToolList accepts either a YAML sequence or a comma-separated scalar; both
// forms appear in published agent definitions.
type ToolList []string

var _ yaml.Unmarshaler = (*ToolList)(nil)

// UnmarshalYAML implements yaml.Unmarshaler
func (t *ToolList) UnmarshalYAML(value *yaml.Node) error {
	switch value.Kind {
	case yaml.SequenceNode:
		var items []string
		if err := value.Decode(&items); err != nil {
			return err
		}
		*t = normalizeTools(items)
		return nil
	case yaml.ScalarNode:
		var joined string
		if err := value.Decode(&joined); err != nil {
			return err
		}
		*t = normalizeTools(strings.Split(joined, ","))
		return nil
	default:
		return fmt.Errorf("tools must be a list or a comma-separated string")
	}
}

func normalizeTools(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// agentMeta is the YAML frontmatter schema of an agent definition
type agentMeta struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Tools       ToolList `yaml:"tools"`
	Color       string   `yaml:"color"`
}

// AgentParser discovers markdown agent definitions. Only files carrying a
// frontmatter block count; plain markdown under the same tree is treated as
// documentation and skipped.
type AgentParser struct{}

var _ Parser = (*AgentParser)(nil)

// NewAgentParser creates a parser for the agents category
func NewAgentParser() *AgentParser {
	return &AgentParser{}
}

// Category implements Parser
func (*AgentParser) Category() Category {
	return CategoryAgents
}

// Matches implements Parser
func (*AgentParser) Matches(relPath string) bool {
	return strings.HasSuffix(relPath, agentFileSuffix)
}

// Parse implements Parser. The key's leaf component is the file name without
// its extension. Name defaults to that same stem and description to
// "Agent: {name}" when the frontmatter omits them.
func (*AgentParser) Parse(relPath string, content []byte, repo RepoConfig, branch string) (*Entity, error) {
	meta, _, ok := splitFrontmatter(content)
	if !ok {
		return nil, nil
	}

	var am agentMeta
	if err := yaml.Unmarshal(meta, &am); err != nil {
		return nil, fmt.Errorf("invalid agent frontmatter: %w", err)
	}

	stem := strings.TrimSuffix(path.Base(relPath), agentFileSuffix)

	name := strings.TrimSpace(am.Name)
	if name == "" {
		name = stem
	}
	description := strings.TrimSpace(am.Description)
	if description == "" {
		description = "Agent: " + name
	}

	return &Entity{
		Key:          Key(repo.Owner, repo.Name, stem),
		Name:         name,
		Description:  description,
		Category:     CategoryAgents,
		SourceOwner:  repo.Owner,
		SourceRepo:   repo.Name,
		SourceBranch: branch,
		Tools:        am.Tools,
		Color:        strings.TrimSpace(am.Color),
	}, nil
}
