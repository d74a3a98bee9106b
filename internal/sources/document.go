package sources

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/curio-sh/curio/internal/entities"
)

//go:embed sources.schema.json
var sourceSchema []byte

const schemaName = "sources.schema.json"

// loadSchema compiles the embedded document schema once. The schema is a
// build-time asset, so a compile failure is a broken build, not a runtime
// condition.
var loadSchema = sync.OnceValue(func() *jsonschema.Schema {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(sourceSchema))
	if err != nil {
		panic(fmt.Sprintf("sources: embedded schema is not valid JSON: %v", err))
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaName, doc); err != nil {
		panic(fmt.Sprintf("sources: failed to register embedded schema: %v", err))
	}

	schema, err := compiler.Compile(schemaName)
	if err != nil {
		panic(fmt.Sprintf("sources: embedded schema does not compile: %v", err))
	}
	return schema
})

// DocumentValidator validates a raw source document and parses it into
// repository configurations
type DocumentValidator interface {
	// ValidateDocument checks data against the source document schema and
	// returns the repositories it declares, keyed by owner/name
	ValidateDocument(data []byte) (map[string]entities.RepoConfig, error)
}

// defaultDocumentValidator is the default implementation of DocumentValidator
type defaultDocumentValidator struct {
	schema *jsonschema.Schema
}

var _ DocumentValidator = (*defaultDocumentValidator)(nil)

// NewDocumentValidator creates a validator backed by the embedded schema
func NewDocumentValidator() DocumentValidator {
	return &defaultDocumentValidator{schema: loadSchema()}
}

// repoEntry is the on-disk shape of one document entry. Owner and name may
// be omitted when derivable from the entry key; enabled defaults to true.
type repoEntry struct {
	Owner   string `yaml:"owner" json:"owner"`
	Name    string `yaml:"name" json:"name"`
	Branch  string `yaml:"branch" json:"branch"`
	Subpath string `yaml:"subpath" json:"subpath"`
	Enabled *bool  `yaml:"enabled" json:"enabled"`
	Alias   string `yaml:"alias" json:"alias"`
}

// ValidateDocument implements DocumentValidator. Documents may be YAML or
// JSON; both decode through the YAML parser.
func (v *defaultDocumentValidator) ValidateDocument(data []byte) (map[string]entities.RepoConfig, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("document cannot be empty")
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}

	// Round-trip through JSON so the schema validator sees the value types
	// it expects regardless of the document's syntax
	jsonValue, err := toJSONValue(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize document: %w", err)
	}
	if err := v.schema.Validate(jsonValue); err != nil {
		return nil, fmt.Errorf("document failed schema validation: %w", err)
	}

	var docEntries map[string]repoEntry
	if err := yaml.Unmarshal(data, &docEntries); err != nil {
		return nil, fmt.Errorf("failed to decode document: %w", err)
	}

	repos := make(map[string]entities.RepoConfig, len(docEntries))
	for id, docEntry := range docEntries {
		repo, err := docEntry.toRepoConfig(id)
		if err != nil {
			return nil, fmt.Errorf("entry %q: %w", id, err)
		}
		repos[repo.ID()] = repo
	}
	return repos, nil
}

// toRepoConfig builds the repository configuration, deriving owner and name
// from the entry key and rejecting entries that contradict their key
func (e repoEntry) toRepoConfig(id string) (entities.RepoConfig, error) {
	owner, name, ok := strings.Cut(id, "/")
	if !ok || owner == "" || name == "" {
		return entities.RepoConfig{}, fmt.Errorf("key must have the form owner/name")
	}
	if e.Owner != "" && e.Owner != owner {
		return entities.RepoConfig{}, fmt.Errorf("owner %q does not match the entry key", e.Owner)
	}
	if e.Name != "" && e.Name != name {
		return entities.RepoConfig{}, fmt.Errorf("name %q does not match the entry key", e.Name)
	}

	enabled := true
	if e.Enabled != nil {
		enabled = *e.Enabled
	}

	return entities.RepoConfig{
		Owner:   owner,
		Name:    name,
		Branch:  e.Branch,
		Subpath: e.Subpath,
		Enabled: enabled,
		Alias:   e.Alias,
	}, nil
}

func toJSONValue(v any) (any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}
