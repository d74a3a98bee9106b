package entities

import (
	"errors"
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
	"github.com/tidwall/gjson"

	"github.com/curio-sh/curio/internal/versions"
)

// MarketplacePath is the fixed repository-relative location of a plugin
// marketplace descriptor
const MarketplacePath = ".claude-plugin/marketplace.json"

// ScanMarketplace reads the repository's marketplace descriptor and parses
// it. Repositories without a descriptor yield (nil, nil): not every
// configured repository publishes a marketplace.
func ScanMarketplace(fsys billy.Filesystem, repo RepoConfig, branch string) (*MarketplaceInfo, error) {
	descriptorPath := path.Join("/", repo.Subpath, MarketplacePath)

	content, err := util.ReadFile(fsys, descriptorPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", MarketplacePath, err)
	}

	return ParseMarketplace(content, repo, branch)
}

// ParseMarketplace extracts marketplace metadata and the plugin list from a
// descriptor document. Extraction is tolerant: unknown fields are ignored
// and plugin entries missing optional fields still load. Entries without a
// name are dropped.
func ParseMarketplace(content []byte, repo RepoConfig, branch string) (*MarketplaceInfo, error) {
	if !gjson.ValidBytes(content) {
		return nil, fmt.Errorf("marketplace descriptor is not valid JSON")
	}
	doc := gjson.ParseBytes(content)

	name := strings.TrimSpace(doc.Get("name").String())
	if name == "" {
		name = repo.ID()
	}

	description := strings.TrimSpace(doc.Get("metadata.description").String())
	if description == "" {
		description = strings.TrimSpace(doc.Get("description").String())
	}

	var plugins []PluginEntry
	index := make(map[string]int)
	doc.Get("plugins").ForEach(func(_, value gjson.Result) bool {
		entry := PluginEntry{
			Name:        strings.TrimSpace(value.Get("name").String()),
			Description: strings.TrimSpace(value.Get("description").String()),
			Version:     normalizeVersion(value.Get("version").String()),
			Source:      pluginSource(value.Get("source")),
		}
		if entry.Name == "" {
			return true
		}
		if i, seen := index[entry.Name]; seen {
			// Descriptors occasionally list a plugin twice; the newer
			// version wins
			if versions.IsNewerVersion(entry.Version, plugins[i].Version) {
				plugins[i] = entry
			}
			return true
		}
		index[entry.Name] = len(plugins)
		plugins = append(plugins, entry)
		return true
	})

	return &MarketplaceInfo{
		ResolvedName: name,
		Description:  description,
		Plugins:      plugins,
		Repo:         repo,
		Branch:       branch,
	}, nil
}

// pluginSource renders a plugin source reference as a display string. The
// field is either a relative path string or an object naming an external
// repository.
func pluginSource(value gjson.Result) string {
	switch {
	case value.Type == gjson.String:
		return value.String()
	case value.IsObject():
		if repo := value.Get("repo").String(); repo != "" {
			return repo
		}
		return value.Get("source").String()
	default:
		return ""
	}
}

// normalizeVersion canonicalizes semver-ish version strings ("v1.2" becomes
// "1.2.0") and passes anything unparseable through unchanged.
func normalizeVersion(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parsed, err := semver.NewVersion(v)
	if err != nil {
		return v
	}
	return parsed.String()
}
