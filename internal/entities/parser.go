package entities

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/util"
)

// Parser turns descriptor files from a materialized repository into entities.
// Implementations exist per category; they are pure and safe for concurrent
// use across repositories.
type Parser interface {
	// Category reports which entity category this parser produces
	Category() Category

	// Matches reports whether the repository-relative path names a
	// descriptor file this parser understands
	Matches(relPath string) bool

	// Parse converts one descriptor file into an entity. Returning a nil
	// entity with a nil error means the file was deliberately skipped.
	Parse(relPath string, content []byte, repo RepoConfig, branch string) (*Entity, error)
}

// ParserFor returns the descriptor parser for a file-scanned category.
// Plugin marketplaces are repository-level descriptors handled by
// ScanMarketplace and have no per-file parser.
func ParserFor(category Category) (Parser, error) {
	switch category {
	case CategorySkills:
		return NewSkillParser(), nil
	case CategoryAgents:
		return NewAgentParser(), nil
	default:
		return nil, fmt.Errorf("no file parser for category %q", category)
	}
}

// Scan walks the checkout filesystem under the repository's subpath and
// parses every descriptor file the parser matches. A descriptor that fails
// to parse is logged and skipped so a single malformed file cannot hide the
// rest of the repository. A missing subpath yields no entities rather than
// an error.
func Scan(fsys billy.Filesystem, repo RepoConfig, branch string, parser Parser) ([]Entity, error) {
	root := path.Clean("/" + repo.Subpath)

	var found []Entity
	err := util.Walk(fsys, root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			if p == root && errors.Is(err, os.ErrNotExist) {
				slog.Debug("Scan subpath not present in repository",
					"repo", repo.ID(),
					"subpath", repo.Subpath)
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		rel := strings.TrimPrefix(path.Clean(p), "/")
		if !parser.Matches(rel) {
			return nil
		}

		content, err := util.ReadFile(fsys, p)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", rel, err)
		}

		entity, err := parser.Parse(rel, content, repo, branch)
		if err != nil {
			slog.Warn("Skipping unparseable descriptor",
				"repo", repo.ID(),
				"path", rel,
				"error", err)
			return nil
		}
		if entity != nil {
			found = append(found, *entity)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk repository files: %w", err)
	}

	return found, nil
}

// splitFrontmatter separates a leading YAML metadata block from the document
// body. The block must open with a "---" line at the very top of the file
// and close with a matching "---" line.
func splitFrontmatter(content []byte) (meta, body []byte, ok bool) {
	text := strings.TrimPrefix(string(content), "\uFEFF")
	lines := strings.SplitAfter(text, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != "---" {
		return nil, content, false
	}

	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			meta = []byte(strings.Join(lines[1:i], ""))
			body = []byte(strings.Join(lines[i+1:], ""))
			return meta, body, true
		}
	}

	return nil, content, false
}

// leafDir returns the name of the directory that directly contains the
// descriptor file. Descriptors at the repository root fall back to the
// repository name so the resulting key still has a usable leaf component.
func leafDir(relPath string, repo RepoConfig) string {
	dir := path.Dir(relPath)
	if dir == "." || dir == "/" {
		return repo.Name
	}
	return path.Base(dir)
}
