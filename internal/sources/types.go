// Package sources resolves the ordered list of configured repository
// sources into one merged repository map per category. Each source kind
// (local file, remote URL, builtin defaults) has its own handler; the
// resolver applies first-writer-wins precedence across them.
package sources

import (
	"context"
	"errors"

	"github.com/curio-sh/curio/internal/entities"
)

// Source kinds, in the priority order callers conventionally list them
const (
	// KindLocal is a repository document on the local filesystem
	KindLocal = "local"

	// KindRemote is a repository document fetched over HTTP(S)
	KindRemote = "remote"

	// KindBuiltin is a default repository document compiled into the
	// binary; its location names the embedded default set
	KindBuiltin = "builtin"
)

// ErrSourceUnavailable classifies a source that could not be reached this
// run. The resolver logs and skips such sources; it never aborts on them.
var ErrSourceUnavailable = errors.New("source unavailable")

// SourceSpec names one place to load repository configuration from
type SourceSpec struct {
	// Kind selects the handler: local, remote, or builtin
	Kind string `yaml:"kind" json:"kind"`

	// Location is a file path, an http(s) URL, or a builtin set name,
	// depending on Kind
	Location string `yaml:"location" json:"location"`
}

// String renders the spec for logs
func (s SourceSpec) String() string {
	return s.Kind + ":" + s.Location
}

// Handler loads repository documents for one source kind
type Handler interface {
	// Load retrieves the source's document, validates it, and returns the
	// repositories it declares, keyed by owner/name
	Load(ctx context.Context, spec SourceSpec) (map[string]entities.RepoConfig, error)

	// Validate checks the spec shape before any I/O happens
	Validate(spec SourceSpec) error
}

// HandlerFactory hands out the handler for a source kind
type HandlerFactory interface {
	// HandlerFor returns the handler for the given source kind
	HandlerFor(kind string) (Handler, error)
}

// Resolver merges repository configuration from an ordered source list
type Resolver interface {
	// Resolve processes specs in priority order and merges their documents
	// first-writer-wins. It never fails: unusable sources are skipped and
	// an empty map is a valid outcome.
	Resolve(ctx context.Context, specs []SourceSpec) map[string]entities.RepoConfig
}
