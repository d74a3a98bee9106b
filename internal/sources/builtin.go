package sources

import (
	"context"
	"embed"
	"fmt"
	"path"

	"github.com/curio-sh/curio/internal/entities"
)

//go:embed defaults/*.yaml
var builtinDefaults embed.FS

// builtinHandler serves the repository defaults compiled into the binary.
// The source location names the embedded default set (one per category), so
// builtin sources need no I/O and always resolve.
type builtinHandler struct {
	validator DocumentValidator
}

var _ Handler = (*builtinHandler)(nil)

// NewBuiltinHandler creates a handler for builtin default sources
func NewBuiltinHandler() Handler {
	return &builtinHandler{
		validator: NewDocumentValidator(),
	}
}

// Validate implements Handler
func (*builtinHandler) Validate(spec SourceSpec) error {
	if spec.Kind != KindBuiltin {
		return fmt.Errorf("source kind must be %q, got %q", KindBuiltin, spec.Kind)
	}
	if spec.Location == "" {
		return fmt.Errorf("builtin source requires a default set name")
	}
	return nil
}

// Load implements Handler
func (h *builtinHandler) Load(_ context.Context, spec SourceSpec) (map[string]entities.RepoConfig, error) {
	if err := h.Validate(spec); err != nil {
		return nil, fmt.Errorf("source validation failed: %w", err)
	}

	data, err := builtinDefaults.ReadFile(path.Join("defaults", spec.Location+".yaml"))
	if err != nil {
		return nil, fmt.Errorf("%w: no builtin defaults named %q", ErrSourceUnavailable, spec.Location)
	}

	repos, err := h.validator.ValidateDocument(data)
	if err != nil {
		return nil, fmt.Errorf("invalid builtin defaults %q: %w", spec.Location, err)
	}
	return repos, nil
}
