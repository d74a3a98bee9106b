package sources

import (
	"context"
	"fmt"
	"os"

	"github.com/curio-sh/curio/internal/entities"
)

// localHandler loads source documents from files on disk
type localHandler struct {
	validator DocumentValidator
}

var _ Handler = (*localHandler)(nil)

// NewLocalHandler creates a handler for local file sources
func NewLocalHandler() Handler {
	return &localHandler{
		validator: NewDocumentValidator(),
	}
}

// Validate implements Handler
func (*localHandler) Validate(spec SourceSpec) error {
	if spec.Kind != KindLocal {
		return fmt.Errorf("source kind must be %q, got %q", KindLocal, spec.Kind)
	}
	if spec.Location == "" {
		return fmt.Errorf("local source requires a file path")
	}
	return nil
}

// Load implements Handler
func (h *localHandler) Load(_ context.Context, spec SourceSpec) (map[string]entities.RepoConfig, error) {
	if err := h.Validate(spec); err != nil {
		return nil, fmt.Errorf("source validation failed: %w", err)
	}

	//nolint:gosec // The path comes from user configuration, this is expected behavior
	data, err := os.ReadFile(spec.Location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: file not found: %s", ErrSourceUnavailable, spec.Location)
		}
		return nil, fmt.Errorf("%w: failed to read %s: %w", ErrSourceUnavailable, spec.Location, err)
	}

	repos, err := h.validator.ValidateDocument(data)
	if err != nil {
		return nil, fmt.Errorf("invalid document %s: %w", spec.Location, err)
	}
	return repos, nil
}
