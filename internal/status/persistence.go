// Package status tracks and persists per-category discovery run status.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/curio-sh/curio/internal/entities"
)

// Persistence defines the interface for run status persistence
type Persistence interface {
	// Save saves the run status for a category
	Save(ctx context.Context, category entities.Category, runStatus *RunStatus) error

	// Load loads the run status for a category. Returns an empty RunStatus
	// if none has been saved yet (first run).
	Load(ctx context.Context, category entities.Category) (*RunStatus, error)

	// LoadAll loads the run status of every known category
	LoadAll(ctx context.Context) (map[entities.Category]*RunStatus, error)

	// ResetInterrupted marks statuses left in the running phase by a
	// previous process as failed, and returns the categories it touched.
	// Called once at startup, before any new run begins.
	ResetInterrupted(ctx context.Context) ([]entities.Category, error)
}

// filePersistence implements Persistence on the local filesystem, one JSON
// file per category
type filePersistence struct {
	dir string
}

var _ Persistence = (*filePersistence)(nil)

// NewFilePersistence creates a file-based status persistence rooted at dir
func NewFilePersistence(dir string) Persistence {
	return &filePersistence{dir: dir}
}

// Save implements Persistence. The write is atomic: a temporary file is
// renamed into place.
func (f *filePersistence) Save(_ context.Context, category entities.Category, runStatus *RunStatus) error {
	if err := os.MkdirAll(f.dir, 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	data, err := json.MarshalIndent(runStatus, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s status: %w", category, err)
	}

	filePath := f.path(category)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary %s status file: %w", category, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s status file: %w", category, err)
	}
	return nil
}

// Load implements Persistence
func (f *filePersistence) Load(_ context.Context, category entities.Category) (*RunStatus, error) {
	data, err := os.ReadFile(f.path(category))
	if err != nil {
		if os.IsNotExist(err) {
			return &RunStatus{}, nil
		}
		return nil, fmt.Errorf("failed to read %s status file: %w", category, err)
	}

	var runStatus RunStatus
	if err := json.Unmarshal(data, &runStatus); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s status: %w", category, err)
	}
	return &runStatus, nil
}

// LoadAll implements Persistence
func (f *filePersistence) LoadAll(ctx context.Context) (map[entities.Category]*RunStatus, error) {
	result := make(map[entities.Category]*RunStatus, len(entities.Categories()))
	for _, category := range entities.Categories() {
		runStatus, err := f.Load(ctx, category)
		if err != nil {
			return nil, err
		}
		result[category] = runStatus
	}
	return result, nil
}

// ResetInterrupted implements Persistence
func (f *filePersistence) ResetInterrupted(ctx context.Context) ([]entities.Category, error) {
	var reset []entities.Category
	for _, category := range entities.Categories() {
		runStatus, err := f.Load(ctx, category)
		if err != nil {
			return reset, err
		}
		if runStatus.Phase != PhaseRunning {
			continue
		}

		runStatus.Phase = PhaseFailed
		runStatus.Message = "interrupted: a previous run did not finish"
		if err := f.Save(ctx, category, runStatus); err != nil {
			return reset, err
		}
		reset = append(reset, category)
	}
	return reset, nil
}

func (f *filePersistence) path(category entities.Category) string {
	return filepath.Join(f.dir, string(category)+".json")
}
