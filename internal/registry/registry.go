// Package registry persists discovered entities and owns the user-mutable
// installed flag across discovery runs. One JSON file per category keeps
// categories independent on disk.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/gofrs/flock"

	"github.com/curio-sh/curio/internal/entities"
)

// ErrPersistence classifies registry read and write failures. Unlike fetch
// or parse errors these are fatal to a run: on-disk state consistency is at
// risk.
var ErrPersistence = errors.New("registry persistence failed")

// ErrNotFound reports a key absent from the persisted registry
var ErrNotFound = errors.New("entity not found")

// Registry is the durable store of discovered entities. It is safe for
// concurrent use across processes: mutations take a per-category file lock
// and writes go through a temporary file renamed into place.
type Registry struct {
	dir string
	now func() time.Time
}

// Option configures a Registry
type Option func(*Registry)

// WithClock overrides the time source used to stamp merged entities
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		r.now = now
	}
}

// New creates a registry rooted at dir. The directory is created on first
// save.
func New(dir string, opts ...Option) *Registry {
	r := &Registry{
		dir: dir,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Load reads the persisted entities for category, keyed by entity key.
// A registry that has never been saved yields an empty map.
func (r *Registry) Load(category entities.Category) (map[string]entities.Entity, error) {
	data, err := os.ReadFile(r.path(category))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]entities.Entity{}, nil
		}
		return nil, fmt.Errorf("%w: failed to read %s registry: %w", ErrPersistence, category, err)
	}

	var entries map[string]entities.Entity
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: corrupt %s registry: %w", ErrPersistence, category, err)
	}
	if entries == nil {
		entries = map[string]entities.Entity{}
	}
	return entries, nil
}

// Merge combines freshly discovered entities with the previously persisted
// map. Descriptive fields come from the fresh copy; Installed carries
// forward for keys present in both. Keys present only in previous are
// retained untouched, so a repository unreachable this run loses nothing;
// deletion stays an explicit operation. Duplicate keys within fresh keep the
// first occurrence.
func (r *Registry) Merge(fresh []entities.Entity, previous map[string]entities.Entity) map[string]entities.Entity {
	merged := make(map[string]entities.Entity, len(previous)+len(fresh))
	for key, e := range previous {
		merged[key] = e
	}

	seen := make(map[string]bool, len(fresh))
	for _, e := range fresh {
		if seen[e.Key] {
			continue
		}
		seen[e.Key] = true

		e.UpdatedAt = r.now().UTC()
		if prev, ok := previous[e.Key]; ok {
			e.Installed = prev.Installed
			if sameDescriptive(e, prev) {
				e.UpdatedAt = prev.UpdatedAt
			}
		}
		merged[e.Key] = e
	}
	return merged
}

// Save persists the category's entities atomically under the category lock
func (r *Registry) Save(category entities.Category, entries map[string]entities.Entity) error {
	unlock, err := r.lock(category)
	if err != nil {
		return err
	}
	defer unlock()

	return r.write(category, entries)
}

// SetInstalled flips the installed flag for one key and persists the result
func (r *Registry) SetInstalled(category entities.Category, key string, installed bool) error {
	return r.update(category, func(entries map[string]entities.Entity) (bool, error) {
		e, ok := entries[key]
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if e.Installed == installed {
			return false, nil
		}
		e.Installed = installed
		entries[key] = e
		return true, nil
	})
}

// SyncInstalled reconciles installed flags against externally observed
// state. observed carries what the installer actually found on disk, either
// as full registry keys or as bare leaf names; entities matching neither are
// marked not installed. Returns the number of entities whose flag changed.
func (r *Registry) SyncInstalled(category entities.Category, observed []string) (int, error) {
	names := make(map[string]bool, len(observed))
	for _, name := range observed {
		names[name] = true
	}

	changed := 0
	err := r.update(category, func(entries map[string]entities.Entity) (bool, error) {
		for key, e := range entries {
			want := names[key] || names[entities.Leaf(key)]
			if e.Installed == want {
				continue
			}
			e.Installed = want
			entries[key] = e
			changed++
		}
		return changed > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return changed, nil
}

// Delete removes one key from the persisted registry
func (r *Registry) Delete(category entities.Category, key string) error {
	return r.update(category, func(entries map[string]entities.Entity) (bool, error) {
		if _, ok := entries[key]; !ok {
			return false, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		delete(entries, key)
		return true, nil
	})
}

// update runs a read-modify-write cycle under the category lock. fn reports
// whether it changed anything; unchanged registries are not rewritten.
func (r *Registry) update(category entities.Category, fn func(map[string]entities.Entity) (bool, error)) error {
	unlock, err := r.lock(category)
	if err != nil {
		return err
	}
	defer unlock()

	entries, err := r.Load(category)
	if err != nil {
		return err
	}

	changed, err := fn(entries)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	return r.write(category, entries)
}

func (r *Registry) lock(category entities.Category) (func(), error) {
	if err := os.MkdirAll(r.dir, 0750); err != nil {
		return nil, fmt.Errorf("%w: failed to create registry directory: %w", ErrPersistence, err)
	}

	fileLock := flock.New(r.lockPath(category))
	if err := fileLock.Lock(); err != nil {
		return nil, fmt.Errorf("%w: failed to acquire %s registry lock: %w", ErrPersistence, category, err)
	}
	return func() {
		_ = fileLock.Unlock()
	}, nil
}

// write marshals and atomically replaces the category file. Callers hold the
// category lock.
func (r *Registry) write(category entities.Category, entries map[string]entities.Entity) error {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: failed to marshal %s registry: %w", ErrPersistence, category, err)
	}

	filePath := r.path(category)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("%w: failed to write temporary %s registry: %w", ErrPersistence, category, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: failed to replace %s registry: %w", ErrPersistence, category, err)
	}
	return nil
}

func (r *Registry) path(category entities.Category) string {
	return filepath.Join(r.dir, string(category)+".json")
}

func (r *Registry) lockPath(category entities.Category) string {
	return filepath.Join(r.dir, string(category)+".lock")
}

// sameDescriptive reports whether two entities differ only in
// registry-owned fields, so an unchanged entity keeps its UpdatedAt stamp
func sameDescriptive(a, b entities.Entity) bool {
	return a.Name == b.Name &&
		a.Description == b.Description &&
		a.Category == b.Category &&
		a.SourceOwner == b.SourceOwner &&
		a.SourceRepo == b.SourceRepo &&
		a.SourceBranch == b.SourceBranch &&
		a.Color == b.Color &&
		slices.Equal(a.Tools, b.Tools)
}
