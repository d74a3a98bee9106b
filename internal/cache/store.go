// Package cache provides the durable TTL-governed store for fetched payloads.
// One file per key keeps a single corrupted entry from invalidating the rest
// of the cache.
package cache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

const (
	// DefaultConfigTTL is the freshness window for source configuration documents
	DefaultConfigTTL = 1 * time.Hour

	// DefaultRepoTTL is the freshness window for per-repository descriptor fetches
	DefaultRepoTTL = 15 * time.Minute

	// entrySuffix is appended to every cache key on disk
	entrySuffix = ".json"

	// lockFileName guards cross-process writers sharing one cache directory
	lockFileName = ".lock"
)

var keySanitizer = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

// Key derives a deterministic, filesystem-safe cache key from its parts.
// The same parts always produce the same key.
func Key(parts ...string) string {
	joined := strings.Join(parts, "_")
	return keySanitizer.ReplaceAllString(joined, "_")
}

// entry is the on-disk envelope for one cached payload
type entry struct {
	Payload   []byte    `json:"payload"`
	FetchedAt time.Time `json:"fetched_at"`
}

// EntryInfo describes one cache entry for maintenance surfaces
type EntryInfo struct {
	Key       string    `json:"key"`
	Size      int64     `json:"size"`
	FetchedAt time.Time `json:"fetched_at"`
	Fresh     bool      `json:"fresh"`
}

// Store is a file-backed TTL cache. It is safe for concurrent use by
// multiple goroutines, and writes are serialized across processes with a
// directory-level file lock.
type Store struct {
	dir string
	ttl time.Duration
	now func() time.Time

	mu sync.RWMutex
}

// Option configures a Store
type Option func(*Store)

// WithClock overrides the time source, for deterministic freshness tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// NewStore creates a cache store rooted at dir with the given freshness
// window. The directory is created on first write.
func NewStore(dir string, ttl time.Duration, opts ...Option) *Store {
	s := &Store{
		dir: dir,
		ttl: ttl,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the cached payload for key. fresh reports whether the entry is
// within its TTL; ok reports whether any entry exists at all. An expired
// entry is still returned so callers can apply stale-if-error fallback.
func (s *Store) Get(key string) (payload []byte, fresh bool, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.entryPath(key))
	if err != nil {
		return nil, false, false
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is a miss; drop it so it cannot recur.
		slog.Warn("Removing corrupt cache entry", "key", key, "error", err)
		_ = os.Remove(s.entryPath(key))
		return nil, false, false
	}

	age := s.now().Sub(e.FetchedAt)
	return e.Payload, age <= s.ttl, true
}

// Put stores payload under key, stamping it with the current time.
// The write is atomic: a temporary file is renamed into place.
func (s *Store) Put(key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0750); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	fileLock := flock.New(filepath.Join(s.dir, lockFileName))
	if err := fileLock.Lock(); err != nil {
		return fmt.Errorf("failed to acquire cache lock: %w", err)
	}
	defer func() {
		_ = fileLock.Unlock()
	}()

	e := entry{
		Payload:   payload,
		FetchedAt: s.now(),
	}
	data, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry for key '%s': %w", key, err)
	}

	filePath := s.entryPath(key)
	tempPath := filePath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary cache entry for key '%s': %w", key, err)
	}

	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename cache entry for key '%s': %w", key, err)
	}

	return nil
}

// Invalidate removes the entry for key. Removing a missing entry is not an
// error.
func (s *Store) Invalidate(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.entryPath(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove cache entry for key '%s': %w", key, err)
	}
	return nil
}

// Purge removes every entry in the store and returns the number removed
func (s *Store) Purge() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read cache directory: %w", err)
	}

	removed := 0
	for _, dirEntry := range entries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), entrySuffix) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, dirEntry.Name())); err != nil {
			return removed, fmt.Errorf("failed to remove cache entry '%s': %w", dirEntry.Name(), err)
		}
		removed++
	}
	return removed, nil
}

// Info lists every entry in the store with size and freshness
func (s *Store) Info() ([]EntryInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cache directory: %w", err)
	}

	var infos []EntryInfo
	for _, dirEntry := range dirEntries {
		if dirEntry.IsDir() || !strings.HasSuffix(dirEntry.Name(), entrySuffix) {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, dirEntry.Name()))
		if err != nil {
			continue
		}
		var e entry
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}

		infos = append(infos, EntryInfo{
			Key:       strings.TrimSuffix(dirEntry.Name(), entrySuffix),
			Size:      int64(len(data)),
			FetchedAt: e.FetchedAt,
			Fresh:     s.now().Sub(e.FetchedAt) <= s.ttl,
		})
	}
	return infos, nil
}

func (s *Store) entryPath(key string) string {
	return filepath.Join(s.dir, Key(key)+entrySuffix)
}
