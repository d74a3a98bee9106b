// Package config provides configuration loading and management for curio.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"

	"github.com/curio-sh/curio/internal/cache"
	"github.com/curio-sh/curio/internal/entities"
	"github.com/curio-sh/curio/internal/sources"
)

const (
	// appDirName is the directory name used under the XDG base directories
	appDirName = "curio"

	// EnvPrefix is the prefix for environment variables overriding CLI flags
	EnvPrefix = "CURIO"

	// DefaultWorkers bounds the discovery worker pool when unconfigured
	DefaultWorkers = 8

	// DefaultTimeout bounds one whole discovery run when unconfigured
	DefaultTimeout = 10 * time.Minute

	// DefaultInterval is the watch-mode rerun interval when unconfigured
	DefaultInterval = 30 * time.Minute
)

// Option defines the interface for configuration options
type Option func(*loaderConfig) error

// loaderConfig defines the configuration for loading a configuration
type loaderConfig struct {
	path string
}

// WithConfigPath loads configuration from a YAML file
func WithConfigPath(path string) Option {
	return func(cfg *loaderConfig) error {
		if path == "" {
			return fmt.Errorf("path is required")
		}

		// Resolve symlinks to prevent symlink attacks.
		// Note that this calls filepath.Clean internally.
		realPath, err := filepath.EvalSymlinks(path)
		if err != nil {
			return fmt.Errorf("failed to evaluate symlinks: %w", err)
		}

		// Validate the path to prevent path traversal attacks
		if !filepath.IsAbs(realPath) {
			if !filepath.IsLocal(realPath) {
				return fmt.Errorf("path is not local or contains invalid traversal: %s", path)
			}
		}

		cfg.path = realPath
		return nil
	}
}

// Config represents the root configuration structure
type Config struct {
	// Categories maps a category name (skills, agents, plugins) to its
	// ordered source list
	Categories map[string]CategoryConfig `yaml:"categories,omitempty"`

	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Storage   StorageConfig   `yaml:"storage,omitempty"`
	Discovery DiscoveryConfig `yaml:"discovery,omitempty"`
}

// CategoryConfig defines the source list for one entity category
type CategoryConfig struct {
	// Sources are processed in order; earlier sources win conflicting
	// repository entries
	Sources []sources.SourceSpec `yaml:"sources"`
}

// CacheConfig defines the payload cache settings
type CacheConfig struct {
	// Dir overrides the cache directory (default: XDG cache home)
	Dir string `yaml:"dir,omitempty"`

	// ConfigTTL is the freshness window for source documents (e.g. "1h")
	ConfigTTL string `yaml:"configTTL,omitempty"`

	// RepoTTL is the freshness window for per-repository descriptor
	// fetches (e.g. "15m")
	RepoTTL string `yaml:"repoTTL,omitempty"`
}

// StorageConfig defines where persistent state lives
type StorageConfig struct {
	// Dir overrides the data directory holding the entity registry and
	// run status files (default: XDG data home)
	Dir string `yaml:"dir,omitempty"`
}

// DiscoveryConfig defines discovery run behavior
type DiscoveryConfig struct {
	// Workers bounds the parallel repository scans per run
	Workers int `yaml:"workers,omitempty"`

	// Timeout bounds one whole discovery run (e.g. "10m")
	Timeout string `yaml:"timeout,omitempty"`

	// Interval is the watch-mode rerun interval (e.g. "30m")
	Interval string `yaml:"interval,omitempty"`

	// FallbackBranches overrides the branch names tried when the
	// requested branch is absent
	FallbackBranches []string `yaml:"fallbackBranches,omitempty"`
}

// LoadConfig loads and parses configuration from a YAML file. Without a
// path option it returns the defaults: curio runs with no config file at
// all, backed by the builtin sources.
func LoadConfig(opts ...Option) (*Config, error) {
	loaderCfg := &loaderConfig{}
	for _, opt := range opts {
		if err := opt(loaderCfg); err != nil {
			return nil, err
		}
	}

	if loaderCfg.path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(loaderCfg.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Default returns the configuration used when no config file exists
func Default() *Config {
	return &Config{}
}

// GetSources returns the ordered source list for a category. Categories
// without configured sources fall back to the conventional local file under
// the config directory plus the builtin defaults.
func (c *Config) GetSources(category entities.Category) []sources.SourceSpec {
	if categoryCfg, ok := c.Categories[string(category)]; ok && len(categoryCfg.Sources) > 0 {
		return categoryCfg.Sources
	}
	return []sources.SourceSpec{
		{Kind: sources.KindLocal, Location: filepath.Join(xdg.ConfigHome, appDirName, string(category)+".yaml")},
		{Kind: sources.KindBuiltin, Location: string(category)},
	}
}

// GetCacheDir returns the cache directory, defaulting under the XDG cache
// home
func (c *Config) GetCacheDir() string {
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(xdg.CacheHome, appDirName)
}

// GetDataDir returns the data directory, defaulting under the XDG data home
func (c *Config) GetDataDir() string {
	if c.Storage.Dir != "" {
		return c.Storage.Dir
	}
	return filepath.Join(xdg.DataHome, appDirName)
}

// GetConfigTTL returns the freshness window for source documents
func (c *Config) GetConfigTTL() time.Duration {
	return durationOr(c.Cache.ConfigTTL, cache.DefaultConfigTTL)
}

// GetRepoTTL returns the freshness window for repository descriptor fetches
func (c *Config) GetRepoTTL() time.Duration {
	return durationOr(c.Cache.RepoTTL, cache.DefaultRepoTTL)
}

// GetWorkers returns the discovery worker bound
func (c *Config) GetWorkers() int {
	if c.Discovery.Workers > 0 {
		return c.Discovery.Workers
	}
	return DefaultWorkers
}

// GetTimeout returns the whole-run discovery deadline
func (c *Config) GetTimeout() time.Duration {
	return durationOr(c.Discovery.Timeout, DefaultTimeout)
}

// GetInterval returns the watch-mode rerun interval
func (c *Config) GetInterval() time.Duration {
	return durationOr(c.Discovery.Interval, DefaultInterval)
}

// GetFallbackBranches returns the configured branch fallbacks, or nil to use
// the fetcher's defaults
func (c *Config) GetFallbackBranches() []string {
	return c.Discovery.FallbackBranches
}

func durationOr(value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return d
}

// validate performs validation on the configuration
func (c *Config) validate() error {
	if c == nil {
		return fmt.Errorf("config cannot be nil")
	}

	for name, categoryCfg := range c.Categories {
		if _, err := entities.ParseCategory(name); err != nil {
			return fmt.Errorf("categories[%s]: %w", name, err)
		}
		if err := validateSources(name, categoryCfg.Sources); err != nil {
			return err
		}
	}

	if err := validateDuration("cache.configTTL", c.Cache.ConfigTTL); err != nil {
		return err
	}
	if err := validateDuration("cache.repoTTL", c.Cache.RepoTTL); err != nil {
		return err
	}

	if c.Discovery.Workers < 0 {
		return fmt.Errorf("discovery.workers must not be negative, got %d", c.Discovery.Workers)
	}
	if err := validateDuration("discovery.timeout", c.Discovery.Timeout); err != nil {
		return err
	}
	if err := validateDuration("discovery.interval", c.Discovery.Interval); err != nil {
		return err
	}

	return nil
}

// validateSources validates one category's source list
func validateSources(category string, specs []sources.SourceSpec) error {
	for i, spec := range specs {
		prefix := fmt.Sprintf("categories[%s].sources[%d]", category, i)

		switch spec.Kind {
		case sources.KindLocal, sources.KindRemote, sources.KindBuiltin:
		default:
			return fmt.Errorf("%s: kind must be one of local, remote, builtin, got %q", prefix, spec.Kind)
		}
		if spec.Location == "" {
			return fmt.Errorf("%s: location is required", prefix)
		}
	}
	return nil
}

// validateDuration ensures a duration field parses when set
func validateDuration(field, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s must be a valid duration (e.g., '30m', '1h'): %w", field, err)
	}
	return nil
}
