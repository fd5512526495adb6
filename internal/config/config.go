// Package config holds the engine's YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration.
type Config struct {
	Source   SourceConfig   `yaml:"source"`
	Cache    CacheConfig    `yaml:"cache"`
	Resolver ResolverConfig `yaml:"resolver"`
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// SourceConfig locates the rule hierarchy on disk.
type SourceConfig struct {
	Root       string   `yaml:"root"`
	Extensions []string `yaml:"extensions"`
	Watch      bool     `yaml:"watch"`
}

// CacheConfig sizes the composition cache.
type CacheConfig struct {
	MaxSize int           `yaml:"max_size"`
	TTL     time.Duration `yaml:"ttl"`
}

// ResolverConfig tunes convention-based parent lookup.
type ResolverConfig struct {
	CandidatePatterns []string `yaml:"candidate_patterns"`
}

// SnapshotConfig controls the persistent snapshot sidecar.
type SnapshotConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Default returns the stock configuration rooted at the current
// directory.
func Default() *Config {
	cfg := &Config{Source: SourceConfig{Root: "."}}
	cfg.ApplyDefaults()
	return cfg
}

// Load reads, parses, defaults, and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	return &cfg, nil
}

// ApplyDefaults fills unset fields with working values.
func (c *Config) ApplyDefaults() {
	if c.Source.Root == "" {
		c.Source.Root = "."
	}
	if c.Cache.MaxSize == 0 {
		c.Cache.MaxSize = 100
	}
	if c.Cache.TTL == 0 {
		c.Cache.TTL = time.Hour
	}
	if len(c.Resolver.CandidatePatterns) == 0 {
		c.Resolver.CandidatePatterns = []string{"index", "base", "parent", "_base"}
	}
	if c.Snapshot.Enabled && c.Snapshot.Path == "" {
		c.Snapshot.Path = "rulegraph-snapshots.db"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Cache.MaxSize < 0 {
		return fmt.Errorf("cache.max_size must not be negative, got %d", c.Cache.MaxSize)
	}
	if c.Cache.TTL < 0 {
		return fmt.Errorf("cache.ttl must not be negative, got %s", c.Cache.TTL)
	}
	if c.Source.Root == "" {
		return fmt.Errorf("source.root is required")
	}
	for _, p := range c.Resolver.CandidatePatterns {
		if p == "" {
			return fmt.Errorf("resolver.candidate_patterns must not contain empty entries")
		}
	}
	return nil
}
