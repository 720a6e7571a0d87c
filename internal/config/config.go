// Package config loads tangram's enumerated configuration keys (spec
// §6: process.max_depth, advanced.shared_directory,
// advanced.internal_error_locations, store.kind, index.kind, ttl) from
// YAML, mirroring theRebelliousNerd/codenerd's internal/config: a
// defaulted struct, gopkg.in/yaml.v3 Unmarshal over it, then
// environment overrides. Unlike codenerd's single config file, the
// global/repo merge precedence (global at ~/.tangramconfig, repo at
// .tangram/config, repo wins) is kept from the teacher's own
// internal/config, since nothing in the distilled spec says to drop it.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// BackendKind enumerates the store/index backend selector (spec §6).
type BackendKind string

const (
	BackendMemory   BackendKind = "memory"
	BackendLMDB     BackendKind = "lmdb"
	BackendSQLite   BackendKind = "sqlite"
	BackendPostgres BackendKind = "postgres"
	BackendScylla   BackendKind = "scylla"
	BackendS3       BackendKind = "s3"
)

// ValidBackendKinds lists every backend kind accepted for store.kind and
// index.kind.
var ValidBackendKinds = []BackendKind{
	BackendMemory, BackendLMDB, BackendSQLite, BackendPostgres, BackendScylla, BackendS3,
}

func validBackendKind(k BackendKind) bool {
	for _, v := range ValidBackendKinds {
		if v == k {
			return true
		}
	}
	return false
}

// BackendConfig holds the per-kind fields a store or index backend needs.
// Which fields apply depends on Kind: lmdb/sqlite read Path, postgres/
// scylla/s3 read Addr+Credentials(+Keyspace for scylla, +Schema for
// postgres), memory reads nothing.
type BackendConfig struct {
	Kind BackendKind `yaml:"kind"`

	Path        string `yaml:"path,omitempty"`
	Addr        string `yaml:"addr,omitempty"`
	Credentials string `yaml:"credentials,omitempty"`
	Keyspace    string `yaml:"keyspace,omitempty"`
	Schema      string `yaml:"schema,omitempty"`
	Bucket      string `yaml:"bucket,omitempty"`
}

// ProcessConfig bounds process-engine behavior (spec §4.8).
type ProcessConfig struct {
	MaxDepth int `yaml:"max_depth"`
}

// AdvancedConfig holds the low-level knobs spec §6 calls out individually
// rather than grouping under a backend or process section.
type AdvancedConfig struct {
	SharedDirectory        bool `yaml:"shared_directory"`
	InternalErrorLocations bool `yaml:"internal_error_locations"`
}

// Config is tangram's full enumerated configuration surface.
type Config struct {
	Process  ProcessConfig  `yaml:"process"`
	Advanced AdvancedConfig `yaml:"advanced"`
	Store    BackendConfig  `yaml:"store"`
	Index    BackendConfig  `yaml:"index"`

	// TTLSeconds is spec §6's ttl: older-than-ttl touch times become GC
	// eligible.
	TTLSeconds int64 `yaml:"ttl"`

	User UserConfig `yaml:"user"`
}

// UserConfig carries check-in authorship, unchanged in shape from the
// teacher's own config (kept because nothing in spec.md's Non-goals
// excludes it, and check-in records still need an author).
type UserConfig struct {
	Name  string `yaml:"name"`
	Email string `yaml:"email"`
}

// DefaultConfig returns sensible defaults: in-memory store and index, a
// conservative max_depth, and TTL of 30 days.
func DefaultConfig() *Config {
	return &Config{
		Process: ProcessConfig{MaxDepth: 64},
		Advanced: AdvancedConfig{
			SharedDirectory:        false,
			InternalErrorLocations: false,
		},
		Store:      BackendConfig{Kind: BackendMemory},
		Index:      BackendConfig{Kind: BackendMemory},
		TTLSeconds: 30 * 24 * 60 * 60,
	}
}

func globalConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: get home directory: %w", err)
	}
	return filepath.Join(home, ".tangramconfig"), nil
}

func repoConfigPath() string {
	return filepath.Join(".tangram", "config")
}

// Load starts from DefaultConfig and merges the global config file, then
// the repo-local one, over it with mergeConfig; a file that doesn't exist
// is skipped. Environment overrides are applied last.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if path, err := globalConfigPath(); err == nil {
		if err := mergeFile(cfg, path); err != nil {
			return nil, err
		}
	}
	if err := mergeFile(cfg, repoConfigPath()); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func mergeFile(dst *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var overlay Config
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	mergeConfig(dst, &overlay)
	return nil
}

// applyEnvOverrides lets a daemon override the on-disk store/index
// target without editing the config file, the common deploy-time need
// (point at a different Postgres/Scylla cluster per environment).
func (c *Config) applyEnvOverrides() {
	if addr := os.Getenv("TANGRAM_STORE_ADDR"); addr != "" {
		c.Store.Addr = addr
	}
	if addr := os.Getenv("TANGRAM_INDEX_ADDR"); addr != "" {
		c.Index.Addr = addr
	}
	if v := os.Getenv("TANGRAM_MAX_DEPTH"); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			c.Process.MaxDepth = n
		}
	}
}

// SaveGlobal writes cfg to the global config file.
func SaveGlobal(cfg *Config) error {
	path, err := globalConfigPath()
	if err != nil {
		return err
	}
	return save(cfg, path)
}

// SaveRepo writes cfg to the repo-local config file, creating .tangram/
// if needed.
func SaveRepo(cfg *Config) error {
	path := repoConfigPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("config: create %s: %w", filepath.Dir(path), err)
	}
	return save(cfg, path)
}

func save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Validate rejects a config whose store/index kind isn't one of the
// enumerated backends, or whose max_depth/ttl are non-positive.
func (c *Config) Validate() error {
	if !validBackendKind(c.Store.Kind) {
		return fmt.Errorf("config: store.kind %q not in %v", c.Store.Kind, ValidBackendKinds)
	}
	if !validBackendKind(c.Index.Kind) {
		return fmt.Errorf("config: index.kind %q not in %v", c.Index.Kind, ValidBackendKinds)
	}
	if c.Process.MaxDepth <= 0 {
		return fmt.Errorf("config: process.max_depth must be positive, got %d", c.Process.MaxDepth)
	}
	if c.TTLSeconds <= 0 {
		return fmt.Errorf("config: ttl must be positive, got %d", c.TTLSeconds)
	}
	return nil
}

// GetAuthor returns the "Name <email>" string check-in uses to stamp
// commits, unchanged in behavior from the teacher's config package.
func GetAuthor() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	if cfg.User.Name == "" || cfg.User.Email == "" {
		return "", fmt.Errorf("user.name and user.email not configured")
	}
	return fmt.Sprintf("%s <%s>", cfg.User.Name, cfg.User.Email), nil
}

// GetValue retrieves a dotted config key's value rendered as a string
// (e.g. "process.max_depth", "store.kind").
func GetValue(cfg *Config, key string) (string, error) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("config: invalid key %q (expected section.field)", key)
	}
	switch parts[0] {
	case "process":
		switch parts[1] {
		case "max_depth":
			return fmt.Sprintf("%d", cfg.Process.MaxDepth), nil
		}
	case "advanced":
		switch parts[1] {
		case "shared_directory":
			return fmt.Sprintf("%t", cfg.Advanced.SharedDirectory), nil
		case "internal_error_locations":
			return fmt.Sprintf("%t", cfg.Advanced.InternalErrorLocations), nil
		}
	case "store":
		switch parts[1] {
		case "kind":
			return string(cfg.Store.Kind), nil
		}
	case "index":
		switch parts[1] {
		case "kind":
			return string(cfg.Index.Kind), nil
		}
	case "user":
		switch parts[1] {
		case "name":
			return cfg.User.Name, nil
		case "email":
			return cfg.User.Email, nil
		}
	case "ttl":
		return fmt.Sprintf("%d", cfg.TTLSeconds), nil
	}
	return "", fmt.Errorf("config: unknown key %q", key)
}

// mergeConfig overlays non-zero fields of src onto dst, repo-over-global
// precedence: a key the overlay doesn't set is left at dst's value. The
// advanced flags are OR'd, so an overlay cannot turn one off, and the
// store/index sections are replaced whole, and only when the overlay sets
// their kind.
func mergeConfig(dst, src *Config) {
	if src.Process.MaxDepth != 0 {
		dst.Process.MaxDepth = src.Process.MaxDepth
	}
	dst.Advanced.SharedDirectory = src.Advanced.SharedDirectory || dst.Advanced.SharedDirectory
	dst.Advanced.InternalErrorLocations = src.Advanced.InternalErrorLocations || dst.Advanced.InternalErrorLocations

	if src.Store.Kind != "" {
		dst.Store = src.Store
	}
	if src.Index.Kind != "" {
		dst.Index = src.Index
	}
	if src.TTLSeconds != 0 {
		dst.TTLSeconds = src.TTLSeconds
	}
	if src.User.Name != "" {
		dst.User.Name = src.User.Name
	}
	if src.User.Email != "" {
		dst.User.Email = src.User.Email
	}
}
