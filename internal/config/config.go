package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/depmirror/internal/filter"
)

// DefaultFile is looked up in the working directory when no --config is given
const DefaultFile = ".depmirror.yaml"

// DefaultStripKeys are removed from package.json while linking in quick mode
var DefaultStripKeys = []string{
	"dependencies",
	"devDependencies",
	"optionalDependencies",
	"peerDependencies",
	"scripts",
}

// Config represents the complete depmirror configuration
type Config struct {
	Mirror MirrorConfig `yaml:"mirror"`
	Paths  PathsConfig  `yaml:"paths"`
	Quick  QuickConfig  `yaml:"quick"`
}

// MirrorConfig configures the copy command
type MirrorConfig struct {
	Exclude     []string      `yaml:"exclude"`
	Watch       bool          `yaml:"watch"`
	Debounce    time.Duration `yaml:"debounce"`
	RetryLimit  *int          `yaml:"retry_limit"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Parallelism int           `yaml:"parallelism"`
	// Bin links a local dependency's executables into <modules_dir>/.bin
	Bin *bool `yaml:"bin"`
}

// PathsConfig configures where dependencies are looked up and mirrored to
type PathsConfig struct {
	// Prefix is the package manager's install prefix; resolved from npm when empty
	Prefix     string `yaml:"prefix"`
	ModulesDir string `yaml:"modules_dir"`
}

// QuickConfig configures the quick command
type QuickConfig struct {
	StripKeys []string `yaml:"strip_keys"`
	Halt      *bool    `yaml:"halt"`
	Force     bool     `yaml:"force"`
}

// Default returns a configuration with every default applied
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadOptional is like Load but returns the defaults when path does not exist
func LoadOptional(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// expandEnv expands environment variables in path-like string fields
func (c *Config) expandEnv() {
	c.Paths.Prefix = os.ExpandEnv(c.Paths.Prefix)
	c.Paths.ModulesDir = os.ExpandEnv(c.Paths.ModulesDir)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Mirror.Exclude == nil {
		c.Mirror.Exclude = append([]string(nil), filter.DefaultPatterns...)
	}
	if c.Mirror.Debounce == 0 {
		c.Mirror.Debounce = 100 * time.Millisecond
	}
	if c.Mirror.RetryLimit == nil {
		limit := 3
		c.Mirror.RetryLimit = &limit
	}
	if c.Mirror.RetryDelay == 0 {
		c.Mirror.RetryDelay = 100 * time.Millisecond
	}
	if c.Mirror.Parallelism == 0 {
		c.Mirror.Parallelism = 4
	}
	if c.Mirror.Bin == nil {
		bin := true
		c.Mirror.Bin = &bin
	}
	if c.Paths.ModulesDir == "" {
		c.Paths.ModulesDir = "node_modules"
	}
	if c.Quick.StripKeys == nil {
		c.Quick.StripKeys = append([]string(nil), DefaultStripKeys...)
	}
	if c.Quick.Halt == nil {
		halt := true
		c.Quick.Halt = &halt
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	for _, p := range c.Mirror.Exclude {
		if _, err := filter.Parse(p); err != nil {
			return fmt.Errorf("mirror.exclude: %w", err)
		}
	}
	if c.Mirror.Debounce < 0 {
		return fmt.Errorf("mirror.debounce must not be negative: %s", c.Mirror.Debounce)
	}
	if c.Mirror.RetryLimit != nil && *c.Mirror.RetryLimit < 0 {
		return fmt.Errorf("mirror.retry_limit must not be negative: %d", *c.Mirror.RetryLimit)
	}
	if c.Mirror.RetryDelay < 0 {
		return fmt.Errorf("mirror.retry_delay must not be negative: %s", c.Mirror.RetryDelay)
	}
	if c.Mirror.Parallelism < 0 {
		return fmt.Errorf("mirror.parallelism must not be negative: %d", c.Mirror.Parallelism)
	}

	if c.Paths.Prefix != "" && !filepath.IsAbs(c.Paths.Prefix) {
		return fmt.Errorf("paths.prefix must be an absolute path: %s", c.Paths.Prefix)
	}
	if filepath.IsAbs(c.Paths.ModulesDir) {
		return fmt.Errorf("paths.modules_dir must be relative to the project: %s", c.Paths.ModulesDir)
	}

	for _, k := range c.Quick.StripKeys {
		if k == "" {
			return fmt.Errorf("quick.strip_keys must not contain empty keys")
		}
	}

	return nil
}

// Retries returns the effective per-entry retry budget
func (c *Config) Retries() int {
	if c.Mirror.RetryLimit == nil {
		return 3
	}
	return *c.Mirror.RetryLimit
}

// LinkBins reports whether copy links the executables of local dependencies
func (c *Config) LinkBins() bool {
	return c.Mirror.Bin == nil || *c.Mirror.Bin
}

// HaltOnError reports whether quick stops at the first failing directory
func (c *Config) HaltOnError() bool {
	return c.Quick.Halt == nil || *c.Quick.Halt
}

// ModulesPath returns the directory dependencies are mirrored into for a
// project rooted at cwd
func (c *Config) ModulesPath(cwd string) string {
	return filepath.Join(cwd, c.Paths.ModulesDir)
}
