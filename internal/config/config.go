// Package config loads server settings from an optional YAML file and
// FILESYSTEM_* environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sammcj/mcp-filesystem/internal/fileops"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxFileSize     int64 = 100 * 1024 * 1024
	DefaultFilePermissions       = "0644"
	DefaultDirPermissions        = "0755"
	DefaultMaxDepth              = 64

	DiffModePositional = fileops.DiffModePositional
	DiffModeLCS        = fileops.DiffModeLCS

	WalkErrorsSkip   = "skip"
	WalkErrorsReport = "report"
)

// Config holds settings shared by every tool invocation. It is built once at
// startup and not mutated afterwards.
type Config struct {
	AllowedDirectories []string `yaml:"allowed_directories"`
	MaxFileSize        int64    `yaml:"max_file_size"`
	FilePermissions    string   `yaml:"file_permissions"`
	DirPermissions     string   `yaml:"dir_permissions"`
	MaxDepth           int      `yaml:"max_depth"`
	DiffMode           string   `yaml:"diff_mode"`
	WalkErrors         string   `yaml:"walk_errors"`
	Workers            int      `yaml:"workers"`
	RateLimit          float64  `yaml:"rate_limit"`
	ReadOnly           bool     `yaml:"read_only"`
	DenyPatterns       []string `yaml:"deny_patterns"`
}

// Default returns the built-in configuration. Workers of zero means the pool
// picks its own size.
func Default() *Config {
	return &Config{
		MaxFileSize:     DefaultMaxFileSize,
		FilePermissions: DefaultFilePermissions,
		DirPermissions:  DefaultDirPermissions,
		MaxDepth:        DefaultMaxDepth,
		DiffMode:        DiffModePositional,
		WalkErrors:      WalkErrorsSkip,
	}
}

// DefaultPath returns ~/.mcp-filesystem/config.yaml.
func DefaultPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, ".mcp-filesystem", "config.yaml")
}

// Load reads the YAML file at path over the defaults. A missing file is only
// an error when explicit is set.
func Load(path string, explicit bool) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !explicit {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from FILESYSTEM_* variables looked up through
// getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("FILESYSTEM_ALLOWED_DIRS"); v != "" {
		c.AllowedDirectories = append(c.AllowedDirectories, SplitList(v)...)
	}
	if v := getenv("FILESYSTEM_MAX_FILE_SIZE"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("FILESYSTEM_MAX_FILE_SIZE: %w", err)
		}
		c.MaxFileSize = n
	}
	if v := getenv("FILESYSTEM_SECURE_PERMISSIONS"); v != "" {
		c.FilePermissions = v
	}
	if v := getenv("FILESYSTEM_DIR_PERMISSIONS"); v != "" {
		c.DirPermissions = v
	}
	if v := getenv("FILESYSTEM_MAX_DEPTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILESYSTEM_MAX_DEPTH: %w", err)
		}
		c.MaxDepth = n
	}
	if v := getenv("FILESYSTEM_DIFF_MODE"); v != "" {
		c.DiffMode = strings.ToLower(v)
	}
	if v := getenv("FILESYSTEM_WALK_ERRORS"); v != "" {
		c.WalkErrors = strings.ToLower(v)
	}
	if v := getenv("FILESYSTEM_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("FILESYSTEM_WORKERS: %w", err)
		}
		c.Workers = n
	}
	if v := getenv("FILESYSTEM_RATE_LIMIT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("FILESYSTEM_RATE_LIMIT: %w", err)
		}
		c.RateLimit = f
	}
	if v := getenv("FILESYSTEM_DENY_PATTERNS"); v != "" {
		c.DenyPatterns = append(c.DenyPatterns, strings.Split(v, ",")...)
	}
	if v := getenv("FILESYSTEM_READ_ONLY"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FILESYSTEM_READ_ONLY: %w", err)
		}
		c.ReadOnly = b
	}
	return nil
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.MaxFileSize < 0 {
		return fmt.Errorf("max_file_size must not be negative")
	}
	if _, err := parseMode(c.FilePermissions); err != nil {
		return fmt.Errorf("file_permissions: %w", err)
	}
	if _, err := parseMode(c.DirPermissions); err != nil {
		return fmt.Errorf("dir_permissions: %w", err)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("max_depth must not be negative")
	}
	switch c.DiffMode {
	case "", DiffModePositional, DiffModeLCS:
	default:
		return fmt.Errorf("diff_mode must be %q or %q, got %q", DiffModePositional, DiffModeLCS, c.DiffMode)
	}
	switch c.WalkErrors {
	case "", WalkErrorsSkip, WalkErrorsReport:
	default:
		return fmt.Errorf("walk_errors must be %q or %q, got %q", WalkErrorsSkip, WalkErrorsReport, c.WalkErrors)
	}
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// FileMode returns the permission bits for written files.
func (c *Config) FileMode() fs.FileMode {
	mode, err := parseMode(c.FilePermissions)
	if err != nil {
		mode, _ = parseMode(DefaultFilePermissions)
	}
	return mode
}

// DirMode returns the permission bits for created directories.
func (c *Config) DirMode() fs.FileMode {
	mode, err := parseMode(c.DirPermissions)
	if err != nil {
		mode, _ = parseMode(DefaultDirPermissions)
	}
	return mode
}

func parseMode(s string) (fs.FileMode, error) {
	if s == "" {
		return 0, fmt.Errorf("permissions must not be empty")
	}
	n, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid octal permissions %q", s)
	}
	if n > 0o777 {
		return 0, fmt.Errorf("permissions %q out of range", s)
	}
	return fs.FileMode(n), nil
}

// SplitList splits a comma or path-list separated list, dropping blanks.
func SplitList(v string) []string {
	fields := strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == filepath.ListSeparator
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
