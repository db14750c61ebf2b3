package sandbox

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// DenyList blocks paths matching any of its glob patterns even when they lie
// inside an allowed directory. Patterns are doublestar globs matched against
// the resolved path. A pattern without a separator matches any single path
// component, and a pattern that matches a directory also blocks everything
// below it.
type DenyList struct {
	names []string
	paths []string
}

// NewDenyList compiles patterns, expanding a leading ~ to the home directory.
func NewDenyList(patterns []string) (*DenyList, error) {
	d := &DenyList{}
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}

		expanded, err := ExpandHome(pattern)
		if err != nil {
			return nil, fmt.Errorf("deny pattern %s: %w", pattern, err)
		}
		glob := filepath.ToSlash(expanded)
		if !doublestar.ValidatePattern(glob) {
			return nil, fmt.Errorf("invalid deny pattern: %s", pattern)
		}
		if strings.Contains(glob, "/") {
			d.paths = append(d.paths, glob)
		} else {
			d.names = append(d.names, glob)
		}
	}
	return d, nil
}

// Len returns the number of compiled patterns.
func (d *DenyList) Len() int {
	if d == nil {
		return 0
	}
	return len(d.names) + len(d.paths)
}

// Blocked reports whether path, or any directory above it, matches a pattern.
func (d *DenyList) Blocked(path string) bool {
	if d.Len() == 0 {
		return false
	}

	slash := filepath.ToSlash(path)
	for _, name := range strings.Split(slash, "/") {
		if name == "" {
			continue
		}
		for _, pattern := range d.names {
			if ok, _ := doublestar.Match(pattern, name); ok {
				return true
			}
		}
	}
	for _, pattern := range d.paths {
		if ok, _ := doublestar.Match(pattern, slash); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern+"/**", slash); ok {
			return true
		}
	}
	return false
}
