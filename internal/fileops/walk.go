package fileops

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/sammcj/mcp-filesystem/internal/sandbox"
	"github.com/sirupsen/logrus"
)

// DefaultMaxDepth bounds recursion in Tree and Search.
const DefaultMaxDepth = 64

// Walker traverses directories inside the sandbox. Every directory it
// descends into, and every entry it reports from Search, is re-validated
// against Roots so a symlink cannot carry the walk outside the allowed
// directories.
type Walker struct {
	Roots    *sandbox.Roots
	MaxDepth int
	// ReportSkipped collects entries that were skipped because they failed
	// validation, could not be read or hit the depth or cycle guard.
	ReportSkipped bool
	Logger        *logrus.Logger
}

// SearchResult holds absolute paths of matching entries in walk order.
type SearchResult struct {
	Matches []string
	Skipped []string
}

// walkState is the per-call bookkeeping shared by Tree and Search.
type walkState struct {
	root    string
	active  map[string]bool
	skipped []string
}

func newWalkState(root string) *walkState {
	return &walkState{root: root, active: map[string]bool{root: true}}
}

func (w *Walker) logger() *logrus.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return logrus.StandardLogger()
}

func (w *Walker) maxDepth() int {
	if w.MaxDepth <= 0 {
		return DefaultMaxDepth
	}
	return w.MaxDepth
}

func (w *Walker) skip(state *walkState, path, reason string) {
	rel := relSlash(state.root, path)
	w.logger().WithFields(logrus.Fields{
		"path":   rel,
		"reason": reason,
	}).Debug("Skipping entry during directory walk")
	if w.ReportSkipped {
		state.skipped = append(state.skipped, rel)
	}
}

// resolveEntry validates path and reports whether its resolved target is a
// directory.
func (w *Walker) resolveEntry(path string, entry fs.DirEntry) (string, bool, error) {
	real, err := w.Roots.Validate(path)
	if err != nil {
		return "", false, err
	}
	if entry.Type()&fs.ModeSymlink == 0 {
		return real, entry.IsDir(), nil
	}
	info, err := os.Stat(real)
	if err != nil {
		// Dangling link that validated through its target's parent.
		return real, false, nil
	}
	return real, info.IsDir(), nil
}

// descend applies the depth and cycle guards before entering real.
func (w *Walker) descend(state *walkState, display, real string, depth int) bool {
	if depth >= w.maxDepth() {
		w.skip(state, display, "maximum depth reached")
		return false
	}
	if state.active[real] {
		w.skip(state, display, "directory cycle")
		return false
	}
	return true
}

// List returns the entries of dir sorted by file name.
func (w *Walker) List(dir string) ([]DirectoryEntry, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	result := make([]DirectoryEntry, 0, len(entries))
	for _, entry := range entries {
		result = append(result, w.describe(filepath.Join(dir, entry.Name()), entry))
	}
	return result, nil
}

// describe builds a DirectoryEntry. Symlinks are described by their target
// only when the target is inside the sandbox; otherwise the link itself is
// reported so nothing about the outside target leaks.
func (w *Walker) describe(path string, entry fs.DirEntry) DirectoryEntry {
	de := DirectoryEntry{Name: entry.Name(), IsDir: entry.IsDir()}

	var info fs.FileInfo
	if entry.Type()&fs.ModeSymlink != 0 {
		if real, err := w.Roots.Validate(path); err == nil {
			info, _ = os.Stat(real)
		}
	}
	if info == nil {
		info, _ = entry.Info()
	}
	if info != nil {
		de.IsDir = info.IsDir()
		de.ModTime = info.ModTime()
		if !de.IsDir {
			de.Size = info.Size()
		}
	}
	return de
}

// Search recursively collects entries below dir whose name contains pattern,
// case-insensitively. Entries matching any exclude glob are neither reported
// nor traversed. A bare pattern without '*' matches at any depth.
func (w *Walker) Search(dir, pattern string, excludes []string) (*SearchResult, error) {
	globs, err := compileExcludes(excludes)
	if err != nil {
		return nil, err
	}

	state := newWalkState(dir)
	result := &SearchResult{Matches: []string{}}
	w.search(state, dir, dir, strings.ToLower(pattern), globs, 0, result)
	result.Skipped = state.skipped
	return result, nil
}

func (w *Walker) search(state *walkState, display, real, pattern string, globs []string, depth int, result *SearchResult) {
	entries, err := os.ReadDir(real)
	if err != nil {
		w.skip(state, display, "unreadable directory")
		return
	}

	for _, entry := range entries {
		path := filepath.Join(display, entry.Name())
		if excluded(globs, entry.Name(), relSlash(state.root, path)) {
			continue
		}

		resolved, isDir, err := w.resolveEntry(path, entry)
		if err != nil {
			w.skip(state, path, string(fserr.KindOf(err)))
			continue
		}

		if strings.Contains(strings.ToLower(entry.Name()), pattern) {
			result.Matches = append(result.Matches, path)
		}

		if isDir && w.descend(state, path, resolved, depth+1) {
			state.active[resolved] = true
			w.search(state, path, resolved, pattern, globs, depth+1, result)
			delete(state.active, resolved)
		}
	}
}

func compileExcludes(patterns []string) ([]string, error) {
	globs := make([]string, 0, len(patterns))
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		glob := filepath.ToSlash(pattern)
		if !strings.Contains(glob, "*") {
			glob = "**/" + glob
		}
		if !doublestar.ValidatePattern(glob) {
			return nil, fserr.InvalidArguments("invalid exclude pattern: %s", pattern)
		}
		globs = append(globs, glob)
	}
	return globs, nil
}

func excluded(globs []string, name, rel string) bool {
	for _, g := range globs {
		if ok, _ := doublestar.Match(g, name); ok {
			return true
		}
		if ok, _ := doublestar.Match(g, rel); ok {
			return true
		}
	}
	return false
}

func relSlash(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return filepath.Base(path)
	}
	return filepath.ToSlash(rel)
}
