// Package sandbox resolves caller-supplied paths against the set of allowed
// root directories. Every filesystem operation goes through Roots.Validate
// before touching the disk, and recursive walks call it again for every
// directory they descend into.
package sandbox

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sammcj/mcp-filesystem/internal/fserr"
)

// maxLinkHops bounds how many dangling symlinks are followed while
// validating a single path, mirroring the kernel's ELOOP limit.
const maxLinkHops = 40

var errTooManyLinks = errors.New("too many levels of symbolic links")

// Root is a single allowed directory in both the form it was configured with
// and its symlink-resolved form.
type Root struct {
	Path string
	Real string
}

// Roots is the immutable allow-list of directories for the process.
type Roots struct {
	roots []Root
	deny  *DenyList
}

// NewRoots resolves and de-duplicates the given directories. Every entry must
// exist and be a directory.
func NewRoots(dirs []string) (*Roots, error) {
	if len(dirs) == 0 {
		return nil, errors.New("at least one allowed directory is required")
	}

	seen := make(map[string]bool, len(dirs))
	roots := make([]Root, 0, len(dirs))
	for _, dir := range dirs {
		if strings.TrimSpace(dir) == "" {
			continue
		}

		expanded, err := ExpandHome(dir)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", dir, err)
		}
		abs, err := filepath.Abs(expanded)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", dir, err)
		}
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", dir, err)
		}
		info, err := os.Stat(real)
		if err != nil {
			return nil, fmt.Errorf("allowed directory %s: %w", dir, err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("allowed directory %s is not a directory", dir)
		}

		if seen[real] {
			continue
		}
		seen[real] = true
		roots = append(roots, Root{Path: abs, Real: real})
	}

	if len(roots) == 0 {
		return nil, errors.New("at least one allowed directory is required")
	}
	return &Roots{roots: roots}, nil
}

// WithDenyList returns a copy of r that also rejects paths blocked by deny.
func (r *Roots) WithDenyList(deny *DenyList) *Roots {
	return &Roots{roots: r.roots, deny: deny}
}

// Dirs returns the resolved allowed directories in configuration order.
func (r *Roots) Dirs() []string {
	dirs := make([]string, len(r.roots))
	for i, root := range r.roots {
		dirs[i] = root.Real
	}
	return dirs
}

// Contains reports whether path lies lexically inside a root, accepting
// either the configured or the resolved form of each root.
func (r *Roots) Contains(path string) bool {
	for _, root := range r.roots {
		if IsWithin(path, root.Path) || IsWithin(path, root.Real) {
			return true
		}
	}
	return false
}

// containsReal is the check applied after symlink resolution.
func (r *Roots) containsReal(path string) bool {
	for _, root := range r.roots {
		if IsWithin(path, root.Real) {
			return true
		}
	}
	return false
}

// Validate resolves requested to an absolute, symlink-free path that lies
// inside the allowed directories and is not blocked by the deny list. Paths
// that do not exist yet are accepted when their parent directory exists
// inside the sandbox.
func (r *Roots) Validate(requested string) (string, error) {
	real, err := r.validate(requested, requested, 0)
	if err != nil {
		return "", err
	}
	if r.deny.Blocked(real) {
		return "", fserr.AccessDenied("access denied - path matches a deny pattern: %s", requested)
	}
	return real, nil
}

// ValidateNoFollow is Validate for operations that act on a symlink itself.
// The link must pass Validate; the returned path names the link inside its
// resolved parent directory rather than the link's target.
func (r *Roots) ValidateNoFollow(requested string) (string, error) {
	real, err := r.Validate(requested)
	if err != nil {
		return "", err
	}
	expanded, err := ExpandHome(requested)
	if err != nil {
		return "", fserr.IO("expand home directory in", requested, err)
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fserr.IO("resolve", requested, err)
	}
	info, err := os.Lstat(abs)
	if err != nil || info.Mode()&os.ModeSymlink == 0 {
		return real, nil
	}

	link, err := r.resolveParent(abs, requested)
	if err != nil {
		return "", err
	}
	if r.deny.Blocked(link) {
		return "", fserr.AccessDenied("access denied - path matches a deny pattern: %s", requested)
	}
	return link, nil
}

func (r *Roots) validate(requested, display string, hops int) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return "", fserr.InvalidArguments("path must not be empty")
	}
	if strings.ContainsRune(requested, 0) {
		return "", fserr.InvalidArguments("path contains a NUL byte")
	}

	expanded, err := ExpandHome(requested)
	if err != nil {
		return "", fserr.IO("expand home directory in", display, err)
	}

	// filepath.Abs also cleans the path, collapsing . and .. lexically.
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fserr.IO("resolve", display, err)
	}

	if !r.Contains(abs) {
		return "", fserr.AccessDenied("access denied - path outside allowed directories: %s", display)
	}

	info, err := os.Lstat(abs)
	switch {
	case err == nil && info.Mode()&os.ModeSymlink != 0:
		return r.resolveLink(abs, display, hops)
	case err == nil:
		real, err := filepath.EvalSymlinks(abs)
		if err != nil {
			return "", fserr.IO("resolve", display, err)
		}
		if !r.containsReal(real) {
			return "", fserr.AccessDenied("access denied - resolved path outside allowed directories: %s", display)
		}
		return real, nil
	case errors.Is(err, fs.ErrNotExist):
		return r.resolveParent(abs, display)
	default:
		return "", fserr.IO("inspect", display, err)
	}
}

// resolveLink re-validates the target of the symlink at abs.
func (r *Roots) resolveLink(abs, display string, hops int) (string, error) {
	real, err := filepath.EvalSymlinks(abs)
	if err == nil {
		if !r.containsReal(real) {
			return "", fserr.AccessDenied("access denied - symlink target outside allowed directories: %s", display)
		}
		return real, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", fserr.IO("resolve symlink", display, err)
	}

	// Dangling link: validate where it points so that creating the target
	// cannot land outside the sandbox.
	if hops >= maxLinkHops {
		return "", fserr.IO("resolve symlink", display, errTooManyLinks)
	}
	target, err := os.Readlink(abs)
	if err != nil {
		return "", fserr.IO("read symlink", display, err)
	}
	if !filepath.IsAbs(target) {
		linkDir, err := filepath.EvalSymlinks(filepath.Dir(abs))
		if err != nil {
			return "", fserr.IO("resolve symlink", display, err)
		}
		target = filepath.Join(linkDir, target)
	}
	target = filepath.Clean(target)

	if !r.Contains(target) {
		return "", fserr.AccessDenied("access denied - symlink target outside allowed directories: %s", display)
	}
	return r.validate(target, display, hops+1)
}

// resolveParent validates a path that does not exist through its parent.
func (r *Roots) resolveParent(abs, display string) (string, error) {
	parent := filepath.Dir(abs)
	realParent, err := filepath.EvalSymlinks(parent)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fserr.NotFound("parent directory does not exist: %s", display)
		}
		return "", fserr.IO("resolve parent directory of", display, err)
	}
	if !r.containsReal(realParent) {
		return "", fserr.AccessDenied("access denied - parent directory outside allowed directories: %s", display)
	}
	return filepath.Join(realParent, filepath.Base(abs)), nil
}

// IsWithin reports whether path equals root or is a descendant of it by
// whole path components, so /a/bc is not within /a/b. Both arguments are
// expected to be absolute; the comparison is purely lexical.
func IsWithin(path, root string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	if rel == "." {
		return true
	}
	if filepath.IsAbs(rel) {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// ExpandHome replaces a leading ~ or ~/ with the current user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") && !strings.HasPrefix(path, "~"+string(filepath.Separator)) {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, path[2:]), nil
}
