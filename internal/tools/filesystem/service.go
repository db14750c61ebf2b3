// Package filesystem exposes sandboxed file operations as MCP tools. Service
// holds the typed operations; tools.go adapts each one to a tool definition.
package filesystem

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/sammcj/mcp-filesystem/internal/config"
	"github.com/sammcj/mcp-filesystem/internal/fileops"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/sammcj/mcp-filesystem/internal/metrics"
	"github.com/sammcj/mcp-filesystem/internal/sandbox"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// defaultBatchLimit bounds concurrent reads within one read_multiple_files call.
const defaultBatchLimit = 8

// Service implements the filesystem operations against a fixed set of
// allowed directories.
type Service struct {
	roots  *sandbox.Roots
	walker *fileops.Walker
	cfg    *config.Config
	diff   fileops.DiffFunc
	logger *logrus.Logger
}

// NewService returns a Service confined to roots. A nil cfg uses defaults.
func NewService(roots *sandbox.Roots, cfg *config.Config, logger *logrus.Logger) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		roots: roots,
		walker: &fileops.Walker{
			Roots:         roots,
			MaxDepth:      cfg.MaxDepth,
			ReportSkipped: cfg.WalkErrors == config.WalkErrorsReport,
			Logger:        logger,
		},
		cfg:    cfg,
		diff:   fileops.DiffFor(cfg.DiffMode),
		logger: logger,
	}
}

// fsError classifies an OS error, naming only the path the caller supplied.
func fsError(action, path string, err error) error {
	var fe *fserr.Error
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, fs.ErrNotExist) {
		return fserr.NotFound("no such file or directory: %s", path)
	}
	return fserr.IO(action, path, err)
}

func (s *Service) checkSize(size int64) error {
	if s.cfg.MaxFileSize > 0 && size > s.cfg.MaxFileSize {
		return fserr.InvalidArguments("file exceeds maximum size of %s", fileops.FormatSize(s.cfg.MaxFileSize))
	}
	return nil
}

func (s *Service) readWhole(validPath, userPath string) (string, error) {
	data, err := fileops.ReadFile(validPath, s.cfg.MaxFileSize)
	if err != nil {
		if errors.Is(err, fileops.ErrTooLarge) {
			return "", fserr.InvalidArguments("%s: file exceeds maximum size of %s", userPath, fileops.FormatSize(s.cfg.MaxFileSize))
		}
		return "", fsError("read file", userPath, err)
	}
	metrics.AddBytesRead(len(data))
	return string(data), nil
}

// ReadFile returns the file's text, or only its first or last lines.
func (s *Service) ReadFile(req ReadFileRequest) (string, error) {
	if req.Head != nil && req.Tail != nil {
		return "", fserr.InvalidArguments("cannot specify both head and tail parameters")
	}
	validPath, err := s.roots.Validate(req.Path)
	if err != nil {
		return "", err
	}

	var content string
	switch {
	case req.Head != nil:
		content, err = fileops.Head(validPath, *req.Head, s.cfg.MaxFileSize)
	case req.Tail != nil:
		content, err = fileops.Tail(validPath, *req.Tail, s.cfg.MaxFileSize)
	default:
		return s.readWhole(validPath, req.Path)
	}
	if err != nil {
		if errors.Is(err, fileops.ErrTooLarge) {
			return "", fserr.InvalidArguments("%s: lines exceed maximum size of %s", req.Path, fileops.FormatSize(s.cfg.MaxFileSize))
		}
		return "", fsError("read file", req.Path, err)
	}
	metrics.AddBytesRead(len(content))
	return content, nil
}

// ReadMultipleFiles reads every path concurrently. A failing path is
// reported inline and does not affect the others; output keeps input order.
func (s *Service) ReadMultipleFiles(ctx context.Context, paths []string) (string, error) {
	if len(paths) == 0 {
		return "", fserr.InvalidArguments("no paths provided")
	}

	results := make([]string, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(defaultBatchLimit)

	for i, path := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				results[i] = fmt.Sprintf("%s: Error - %s", path, err.Error())
				return nil
			}
			validPath, err := s.roots.Validate(path)
			if err == nil {
				var content string
				if content, err = s.readWhole(validPath, path); err == nil {
					results[i] = fmt.Sprintf("%s:\n%s\n", path, content)
					return nil
				}
			}
			results[i] = fmt.Sprintf("%s: Error - %s", path, err.Error())
			return nil
		})
	}
	_ = g.Wait()

	return strings.Join(results, "\n---\n"), nil
}

// WriteFile creates or replaces a file. The parent directory must exist.
func (s *Service) WriteFile(req WriteFileRequest) (string, error) {
	if err := s.checkSize(int64(len(req.Content))); err != nil {
		return "", err
	}
	validPath, err := s.roots.Validate(req.Path)
	if err != nil {
		return "", err
	}

	if err := fileops.WriteFileAtomic(validPath, []byte(req.Content), s.cfg.FileMode()); err != nil {
		return "", fsError("write", req.Path, err)
	}
	metrics.AddBytesWritten(len(req.Content))
	return fmt.Sprintf("Successfully wrote to %s", req.Path), nil
}

// EditFile applies edits in order and returns a diff. With DryRun the file
// is left untouched.
func (s *Service) EditFile(req EditFileRequest) (string, error) {
	validPath, err := s.roots.Validate(req.Path)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(validPath)
	if err != nil {
		return "", fsError("read file", req.Path, err)
	}
	original, err := s.readWhole(validPath, req.Path)
	if err != nil {
		return "", err
	}

	modified, err := fileops.ApplyEdits(original, req.Edits)
	if err != nil {
		return "", err
	}
	diff := s.diff(original, modified, req.Path)

	if req.DryRun {
		return diff, nil
	}
	if err := s.checkSize(int64(len(modified))); err != nil {
		return "", err
	}
	if err := fileops.WriteFileAtomic(validPath, []byte(modified), info.Mode().Perm()); err != nil {
		return "", fsError("write", req.Path, err)
	}
	metrics.AddBytesWritten(len(modified))
	return diff, nil
}

// CreateDirectory creates path; an existing directory is not an error.
func (s *Service) CreateDirectory(path string) (string, error) {
	validPath, err := s.roots.Validate(path)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(validPath, s.cfg.DirMode()); err != nil {
		return "", fsError("create directory", path, err)
	}
	return fmt.Sprintf("Successfully created directory %s", path), nil
}

// ListDirectory returns one "[FILE] name" or "[DIR] name" line per entry.
func (s *Service) ListDirectory(path string) (string, error) {
	validPath, err := s.roots.Validate(path)
	if err != nil {
		return "", err
	}
	entries, err := s.walker.List(validPath)
	if err != nil {
		return "", fsError("read directory", path, err)
	}

	lines := make([]string, 0, len(entries))
	for _, e := range entries {
		prefix := "[FILE]"
		if e.IsDir {
			prefix = "[DIR]"
		}
		lines = append(lines, prefix+" "+e.Name)
	}
	return strings.Join(lines, "\n"), nil
}

// ListDirectoryWithSizes returns a padded listing with totals.
func (s *Service) ListDirectoryWithSizes(req ListDirectoryRequest) (string, error) {
	validPath, err := s.roots.Validate(req.Path)
	if err != nil {
		return "", err
	}
	listing, err := s.walker.ListWithSizes(validPath, req.SortBy)
	if err != nil {
		return "", fsError("read directory", req.Path, err)
	}
	return listing.Format(), nil
}

// DirectoryTree returns the nested structure below path as indented JSON.
func (s *Service) DirectoryTree(path string) (string, error) {
	validPath, err := s.roots.Validate(path)
	if err != nil {
		return "", err
	}
	tree, err := s.walker.Tree(validPath)
	if err != nil {
		return "", fsError("read directory", path, err)
	}
	out, err := fileops.FormatTree(tree.Nodes)
	if err != nil {
		return "", fserr.IO("encode tree for", path, err)
	}
	return out + skippedSummary(tree.Skipped), nil
}

// MoveFile renames source to destination, refusing to overwrite. A symlink
// is moved as a link; its target stays where it is.
func (s *Service) MoveFile(req MoveFileRequest) (string, error) {
	validSource, err := s.roots.ValidateNoFollow(req.Source)
	if err != nil {
		return "", err
	}
	validDestination, err := s.roots.ValidateNoFollow(req.Destination)
	if err != nil {
		return "", err
	}

	if err := fileops.Move(validSource, validDestination); err != nil {
		if errors.Is(err, fileops.ErrDestinationExists) {
			return "", fserr.IO("move", req.Source, fmt.Errorf("%w: %s", err, req.Destination))
		}
		return "", fsError("move", req.Source, err)
	}
	return fmt.Sprintf("Successfully moved %s to %s", req.Source, req.Destination), nil
}

// SearchFiles returns matching absolute paths, one per line.
func (s *Service) SearchFiles(req SearchFilesRequest) (string, error) {
	validPath, err := s.roots.Validate(req.Path)
	if err != nil {
		return "", err
	}
	result, err := s.walker.Search(validPath, req.Pattern, req.ExcludePatterns)
	if err != nil {
		return "", err
	}

	out := "No matches found"
	if len(result.Matches) > 0 {
		out = strings.Join(result.Matches, "\n")
	}
	return out + skippedSummary(result.Skipped), nil
}

// GetFileInfo returns size, timestamps, type and permissions.
func (s *Service) GetFileInfo(path string) (string, error) {
	validPath, err := s.roots.Validate(path)
	if err != nil {
		return "", err
	}
	info, err := fileops.Stat(validPath)
	if err != nil {
		return "", fsError("get file info for", path, err)
	}
	return info.Format(), nil
}

// ListAllowedDirectories returns the sandbox roots, one per line.
func (s *Service) ListAllowedDirectories() string {
	return "Allowed directories:\n" + strings.Join(s.roots.Dirs(), "\n")
}

func skippedSummary(skipped []string) string {
	if len(skipped) == 0 {
		return ""
	}
	return fmt.Sprintf("\n\nSkipped %d entries: %s", len(skipped), strings.Join(skipped, ", "))
}
