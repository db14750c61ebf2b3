package filesystem

import (
	"context"
	"errors"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/sammcj/mcp-filesystem/internal/metrics"
	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sammcj/mcp-filesystem/internal/worker"
	"github.com/sirupsen/logrus"
)

// Options wires the shared infrastructure each tool runs on.
type Options struct {
	Pool      *worker.Pool
	ErrorLog  *tools.ErrorLogger
	Transport string
}

// fsTool adapts one Service operation to the tools.Tool interface.
type fsTool struct {
	def  mcp.Tool
	run  func(ctx context.Context, args map[string]any) (string, error)
	opts Options
}

func (t *fsTool) Definition() mcp.Tool {
	return t.def
}

// Execute runs the operation on the worker pool and converts any failure
// into an error result. It never returns a Go error.
func (t *fsTool) Execute(ctx context.Context, logger *logrus.Logger, args map[string]any) (*mcp.CallToolResult, error) {
	name := t.def.Name
	start := time.Now()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	var (
		out string
		err error
	)
	if t.opts.Pool != nil {
		out, err = worker.Do(ctx, t.opts.Pool, func() (string, error) { return t.run(ctx, args) })
	} else {
		out, err = t.run(ctx, args)
	}

	if err == nil {
		metrics.RecordToolCall(name, "success", time.Since(start))
		return tools.TextResult(out), nil
	}

	var panicErr *worker.PanicError
	if errors.As(err, &panicErr) {
		logger.WithFields(logrus.Fields{
			"tool":  name,
			"panic": panicErr.Value,
			"stack": string(panicErr.Stack),
		}).Error("Recovered from panic in tool handler")
		err = fserr.IO("run", name, err)
	}

	kind := fserr.KindOf(err)
	metrics.RecordToolCall(name, string(kind), time.Since(start))

	entry := logger.WithFields(logrus.Fields{"tool": name, "kind": kind})
	if kind == fserr.KindAccessDenied {
		metrics.RecordAccessDenied(name)
		entry.WithField("path", args["path"]).Debug("Access denied")
	} else {
		entry.WithError(err).Debug("Tool call failed")
	}

	result := tools.ErrorResult(err)
	t.opts.ErrorLog.LogToolError(name, string(kind), args, tools.ResultText(result), t.opts.Transport)
	return result, nil
}

// Tools returns one tool per filesystem operation.
func Tools(svc *Service, opts Options) []tools.Tool {
	defs := []struct {
		def mcp.Tool
		run func(ctx context.Context, args map[string]any) (string, error)
	}{
		{readFileDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseReadFile(args)
			if err != nil {
				return "", err
			}
			return svc.ReadFile(req)
		}},
		{readMultipleFilesDefinition(), func(ctx context.Context, args map[string]any) (string, error) {
			paths, err := stringList(args, "paths", true)
			if err != nil {
				return "", err
			}
			return svc.ReadMultipleFiles(ctx, paths)
		}},
		{writeFileDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseWriteFile(args)
			if err != nil {
				return "", err
			}
			return svc.WriteFile(req)
		}},
		{editFileDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseEditFile(args)
			if err != nil {
				return "", err
			}
			return svc.EditFile(req)
		}},
		{createDirectoryDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			path, err := requirePath(args, "path")
			if err != nil {
				return "", err
			}
			return svc.CreateDirectory(path)
		}},
		{listDirectoryDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			path, err := requirePath(args, "path")
			if err != nil {
				return "", err
			}
			return svc.ListDirectory(path)
		}},
		{listDirectoryWithSizesDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseListWithSizes(args)
			if err != nil {
				return "", err
			}
			return svc.ListDirectoryWithSizes(req)
		}},
		{directoryTreeDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			path, err := requirePath(args, "path")
			if err != nil {
				return "", err
			}
			return svc.DirectoryTree(path)
		}},
		{moveFileDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseMoveFile(args)
			if err != nil {
				return "", err
			}
			return svc.MoveFile(req)
		}},
		{searchFilesDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			req, err := parseSearchFiles(args)
			if err != nil {
				return "", err
			}
			return svc.SearchFiles(req)
		}},
		{getFileInfoDefinition(), func(_ context.Context, args map[string]any) (string, error) {
			path, err := requirePath(args, "path")
			if err != nil {
				return "", err
			}
			return svc.GetFileInfo(path)
		}},
		{listAllowedDirectoriesDefinition(), func(context.Context, map[string]any) (string, error) {
			return svc.ListAllowedDirectories(), nil
		}},
	}

	out := make([]tools.Tool, 0, len(defs))
	for _, d := range defs {
		out = append(out, &fsTool{def: d.def, run: d.run, opts: opts})
	}
	return out
}

func readOnlyAnnotations() []mcp.ToolOption {
	return []mcp.ToolOption{
		mcp.WithReadOnlyHintAnnotation(true),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	}
}

func pathParam(desc string) mcp.ToolOption {
	return mcp.WithString("path", mcp.Required(), mcp.Description(desc))
}

func readFileDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Read the complete contents of a file. Use head or tail to read only the first or last N lines of large files. Only works within allowed directories."),
		pathParam("Path of the file to read"),
		mcp.WithNumber("head", mcp.Description("If provided, returns only the first N lines of the file")),
		mcp.WithNumber("tail", mcp.Description("If provided, returns only the last N lines of the file")),
	}
	return mcp.NewTool("read_file", append(opts, readOnlyAnnotations()...)...)
}

func readMultipleFilesDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Read the contents of multiple files at once. A file that cannot be read is reported inline without failing the whole call. Only works within allowed directories."),
		mcp.WithArray("paths",
			mcp.Required(),
			mcp.Description("Paths of the files to read"),
			mcp.WithStringItems(),
		),
	}
	return mcp.NewTool("read_multiple_files", append(opts, readOnlyAnnotations()...)...)
}

func writeFileDefinition() mcp.Tool {
	return mcp.NewTool("write_file",
		mcp.WithDescription("Create a new file or completely overwrite an existing file. The parent directory must already exist. Only works within allowed directories."),
		pathParam("Path of the file to write"),
		mcp.WithString("content", mcp.Required(), mcp.Description("Content to write")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func editFileDefinition() mcp.Tool {
	return mcp.NewTool("edit_file",
		mcp.WithDescription("Apply exact text replacements to a file in order and return a diff of the changes. Each edit replaces the first occurrence of oldText. Use dryRun to preview. Only works within allowed directories."),
		pathParam("Path of the file to edit"),
		mcp.WithArray("edits",
			mcp.Required(),
			mcp.Description("Edits to apply in order"),
			mcp.Items(map[string]any{
				"type": "object",
				"properties": map[string]any{
					"oldText": map[string]any{
						"type":        "string",
						"description": "Text to search for, must match exactly",
					},
					"newText": map[string]any{
						"type":        "string",
						"description": "Text to replace with",
					},
				},
				"required": []string{"oldText", "newText"},
			}),
		),
		mcp.WithBoolean("dryRun",
			mcp.Description("Preview changes without writing them"),
			mcp.DefaultBool(false),
		),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(true),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func createDirectoryDefinition() mcp.Tool {
	return mcp.NewTool("create_directory",
		mcp.WithDescription("Create a directory. Succeeds silently if it already exists. Only works within allowed directories."),
		pathParam("Path of the directory to create"),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(true),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func listDirectoryDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List the entries of a directory, each prefixed with [FILE] or [DIR]. Only works within allowed directories."),
		pathParam("Path of the directory to list"),
	}
	return mcp.NewTool("list_directory", append(opts, readOnlyAnnotations()...)...)
}

func listDirectoryWithSizesDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List the entries of a directory with file sizes and a summary of totals. Only works within allowed directories."),
		pathParam("Path of the directory to list"),
		mcp.WithString("sortBy",
			mcp.Description("Sort entries by name or by size (largest first)"),
			mcp.Enum("name", "size"),
			mcp.DefaultString("name"),
		),
	}
	return mcp.NewTool("list_directory_with_sizes", append(opts, readOnlyAnnotations()...)...)
}

func directoryTreeDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Return a recursive JSON tree of a directory. Each entry has name and type; directories also have children. Only works within allowed directories."),
		pathParam("Path of the root directory"),
	}
	return mcp.NewTool("directory_tree", append(opts, readOnlyAnnotations()...)...)
}

func moveFileDefinition() mcp.Tool {
	return mcp.NewTool("move_file",
		mcp.WithDescription("Move or rename a file or directory. Fails if the destination exists. Both paths must be within allowed directories."),
		mcp.WithString("source", mcp.Required(), mcp.Description("Path to move")),
		mcp.WithString("destination", mcp.Required(), mcp.Description("New path")),
		mcp.WithReadOnlyHintAnnotation(false),
		mcp.WithDestructiveHintAnnotation(false),
		mcp.WithIdempotentHintAnnotation(false),
		mcp.WithOpenWorldHintAnnotation(false),
	)
}

func searchFilesDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Recursively search for files and directories whose name contains pattern (case-insensitive). Returns absolute paths. Only searches within allowed directories."),
		pathParam("Directory to search from"),
		mcp.WithString("pattern", mcp.Required(), mcp.Description("Substring to look for in entry names; empty matches everything")),
		mcp.WithArray("excludePatterns",
			mcp.Description("Glob patterns to exclude (*, ?, **). Bare names match at any depth"),
			mcp.WithStringItems(),
		),
	}
	return mcp.NewTool("search_files", append(opts, readOnlyAnnotations()...)...)
}

func getFileInfoDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("Return metadata for a file or directory: size, timestamps, type and permissions. Only works within allowed directories."),
		pathParam("Path to inspect"),
	}
	return mcp.NewTool("get_file_info", append(opts, readOnlyAnnotations()...)...)
}

func listAllowedDirectoriesDefinition() mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription("List the directories this server is allowed to access."),
	}
	return mcp.NewTool("list_allowed_directories", append(opts, readOnlyAnnotations()...)...)
}
