package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sammcj/mcp-filesystem/internal/config"
	"github.com/sammcj/mcp-filesystem/internal/sandbox"
	"github.com/sammcj/mcp-filesystem/internal/tools"
	"github.com/sammcj/mcp-filesystem/internal/worker"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	root  string
	svc   *Service
	tools map[string]tools.Tool
}

func newHarness(t *testing.T, cfg *config.Config) *harness {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	roots, err := sandbox.NewRoots([]string{root})
	require.NoError(t, err)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	svc := NewService(roots, cfg, logger)
	byName := map[string]tools.Tool{}
	for _, tool := range Tools(svc, Options{Pool: worker.New(4, 0)}) {
		byName[tool.Definition().Name] = tool
	}
	return &harness{root: root, svc: svc, tools: byName}
}

func (h *harness) call(t *testing.T, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()
	tool, ok := h.tools[name]
	require.True(t, ok, "tool %s registered", name)

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	result, err := tool.Execute(context.Background(), logger, args)
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

func (h *harness) path(rel string) string {
	return filepath.Join(h.root, filepath.FromSlash(rel))
}

func TestTools_Definitions(t *testing.T) {
	h := newHarness(t, nil)

	want := []string{
		"read_file", "read_multiple_files", "write_file", "edit_file",
		"create_directory", "list_directory", "list_directory_with_sizes",
		"directory_tree", "move_file", "search_files", "get_file_info",
		"list_allowed_directories",
	}
	assert.Len(t, h.tools, len(want))
	for _, name := range want {
		tool, ok := h.tools[name]
		require.True(t, ok, name)
		assert.NotEmpty(t, tool.Definition().Description, name)
	}

	for _, name := range []string{"write_file", "edit_file", "create_directory", "move_file"} {
		assert.False(t, tools.IsReadOnly(h.tools[name]), name)
	}
	for _, name := range []string{"read_file", "search_files", "list_allowed_directories"} {
		assert.True(t, tools.IsReadOnly(h.tools[name]), name)
	}
}

func TestTools_WriteTailDryRunEdit(t *testing.T) {
	h := newHarness(t, nil)
	file := h.path("a.txt")

	result := h.call(t, "write_file", map[string]any{"path": file, "content": "hello\nworld"})
	assert.False(t, result.IsError)
	assert.Equal(t, "Successfully wrote to "+file, tools.ResultText(result))

	result = h.call(t, "read_file", map[string]any{"path": file, "tail": float64(1)})
	assert.False(t, result.IsError)
	assert.Equal(t, "world", tools.ResultText(result))

	result = h.call(t, "edit_file", map[string]any{
		"path":   file,
		"edits":  []any{map[string]any{"oldText": "hello", "newText": "hi"}},
		"dryRun": true,
	})
	assert.False(t, result.IsError)
	diff := tools.ResultText(result)
	assert.Contains(t, diff, "-hello")
	assert.Contains(t, diff, "+hi")

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hello\nworld", string(data))

	result = h.call(t, "edit_file", map[string]any{
		"path":  file,
		"edits": []any{map[string]any{"oldText": "hello", "newText": "hi"}},
	})
	assert.False(t, result.IsError)
	data, err = os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "hi\nworld", string(data))
}

func TestTools_ErrorEnvelope(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("a.txt"), []byte("x"), 0o644))
	outside := filepath.Dir(h.root)

	tests := []struct {
		name     string
		tool     string
		args     map[string]any
		contains string
	}{
		{"head and tail", "read_file", map[string]any{"path": h.path("a.txt"), "head": float64(1), "tail": float64(1)}, "both head and tail"},
		{"negative head", "read_file", map[string]any{"path": h.path("a.txt"), "head": float64(-1)}, "non-negative"},
		{"missing path", "read_file", map[string]any{}, "missing required parameter: path"},
		{"wrong type", "write_file", map[string]any{"path": h.path("b.txt"), "content": 5}, "must be a string"},
		{"outside root", "read_file", map[string]any{"path": filepath.Join(outside, "x.txt")}, "access denied"},
		{"missing file", "read_file", map[string]any{"path": h.path("missing.txt")}, "no such file"},
		{"missing parent", "write_file", map[string]any{"path": h.path("nope/b.txt"), "content": ""}, "parent directory does not exist"},
		{"edit not found", "edit_file", map[string]any{"path": h.path("a.txt"), "edits": []any{map[string]any{"oldText": "zzz", "newText": "y"}}}, "could not find text"},
		{"bad sort", "list_directory_with_sizes", map[string]any{"path": h.root, "sortBy": "date"}, "sortBy"},
		{"bad glob", "search_files", map[string]any{"path": h.root, "pattern": "", "excludePatterns": []any{"[*"}}, "invalid exclude pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := h.call(t, tt.tool, tt.args)
			assert.True(t, result.IsError)
			text := tools.ResultText(result)
			assert.True(t, strings.HasPrefix(text, "Error: "), text)
			assert.Contains(t, text, tt.contains)
		})
	}
}

func TestTools_PanicBecomesErrorResult(t *testing.T) {
	tool := &fsTool{
		def:  mcp.NewTool("explode"),
		run:  func(context.Context, map[string]any) (string, error) { panic("boom") },
		opts: Options{Pool: worker.New(1, 0)},
	}
	logger, hook := logtest.NewNullLogger()

	for range 2 {
		result, err := tool.Execute(context.Background(), logger, nil)
		require.NoError(t, err)
		assert.True(t, result.IsError)
		assert.Equal(t, "Error: failed to run explode: internal error: boom", tools.ResultText(result))
	}

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, logrus.ErrorLevel, entry.Level)
	assert.NotEmpty(t, entry.Data["stack"])
}

func TestTools_ReadMultipleFilesIsolatesFailures(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("a.txt"), []byte("alpha"), 0o644))
	require.NoError(t, os.WriteFile(h.path("c.txt"), []byte("gamma"), 0o644))

	missing := h.path("b.txt")
	result := h.call(t, "read_multiple_files", map[string]any{
		"paths": []any{h.path("a.txt"), missing, h.path("c.txt")},
	})
	assert.False(t, result.IsError)

	blocks := strings.Split(tools.ResultText(result), "\n---\n")
	require.Len(t, blocks, 3)
	assert.Equal(t, h.path("a.txt")+":\nalpha\n", blocks[0])
	assert.True(t, strings.HasPrefix(blocks[1], missing+": Error - "))
	assert.Equal(t, h.path("c.txt")+":\ngamma\n", blocks[2])
}

func TestTools_DirectoryOperations(t *testing.T) {
	h := newHarness(t, nil)

	result := h.call(t, "create_directory", map[string]any{"path": h.path("sub")})
	assert.Equal(t, "Successfully created directory "+h.path("sub"), tools.ResultText(result))
	result = h.call(t, "create_directory", map[string]any{"path": h.path("sub")})
	assert.False(t, result.IsError, "existing directory is not an error")

	require.NoError(t, os.WriteFile(h.path("sub/one.txt"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(h.path("top.txt"), []byte("top"), 0o644))

	result = h.call(t, "list_directory", map[string]any{"path": h.root})
	assert.Equal(t, "[DIR] sub\n[FILE] top.txt", tools.ResultText(result))

	result = h.call(t, "directory_tree", map[string]any{"path": h.root})
	assert.Contains(t, tools.ResultText(result), `"name": "one.txt"`)

	result = h.call(t, "search_files", map[string]any{"path": h.root, "pattern": "ONE"})
	assert.Equal(t, h.path("sub/one.txt"), tools.ResultText(result))

	result = h.call(t, "search_files", map[string]any{"path": h.root, "pattern": "zzz"})
	assert.Equal(t, "No matches found", tools.ResultText(result))

	result = h.call(t, "list_directory_with_sizes", map[string]any{"path": h.root, "sortBy": "size"})
	assert.Contains(t, tools.ResultText(result), "Total: 1 files, 1 directories")
	assert.Contains(t, tools.ResultText(result), "Combined size: 3 B")
}

func TestTools_MoveFile(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(h.path("b.txt"), []byte("b"), 0o644))

	result := h.call(t, "move_file", map[string]any{"source": h.path("a.txt"), "destination": h.path("b.txt")})
	assert.True(t, result.IsError)
	assert.Contains(t, tools.ResultText(result), "destination already exists")

	result = h.call(t, "move_file", map[string]any{"source": h.path("a.txt"), "destination": h.path("c.txt")})
	assert.False(t, result.IsError)
	assert.Equal(t, "Successfully moved "+h.path("a.txt")+" to "+h.path("c.txt"), tools.ResultText(result))
	_, err := os.Stat(h.path("c.txt"))
	assert.NoError(t, err)

	result = h.call(t, "move_file", map[string]any{"source": h.path("c.txt"), "destination": filepath.Join(filepath.Dir(h.root), "stolen.txt")})
	assert.True(t, result.IsError)
	assert.Contains(t, tools.ResultText(result), "access denied")
}

func TestTools_GetFileInfoAndAllowedDirectories(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("a.txt"), []byte("abc"), 0o644))

	result := h.call(t, "get_file_info", map[string]any{"path": h.path("a.txt")})
	text := tools.ResultText(result)
	assert.Contains(t, text, "size: 3")
	assert.Contains(t, text, "isFile: true")
	assert.Contains(t, text, "permissions: ")

	result = h.call(t, "list_allowed_directories", map[string]any{})
	assert.Equal(t, "Allowed directories:\n"+h.root, tools.ResultText(result))
}
