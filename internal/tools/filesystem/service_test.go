package filesystem

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sammcj/mcp-filesystem/internal/config"
	"github.com/sammcj/mcp-filesystem/internal/fileops"
	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/sammcj/mcp-filesystem/internal/sandbox"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(n int) *int { return &n }

func TestService_ReadFileHeadTail(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("f.txt"), []byte("1\n2\n3\n4"), 0o644))

	got, err := h.svc.ReadFile(ReadFileRequest{Path: h.path("f.txt"), Head: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, "1\n2", got)

	got, err = h.svc.ReadFile(ReadFileRequest{Path: h.path("f.txt"), Tail: intPtr(2)})
	require.NoError(t, err)
	assert.Equal(t, "3\n4", got)

	_, err = h.svc.ReadFile(ReadFileRequest{Path: h.path("f.txt"), Head: intPtr(1), Tail: intPtr(1)})
	assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))
}

func TestService_MaxFileSize(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFileSize = 8
	h := newHarness(t, cfg)

	_, err := h.svc.WriteFile(WriteFileRequest{Path: h.path("big.txt"), Content: strings.Repeat("x", 9)})
	assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))

	require.NoError(t, os.WriteFile(h.path("big.txt"), []byte(strings.Repeat("x\n", 10)), 0o644))
	_, err = h.svc.ReadFile(ReadFileRequest{Path: h.path("big.txt")})
	assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))

	got, err := h.svc.ReadFile(ReadFileRequest{Path: h.path("big.txt"), Tail: intPtr(1)})
	require.NoError(t, err)
	assert.Equal(t, "x", got)
}

func TestService_HeadTailRespectMaxFileSize(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFileSize = 64
	h := newHarness(t, cfg)
	require.NoError(t, os.WriteFile(h.path("flat.txt"), []byte(strings.Repeat("y", 4096)), 0o644))

	for _, req := range []ReadFileRequest{
		{Path: h.path("flat.txt"), Head: intPtr(1)},
		{Path: h.path("flat.txt"), Tail: intPtr(1)},
	} {
		_, err := h.svc.ReadFile(req)
		assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))
		assert.Contains(t, err.Error(), "maximum size")
	}
}

func TestService_ReadMultipleFilesCancelled(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(h.path("b.txt"), []byte("b"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := h.svc.ReadMultipleFiles(ctx, []string{h.path("a.txt"), h.path("b.txt")})
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "Error - context canceled"))
}

func TestService_WritePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission bits are not enforced on windows")
	}
	cfg := config.Default()
	cfg.FilePermissions = "0600"
	h := newHarness(t, cfg)

	_, err := h.svc.WriteFile(WriteFileRequest{Path: h.path("p.txt"), Content: "x"})
	require.NoError(t, err)
	info, err := os.Stat(h.path("p.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	// Edits keep the file's existing mode.
	_, err = h.svc.EditFile(EditFileRequest{Path: h.path("p.txt"), Edits: []fileops.Edit{{OldText: "x", NewText: "y"}}})
	require.NoError(t, err)
	info, err = os.Stat(h.path("p.txt"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestService_LCSDiffMode(t *testing.T) {
	cfg := config.Default()
	cfg.DiffMode = config.DiffModeLCS
	h := newHarness(t, cfg)
	require.NoError(t, os.WriteFile(h.path("f.txt"), []byte("a\nb"), 0o644))

	diff, err := h.svc.EditFile(EditFileRequest{
		Path:   h.path("f.txt"),
		Edits:  []fileops.Edit{{OldText: "a", NewText: "x\na"}},
		DryRun: true,
	})
	require.NoError(t, err)
	assert.Contains(t, diff, "+x\n")
	assert.NotContains(t, diff, "\n-a\n")
}

func TestService_WalkErrorsReport(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	cfg := config.Default()
	cfg.WalkErrors = config.WalkErrorsReport
	h := newHarness(t, cfg)

	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, h.path("escape")))
	require.NoError(t, os.WriteFile(h.path("keep.txt"), []byte("k"), 0o644))

	out, err := h.svc.SearchFiles(SearchFilesRequest{Path: h.root, Pattern: ""})
	require.NoError(t, err)
	assert.Contains(t, out, h.path("keep.txt"))
	assert.Contains(t, out, "Skipped 1 entries: escape")
}

func TestService_WriteThroughSymlinkOutsideDenied(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	h := newHarness(t, nil)
	outside := t.TempDir()
	target := filepath.Join(outside, "victim.txt")
	require.NoError(t, os.Symlink(target, h.path("link.txt")))

	_, err := h.svc.WriteFile(WriteFileRequest{Path: h.path("link.txt"), Content: "pwned"})
	assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
	_, statErr := os.Stat(target)
	assert.True(t, os.IsNotExist(statErr))
}

func TestService_MoveSymlinkMovesLink(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
	h := newHarness(t, nil)
	require.NoError(t, os.WriteFile(h.path("target.txt"), []byte("data"), 0o644))
	require.NoError(t, os.Symlink(h.path("target.txt"), h.path("link.txt")))
	require.NoError(t, os.Symlink(h.path("missing.txt"), h.path("dangling.txt")))

	_, err := h.svc.MoveFile(MoveFileRequest{Source: h.path("link.txt"), Destination: h.path("moved.txt")})
	require.NoError(t, err)

	data, err := os.ReadFile(h.path("target.txt"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))

	info, err := os.Lstat(h.path("moved.txt"))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode()&os.ModeSymlink)
	_, err = os.Lstat(h.path("link.txt"))
	assert.True(t, os.IsNotExist(err))

	// A dangling link at the destination still counts as an existing entry.
	_, err = h.svc.MoveFile(MoveFileRequest{Source: h.path("target.txt"), Destination: h.path("dangling.txt")})
	assert.Equal(t, fserr.KindIO, fserr.KindOf(err))
	_, err = os.Stat(h.path("missing.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestService_ReadMultipleFilesRequiresPaths(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.svc.ReadMultipleFiles(context.Background(), nil)
	assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))
}

func TestService_RelativePathResolvesAgainstWorkingDirectory(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.Mkdir(h.path("dir"), 0o755))
	require.NoError(t, os.WriteFile(h.path("dir/a.txt"), []byte("rel"), 0o644))

	_, err := h.svc.ReadFile(ReadFileRequest{Path: "dir/a.txt"})
	assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
	assert.NotContains(t, err.Error(), h.root)

	t.Chdir(h.root)
	got, err := h.svc.ReadFile(ReadFileRequest{Path: "dir/a.txt"})
	require.NoError(t, err)
	assert.Equal(t, "rel", got)
}

func TestService_EditCannotGrowPastMaxFileSize(t *testing.T) {
	cfg := config.Default()
	cfg.MaxFileSize = 100
	h := newHarness(t, cfg)
	require.NoError(t, os.WriteFile(h.path("edit.txt"), []byte("short content"), 0o644))

	edits := []fileops.Edit{{OldText: "short content", NewText: strings.Repeat("x", 150)}}
	_, err := h.svc.EditFile(EditFileRequest{Path: h.path("edit.txt"), Edits: edits})
	assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err))

	data, err := os.ReadFile(h.path("edit.txt"))
	require.NoError(t, err)
	assert.Equal(t, "short content", string(data))
}

func TestService_DenyPatternsHideEntries(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, os.MkdirAll(h.path("app"), 0o755))
	require.NoError(t, os.WriteFile(h.path("app/config.env"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(h.path("app/config.yaml"), []byte("b"), 0o644))

	deny, err := sandbox.NewDenyList([]string{"*.env"})
	require.NoError(t, err)
	svc := NewService(h.svc.roots.WithDenyList(deny), nil, nil)

	_, err = svc.ReadFile(ReadFileRequest{Path: h.path("app/config.env")})
	assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))

	got, err := svc.SearchFiles(SearchFilesRequest{Path: h.root, Pattern: "config"})
	require.NoError(t, err)
	assert.Contains(t, got, "config.yaml")
	assert.NotContains(t, got, "config.env")
}
