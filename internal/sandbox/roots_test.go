package sandbox

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// realTempDir returns a resolved temp dir so expectations match the real
// paths Validate returns (macOS temp dirs live behind /var -> /private/var).
func realTempDir(t *testing.T) string {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	return dir
}

func skipWithoutSymlinks(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("symlinks require elevated privileges on windows")
	}
}

func newTestRoots(t *testing.T, dirs ...string) *Roots {
	t.Helper()
	roots, err := NewRoots(dirs)
	require.NoError(t, err)
	return roots
}

func TestNewRoots(t *testing.T) {
	dir := realTempDir(t)

	t.Run("requires at least one directory", func(t *testing.T) {
		_, err := NewRoots(nil)
		assert.Error(t, err)
	})

	t.Run("rejects missing directory", func(t *testing.T) {
		_, err := NewRoots([]string{filepath.Join(dir, "missing")})
		assert.Error(t, err)
	})

	t.Run("rejects files", func(t *testing.T) {
		file := filepath.Join(dir, "file.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
		_, err := NewRoots([]string{file})
		assert.Error(t, err)
	})

	t.Run("deduplicates resolved paths", func(t *testing.T) {
		roots := newTestRoots(t, dir, dir+string(filepath.Separator)+".")
		assert.Equal(t, []string{dir}, roots.Dirs())
	})
}

func TestValidate_InsideRoot(t *testing.T) {
	dir := realTempDir(t)
	roots := newTestRoots(t, dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "a.txt"), []byte("a"), 0o644))

	tests := []struct {
		name      string
		requested string
		want      string
	}{
		{"root itself", dir, dir},
		{"existing file", filepath.Join(dir, "sub", "a.txt"), filepath.Join(dir, "sub", "a.txt")},
		{"dot segments collapse", filepath.Join(dir, "sub", ".", "..", "sub", "a.txt"), filepath.Join(dir, "sub", "a.txt")},
		{"new file in existing dir", filepath.Join(dir, "sub", "new.txt"), filepath.Join(dir, "sub", "new.txt")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := roots.Validate(tt.requested)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, roots.containsReal(got))
		})
	}
}

func TestValidate_OutsideRoot(t *testing.T) {
	base := realTempDir(t)
	allowed := filepath.Join(base, "allowed")
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(allowed+"-evil", 0o755))
	roots := newTestRoots(t, allowed)

	tests := []struct {
		name      string
		requested string
	}{
		{"sibling directory", base},
		{"prefix sharing sibling", filepath.Join(allowed+"-evil", "x.txt")},
		{"dot dot escape", filepath.Join(allowed, "..", "allowed-evil")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := roots.Validate(tt.requested)
			require.Error(t, err)
			assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
			assert.Contains(t, err.Error(), tt.requested)
		})
	}
}

func TestValidate_SymlinkEscape(t *testing.T) {
	skipWithoutSymlinks(t)

	base := realTempDir(t)
	allowed := filepath.Join(base, "allowed")
	outside := filepath.Join(base, "outside")
	require.NoError(t, os.MkdirAll(allowed, 0o755))
	require.NoError(t, os.MkdirAll(outside, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(outside, "secret.txt"), []byte("secret"), 0o644))
	roots := newTestRoots(t, allowed)

	t.Run("file link to outside", func(t *testing.T) {
		link := filepath.Join(allowed, "link.txt")
		require.NoError(t, os.Symlink(filepath.Join(outside, "secret.txt"), link))

		_, err := roots.Validate(link)
		require.Error(t, err)
		assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
		assert.NotContains(t, err.Error(), outside)
	})

	t.Run("path through linked directory", func(t *testing.T) {
		link := filepath.Join(allowed, "linkdir")
		require.NoError(t, os.Symlink(outside, link))

		_, err := roots.Validate(filepath.Join(link, "secret.txt"))
		assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))

		_, err = roots.Validate(filepath.Join(link, "new.txt"))
		assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
	})

	t.Run("dangling link to outside", func(t *testing.T) {
		link := filepath.Join(allowed, "dangling")
		require.NoError(t, os.Symlink(filepath.Join(outside, "not-yet.txt"), link))

		_, err := roots.Validate(link)
		assert.Equal(t, fserr.KindAccessDenied, fserr.KindOf(err))
	})

	t.Run("link inside sandbox resolves", func(t *testing.T) {
		target := filepath.Join(allowed, "real.txt")
		require.NoError(t, os.WriteFile(target, []byte("ok"), 0o644))
		link := filepath.Join(allowed, "inside-link")
		require.NoError(t, os.Symlink("real.txt", link))

		got, err := roots.Validate(link)
		require.NoError(t, err)
		assert.Equal(t, target, got)
	})

	t.Run("dangling link inside sandbox resolves to target", func(t *testing.T) {
		link := filepath.Join(allowed, "future-link")
		require.NoError(t, os.Symlink("future.txt", link))

		got, err := roots.Validate(link)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(allowed, "future.txt"), got)
	})
}

func TestValidateNoFollow(t *testing.T) {
	skipWithoutSymlinks(t)
	root := realTempDir(t)
	outside := realTempDir(t)
	roots := newTestRoots(t, root)

	require.NoError(t, os.WriteFile(filepath.Join(root, "file.txt"), nil, 0o644))
	require.NoError(t, os.Symlink(filepath.Join(root, "file.txt"), filepath.Join(root, "link")))
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "escape")))

	tests := []struct {
		name    string
		path    string
		want    string
		wantErr fserr.Kind
	}{
		{"regular file", filepath.Join(root, "file.txt"), filepath.Join(root, "file.txt"), ""},
		{"link inside", filepath.Join(root, "link"), filepath.Join(root, "link"), ""},
		{"new path", filepath.Join(root, "new.txt"), filepath.Join(root, "new.txt"), ""},
		{"link outside", filepath.Join(root, "escape"), "", fserr.KindAccessDenied},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := roots.ValidateNoFollow(tt.path)
			if tt.wantErr != "" {
				assert.Equal(t, tt.wantErr, fserr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestValidate_MissingParent(t *testing.T) {
	dir := realTempDir(t)
	roots := newTestRoots(t, dir)

	_, err := roots.Validate(filepath.Join(dir, "nope", "file.txt"))
	require.Error(t, err)
	assert.Equal(t, fserr.KindNotFound, fserr.KindOf(err))
}

func TestValidate_InvalidInput(t *testing.T) {
	roots := newTestRoots(t, realTempDir(t))

	for _, requested := range []string{"", "   ", "a\x00b"} {
		_, err := roots.Validate(requested)
		assert.Equal(t, fserr.KindInvalidArguments, fserr.KindOf(err), "input %q", requested)
	}
}

func TestValidate_RelativeAndHome(t *testing.T) {
	dir := realTempDir(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rel.txt"), []byte("x"), 0o644))
	roots := newTestRoots(t, dir)

	t.Run("relative to working directory", func(t *testing.T) {
		t.Chdir(dir)
		got, err := roots.Validate("rel.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "rel.txt"), got)
	})

	t.Run("tilde expansion", func(t *testing.T) {
		t.Setenv("HOME", dir)
		t.Setenv("USERPROFILE", dir)

		got, err := roots.Validate("~/rel.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "rel.txt"), got)

		got, err = roots.Validate("~")
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})
}

func TestIsWithin(t *testing.T) {
	sep := string(filepath.Separator)
	root := sep + filepath.Join("a", "b")

	assert.True(t, IsWithin(root, root))
	assert.True(t, IsWithin(filepath.Join(root, "c"), root))
	assert.False(t, IsWithin(sep+filepath.Join("a", "bc"), root))
	assert.False(t, IsWithin(sep+"a", root))
	assert.True(t, IsWithin(filepath.Join(sep, "anything"), sep))
}
