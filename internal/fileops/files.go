package fileops

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/djherbis/times"
	"github.com/google/uuid"
)

// ErrDestinationExists is returned by Move when the destination is taken.
var ErrDestinationExists = errors.New("destination already exists")

// ErrTooLarge is returned by ReadFile when a file exceeds the size limit.
var ErrTooLarge = errors.New("file exceeds maximum size")

// ReadFile reads the whole file, refusing files larger than maxSize bytes
// when maxSize is positive.
func ReadFile(path string, maxSize int64) ([]byte, error) {
	if maxSize > 0 {
		info, err := os.Stat(path)
		if err != nil {
			return nil, err
		}
		if info.Size() > maxSize {
			return nil, fmt.Errorf("%w of %s", ErrTooLarge, FormatSize(maxSize))
		}
	}
	return os.ReadFile(path)
}

// WriteFileAtomic writes data to a sibling temp file and renames it over
// path. A symlink at path is replaced, not followed.
func WriteFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp := filepath.Join(dir, fmt.Sprintf("%s.%s.tmp", filepath.Base(path), uuid.NewString()))

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	// OpenFile applies the umask; make the final mode match perm.
	if err := os.Chmod(tmp, perm); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}

// Move renames source to destination, failing if destination exists.
func Move(source, destination string) error {
	if _, err := os.Lstat(destination); err == nil {
		return ErrDestinationExists
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(source, destination)
}

// FileInfo is the metadata reported by get_file_info.
type FileInfo struct {
	Size        int64
	Created     time.Time
	Modified    time.Time
	Accessed    time.Time
	IsDirectory bool
	IsFile      bool
	Permissions string
}

// Stat collects metadata for path. Created is the birth time where the
// platform records one, falling back to the status change time and then the
// modification time.
func Stat(path string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	fi := &FileInfo{
		Size:        info.Size(),
		Modified:    info.ModTime(),
		Accessed:    info.ModTime(),
		Created:     info.ModTime(),
		IsDirectory: info.IsDir(),
		IsFile:      info.Mode().IsRegular(),
		Permissions: fmt.Sprintf("%o", info.Mode().Perm()),
	}

	ts := times.Get(info)
	fi.Accessed = ts.AccessTime()
	switch {
	case ts.HasBirthTime():
		fi.Created = ts.BirthTime()
	case ts.HasChangeTime():
		fi.Created = ts.ChangeTime()
	}
	return fi, nil
}

// Format renders the metadata as "key: value" lines.
func (fi *FileInfo) Format() string {
	lines := []string{
		fmt.Sprintf("size: %d", fi.Size),
		fmt.Sprintf("created: %s", fi.Created.Format(time.RFC3339)),
		fmt.Sprintf("modified: %s", fi.Modified.Format(time.RFC3339)),
		fmt.Sprintf("accessed: %s", fi.Accessed.Format(time.RFC3339)),
		fmt.Sprintf("isDirectory: %t", fi.IsDirectory),
		fmt.Sprintf("isFile: %t", fi.IsFile),
		fmt.Sprintf("permissions: %s", fi.Permissions),
	}
	return strings.Join(lines, "\n")
}
