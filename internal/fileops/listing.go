package fileops

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sammcj/mcp-filesystem/internal/fserr"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// DirectoryEntry describes one entry of a sized listing. Size is zero for
// directories.
type DirectoryEntry struct {
	Name    string
	IsDir   bool
	Size    int64
	ModTime time.Time
}

// Listing is a sorted directory listing with aggregate totals.
type Listing struct {
	Entries   []DirectoryEntry
	Files     int
	Dirs      int
	TotalSize int64
}

// Sort orders accepted by SortEntries.
const (
	SortByName = "name"
	SortBySize = "size"
)

// ListWithSizes lists dir, sorts it by sortBy and totals the file sizes.
func (w *Walker) ListWithSizes(dir, sortBy string) (*Listing, error) {
	if sortBy == "" {
		sortBy = SortByName
	}
	if sortBy != SortByName && sortBy != SortBySize {
		return nil, fserr.InvalidArguments("sortBy must be %q or %q, got %q", SortByName, SortBySize, sortBy)
	}

	entries, err := w.List(dir)
	if err != nil {
		return nil, err
	}
	SortEntries(entries, sortBy)

	listing := &Listing{Entries: entries}
	for _, e := range entries {
		if e.IsDir {
			listing.Dirs++
			continue
		}
		listing.Files++
		listing.TotalSize += e.Size
	}
	return listing, nil
}

// SortEntries sorts by name using case-insensitive collation, or by size
// descending with ties broken by name.
func SortEntries(entries []DirectoryEntry, sortBy string) {
	col := collate.New(language.Und, collate.IgnoreCase)
	byName := func(a, b string) bool {
		if c := col.CompareString(a, b); c != 0 {
			return c < 0
		}
		return a < b
	}

	if sortBy == SortBySize {
		sort.SliceStable(entries, func(i, j int) bool {
			if entries[i].Size != entries[j].Size {
				return entries[i].Size > entries[j].Size
			}
			return byName(entries[i].Name, entries[j].Name)
		})
		return
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return byName(entries[i].Name, entries[j].Name)
	})
}

// Format renders the listing as padded rows followed by a summary.
func (l *Listing) Format() string {
	var b strings.Builder
	for _, e := range l.Entries {
		if e.IsDir {
			fmt.Fprintf(&b, "[DIR] %s\n", e.Name)
			continue
		}
		fmt.Fprintf(&b, "[FILE] %-30s %10s\n", e.Name, FormatSize(e.Size))
	}
	fmt.Fprintf(&b, "\nTotal: %d files, %d directories\n", l.Files, l.Dirs)
	fmt.Fprintf(&b, "Combined size: %s", FormatSize(l.TotalSize))
	return b.String()
}

var sizeUnits = []string{"B", "KB", "MB", "GB", "TB"}

// FormatSize renders a byte count using 1024-based units up to TB.
func FormatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	value := float64(bytes)
	exp := 0
	for value >= unit && exp < len(sizeUnits)-1 {
		value /= unit
		exp++
	}
	return fmt.Sprintf("%.2f %s", value, sizeUnits[exp])
}
