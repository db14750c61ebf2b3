package filesystem

import "github.com/sammcj/mcp-filesystem/internal/fileops"

// ReadFileRequest represents the request for reading a file
type ReadFileRequest struct {
	Path string
	Head *int // Read only first N lines
	Tail *int // Read only last N lines
}

// WriteFileRequest represents the request for writing a file
type WriteFileRequest struct {
	Path    string
	Content string
}

// EditFileRequest represents the request for editing a file
type EditFileRequest struct {
	Path   string
	Edits  []fileops.Edit
	DryRun bool
}

// MoveFileRequest represents the request for moving/renaming files
type MoveFileRequest struct {
	Source      string
	Destination string
}

// SearchFilesRequest represents the request for searching files
type SearchFilesRequest struct {
	Path            string
	Pattern         string
	ExcludePatterns []string
}

// ListDirectoryRequest represents the request for a sized listing
type ListDirectoryRequest struct {
	Path   string
	SortBy string // "name" or "size"
}
