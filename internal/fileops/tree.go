package fileops

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/sammcj/mcp-filesystem/internal/fserr"
)

// Node types.
const (
	NodeFile      = "file"
	NodeDirectory = "directory"
)

// TreeNode is one entry of a directory tree. Children is nil for files and
// non-nil, possibly empty, for directories so that files carry no children
// key at all when encoded.
type TreeNode struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	Children *[]TreeNode `json:"children,omitempty"`
}

// TreeResult is the nested structure below a directory.
type TreeResult struct {
	Nodes   []TreeNode
	Skipped []string
}

// Tree eagerly builds the nested structure below dir. Directories that fail
// validation, cannot be read or are cut off by the depth or cycle guards are
// returned with an empty children list.
func (w *Walker) Tree(dir string) (*TreeResult, error) {
	if _, err := os.ReadDir(dir); err != nil {
		return nil, err
	}

	state := newWalkState(dir)
	nodes := w.tree(state, dir, dir, 0)
	return &TreeResult{Nodes: nodes, Skipped: state.skipped}, nil
}

func (w *Walker) tree(state *walkState, display, real string, depth int) []TreeNode {
	nodes := []TreeNode{}

	entries, err := os.ReadDir(real)
	if err != nil {
		w.skip(state, display, "unreadable directory")
		return nodes
	}

	for _, entry := range entries {
		path := filepath.Join(display, entry.Name())
		node := TreeNode{Name: entry.Name(), Type: NodeFile}

		resolved, isDir, err := w.resolveEntry(path, entry)
		if err != nil {
			w.skip(state, path, string(fserr.KindOf(err)))
			if isDirEntry(path, entry) {
				node.Type = NodeDirectory
				node.Children = &[]TreeNode{}
			}
			nodes = append(nodes, node)
			continue
		}

		if isDir {
			node.Type = NodeDirectory
			children := []TreeNode{}
			if w.descend(state, path, resolved, depth+1) {
				state.active[resolved] = true
				children = w.tree(state, path, resolved, depth+1)
				delete(state.active, resolved)
			}
			node.Children = &children
		}
		nodes = append(nodes, node)
	}
	return nodes
}

// isDirEntry reports whether an entry that failed validation is a directory,
// following symlinks.
func isDirEntry(path string, entry os.DirEntry) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// FormatTree renders nodes as JSON with two-space indentation.
func FormatTree(nodes []TreeNode) (string, error) {
	if nodes == nil {
		nodes = []TreeNode{}
	}
	out, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}
