// Package fileops implements the file manipulation engine behind the
// filesystem tools: ordered text edits and diff rendering, chunked line
// reads, sandbox-aware directory walks and atomic writes.
package fileops

import (
	"strings"

	"github.com/sammcj/mcp-filesystem/internal/fserr"
)

// Edit replaces the first occurrence of OldText with NewText.
type Edit struct {
	OldText string `json:"oldText"`
	NewText string `json:"newText"`
}

// ApplyEdits applies edits in order, each against the content produced by the
// edits before it. The first edit whose OldText is missing aborts the whole
// batch with an EditNotFound error.
func ApplyEdits(content string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return "", fserr.InvalidArguments("no edits provided")
	}

	modified := content
	for i, edit := range edits {
		if edit.OldText == "" {
			return "", fserr.InvalidArguments("edit %d: oldText must not be empty", i+1)
		}
		if !strings.Contains(modified, edit.OldText) {
			return "", fserr.EditNotFound("edit %d: could not find text to replace: %s", i+1, edit.OldText)
		}
		modified = strings.Replace(modified, edit.OldText, edit.NewText, 1)
	}
	return modified, nil
}
