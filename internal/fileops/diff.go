package fileops

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffFunc renders the difference between two versions of a file.
type DiffFunc func(original, modified, label string) string

// Diff modes accepted by DiffFor.
const (
	DiffModePositional = "positional"
	DiffModeLCS        = "lcs"
)

// DiffFor returns the renderer for mode, defaulting to the positional diff.
func DiffFor(mode string) DiffFunc {
	if mode == DiffModeLCS {
		return RenderLCSDiff
	}
	return RenderDiff
}

// RenderDiff compares the two texts line by line at equal indices. It is not
// a minimal diff: an inserted line shows every following line as changed.
func RenderDiff(original, modified, label string) string {
	originalLines := strings.Split(original, "\n")
	modifiedLines := strings.Split(modified, "\n")

	var b strings.Builder
	writeDiffHeader(&b, label)

	maxLines := max(len(originalLines), len(modifiedLines))
	for i := range maxLines {
		var origLine, modLine string
		if i < len(originalLines) {
			origLine = originalLines[i]
		}
		if i < len(modifiedLines) {
			modLine = modifiedLines[i]
		}
		if origLine == modLine {
			continue
		}
		if origLine != "" {
			fmt.Fprintf(&b, "-%s\n", origLine)
		}
		if modLine != "" {
			fmt.Fprintf(&b, "+%s\n", modLine)
		}
	}

	b.WriteString("```")
	return b.String()
}

// RenderLCSDiff has the same output shape as RenderDiff but aligns lines on
// their longest common subsequence, so insertions do not cascade.
func RenderLCSDiff(original, modified, label string) string {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(original, modified)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var out strings.Builder
	writeDiffHeader(&out, label)

	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffDelete:
			prefix = "-"
		case diffmatchpatch.DiffInsert:
			prefix = "+"
		default:
			continue
		}
		for _, line := range splitDiffText(d.Text) {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
			out.WriteByte('\n')
		}
	}

	out.WriteString("```")
	return out.String()
}

func writeDiffHeader(b *strings.Builder, label string) {
	b.WriteString("```diff\n")
	fmt.Fprintf(b, "--- %s (original)\n", label)
	fmt.Fprintf(b, "+++ %s (modified)\n", label)
}

// splitDiffText splits a run of whole lines, ignoring the terminating newline.
func splitDiffText(text string) []string {
	return strings.Split(strings.TrimSuffix(text, "\n"), "\n")
}
