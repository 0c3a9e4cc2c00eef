package proposals

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

const (
	previewMaxLines = 20
	previewMaxBytes = 500
)

// unifiedDiff renders a unified diff between the original and proposed
// content, plus the added/removed line counts.
func unifiedDiff(original, proposed string) (diff string, added, removed int) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(original),
		B:        difflib.SplitLines(proposed),
		FromFile: "original",
		ToFile:   "proposed",
		Context:  3,
	})
	if err != nil {
		return "", 0, 0
	}
	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
		case strings.HasPrefix(line, "+"):
			added++
		case strings.HasPrefix(line, "-"):
			removed++
		}
	}
	return text, added, removed
}

// diffPreview truncates a diff for inline display in a tool result.
func diffPreview(diff string) string {
	lines := strings.Split(diff, "\n")
	if len(lines) > previewMaxLines {
		lines = lines[:previewMaxLines]
	}
	out := strings.Join(lines, "\n")
	if len(out) > previewMaxBytes {
		out = out[:previewMaxBytes]
	}
	return out
}
