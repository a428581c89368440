// Package snapshot turns the opaque accessibility-tree text blob returned
// by the MCP browser's snapshot tool into a orchtypes.NormalizedSnapshot
// that the rest of the orchestrator can reason about without caring what
// the underlying MCP server's text format looks like.
package snapshot

import (
	"strings"

	"github.com/subterminator/mcp-orchestrator/pkg/orchtypes"
)

const (
	urlPrefix        = "Page URL:"
	titlePrefix      = "Page Title:"
	screenshotPrefix = "Screenshot saved to:"
)

// Normalize parses raw snapshot text into a NormalizedSnapshot. It is total:
// no input, however malformed, causes it to panic or return an error. Lines
// it does not recognize as a header are kept in order as Content, each with
// a trailing "\r" removed, and leading and trailing whitespace of the joined
// Content is trimmed. Recognized header lines are consumed and do not also
// appear in Content.
func Normalize(raw string) orchtypes.NormalizedSnapshot {
	snap := orchtypes.NormalizedSnapshot{}
	var content []string

	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		switch {
		case snap.URL == "" && strings.HasPrefix(trimmed, urlPrefix):
			snap.URL = strings.TrimSpace(strings.TrimPrefix(trimmed, urlPrefix))
		case snap.Title == "" && strings.HasPrefix(trimmed, titlePrefix):
			snap.Title = strings.TrimSpace(strings.TrimPrefix(trimmed, titlePrefix))
		default:
			content = append(content, trimmed)
		}
	}

	snap.Content = strings.TrimSpace(strings.Join(content, "\n"))
	return snap
}

// NormalizeScreenshot parses the text result of a screenshot-capturing tool
// call, extracting only the on-disk path the MCP server wrote the image to.
// URL, Title, and Content are deliberately left empty: a screenshot result is
// never used as a page-state snapshot for predicate evaluation, only as an
// artifact reference, so there is nothing to gain from parsing the rest of
// its text as if it were an accessibility-tree dump. A missing or
// unrecognized path leaves ScreenshotPath empty; it is never an error for a
// screenshot result to lack a path line (some servers embed the image
// inline instead).
func NormalizeScreenshot(raw string) orchtypes.NormalizedSnapshot {
	for _, line := range strings.Split(raw, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		if strings.HasPrefix(trimmed, screenshotPrefix) {
			return orchtypes.NormalizedSnapshot{ScreenshotPath: strings.TrimSpace(strings.TrimPrefix(trimmed, screenshotPrefix))}
		}
	}
	return orchtypes.NormalizedSnapshot{}
}
