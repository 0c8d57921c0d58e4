package terminal

import (
	"regexp"

	"github.com/charmbracelet/glamour"
)

var (
	leadingWhitespace  = regexp.MustCompile(`^(?:\x1b\[[0-9;]*m|\s)*`)
	trailingWhitespace = regexp.MustCompile(`(?:\x1b\[[0-9;]*m|\s)*$`)
)

// FormatMarkdown renders markdown for the terminal. The content is returned
// unchanged if rendering fails.
func FormatMarkdown(content string, width int) string {
	md, err := glamour.NewTermRenderer(
		glamour.WithStandardStyle("dark"), // avoid OSC background queries
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return content
	}

	out, err := md.Render(content)
	if err != nil {
		return content
	}
	return trimTrailingWhitespaceWithANSI(trimLeadingWhitespaceWithANSI(out))
}

func trimLeadingWhitespaceWithANSI(s string) string {
	return leadingWhitespace.ReplaceAllString(s, "")
}

func trimTrailingWhitespaceWithANSI(s string) string {
	return trailingWhitespace.ReplaceAllString(s, "")
}
