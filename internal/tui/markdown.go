package tui

import (
	"strings"

	"github.com/charmbracelet/glamour"
)

// markdownRenderer converts Markdown to styled terminal output via glamour.
// The renderer is cached and only recreated when the width changes.
type markdownRenderer struct {
	renderer *glamour.TermRenderer
	width    int
}

// newMarkdownRenderer creates a renderer with terminal-appropriate styling.
// A nil renderer degrades to plain text.
func newMarkdownRenderer(width int) *markdownRenderer {
	if width <= 0 {
		width = 80
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return nil
	}
	return &markdownRenderer{renderer: r, width: width}
}

// UpdateWidth recreates the renderer only if width actually changed.
func (m *markdownRenderer) UpdateWidth(width int) bool {
	if m == nil || width <= 0 || m.width == width {
		return false
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return false
	}
	m.renderer = r
	m.width = width
	return true
}

// Render converts Markdown to styled output, falling back to the original
// text on any failure.
func (m *markdownRenderer) Render(markdown string) string {
	if m == nil || m.renderer == nil {
		return markdown
	}
	rendered, err := m.renderer.Render(markdown)
	if err != nil {
		return markdown
	}
	return strings.TrimSuffix(rendered, "\n")
}
