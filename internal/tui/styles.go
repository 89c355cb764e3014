package tui

import (
	"strings"

	"charm.land/lipgloss/v2"
)

// Brand color for the banner.
const alcoveAmber = "#E8A33D"

var alcoveArt = []string{
	"  █████╗ ██╗      ██████╗ ██████╗ ██╗   ██╗███████╗",
	" ██╔══██╗██║     ██╔════╝██╔═══██╗██║   ██║██╔════╝",
	" ███████║██║     ██║     ██║   ██║██║   ██║█████╗  ",
	" ██╔══██║██║     ██║     ██║   ██║╚██╗ ██╔╝██╔══╝  ",
	" ██║  ██║███████╗╚██████╗╚██████╔╝ ╚████╔╝ ███████╗",
	" ╚═╝  ╚═╝╚══════╝ ╚═════╝ ╚═════╝   ╚═══╝  ╚══════╝",
}

// Styles contains all lipgloss styles for the TUI.
type Styles struct {
	Banner    lipgloss.Style
	User      lipgloss.Style
	Assistant lipgloss.Style
	System    lipgloss.Style
	Tips      lipgloss.Style
	Error     lipgloss.Style
	Prompt    lipgloss.Style
	Separator lipgloss.Style
	StatusBar lipgloss.Style
}

// DefaultStyles returns the default style configuration.
func DefaultStyles() Styles {
	return Styles{
		Banner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color(alcoveAmber)),
		User:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Assistant: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212")),
		System:    lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("240")),
		Tips:      lipgloss.NewStyle().Foreground(lipgloss.Color("255")),
		Error:     lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		Prompt:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("86")),
		Separator: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		StatusBar: lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
	}
}

// RenderBanner returns the ALCOVE ASCII art banner as a styled string.
func (s Styles) RenderBanner() string {
	var b strings.Builder
	for _, line := range alcoveArt {
		_, _ = b.WriteString(s.Banner.Render(line))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}

var welcomeTips = []string{
	"Tips for getting started:",
	"  • /new <name> file.pdf ... creates a workspace from your documents",
	"  • Ask questions naturally once a workspace is selected",
	"  • Use /help to see all commands",
	"  • Press Esc to cancel a response, Ctrl+D to exit",
}

// RenderWelcomeTips returns styled welcome tips.
func (s Styles) RenderWelcomeTips() string {
	var b strings.Builder
	for _, tip := range welcomeTips {
		_, _ = b.WriteString(s.Tips.Render(tip))
		_, _ = b.WriteString("\n")
	}
	return b.String()
}
