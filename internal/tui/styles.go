package tui

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// Palette holds the color scheme for the dashboard
type Palette struct {
	FG     string // primary text
	Muted  string // durations, hints
	Accent string // running tasks, spinner
	OK     string // succeeded tasks
	Error  string // failures
}

// DefaultPalette returns the fallback amber-on-dark theme
func DefaultPalette() Palette {
	return Palette{
		FG:     "#d4a017",
		Muted:  "#6b6b4f",
		Accent: "#8bc34a",
		OK:     "#8bc34a",
		Error:  "#ff6b6b",
	}
}

// PaletteFromEnv applies SMARTIM_BUILD_* color overrides to the default palette.
func PaletteFromEnv() Palette {
	p := DefaultPalette()
	if v := os.Getenv("SMARTIM_BUILD_FG"); v != "" {
		p.FG = v
	}
	if v := os.Getenv("SMARTIM_BUILD_MUTED"); v != "" {
		p.Muted = v
	}
	if v := os.Getenv("SMARTIM_BUILD_ACCENT"); v != "" {
		p.Accent = v
	}
	if v := os.Getenv("SMARTIM_BUILD_ERROR"); v != "" {
		p.Error = v
	}
	return p
}

// Styles holds all lipgloss styles derived from a palette
type Styles struct {
	Header   lipgloss.Style
	Title    lipgloss.Style
	Version  lipgloss.Style
	Release  lipgloss.Style
	Snapshot lipgloss.Style
	Pending  lipgloss.Style
	Running  lipgloss.Style
	Done     lipgloss.Style
	Skipped  lipgloss.Style
	Failed   lipgloss.Style
	Muted    lipgloss.Style
	Error    lipgloss.Style
	HelpKey  lipgloss.Style
	HelpDesc lipgloss.Style
	Panel    lipgloss.Style
}

// NewStyles creates styles from a palette
func NewStyles(p Palette) Styles {
	return Styles{
		Header: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.FG)).
			Bold(true).
			Padding(0, 1),

		Title: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.FG)).
			Bold(true),

		Version: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Accent)).
			Bold(true),

		Release: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.OK)),

		Snapshot: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Muted)),

		Pending: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Muted)),

		Running: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Accent)),

		Done: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.OK)),

		Skipped: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Muted)).
			Italic(true),

		Failed: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Error)).
			Bold(true),

		Muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Muted)),

		Error: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Error)),

		HelpKey: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.Muted)),

		HelpDesc: lipgloss.NewStyle().
			Foreground(lipgloss.Color(p.FG)),

		Panel: lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color(p.Muted)).
			Padding(0, 1),
	}
}

// PadRight pads a string to a specific width
func PadRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// formatDuration renders task durations compactly (max 7 chars)
func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return ""
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}
