package ui

import "github.com/charmbracelet/lipgloss"

// Semantic Color Palette
// Designed for accessibility (colorblind-safe) with both color and shape differentiation.

// Status colors - each session state has a distinct color and icon
var (
	// StatusReady indicates the session is idle and accepting input
	StatusReady = lipgloss.AdaptiveColor{Light: "#22C55E", Dark: "#22C55E"}

	// StatusBusy indicates a request is in flight
	StatusBusy = lipgloss.AdaptiveColor{Light: "#3B82F6", Dark: "#3B82F6"}

	// StatusStarting indicates the session is spawning
	StatusStarting = lipgloss.AdaptiveColor{Light: "#F59E0B", Dark: "#F59E0B"}

	// StatusFailed indicates the session died or could not start
	StatusFailed = lipgloss.AdaptiveColor{Light: "#EF4444", Dark: "#EF4444"}

	// StatusStopped indicates a terminated or never-started session
	StatusStopped = lipgloss.AdaptiveColor{Light: "#6B7280", Dark: "#6B7280"}
)

// UI chrome colors - structural elements
var (
	// Primary is the accent color
	Primary = lipgloss.AdaptiveColor{Light: "#7D56F4", Dark: "#7D56F4"}

	// TextMuted is for hints and subtle text
	TextMuted = lipgloss.AdaptiveColor{Light: "#9CA3AF", Dark: "#6B7280"}
)

// Status icons for accessibility (shape + color)
const (
	IconReady    = "●"
	IconBusy     = "○"
	IconStarting = "!"
	IconFailed   = "×"
	IconStopped  = "⏸"
)

var (
	titleStyle  = lipgloss.NewStyle().Foreground(Primary).Bold(true)
	mutedStyle  = lipgloss.NewStyle().Foreground(TextMuted)
	statusStyle = map[string]lipgloss.Style{
		"ready":    lipgloss.NewStyle().Foreground(StatusReady),
		"busy":     lipgloss.NewStyle().Foreground(StatusBusy),
		"starting": lipgloss.NewStyle().Foreground(StatusStarting),
		"failed":   lipgloss.NewStyle().Foreground(StatusFailed),
	}
	stoppedStyle = lipgloss.NewStyle().Foreground(StatusStopped)
)

// statusIcon returns the shape paired with a status, so state is readable
// without color.
func statusIcon(status string) string {
	icon := map[string]string{
		"ready":    IconReady,
		"busy":     IconBusy,
		"starting": IconStarting,
		"failed":   IconFailed,
	}[status]
	if icon == "" {
		icon = IconStopped
	}
	return icon
}

// statusBadge renders a colored status indicator with its icon.
func statusBadge(status string) string {
	style, ok := statusStyle[status]
	if !ok {
		style = stoppedStyle
	}
	return style.Render(statusIcon(status) + " " + status)
}
