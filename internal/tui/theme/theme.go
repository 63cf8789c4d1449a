// Package theme provides the Lip Gloss color palette and reusable styles
// for the quaketrack TUI. It is a leaf package with no internal imports
// to avoid import cycles.
package theme

import "github.com/charmbracelet/lipgloss"

// Magnitude colors, weakest to strongest.
var (
	ColorMicro    = lipgloss.Color("#67e8f9") // < 2
	ColorMinor    = lipgloss.Color("#22c55e") // < 4
	ColorLight    = lipgloss.Color("#f59e0b") // < 5
	ColorModerate = lipgloss.Color("#d97706") // < 6
	ColorStrong   = lipgloss.Color("#dc2626") // < 7
	ColorMajor    = lipgloss.Color("#a855f7") // >= 7
)

// Fetch phase colors.
var (
	ColorIdle    = lipgloss.Color("#4b5563")
	ColorLoading = lipgloss.Color("#2563eb")
	ColorSuccess = lipgloss.Color("#16a34a")
	ColorError   = lipgloss.Color("#dc2626")
)

// UI chrome colors.
var (
	ColorBorder   = lipgloss.Color("#4b5563")
	ColorDimmed   = lipgloss.Color("#6b7280")
	ColorGrid     = lipgloss.Color("#1f2937")
	ColorBright   = lipgloss.Color("#f9fafb")
	ColorBg       = lipgloss.Color("#111827")
	ColorHealthy  = lipgloss.Color("#22c55e")
	ColorWarning  = lipgloss.Color("#d97706")
	ColorDanger   = lipgloss.Color("#dc2626")
	ColorSelected = lipgloss.Color("#facc15")
	ColorDefault  = lipgloss.Color("#9ca3af")
)

// MagnitudeColor returns the color for a magnitude.
func MagnitudeColor(mag float64) lipgloss.Color {
	switch {
	case mag >= 7:
		return ColorMajor
	case mag >= 6:
		return ColorStrong
	case mag >= 5:
		return ColorModerate
	case mag >= 4:
		return ColorLight
	case mag >= 2:
		return ColorMinor
	default:
		return ColorMicro
	}
}

// MagnitudeGlyph returns the map glyph for a single event.
func MagnitudeGlyph(mag float64) string {
	switch {
	case mag >= 6:
		return "◉"
	case mag >= 4:
		return "●"
	case mag >= 2:
		return "•"
	default:
		return "·"
	}
}

// PhaseColor returns the color for a fetch phase name.
func PhaseColor(phase string) lipgloss.Color {
	switch phase {
	case "idle":
		return ColorIdle
	case "loading":
		return ColorLoading
	case "success":
		return ColorSuccess
	case "error":
		return ColorError
	default:
		return ColorDefault
	}
}

// FreshnessColor returns the color for the fraction of TTL remaining.
func FreshnessColor(frac float64) lipgloss.Color {
	switch {
	case frac > 0.5:
		return ColorHealthy
	case frac > 0.2:
		return ColorWarning
	default:
		return ColorDanger
	}
}

// Reusable styles.
var (
	StyleBorder = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(ColorBorder)

	StyleHeader = lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorBright)

	StyleDimmed = lipgloss.NewStyle().
		Foreground(ColorDimmed)

	StyleSelected = lipgloss.NewStyle().
		Bold(true).
		Reverse(true).
		Foreground(ColorSelected)
)
