// Package ui holds terminal styling for the atlasgrid CLI.
package ui

import (
	"fmt"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
)

// ANSI256 color codes matching the Ayu palette.
const (
	colorAccent    = 74  // blue
	colorMuted     = 245 // medium gray
	colorAvailable = 114 // green
	colorOccupied  = 203 // red
	colorObstacle  = 221 // yellow
	colorCommand   = 180 // tan
)

var noColor bool

// ForceNoColor disables color output globally.
func ForceNoColor() {
	noColor = true
}

func render(code int, s string) string {
	if noColor {
		return s
	}
	return fmt.Sprintf("\x1b[38;5;%dm%s\x1b[0m", code, s)
}

// RenderAccent returns s in the accent (blue) color.
func RenderAccent(s string) string {
	return render(colorAccent, s)
}

// RenderMuted returns s in the muted (gray) color.
func RenderMuted(s string) string {
	return render(colorMuted, s)
}

// RenderStatus returns the status name colored by status. Stale spaces are
// muted regardless of status, since their status may be outdated.
func RenderStatus(st model.Status, stale bool) string {
	label := string(st)
	if stale {
		return render(colorMuted, label+" (stale)")
	}
	switch st {
	case model.StatusAvailable:
		return render(colorAvailable, label)
	case model.StatusOccupied:
		return render(colorOccupied, label)
	case model.StatusObstacle:
		return render(colorObstacle, label)
	default:
		return label
	}
}

// StatusGlyph is a one-cell marker for the compact lot view.
func StatusGlyph(st model.Status, stale bool) string {
	switch {
	case stale:
		return render(colorMuted, "?")
	case st == model.StatusOccupied:
		return render(colorOccupied, "#")
	case st == model.StatusObstacle:
		return render(colorObstacle, "x")
	default:
		return render(colorAvailable, ".")
	}
}

// RenderCommand returns s in the command-name color used by help output.
func RenderCommand(s string) string {
	return render(colorCommand, s)
}
