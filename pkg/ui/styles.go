// Package ui holds the console palette and column formatting shared by the
// job output and the CLI.
package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
)

// Palette adapts to terminal capabilities via lipgloss.
var (
	colorGreen   = lipgloss.Color("42")
	colorRed     = lipgloss.Color("196")
	colorYellow  = lipgloss.Color("214")
	colorBlue    = lipgloss.Color("39")
	colorCyan    = lipgloss.Color("51")
	colorMagenta = lipgloss.Color("201")
	colorDim     = lipgloss.Color("240")
)

var (
	JobName  = lipgloss.NewStyle().Foreground(colorBlue)
	OutMark  = lipgloss.NewStyle().Foreground(colorGreen)
	ErrMark  = lipgloss.NewStyle().Foreground(colorRed)
	Status   = lipgloss.NewStyle().Foreground(colorMagenta).Bold(true)
	Elapsed  = lipgloss.NewStyle().Foreground(colorMagenta)
	Warning  = lipgloss.NewStyle().Foreground(colorYellow).Bold(true)
	Failure  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	Info     = lipgloss.NewStyle().Foreground(colorCyan)
	Faint    = lipgloss.NewStyle().Foreground(colorDim)
	Success  = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	Headline = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
)

// PadName right-pads name with spaces to width display columns.
func PadName(name string, width int) string {
	return runewidth.FillRight(name, width)
}

// JobTag renders the padded, colored job-name column. Padding stays
// outside the style so it survives any renderer.
func JobTag(name string, width int) string {
	pad := width - runewidth.StringWidth(name)
	if pad < 0 {
		pad = 0
	}
	return JobName.Render(name) + strings.Repeat(" ", pad)
}

// FormatDuration renders elapsed time for summary lines, e.g. "850 ms",
// "1.24 s" or "2 m 5 s".
func FormatDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%d μs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%d ms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.2f s", d.Seconds())
	default:
		d = d.Round(time.Second)
		return fmt.Sprintf("%d m %d s", int(d.Minutes()), int(d.Seconds())%60)
	}
}
