package viz

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	Panel = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444466")).
		Padding(1, 2)

	Title = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00ffff"))

	Subtle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688"))

	StatusOK = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#00ff88"))

	StatusWarn = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ffaa00"))

	StatusFail = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#ff4444"))

	Value = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00ccff")).
		Bold(true)

	Label = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888899"))

	KeyHint = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#666688")).
		Italic(true)

	Header = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#ffffff")).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(lipgloss.Color("#444466"))
)

// Budget renders the share of the iteration budget spent. The bar turns
// amber past half and red past 90%.
func Budget(used float64, width int) string {
	filled := int(used * float64(width))
	filled = max(0, min(filled, width))
	bar := strings.Repeat("█", filled) + strings.Repeat("░", width-filled)

	switch {
	case used > 0.9:
		return StatusFail.Render(bar)
	case used > 0.5:
		return StatusWarn.Render(bar)
	}
	return StatusOK.Render(bar)
}

var ticks = []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}

// Residuals renders the most recent width entries of a log10 residual
// history as a sparkline. Entries at or below logTol are drawn green.
func Residuals(history []float64, logTol float64, width int) string {
	if len(history) == 0 {
		return Subtle.Render(strings.Repeat("─", width))
	}
	if len(history) > width {
		history = history[len(history)-width:]
	}

	lo, hi := history[0], history[0]
	for _, v := range history {
		lo, hi = min(lo, v), max(hi, v)
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}

	var b strings.Builder
	for _, v := range history {
		c := string(ticks[int((v-lo)/span*float64(len(ticks)-1))])
		if v <= logTol {
			b.WriteString(StatusOK.Render(c))
		} else {
			b.WriteString(StatusWarn.Render(c))
		}
	}
	return b.String()
}
