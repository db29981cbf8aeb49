package ui

import (
	"fmt"
	"math"
	"strings"

	"github.com/doridoridoriand/netmon/internal/state"
	"github.com/gdamore/tcell/v2"
)

// Fixed columns of a target row; the latency bar takes what is left.
var columns = []struct {
	title string
	width int
}{
	{"NAME", 14},
	{"DESTINATION", 18},
	{"STATUS", 7},
	{"LAT ms", 13},
	{"JIT ms", 13},
	{"LOSS %", 13},
}

func headerLine(width int) []styledRune {
	parts := make([]styledText, 0, len(columns)+1)
	style := tcell.StyleDefault.Underline(true)
	for _, c := range columns {
		parts = append(parts, styledText{text: padOrTrim(c.title, c.width) + " ", style: style})
	}
	parts = append(parts, styledText{text: "LATENCY", style: style})
	return flattenStyledText(parts, width)
}

func (u *UI) formatTargetLine(width int, target state.TargetStatus) []styledRune {
	dest := target.Destination
	if dest == "" {
		dest = "(" + target.Type + ")"
	}
	cells := []styledText{
		{text: target.Name},
		{text: dest},
		{text: string(target.Status), style: statusStyle(target.Status)},
		{text: formatPair(target.Latency), style: metricStyle(target.Latency)},
		{text: formatPair(target.Jitter), style: metricStyle(target.Jitter)},
		{text: formatPair(target.Loss), style: metricStyle(target.Loss)},
	}

	parts := make([]styledText, 0, len(cells)+1)
	used := 0
	for i, cell := range cells {
		cell.text = padOrTrim(cell.text, columns[i].width) + " "
		used += columns[i].width + 1
		parts = append(parts, cell)
	}
	if barWidth := width - used; barWidth > 0 {
		parts = append(parts, styledText{
			text:  buildBar(target, u.cfg.UIScale, barWidth),
			style: statusStyle(target.Status),
		})
	}
	return flattenStyledText(parts, width)
}

// buildBar draws one cell per scale milliseconds of filtered latency.
func buildBar(target state.TargetStatus, scale int, width int) string {
	if width <= 0 {
		return ""
	}
	if scale <= 0 {
		scale = 10
	}
	units := 0
	if ms := target.Latency.Value; !math.IsNaN(ms) && ms > 0 {
		units = int(math.Round(ms / float64(scale)))
	}
	if units > width {
		units = width
	}
	return strings.Repeat("#", units) + strings.Repeat(" ", width-units)
}

// formatPair renders "value/peak" with "-" for missing data. A window that is
// still filling is marked with "~".
func formatPair(m state.MetricState) string {
	out := formatValue(m.Value) + "/" + formatValue(m.Peak)
	if !m.Filled && !math.IsNaN(m.Value) {
		out = "~" + out
	}
	return out
}

func formatValue(v float64) string {
	switch {
	case math.IsNaN(v) || math.IsInf(v, 0):
		return "-"
	case v >= 100:
		return fmt.Sprintf("%.0f", v)
	default:
		return fmt.Sprintf("%.1f", v)
	}
}

func metricStyle(m state.MetricState) tcell.Style {
	if m.Fault {
		return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	}
	return tcell.StyleDefault
}

func statusStyle(status state.Status) tcell.Style {
	switch status {
	case state.StatusOK:
		return tcell.StyleDefault.Foreground(tcell.ColorGreen)
	case state.StatusFault:
		return tcell.StyleDefault.Foreground(tcell.ColorYellow).Bold(true)
	case state.StatusError:
		return tcell.StyleDefault.Foreground(tcell.ColorRed).Bold(true)
	default:
		return tcell.StyleDefault.Foreground(tcell.ColorGray)
	}
}
