package ui

import (
	"strings"

	"github.com/gdamore/tcell/v2"
)

type styledText struct {
	text  string
	style tcell.Style
}

// styledRune is a run of runes sharing one style.
type styledRune struct {
	r     []rune
	style tcell.Style
}

func drawBox(screen tcell.Screen, x, y, width, height int) {
	if width < 2 || height < 2 {
		return
	}
	right, bottom := x+width-1, y+height-1
	for col := x + 1; col < right; col++ {
		screen.SetContent(col, y, tcell.RuneHLine, nil, tcell.StyleDefault)
		screen.SetContent(col, bottom, tcell.RuneHLine, nil, tcell.StyleDefault)
	}
	for row := y + 1; row < bottom; row++ {
		screen.SetContent(x, row, tcell.RuneVLine, nil, tcell.StyleDefault)
		screen.SetContent(right, row, tcell.RuneVLine, nil, tcell.StyleDefault)
	}
	screen.SetContent(x, y, tcell.RuneULCorner, nil, tcell.StyleDefault)
	screen.SetContent(right, y, tcell.RuneURCorner, nil, tcell.StyleDefault)
	screen.SetContent(x, bottom, tcell.RuneLLCorner, nil, tcell.StyleDefault)
	screen.SetContent(right, bottom, tcell.RuneLRCorner, nil, tcell.StyleDefault)
}

func drawText(screen tcell.Screen, x, y, width int, text string, style tcell.Style) {
	drawStyledText(screen, x, y, width, []styledRune{{r: []rune(text), style: style}})
}

// drawStyledText writes parts left to right and blanks the rest of the row.
func drawStyledText(screen tcell.Screen, x, y, width int, parts []styledRune) {
	end := x + width
	col := x
	for _, part := range parts {
		for _, r := range part.r {
			if col >= end {
				return
			}
			screen.SetContent(col, y, r, nil, part.style)
			col++
		}
	}
	for ; col < end; col++ {
		screen.SetContent(col, y, ' ', nil, tcell.StyleDefault)
	}
}

// flattenStyledText cuts parts down to width runes.
func flattenStyledText(parts []styledText, width int) []styledRune {
	out := make([]styledRune, 0, len(parts))
	left := width
	for _, part := range parts {
		if left <= 0 {
			break
		}
		runes := []rune(part.text)
		if len(runes) > left {
			runes = runes[:left]
		}
		out = append(out, styledRune{r: runes, style: part.style})
		left -= len(runes)
	}
	return out
}

func padOrTrim(value string, width int) string {
	if width <= 0 {
		return ""
	}
	runes := []rune(value)
	switch {
	case len(runes) > width:
		return string(runes[:width])
	case len(runes) < width:
		return value + strings.Repeat(" ", width-len(runes))
	}
	return value
}
