package ui

import (
	"github.com/charmbracelet/lipgloss"
)

var styles = NewPalette("#7D56F4", "#04B575", "#FF0000", "#FFA500", "#626262")

// struct Palette is a simple stylesheet built with named [lipgloss.Style] fields.
// barFrom and barTo are the progress bar gradient endpoints.
type Palette struct {
	title lipgloss.Style
	ok    lipgloss.Style
	err   lipgloss.Style
	warn  lipgloss.Style
	help  lipgloss.Style

	barFrom string
	barTo   string
}

// NewPalette builds a palette from title, success, error, warning and help colors.
// The bar runs from the title color to the success color.
func NewPalette(t, s, e, w, h string) *Palette {
	return &Palette{
		title:   NewBold(t).MarginBottom(1),
		ok:      NewBold(s),
		err:     NewBold(e),
		warn:    NewStyle(w),
		help:    NewEm(h),
		barFrom: t,
		barTo:   s,
	}
}

// Outcome styles the one-line verdict for a finished run.
func (p *Palette) Outcome(successful, canceled bool) lipgloss.Style {
	switch {
	case canceled:
		return p.warn
	case successful:
		return p.ok
	default:
		return p.err
	}
}

func NewStyle(fg string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(fg))
}

func NewBold(fg string) lipgloss.Style {
	return NewStyle(fg).Bold(true)
}

func NewEm(fg string) lipgloss.Style {
	return NewStyle(fg).Italic(true)
}
