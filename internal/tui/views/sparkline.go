package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var signalChars = []rune{'⎽', '⎼', '─', '⎻', '⎺'}

// Sparkline draws a scrolling oscilloscope trace of a per-second rate.
// Values above Warn and Crit switch the trace colour.
type Sparkline struct {
	Label string
	Unit  string
	Data  []float64
	Width int
	Warn  float64
	Crit  float64
	Floor float64 // Minimum full-scale value, so a quiet stream stays flat
}

func NewSparkline(label, unit string, width int) *Sparkline {
	if width <= 0 {
		width = 60
	}
	return &Sparkline{
		Label: label,
		Unit:  unit,
		Data:  make([]float64, width),
		Width: width,
		Warn:  5,
		Crit:  20,
		Floor: 10,
	}
}

func (s *Sparkline) Push(value float64) {
	s.Data = append(s.Data[1:], value)
}

// SetWidth resizes the trace, keeping the most recent samples.
func (s *Sparkline) SetWidth(width int) {
	if width <= 0 || width == s.Width {
		return
	}
	old := s.Data
	if len(old) > width {
		old = old[len(old)-width:]
	}
	s.Width = width
	s.Data = make([]float64, width)
	copy(s.Data[width-len(old):], old)
}

func (s *Sparkline) Current() float64 {
	if len(s.Data) == 0 {
		return 0
	}
	return s.Data[len(s.Data)-1]
}

func (s *Sparkline) Render() string {
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff41"))
	amber := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb000"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3333"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#404040"))
	ghost := lipgloss.NewStyle().Foreground(lipgloss.Color("#252525"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#707070"))

	current := s.Current()
	scale := s.Floor
	for _, v := range s.Data {
		scale = max(scale, v)
	}

	color := green
	switch {
	case current >= s.Crit:
		color = red
	case current >= s.Warn:
		color = amber
	}

	var b strings.Builder
	b.WriteString(" ")
	if s.Label != "" {
		b.WriteString(muted.Render(s.Label + " "))
	}
	for i, v := range s.Data {
		if i > 0 && i%10 == 0 {
			b.WriteString(ghost.Render("│"))
			continue
		}
		if v <= 0 {
			b.WriteString(dim.Render(string(signalChars[0])))
			continue
		}
		level := min(int(v/scale*float64(len(signalChars)-1)), len(signalChars)-1)
		b.WriteString(color.Render(string(signalChars[level])))
	}
	b.WriteString(color.Bold(true).Render(fmt.Sprintf(" ▶ %s%s", fmtRate(current), s.Unit)))
	return b.String()
}

func fmtRate(v float64) string {
	switch {
	case v >= 1000000:
		return fmt.Sprintf("%.1fM", v/1000000)
	case v >= 1000:
		return fmt.Sprintf("%.1fK", v/1000)
	case v < 10 && v != float64(int64(v)):
		return fmt.Sprintf("%.1f", v)
	default:
		return fmt.Sprintf("%.0f", v)
	}
}
