package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/pkg/sanitize"
)

type IPEntry struct {
	IP       string
	Count    int
	LastSeen time.Time
	Kinds    []domain.EventKind
	Country  string
}

// TopIPs ranks live sources by event count.
type TopIPs struct {
	IPs          []IPEntry
	Width        int
	VisibleCount int
}

func NewTopIPs(width int) *TopIPs {
	return &TopIPs{Width: width, VisibleCount: 25}
}

func (v *TopIPs) Update(ips []IPEntry) { v.IPs = ips }

func (v *TopIPs) Render() string {
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff41"))
	greenDim := lipgloss.NewStyle().Foreground(lipgloss.Color("#00aa2a"))
	amber := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb000"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3333"))
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#404040"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#707070"))
	text := lipgloss.NewStyle().Foreground(lipgloss.Color("#e5e5e5"))

	if len(v.IPs) == 0 {
		return dim.Italic(true).Render("  No sources seen yet")
	}

	lines := []string{
		muted.Bold(true).Render(fmt.Sprintf(" %-3s %-17s %-12s %-9s %-14s %s",
			"#", "IP", "EVENTS", "LAST", "COUNTRY", "KINDS")),
		dim.Render(strings.Repeat("─", max(v.Width, 10))),
	}

	// IPs arrive sorted, so the first entry is the busiest.
	maxCount := v.IPs[0].Count

	visible := v.IPs
	if len(visible) > v.VisibleCount {
		visible = visible[:v.VisibleCount]
	}

	for i, ip := range visible {
		ratio := float64(ip.Count) / float64(max(maxCount, 1))
		style := greenDim
		switch {
		case ip.Count > 20 || ratio > 0.7:
			style = red.Bold(true)
		case ip.Count > 10 || ratio > 0.4:
			style = amber.Bold(true)
		case ip.Count > 5:
			style = green
		}

		const barWidth = 6
		fill := min(int(ratio*barWidth), barWidth)
		bar := strings.Repeat("█", fill) + strings.Repeat("░", barWidth-fill)

		kinds := make([]string, len(ip.Kinds))
		for k, kind := range ip.Kinds {
			kinds[k] = string(kind)
		}

		country := ip.Country
		if country == "" {
			country = "-"
		}

		lines = append(lines, fmt.Sprintf(" %s %s %s %s %s %s",
			muted.Render(fmt.Sprintf("%2d.", i+1)),
			style.Render(padRight(sanitize.IP(ip.IP), 17)),
			style.Render(fmt.Sprintf("%s %5s", bar, fmtLarge(int64(ip.Count)))),
			muted.Render(padRight(ip.LastSeen.Format("15:04:05"), 9)),
			text.Render(padRight(sanitize.Field(country, 14), 14)),
			text.Render(sanitize.Truncate(strings.Join(kinds, ", "), max(v.Width-62, 10))),
		))
	}

	for len(lines) < v.VisibleCount+2 {
		lines = append(lines, "")
	}
	if len(v.IPs) > v.VisibleCount {
		lines = append(lines, dim.Render(fmt.Sprintf("  [showing %d of %d IPs]", v.VisibleCount, len(v.IPs))))
	}
	return strings.Join(lines, "\n")
}

// padRight pads or cuts s to exactly length runes.
func padRight(s string, length int) string {
	n := len([]rune(s))
	if n >= length {
		return string([]rune(s)[:length])
	}
	return s + strings.Repeat(" ", length-n)
}
