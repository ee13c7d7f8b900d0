package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/xoelrdgz/authradar/internal/domain"
)

type Status struct {
	Width      int
	Metrics    domain.MetricsSnapshot
	TrackedIPs int
	lastUpdate time.Time
	now        func() time.Time
}

func NewStatus(width int) *Status {
	return &Status{Width: width, now: time.Now}
}

func (s *Status) Update(metrics domain.MetricsSnapshot, trackedIPs int) {
	s.Metrics = metrics
	s.TrackedIPs = trackedIPs
	s.lastUpdate = s.now()
}

func (s *Status) Render() string {
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("#00ff41"))
	greenDim := lipgloss.NewStyle().Foreground(lipgloss.Color("#00aa2a"))
	amber := lipgloss.NewStyle().Foreground(lipgloss.Color("#ffb000"))
	red := lipgloss.NewStyle().Foreground(lipgloss.Color("#ff3333"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#707070"))
	border := lipgloss.NewStyle().Foreground(lipgloss.Color("#2a2a2a"))

	m := s.Metrics
	failed := m.ByKind[domain.KindFailedLogin] + m.ByKind[domain.KindInvalidUser]
	breakIns := m.ByKind[domain.KindBreakInAttempt]

	fail := green
	if failed > 500 {
		fail = red.Bold(true)
	} else if failed > 50 {
		fail = amber.Bold(true)
	}
	brk := green
	if breakIns > 0 {
		brk = red.Bold(true)
	}
	drop := green
	if m.EventsDropped > 0 {
		drop = amber.Bold(true)
	}

	items := []string{
		s.heartbeat(green, greenDim, amber, red),
		muted.Render("LINES:") + " " + green.Render(fmtLarge(m.LinesRead)),
		muted.Render("EVT:") + " " + green.Render(fmtLarge(m.EventsClassified)),
		muted.Render("FAIL:") + " " + fail.Render(fmtLarge(failed)),
		muted.Render("BRK:") + " " + brk.Render(fmtLarge(breakIns)),
		muted.Render("IPS:") + " " + green.Render(fmtLarge(int64(s.TrackedIPs))),
		muted.Render("DROP:") + " " + drop.Render(fmtLarge(m.EventsDropped)),
		muted.Render("UP:") + " " + green.Render(fmtUptime(m.Uptime.Round(time.Second))),
	}

	return lipgloss.NewStyle().
		Width(s.Width).
		Padding(0, 1).
		Background(lipgloss.Color("#0a0a0a")).
		Render(strings.Join(items, border.Render(" │ ")))
}

// heartbeat fades as metric snapshots stop arriving.
func (s *Status) heartbeat(active, dim, warn, crit lipgloss.Style) string {
	label := lipgloss.NewStyle().Foreground(lipgloss.Color("#707070")).Render("SYS:")
	if s.lastUpdate.IsZero() {
		return label + " " + crit.Render("○")
	}

	var icon string
	var style lipgloss.Style
	switch elapsed := s.now().Sub(s.lastUpdate); {
	case elapsed < 1500*time.Millisecond:
		icon, style = "●", active.Bold(true)
	case elapsed < 3*time.Second:
		icon, style = "●", dim
	case elapsed < 10*time.Second:
		icon, style = "○", warn
	default:
		icon, style = "○", crit
	}
	return label + " " + style.Render(icon)
}

func fmtLarge(n int64) string {
	if n >= 1000000 {
		return fmt.Sprintf("%.1fM", float64(n)/1000000)
	}
	if n >= 1000 {
		return fmt.Sprintf("%.1fK", float64(n)/1000)
	}
	return fmt.Sprintf("%d", n)
}

func fmtUptime(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm%02ds", m, sec)
}
