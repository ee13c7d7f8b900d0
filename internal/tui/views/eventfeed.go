package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/pkg/sanitize"
)

// EventList renders the live feed, newest first. SelectedIndex indexes
// Events, so the selection survives new arrivals.
type EventList struct {
	Events        []domain.EventRecord
	VisibleCount  int
	ScrollPos     int
	Width         int
	SelectedIndex int
}

func NewEventList(visibleCount int) *EventList {
	return &EventList{
		VisibleCount:  visibleCount,
		Width:         100,
		SelectedIndex: -1,
	}
}

func (l *EventList) Update(events []domain.EventRecord) {
	l.Events = events
	if l.SelectedIndex >= len(events) {
		l.SelectedIndex = len(events) - 1
	}
}

// ScrollUp moves the selection towards newer events.
func (l *EventList) ScrollUp() {
	if l.SelectedIndex < len(l.Events)-1 {
		l.SelectedIndex++
	}
	l.ensureSelectionVisible()
}

// ScrollDown moves the selection towards older events.
func (l *EventList) ScrollDown() {
	if l.SelectedIndex > 0 {
		l.SelectedIndex--
	}
	l.ensureSelectionVisible()
}

func (l *EventList) ensureSelectionVisible() {
	if len(l.Events) <= l.VisibleCount {
		l.ScrollPos = 0
		return
	}
	start, end := l.visibleRange()
	if l.SelectedIndex < start {
		l.ScrollPos = len(l.Events) - l.VisibleCount - l.SelectedIndex
	}
	if l.SelectedIndex >= end {
		l.ScrollPos = len(l.Events) - 1 - l.SelectedIndex
	}

	maxScroll := len(l.Events) - l.VisibleCount
	l.ScrollPos = max(0, min(l.ScrollPos, maxScroll))
}

// visibleRange returns the half-open index range shown on screen.
func (l *EventList) visibleRange() (int, int) {
	if len(l.Events) <= l.VisibleCount {
		return 0, len(l.Events)
	}
	start := max(0, len(l.Events)-l.VisibleCount-l.ScrollPos)
	end := min(start+l.VisibleCount, len(l.Events))
	return start, end
}

func (l *EventList) Selected() (domain.EventRecord, bool) {
	if l.SelectedIndex >= 0 && l.SelectedIndex < len(l.Events) {
		return l.Events[l.SelectedIndex], true
	}
	return domain.EventRecord{}, false
}

func (l *EventList) Render() string {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("#404040"))
	muted := lipgloss.NewStyle().Foreground(lipgloss.Color("#707070"))
	text := lipgloss.NewStyle().Foreground(lipgloss.Color("#e5e5e5"))
	selected := lipgloss.NewStyle().Background(lipgloss.Color("#003300")).Foreground(lipgloss.Color("#00ff41"))

	if len(l.Events) == 0 {
		return dim.Italic(true).Render("  Waiting for SSH events...")
	}
	if l.SelectedIndex < 0 {
		l.SelectedIndex = len(l.Events) - 1
	}

	lines := []string{
		muted.Bold(true).Render(fmt.Sprintf("  %-8s  %-3s  %-17s  %-16s  %-16s  %s",
			"TIME", "LVL", "KIND", "IP", "USER", "PORT")),
		dim.Render("  " + strings.Repeat("─", max(l.Width-4, 10))),
	}

	start, end := l.visibleRange()
	for i := end - 1; i >= start; i-- {
		ev := l.Events[i]
		isSelected := i == l.SelectedIndex

		prefix := "  "
		timeStyle := dim
		ipStyle := text
		if isSelected {
			prefix = "▶ "
			timeStyle = selected
			ipStyle = selected.Bold(true)
		}

		lvl := LevelFor(ev.Kind)
		ip := sanitize.Truncate(sanitize.IP(ev.IP), 16)
		user := sanitize.Field(ev.User, 16)

		lines = append(lines, fmt.Sprintf("%s%s  %s  %s  %s  %s  %s",
			prefix,
			timeStyle.Render(ev.Timestamp.Format("15:04:05")),
			lvl.Style.Render(lvl.Code),
			lvl.Style.Render(fmt.Sprintf("%-17s", ev.Kind)),
			ipStyle.Render(fmt.Sprintf("%-16s", ip)),
			text.Render(fmt.Sprintf("%-16s", user)),
			muted.Render(sanitize.Field(ev.Port, 6)),
		))
	}

	if len(l.Events) > l.VisibleCount {
		lines = append(lines, dim.Render(fmt.Sprintf("  [%d-%d of %d]",
			l.ScrollPos+1, min(l.ScrollPos+l.VisibleCount, len(l.Events)), len(l.Events))))
	}
	return strings.Join(lines, "\n")
}
