package views

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/pkg/sanitize"
)

var (
	inspColorPrimary = lipgloss.Color("#00ff41")
	inspColorAmber   = lipgloss.Color("#ffb000")
	inspColorText    = lipgloss.Color("#e5e5e5")
	inspColorDim     = lipgloss.Color("#404040")
	inspColorBg      = lipgloss.Color("#0a1f0a")
)

// EventInspector shows one event in full, with whatever geolocation the
// cache already holds for its source.
type EventInspector struct {
	Event   domain.EventRecord
	Geo     *domain.GeoRecord
	Width   int
	Height  int
	ScrollY int
	Visible bool
}

func NewEventInspector() *EventInspector {
	return &EventInspector{Width: 80, Height: 24}
}

// Open shows rec. geo may be nil when the address was never resolved.
func (p *EventInspector) Open(rec domain.EventRecord, geo *domain.GeoRecord) {
	p.Event = rec
	p.Geo = geo
	p.ScrollY = 0
	p.Visible = true
}

func (p *EventInspector) SetDimensions(width, height int) {
	p.Width = width
	p.Height = height
}

func (p *EventInspector) ScrollUp() {
	if p.ScrollY > 0 {
		p.ScrollY--
	}
}

func (p *EventInspector) ScrollDown() {
	p.ScrollY++
}

func (p *EventInspector) Close() {
	p.Event = domain.EventRecord{}
	p.Geo = nil
	p.Visible = false
}

func (p *EventInspector) Render() string {
	if !p.Visible {
		return ""
	}

	ev := p.Event
	contentWidth := max(p.Width-4, 20)

	header := lipgloss.NewStyle().Foreground(inspColorPrimary).Bold(true)
	label := lipgloss.NewStyle().Foreground(inspColorAmber).Width(12)
	value := lipgloss.NewStyle().Foreground(inspColorText)
	dimText := lipgloss.NewStyle().Foreground(inspColorDim)
	codeBlock := lipgloss.NewStyle().Foreground(inspColorPrimary).Background(inspColorBg)
	rule := dimText.Render(strings.Repeat("─", contentWidth))
	field := func(name, v string) string {
		return fmt.Sprintf("%s %s", label.Render(name), value.Render(sanitize.Field(v, contentWidth-13)))
	}

	lvl := LevelFor(ev.Kind)
	lines := []string{
		header.Render("╔═══ EVENT INSPECTOR ═══╗"),
		rule,
		header.Render("▶ EVENT"),
		field("Timestamp:", ev.Timestamp.Format("2006-01-02 15:04:05")),
		fmt.Sprintf("%s %s", label.Render("Kind:"), lvl.Style.Render(string(ev.Kind))),
		field("Source IP:", sanitize.IP(ev.IP)),
		field("User:", ev.User),
		field("Port:", ev.Port),
	}

	lines = append(lines, "", rule, header.Render("▶ GEOLOCATION"))
	if p.Geo == nil {
		lines = append(lines, dimText.Render("not cached yet"))
	} else {
		g := p.Geo
		lines = append(lines,
			field("Country:", g.Country),
			field("City:", g.City),
			field("Coords:", formatCoords(*g)),
			field("Org:", g.Org),
			field("ISP:", g.ISP),
			field("AS:", g.AS),
		)
	}

	if ev.Raw != "" {
		lines = append(lines, "", rule, header.Render("▶ RAW LINE"))
		for _, chunk := range wrap(sanitize.ForTerminal(ev.Raw), contentWidth) {
			lines = append(lines, codeBlock.Render(chunk))
		}
	}

	lines = append(lines, "", rule, dimText.Render("[ESC] Close   [↑/↓] Scroll"))
	if p.ScrollY > 0 && p.ScrollY < len(lines) {
		lines = lines[p.ScrollY:]
	}
	if p.Height > 2 && len(lines) > p.Height-2 {
		lines = lines[:p.Height-2]
	}

	return lipgloss.NewStyle().
		Border(lipgloss.NormalBorder()).
		BorderForeground(inspColorPrimary).
		Padding(0, 1).
		Width(p.Width).
		Render(strings.Join(lines, "\n"))
}

func formatCoords(g domain.GeoRecord) string {
	if !g.HasCoordinates() {
		return domain.UnknownValue
	}
	return fmt.Sprintf("%.4f, %.4f", *g.Lat, *g.Lon)
}

// wrap splits s into chunks of at most width runes.
func wrap(s string, width int) []string {
	runes := []rune(s)
	if width <= 0 || len(runes) <= width {
		return []string{s}
	}
	var out []string
	for i := 0; i < len(runes); i += width {
		out = append(out, string(runes[i:min(i+width, len(runes))]))
	}
	return out
}
