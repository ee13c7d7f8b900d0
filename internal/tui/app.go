package tui

import (
	"fmt"
	"strings"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/tui/views"
)

const (
	maxEventsPerTick = 50
	uiTickInterval   = 100 * time.Millisecond
)

// GeoLookup reads cached geolocation without triggering a lookup.
type GeoLookup interface {
	Get(ip string) (domain.GeoRecord, bool)
}

type Config struct {
	Source string
	Geo    GeoLookup

	// MaxBuffer bounds events queued between UI ticks.
	MaxBuffer int
}

// App is the live dashboard. Events arrive through Write from the bus
// consumer goroutine and are drained on each UI tick.
type App struct {
	model     *Model
	rate      *views.Sparkline
	events    *views.EventList
	topIPs    *views.TopIPs
	status    *views.Status
	inspector *views.EventInspector
	geo       GeoLookup

	ready    bool
	quitting bool
	width    int
	height   int

	buffer    []domain.EventRecord
	bufferMu  sync.Mutex
	dropped   int64
	maxBuffer int

	metricsChan chan domain.MetricsSnapshot
	source      string
	now         func() time.Time
}

func NewApp(config Config) *App {
	if config.MaxBuffer <= 0 {
		config.MaxBuffer = 500
	}
	if config.Source == "" {
		config.Source = "LIVE"
	}
	return &App{
		model:       NewModel(),
		rate:        views.NewSparkline("EVT", "/s", 80),
		events:      views.NewEventList(15),
		topIPs:      views.NewTopIPs(100),
		status:      views.NewStatus(100),
		inspector:   views.NewEventInspector(),
		geo:         config.Geo,
		buffer:      make([]domain.EventRecord, 0, 100),
		maxBuffer:   config.MaxBuffer,
		metricsChan: make(chan domain.MetricsSnapshot, 10),
		source:      config.Source,
		now:         time.Now,
	}
}

type tickMsg time.Time
type metricsMsg domain.MetricsSnapshot

func (a *App) Init() tea.Cmd {
	return tea.Batch(a.tick(), a.listenForMetrics())
}

func (a *App) tick() tea.Cmd {
	return tea.Tick(uiTickInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (a *App) listenForMetrics() tea.Cmd {
	return func() tea.Msg { return metricsMsg(<-a.metricsChan) }
}

func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg)
	case tea.WindowSizeMsg:
		a.resize(msg.Width, msg.Height)
	case tickMsg:
		a.drain()
		return a, a.tick()
	case metricsMsg:
		snap := domain.MetricsSnapshot(msg)
		a.model.UpdateMetrics(snap, a.now())
		a.rate.Push(a.model.EventRate())
		a.status.Update(snap, a.model.TrackedIPs())
		return a, a.listenForMetrics()
	}
	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	if a.inspector.Visible {
		switch msg.String() {
		case "esc", "q":
			a.inspector.Close()
		case "up", "k":
			a.inspector.ScrollUp()
		case "down", "j":
			a.inspector.ScrollDown()
		}
		return nil
	}

	switch msg.String() {
	case "q", "ctrl+c":
		a.quitting = true
		return tea.Quit
	case "tab":
		a.model.NextView()
	case "up", "k":
		a.events.ScrollUp()
	case "down", "j":
		a.events.ScrollDown()
	case "enter":
		if rec, ok := a.events.Selected(); ok {
			a.inspector.Open(rec, a.lookup(rec.IP))
		}
	}
	return nil
}

func (a *App) resize(width, height int) {
	a.width, a.height = width, height
	a.ready = true
	a.model.SetDimensions(width, height)
	a.events.Width = width - 4
	a.topIPs.Width = width - 4
	a.status.Width = width
	a.rate.SetWidth(width - 20)

	contentHeight := max(height-12, 5)
	a.events.VisibleCount = contentHeight
	a.topIPs.VisibleCount = contentHeight
	a.inspector.SetDimensions(width-4, height-2)
}

// drain moves at most maxEventsPerTick buffered events into the model.
func (a *App) drain() {
	a.bufferMu.Lock()
	n := min(len(a.buffer), maxEventsPerTick)
	batch := make([]domain.EventRecord, n)
	copy(batch, a.buffer[:n])
	a.buffer = a.buffer[n:]
	a.bufferMu.Unlock()

	for _, rec := range batch {
		a.model.AddEvent(rec)
	}
	if n > 0 {
		a.events.Update(a.model.GetEvents())
	}
	a.topIPs.Update(a.topEntries())
}

func (a *App) topEntries() []views.IPEntry {
	top := a.model.TopIPs()
	out := make([]views.IPEntry, len(top))
	for i, e := range top {
		out[i] = views.IPEntry{IP: e.IP, Count: e.Count, LastSeen: e.LastSeen, Kinds: e.Kinds}
		if geo := a.lookup(e.IP); geo != nil {
			out[i].Country = geo.Country
		}
	}
	return out
}

func (a *App) lookup(ip string) *domain.GeoRecord {
	if a.geo == nil || ip == "" {
		return nil
	}
	geo, ok := a.geo.Get(ip)
	if !ok {
		return nil
	}
	return &geo
}

func (a *App) View() string {
	if a.quitting {
		return "\n  Session terminated.\n\n"
	}
	if !a.ready {
		return "\n  Initializing...\n\n"
	}
	if a.inspector.Visible {
		return a.inspector.Render()
	}

	var b strings.Builder
	b.WriteString(a.renderHeader())
	b.WriteString("\n")
	b.WriteString(TextDim.Render(strings.Repeat(HLine, a.width)))
	b.WriteString("\n")
	b.WriteString(a.rate.Render())
	b.WriteString("\n\n")

	viewName, content := "EVENTS", a.events.Render()
	if a.model.ActiveView == ViewTopIPs {
		viewName, content = "TOP SOURCES", a.topIPs.Render()
	}
	b.WriteString(TextMuted.Render("  " + viewName))
	b.WriteString("\n")
	b.WriteString(content)
	b.WriteString("\n\n")
	b.WriteString(a.status.Render())
	b.WriteString("\n")
	b.WriteString(a.renderHelp())
	return b.String()
}

func (a *App) renderHeader() string {
	state := TextPrimary.Render("WATCHING")
	switch {
	case a.model.KindCount(domain.KindBreakInAttempt) > 0:
		state = TextAlert.Render("BREAK-IN ATTEMPTS")
	case a.model.KindCount(domain.KindFailedLogin)+a.model.KindCount(domain.KindInvalidUser) > 0:
		state = TextWarn.Render("FAILED LOGINS")
	}
	return fmt.Sprintf("  %s  %s  %s %s",
		TextPrimary.Render("AUTHRADAR"), state, TextDim.Render("SRC:"), a.source)
}

func (a *App) renderHelp() string {
	names := []string{"EVENTS", "SOURCES"}
	return TextDim.Render(fmt.Sprintf("  %s [%s]  %s scroll  %s inspect  %s quit",
		TextKey.Render("TAB"), names[a.model.ActiveView], TextKey.Render("↑↓"), TextKey.Render("ENTER"), TextKey.Render("q")))
}

// Write queues rec for the next UI tick. When the queue is full the oldest
// tenth is discarded.
func (a *App) Write(rec domain.EventRecord) error {
	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()
	if len(a.buffer) >= a.maxBuffer {
		cut := max(a.maxBuffer/10, 1)
		a.dropped += int64(cut)
		a.buffer = a.buffer[cut:]
	}
	a.buffer = append(a.buffer, rec)
	return nil
}

func (a *App) SendMetrics(metrics domain.MetricsSnapshot) {
	select {
	case a.metricsChan <- metrics:
	default:
	}
}

func (a *App) Model() *Model { return a.model }

func (a *App) Dropped() int64 {
	a.bufferMu.Lock()
	defer a.bufferMu.Unlock()
	return a.dropped
}

func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
