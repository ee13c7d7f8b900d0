package domain

import (
	"sync"
	"sync/atomic"
	"time"
)

type MetricsSnapshot struct {
	LinesRead        int64
	EventsClassified int64
	EventsPublished  int64
	EventsDropped    int64
	ByKind           map[EventKind]int64
	LinesPerSecond   float64
	Uptime           time.Duration
	StartTime        time.Time
}

// PipelineMetrics counts live pipeline activity. Safe for concurrent use.
type PipelineMetrics struct {
	linesRead        atomic.Int64
	eventsClassified atomic.Int64
	eventsPublished  atomic.Int64
	eventsDropped    atomic.Int64
	StartTime        time.Time

	mu             sync.RWMutex
	byKind         map[EventKind]int64
	linesPerSecond float64
}

func NewPipelineMetrics() *PipelineMetrics {
	return &PipelineMetrics{
		StartTime: time.Now(),
		byKind:    make(map[EventKind]int64, len(EventKinds)),
	}
}

func (m *PipelineMetrics) IncrementLines() {
	m.linesRead.Add(1)
}

func (m *PipelineMetrics) RecordEvent(kind EventKind) {
	m.eventsClassified.Add(1)
	m.mu.Lock()
	m.byKind[kind]++
	m.mu.Unlock()
}

func (m *PipelineMetrics) IncrementPublished() {
	m.eventsPublished.Add(1)
}

func (m *PipelineMetrics) AddDropped(n int) {
	m.eventsDropped.Add(int64(n))
}

func (m *PipelineMetrics) LinesRead() int64 {
	return m.linesRead.Load()
}

func (m *PipelineMetrics) EventsClassified() int64 {
	return m.eventsClassified.Load()
}

func (m *PipelineMetrics) UpdateLPS(lps float64) {
	m.mu.Lock()
	m.linesPerSecond = lps
	m.mu.Unlock()
}

func (m *PipelineMetrics) GetSnapshot() MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	byKind := make(map[EventKind]int64, len(m.byKind))
	for k, v := range m.byKind {
		byKind[k] = v
	}
	return MetricsSnapshot{
		LinesRead:        m.linesRead.Load(),
		EventsClassified: m.eventsClassified.Load(),
		EventsPublished:  m.eventsPublished.Load(),
		EventsDropped:    m.eventsDropped.Load(),
		ByKind:           byKind,
		LinesPerSecond:   m.linesPerSecond,
		Uptime:           time.Since(m.StartTime),
		StartTime:        m.StartTime,
	}
}
