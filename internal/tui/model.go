package tui

import (
	"container/heap"
	"sort"
	"sync"
	"time"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// Model holds the dashboard state fed by the live event stream.
type Model struct {
	Width  int
	Height int

	ActiveView int

	Events  []domain.EventRecord
	Metrics domain.MetricsSnapshot
	ipMap   map[string]*IPEntry
	ipHeap  *ipMinHeap
	byKind  map[domain.EventKind]int

	MaxEvents     int
	MaxTopIPs     int
	MaxTrackedIPs int

	mu          sync.RWMutex
	eventCount  int
	evictedIPs  int
	lastMetrics time.Time
	lastEvents  int64
	eventRate   float64
}

// IPEntry tracks one source address seen on the live stream.
type IPEntry struct {
	IP        string
	Count     int
	LastSeen  time.Time
	Kinds     []domain.EventKind
	heapIndex int
}

// ipMinHeap keeps the least active address on top so eviction is O(log n).
type ipMinHeap []*IPEntry

func (h ipMinHeap) Len() int           { return len(h) }
func (h ipMinHeap) Less(i, j int) bool { return h[i].Count < h[j].Count }
func (h ipMinHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].heapIndex = i
	h[j].heapIndex = j
}

func (h *ipMinHeap) Push(x any) {
	item := x.(*IPEntry)
	item.heapIndex = len(*h)
	*h = append(*h, item)
}

func (h *ipMinHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.heapIndex = -1
	*h = old[:n-1]
	return item
}

const (
	ViewEvents = iota
	ViewTopIPs
	viewCount
)

func NewModel() *Model {
	h := &ipMinHeap{}
	heap.Init(h)

	return &Model{
		Width:         120,
		Height:        40,
		Events:        make([]domain.EventRecord, 0, 100),
		ipMap:         make(map[string]*IPEntry),
		ipHeap:        h,
		byKind:        make(map[domain.EventKind]int, len(domain.EventKinds)),
		MaxEvents:     200,
		MaxTopIPs:     25,
		MaxTrackedIPs: 10000,
	}
}

// AddEvent appends rec to the feed and updates its source counters.
func (m *Model) AddEvent(rec domain.EventRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.Events) >= m.MaxEvents {
		copy(m.Events, m.Events[1:])
		m.Events = m.Events[:len(m.Events)-1]
	}
	m.Events = append(m.Events, rec)
	m.eventCount++
	m.byKind[rec.Kind]++

	if rec.IP == "" {
		return
	}
	if entry, ok := m.ipMap[rec.IP]; ok {
		entry.Count++
		if rec.Timestamp.After(entry.LastSeen) {
			entry.LastSeen = rec.Timestamp
		}
		entry.addKind(rec.Kind)
		heap.Fix(m.ipHeap, entry.heapIndex)
		return
	}

	if len(m.ipMap) >= m.MaxTrackedIPs && m.ipHeap.Len() > 0 {
		evicted := heap.Pop(m.ipHeap).(*IPEntry)
		delete(m.ipMap, evicted.IP)
		m.evictedIPs++
	}
	entry := &IPEntry{IP: rec.IP, Count: 1, LastSeen: rec.Timestamp, Kinds: []domain.EventKind{rec.Kind}}
	m.ipMap[rec.IP] = entry
	heap.Push(m.ipHeap, entry)
}

func (e *IPEntry) addKind(kind domain.EventKind) {
	for _, k := range e.Kinds {
		if k == kind {
			return
		}
	}
	e.Kinds = append(e.Kinds, kind)
	sort.Slice(e.Kinds, func(i, j int) bool { return e.Kinds[i] < e.Kinds[j] })
}

// TopIPs returns copies of the busiest addresses, ordered like incident
// listings: count, then most recent, then address.
func (m *Model) TopIPs() []IPEntry {
	m.mu.RLock()
	entries := make([]IPEntry, 0, len(m.ipMap))
	for _, e := range m.ipMap {
		cp := *e
		cp.Kinds = append([]domain.EventKind(nil), e.Kinds...)
		entries = append(entries, cp)
	}
	limit := m.MaxTopIPs
	m.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		if !a.LastSeen.Equal(b.LastSeen) {
			return a.LastSeen.After(b.LastSeen)
		}
		return a.IP < b.IP
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// UpdateMetrics stores snap and derives the classified events per second
// since the previous snapshot.
func (m *Model) UpdateMetrics(snap domain.MetricsSnapshot, at time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.lastMetrics.IsZero() {
		if elapsed := at.Sub(m.lastMetrics).Seconds(); elapsed > 0 {
			m.eventRate = float64(snap.EventsClassified-m.lastEvents) / elapsed
		}
	}
	m.lastMetrics = at
	m.lastEvents = snap.EventsClassified
	m.Metrics = snap
}

func (m *Model) GetEvents() []domain.EventRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]domain.EventRecord, len(m.Events))
	copy(result, m.Events)
	return result
}

func (m *Model) GetMetrics() domain.MetricsSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Metrics
}

func (m *Model) EventRate() float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventRate
}

func (m *Model) TotalEvents() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventCount
}

// KindCount returns how many events of kind the dashboard has received.
func (m *Model) KindCount(kind domain.EventKind) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byKind[kind]
}

func (m *Model) TrackedIPs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ipMap)
}

func (m *Model) EvictedIPs() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.evictedIPs
}

func (m *Model) SetDimensions(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Width = width
	m.Height = height
}

func (m *Model) NextView() {
	m.ActiveView = (m.ActiveView + 1) % viewCount
}
