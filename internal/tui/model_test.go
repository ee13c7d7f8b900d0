package tui

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/domain"
)

var base = time.Date(2026, time.October, 28, 10, 0, 0, 0, time.UTC)

func record(ip string, kind domain.EventKind, offset time.Duration) domain.EventRecord {
	return domain.EventRecord{
		IP:        ip,
		Kind:      kind,
		Type:      kind,
		Status:    kind.Status(),
		Timestamp: base.Add(offset),
		User:      "root",
		Port:      "22",
	}
}

func TestModel_TopIPsOrdering(t *testing.T) {
	m := NewModel()
	m.AddEvent(record("203.0.113.42", domain.KindAcceptedLogin, 0))
	m.AddEvent(record("45.155.204.23", domain.KindFailedLogin, time.Second))
	m.AddEvent(record("45.155.204.23", domain.KindInvalidUser, 2*time.Second))
	m.AddEvent(record("198.51.100.7", domain.KindFailedLogin, 3*time.Second))

	top := m.TopIPs()
	require.Len(t, top, 3)
	assert.Equal(t, "45.155.204.23", top[0].IP)
	assert.Equal(t, 2, top[0].Count)
	assert.Equal(t, []domain.EventKind{domain.KindFailedLogin, domain.KindInvalidUser}, top[0].Kinds)
	assert.Equal(t, base.Add(2*time.Second), top[0].LastSeen)
	assert.Equal(t, "198.51.100.7", top[1].IP, "ties go to the most recent")
	assert.Equal(t, "203.0.113.42", top[2].IP)
}

func TestModel_TopIPsAreCopies(t *testing.T) {
	m := NewModel()
	m.AddEvent(record("45.155.204.23", domain.KindFailedLogin, 0))

	top := m.TopIPs()
	top[0].Count = 99
	top[0].Kinds[0] = domain.KindDisconnected

	again := m.TopIPs()
	assert.Equal(t, 1, again[0].Count)
	assert.Equal(t, domain.KindFailedLogin, again[0].Kinds[0])
}

func TestModel_EvictsLeastActive(t *testing.T) {
	m := NewModel()
	m.MaxTrackedIPs = 3

	for i := 0; i < 3; i++ {
		m.AddEvent(record("10.0.0.1", domain.KindFailedLogin, 0))
	}
	m.AddEvent(record("10.0.0.2", domain.KindFailedLogin, 0))
	m.AddEvent(record("10.0.0.2", domain.KindFailedLogin, 0))
	m.AddEvent(record("10.0.0.3", domain.KindFailedLogin, 0))
	m.AddEvent(record("10.0.0.4", domain.KindFailedLogin, 0))

	assert.Equal(t, 3, m.TrackedIPs())
	assert.Equal(t, 1, m.EvictedIPs())

	ips := make(map[string]bool)
	for _, e := range m.TopIPs() {
		ips[e.IP] = true
	}
	assert.True(t, ips["10.0.0.1"])
	assert.True(t, ips["10.0.0.2"])
	assert.True(t, ips["10.0.0.4"])
	assert.False(t, ips["10.0.0.3"])
}

func TestModel_EventFeedIsBounded(t *testing.T) {
	m := NewModel()
	m.MaxEvents = 5
	for i := 0; i < 8; i++ {
		m.AddEvent(record(fmt.Sprintf("10.0.0.%d", i), domain.KindFailedLogin, time.Duration(i)*time.Second))
	}

	events := m.GetEvents()
	require.Len(t, events, 5)
	assert.Equal(t, "10.0.0.3", events[0].IP)
	assert.Equal(t, "10.0.0.7", events[4].IP)
	assert.Equal(t, 8, m.TotalEvents())
	assert.Equal(t, 8, m.KindCount(domain.KindFailedLogin))
}

func TestModel_EventsWithoutIPAreNotTracked(t *testing.T) {
	m := NewModel()
	m.AddEvent(record("", domain.KindDisconnected, 0))

	assert.Equal(t, 1, m.TotalEvents())
	assert.Zero(t, m.TrackedIPs())
}

func TestModel_EventRate(t *testing.T) {
	m := NewModel()
	m.UpdateMetrics(domain.MetricsSnapshot{EventsClassified: 10}, base)
	assert.Zero(t, m.EventRate(), "first snapshot has no baseline")

	m.UpdateMetrics(domain.MetricsSnapshot{EventsClassified: 30}, base.Add(2*time.Second))
	assert.InDelta(t, 10.0, m.EventRate(), 0.001)
	assert.Equal(t, int64(30), m.GetMetrics().EventsClassified)
}

func TestModel_NextViewWraps(t *testing.T) {
	m := NewModel()
	assert.Equal(t, ViewEvents, m.ActiveView)
	m.NextView()
	assert.Equal(t, ViewTopIPs, m.ActiveView)
	m.NextView()
	assert.Equal(t, ViewEvents, m.ActiveView)
}
