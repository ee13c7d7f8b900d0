package domain

import (
	"net/netip"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEventKind(t *testing.T) {
	for _, k := range EventKinds {
		got, ok := ParseEventKind(string(k))
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}

	_, ok := ParseEventKind("sudo")
	assert.False(t, ok)
}

func TestEventKindStatus(t *testing.T) {
	tests := []struct {
		kind     EventKind
		expected string
	}{
		{KindFailedLogin, "failed"},
		{KindAcceptedLogin, "accepted"},
		{KindInvalidUser, "invalid"},
		{KindBreakInAttempt, "other"},
		{KindDisconnected, "other"},
		{KindConnectionClosed, "other"},
	}

	for _, tc := range tests {
		assert.Equal(t, tc.expected, tc.kind.Status(), string(tc.kind))
	}
}

func TestEventRecordFillsUnknown(t *testing.T) {
	ts := time.Date(2025, 10, 28, 10, 16, 45, 0, time.UTC)
	event := Event{
		Timestamp: ts,
		IP:        netip.MustParseAddr("45.155.204.23"),
		Kind:      KindBreakInAttempt,
		Raw:       "POSSIBLE BREAK-IN ATTEMPT from 45.155.204.23",
	}

	rec := event.Record()
	assert.Equal(t, "45.155.204.23", rec.IP)
	assert.Equal(t, KindBreakInAttempt, rec.Kind)
	assert.Equal(t, KindBreakInAttempt, rec.Type)
	assert.Equal(t, "other", rec.Status)
	assert.Equal(t, UnknownField, rec.User)
	assert.Equal(t, UnknownField, rec.Port)
	assert.Equal(t, ts, rec.Timestamp)

	data, err := json.Marshal(rec)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "unknown", decoded["user"])
	assert.Equal(t, "break_in_attempt", decoded["type"])
	assert.Contains(t, decoded, "raw")
}

func TestEventIPStringZero(t *testing.T) {
	assert.Empty(t, Event{}.IPString())
}

func TestGeoRecordHasCoordinates(t *testing.T) {
	tests := []struct {
		name     string
		geo      GeoRecord
		expected bool
	}{
		{"unknown", UnknownGeo(), false},
		{"zero pair", GeoRecord{Lat: Float(0), Lon: Float(0)}, false},
		{"lat only", GeoRecord{Lat: Float(37.4)}, false},
		{"real", GeoRecord{Lat: Float(37.4), Lon: Float(-122.1)}, true},
		{"equator", GeoRecord{Lat: Float(0), Lon: Float(-78.5)}, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, tc.geo.HasCoordinates())
		})
	}
}

func TestUnknownGeo(t *testing.T) {
	geo := UnknownGeo()
	assert.True(t, geo.IsUnknown())
	assert.Equal(t, UnknownValue, geo.City)
	assert.Equal(t, UnknownValue, geo.AS)
	assert.Nil(t, geo.Lat)
	assert.Nil(t, geo.Lon)
	assert.False(t, LocalGeo().IsUnknown())
}

func TestResolutionDegraded(t *testing.T) {
	located := GeoRecord{Lat: Float(1), Lon: Float(2), Country: "X"}

	assert.False(t, Resolution{Geo: located, Outcome: GeoResolved}.Degraded())
	assert.False(t, Resolution{Geo: located, Outcome: GeoCached}.Degraded())
	assert.False(t, Resolution{Geo: LocalGeo(), Outcome: GeoLocal}.Degraded())
	assert.True(t, Resolution{Geo: UnknownGeo(), Outcome: GeoCached}.Degraded())
	assert.True(t, Resolution{Geo: UnknownGeo(), Outcome: GeoRateLimited}.Degraded())
	assert.True(t, Resolution{Geo: UnknownGeo(), Outcome: GeoLookupFailed}.Degraded())
}

func TestParseTimeWindow(t *testing.T) {
	now := time.Date(2025, 10, 28, 12, 0, 0, 0, time.UTC)

	w, ok := ParseTimeWindow("24h")
	require.True(t, ok)
	assert.Equal(t, now.Add(-24*time.Hour), w.Cutoff(now))

	w, ok = ParseTimeWindow("")
	require.True(t, ok)
	assert.False(t, w.Bounded())
	assert.True(t, w.Cutoff(now).IsZero())
	assert.Equal(t, "all", w.String())

	_, ok = ParseTimeWindow("2w")
	assert.False(t, ok)
}

func TestPipelineMetricsSnapshot(t *testing.T) {
	m := NewPipelineMetrics()
	m.IncrementLines()
	m.IncrementLines()
	m.RecordEvent(KindFailedLogin)
	m.IncrementPublished()
	m.AddDropped(3)

	snap := m.GetSnapshot()
	assert.Equal(t, int64(2), snap.LinesRead)
	assert.Equal(t, int64(1), snap.EventsClassified)
	assert.Equal(t, int64(1), snap.EventsPublished)
	assert.Equal(t, int64(3), snap.EventsDropped)
	assert.Equal(t, int64(1), snap.ByKind[KindFailedLogin])

	snap.ByKind[KindFailedLogin] = 99
	assert.Equal(t, int64(1), m.GetSnapshot().ByKind[KindFailedLogin])
}
