package domain

import (
	"time"
)

// MaxSamples bounds IncidentAggregate.Samples.
const MaxSamples = 5

type IncidentAggregate struct {
	IP       string      `json:"ip"`
	Count    int         `json:"count"`
	Kinds    []EventKind `json:"kinds"`
	LastSeen time.Time   `json:"last_seen"`
	Samples  []time.Time `json:"samples"`
}

func (a IncidentAggregate) HasKind(kind EventKind) bool {
	for _, k := range a.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

type EnrichedIncident struct {
	IncidentAggregate
	Geo     GeoRecord  `json:"geo"`
	Outcome GeoOutcome `json:"geo_outcome"`
}

// TimeWindow is a recency filter. The zero value is unbounded.
type TimeWindow struct {
	Name     string
	Duration time.Duration
}

var (
	WindowHour  = TimeWindow{Name: "1h", Duration: time.Hour}
	WindowDay   = TimeWindow{Name: "24h", Duration: 24 * time.Hour}
	WindowWeek  = TimeWindow{Name: "7d", Duration: 7 * 24 * time.Hour}
	WindowMonth = TimeWindow{Name: "30d", Duration: 30 * 24 * time.Hour}
	WindowAll   = TimeWindow{Name: "all"}
)

func ParseTimeWindow(s string) (TimeWindow, bool) {
	switch s {
	case "1h":
		return WindowHour, true
	case "24h", "1d":
		return WindowDay, true
	case "7d":
		return WindowWeek, true
	case "30d":
		return WindowMonth, true
	case "", "all":
		return WindowAll, true
	}
	return TimeWindow{}, false
}

func (w TimeWindow) Bounded() bool {
	return w.Duration > 0
}

// Cutoff returns the earliest instant inside the window. Unbounded windows
// return the zero time.
func (w TimeWindow) Cutoff(now time.Time) time.Time {
	if !w.Bounded() {
		return time.Time{}
	}
	return now.Add(-w.Duration)
}

func (w TimeWindow) String() string {
	if w.Name == "" {
		return "all"
	}
	return w.Name
}

// IncidentQuery selects and shapes an on-demand incident listing.
type IncidentQuery struct {
	Window      TimeWindow
	Kinds       []EventKind
	IPContains  string
	Limit       int
	LastN       int
	LocatedOnly bool
}

type CountryCount struct {
	Country string `json:"country"`
	Count   int    `json:"count"`
}

type IncidentStats struct {
	Window       string            `json:"window"`
	TotalEvents  int               `json:"total_events"`
	UniqueIPs    int               `json:"unique_ips"`
	ByKind       map[EventKind]int `json:"by_kind"`
	TopCountries []CountryCount    `json:"top_countries"`
	FirstSeen    *time.Time        `json:"first_seen,omitempty"`
	LastSeen     *time.Time        `json:"last_seen,omitempty"`
}

type TimelineBucket struct {
	Start  time.Time         `json:"start"`
	Total  int               `json:"total"`
	ByKind map[EventKind]int `json:"by_kind"`
}
