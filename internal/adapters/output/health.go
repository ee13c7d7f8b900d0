package output

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

type HealthStatus struct {
	Healthy        bool    `json:"healthy"`
	Status         string  `json:"status"`
	LogSource      string  `json:"log_source,omitempty"`
	LiveSessions   int     `json:"live_sessions"`
	CacheEntries   int     `json:"cache_entries"`
	CacheSaveFails int64   `json:"cache_save_errors"`
	UptimeSeconds  float64 `json:"uptime_seconds"`
	Reason         string  `json:"reason,omitempty"`
}

// LogSourceProbe locates the static auth log.
type LogSourceProbe interface {
	Resolve() (string, error)
}

// SessionCounter reports running live sessions.
type SessionCounter interface {
	ActiveSessions() int
}

// CacheProbe reports geolocation cache health.
type CacheProbe interface {
	Len() int
	SaveErrors() int64
}

// HealthChecker answers readiness probes. Results are cached for
// CheckInterval.
type HealthChecker struct {
	logSource   LogSourceProbe
	sessions    SessionCounter
	cache       CacheProbe
	requireLive bool
	startTime   time.Time

	lastCheck     HealthStatus
	lastCheckTime time.Time
	lastCheckMu   sync.RWMutex
	checkInterval time.Duration
}

type HealthCheckerConfig struct {
	LogSource   LogSourceProbe
	Sessions    SessionCounter
	Cache       CacheProbe
	RequireLive bool // A missing live session degrades the status

	CheckInterval time.Duration
}

func DefaultHealthCheckerConfig() HealthCheckerConfig {
	return HealthCheckerConfig{
		CheckInterval: 5 * time.Second,
	}
}

func NewHealthChecker(config HealthCheckerConfig) *HealthChecker {
	return &HealthChecker{
		logSource:     config.LogSource,
		sessions:      config.Sessions,
		cache:         config.Cache,
		requireLive:   config.RequireLive,
		checkInterval: config.CheckInterval,
		startTime:     time.Now(),
	}
}

func (h *HealthChecker) Check() HealthStatus {
	h.lastCheckMu.RLock()
	if !h.lastCheckTime.IsZero() && time.Since(h.lastCheckTime) < h.checkInterval {
		cached := h.lastCheck
		h.lastCheckMu.RUnlock()
		return cached
	}
	h.lastCheckMu.RUnlock()

	status := h.performCheck()

	h.lastCheckMu.Lock()
	h.lastCheck = status
	h.lastCheckTime = time.Now()
	h.lastCheckMu.Unlock()

	return status
}

func (h *HealthChecker) performCheck() HealthStatus {
	status := HealthStatus{
		UptimeSeconds: time.Since(h.startTime).Seconds(),
	}

	var reasons []string
	staticOK := true
	if h.logSource != nil {
		path, err := h.logSource.Resolve()
		if err != nil {
			staticOK = false
			reasons = append(reasons, err.Error())
		}
		status.LogSource = path
	}

	if h.sessions != nil {
		status.LiveSessions = h.sessions.ActiveSessions()
	}
	liveOK := status.LiveSessions > 0
	if h.requireLive && !liveOK {
		reasons = append(reasons, "no live session running")
	}

	if h.cache != nil {
		status.CacheEntries = h.cache.Len()
		status.CacheSaveFails = h.cache.SaveErrors()
		if status.CacheSaveFails > 0 {
			reasons = append(reasons, fmt.Sprintf("%d geo cache saves failed", status.CacheSaveFails))
		}
	}

	status.Reason = strings.Join(reasons, "; ")
	switch {
	case !staticOK && !liveOK:
		status.Healthy = false
		status.Status = "OFFLINE"
	case len(reasons) > 0:
		status.Healthy = true
		status.Status = "DEGRADED"
	default:
		status.Healthy = true
		status.Status = "HEALTHY"
	}
	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	w.Header().Set("Content-Type", "application/json")
	if status.Healthy {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(status)
}
