package output

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/adapters/input"
	"github.com/xoelrdgz/authradar/internal/app"
	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

var errBadRequest = errors.New("bad request")

// Response is the envelope of every JSON API reply.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// APIServer serves incidents, stats and the live WebSocket over HTTP.
type APIServer struct {
	incidents ports.IncidentQuerier
	cache     ports.CacheInspector
	health    *HealthChecker
	metrics   *PrometheusMetrics
	recent    *EventRing
	ws        *WebSocketBridge

	router chi.Router
	server *http.Server
}

type APIServerConfig struct {
	Incidents ports.IncidentQuerier
	Cache     ports.CacheInspector
	Health    *HealthChecker
	Metrics   *PrometheusMetrics
	Recent    *EventRing
	WebSocket *WebSocketBridge
}

func NewAPIServer(config APIServerConfig) *APIServer {
	s := &APIServer{
		incidents: config.Incidents,
		cache:     config.Cache,
		health:    config.Health,
		metrics:   config.Metrics,
		recent:    config.Recent,
		ws:        config.WebSocket,
	}
	s.router = s.routes()
	return s
}

func (s *APIServer) Handler() http.Handler {
	return s.router
}

func (s *APIServer) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/incidents", s.handleIncidents)
		r.Get("/top", s.handleTop)
		r.Get("/stats", s.handleStats)
		r.Get("/timeline", s.handleTimeline)
		r.Get("/cache/stats", s.handleCacheStats)
		r.Post("/cache/cleanup", s.handleCacheCleanup)
		r.Get("/live/recent", s.handleRecent)
	})

	if s.ws != nil {
		r.Get("/ws", s.ws.ServeHTTP)
	}
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}
	if s.health != nil {
		r.Get("/ready", s.health.ServeHTTP)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, Response{Error: "endpoint not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, Response{Error: "method not allowed"})
	})
	return r
}

// Start listens on addr in the background.
func (s *APIServer) Start(addr string) {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("Starting API server")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("API server error")
		}
	}()
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *APIServer) handleIncidents(w http.ResponseWriter, r *http.Request) {
	q, err := parseIncidentQuery(r)
	if err != nil {
		s.fail(w, "incidents", err)
		return
	}
	incidents, err := s.incidents.Query(r.Context(), q)
	if err != nil {
		s.fail(w, "incidents", err)
		return
	}
	s.ok(w, "incidents", incidents)
}

func (s *APIServer) handleTop(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		s.fail(w, "top", err)
		return
	}
	n, err := parseInt(r, "limit", 10)
	if err != nil {
		s.fail(w, "top", err)
		return
	}

	top, err := s.incidents.Top(r.Context(), window, n)
	if err != nil {
		s.fail(w, "top", err)
		return
	}

	if r.URL.Query().Get("format") == "csv" {
		s.observe("top", http.StatusOK)
		writeIncidentsCSV(w, top)
		return
	}
	s.ok(w, "top", top)
}

func (s *APIServer) handleStats(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	stats, err := s.incidents.Stats(r.Context(), window)
	if err != nil {
		s.fail(w, "stats", err)
		return
	}
	s.ok(w, "stats", stats)
}

func (s *APIServer) handleTimeline(w http.ResponseWriter, r *http.Request) {
	window, err := parseWindow(r)
	if err != nil {
		s.fail(w, "timeline", err)
		return
	}
	buckets, err := s.incidents.Timeline(r.Context(), window, r.URL.Query().Get("interval"))
	if err != nil {
		s.fail(w, "timeline", err)
		return
	}
	s.ok(w, "timeline", buckets)
}

func (s *APIServer) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	s.ok(w, "cache_stats", s.cache.Stats())
}

func (s *APIServer) handleCacheCleanup(w http.ResponseWriter, r *http.Request) {
	removed := s.cache.CleanupExpired()
	s.ok(w, "cache_cleanup", map[string]int{"removed": removed})
}

func (s *APIServer) handleRecent(w http.ResponseWriter, r *http.Request) {
	n, err := parseInt(r, "limit", 100)
	if err != nil {
		s.fail(w, "recent", err)
		return
	}
	events := []domain.EventRecord{}
	if s.recent != nil {
		events = s.recent.Latest(n)
	}
	s.ok(w, "recent", events)
}

func (s *APIServer) ok(w http.ResponseWriter, endpoint string, data interface{}) {
	s.observe(endpoint, http.StatusOK)
	writeJSON(w, http.StatusOK, Response{Success: true, Data: data})
}

func (s *APIServer) fail(w http.ResponseWriter, endpoint string, err error) {
	status := statusFor(err)
	if status >= 500 {
		log.Error().Err(err).Str("endpoint", endpoint).Msg("API request failed")
	}
	s.observe(endpoint, status)
	writeJSON(w, status, Response{Error: err.Error()})
}

func (s *APIServer) observe(endpoint string, status int) {
	if s.metrics != nil {
		s.metrics.ObserveRequest(endpoint, status)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, app.ErrInvalidInterval):
		return http.StatusBadRequest
	case errors.Is(err, input.ErrLogSourceMissing):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func parseIncidentQuery(r *http.Request) (domain.IncidentQuery, error) {
	var q domain.IncidentQuery
	var err error

	if q.Window, err = parseWindow(r); err != nil {
		return q, err
	}
	if q.Limit, err = parseInt(r, "limit", 0); err != nil {
		return q, err
	}
	if q.LastN, err = parseInt(r, "last_n", 0); err != nil {
		return q, err
	}

	values := r.URL.Query()
	q.IPContains = strings.TrimSpace(values.Get("q"))
	q.LocatedOnly = values.Get("located") == "true" || values.Get("located") == "1"

	if types := values.Get("types"); types != "" {
		for _, t := range strings.Split(types, ",") {
			kind, ok := domain.ParseEventKind(strings.TrimSpace(t))
			if !ok {
				return q, fmt.Errorf("%w: unknown event type %q", errBadRequest, t)
			}
			q.Kinds = append(q.Kinds, kind)
		}
	}
	return q, nil
}

func parseWindow(r *http.Request) (domain.TimeWindow, error) {
	raw := r.URL.Query().Get("since")
	window, ok := domain.ParseTimeWindow(raw)
	if !ok {
		return domain.TimeWindow{}, fmt.Errorf("%w: unknown window %q", errBadRequest, raw)
	}
	return window, nil
}

func parseInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s must be a non-negative integer", errBadRequest, name)
	}
	return n, nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}

var csvHeader = []string{"ip", "count", "kinds", "last_seen", "country", "city", "lat", "lon", "org", "isp", "as"}

func writeIncidentsCSV(w http.ResponseWriter, incidents []domain.EnrichedIncident) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="top_attackers.csv"`)
	w.WriteHeader(http.StatusOK)

	cw := csv.NewWriter(w)
	_ = cw.Write(csvHeader)
	for _, inc := range incidents {
		kinds := make([]string, len(inc.Kinds))
		for i, k := range inc.Kinds {
			kinds[i] = string(k)
		}
		_ = cw.Write([]string{
			inc.IP,
			strconv.Itoa(inc.Count),
			strings.Join(kinds, ";"),
			inc.LastSeen.Format(time.RFC3339),
			inc.Geo.Country,
			inc.Geo.City,
			formatCoord(inc.Geo.Lat),
			formatCoord(inc.Geo.Lon),
			inc.Geo.Org,
			inc.Geo.ISP,
			inc.Geo.AS,
		})
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		log.Debug().Err(err).Msg("Failed to write CSV export")
	}
}

func formatCoord(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', 4, 64)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
