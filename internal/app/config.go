package app

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// Settings is the resolved runtime configuration.
type Settings struct {
	LogLevel string

	LogPaths       []string
	IncludeRotated bool

	GeoAPIURL      string
	GeoRateLimit   int
	GeoWindow      time.Duration
	GeoTimeout     time.Duration
	GeoMaxWait     time.Duration
	CachePath      string
	CacheBackend   string
	CacheExpiry    time.Duration
	StatsGeoLimit  int
	APIDefault     int
	APIMax         int
	ServerAddr     string
	MetricsEnabled bool
	MetricsAddr    string

	LiveSource    string
	LiveUnits     []string
	LiveFile      string
	LiveQueueSize int
	EventsFile    string
	DemoRate      int
	DemoAttackPct int
}

// SetDefaults registers every configuration default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")

	v.SetDefault("log.paths", []string{"/var/log/auth.log", "./sample_auth.log"})
	v.SetDefault("log.include_rotated", false)

	v.SetDefault("geo.api_url", "http://ip-api.com/json/")
	v.SetDefault("geo.rate_limit", 45)
	v.SetDefault("geo.window_seconds", 60)
	v.SetDefault("geo.timeout", "5s")
	v.SetDefault("geo.max_wait", "60s")
	v.SetDefault("geo.stats_limit", 100)

	v.SetDefault("cache.path", "./cache/ip_cache.json")
	v.SetDefault("cache.backend", "json")
	v.SetDefault("cache.expiry_days", 30)

	v.SetDefault("api.default_limit", 1000)
	v.SetDefault("api.max_incidents", 5000)
	v.SetDefault("server.addr", ":5000")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.addr", ":9090")

	v.SetDefault("live.source", "journal")
	v.SetDefault("live.units", []string{"sshd", "ssh"})
	v.SetDefault("live.file", "/var/log/auth.log")
	v.SetDefault("live.queue_size", 1024)
	v.SetDefault("live.events_file", "")

	v.SetDefault("demo.rate", 5)
	v.SetDefault("demo.attack_percent", 70)
}

// CurrentSettings reads Settings from v.
func CurrentSettings(v *viper.Viper) Settings {
	return Settings{
		LogLevel:       v.GetString("logging.level"),
		LogPaths:       v.GetStringSlice("log.paths"),
		IncludeRotated: v.GetBool("log.include_rotated"),
		GeoAPIURL:      v.GetString("geo.api_url"),
		GeoRateLimit:   v.GetInt("geo.rate_limit"),
		GeoWindow:      time.Duration(v.GetInt("geo.window_seconds")) * time.Second,
		GeoTimeout:     v.GetDuration("geo.timeout"),
		GeoMaxWait:     v.GetDuration("geo.max_wait"),
		CachePath:      v.GetString("cache.path"),
		CacheBackend:   v.GetString("cache.backend"),
		CacheExpiry:    time.Duration(v.GetInt("cache.expiry_days")) * 24 * time.Hour,
		StatsGeoLimit:  v.GetInt("geo.stats_limit"),
		APIDefault:     v.GetInt("api.default_limit"),
		APIMax:         v.GetInt("api.max_incidents"),
		ServerAddr:     v.GetString("server.addr"),
		MetricsEnabled: v.GetBool("metrics.enabled"),
		MetricsAddr:    v.GetString("metrics.addr"),
		LiveSource:     v.GetString("live.source"),
		LiveUnits:      v.GetStringSlice("live.units"),
		LiveFile:       v.GetString("live.file"),
		LiveQueueSize:  v.GetInt("live.queue_size"),
		EventsFile:     v.GetString("live.events_file"),
		DemoRate:       v.GetInt("demo.rate"),
		DemoAttackPct:  v.GetInt("demo.attack_percent"),
	}
}

// ValidateSettings rejects values the pipeline cannot run with.
func ValidateSettings(s Settings) error {
	if _, err := zerolog.ParseLevel(strings.ToLower(s.LogLevel)); err != nil {
		return &ConfigValidationError{Field: "logging.level", Value: s.LogLevel, Reason: "unknown level"}
	}
	if s.GeoRateLimit < 1 || s.GeoRateLimit > 10000 {
		return &ConfigValidationError{Field: "geo.rate_limit", Value: s.GeoRateLimit, Reason: "must be between 1 and 10000"}
	}
	if s.GeoWindow <= 0 {
		return &ConfigValidationError{Field: "geo.window_seconds", Value: s.GeoWindow, Reason: "must be positive"}
	}
	if s.GeoTimeout <= 0 {
		return &ConfigValidationError{Field: "geo.timeout", Value: s.GeoTimeout, Reason: "must be positive"}
	}
	if s.CacheExpiry <= 0 {
		return &ConfigValidationError{Field: "cache.expiry_days", Value: s.CacheExpiry, Reason: "must be positive"}
	}
	switch s.CacheBackend {
	case "json", "bolt":
	default:
		return &ConfigValidationError{Field: "cache.backend", Value: s.CacheBackend, Reason: "must be json or bolt"}
	}
	if s.APIMax < 1 {
		return &ConfigValidationError{Field: "api.max_incidents", Value: s.APIMax, Reason: "must be positive"}
	}
	if s.APIDefault < 1 || s.APIDefault > s.APIMax {
		return &ConfigValidationError{Field: "api.default_limit", Value: s.APIDefault, Reason: "must be between 1 and api.max_incidents"}
	}
	switch s.LiveSource {
	case "journal", "file", "follow", "demo":
	default:
		return &ConfigValidationError{Field: "live.source", Value: s.LiveSource, Reason: "must be journal, file, follow or demo"}
	}
	return nil
}

// CapacitySetter is the part of the rate limiter that can change at runtime.
type CapacitySetter interface {
	SetCapacity(capacity int)
	Capacity() int
}

// HotReloadConfig applies config file changes that are safe to change at
// runtime: the log level and the geolocation rate limit. Other settings
// take effect on restart.
type HotReloadConfig struct {
	v       *viper.Viper
	limiter CapacitySetter

	configPath string
	debounce   time.Duration
	timer      *time.Timer
	reloads    atomic.Int64
	mu         sync.Mutex
	stopChan   chan struct{}
	stopOnce   sync.Once
}

type HotReloadOptions struct {
	Viper         *viper.Viper // default: viper.GetViper()
	ConfigPath    string
	Limiter       CapacitySetter
	DebounceDelay time.Duration
}

func NewHotReloadConfig(opts HotReloadOptions) *HotReloadConfig {
	if opts.DebounceDelay == 0 {
		opts.DebounceDelay = 500 * time.Millisecond
	}
	if opts.Viper == nil {
		opts.Viper = viper.GetViper()
	}

	return &HotReloadConfig{
		v:          opts.Viper,
		limiter:    opts.Limiter,
		configPath: opts.ConfigPath,
		debounce:   opts.DebounceDelay,
		stopChan:   make(chan struct{}),
	}
}

func (h *HotReloadConfig) StartWatching() {
	h.v.OnConfigChange(func(e fsnotify.Event) {
		log.Info().
			Str("file", e.Name).
			Str("op", e.Op.String()).
			Msg("Config file changed, reloading...")

		h.schedule()
	})

	h.v.WatchConfig()
	log.Info().Str("config", h.configPath).Msg("Hot-reload config watching started")
}

// schedule coalesces bursts of write events into one reload.
func (h *HotReloadConfig) schedule() {
	h.mu.Lock()
	defer h.mu.Unlock()

	select {
	case <-h.stopChan:
		return
	default:
	}
	if h.timer != nil {
		h.timer.Stop()
	}
	h.timer = time.AfterFunc(h.debounce, func() {
		if err := h.Reload(); err != nil {
			log.Error().Err(err).Msg("Config reload rejected, keeping current configuration")
		}
	})
}

// Reload re-reads the config file and applies the reloadable settings.
// Invalid files leave the running configuration untouched.
func (h *HotReloadConfig) Reload() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if err := h.v.ReadInConfig(); err != nil {
		return fmt.Errorf("re-read config: %w", err)
	}

	settings := CurrentSettings(h.v)
	if err := ValidateSettings(settings); err != nil {
		return err
	}

	level, _ := zerolog.ParseLevel(strings.ToLower(settings.LogLevel))
	zerolog.SetGlobalLevel(level)

	if h.limiter != nil && h.limiter.Capacity() != settings.GeoRateLimit {
		old := h.limiter.Capacity()
		h.limiter.SetCapacity(settings.GeoRateLimit)
		log.Info().Int("old", old).Int("new", settings.GeoRateLimit).Msg("Geolocation rate limit updated")
	}

	h.reloads.Add(1)
	log.Info().Str("level", level.String()).Msg("Configuration hot-reloaded successfully")
	return nil
}

// Reloads returns how many reloads were applied.
func (h *HotReloadConfig) Reloads() int64 {
	return h.reloads.Load()
}

func (h *HotReloadConfig) Stop() {
	h.stopOnce.Do(func() {
		h.mu.Lock()
		close(h.stopChan)
		if h.timer != nil {
			h.timer.Stop()
		}
		h.mu.Unlock()
		log.Info().Msg("Hot-reload config watcher stopped")
	})
}

type ConfigValidationError struct {
	Field  string
	Value  interface{}
	Reason string
}

func (e *ConfigValidationError) Error() string {
	return fmt.Sprintf("config validation error: %s = %v - %s", e.Field, e.Value, e.Reason)
}
