package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/pkg/ratelimit"
)

func newTestViper(t *testing.T, yaml string) (*viper.Viper, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	return v, path
}

func TestSettings_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	s := CurrentSettings(v)

	assert.Equal(t, []string{"/var/log/auth.log", "./sample_auth.log"}, s.LogPaths)
	assert.Equal(t, "http://ip-api.com/json/", s.GeoAPIURL)
	assert.Equal(t, 45, s.GeoRateLimit)
	assert.Equal(t, time.Minute, s.GeoWindow)
	assert.Equal(t, 5*time.Second, s.GeoTimeout)
	assert.Equal(t, 30*24*time.Hour, s.CacheExpiry)
	assert.Equal(t, "./cache/ip_cache.json", s.CachePath)
	assert.Equal(t, 1000, s.APIDefault)
	assert.Equal(t, 5000, s.APIMax)
	assert.Equal(t, []string{"sshd", "ssh"}, s.LiveUnits)
	assert.NoError(t, ValidateSettings(s))
}

func TestValidateSettings(t *testing.T) {
	v := viper.New()
	SetDefaults(v)
	valid := CurrentSettings(v)

	tests := []struct {
		name   string
		mutate func(*Settings)
		field  string
	}{
		{"bad level", func(s *Settings) { s.LogLevel = "loud" }, "logging.level"},
		{"zero rate", func(s *Settings) { s.GeoRateLimit = 0 }, "geo.rate_limit"},
		{"zero window", func(s *Settings) { s.GeoWindow = 0 }, "geo.window_seconds"},
		{"bad backend", func(s *Settings) { s.CacheBackend = "redis" }, "cache.backend"},
		{"default above max", func(s *Settings) { s.APIDefault = 6000 }, "api.default_limit"},
		{"bad source", func(s *Settings) { s.LiveSource = "kafka" }, "live.source"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := valid
			tt.mutate(&s)
			err := ValidateSettings(s)
			require.Error(t, err)

			var cve *ConfigValidationError
			require.ErrorAs(t, err, &cve)
			assert.Equal(t, tt.field, cve.Field)
		})
	}
}

func TestConfigValidationError_Message(t *testing.T) {
	err := &ConfigValidationError{Field: "geo.rate_limit", Value: 12000, Reason: "must be between 1 and 10000"}
	assert.Equal(t, "config validation error: geo.rate_limit = 12000 - must be between 1 and 10000", err.Error())
}

func TestHotReload_AppliesRateLimitAndLevel(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	v, path := newTestViper(t, "logging:\n  level: info\ngeo:\n  rate_limit: 45\n")
	limiter := ratelimit.New(45, time.Minute)
	h := NewHotReloadConfig(HotReloadOptions{Viper: v, ConfigPath: path, Limiter: limiter})
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: warn\ngeo:\n  rate_limit: 10\n"), 0o644))
	require.NoError(t, h.Reload())

	assert.Equal(t, 10, limiter.Capacity())
	assert.Equal(t, zerolog.WarnLevel, zerolog.GlobalLevel())
	assert.Equal(t, int64(1), h.Reloads())
}

func TestHotReload_RejectsInvalid(t *testing.T) {
	prev := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(prev) })

	v, path := newTestViper(t, "geo:\n  rate_limit: 45\n")
	limiter := ratelimit.New(45, time.Minute)
	h := NewHotReloadConfig(HotReloadOptions{Viper: v, ConfigPath: path, Limiter: limiter})
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("geo:\n  rate_limit: 0\n"), 0o644))
	err := h.Reload()

	var cve *ConfigValidationError
	require.ErrorAs(t, err, &cve)
	assert.Equal(t, 45, limiter.Capacity())
	assert.Equal(t, int64(0), h.Reloads())
}

func TestHotReload_UnreadableFile(t *testing.T) {
	v, path := newTestViper(t, "geo:\n  rate_limit: 45\n")
	h := NewHotReloadConfig(HotReloadOptions{Viper: v, ConfigPath: path})
	defer h.Stop()

	require.NoError(t, os.WriteFile(path, []byte("geo: [unterminated\n"), 0o644))
	assert.Error(t, h.Reload())
}
