// Package geo resolves source IPs to geolocation records through a
// persistent TTL cache, a sliding-window rate limiter and the ip-api.com
// JSON service.
package geo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/authradar/internal/domain"
)

var (
	ErrInvalidIP    = errors.New("invalid IP address")
	ErrLookupFailed = errors.New("geolocation lookup failed")
	ErrRateLimited  = errors.New("geolocation rate limit exhausted")
)

const maxResponseBytes = 64 << 10

type IPAPIConfig struct {
	// BaseURL is prefixed to the IP, e.g. http://ip-api.com/json/.
	BaseURL string

	// Timeout bounds one lookup. Lookups are not retried.
	Timeout time.Duration

	UserAgent string
}

func DefaultIPAPIConfig() IPAPIConfig {
	return IPAPIConfig{
		BaseURL:   "http://ip-api.com/json/",
		Timeout:   5 * time.Second,
		UserAgent: "authradar",
	}
}

// IPAPIProvider queries the ip-api.com JSON endpoint.
type IPAPIProvider struct {
	client    *http.Client
	baseURL   string
	timeout   time.Duration
	userAgent string
}

type ipAPIResponse struct {
	Status      string   `json:"status"`
	Message     string   `json:"message"`
	Lat         *float64 `json:"lat"`
	Lon         *float64 `json:"lon"`
	City        string   `json:"city"`
	Country     string   `json:"country"`
	CountryCode string   `json:"countryCode"`
	Org         string   `json:"org"`
	ISP         string   `json:"isp"`
	AS          string   `json:"as"`
}

func NewIPAPIProvider(config IPAPIConfig) *IPAPIProvider {
	defaults := DefaultIPAPIConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	return &IPAPIProvider{
		client:    &http.Client{Timeout: config.Timeout},
		baseURL:   config.BaseURL,
		timeout:   config.Timeout,
		userAgent: config.UserAgent,
	}
}

func (p *IPAPIProvider) Name() string {
	return "ip-api.com"
}

func (p *IPAPIProvider) Lookup(ctx context.Context, ip string) (domain.GeoRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+ip, http.NoBody)
	if err != nil {
		return domain.GeoRecord{}, fmt.Errorf("%w: build request: %v", ErrLookupFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", p.userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.GeoRecord{}, fmt.Errorf("%w: %v", ErrLookupFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.GeoRecord{}, fmt.Errorf("%w: %s returned status %d", ErrLookupFailed, p.Name(), resp.StatusCode)
	}

	var result ipAPIResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&result); err != nil {
		return domain.GeoRecord{}, fmt.Errorf("%w: decode response: %v", ErrLookupFailed, err)
	}

	if result.Status != "success" {
		msg := result.Message
		if msg == "" {
			msg = "status " + result.Status
		}
		return domain.GeoRecord{}, fmt.Errorf("%w: %s", ErrLookupFailed, msg)
	}

	return domain.GeoRecord{
		Lat:         result.Lat,
		Lon:         result.Lon,
		City:        orUnknown(result.City),
		Country:     orUnknown(result.Country),
		CountryCode: orUnknown(result.CountryCode),
		Org:         orUnknown(result.Org),
		ISP:         orUnknown(result.ISP),
		AS:          orUnknown(result.AS),
	}, nil
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return domain.UnknownValue
	}
	return s
}
