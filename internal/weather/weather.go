// Package weather looks up current conditions for a city through a
// fixed-priority chain of providers.
package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/piggy-diary/piggy/internal/httpkit"
	"github.com/piggy-diary/piggy/internal/metrics"
)

// ErrNoProvider is returned when no provider has credentials.
var ErrNoProvider = errors.New("no weather provider configured")

// Provider reports the current weather for a city as display text.
type Provider interface {
	Name() string
	Current(ctx context.Context, city string) (string, error)
}

// Attempt records one provider failure.
type Attempt struct {
	Provider string
	Err      error
}

// AllFailedError is returned when every configured provider failed.
type AllFailedError struct {
	City     string
	Attempts []Attempt
}

func (e *AllFailedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = a.Provider + ": " + a.Err.Error()
	}
	return fmt.Sprintf("all weather providers failed for %s (%s)", e.City, strings.Join(parts, "; "))
}

// Unwrap exposes the individual provider errors.
func (e *AllFailedError) Unwrap() []error {
	errs := make([]error, len(e.Attempts))
	for i, a := range e.Attempts {
		errs[i] = a.Err
	}
	return errs
}

// Service tries providers in order and caches successful reports.
type Service struct {
	providers   []Provider
	cache       Cache
	ttl         time.Duration
	defaultCity string
	logger      *slog.Logger
}

// Options configures a Service.
type Options struct {
	DefaultCity string
	Cache       Cache // nil disables caching
	TTL         time.Duration
	Logger      *slog.Logger
}

// NewService creates a lookup service. Providers are tried in the order
// given.
func NewService(providers []Provider, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		providers:   providers,
		cache:       opts.Cache,
		ttl:         opts.TTL,
		defaultCity: opts.DefaultCity,
		logger:      opts.Logger,
	}
}

// DefaultCity is the city used when a lookup names none.
func (s *Service) DefaultCity() string {
	return s.defaultCity
}

// Configured reports whether at least one provider is available.
func (s *Service) Configured() bool {
	return len(s.providers) > 0
}

// Lookup returns the weather report for city, or for the default city
// when city is blank. The first provider to succeed wins.
func (s *Service) Lookup(ctx context.Context, city string) (string, error) {
	city = strings.TrimSpace(city)
	if city == "" {
		city = s.defaultCity
	}
	if len(s.providers) == 0 {
		return "", ErrNoProvider
	}

	key := strings.ToLower(city)
	if s.cache != nil {
		if report, ok, err := s.cache.Get(ctx, key); err != nil {
			s.logger.Debug("weather cache read failed", "city", city, "error", err)
		} else if ok {
			s.logger.Debug("weather cache hit", "city", city)
			return report, nil
		}
	}

	failed := &AllFailedError{City: city}
	for _, p := range s.providers {
		report, err := p.Current(ctx, city)
		if err != nil {
			metrics.WeatherProviderTotal.WithLabelValues(p.Name(), "error").Inc()
			s.logger.Warn("weather provider failed", "provider", p.Name(), "city", city, "error", err)
			failed.Attempts = append(failed.Attempts, Attempt{Provider: p.Name(), Err: err})
			if ctx.Err() != nil {
				break
			}
			continue
		}
		metrics.WeatherProviderTotal.WithLabelValues(p.Name(), "ok").Inc()
		s.logger.Debug("weather provider succeeded", "provider", p.Name(), "city", city)

		if s.cache != nil {
			if err := s.cache.Set(ctx, key, report, s.ttl); err != nil {
				s.logger.Debug("weather cache write failed", "city", city, "error", err)
			}
		}
		return report, nil
	}
	return "", failed
}

// getJSON fetches url and decodes a JSON body into out. Non-2xx
// responses return the status code with an error.
func getJSON(ctx context.Context, client *http.Client, url string, header http.Header, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range header {
		req.Header[k] = v
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body := httpkit.ReadErrorBody(resp.Body, 512)
		return resp.StatusCode, fmt.Errorf("HTTP %d: %s", resp.StatusCode, body)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response: %w", err)
	}
	return resp.StatusCode, nil
}

func defaultClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return httpkit.NewClient(httpkit.WithTimeout(10 * time.Second))
}
