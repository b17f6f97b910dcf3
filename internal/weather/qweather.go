package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

// QWeather endpoints. The free tier lives on the dev host; keys bound to
// a paid plan answer 403 there and must use the commercial host.
const (
	qweatherDevURL        = "https://devapi.qweather.com"
	qweatherCommercialURL = "https://api.qweather.com"
)

// QWeather queries the QWeather (和风天气) API. It resolves the city to
// a location id first, which is more precise for Chinese city names.
type QWeather struct {
	APIKey string
	// BaseURL is the primary API root.
	BaseURL string
	// FallbackURL is retried after a 403 from BaseURL. Empty disables
	// the retry, as when a custom host is configured.
	FallbackURL string

	client *http.Client
	logger *slog.Logger
}

// NewQWeather creates the provider. host is the account-specific API
// host from the QWeather console; empty uses the public hosts.
func NewQWeather(apiKey, host string, client *http.Client, logger *slog.Logger) *QWeather {
	q := &QWeather{
		APIKey:      apiKey,
		BaseURL:     qweatherDevURL,
		FallbackURL: qweatherCommercialURL,
		client:      defaultClient(client),
		logger:      logger,
	}
	if host = strings.TrimSpace(host); host != "" {
		if !strings.Contains(host, "://") {
			host = "https://" + host
		}
		q.BaseURL = strings.TrimRight(host, "/")
		q.FallbackURL = ""
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}
	return q
}

// Name implements Provider.
func (q *QWeather) Name() string { return "qweather" }

type qweatherLookup struct {
	Code     string `json:"code"`
	Location []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	} `json:"location"`
}

type qweatherNow struct {
	Code string `json:"code"`
	Now  *struct {
		ObsTime   string `json:"obsTime"`
		Temp      string `json:"temp"`
		FeelsLike string `json:"feelsLike"`
		Text      string `json:"text"`
		WindDir   string `json:"windDir"`
		WindScale string `json:"windScale"`
		WindSpeed string `json:"windSpeed"`
		Humidity  string `json:"humidity"`
		Pressure  string `json:"pressure"`
		Vis       string `json:"vis"`
	} `json:"now"`
}

// Current implements Provider.
func (q *QWeather) Current(ctx context.Context, city string) (string, error) {
	header := http.Header{"X-Qw-Api-Key": {q.APIKey}}

	// A failed lookup is not fatal: the now endpoint also accepts a
	// plain city name.
	locationID, locationName := city, city
	var lookup qweatherLookup
	lookupURL := fmt.Sprintf("%s/v2/city/lookup?location=%s&number=1", q.BaseURL, url.QueryEscape(city))
	if _, err := getJSON(ctx, q.client, lookupURL, header, &lookup); err != nil {
		q.logger.Debug("qweather city lookup failed", "city", city, "error", err)
	} else if lookup.Code == "200" && len(lookup.Location) > 0 {
		locationID, locationName = lookup.Location[0].ID, lookup.Location[0].Name
	} else {
		q.logger.Debug("qweather city not found", "city", city, "code", lookup.Code)
	}

	report, status, err := q.now(ctx, q.BaseURL, locationID, locationName, header)
	if err != nil && status == http.StatusForbidden && q.FallbackURL != "" {
		q.logger.Debug("qweather dev host refused key, retrying commercial host")
		report, _, err = q.now(ctx, q.FallbackURL, locationID, locationName, header)
	}
	return report, err
}

func (q *QWeather) now(ctx context.Context, base, locationID, locationName string, header http.Header) (string, int, error) {
	var data qweatherNow
	status, err := getJSON(ctx, q.client, fmt.Sprintf("%s/v7/weather/now?location=%s", base, url.QueryEscape(locationID)), header, &data)
	if err != nil {
		return "", status, err
	}
	if data.Code != "200" || data.Now == nil {
		return "", status, fmt.Errorf("qweather returned code %s", data.Code)
	}
	n := data.Now
	return fmt.Sprintf("【%s天气】\n天气：%s\n温度：%s℃\n体感温度：%s℃\n风向：%s\n风力：%s级\n风速：%s km/h\n湿度：%s%%\n能见度：%s km\n气压：%s hPa\n更新时间：%s",
		locationName, n.Text, n.Temp, n.FeelsLike, n.WindDir, n.WindScale, n.WindSpeed, n.Humidity, n.Vis, n.Pressure, n.ObsTime), status, nil
}
