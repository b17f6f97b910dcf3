package weather

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

const amapURL = "https://restapi.amap.com"

// AMap queries the AMap (高德) live weather API.
type AMap struct {
	APIKey  string
	BaseURL string

	client *http.Client
	logger *slog.Logger
}

// NewAMap creates the provider.
func NewAMap(apiKey string, client *http.Client, logger *slog.Logger) *AMap {
	if logger == nil {
		logger = slog.Default()
	}
	return &AMap{APIKey: apiKey, BaseURL: amapURL, client: defaultClient(client), logger: logger}
}

// Name implements Provider.
func (a *AMap) Name() string { return "amap" }

type amapResponse struct {
	Status   string `json:"status"`
	Info     string `json:"info"`
	InfoCode string `json:"infocode"`
	Lives    []struct {
		City          string `json:"city"`
		Weather       string `json:"weather"`
		Temperature   string `json:"temperature"`
		WindDirection string `json:"winddirection"`
		WindPower     string `json:"windpower"`
		Humidity      string `json:"humidity"`
		ReportTime    string `json:"reporttime"`
	} `json:"lives"`
}

// Current implements Provider. AMap matches administrative names, so a
// bare city gets a 市 suffix first and the raw name second.
func (a *AMap) Current(ctx context.Context, city string) (string, error) {
	candidates := []string{city}
	if !strings.HasSuffix(city, "市") && !strings.HasSuffix(city, "县") && !strings.HasSuffix(city, "区") {
		candidates = []string{city + "市", city}
	}

	var lastErr error
	for _, name := range candidates {
		report, err := a.query(ctx, name)
		if err == nil {
			return report, nil
		}
		a.logger.Debug("amap query failed", "city", name, "error", err)
		lastErr = err
	}
	return "", lastErr
}

func (a *AMap) query(ctx context.Context, city string) (string, error) {
	u := fmt.Sprintf("%s/v3/weather/weatherInfo?key=%s&city=%s&extensions=base&output=json",
		a.BaseURL, url.QueryEscape(a.APIKey), url.QueryEscape(city))

	var data amapResponse
	if _, err := getJSON(ctx, a.client, u, nil, &data); err != nil {
		return "", err
	}
	if data.Status != "1" || len(data.Lives) == 0 {
		if data.InfoCode == "10009" {
			return "", fmt.Errorf("amap key platform mismatch (%s): use a web service key", data.Info)
		}
		return "", fmt.Errorf("amap returned status %s infocode %s: %s", data.Status, data.InfoCode, data.Info)
	}
	w := data.Lives[0]
	return fmt.Sprintf("【%s天气】\n天气：%s\n温度：%s℃\n风向：%s\n风力：%s级\n湿度：%s%%\n发布时间：%s",
		w.City, w.Weather, w.Temperature, w.WindDirection, w.WindPower, w.Humidity, w.ReportTime), nil
}
