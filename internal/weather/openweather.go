package weather

import (
	"context"
	"fmt"
	"math"
	"net/http"
	"net/url"
)

const openWeatherURL = "https://api.openweathermap.org"

// OpenWeather queries OpenWeatherMap. It often needs English or pinyin
// names for smaller Chinese cities, which is why it runs last.
type OpenWeather struct {
	APIKey  string
	BaseURL string

	client *http.Client
}

// NewOpenWeather creates the provider.
func NewOpenWeather(apiKey string, client *http.Client) *OpenWeather {
	return &OpenWeather{APIKey: apiKey, BaseURL: openWeatherURL, client: defaultClient(client)}
}

// Name implements Provider.
func (o *OpenWeather) Name() string { return "openweather" }

type openWeatherResponse struct {
	// Cod is a number on success and a string on errors.
	Cod     any    `json:"cod"`
	Message string `json:"message"`
	Name    string `json:"name"`
	Weather []struct {
		Description string `json:"description"`
	} `json:"weather"`
	Main struct {
		Temp      float64 `json:"temp"`
		FeelsLike float64 `json:"feels_like"`
		TempMin   float64 `json:"temp_min"`
		TempMax   float64 `json:"temp_max"`
		Humidity  int     `json:"humidity"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
}

// Current implements Provider.
func (o *OpenWeather) Current(ctx context.Context, city string) (string, error) {
	u := fmt.Sprintf("%s/data/2.5/weather?q=%s&appid=%s&units=metric&lang=zh_cn",
		o.BaseURL, url.QueryEscape(city), url.QueryEscape(o.APIKey))

	var data openWeatherResponse
	if _, err := getJSON(ctx, o.client, u, nil, &data); err != nil {
		return "", err
	}
	if fmt.Sprint(data.Cod) != "200" {
		return "", fmt.Errorf("openweather returned cod %v: %s", data.Cod, data.Message)
	}

	desc := ""
	if len(data.Weather) > 0 {
		desc = data.Weather[0].Description
	}
	return fmt.Sprintf("【%s天气】\n天气：%s\n温度：%d℃\n体感温度：%d℃\n最高温度：%d℃\n最低温度：%d℃\n湿度：%d%%\n风速：%g m/s",
		data.Name, desc, round(data.Main.Temp), round(data.Main.FeelsLike),
		round(data.Main.TempMax), round(data.Main.TempMin), data.Main.Humidity, data.Wind.Speed), nil
}

func round(f float64) int {
	return int(math.Round(f))
}
