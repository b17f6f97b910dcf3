package tools

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/piggy-diary/piggy/internal/trail"
	"github.com/piggy-diary/piggy/internal/weather"
)

// StickerCategories lists the sticker sets the client can display.
var StickerCategories = []string{"happy", "love", "sad", "angry", "tired"}

// showSticker only acknowledges; the client renders the sticker when
// the reply ends with the [STICKER:<category>] marker.
func (e *Executor) showSticker(_ context.Context, raw []byte) (Outcome, error) {
	args, err := decode[showStickerArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	category := strings.ToLower(strings.TrimSpace(args.Category))
	if !slices.Contains(StickerCategories, category) {
		return failed(fmt.Sprintf("Unknown sticker category %q. Use one of: %s.",
			args.Category, strings.Join(StickerCategories, ", "))), nil
	}
	return ok(fmt.Sprintf("Sticker [%s] displayed. Please mention it in your response and append [STICKER:%s] at the end.",
		category, category)), nil
}

func (e *Executor) getWeather(ctx context.Context, raw []byte) (Outcome, error) {
	args, err := decode[getWeatherArgs](raw)
	if err != nil {
		return Outcome{}, err
	}
	city := strings.TrimSpace(args.City)
	if city == "" && e.weather != nil {
		city = e.weather.DefaultCity()
	}
	tr := trail.FromContext(ctx)

	if e.weather == nil {
		tr.Add("天气查询 [" + city + "]: 未配置天气服务")
		return failed(noProviderMessage), nil
	}

	report, err := e.weather.Lookup(ctx, city)
	var allFailed *weather.AllFailedError
	switch {
	case err == nil:
		tr.Add("天气查询 [" + city + "]: 成功")
		return ok(report), nil
	case errors.As(err, &allFailed):
		tr.Add("天气查询 [" + city + "]: 失败")
		return failed(fmt.Sprintf("天气查询失败：已配置的天气服务都无法获取%s的天气（%s）。", city, allFailed.Error())), nil
	case errors.Is(err, weather.ErrNoProvider):
		tr.Add("天气查询 [" + city + "]: 未配置天气服务")
		return failed(noProviderMessage), nil
	default:
		return Outcome{}, err
	}
}

const noProviderMessage = "天气服务不可用：没有配置任何天气 API 密钥（QWeather、AMap、OpenWeatherMap），无法查询天气。"
