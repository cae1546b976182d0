package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	weatherToolName       = "get_weather"
	DefaultWeatherBaseURL = "https://wttr.in"
)

type weatherArgs struct {
	City string `json:"city" jsonschema:"required,description=City name such as Beijing"`
}

// WeatherTool reports current conditions from a wttr.in compatible service.
type WeatherTool struct {
	baseURL string
	http    *HTTPClient
}

// NewWeatherTool constructs the weather tool. An empty baseURL selects wttr.in.
func NewWeatherTool(baseURL string, client *HTTPClient) *WeatherTool {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = DefaultWeatherBaseURL
	}
	if client == nil {
		client = NewHTTPClient(HTTPConfig{})
	}
	return &WeatherTool{baseURL: baseURL, http: client}
}

func (*WeatherTool) Name() string { return weatherToolName }

func (*WeatherTool) Description() string {
	return "查询指定城市的实时天气。"
}

func (*WeatherTool) Schema() json.RawMessage { return schemaOf(weatherArgs{}) }

type wttrResponse struct {
	CurrentCondition []struct {
		TempC       string `json:"temp_C"`
		WeatherDesc []struct {
			Value string `json:"value"`
		} `json:"weatherDesc"`
	} `json:"current_condition"`
}

func (t *WeatherTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	city := strings.TrimSpace(args["city"])
	if city == "" {
		return "", errors.New("city is required")
	}

	var data wttrResponse
	endpoint := fmt.Sprintf("%s/%s?format=j1", t.baseURL, url.PathEscape(city))
	if err := t.http.GetJSON(ctx, endpoint, &data); err != nil {
		return "", fmt.Errorf("query weather for %s: %w", city, err)
	}
	if len(data.CurrentCondition) == 0 {
		return "", fmt.Errorf("no current conditions for %s", city)
	}

	current := data.CurrentCondition[0]
	desc := "unknown"
	if len(current.WeatherDesc) > 0 && current.WeatherDesc[0].Value != "" {
		desc = current.WeatherDesc[0].Value
	}
	return fmt.Sprintf("%s的天气：%s, 气温%s°C", city, desc, current.TempC), nil
}
