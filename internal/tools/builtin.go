package tools

import "log/slog"

// BuiltinConfig wires the stock tools.
type BuiltinConfig struct {
	WeatherBaseURL string
	Tavily         TavilyConfig
	DocumentsDir   string
	HTTP           HTTPConfig
	Logger         *slog.Logger
}

// NewBuiltinRegistry registers get_weather, get_attraction, web_search and
// save_document, sharing one rate-limited HTTP client.
func NewBuiltinRegistry(cfg BuiltinConfig) *Registry {
	if cfg.HTTP.Logger == nil {
		cfg.HTTP.Logger = cfg.Logger
	}
	client := NewHTTPClient(cfg.HTTP)
	search := NewTavilyClient(cfg.Tavily, client)

	return NewRegistry(
		NewWeatherTool(cfg.WeatherBaseURL, client),
		NewAttractionTool(search),
		NewWebSearchTool(search),
		NewDocumentTool(cfg.DocumentsDir),
	).WithLogger(cfg.Logger)
}
