package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	attractionToolName   = "get_attraction"
	webSearchToolName    = "web_search"
	DefaultTavilyBaseURL = "https://api.tavily.com"
	defaultMaxResults    = 2
)

// ErrMissingTavilyKey indicates the search tools were used without credentials.
var ErrMissingTavilyKey = errors.New("TAVILY_API_KEY is not configured")

// TavilyConfig configures the Tavily search client.
type TavilyConfig struct {
	APIKey     string
	BaseURL    string
	MaxResults int
}

// TavilyClient calls the Tavily search API.
type TavilyClient struct {
	apiKey     string
	baseURL    string
	maxResults int
	http       *HTTPClient
}

// NewTavilyClient constructs a search client.
func NewTavilyClient(cfg TavilyConfig, client *HTTPClient) *TavilyClient {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultTavilyBaseURL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	if client == nil {
		client = NewHTTPClient(HTTPConfig{})
	}
	return &TavilyClient{
		apiKey:     strings.TrimSpace(cfg.APIKey),
		baseURL:    baseURL,
		maxResults: maxResults,
		http:       client,
	}
}

type tavilyRequest struct {
	Query         string `json:"query"`
	SearchDepth   string `json:"search_depth"`
	IncludeAnswer bool   `json:"include_answer"`
	MaxResults    int    `json:"max_results"`
}

// TavilyResult is one search hit.
type TavilyResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// TavilyResponse is the subset of the search reply the tools consume.
type TavilyResponse struct {
	Answer  string         `json:"answer"`
	Results []TavilyResult `json:"results"`
}

// Search runs a basic-depth query.
func (c *TavilyClient) Search(ctx context.Context, query string, includeAnswer bool) (TavilyResponse, error) {
	if c.apiKey == "" {
		return TavilyResponse{}, ErrMissingTavilyKey
	}
	var out TavilyResponse
	err := c.http.PostJSON(ctx, c.baseURL+"/search",
		map[string]string{"Authorization": "Bearer " + c.apiKey},
		tavilyRequest{Query: query, SearchDepth: "basic", IncludeAnswer: includeAnswer, MaxResults: c.maxResults},
		&out,
	)
	if err != nil {
		return TavilyResponse{}, fmt.Errorf("tavily search: %w", err)
	}
	return out, nil
}

type attractionArgs struct {
	City    string `json:"city" jsonschema:"required,description=City name"`
	Weather string `json:"weather" jsonschema:"required,description=Current weather description"`
}

// AttractionTool recommends sights for a city under the given weather.
type AttractionTool struct {
	search *TavilyClient
}

// NewAttractionTool constructs the attraction recommender.
func NewAttractionTool(search *TavilyClient) *AttractionTool {
	return &AttractionTool{search: search}
}

func (*AttractionTool) Name() string { return attractionToolName }

func (*AttractionTool) Description() string {
	return "根据城市和天气搜索推荐的旅游景点。"
}

func (*AttractionTool) Schema() json.RawMessage { return schemaOf(attractionArgs{}) }

func (t *AttractionTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	city := strings.TrimSpace(args["city"])
	weather := strings.TrimSpace(args["weather"])
	if city == "" {
		return "", errors.New("city is required")
	}

	query := fmt.Sprintf("'%s'在'%s'天气下最值得去的旅游景点推荐及理由", city, weather)
	resp, err := t.search.Search(ctx, query, true)
	if err != nil {
		return "", err
	}
	if answer := strings.TrimSpace(resp.Answer); answer != "" {
		return answer, nil
	}
	if len(resp.Results) == 0 {
		return "抱歉，没有找到相关的旅游景点推荐。", nil
	}
	lines := make([]string, 0, len(resp.Results))
	for _, result := range resp.Results {
		lines = append(lines, fmt.Sprintf("- %s: %s", result.Title, result.Content))
	}
	return "根据搜索，为您找到以下相关信息：\n" + strings.Join(lines, "\n"), nil
}

type webSearchArgs struct {
	Query string `json:"query" jsonschema:"required,description=Search query"`
}

// WebSearchTool returns the top search results for a free-form query.
type WebSearchTool struct {
	search *TavilyClient
}

// NewWebSearchTool constructs the general search tool.
func NewWebSearchTool(search *TavilyClient) *WebSearchTool {
	return &WebSearchTool{search: search}
}

func (*WebSearchTool) Name() string { return webSearchToolName }

func (*WebSearchTool) Description() string {
	return "Search the web and return the most relevant results."
}

func (*WebSearchTool) Schema() json.RawMessage { return schemaOf(webSearchArgs{}) }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]string) (string, error) {
	query := strings.TrimSpace(args["query"])
	if query == "" {
		return "", errors.New("query is required")
	}
	resp, err := t.search.Search(ctx, query, false)
	if err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Results for %q:\n", query)
	for i, result := range resp.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n   %s\n", i+1, result.Title, result.URL, truncate(result.Content, 500))
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
