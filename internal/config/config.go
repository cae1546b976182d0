package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	defaultProviderName        = "anthropic"
	defaultAnthropicModel      = "claude-sonnet-4-20250514"
	defaultAnthropicVersion    = "2023-06-01"
	defaultOpenAIModel         = "gpt-4o"
	defaultRetryMaxRetries     = 3
	defaultRetryBaseDelay      = "300ms"
	defaultRetryMaxDelay       = "5s"
	defaultAgentProtocol       = "structured"
	defaultAgentMaxTurns       = 5
	defaultAgentParseRetries   = 5
	defaultAgentMaxTokens      = 1024
	defaultToolsHTTPTimeout    = "10s"
	defaultToolsRequestsPerMin = 60
	defaultToolsRetryMax       = 2
	defaultToolsRetryMaxDelay  = "3s"
	defaultWeatherBaseURL      = "https://wttr.in"
	defaultTavilyBaseURL       = "https://api.tavily.com"
	defaultTavilyMaxResults    = 2
	defaultDocumentsDir        = "documents"
	defaultTUITheme            = "dark"
	defaultLogLevel            = "info"
	defaultLogFormat           = "text"
	defaultConfigRelativePath  = ".config/hitl/config.toml"

	envProviderDefault   = "HITL_PROVIDER_DEFAULT"
	envAnthropicAPIKey   = "ANTHROPIC_API_KEY"
	envAnthropicModel    = "HITL_ANTHROPIC_MODEL"
	envAnthropicBaseURL  = "HITL_ANTHROPIC_BASE_URL"
	envAnthropicVersion  = "HITL_ANTHROPIC_VERSION"
	envRetryMaxRetries   = "HITL_ANTHROPIC_RETRY_MAX_RETRIES"
	envRetryBaseDelay    = "HITL_ANTHROPIC_RETRY_BASE_DELAY"
	envRetryMaxDelay     = "HITL_ANTHROPIC_RETRY_MAX_DELAY"
	envOpenAIAPIKey      = "OPENAI_API_KEY"
	envOpenAIBaseURL     = "OPENAI_BASE_URL"
	envOpenAIModel       = "MODEL_ID"
	envOpenRouterAPIKey  = "OPENROUTER_API_KEY"
	envOpenRouterBaseURL = "OPENROUTER_BASE_URL"
	envOpenRouterModel   = "MODEL_NAME"
	envTavilyAPIKey      = "TAVILY_API_KEY"
	envAgentProtocol     = "HITL_AGENT_PROTOCOL"
	envAgentMaxTurns     = "HITL_AGENT_MAX_TURNS"
	envDocumentsDir      = "HITL_DOCUMENTS_DIR"
	envLogLevel          = "HITL_LOG_LEVEL"
)

var (
	// ErrInvalidConfig indicates malformed configuration input.
	ErrInvalidConfig = errors.New("invalid config")
)

// Config is the application configuration root.
type Config struct {
	Provider ProviderConfig `toml:"provider"`
	Agent    AgentConfig    `toml:"agent"`
	Tools    ToolsConfig    `toml:"tools"`
	TUI      TUIConfig      `toml:"tui"`
	Log      LogConfig      `toml:"log"`
}

// ProviderConfig configures model providers.
type ProviderConfig struct {
	Default   string                  `toml:"default"`
	Anthropic AnthropicProviderConfig `toml:"anthropic"`
	OpenAI    OpenAIProviderConfig    `toml:"openai"`
}

// AnthropicProviderConfig configures Anthropic-specific runtime values.
type AnthropicProviderConfig struct {
	APIKey  string      `toml:"api_key"`
	Model   string      `toml:"model"`
	BaseURL string      `toml:"base_url"`
	Version string      `toml:"version"`
	Retry   RetryConfig `toml:"retry"`
}

// OpenAIProviderConfig configures any OpenAI-compatible endpoint, OpenRouter included.
type OpenAIProviderConfig struct {
	APIKey  string      `toml:"api_key"`
	Model   string      `toml:"model"`
	BaseURL string      `toml:"base_url"`
	Retry   RetryConfig `toml:"retry"`
}

// RetryConfig stores retry policy as config-friendly values.
type RetryConfig struct {
	MaxRetries int    `toml:"max_retries"`
	BaseDelay  string `toml:"base_delay"`
	MaxDelay   string `toml:"max_delay"`
}

// AgentConfig configures the execution engine.
type AgentConfig struct {
	// Protocol is "structured" (native tool calls) or "transcript" (Thought/Action text).
	Protocol        string `toml:"protocol"`
	MaxTurns        int    `toml:"max_turns"`
	MaxParseRetries int    `toml:"max_parse_retries"`
	// RequireApproval lists gated tools; empty gates every tool.
	RequireApproval []string `toml:"require_approval"`
	// AutoApprove lists tools exempt from the gate.
	AutoApprove  []string `toml:"auto_approve"`
	CarryHistory bool     `toml:"carry_history"`
	Instructions string   `toml:"instructions"`
	MaxTokens    int      `toml:"max_tokens"`
}

// ToolsConfig configures the built-in tools.
type ToolsConfig struct {
	HTTPTimeout       string          `toml:"http_timeout"`
	RequestsPerMinute int             `toml:"requests_per_minute"`
	Retry             RetryConfig     `toml:"retry"`
	Weather           WeatherConfig   `toml:"weather"`
	Tavily            TavilyConfig    `toml:"tavily"`
	Documents         DocumentsConfig `toml:"documents"`
}

// WeatherConfig configures the weather lookup.
type WeatherConfig struct {
	BaseURL string `toml:"base_url"`
}

// TavilyConfig configures the search-backed tools.
type TavilyConfig struct {
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	MaxResults int    `toml:"max_results"`
}

// DocumentsConfig configures save_document.
type DocumentsConfig struct {
	Dir string `toml:"dir"`
}

// TUIConfig configures terminal UI defaults.
type TUIConfig struct {
	Theme         string `toml:"theme"`
	ShowInspector bool   `toml:"show_inspector"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	// File receives log output; empty means stderr for line-oriented
	// commands and nowhere for the TUI.
	File string `toml:"file"`
}

// LoadOptions controls config loading behavior.
type LoadOptions struct {
	Path string
}

// RetrySettings is a parsed retry policy.
type RetrySettings struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// AnthropicSettings is a validated Anthropic runtime settings snapshot.
type AnthropicSettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Version string
	Retry   RetrySettings
}

// OpenAISettings is a validated OpenAI-compatible runtime settings snapshot.
type OpenAISettings struct {
	APIKey  string
	Model   string
	BaseURL string
	Retry   RetrySettings
}

// ToolSettings is a validated tool runtime settings snapshot.
type ToolSettings struct {
	HTTPTimeout       time.Duration
	RequestsPerMinute int
	Retry             RetrySettings
	WeatherBaseURL    string
	TavilyAPIKey      string
	TavilyBaseURL     string
	TavilyMaxResults  int
	DocumentsDir      string
}

// Default returns application defaults.
func Default() Config {
	return Config{
		Provider: ProviderConfig{
			Default: defaultProviderName,
			Anthropic: AnthropicProviderConfig{
				Model:   defaultAnthropicModel,
				Version: defaultAnthropicVersion,
				Retry: RetryConfig{
					MaxRetries: defaultRetryMaxRetries,
					BaseDelay:  defaultRetryBaseDelay,
					MaxDelay:   defaultRetryMaxDelay,
				},
			},
			OpenAI: OpenAIProviderConfig{
				Model: defaultOpenAIModel,
				Retry: RetryConfig{
					MaxRetries: defaultRetryMaxRetries,
					BaseDelay:  defaultRetryBaseDelay,
					MaxDelay:   defaultRetryMaxDelay,
				},
			},
		},
		Agent: AgentConfig{
			Protocol:        defaultAgentProtocol,
			MaxTurns:        defaultAgentMaxTurns,
			MaxParseRetries: defaultAgentParseRetries,
			CarryHistory:    true,
			MaxTokens:       defaultAgentMaxTokens,
		},
		Tools: ToolsConfig{
			HTTPTimeout:       defaultToolsHTTPTimeout,
			RequestsPerMinute: defaultToolsRequestsPerMin,
			Retry: RetryConfig{
				MaxRetries: defaultToolsRetryMax,
				BaseDelay:  defaultRetryBaseDelay,
				MaxDelay:   defaultToolsRetryMaxDelay,
			},
			Weather:   WeatherConfig{BaseURL: defaultWeatherBaseURL},
			Tavily:    TavilyConfig{BaseURL: defaultTavilyBaseURL, MaxResults: defaultTavilyMaxResults},
			Documents: DocumentsConfig{Dir: defaultDocumentsDir},
		},
		TUI: TUIConfig{Theme: defaultTUITheme, ShowInspector: true},
		Log: LogConfig{Level: defaultLogLevel, Format: defaultLogFormat},
	}
}

// Load reads config file then applies environment variable overrides.
func Load(opts LoadOptions) (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(opts.Path)
	if path == "" {
		path = defaultConfigPath()
	}

	if err := mergeConfigFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// AnthropicSettings returns validated settings suitable for runtime wiring.
func (c Config) AnthropicSettings() (AnthropicSettings, error) {
	retry, err := c.Provider.Anthropic.Retry.settings("provider.anthropic.retry")
	if err != nil {
		return AnthropicSettings{}, err
	}
	return AnthropicSettings{
		APIKey:  strings.TrimSpace(c.Provider.Anthropic.APIKey),
		Model:   strings.TrimSpace(c.Provider.Anthropic.Model),
		BaseURL: strings.TrimSpace(c.Provider.Anthropic.BaseURL),
		Version: strings.TrimSpace(c.Provider.Anthropic.Version),
		Retry:   retry,
	}, nil
}

// OpenAISettings returns validated settings for the OpenAI-compatible provider.
func (c Config) OpenAISettings() (OpenAISettings, error) {
	retry, err := c.Provider.OpenAI.Retry.settings("provider.openai.retry")
	if err != nil {
		return OpenAISettings{}, err
	}
	return OpenAISettings{
		APIKey:  strings.TrimSpace(c.Provider.OpenAI.APIKey),
		Model:   strings.TrimSpace(c.Provider.OpenAI.Model),
		BaseURL: strings.TrimSpace(c.Provider.OpenAI.BaseURL),
		Retry:   retry,
	}, nil
}

// ToolSettings returns validated settings for the built-in tools.
func (c Config) ToolSettings() (ToolSettings, error) {
	timeout, err := parseDuration("tools.http_timeout", c.Tools.HTTPTimeout)
	if err != nil {
		return ToolSettings{}, err
	}
	retry, err := c.Tools.Retry.settings("tools.retry")
	if err != nil {
		return ToolSettings{}, err
	}
	if c.Tools.RequestsPerMinute < 0 {
		return ToolSettings{}, fmt.Errorf("%w: tools.requests_per_minute must be >= 0", ErrInvalidConfig)
	}
	return ToolSettings{
		HTTPTimeout:       timeout,
		RequestsPerMinute: c.Tools.RequestsPerMinute,
		Retry:             retry,
		WeatherBaseURL:    strings.TrimSpace(c.Tools.Weather.BaseURL),
		TavilyAPIKey:      strings.TrimSpace(c.Tools.Tavily.APIKey),
		TavilyBaseURL:     strings.TrimSpace(c.Tools.Tavily.BaseURL),
		TavilyMaxResults:  c.Tools.Tavily.MaxResults,
		DocumentsDir:      strings.TrimSpace(c.Tools.Documents.Dir),
	}, nil
}

func (r RetryConfig) settings(field string) (RetrySettings, error) {
	baseDelay, err := parseDuration(field+".base_delay", r.BaseDelay)
	if err != nil {
		return RetrySettings{}, err
	}
	maxDelay, err := parseDuration(field+".max_delay", r.MaxDelay)
	if err != nil {
		return RetrySettings{}, err
	}
	if r.MaxRetries < 0 {
		return RetrySettings{}, fmt.Errorf("%w: %s.max_retries must be >= 0", ErrInvalidConfig, field)
	}
	return RetrySettings{MaxRetries: r.MaxRetries, BaseDelay: baseDelay, MaxDelay: maxDelay}, nil
}

func parseDuration(field, value string) (time.Duration, error) {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, field, err)
	}
	return parsed, nil
}

func mergeConfigFile(cfg *Config, path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse config file %s: %v", ErrInvalidConfig, path, err)
	}
	return nil
}

// envString returns the trimmed value of the first non-empty variable.
func envString(names ...string) (string, bool) {
	for _, name := range names {
		if value, ok := os.LookupEnv(name); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

func envInt(name string) (int, bool, error) {
	value, ok := envString(name)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, name, err)
	}
	return parsed, true, nil
}

func applyEnv(cfg *Config) error {
	stringOverrides := []struct {
		dst   *string
		names []string
	}{
		{&cfg.Provider.Default, []string{envProviderDefault}},
		{&cfg.Provider.Anthropic.APIKey, []string{envAnthropicAPIKey}},
		{&cfg.Provider.Anthropic.Model, []string{envAnthropicModel}},
		{&cfg.Provider.Anthropic.BaseURL, []string{envAnthropicBaseURL}},
		{&cfg.Provider.Anthropic.Version, []string{envAnthropicVersion}},
		{&cfg.Provider.Anthropic.Retry.BaseDelay, []string{envRetryBaseDelay}},
		{&cfg.Provider.Anthropic.Retry.MaxDelay, []string{envRetryMaxDelay}},
		{&cfg.Provider.OpenAI.APIKey, []string{envOpenAIAPIKey, envOpenRouterAPIKey}},
		{&cfg.Provider.OpenAI.BaseURL, []string{envOpenAIBaseURL, envOpenRouterBaseURL}},
		{&cfg.Provider.OpenAI.Model, []string{envOpenAIModel, envOpenRouterModel}},
		{&cfg.Tools.Tavily.APIKey, []string{envTavilyAPIKey}},
		{&cfg.Tools.Documents.Dir, []string{envDocumentsDir}},
		{&cfg.Agent.Protocol, []string{envAgentProtocol}},
		{&cfg.Log.Level, []string{envLogLevel}},
	}
	for _, override := range stringOverrides {
		if value, ok := envString(override.names...); ok {
			*override.dst = value
		}
	}

	intOverrides := []struct {
		dst  *int
		name string
	}{
		{&cfg.Provider.Anthropic.Retry.MaxRetries, envRetryMaxRetries},
		{&cfg.Agent.MaxTurns, envAgentMaxTurns},
	}
	for _, override := range intOverrides {
		value, ok, err := envInt(override.name)
		if err != nil {
			return err
		}
		if ok {
			*override.dst = value
		}
	}
	return nil
}

var (
	knownProviders = []string{"anthropic", "openai"}
	knownProtocols = []string{"structured", "transcript"}
)

func validate(cfg Config) error {
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider.Default))
	if !slices.Contains(knownProviders, provider) {
		return fmt.Errorf("%w: provider.default must be one of %v, got %q", ErrInvalidConfig, knownProviders, cfg.Provider.Default)
	}
	if strings.TrimSpace(cfg.Provider.Anthropic.Model) == "" {
		return fmt.Errorf("%w: provider.anthropic.model is required", ErrInvalidConfig)
	}
	if strings.TrimSpace(cfg.Provider.OpenAI.Model) == "" {
		return fmt.Errorf("%w: provider.openai.model is required", ErrInvalidConfig)
	}
	if !slices.Contains(knownProtocols, strings.ToLower(strings.TrimSpace(cfg.Agent.Protocol))) {
		return fmt.Errorf("%w: agent.protocol must be one of %v, got %q", ErrInvalidConfig, knownProtocols, cfg.Agent.Protocol)
	}
	if cfg.Agent.MaxTurns <= 0 {
		return fmt.Errorf("%w: agent.max_turns must be > 0", ErrInvalidConfig)
	}
	if cfg.Agent.MaxParseRetries <= 0 {
		return fmt.Errorf("%w: agent.max_parse_retries must be > 0", ErrInvalidConfig)
	}
	if _, err := cfg.AnthropicSettings(); err != nil {
		return err
	}
	if _, err := cfg.OpenAISettings(); err != nil {
		return err
	}
	if _, err := cfg.ToolSettings(); err != nil {
		return err
	}
	return nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultConfigRelativePath)
}
