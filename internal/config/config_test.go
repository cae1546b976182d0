package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := Default()
	if cfg.Provider.Default != "anthropic" {
		t.Fatalf("Provider.Default = %q, want %q", cfg.Provider.Default, "anthropic")
	}
	if cfg.Provider.OpenAI.Model != "gpt-4o" {
		t.Fatalf("Provider.OpenAI.Model = %q, want %q", cfg.Provider.OpenAI.Model, "gpt-4o")
	}
	if cfg.TUI.Theme != "dark" || !cfg.TUI.ShowInspector {
		t.Fatalf("TUI = %+v, want dark theme with inspector", cfg.TUI)
	}
	if cfg.Agent.MaxTurns != 5 {
		t.Fatalf("Agent.MaxTurns = %d, want %d", cfg.Agent.MaxTurns, 5)
	}
	if cfg.Agent.MaxParseRetries != 5 {
		t.Fatalf("Agent.MaxParseRetries = %d, want %d", cfg.Agent.MaxParseRetries, 5)
	}
	if cfg.Agent.Protocol != "structured" {
		t.Fatalf("Agent.Protocol = %q, want %q", cfg.Agent.Protocol, "structured")
	}
	if !cfg.Agent.CarryHistory {
		t.Fatalf("Agent.CarryHistory = false, want true")
	}
	if len(cfg.Agent.RequireApproval) != 0 {
		t.Fatalf("Agent.RequireApproval = %v, want empty", cfg.Agent.RequireApproval)
	}
	if cfg.Tools.Tavily.MaxResults != 2 {
		t.Fatalf("Tools.Tavily.MaxResults = %d, want %d", cfg.Tools.Tavily.MaxResults, 2)
	}
	if cfg.Log.Level != "info" {
		t.Fatalf("Log.Level = %q, want %q", cfg.Log.Level, "info")
	}
	if err := validate(cfg); err != nil {
		t.Fatalf("validate(Default()) error = %v", err)
	}
}

func TestLoadFromFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	content := `
[provider]
default = "openai"

[provider.anthropic]
api_key = "file-key"
model = "file-model"

[provider.anthropic.retry]
max_retries = 9
base_delay = "900ms"
max_delay = "9s"

[provider.openai]
api_key = "file-openai"
model = "file-openai-model"

[agent]
protocol = "transcript"
max_turns = 8
require_approval = ["get_weather"]
carry_history = false

[tools.tavily]
max_results = 4
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}

	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("HITL_ANTHROPIC_MODEL", "env-model")
	t.Setenv("HITL_ANTHROPIC_RETRY_MAX_RETRIES", "4")
	t.Setenv("HITL_ANTHROPIC_RETRY_BASE_DELAY", "400ms")
	t.Setenv("MODEL_ID", "env-openai-model")
	t.Setenv("HITL_AGENT_MAX_TURNS", "3")
	t.Setenv("TAVILY_API_KEY", "tvly-env")

	cfg, err := Load(LoadOptions{Path: path})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Provider.Default != "openai" {
		t.Fatalf("Provider.Default = %q, want %q", cfg.Provider.Default, "openai")
	}
	if cfg.Provider.Anthropic.APIKey != "env-key" {
		t.Fatalf("APIKey = %q, want %q", cfg.Provider.Anthropic.APIKey, "env-key")
	}
	if cfg.Provider.Anthropic.Model != "env-model" {
		t.Fatalf("Model = %q, want %q", cfg.Provider.Anthropic.Model, "env-model")
	}
	if cfg.Provider.Anthropic.Retry.MaxRetries != 4 {
		t.Fatalf("MaxRetries = %d, want %d", cfg.Provider.Anthropic.Retry.MaxRetries, 4)
	}
	if cfg.Provider.Anthropic.Retry.BaseDelay != "400ms" {
		t.Fatalf("BaseDelay = %q, want %q", cfg.Provider.Anthropic.Retry.BaseDelay, "400ms")
	}
	if cfg.Provider.Anthropic.Retry.MaxDelay != "9s" {
		t.Fatalf("MaxDelay = %q, want %q", cfg.Provider.Anthropic.Retry.MaxDelay, "9s")
	}
	if cfg.Provider.OpenAI.APIKey != "file-openai" {
		t.Fatalf("OpenAI.APIKey = %q, want %q", cfg.Provider.OpenAI.APIKey, "file-openai")
	}
	if cfg.Provider.OpenAI.Model != "env-openai-model" {
		t.Fatalf("OpenAI.Model = %q, want %q", cfg.Provider.OpenAI.Model, "env-openai-model")
	}
	if cfg.Agent.Protocol != "transcript" {
		t.Fatalf("Agent.Protocol = %q, want %q", cfg.Agent.Protocol, "transcript")
	}
	if cfg.Agent.MaxTurns != 3 {
		t.Fatalf("Agent.MaxTurns = %d, want %d", cfg.Agent.MaxTurns, 3)
	}
	if cfg.Agent.MaxParseRetries != 5 {
		t.Fatalf("Agent.MaxParseRetries = %d, want %d", cfg.Agent.MaxParseRetries, 5)
	}
	if cfg.Agent.CarryHistory {
		t.Fatalf("Agent.CarryHistory = true, want false")
	}
	if len(cfg.Agent.RequireApproval) != 1 || cfg.Agent.RequireApproval[0] != "get_weather" {
		t.Fatalf("Agent.RequireApproval = %v, want [get_weather]", cfg.Agent.RequireApproval)
	}
	if cfg.Tools.Tavily.APIKey != "tvly-env" {
		t.Fatalf("Tavily.APIKey = %q, want %q", cfg.Tools.Tavily.APIKey, "tvly-env")
	}
	if cfg.Tools.Tavily.MaxResults != 4 {
		t.Fatalf("Tavily.MaxResults = %d, want %d", cfg.Tools.Tavily.MaxResults, 4)
	}
}

func TestLoadOpenRouterFallbackEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("OPENAI_BASE_URL", "")
	t.Setenv("MODEL_ID", "")
	t.Setenv("OPENROUTER_API_KEY", "or-key")
	t.Setenv("OPENROUTER_BASE_URL", "https://openrouter.ai/api/v1")
	t.Setenv("MODEL_NAME", "anthropic/claude-3.5-sonnet")

	cfg, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.toml")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	settings, err := cfg.OpenAISettings()
	if err != nil {
		t.Fatalf("OpenAISettings() error = %v", err)
	}
	if settings.APIKey != "or-key" {
		t.Fatalf("APIKey = %q, want %q", settings.APIKey, "or-key")
	}
	if settings.BaseURL != "https://openrouter.ai/api/v1" {
		t.Fatalf("BaseURL = %q, want %q", settings.BaseURL, "https://openrouter.ai/api/v1")
	}
	if settings.Model != "anthropic/claude-3.5-sonnet" {
		t.Fatalf("Model = %q, want %q", settings.Model, "anthropic/claude-3.5-sonnet")
	}
}

func TestLoadOpenAIEnvWinsOverOpenRouter(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-openai")
	t.Setenv("OPENROUTER_API_KEY", "or-key")

	cfg, err := Load(LoadOptions{Path: filepath.Join(t.TempDir(), "missing.toml")})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Provider.OpenAI.APIKey != "sk-openai" {
		t.Fatalf("OpenAI.APIKey = %q, want %q", cfg.Provider.OpenAI.APIKey, "sk-openai")
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name    string
		content string
		env     map[string]string
	}{
		{name: "unknown provider", content: "[provider]\ndefault = \"gemini\"\n"},
		{name: "unknown protocol", content: "[agent]\nprotocol = \"xml\"\n"},
		{name: "zero max turns", content: "[agent]\nmax_turns = 0\n"},
		{name: "negative parse retries", content: "[agent]\nmax_parse_retries = -1\n"},
		{name: "bad tool timeout", content: "[tools]\nhttp_timeout = \"soon\"\n"},
		{name: "malformed toml", content: "[agent\n"},
		{name: "bad env int", env: map[string]string{"HITL_AGENT_MAX_TURNS": "many"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			if err := os.WriteFile(path, []byte(tc.content), 0o644); err != nil {
				t.Fatalf("write config file: %v", err)
			}
			for key, value := range tc.env {
				t.Setenv(key, value)
			}

			_, err := Load(LoadOptions{Path: path})
			if !errors.Is(err, ErrInvalidConfig) {
				t.Fatalf("Load() error = %v, want ErrInvalidConfig", err)
			}
		})
	}
}

func TestAnthropicSettingsParsesRetryDurations(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Provider.Anthropic.APIKey = "test-key"
	cfg.Provider.Anthropic.Retry.MaxRetries = 6
	cfg.Provider.Anthropic.Retry.BaseDelay = "650ms"
	cfg.Provider.Anthropic.Retry.MaxDelay = "7s"

	settings, err := cfg.AnthropicSettings()
	if err != nil {
		t.Fatalf("AnthropicSettings() error = %v", err)
	}

	if settings.APIKey != "test-key" {
		t.Fatalf("APIKey = %q, want %q", settings.APIKey, "test-key")
	}
	if settings.Retry.MaxRetries != 6 {
		t.Fatalf("Retry.MaxRetries = %d, want %d", settings.Retry.MaxRetries, 6)
	}
	if settings.Retry.BaseDelay != 650*time.Millisecond {
		t.Fatalf("Retry.BaseDelay = %s, want %s", settings.Retry.BaseDelay, 650*time.Millisecond)
	}
	if settings.Retry.MaxDelay != 7*time.Second {
		t.Fatalf("Retry.MaxDelay = %s, want %s", settings.Retry.MaxDelay, 7*time.Second)
	}
}

func TestAnthropicSettingsRejectsInvalidDuration(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Provider.Anthropic.Retry.BaseDelay = "bad-duration"
	if _, err := cfg.AnthropicSettings(); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("AnthropicSettings() error = %v, want ErrInvalidConfig", err)
	}
}

func TestToolSettings(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Tools.Documents.Dir = " out "
	settings, err := cfg.ToolSettings()
	if err != nil {
		t.Fatalf("ToolSettings() error = %v", err)
	}
	if settings.HTTPTimeout != 10*time.Second {
		t.Fatalf("HTTPTimeout = %s, want %s", settings.HTTPTimeout, 10*time.Second)
	}
	if settings.Retry.MaxRetries != 2 {
		t.Fatalf("Retry.MaxRetries = %d, want %d", settings.Retry.MaxRetries, 2)
	}
	if settings.WeatherBaseURL != "https://wttr.in" {
		t.Fatalf("WeatherBaseURL = %q, want %q", settings.WeatherBaseURL, "https://wttr.in")
	}
	if settings.DocumentsDir != "out" {
		t.Fatalf("DocumentsDir = %q, want %q", settings.DocumentsDir, "out")
	}
}
