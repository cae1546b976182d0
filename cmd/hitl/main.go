package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"hitl/internal/agent"
	"hitl/internal/config"
	"hitl/internal/llm"
	"hitl/internal/logging"
	"hitl/internal/reasoner"
	"hitl/internal/session"
	"hitl/internal/tools"
	"hitl/internal/tui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"
)

const version = "v0.1.0"

var (
	errUnsupportedProvider = errors.New("unsupported provider")
	errRunAborted          = errors.New("run aborted")
	errInvalidApproveMode  = errors.New("invalid approve mode")
)

// buildProvider is swapped in tests to avoid network providers.
var buildProvider = buildProviderFromConfig

func main() {
	if err := execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "hitl: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	return newRootCmd().Execute()
}

type rootOptions struct {
	configPath string
	protocol   string
}

// runtime is the wired object graph shared by every command.
type runtime struct {
	cfg      config.Config
	model    string
	protocol reasoner.Protocol
	registry *tools.Registry
	engine   *agent.Engine
	manager  *session.Manager
	logger   *slog.Logger
	closeLog func() error
}

func (r *runtime) Close() error {
	if r.closeLog == nil {
		return nil
	}
	return r.closeLog()
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	var sessionID string

	cmd := &cobra.Command{
		Use:           "hitl",
		Short:         "hitl is a tool-using agent that asks before it acts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := loadRuntime(opts, io.Discard)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			id := strings.TrimSpace(sessionID)
			if id == "" {
				id = session.NewID()
			}
			app := tui.NewApp(tui.AppConfig{
				Version:       version,
				ModelName:     rt.model,
				Protocol:      string(rt.protocol),
				SessionID:     id,
				ThemeName:     rt.cfg.TUI.Theme,
				ShowInspector: rt.cfg.TUI.ShowInspector,
				Driver:        rt.manager,
			})

			program := tea.NewProgram(app, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			if _, err := program.Run(); err != nil {
				return fmt.Errorf("run tui: %w", err)
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Path to config file")
	cmd.PersistentFlags().StringVar(&opts.protocol, "protocol", "", "Tool-call protocol: structured or transcript")
	cmd.Flags().StringVar(&sessionID, "session", "", "Session id to open")

	cmd.AddCommand(newAskCmd(opts), newToolsCmd(opts))
	return cmd
}

func newAskCmd(opts *rootOptions) *cobra.Command {
	var approveMode string

	cmd := &cobra.Command{
		Use:   "ask <prompt>",
		Short: "Run one prompt to completion, asking before each tool batch",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			approver, err := approverFor(approveMode, cmd.InOrStdin(), out)
			if err != nil {
				return err
			}

			rt, err := loadRuntime(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			ev, err := rt.manager.Drive(cmd.Context(), session.NewID(), strings.Join(args, " "), approver)
			if err != nil {
				return err
			}
			return reportOutcome(out, ev)
		},
	}

	cmd.Flags().StringVar(&approveMode, "approve", "prompt", "Approval mode: prompt, always or never")
	return cmd
}

func newToolsCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tools",
		Short: "List registered tools and whether they need approval",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(opts.configPath)})
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			registry, err := buildToolRegistry(cfg, logging.Discard())
			if err != nil {
				return err
			}
			policy := agent.NewApprovalPolicy(cfg.Agent.RequireApproval, cfg.Agent.AutoApprove)

			out := cmd.OutOrStdout()
			for _, spec := range registry.Specs() {
				gate := "auto"
				if policy.Requires(spec.Name) {
					gate = "approval"
				}
				_, _ = fmt.Fprintf(out, "%-16s %-9s %s\n", spec.Name, gate, spec.Description)
			}
			return nil
		},
	}
}

func loadRuntime(opts *rootOptions, logDefault io.Writer) (*runtime, error) {
	cfg, err := config.Load(config.LoadOptions{Path: strings.TrimSpace(opts.configPath)})
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if p := strings.TrimSpace(opts.protocol); p != "" {
		cfg.Agent.Protocol = p
	}
	return buildRuntime(cfg, logDefault)
}

func buildRuntime(cfg config.Config, logDefault io.Writer) (*runtime, error) {
	logger, closeLog, err := openLogger(cfg.Log, logDefault)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	rt := &runtime{cfg: cfg, logger: logger, closeLog: closeLog}
	fail := func(err error) (*runtime, error) {
		_ = rt.Close()
		return nil, err
	}

	protocol, err := reasoner.ParseProtocol(cfg.Agent.Protocol)
	if err != nil {
		return fail(err)
	}
	rt.protocol = protocol

	provider, model, retry, err := buildProvider(cfg, logger)
	if err != nil {
		return fail(fmt.Errorf("build provider: %w", err))
	}
	rt.model = model

	registry, err := buildToolRegistry(cfg, logger)
	if err != nil {
		return fail(err)
	}
	rt.registry = registry

	specs := registry.Specs()
	r, err := reasoner.New(reasoner.Config{
		Provider:  provider,
		Model:     model,
		Protocol:  protocol,
		Tools:     specs,
		MaxTokens: cfg.Agent.MaxTokens,
		Retry:     retry,
		Logger:    logger,
	})
	if err != nil {
		return fail(fmt.Errorf("create reasoner: %w", err))
	}

	engine, err := agent.New(agent.Config{
		Reasoner:        r,
		Registry:        registry,
		Instructions:    reasoner.Instructions(cfg.Agent.Instructions, protocol, specs),
		MaxTurns:        cfg.Agent.MaxTurns,
		MaxParseRetries: cfg.Agent.MaxParseRetries,
		Policy:          agent.NewApprovalPolicy(cfg.Agent.RequireApproval, cfg.Agent.AutoApprove),
		Logger:          logger,
	})
	if err != nil {
		return fail(fmt.Errorf("create engine: %w", err))
	}
	rt.engine = engine

	manager, err := session.NewManager(session.Config{
		Engine:       engine,
		CarryHistory: cfg.Agent.CarryHistory,
		Logger:       logger,
	})
	if err != nil {
		return fail(fmt.Errorf("create session manager: %w", err))
	}
	rt.manager = manager
	return rt, nil
}

func buildProviderFromConfig(cfg config.Config, logger *slog.Logger) (llm.Provider, string, llm.RetryPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider.Default)) {
	case "", "anthropic":
		settings, err := cfg.AnthropicSettings()
		if err != nil {
			return nil, "", llm.RetryPolicy{}, fmt.Errorf("resolve anthropic settings: %w", err)
		}
		if settings.APIKey == "" {
			return nil, "", llm.RetryPolicy{}, llm.ErrMissingAPIKey
		}
		retry := retryPolicy(settings.Retry)
		provider := llm.NewAnthropicProvider(llm.AnthropicConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Version: settings.Version,
			Retry:   retry,
			Logger:  logger,
		})
		return provider, settings.Model, retry, nil
	case "openai":
		settings, err := cfg.OpenAISettings()
		if err != nil {
			return nil, "", llm.RetryPolicy{}, fmt.Errorf("resolve openai settings: %w", err)
		}
		if settings.APIKey == "" {
			return nil, "", llm.RetryPolicy{}, llm.ErrMissingAPIKey
		}
		retry := retryPolicy(settings.Retry)
		provider := llm.NewOpenAIProvider(llm.OpenAIConfig{
			APIKey:  settings.APIKey,
			BaseURL: settings.BaseURL,
			Retry:   retry,
			Logger:  logger,
		})
		return provider, settings.Model, retry, nil
	default:
		return nil, "", llm.RetryPolicy{}, fmt.Errorf("%w: %s", errUnsupportedProvider, cfg.Provider.Default)
	}
}

func retryPolicy(s config.RetrySettings) llm.RetryPolicy {
	return llm.RetryPolicy{
		MaxRetries: s.MaxRetries,
		BaseDelay:  s.BaseDelay,
		MaxDelay:   s.MaxDelay,
	}
}

func buildToolRegistry(cfg config.Config, logger *slog.Logger) (*tools.Registry, error) {
	settings, err := cfg.ToolSettings()
	if err != nil {
		return nil, fmt.Errorf("resolve tool settings: %w", err)
	}
	return tools.NewBuiltinRegistry(tools.BuiltinConfig{
		WeatherBaseURL: settings.WeatherBaseURL,
		Tavily: tools.TavilyConfig{
			APIKey:     settings.TavilyAPIKey,
			BaseURL:    settings.TavilyBaseURL,
			MaxResults: settings.TavilyMaxResults,
		},
		DocumentsDir: settings.DocumentsDir,
		HTTP: tools.HTTPConfig{
			Timeout:           settings.HTTPTimeout,
			RequestsPerMinute: settings.RequestsPerMinute,
			Retry:             retryPolicy(settings.Retry),
		},
		Logger: logger,
	}), nil
}

// openLogger writes to cfg.File when set and to fallback otherwise.
func openLogger(cfg config.LogConfig, fallback io.Writer) (*slog.Logger, func() error, error) {
	w := fallback
	closeFn := func() error { return nil }
	if path := strings.TrimSpace(cfg.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = f
		closeFn = f.Close
	}
	if w == io.Discard {
		return logging.Discard(), closeFn, nil
	}
	logger, err := logging.New(logging.Options{Level: cfg.Level, Format: cfg.Format, Writer: w})
	if err != nil {
		_ = closeFn()
		return nil, nil, err
	}
	return logger, closeFn, nil
}

func approverFor(mode string, in io.Reader, out io.Writer) (session.Approver, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "prompt":
		return promptApprover(in, out), nil
	case "always":
		return session.AlwaysApprove(), nil
	case "never":
		return session.NeverApprove(), nil
	default:
		return nil, fmt.Errorf("%w: %q", errInvalidApproveMode, mode)
	}
}

// promptApprover asks on out and reads one line from in per batch. Anything
// other than an approval, including end of input, rejects.
func promptApprover(in io.Reader, out io.Writer) session.Approver {
	reader := bufio.NewReader(in)
	return session.ApproverFunc(func(ctx context.Context, pending []llm.ToolCall) (agent.Decision, error) {
		_, _ = fmt.Fprintf(out, "Approval required for %d tool call(s):\n", len(pending))
		for _, call := range pending {
			_, _ = fmt.Fprintf(out, "  %s\n", tui.FormatCall(call))
		}
		_, _ = fmt.Fprint(out, "Approve? [y/N] ")

		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read decision: %w", err)
		}
		if errors.Is(err, io.EOF) && line == "" {
			_, _ = fmt.Fprintln(out)
		}
		decision, perr := agent.ParseDecision(line)
		if perr != nil {
			return agent.Reject, nil
		}
		return decision, nil
	})
}

func reportOutcome(out io.Writer, ev agent.Event) error {
	switch ev.Kind {
	case agent.EventCompleted:
		_, _ = fmt.Fprintln(out, ev.Answer)
		return nil
	case agent.EventAborted:
		if ev.Err != nil {
			return fmt.Errorf("%w: %w", errRunAborted, ev.Err)
		}
		return fmt.Errorf("%w: %s", errRunAborted, ev.Reason)
	default:
		return fmt.Errorf("%w: unexpected event %s", errRunAborted, ev.Kind)
	}
}
