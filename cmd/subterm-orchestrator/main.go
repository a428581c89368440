// Package main provides the CLI entry point for the SubTerminator MCP
// orchestrator: an LLM-driven task runner that cancels subscriptions by
// driving a Playwright-backed MCP browser server through single, human-gated
// tool calls.
//
// # Basic usage
//
//	subterm-orchestrator run --service netflix
//	subterm-orchestrator services list
//	subterm-orchestrator services validate --config-dir ./configs
//
// # Environment variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key, used when --provider=anthropic (default)
//   - OPENAI_API_KEY: OpenAI API key, used when --provider=openai
//   - SUBTERM_MCP_COMMAND: path to the Playwright MCP server binary (default: npx)
//   - SUBTERM_MCP_ARGS: space-separated args passed to the MCP server command
//
// A .env file in the working directory, if present, is loaded before flags
// and environment variables are read.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/subterminator/mcp-orchestrator/internal/checkpoint"
	"github.com/subterminator/mcp-orchestrator/internal/llmclient"
	"github.com/subterminator/mcp-orchestrator/internal/mcpclient"
	"github.com/subterminator/mcp-orchestrator/internal/mcporch"
	"github.com/subterminator/mcp-orchestrator/internal/orchobserve"
	"github.com/subterminator/mcp-orchestrator/internal/serviceconfig"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("loading .env file", "error", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "subterm-orchestrator",
		Short:        "Drive subscription-cancellation flows through an LLM and a Playwright MCP server",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	root.AddCommand(buildRunCmd(), buildServicesCmd())
	return root
}

func buildServicesCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "services",
		Short: "Inspect the service configs the orchestrator knows about",
	}
	root.AddCommand(buildServicesListCmd(), buildServicesValidateCmd())
	return root
}

func buildServicesListCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the services the orchestrator knows how to cancel",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry(configDir)
			if err != nil {
				return err
			}
			for _, name := range reg.List() {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", "", "Additional directory of service config YAML files, on top of the built-ins")
	return cmd
}

// buildServicesValidateCmd parses a config directory's YAML bundles without
// registering or running anything, so a service author can check a new
// config compiles (predicates included) before wiring it in.
func buildServicesValidateCmd() *cobra.Command {
	var configDir string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Parse and compile a directory of service config YAML files without registering them",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configDir == "" {
				return fmt.Errorf("--config-dir is required")
			}
			configs, err := serviceconfig.LoadDir(os.DirFS(configDir), ".")
			if err != nil {
				return fmt.Errorf("validating service configs in %s: %w", configDir, err)
			}
			for _, cfg := range configs {
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", cfg.Name)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&configDir, "config-dir", "", "Directory of service config YAML files to validate")
	cmd.MarkFlagRequired("config-dir")
	return cmd
}

func buildRunCmd() *cobra.Command {
	var (
		service     string
		provider    string
		model       string
		maxTurns    int
		noActionCap int
		configDir   string
		mcpCommand  string
		mcpArgs     string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the cancellation flow for a single service to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOrchestrator(cmd, runOptions{
				service:     service,
				provider:    provider,
				model:       model,
				maxTurns:    maxTurns,
				noActionCap: noActionCap,
				configDir:   configDir,
				mcpCommand:  mcpCommand,
				mcpArgs:     mcpArgs,
				metricsAddr: metricsAddr,
			})
		},
	}

	cmd.Flags().StringVar(&service, "service", "", "Service to cancel (see: subterm-orchestrator services list)")
	cmd.Flags().StringVar(&provider, "provider", "anthropic", "LLM provider: anthropic or openai")
	cmd.Flags().StringVar(&model, "model", "", "Model override; defaults to the provider's default model")
	cmd.Flags().IntVar(&maxTurns, "max-turns", -1, "Turn budget override, 0 included (-1 = use the default)")
	cmd.Flags().IntVar(&noActionCap, "no-action-cap", 0, "Consecutive no-action turn budget override (0 = default)")
	cmd.Flags().StringVar(&configDir, "config-dir", "", "Additional directory of service config YAML files, on top of the built-ins")
	cmd.Flags().StringVar(&mcpCommand, "mcp-command", envOr("SUBTERM_MCP_COMMAND", "npx"), "Command used to spawn the Playwright MCP server")
	cmd.Flags().StringVar(&mcpArgs, "mcp-args", envOr("SUBTERM_MCP_ARGS", "@playwright/mcp@latest"), "Space-separated args passed to --mcp-command")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "If set, serve Prometheus metrics on this address (e.g. :9090) for the run's duration")
	cmd.MarkFlagRequired("service")
	return cmd
}

type runOptions struct {
	service     string
	provider    string
	model       string
	maxTurns    int
	noActionCap int
	configDir   string
	mcpCommand  string
	mcpArgs     string
	metricsAddr string
}

func runOrchestrator(cmd *cobra.Command, opts runOptions) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	registry, err := loadRegistry(opts.configDir)
	if err != nil {
		return fmt.Errorf("loading service configs: %w", err)
	}

	llm, err := buildLLMClient(opts)
	if err != nil {
		return fmt.Errorf("building LLM client: %w", err)
	}

	mcpCfg := &mcpclient.ServerConfig{
		ID:        "playwright",
		Transport: mcpclient.TransportStdio,
		Command:   opts.mcpCommand,
		Args:      strings.Fields(opts.mcpArgs),
		Timeout:   30 * time.Second,
	}
	if err := mcpCfg.Validate(); err != nil {
		return fmt.Errorf("invalid MCP server config: %w", err)
	}

	mcp := mcpclient.NewClient(mcpCfg, slog.Default())
	if err := mcp.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to MCP server: %w", err)
	}

	registerer := prometheus.NewRegistry()
	metrics := orchobserve.NewMetrics(registerer)
	if opts.metricsAddr != "" {
		srv := serveMetrics(opts.metricsAddr, registerer)
		defer srv.Close()
	}

	prompt := checkpoint.NewTerminalPrompt(os.Stdin, os.Stdout)
	handler := checkpoint.NewHandler(prompt, slog.Default())

	runnerCfg := mcporch.DefaultRunnerConfig()
	if opts.maxTurns >= 0 {
		turns := opts.maxTurns
		runnerCfg.MaxTurns = &turns
	}
	if opts.noActionCap > 0 {
		runnerCfg.NoActionCap = opts.noActionCap
	}

	runner := mcporch.NewRunner(runnerCfg, mcp, llm, handler, registry, metrics, slog.Default())

	result, err := runner.Run(ctx, opts.service)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "reason=%s success=%v verified=%v turns=%d final_url=%q\n",
		result.Reason, result.Success, result.Verified, result.Turns, result.FinalURL)
	if result.Error != "" {
		fmt.Fprintf(cmd.OutOrStdout(), "detail: %s\n", result.Error)
	}
	if !result.Success {
		return fmt.Errorf("run did not succeed: %s", result.Reason)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadRegistry(configDir string) (*serviceconfig.Registry, error) {
	reg := serviceconfig.NewRegistry()

	builtins, err := serviceconfig.LoadBuiltins()
	if err != nil {
		return nil, fmt.Errorf("loading built-in service configs: %w", err)
	}
	for _, cfg := range builtins {
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}

	if configDir == "" {
		return reg, nil
	}
	extra, err := serviceconfig.LoadDir(os.DirFS(configDir), ".")
	if err != nil {
		return nil, fmt.Errorf("loading service configs from %s: %w", configDir, err)
	}
	for _, cfg := range extra {
		if err := reg.Register(cfg); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func buildLLMClient(opts runOptions) (llmclient.LLMClient, error) {
	switch opts.provider {
	case "", "anthropic":
		return llmclient.NewAnthropicClient(llmclient.AnthropicConfig{
			APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
			DefaultModel: opts.model,
		})
	case "openai":
		return llmclient.NewOpenAIClient(llmclient.OpenAIConfig{
			APIKey:       os.Getenv("OPENAI_API_KEY"),
			DefaultModel: opts.model,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q (want anthropic or openai)", opts.provider)
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server failed", "error", err)
		}
	}()
	return srv
}
