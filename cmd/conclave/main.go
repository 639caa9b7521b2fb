// Package main provides the CLI entry point for the Conclave embedded agent
// orchestration core.
//
// Conclave drives user turns against LLM providers (Anthropic, OpenAI,
// Ollama) with per-session serialization, auth-profile failover, automatic
// transcript compaction, and a board of specialist agents that consult each
// other and convene meetings.
//
// # Basic Usage
//
// Start the long-running core (cron scheduler, task runner, metrics):
//
//	conclave serve --config conclave.yaml
//
// Run one turn through the full pipeline:
//
//	conclave turn "What's on my plate today?"
//
// Inspect the board roster and convene a meeting:
//
//	conclave board agents
//	conclave board meeting "Expand into Europe?"
//
// # Environment Variables
//
//   - CONCLAVE_CONFIG: Path to configuration file (default: conclave.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key
//   - OPENAI_API_KEY: OpenAI API key
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/conclave-ai/conclave/internal/config"
	"github.com/conclave-ai/conclave/internal/observability"
	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFlag string

func main() {
	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conclave",
		Short: "Conclave - embedded agent orchestration core",
		Long: `Conclave routes user turns to LLM providers with per-session
serialization, auth-profile failover, transcript compaction, and a board of
specialist agents.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to config file (or set CONCLAVE_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildTurnCmd(),
		buildBoardCmd(),
		buildSessionsCmd(),
		buildCronCmd(),
		buildTasksCmd(),
		buildTraceCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "conclave %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}

// resolveConfigPath picks the config file: explicit flag, then the
// CONCLAVE_CONFIG environment variable, then conclave.yaml in the working
// directory.
func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv("CONCLAVE_CONFIG"); env != "" {
		return env
	}
	return "conclave.yaml"
}

// loadConfig resolves and loads the configuration for a command invocation.
func loadConfig() (*config.Config, string, error) {
	path := resolveConfigPath(configFlag)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, path, nil
}

// newLogger builds the process logger from the logging config. The
// observability logger carries redaction; the returned slog.Logger shares
// its handler for components that take *slog.Logger directly.
func newLogger(cfg *config.Config) (*observability.Logger, *slog.Logger) {
	logCfg := observability.LogConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	}
	obsLogger := observability.NewLogger(logCfg)

	level := slog.LevelInfo
	switch cfg.Logging.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}
	return obsLogger, slog.New(handler)
}
