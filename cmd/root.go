package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mihaisavezi/cc-adapter/internal/config"
	"github.com/mihaisavezi/cc-adapter/internal/observability"
)

const (
	AppName = "cc-adapter"
	Version = "0.1.0"
)

var (
	logger  *slog.Logger
	homeDir string
	baseDir string
	cfgMgr  *config.Manager
)

func init() {
	logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var err error
	homeDir, err = os.UserHomeDir()
	if err != nil {
		logger.Error("Failed to get home directory", "error", err)
		os.Exit(1)
	}

	baseDir = filepath.Join(homeDir, "."+AppName)
	cfgMgr = config.NewManager(baseDir)
}

var rootCmd = &cobra.Command{
	Use:           AppName,
	Short:         "Anthropic Messages API adapter for OpenAI-compatible backends",
	Long:          `Serves the Anthropic Messages API locally and forwards requests to LM Studio, Poe or OpenRouter as OpenAI chat completions.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "", "log level: debug, verbose, info, warn, error")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(codeCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(tokensCmd)
}

// setupLogging replaces the bootstrap logger. --verbose wins over --log-level,
// which wins over the configured level.
func setupLogging(cmd *cobra.Command, cfg *config.Config) error {
	levelName := cfg.LogLevel
	if flag, _ := cmd.Flags().GetString("log-level"); flag != "" {
		levelName = flag
	}
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		levelName = "debug"
	}

	level, err := observability.ParseLevel(levelName)
	if err != nil {
		return err
	}

	l, err := observability.NewLogger(os.Stdout, level, cfg.LogFormat)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}

	logger = l
	slog.SetDefault(l)
	return nil
}
