package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/rosterbuild/internal/config"
	"github.com/ShayCichocki/rosterbuild/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

// Loaded by the root pre-run hook for every subcommand.
var (
	appConfig *config.Config
	logger    *slog.Logger
	closeLog  = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "rosterbuild",
	Short: "Concurrent WNBA roster analysis pipeline",
	Long: `rosterbuild turns a team, season and strategy into a roster plan.

Three independent analyses (players, salary cap, team chemistry) run in
parallel against the selected model backend and feed a final roster
construction stage. A failed analysis degrades the run instead of
aborting it, and identical analyses are memoized for a short window.

Run 'rosterbuild serve' for the HTTP API or 'rosterbuild run' for a
one-off build in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		if logFormat != "" {
			cfg.Logging.Format = logFormat
		}

		l, closer, err := logging.New(logging.Config{
			Level:  cfg.Logging.Level,
			Format: logging.Format(cfg.Logging.Format),
			File:   cfg.Logging.File,
		})
		if err != nil {
			return fmt.Errorf("configure logging: %w", err)
		}
		appConfig, logger, closeLog = cfg, l, closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = closeLog()
	},
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		cfg, err := config.LoadFromPath(configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: project .rosterbuild.yaml, then user config)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(loadgenCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}
