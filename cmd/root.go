package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/xyl2024/Mini-Agent-Web/config"
)

var (
	configPath   string
	workspaceDir string
	verbose      bool
)

var rootCmd = &cobra.Command{
	Use:   "miniagent",
	Short: "A minimal tool-using LLM agent",
	Long: `miniagent runs a tool-using LLM agent against a local workspace.

It can be used interactively (chat), for a single task (run) or as an
HTTP service with persistent sessions (serve).`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// Default behavior: interactive chat
		return runChat(cmd)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: search mini_agent/config and ~/.mini-agent/config)")
	rootCmd.PersistentFlags().StringVarP(&workspaceDir, "workspace", "w", "", "workspace directory (overrides workspace_dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads .env, then the configuration file. Without a file and
// without --config the defaults plus MINI_AGENT_* variables are used.
func loadConfig() (*config.Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg, err := config.Load(configPath)
	if errors.Is(err, config.ErrNotFound) && configPath == "" {
		cfg, err = config.Parse(nil)
		if err != nil {
			return nil, fmt.Errorf("no config file found in %v and environment is incomplete: %w", config.SearchPaths(), err)
		}
	}
	if err != nil {
		return nil, err
	}

	if workspaceDir != "" {
		cfg.WorkspaceDir = workspaceDir
	}
	return cfg, nil
}

func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
