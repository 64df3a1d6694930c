package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"pexelsync/pkg/config"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile    string
	logLevel      string
	profile       string
	notifications bool
	quiet         bool
	verbose       bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pexelsync",
	Short: "Search Pexels and upload the results to an image catalog",
	Long: `pexelsync searches the Pexels stock-photo API and uploads the results, in
batches, to a destination image-management backend.

Features:
  - Offset and count windows mapped onto Pexels result pages
  - Bad link, bad extension and duplicate filtering
  - Upload by link or by downloaded file with a bounded worker pool
  - SQLite catalog, remote REST API or in-memory destinations
  - Run summaries recorded on the destination project
  - Resume from the last offset of a query
  - Terminal UI and an HTTP control API with live events`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if quiet {
			return
		}
		switch cmd.Name() {
		case "version", "help", "completion", "serve":
		default:
			if tui, _ := cmd.Flags().GetBool("tui"); !tui {
				ui.NewConsole(cmd.ErrOrStderr()).Logo()
			}
		}
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is ~/.config/pexelsync/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&profile, "profile", "", "stored credential profile to use")
	rootCmd.PersistentFlags().BoolVar(&notifications, "notifications", true, "enable run notifications")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "show debug logs and every pipeline event")

	rootCmd.SetVersionTemplate(`pexelsync {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// loadConfig merges the global flags into flags, loads the configuration
// and installs the global logger
func loadConfig(cmd *cobra.Command, flags map[string]interface{}) (*config.Config, logger.Logger, error) {
	if flags == nil {
		flags = make(map[string]interface{})
	}
	if cmd.Flags().Changed("log-level") {
		flags["log-level"] = logLevel
	}
	if cmd.Flags().Changed("notifications") {
		flags["notifications"] = notifications
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, nil, err
	}

	switch {
	case verbose:
		cfg.Logging.Level = "debug"
	case quiet:
		cfg.Logging.Level = "error"
	}

	log, err := logger.New(&cfg.Logging)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetLogger(log)
	return cfg, log, nil
}

// fileLogger logs only to the configured log file, or nowhere. The TUI owns
// the terminal while it runs.
func fileLogger(cfg *config.Config) (logger.Logger, func(), error) {
	if cfg.Logging.File == "" {
		return logger.NewNopLogger(), func() {}, nil
	}
	f, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return logger.NewWithWriter(f), func() { f.Close() }, nil
}
