package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
	"pexelsync/pkg/config"
	"pexelsync/pkg/ui"
)

// configCmd represents the config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration files",
	Long: `Manage pexelsync configuration files.

Configuration can be loaded from:
  - Command line flags (highest priority)
  - Environment variables (PEXELSYNC_*, PEXELS_API_KEY)
  - .env files
  - Configuration file
  - Default values (lowest priority)`,
}

// initCmd represents the config init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a configuration file with the default values",
	Long: `Write every configuration option with its default value.

The file is written to ~/.config/pexelsync/config.yaml unless a different
path is given with --config. An existing file is never overwritten.`,
	RunE: runConfigInit,
}

// showCmd represents the config show command
var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  `Show the configuration after merging every source. Secrets are masked.`,
	RunE:  runConfigShow,
}

// validateCmd represents the config validate command
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration",
	RunE:  runConfigValidate,
}

var pathCmd = &cobra.Command{
	Use:   "path",
	Short: "Print where configuration and data are kept",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "config:      %s\n", configPath())
		fmt.Fprintf(out, "data:        %s\n", config.DataDir())
		fmt.Fprintf(out, "checkpoints: %s\n", checkpointDir())
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(initCmd)
	configCmd.AddCommand(showCmd)
	configCmd.AddCommand(validateCmd)
	configCmd.AddCommand(pathCmd)
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	return config.DefaultPath()
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	path := configPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("configuration file already exists: %s", path)
	}

	if err := config.DefaultConfig().Save(path); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	ui.NewConsole(out).Success("Configuration file created: " + path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "1. Store your Pexels API key with 'pexelsync auth login'")
	fmt.Fprintln(out, "2. Pick a destination backend in the file")
	fmt.Fprintln(out, "3. Run 'pexelsync config validate' to check the configuration")
	return nil
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configFile, nil)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	return writeMasked(cmd.OutOrStdout(), cfg)
}

// writeMasked prints cfg as YAML with the secrets masked
func writeMasked(out io.Writer, cfg *config.Config) error {
	display := *cfg
	display.Pexels.APIKey = mask(display.Pexels.APIKey)
	display.Destination.RemoteToken = mask(display.Destination.RemoteToken)

	data, err := yaml.Marshal(&display)
	if err != nil {
		return fmt.Errorf("failed to format configuration: %w", err)
	}
	ui.NewConsole(out).Highlight("Current Configuration")
	fmt.Fprintln(out)
	fmt.Fprint(out, string(data))
	return nil
}

func mask(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) > 8:
		return s[:4] + "..." + s[len(s)-4:]
	default:
		return "***"
	}
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	console := ui.NewConsole(cmd.OutOrStdout())
	if configFile != "" {
		console.Info("Validating configuration", configFile)
	}

	if _, err := config.Load(configFile, nil); err != nil {
		console.Error("Configuration is invalid", err.Error())
		return err
	}
	console.Success("Configuration is valid")
	return nil
}
