package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"pexelsync/pkg/ui"
)

// countCmd represents the count command
var countCmd = &cobra.Command{
	Use:   "count <query>",
	Short: "Show how many Pexels results a query has",
	Long: `Ask Pexels how many results a query has before running it.

Pexels reports at most 8000 results for a search; when the count hits that
ceiling there may be more.`,
	Example: `  pexelsync count cats
  pexelsync count "mountain lake" --key-file https://example.com/team/pexels.env`,
	Args: cobra.ExactArgs(1),
	RunE: runCount,
}

// keyCmd groups API key commands
var keyCmd = &cobra.Command{
	Use:   "key",
	Short: "Inspect the Pexels API key",
}

var keyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the Pexels API key is accepted",
	Long: `Resolve the Pexels API key the same way 'run' does and send one test
search with it.

The key is taken from --api-key, then --key-file, then the stored profile.`,
	Args: cobra.NoArgs,
	RunE: runKeyCheck,
}

func init() {
	rootCmd.AddCommand(countCmd)
	rootCmd.AddCommand(keyCmd)
	keyCmd.AddCommand(keyCheckCmd)

	for _, c := range []*cobra.Command{countCmd, keyCheckCmd} {
		c.Flags().StringVar(&apiKey, "api-key", "", "Pexels API key")
		c.Flags().StringVar(&keyFile, "key-file", "", "path or URL of a key=value file holding PEXELS_API_KEY")
	}
}

func keyFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	if cmd.Flags().Changed("api-key") {
		flags["api-key"] = apiKey
	}
	if cmd.Flags().Changed("key-file") {
		flags["key-file"] = keyFile
	}
	return flags
}

func runCount(cmd *cobra.Command, args []string) error {
	query := strings.TrimSpace(args[0])
	if query == "" {
		return fmt.Errorf("Please, enter the search query.")
	}

	cfg, log, err := loadConfig(cmd, keyFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.flushMetrics()

	if err := a.checkKey(ctx); err != nil {
		return err
	}

	result, err := a.client.Count(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to count results: %w", err)
	}

	console := ui.NewConsole(cmd.OutOrStdout())
	console.Info("Query", result.Query)
	console.Info("Results", strconv.Itoa(result.Total))
	if result.RateRemaining >= 0 {
		console.Info("Requests left", strconv.Itoa(result.RateRemaining))
	}
	if result.Capped {
		console.Warning(result.Message)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), result.Message)
	}
	return nil
}

func runKeyCheck(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cmd, keyFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.flushMetrics()

	console := ui.NewConsole(cmd.OutOrStdout())
	console.Info("Key source", a.keyOrigin)
	if err := a.checkKey(ctx); err != nil {
		console.Error("API key rejected", err.Error())
		return err
	}
	console.Success("API key accepted")
	return nil
}
