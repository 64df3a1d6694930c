package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"pexelsync/pkg/checkpoint"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/manifest"
	"pexelsync/pkg/metadata"
	"pexelsync/pkg/ui"
)

const timeLayout = "2006-01-02 15:04"

var manifestLimit int

// historyCmd represents the history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show past runs per query",
	Long: `Show the queries pexelsync has run, where the next run of each would
start, and how many images were uploaded so far.`,
	Args: cobra.NoArgs,
	RunE: runHistoryList,
}

var historyShowCmd = &cobra.Command{
	Use:   "show <query>",
	Short: "Show the runs of one query",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryShow,
}

var historyForgetCmd = &cobra.Command{
	Use:   "forget <query>",
	Short: "Forget the checkpoint of a query so the next run starts over",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryForget,
}

var historyManifestCmd = &cobra.Command{
	Use:   "manifest <file.parquet>",
	Short: "Print the images recorded in a run manifest",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistoryManifest,
}

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyForgetCmd)
	historyCmd.AddCommand(historyManifestCmd)

	historyManifestCmd.Flags().IntVar(&manifestLimit, "limit", 50, "maximum rows to print (0 for all)")
}

func openCheckpoints() (*checkpoint.Manager, error) {
	return checkpoint.NewManager(checkpointDir(), logger.GetLogger())
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("8"))).
		Headers(headers...)
}

func runHistoryList(cmd *cobra.Command, args []string) error {
	checkpoints, err := openCheckpoints()
	if err != nil {
		return err
	}
	list, err := checkpoints.List()
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	printCheckpoints(cmd.OutOrStdout(), list)
	return nil
}

func printCheckpoints(out io.Writer, list []*checkpoint.Checkpoint) {
	if len(list) == 0 {
		ui.NewConsole(out).Info("No history yet", "Run 'pexelsync run <query>' first")
		return
	}

	t := newTable("QUERY", "NEXT OFFSET", "UPLOADED", "RUNS", "LAST STATUS", "UPDATED")
	for _, cp := range list {
		status := "-"
		if last := cp.LastRun(); last != nil {
			status = string(last.Status)
		}
		t.Row(
			cp.Query,
			strconv.Itoa(cp.NextOffset),
			strconv.Itoa(cp.TotalUploaded),
			strconv.Itoa(len(cp.Runs)),
			status,
			cp.UpdatedAt.Local().Format(timeLayout),
		)
	}
	fmt.Fprintln(out, t.String())
}

func runHistoryShow(cmd *cobra.Command, args []string) error {
	checkpoints, err := openCheckpoints()
	if err != nil {
		return err
	}
	query := strings.TrimSpace(args[0])
	cp, err := checkpoints.Load(query)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no history for %q", query)
	}
	printCheckpoint(cmd.OutOrStdout(), cp)
	return nil
}

func printCheckpoint(out io.Writer, cp *checkpoint.Checkpoint) {
	console := ui.NewConsole(out)
	console.Info("Query", cp.Query)
	console.Info("Next offset", strconv.Itoa(cp.NextOffset))
	console.Info("Total uploaded", strconv.Itoa(cp.TotalUploaded))
	if cp.LastTarget.DatasetID != 0 {
		console.Info("Last dataset", fmt.Sprintf("%s (%d) in %s (%d)",
			cp.LastTarget.DatasetName, cp.LastTarget.DatasetID,
			cp.LastTarget.ProjectName, cp.LastTarget.ProjectID))
	}
	fmt.Fprintln(out)

	runs := append([]checkpoint.RunEntry(nil), cp.Runs...)
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })

	t := newTable("STARTED", "STATUS", "OFFSET", "REQUESTED", "UPLOADED", "METHOD", "DATASET")
	for _, r := range runs {
		dataset := "-"
		if r.DatasetID != 0 {
			dataset = fmt.Sprintf("%s (%d)", r.DatasetName, r.DatasetID)
		}
		t.Row(
			r.StartedAt.Local().Format(timeLayout),
			string(r.Status),
			strconv.Itoa(r.Offset),
			strconv.Itoa(r.Requested),
			strconv.Itoa(r.Uploaded),
			r.Method,
			dataset,
		)
	}
	fmt.Fprintln(out, t.String())
}

func runHistoryForget(cmd *cobra.Command, args []string) error {
	checkpoints, err := openCheckpoints()
	if err != nil {
		return err
	}
	query := strings.TrimSpace(args[0])
	if !checkpoints.Exists(query) {
		return fmt.Errorf("no history for %q", query)
	}
	if err := checkpoints.Delete(query); err != nil {
		return err
	}
	ui.NewConsole(cmd.OutOrStdout()).Success("Forgot " + query)
	return nil
}

func runHistoryManifest(cmd *cobra.Command, args []string) error {
	rows, err := manifest.Read(args[0])
	if err != nil {
		return err
	}
	return printManifest(cmd.OutOrStdout(), rows, manifestLimit)
}

func printManifest(out io.Writer, rows []manifest.Row, limit int) error {
	console := ui.NewConsole(out)
	if len(rows) == 0 {
		console.Info("Manifest", "empty")
		return nil
	}
	console.Info("Run", rows[0].RunID)
	console.Info("Query", rows[0].Query)
	console.Info("Images", strconv.Itoa(len(rows)))
	fmt.Fprintln(out)

	shown := rows
	if limit > 0 && len(shown) > limit {
		shown = shown[:limit]
	}
	t := newTable("#", "NAME", "PHOTOGRAPHER", "LINK")
	for _, r := range shown {
		meta, err := r.Metadata()
		if err != nil {
			return err
		}
		t.Row(strconv.FormatInt(r.Index, 10), r.Name, meta[metadata.PhotographerName.Label()], r.Link)
	}
	fmt.Fprintln(out, t.String())
	if len(shown) < len(rows) {
		fmt.Fprintf(out, "... %d more\n", len(rows)-len(shown))
	}
	return nil
}
