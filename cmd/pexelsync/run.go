package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"pexelsync/pkg/checkpoint"
	"pexelsync/pkg/config"
	"pexelsync/pkg/destination"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/metadata"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pipeline"
	"pexelsync/pkg/ui"
	"pexelsync/pkg/ui/tui"
)

var (
	// Run command flags
	apiKey         string
	keyFile        string
	imageCount     int
	offset         int
	imageSize      string
	fieldLabels    []string
	uploadMethod   string
	batchSize      int
	workers        int
	customSettings bool
	backendName    string
	workspaceID    int64
	projectID      int64
	datasetID      int64
	projectName    string
	datasetName    string
	resumeRun      bool
	useTUI         bool
	manifestDir    string
	dryRun         bool
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run <query>",
	Short: "Search Pexels and upload the results",
	Long: `Search Pexels for a query and upload a window of the results to the
destination backend.

The window starts at --offset and holds --count results. Results with a
broken link, an unsupported extension, or a name already in the dataset are
skipped. With --method files the images are downloaded first; with --method
links only the links are registered.

Batch size and worker count are locked to their defaults unless
--custom-settings is given.`,
	Example: `  # Upload 100 cat photos to a new project in the local catalog
  pexelsync run cats --count 100

  # Continue where the last run for the query stopped
  pexelsync run cats --count 100 --resume

  # Register links only, into an existing dataset
  pexelsync run "mountain lake" --count 50 --method links --dataset-id 7

  # Tune batching
  pexelsync run cats --count 2000 --custom-settings --batch-size 200 --workers 8

  # Follow progress in the terminal UI
  pexelsync run cats --count 500 --tui`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&apiKey, "api-key", "", "Pexels API key")
	f.StringVar(&keyFile, "key-file", "", "path or URL of a key=value file holding PEXELS_API_KEY")
	f.IntVarP(&imageCount, "count", "n", 1, "number of search results to process")
	f.IntVar(&offset, "offset", 0, "index of the first search result")
	f.StringVar(&imageSize, "size", "", "image size (original, large2x, large, medium, small, tiny)")
	f.StringSliceVar(&fieldLabels, "fields", nil, "optional metadata fields to store")
	f.StringVarP(&uploadMethod, "method", "m", "", "upload method (files, links)")
	f.IntVar(&batchSize, "batch-size", config.DefaultBatchSize, "images per upload batch")
	f.IntVar(&workers, "workers", 0, "parallel downloads (default: CPU count)")
	f.BoolVar(&customSettings, "custom-settings", false, "allow --batch-size and --workers")
	f.StringVar(&backendName, "backend", "", "destination backend (sqlite, remote, memory)")
	f.Int64Var(&workspaceID, "workspace-id", 0, "workspace for new projects")
	f.Int64Var(&projectID, "project-id", 0, "upload into an existing project")
	f.Int64Var(&datasetID, "dataset-id", 0, "upload into an existing dataset")
	f.StringVar(&projectName, "project-name", "", "name of the project to create")
	f.StringVar(&datasetName, "dataset-name", "", "name of the dataset to create")
	f.BoolVar(&resumeRun, "resume", false, "start at the next offset recorded for the query")
	f.BoolVar(&useTUI, "tui", false, "use interactive terminal UI with real-time progress")
	f.StringVar(&manifestDir, "manifest", "", "write a parquet manifest of uploaded images to this directory")
	f.BoolVar(&dryRun, "dry-run", false, "upload to an in-memory destination and record nothing")
}

// checkSettingsLock rejects tuned batch settings unless they were unlocked
func checkSettingsLock(changed func(string) bool, unlocked bool) error {
	if unlocked {
		return nil
	}
	for _, name := range []string{"batch-size", "workers"} {
		if changed(name) {
			return fmt.Errorf("--%s is locked to its default, pass --custom-settings to change it", name)
		}
	}
	return nil
}

// runFlags collects the flags the user actually set, keyed the way
// config.MergeCommandLineFlags expects
func runFlags(cmd *cobra.Command) map[string]interface{} {
	flags := make(map[string]interface{})
	changed := cmd.Flags().Changed

	if changed("api-key") {
		flags["api-key"] = apiKey
	}
	if changed("key-file") {
		flags["key-file"] = keyFile
	}
	if changed("count") {
		flags["count"] = imageCount
	}
	if changed("offset") {
		flags["offset"] = offset
	}
	if changed("size") {
		flags["size"] = imageSize
	}
	if changed("fields") {
		flags["fields"] = fieldLabels
	}
	if changed("method") {
		flags["method"] = uploadMethod
	}
	if changed("batch-size") {
		flags["batch-size"] = batchSize
	}
	if changed("workers") {
		flags["workers"] = workers
	}
	if changed("backend") {
		flags["backend"] = backendName
	}
	if changed("project-id") {
		flags["project-id"] = projectID
	}
	if changed("dataset-id") {
		flags["dataset-id"] = datasetID
	}
	if changed("project-name") {
		flags["project-name"] = projectName
	}
	if changed("dataset-name") {
		flags["dataset-name"] = datasetName
	}
	if dryRun {
		flags["backend"] = "memory"
	}
	return flags
}

// requestFromConfig builds the search request for query from the merged
// configuration
func requestFromConfig(query string, cfg *config.Config) (models.SearchRequest, error) {
	req, err := defaultsFromConfig(cfg)
	if err != nil {
		return req, err
	}
	req.Query = strings.TrimSpace(query)
	return req, req.Validate()
}

// defaultsFromConfig is the request every field of which comes from the
// configuration; only the query is left empty
func defaultsFromConfig(cfg *config.Config) (models.SearchRequest, error) {
	fields, err := metadata.ParseFields(cfg.Search.OptionalFields)
	if err != nil {
		return models.SearchRequest{}, err
	}

	req := models.NewSearchRequest("", cfg.Search.Count, cfg.Search.Offset)
	req.Size = models.ImageSize(cfg.Search.ImageSize)
	req.Fields = fields
	req.Method = models.UploadMethod(cfg.Upload.Method)
	req.BatchSize = cfg.Upload.BatchSize
	req.Workers = cfg.Upload.Workers
	return req, nil
}

func targetFromConfig(cfg *config.Config) models.Target {
	return models.Target{
		WorkspaceID: cfg.Destination.WorkspaceID,
		ProjectID:   cfg.Destination.ProjectID,
		DatasetID:   cfg.Destination.DatasetID,
		ProjectName: cfg.Destination.ProjectName,
		DatasetName: cfg.Destination.DatasetName,
	}
}

// resumeFrom moves req and target to where the checkpoint left off. An
// explicit offset or target on the command line wins.
func resumeFrom(cp *checkpoint.Checkpoint, req *models.SearchRequest, target *models.Target, keepOffset bool) {
	if cp == nil {
		return
	}
	if !keepOffset {
		req.Offset = cp.NextOffset
	}
	if target.ProjectID == 0 && target.DatasetID == 0 {
		target.ProjectID = cp.LastTarget.ProjectID
		target.DatasetID = cp.LastTarget.DatasetID
	}
}

func checkpointDir() string {
	return filepath.Join(config.DataDir(), "checkpoints")
}

func runRun(cmd *cobra.Command, args []string) error {
	if err := checkSettingsLock(cmd.Flags().Changed, customSettings); err != nil {
		return err
	}

	cfg, log, err := loadConfig(cmd, runFlags(cmd))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	if cmd.Flags().Changed("workspace-id") {
		cfg.Destination.WorkspaceID = workspaceID
	}

	if useTUI {
		var closeLog func()
		if log, closeLog, err = fileLogger(cfg); err != nil {
			return err
		}
		defer closeLog()
		logger.SetLogger(log)
	}

	out := cmd.OutOrStdout()
	console := ui.NewConsole(cmd.ErrOrStderr())
	ctx := cmd.Context()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.flushMetrics()

	if err := a.checkKey(ctx); err != nil {
		return err
	}

	req, err := requestFromConfig(args[0], cfg)
	if err != nil {
		return err
	}
	target := targetFromConfig(cfg)

	checkpoints, err := checkpoint.NewManager(checkpointDir(), log)
	if err != nil {
		return err
	}
	if resumeRun {
		cp, err := checkpoints.Load(req.Query)
		if err != nil {
			return err
		}
		if cp == nil {
			console.Warning(fmt.Sprintf("No checkpoint for %q, starting at offset %d", req.Query, req.Offset))
		}
		resumeFrom(cp, &req, &target, cmd.Flags().Changed("offset"))
	}

	backend, err := openBackend(cfg, a.creds, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	opts := []pipeline.Option{
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(log),
		pipeline.WithUploadSettings(cfg.Upload),
	}
	if !dryRun {
		opts = append(opts, pipeline.WithCheckpoints(checkpoints))
	}
	if manifestDir != "" {
		opts = append(opts, pipeline.WithManifestDir(manifestDir))
	}

	log.WithFields(map[string]interface{}{
		"query":   req.Query,
		"offset":  req.Offset,
		"count":   req.Count,
		"method":  req.Method,
		"backend": cfg.Destination.Backend,
	}).Info("Starting run")

	var summary models.RunSummary
	if useTUI {
		// desktop notifications only, the dashboard owns stdout
		notify := ui.NewNotifier(io.Discard, cfg.Notifications).Observer()
		summary, err = runWithTUI(ctx, req, target, a, backend, notify, opts)
	} else {
		var observers pipeline.MultiObserver
		if !quiet {
			console.Info("Query", req.Query)
			observers = append(observers, ui.NewProgressDisplay(out, verbose))
		}
		observers = append(observers, ui.NewNotifier(out, cfg.Notifications).Observer())
		runner := pipeline.NewRunner(a.client, backend, append(opts, pipeline.WithObserver(observers))...)
		summary, err = runner.Run(ctx, req, target)
	}

	switch {
	case errors.Is(err, pipeline.ErrNoImages):
		return nil
	case err != nil:
		log.WithError(err).WithField("query", req.Query).Error("Run failed")
		return err
	case summary.Status == models.StatusCancelled:
		log.WithField("uploaded", summary.Uploaded).Warn("Run cancelled")
	default:
		log.WithField("uploaded", summary.Uploaded).Info("Run completed")
	}
	return nil
}

// runWithTUI runs the pipeline in the background while the dashboard owns
// the terminal
func runWithTUI(ctx context.Context, req models.SearchRequest, target models.Target, a *app, backend destination.Backend, notify pipeline.Observer, opts []pipeline.Option) (models.RunSummary, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dashboard := tui.New(cancel)
	dashboard.LogInfo(fmt.Sprintf("API key from %s", a.keyOrigin))
	runner := pipeline.NewRunner(a.client, backend, append(opts, pipeline.WithObserver(pipeline.MultiObserver{dashboard, notify}))...)

	type result struct {
		summary models.RunSummary
		err     error
	}
	done := make(chan result, 1)
	go func() {
		s, err := runner.Run(ctx, req, target)
		if err != nil && !errors.Is(err, pipeline.ErrNoImages) {
			dashboard.LogError(err.Error())
		}
		done <- result{s, err}
	}()

	tuiErr := dashboard.Run()
	// the dashboard only quits on its own once the run is over; this
	// covers a crash of the program itself
	cancel()
	res := <-done
	if tuiErr != nil {
		return res.summary, fmt.Errorf("terminal UI failed: %w", tuiErr)
	}
	return res.summary, res.err
}
