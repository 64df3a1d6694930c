package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"pexelsync/internal/server"
	"pexelsync/pkg/checkpoint"
	"pexelsync/pkg/pipeline"
)

var serveAddr string

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Long: `Serve the control API. Runs are submitted and cancelled over HTTP, their
events stream over a websocket, and Prometheus metrics are exposed.

Endpoints:
  POST /api/v1/key/check         check the Pexels API key
  GET  /api/v1/count?query=...   result count of a query
  POST /api/v1/runs              start a run
  GET  /api/v1/runs              list runs
  GET  /api/v1/runs/{id}         one run with its progress
  POST /api/v1/runs/{id}/cancel  cancel a run
  GET  /ws?run={id}              run events
  GET  /metrics                  Prometheus metrics
  GET  /healthz                  liveness

Interrupting the server cancels every active run. Each run still records
its summary before the server exits.`,
	Example: `  pexelsync serve --addr :8089
  curl -X POST localhost:8089/api/v1/runs -d '{"query":"cats","count":100}'`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default :8089)")
	serveCmd.Flags().StringVar(&apiKey, "api-key", "", "Pexels API key")
	serveCmd.Flags().StringVar(&keyFile, "key-file", "", "path or URL of a key=value file holding PEXELS_API_KEY")
	serveCmd.Flags().StringVar(&backendName, "backend", "", "destination backend (sqlite, remote, memory)")
	serveCmd.Flags().StringVar(&manifestDir, "manifest", "", "write a parquet manifest of every run to this directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	flags := keyFlags(cmd)
	if cmd.Flags().Changed("addr") {
		flags["addr"] = serveAddr
	}
	if cmd.Flags().Changed("backend") {
		flags["backend"] = backendName
	}

	cfg, log, err := loadConfig(cmd, flags)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	if err := a.checkKey(ctx); err != nil {
		return err
	}

	backend, err := openBackend(cfg, a.creds, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	checkpoints, err := checkpoint.NewManager(checkpointDir(), log)
	if err != nil {
		return err
	}
	opts := []pipeline.Option{
		pipeline.WithCheckpoints(checkpoints),
		pipeline.WithMetrics(a.metrics),
		pipeline.WithLogger(log),
		pipeline.WithUploadSettings(cfg.Upload),
	}
	if manifestDir != "" {
		opts = append(opts, pipeline.WithManifestDir(manifestDir))
	}

	defaults, err := defaultsFromConfig(cfg)
	if err != nil {
		return err
	}

	srv := server.New(cfg.Server, server.Deps{
		Runner:   pipeline.NewRunner(a.client, backend, opts...),
		Provider: a.client,
		Metrics:  a.metrics,
		Defaults: defaults,
		Target:   targetFromConfig(cfg),
	}, log)

	log.WithFields(map[string]interface{}{
		"addr":    cfg.Server.Addr,
		"backend": cfg.Destination.Backend,
	}).Info("Control API listening")

	err = srv.Run(ctx)
	a.flushMetrics()
	return err
}
