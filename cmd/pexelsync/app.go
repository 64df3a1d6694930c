package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"pexelsync/pkg/auth"
	"pexelsync/pkg/config"
	"pexelsync/pkg/destination"
	"pexelsync/pkg/destination/remote"
	"pexelsync/pkg/destination/sqlite"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/metrics"
	"pexelsync/pkg/pexels"
	"pexelsync/pkg/ratelimit"
	"pexelsync/pkg/retry"
)

// app bundles what the commands that talk to Pexels share
type app struct {
	cfg       *config.Config
	log       logger.Logger
	creds     *auth.Manager
	metrics   *metrics.Metrics
	client    *pexels.Client
	keyOrigin string
}

func newApp(ctx context.Context, cfg *config.Config, log logger.Logger) (*app, error) {
	creds, err := auth.NewManager()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	key, origin, err := creds.ResolveKey(ctx, auth.KeySource{
		Explicit: cfg.Pexels.APIKey,
		KeyFile:  cfg.Pexels.KeyFile,
		Profile:  profile,
		HTTPClient: &http.Client{
			Timeout: cfg.Pexels.Timeout,
		},
		Logger: log,
	})
	if err != nil {
		return nil, err
	}
	log.WithField("source", origin).Debug("Resolved Pexels API key")

	a := &app{
		cfg:       cfg,
		log:       log,
		creds:     creds,
		metrics:   metrics.New(),
		keyOrigin: origin,
	}
	if a.client, err = newClient(cfg, key, a.metrics, log); err != nil {
		return nil, err
	}
	return a, nil
}

func newClient(cfg *config.Config, key string, m *metrics.Metrics, log logger.Logger) (*pexels.Client, error) {
	limiter, err := ratelimit.New(cfg.RateLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to create rate limiter: %w", err)
	}
	return pexels.NewClient(key,
		pexels.WithBaseURL(cfg.Pexels.BaseURL),
		pexels.WithTimeout(cfg.Pexels.Timeout),
		pexels.WithLimiter(limiter),
		pexels.WithRetry(retry.FromSettings(cfg.Retry, log)),
		pexels.WithMetrics(m),
		pexels.WithLogger(log),
		pexels.WithCountCache(cfg.Cache.Size, cfg.Cache.TTL),
	), nil
}

// checkKey is the gate in front of every provider call
func (a *app) checkKey(ctx context.Context) error {
	if err := a.client.CheckKey(ctx); err != nil {
		return fmt.Errorf("Pexels API key check failed (%s): %w", a.keyOrigin, err)
	}
	return nil
}

// flushMetrics writes the textfile export when one is configured
func (a *app) flushMetrics() {
	if !a.cfg.Metrics.Enabled || a.cfg.Metrics.TextfilePath == "" {
		return
	}
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.TextfilePath); err != nil {
		a.log.WithError(err).Warn("Failed to write metrics textfile")
	}
}

// openBackend opens the configured destination
func openBackend(cfg *config.Config, creds *auth.Manager, log logger.Logger) (destination.Backend, error) {
	dc := cfg.Destination
	switch dc.Backend {
	case "memory":
		return destination.NewMemory(), nil
	case "sqlite":
		store, err := sqlite.Open(dc.SQLitePath, dc.BlobDir, log)
		if err != nil {
			return nil, fmt.Errorf("failed to open catalog: %w", err)
		}
		return store, nil
	case "remote":
		token := dc.RemoteToken
		if token == "" && creds != nil {
			cred, err := creds.Retrieve(profile)
			if err != nil && !errors.Is(err, auth.ErrCredentialsNotFound) {
				return nil, err
			}
			if cred != nil {
				token = cred.DestinationToken
			}
		}
		return remote.New(dc.RemoteURL, token,
			remote.WithLogger(log),
			remote.WithRetry(retry.FromSettings(cfg.Retry, log)),
		)
	default:
		return nil, fmt.Errorf("unknown destination backend %q", dc.Backend)
	}
}
