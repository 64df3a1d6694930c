// Package pipeline runs a search-to-destination transfer: it walks the page
// window, filters results, downloads files when needed and uploads them in
// batches, then records the run on the destination project.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"pexelsync/internal/downloader"
	"pexelsync/pkg/checkpoint"
	"pexelsync/pkg/config"
	"pexelsync/pkg/destination"
	"pexelsync/pkg/filter"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/manifest"
	"pexelsync/pkg/metrics"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pexels"
	"pexelsync/pkg/storage"
	"pexelsync/pkg/window"
)

// ErrNoImages is returned when no search result survived filtering
var ErrNoImages = errors.New("no images found for this query")

// Provider is the part of the Pexels client a run needs
type Provider interface {
	Search(ctx context.Context, query string, page, perPage int) (*pexels.SearchResponse, error)
	DownloadPhoto(ctx context.Context, url string) ([]byte, error)
}

// Runner executes runs against one provider and one destination. A Runner
// holds no per-run state and may run several requests concurrently.
type Runner struct {
	provider    Provider
	backend     destination.Backend
	checkpoints *checkpoint.Manager
	metrics     *metrics.Metrics
	observer    Observer
	logger      logger.Logger
	now         func() time.Time

	pageSize        int
	workDir         string
	minFileSize     int64
	downloadTimeout time.Duration
	manifestDir     string
}

// Option configures a Runner
type Option func(*Runner)

func WithCheckpoints(m *checkpoint.Manager) Option {
	return func(r *Runner) { r.checkpoints = m }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

func WithObserver(o Observer) Option {
	return func(r *Runner) { r.observer = o }
}

func WithLogger(l logger.Logger) Option {
	return func(r *Runner) { r.logger = l }
}

// WithClock replaces time.Now, for stable names in tests
func WithClock(now func() time.Time) Option {
	return func(r *Runner) { r.now = now }
}

// WithPageSize overrides the provider page size
func WithPageSize(n int) Option {
	return func(r *Runner) { r.pageSize = n }
}

// WithManifestDir makes every finished run write a Parquet manifest there
func WithManifestDir(dir string) Option {
	return func(r *Runner) { r.manifestDir = dir }
}

// WithUploadSettings applies the upload section of the config
func WithUploadSettings(cfg config.UploadConfig) Option {
	return func(r *Runner) {
		r.workDir = cfg.WorkDir
		if cfg.MinFileSize > 0 {
			r.minFileSize = cfg.MinFileSize
		}
		r.downloadTimeout = cfg.DownloadTimeout
	}
}

// NewRunner creates a Runner
func NewRunner(provider Provider, backend destination.Backend, opts ...Option) *Runner {
	r := &Runner{
		provider:    provider,
		backend:     backend,
		observer:    NopObserver{},
		logger:      logger.GetLogger(),
		now:         time.Now,
		pageSize:    pexels.PageSize,
		minFileSize: config.DefaultMinFileSize,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// run is the state of one Run call
type run struct {
	*Runner
	ctx context.Context
	// work carries values but not cancellation of ctx, so calls that have
	// started always complete
	work     context.Context
	req      models.SearchRequest
	target   models.Target
	summary  models.RunSummary
	log      logger.Logger
	observer Observer
	uploaded []models.ImageRecord
}

// Run executes req against target. Cancelling ctx stops the run at the next
// page or batch boundary; the summary of what was done is still recorded.
// The returned summary is always filled in, even with an error.
func (r *Runner) Run(ctx context.Context, req models.SearchRequest, target models.Target) (models.RunSummary, error) {
	return r.RunWithID(ctx, uuid.NewString(), req, target)
}

// RunWithID is Run with a caller-chosen run ID
func (r *Runner) RunWithID(ctx context.Context, runID string, req models.SearchRequest, target models.Target) (models.RunSummary, error) {
	return r.RunWithObserver(ctx, runID, req, target, nil)
}

// RunWithObserver is RunWithID with an extra observer that only sees this run
func (r *Runner) RunWithObserver(ctx context.Context, runID string, req models.SearchRequest, target models.Target, obs Observer) (models.RunSummary, error) {
	observer := r.observer
	if obs != nil {
		observer = MultiObserver{r.observer, obs}
	}

	rn := &run{
		Runner:   r,
		ctx:      ctx,
		work:     context.WithoutCancel(ctx),
		req:      req,
		target:   target,
		observer: observer,
		log:      r.logger.WithField("run_id", runID),
		summary: models.RunSummary{
			RunID:     runID,
			Query:     req.Query,
			Offset:    req.Offset,
			Requested: req.Count,
			Method:    req.Method,
			Status:    models.StatusRunning,
			StartedAt: r.now(),
		},
	}
	return rn.execute()
}

func (rn *run) execute() (models.RunSummary, error) {
	if err := rn.req.Validate(); err != nil {
		return rn.fail(fmt.Errorf("invalid request: %w", err))
	}

	w, err := window.New(rn.pageSize, rn.req.Offset, rn.req.Count)
	if err != nil {
		return rn.fail(err)
	}
	rn.observer.OnStart(rn.summary.RunID, rn.req, w)
	rn.log.InfoWithFields("Run started", map[string]interface{}{
		"query":  rn.req.Query,
		"offset": rn.req.Offset,
		"count":  rn.req.Count,
		"size":   rn.req.Size,
		"method": rn.req.Method,
		"window": w.String(),
	})

	var existing []string
	if rn.target.DatasetID != 0 {
		existing, err = rn.backend.ListImageNames(rn.work, rn.target.DatasetID)
		if err != nil {
			return rn.fail(fmt.Errorf("failed to list images of dataset %d: %w", rn.target.DatasetID, err))
		}
		if existing == nil {
			existing = []string{}
		}
	}

	records := rn.search(w, filter.New(rn.req.Size, rn.req.Fields, existing))
	cancelled := rn.ctx.Err() != nil

	if len(records) == 0 && !cancelled {
		rn.summary.Status = models.StatusNoImages
		rn.finish()
		return rn.summary, ErrNoImages
	}
	if cancelled {
		rn.log.Info("Run cancelled before upload, nothing was created")
		rn.summary.Status = models.StatusCancelled
		rn.finish()
		return rn.summary, nil
	}

	if err := rn.resolveTarget(); err != nil {
		return rn.fail(err)
	}

	failed, uploadErr := rn.upload(records)
	if uploadErr != nil {
		rn.summary.Error = uploadErr.Error()
	}
	switch {
	case uploadErr != nil && failed == len(models.Batches(records, rn.req.BatchSize)):
		rn.summary.Status = models.StatusFailed
	case rn.ctx.Err() != nil:
		rn.summary.Status = models.StatusCancelled
	default:
		rn.summary.Status = models.StatusCompleted
	}

	if err := destination.SaveRunSummary(rn.work, rn.backend, rn.summary, rn.now(), rn.log); err != nil {
		rn.log.WithError(err).Error("Failed to record the run on the project")
		if uploadErr == nil {
			rn.summary.Error = err.Error()
		}
	}

	rn.finish()
	if rn.summary.Status == models.StatusFailed {
		return rn.summary, uploadErr
	}
	return rn.summary, nil
}

// search walks the window and returns the accepted records
func (rn *run) search(w window.Window, f *filter.Filter) []models.ImageRecord {
	for _, page := range w.Pages() {
		if rn.ctx.Err() != nil {
			rn.log.InfoWithFields("Search stopped by cancellation", map[string]interface{}{"page": page})
			break
		}

		resp, err := rn.provider.Search(rn.work, rn.req.Query, page, w.PageSize)
		if err != nil {
			rn.summary.PageErrors = true
			if rn.metrics != nil {
				rn.metrics.PageErrors.Inc()
			}
			rn.log.WarnWithFields("Skipping search page after provider error", map[string]interface{}{
				"page":  page,
				"error": err.Error(),
			})
			rn.observer.OnPage(page, 0, err)
			continue
		}

		accepted := 0
		for _, photo := range window.Apply(w, page, resp.Photos) {
			reason := f.Accept(photo)
			if reason == filter.Accepted {
				accepted++
			} else if rn.metrics != nil {
				rn.metrics.ImagesFiltered.WithLabelValues(reason.String()).Inc()
			}
		}
		rn.observer.OnPage(page, accepted, nil)

		if len(resp.Photos) == 0 {
			rn.log.DebugWithFields("Provider has no more results", map[string]interface{}{"page": page})
			break
		}
	}

	records := f.Records()
	rn.summary.Accepted = len(records)
	rn.summary.Counters = f.Counters()
	rn.observer.OnSearchDone(len(records), rn.summary.Counters)

	c := rn.summary.Counters
	rn.log.InfoWithFields("Search finished", map[string]interface{}{
		"accepted":            len(records),
		"bad_links":           c.BadLinks,
		"bad_extensions":      c.BadExtensions,
		"duplicates":          c.Duplicates,
		"existing_duplicates": c.ExistingDuplicates,
	})
	return records
}

// resolveTarget looks up or creates the project and dataset
func (rn *run) resolveTarget() error {
	t := rn.target

	if t.DatasetID != 0 {
		ds, err := rn.backend.GetDataset(rn.work, t.DatasetID)
		if err != nil {
			return fmt.Errorf("failed to read dataset %d: %w", t.DatasetID, err)
		}
		t.ProjectID = ds.ProjectID
		t.DatasetName = ds.Name
	}

	if t.ProjectID != 0 {
		p, err := rn.backend.GetProject(rn.work, t.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to read project %d: %w", t.ProjectID, err)
		}
		t.ProjectName = p.Name
	} else {
		name := t.ProjectName
		if name == "" {
			name = destination.DefaultProjectName(rn.req.Query)
		}
		p, err := rn.backend.CreateProject(rn.work, t.WorkspaceID, name)
		if err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		t.ProjectID, t.ProjectName = p.ID, p.Name
	}

	if t.DatasetID == 0 {
		name := t.DatasetName
		if name == "" {
			name = destination.DefaultDatasetName(rn.req.Query, rn.now())
		}
		ds, err := rn.backend.CreateDataset(rn.work, t.ProjectID, name)
		if err != nil {
			return fmt.Errorf("failed to create dataset: %w", err)
		}
		t.DatasetID, t.DatasetName = ds.ID, ds.Name
	}

	rn.target = t
	rn.summary.ProjectID, rn.summary.ProjectName = t.ProjectID, t.ProjectName
	rn.summary.DatasetID, rn.summary.DatasetName = t.DatasetID, t.DatasetName
	return nil
}

// upload sends records in batches. Cancellation is checked before each
// batch only. A failed batch is logged and skipped; upload returns how many
// batches failed and the last failure.
func (rn *run) upload(records []models.ImageRecord) (failed int, lastErr error) {
	batches := models.Batches(records, rn.req.BatchSize)

	var store *storage.Manager
	if rn.req.Method == models.MethodFiles {
		s, err := storage.NewManager(rn.workDir, rn.summary.RunID)
		if err != nil {
			return len(batches), err
		}
		store = s
		defer func() {
			if err := store.Cleanup(); err != nil {
				rn.log.WithError(err).Warn("Failed to remove work directory")
			}
		}()
	}

	for _, batch := range batches {
		if rn.ctx.Err() != nil {
			rn.log.InfoWithFields("Upload cancelled", map[string]interface{}{
				"next_batch": batch.Number,
				"uploaded":   rn.summary.Uploaded,
			})
			return failed, lastErr
		}

		rn.observer.OnBatchStart(batch.Number, len(batches), len(batch.Records))
		start := time.Now()

		n, sent, err := rn.uploadBatch(batch, store)
		if rn.metrics != nil {
			rn.metrics.BatchDuration.Observe(time.Since(start).Seconds())
		}
		rn.summary.Uploaded += n
		rn.observer.OnBatchDone(batch.Number, n, err)
		if err != nil {
			rn.log.WithError(err).WithField("batch", batch.Number).Error("Batch upload failed")
			failed++
			lastErr = fmt.Errorf("batch %d: %w", batch.Number, err)
			continue
		}

		rn.uploaded = append(rn.uploaded, sent...)
		if rn.metrics != nil {
			rn.metrics.ImagesUploaded.WithLabelValues(string(rn.req.Method)).Add(float64(n))
		}
		logger.LogBatch(rn.log, rn.summary.DatasetID, batch.Number, n, len(batch.Records))
	}
	return failed, lastErr
}

func (rn *run) uploadBatch(batch models.UploadBatch, store *storage.Manager) (int, []models.ImageRecord, error) {
	if rn.req.Method == models.MethodLinks {
		n, err := rn.backend.UploadLinks(rn.work, rn.summary.DatasetID, batch.Records)
		return n, batch.Records, err
	}

	ok, _ := downloader.DownloadAll(rn.work, batch.Records, downloader.Options{
		Workers:     rn.req.Workers,
		MinFileSize: rn.minFileSize,
		Timeout:     rn.downloadTimeout,
		OnResult:    rn.onDownload,
	}, rn.provider, store, rn.log)
	defer func() {
		for _, rec := range ok {
			_ = store.Remove(rec.Name)
		}
	}()

	if len(ok) == 0 {
		return 0, nil, nil
	}
	n, err := rn.backend.UploadPaths(rn.work, rn.summary.DatasetID, ok)
	return n, ok, err
}

func (rn *run) onDownload(res downloader.Result) {
	if rn.metrics != nil {
		label := "ok"
		switch {
		case errors.Is(res.Error, downloader.ErrTooSmall):
			label = "too_small"
		case res.Error != nil:
			label = "error"
		}
		rn.metrics.Downloads.WithLabelValues(label).Inc()
	}
	rn.observer.OnDownload(res)
}

func (rn *run) fail(err error) (models.RunSummary, error) {
	rn.summary.Status = models.StatusFailed
	rn.summary.Error = err.Error()
	rn.log.WithError(err).Error("Run failed")
	rn.finish()
	return rn.summary, err
}

// finish stamps the summary and runs the local bookkeeping
func (rn *run) finish() {
	rn.summary.FinishedAt = rn.now()

	if rn.metrics != nil {
		rn.metrics.Runs.WithLabelValues(string(rn.summary.Status)).Inc()
	}

	if rn.checkpoints != nil && rn.summary.Query != "" {
		if _, err := rn.checkpoints.Record(rn.summary); err != nil {
			rn.log.WithError(err).Warn("Failed to update checkpoint")
		}
	}

	if rn.manifestDir != "" && len(rn.uploaded) > 0 {
		path := filepath.Join(rn.manifestDir, manifest.FileName(rn.summary.RunID))
		rows, err := manifest.Rows(rn.summary, rn.uploaded)
		if err == nil {
			err = manifest.Write(path, rows)
		}
		if err != nil {
			rn.log.WithError(err).Warn("Failed to write manifest")
		} else {
			rn.log.InfoWithFields("Manifest written", map[string]interface{}{"path": path, "rows": len(rows)})
		}
	}

	for _, msg := range rn.summary.Messages() {
		rn.log.Info(msg)
	}
	rn.observer.OnFinish(rn.summary)
}
