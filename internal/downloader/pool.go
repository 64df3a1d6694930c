package downloader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
)

// ErrTooSmall marks a download below the minimum size, usually a
// placeholder or a truncated image
var ErrTooSmall = fmt.Errorf("image is too small, probably corrupted")

// Job is one record to download, tagged with its position in the batch
type Job struct {
	Index  int
	Record models.ImageRecord
}

// Result is the outcome of one job
type Result struct {
	Job      Job
	Path     string
	Size     int64
	Error    error
	Duration time.Duration
}

func (r Result) Success() bool { return r.Error == nil }

// PhotoDownloader fetches image bytes
type PhotoDownloader interface {
	DownloadPhoto(ctx context.Context, url string) ([]byte, error)
}

// PhotoStorage persists downloaded bytes
type PhotoStorage interface {
	Save(r io.Reader, name string) (string, int64, error)
	Remove(name string) error
}

// Options configures a WorkerPool
type Options struct {
	Workers     int
	MinFileSize int64
	// Timeout bounds a single download; zero means no extra bound
	Timeout time.Duration
	// OnResult is called from the coordinating goroutine for every result
	OnResult func(Result)
}

// WorkerPool runs downloads on a fixed number of goroutines. Workers never
// touch shared slices; each result travels back on a channel.
type WorkerPool struct {
	opts        Options
	jobQueue    chan Job
	resultQueue chan Result
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	client      PhotoDownloader
	storage     PhotoStorage
	logger      logger.Logger
}

// NewWorkerPool creates a pool bound to ctx
func NewWorkerPool(ctx context.Context, opts Options, client PhotoDownloader, storage PhotoStorage, log logger.Logger) *WorkerPool {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if log == nil {
		log = logger.GetLogger()
	}
	ctx, cancel := context.WithCancel(ctx)

	return &WorkerPool{
		opts:        opts,
		jobQueue:    make(chan Job, opts.Workers*2),
		resultQueue: make(chan Result, opts.Workers),
		ctx:         ctx,
		cancel:      cancel,
		client:      client,
		storage:     storage,
		logger:      log,
	}
}

// Start launches the workers
func (wp *WorkerPool) Start() {
	wp.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": wp.opts.Workers,
	})
	for i := 0; i < wp.opts.Workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop closes the queue, waits for the workers to drain it and closes the
// result channel
func (wp *WorkerPool) Stop() {
	close(wp.jobQueue)
	wp.wg.Wait()
	close(wp.resultQueue)
	wp.cancel()
}

// Submit queues a job
func (wp *WorkerPool) Submit(job Job) error {
	select {
	case wp.jobQueue <- job:
		return nil
	case <-wp.ctx.Done():
		return fmt.Errorf("worker pool is shutting down: %w", wp.ctx.Err())
	}
}

// Results returns the result channel
func (wp *WorkerPool) Results() <-chan Result {
	return wp.resultQueue
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	for job := range wp.jobQueue {
		result := wp.processJob(job, id)
		// the coordinator always drains the queue, so this send cannot block
		// forever
		wp.resultQueue <- result
	}
}

func (wp *WorkerPool) processJob(job Job, workerID int) Result {
	start := time.Now()
	result := Result{Job: job}
	name := job.Record.Name

	if err := wp.ctx.Err(); err != nil {
		result.Error = err
		return result
	}

	ctx := wp.ctx
	if wp.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, wp.opts.Timeout)
		defer cancel()
	}

	data, err := wp.client.DownloadPhoto(ctx, job.Record.Link)
	if err != nil {
		result.Error = fmt.Errorf("download failed: %w", err)
		result.Duration = time.Since(start)
		wp.logger.ErrorWithFields("There was an error while downloading the image", map[string]interface{}{
			"worker_id": workerID,
			"index":     job.Index,
			"name":      name,
			"error":     err.Error(),
		})
		return result
	}

	path, size, err := wp.storage.Save(bytes.NewReader(data), name)
	if err != nil {
		result.Error = fmt.Errorf("save failed: %w", err)
		result.Duration = time.Since(start)
		wp.logger.ErrorWithFields("Worker failed to save image", map[string]interface{}{
			"worker_id": workerID,
			"name":      name,
			"error":     err.Error(),
		})
		return result
	}

	if size < wp.opts.MinFileSize {
		_ = wp.storage.Remove(name)
		result.Error = fmt.Errorf("%s is %d bytes: %w", name, size, ErrTooSmall)
		result.Duration = time.Since(start)
		wp.logger.WarnWithFields("Image is too small and might be corrupted, skipping", map[string]interface{}{
			"name": name,
			"size": size,
		})
		return result
	}

	result.Path = path
	result.Size = size
	result.Duration = time.Since(start)
	wp.logger.DebugWithFields("Image downloaded", map[string]interface{}{
		"worker_id": workerID,
		"index":     job.Index,
		"path":      path,
		"size":      size,
	})
	return result
}

// DownloadAll downloads every record and returns the successful ones, with
// LocalPath set, in their original order. All results, failed ones
// included, are returned sorted by index.
func DownloadAll(ctx context.Context, records []models.ImageRecord, opts Options, client PhotoDownloader, storage PhotoStorage, log logger.Logger) ([]models.ImageRecord, []Result) {
	pool := NewWorkerPool(ctx, opts, client, storage, log)
	pool.Start()

	go func() {
		defer pool.Stop()
		for i, rec := range records {
			if err := pool.Submit(Job{Index: i, Record: rec}); err != nil {
				return
			}
		}
	}()

	results := make([]Result, 0, len(records))
	for r := range pool.Results() {
		if opts.OnResult != nil {
			opts.OnResult(r)
		}
		results = append(results, r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Job.Index < results[j].Job.Index })

	var ok []models.ImageRecord
	for _, r := range results {
		if r.Success() {
			rec := r.Job.Record
			rec.LocalPath = r.Path
			ok = append(ok, rec)
		}
	}
	return ok, results
}
