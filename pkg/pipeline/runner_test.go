package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/internal/downloader"
	"pexelsync/pkg/checkpoint"
	"pexelsync/pkg/destination"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/manifest"
	"pexelsync/pkg/metadata"
	"pexelsync/pkg/metrics"
	"pexelsync/pkg/models"
	"pexelsync/pkg/pexels"
	"pexelsync/pkg/window"
)

type fakeProvider struct {
	mu        sync.Mutex
	total     int
	failPages map[int]bool
	tiny      map[int64]bool
	pages     []int
	onSearch  func(page int)
}

func photoLink(id int64) string {
	return fmt.Sprintf("https://images.pexels.com/photos/%d/pexels-photo-%d.jpeg", id, id)
}

func (f *fakeProvider) Search(_ context.Context, query string, page, perPage int) (*pexels.SearchResponse, error) {
	f.mu.Lock()
	f.pages = append(f.pages, page)
	hook := f.onSearch
	f.mu.Unlock()
	if hook != nil {
		hook(page)
	}

	if f.failPages[page] {
		return nil, errors.New("upstream returned 502")
	}

	resp := &pexels.SearchResponse{TotalResults: f.total, Page: page, PerPage: perPage}
	for i := (page - 1) * perPage; i < page*perPage && i < f.total; i++ {
		id := int64(i + 1)
		resp.Photos = append(resp.Photos, pexels.Photo{
			ID:           id,
			URL:          fmt.Sprintf("https://www.pexels.com/photo/%d/", id),
			Photographer: "Jane Doe",
			Src:          map[string]string{"original": photoLink(id)},
		})
	}
	return resp, nil
}

func (f *fakeProvider) DownloadPhoto(_ context.Context, url string) ([]byte, error) {
	var id int64
	fmt.Sscanf(url, "https://images.pexels.com/photos/%d/", &id)
	if f.tiny[id] {
		return []byte("x"), nil
	}
	return bytes.Repeat([]byte{1}, 2048), nil
}

type recorder struct {
	NopObserver
	mu       sync.Mutex
	events   []string
	onSearch func()
	onBatch  func(number int)
}

func (r *recorder) add(e string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) OnStart(string, models.SearchRequest, window.Window) { r.add("start") }
func (r *recorder) OnPage(page, accepted int, err error) {
	r.add(fmt.Sprintf("page %d: %d err=%v", page, accepted, err != nil))
}
func (r *recorder) OnSearchDone(int, models.Counters) {
	r.add("search done")
	if r.onSearch != nil {
		r.onSearch()
	}
}
func (r *recorder) OnBatchStart(n, total, size int) {
	r.add(fmt.Sprintf("batch %d/%d (%d)", n, total, size))
}
func (r *recorder) OnBatchDone(n, uploaded int, err error) {
	r.add(fmt.Sprintf("batch %d done: %d", n, uploaded))
	if r.onBatch != nil {
		r.onBatch(n)
	}
}
func (r *recorder) OnDownload(downloader.Result) {}
func (r *recorder) OnFinish(s models.RunSummary) { r.add("finish " + string(s.Status)) }

var fixedNow = time.Date(2024, 6, 1, 12, 30, 0, 0, time.UTC)

func newRunner(t *testing.T, p Provider, b destination.Backend, opts ...Option) *Runner {
	t.Helper()
	base := []Option{
		WithLogger(logger.NewNopLogger()),
		WithClock(func() time.Time { return fixedNow }),
		WithPageSize(80),
	}
	return NewRunner(p, b, append(base, opts...)...)
}

func linksRequest(query string, count, offset int) models.SearchRequest {
	req := models.NewSearchRequest(query, count, offset)
	req.Method = models.MethodLinks
	req.Workers = 2
	return req
}

func TestRunLinksCreatesProjectAndDataset(t *testing.T) {
	ctx := context.Background()
	mem := destination.NewMemory()
	rec := &recorder{}
	p := &fakeProvider{total: 500}

	req := linksRequest("red fox", 100, 10)
	req.BatchSize = 40
	sum, err := newRunner(t, p, mem, WithObserver(rec)).Run(ctx, req, models.Target{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCompleted, sum.Status)
	assert.Equal(t, 100, sum.Accepted)
	assert.Equal(t, 100, sum.Uploaded)
	assert.Equal(t, []int{1, 2}, p.pages)
	assert.Equal(t, "Pexels images: red fox", sum.ProjectName)
	assert.Equal(t, "2024-06-01 12:30 (red fox)", sum.DatasetName)
	assert.Equal(t, "Successfully uploaded 100 images.", sum.Message())

	images := mem.Images(sum.DatasetID)
	require.Len(t, images, 100)
	assert.Equal(t, "pexels_11.jpeg", images[0].Name)
	assert.Equal(t, "pexels_110.jpeg", images[99].Name)
	assert.Equal(t, metadata.LicenseValue, images[0].Meta["License"])

	assert.Equal(t, []string{
		"start", "page 1: 70 err=false", "page 2: 30 err=false", "search done",
		"batch 1/3 (40)", "batch 1 done: 40", "batch 2/3 (40)", "batch 2 done: 40",
		"batch 3/3 (20)", "batch 3 done: 20", "finish completed",
	}, rec.events)

	project, err := mem.GetProject(ctx, sum.ProjectID)
	require.NoError(t, err)
	runs := project.CustomData[destination.CustomDataKey].(map[string]interface{})["red fox"].(map[string]interface{})
	entry := runs["2024/06/01 12:30:00"].(map[string]interface{})
	assert.Equal(t, "uploaded as links", entry["Upload method"])
	assert.Equal(t, float64(10), entry["Search images offset"])
	assert.Equal(t, float64(100), entry["Number of images"])
}

func TestRunFilesDropsUndersizedAndCleansUp(t *testing.T) {
	mem := destination.NewMemory()
	work := t.TempDir()
	p := &fakeProvider{total: 50, tiny: map[int64]bool{3: true, 17: true}}

	req := models.NewSearchRequest("owls", 20, 0)
	req.BatchSize = 8
	req.Workers = 3
	r := newRunner(t, p, mem, WithUploadSettings(configUpload(work)))

	sum, err := r.Run(context.Background(), req, models.Target{})
	require.NoError(t, err)
	assert.Equal(t, 20, sum.Accepted)
	assert.Equal(t, 18, sum.Uploaded)

	images := mem.Images(sum.DatasetID)
	require.Len(t, images, 18)
	for _, img := range images {
		assert.NotEmpty(t, img.Path)
		assert.NotEqual(t, "pexels_3.jpeg", img.Name)
	}

	entries, err := os.ReadDir(work)
	require.NoError(t, err)
	assert.Empty(t, entries, "work directory is removed after the run")
}

func TestRunSkipsFailedPages(t *testing.T) {
	p := &fakeProvider{total: 500, failPages: map[int]bool{2: true}}
	m := metrics.New()

	sum, err := newRunner(t, p, destination.NewMemory(), WithMetrics(m)).Run(context.Background(), linksRequest("cats", 200, 0), models.Target{})
	require.NoError(t, err)

	assert.True(t, sum.PageErrors)
	assert.Equal(t, []int{1, 2, 3}, p.pages)
	assert.Equal(t, 120, sum.Accepted)
	assert.Equal(t, models.PageErrorWarning, sum.PageErrorMessage())
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PageErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Runs.WithLabelValues("completed")))
	assert.Equal(t, 120.0, testutil.ToFloat64(m.ImagesUploaded.WithLabelValues("links")))
}

func TestRunNoImages(t *testing.T) {
	ctx := context.Background()
	mem := destination.NewMemory()

	sum, err := newRunner(t, &fakeProvider{total: 0}, mem).Run(ctx, linksRequest("zzzz", 10, 0), models.Target{})
	assert.ErrorIs(t, err, ErrNoImages)
	assert.Equal(t, models.StatusNoImages, sum.Status)
	assert.Equal(t, "No images found for this query.", sum.Message())

	_, err = mem.GetProject(ctx, 1)
	assert.ErrorIs(t, err, destination.ErrNotFound, "no project is created")
}

func TestRunInvalidRequest(t *testing.T) {
	req := linksRequest("", 0, 0)
	sum, err := newRunner(t, &fakeProvider{}, destination.NewMemory()).Run(context.Background(), req, models.Target{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please, enter the search query.")
	assert.Equal(t, models.StatusFailed, sum.Status)
}

func TestCancelBeforeFirstBatchCreatesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := destination.NewMemory()
	rec := &recorder{onSearch: cancel}

	sum, err := newRunner(t, &fakeProvider{total: 100}, mem, WithObserver(rec)).Run(ctx, linksRequest("dogs", 50, 0), models.Target{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, sum.Status)
	assert.Equal(t, 0, sum.Uploaded)
	assert.Equal(t, "Download was cancelled. No images were uploaded.", sum.Message())
	_, err = mem.GetProject(ctx, 1)
	assert.ErrorIs(t, err, destination.ErrNotFound)
}

func TestCancelAfterFirstBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := destination.NewMemory()
	rec := &recorder{onBatch: func(n int) {
		if n == 1 {
			cancel()
		}
	}}

	req := linksRequest("dogs", 90, 0)
	req.BatchSize = 30
	sum, err := newRunner(t, &fakeProvider{total: 500}, mem, WithObserver(rec)).Run(ctx, req, models.Target{})
	require.NoError(t, err)

	assert.Equal(t, models.StatusCancelled, sum.Status)
	assert.Equal(t, 30, sum.Uploaded)
	assert.Equal(t, "Download was cancelled after uploading 30 images.", sum.Message())
	assert.NotContains(t, rec.events, "batch 2/3 (30)")
	assert.Len(t, mem.Images(sum.DatasetID), 30)

	project, err := mem.GetProject(context.Background(), sum.ProjectID)
	require.NoError(t, err)
	assert.Contains(t, project.CustomData[destination.CustomDataKey], "dogs", "the summary is saved after cancellation")
}

func TestCancelDuringSearchStopsPaging(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := &fakeProvider{total: 1000}
	p.onSearch = func(page int) {
		if page == 2 {
			cancel()
		}
	}

	sum, err := newRunner(t, p, destination.NewMemory()).Run(ctx, linksRequest("birds", 400, 0), models.Target{})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, p.pages, "the in-flight page completes, no further pages are fetched")
	assert.Equal(t, models.StatusCancelled, sum.Status)
	assert.Zero(t, sum.ProjectID)
}

func TestRunIntoExistingDataset(t *testing.T) {
	ctx := context.Background()
	mem := destination.NewMemory()
	project, _ := mem.CreateProject(ctx, 0, "mine")
	ds, _ := mem.CreateDataset(ctx, project.ID, "already here")
	_, err := mem.UploadLinks(ctx, ds.ID, []models.ImageRecord{
		{Name: "pexels_1.jpeg", Link: photoLink(1)},
		{Name: "pexels_2.png", Link: "https://elsewhere/2.png"},
	})
	require.NoError(t, err)

	sum, err := newRunner(t, &fakeProvider{total: 100}, mem).Run(ctx, linksRequest("cats", 10, 0), models.Target{DatasetID: ds.ID})
	require.NoError(t, err)

	assert.Equal(t, 2, sum.Counters.ExistingDuplicates)
	assert.Equal(t, 8, sum.Uploaded)
	assert.Equal(t, project.ID, sum.ProjectID)
	assert.Equal(t, "already here", sum.DatasetName)
	assert.Equal(t, "Images filtered out as duplicates in the dataset: 2.", sum.DuplicatesMessage())
	assert.Len(t, mem.Images(ds.ID), 10)
}

// flakyBackend fails selected upload batches
type flakyBackend struct {
	*destination.Memory
	mu    sync.Mutex
	calls int
	fail  map[int]bool
}

func (f *flakyBackend) UploadLinks(ctx context.Context, id int64, recs []models.ImageRecord) (int, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	if f.fail[call] {
		return 0, errors.New("service unavailable")
	}
	return f.Memory.UploadLinks(ctx, id, recs)
}

func TestFailedBatchDoesNotStopTheRun(t *testing.T) {
	b := &flakyBackend{Memory: destination.NewMemory(), fail: map[int]bool{2: true}}
	req := linksRequest("cats", 30, 0)
	req.BatchSize = 10

	sum, err := newRunner(t, &fakeProvider{total: 100}, b).Run(context.Background(), req, models.Target{})
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, sum.Status)
	assert.Equal(t, 20, sum.Uploaded)
	assert.True(t, strings.Contains(sum.Error, "batch 2"))
}

func TestEveryBatchFailing(t *testing.T) {
	b := &flakyBackend{Memory: destination.NewMemory(), fail: map[int]bool{1: true, 2: true}}
	req := linksRequest("cats", 20, 0)
	req.BatchSize = 10

	sum, err := newRunner(t, &fakeProvider{total: 100}, b).Run(context.Background(), req, models.Target{})
	require.Error(t, err)
	assert.Equal(t, models.StatusFailed, sum.Status)
	assert.Equal(t, 0, sum.Uploaded)
}

func TestRunRecordsCheckpointAndManifest(t *testing.T) {
	cps, err := checkpoint.NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	manifests := t.TempDir()

	r := newRunner(t, &fakeProvider{total: 300}, destination.NewMemory(),
		WithCheckpoints(cps), WithManifestDir(manifests))
	sum, err := r.RunWithID(context.Background(), "run-1", linksRequest("lakes", 25, 5), models.Target{})
	require.NoError(t, err)

	cp, err := cps.Load("lakes")
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, 30, cp.NextOffset)
	assert.Equal(t, "run-1", cp.LastRun().RunID)
	assert.Equal(t, sum.DatasetID, cp.LastTarget.DatasetID)

	rows, err := manifest.Read(filepath.Join(manifests, manifest.FileName("run-1")))
	require.NoError(t, err)
	require.Len(t, rows, 25)
	assert.Equal(t, "pexels_6.jpeg", rows[0].Name)
}

func TestMultiObserverFansOut(t *testing.T) {
	a, b := &recorder{}, &recorder{}
	m := MultiObserver{a, b}
	m.OnStart("x", models.SearchRequest{}, window.Window{})
	m.OnFinish(models.RunSummary{Status: models.StatusCompleted})
	assert.Equal(t, a.events, b.events)
	assert.Len(t, a.events, 2)
}

func TestRunWithObserverOnlySeesItsRun(t *testing.T) {
	shared, own := &recorder{}, &recorder{}
	r := newRunner(t, &fakeProvider{total: 5}, destination.NewMemory(), WithObserver(shared))

	_, err := r.RunWithObserver(context.Background(), "run-a", linksRequest("cats", 5, 0), models.Target{}, own)
	require.NoError(t, err)
	_, err = r.RunWithID(context.Background(), "run-b", linksRequest("dogs", 5, 0), models.Target{})
	require.NoError(t, err)

	assert.Equal(t, "start", own.events[0])
	assert.Equal(t, "finish completed", own.events[len(own.events)-1])
	assert.Len(t, shared.events, 2*len(own.events))
}
