package ui

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/internal/downloader"
	"pexelsync/pkg/config"
	"pexelsync/pkg/models"
	"pexelsync/pkg/window"
)

type recordingSender struct {
	titles   []string
	messages []string
}

func (r *recordingSender) Send(title, message string) error {
	r.titles = append(r.titles, title)
	r.messages = append(r.messages, message)
	return nil
}

func TestBar(t *testing.T) {
	assert.Equal(t, "━━━━━─────", Bar(5, 10, 10))
	assert.Equal(t, "──────────", Bar(0, 0, 10))
	assert.Equal(t, "━━━━━━━━━━", Bar(20, 10, 10))
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    int64
		expected string
	}{
		{500, "500 B"},
		{1024, "1.0 KB"},
		{1536, "1.5 KB"},
		{1024 * 1024, "1.0 MB"},
		{5 * 1024 * 1024 * 1024, "5.0 GB"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, FormatBytes(tt.bytes))
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "42s", FormatDuration(42*time.Second))
	assert.Equal(t, "2m5s", FormatDuration(125*time.Second))
	assert.Equal(t, "1h30m", FormatDuration(90*time.Minute))
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf)

	c.Info("Project", "cats")
	c.Error("Upload failed", errors.New("boom"))
	c.Warning("careful")

	out := buf.String()
	assert.Contains(t, out, "Project")
	assert.Contains(t, out, "cats")
	assert.Contains(t, out, "Upload failed: boom")
	assert.Contains(t, out, "careful")
}

func TestPalette(t *testing.T) {
	plain := PaletteFor(&bytes.Buffer{})
	assert.Equal(t, "cats", plain.Cyan("cats"))
	assert.Equal(t, "\033[36mcats\033[0m", Palette{on: true}.Cyan("cats"))

	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()
	assert.Equal(t, Palette{}, PaletteFor(f), "regular files are not terminals")

	t.Setenv("NO_COLOR", "1")
	assert.Equal(t, Palette{}, PaletteFor(os.Stdout))
}

func TestProgressDisplayRun(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, false)

	w, err := window.New(80, 0, 100)
	require.NoError(t, err)

	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	req := models.SearchRequest{Query: "cats", Count: 100, Method: models.MethodFiles}
	p.OnStart("run-1", req, w)
	p.OnPage(1, 80, nil)
	p.OnPage(2, 0, errors.New("page broke"))
	p.OnSearchDone(80, models.Counters{Duplicates: 3, ExistingDuplicates: 2})
	p.OnBatchStart(1, 1, 80)
	p.OnDownload(downloader.Result{Job: downloader.Job{Record: models.ImageRecord{Name: "pexels_1.jpeg"}}, Size: 2048})
	p.OnDownload(downloader.Result{Job: downloader.Job{Record: models.ImageRecord{Name: "pexels_2.jpeg"}}, Error: errors.New("nope")})
	p.OnBatchDone(1, 79, nil)
	p.OnFinish(models.RunSummary{
		Query:       "cats",
		Status:      models.StatusCompleted,
		Uploaded:    79,
		ProjectID:   3,
		ProjectName: "Pexels images: cats",
		DatasetID:   4,
		DatasetName: "ds",
		StartedAt:   start,
		FinishedAt:  start.Add(90 * time.Second),
	})

	out := buf.String()
	assert.NotContains(t, out, "\033[")
	assert.Contains(t, out, `Searching "cats"`)
	assert.Contains(t, out, "80 images accepted")
	assert.Contains(t, out, "3 filtered")
	assert.Contains(t, out, "2 already in dataset")
	assert.Contains(t, out, `Uploaded 79 images for "cats"`)
	assert.Contains(t, out, `project 3 "Pexels images: cats"`)
	assert.Contains(t, out, "1 downloads failed")
	assert.Contains(t, out, "1m30s")
}

func TestProgressDisplayDebug(t *testing.T) {
	var buf bytes.Buffer
	p := NewProgressDisplay(&buf, true)

	p.OnPage(4, 0, errors.New("timeout"))
	p.OnBatchStart(2, 3, 10)
	p.OnBatchDone(2, 0, errors.New("rejected"))

	out := buf.String()
	assert.Contains(t, out, "page 4 skipped: timeout")
	assert.Contains(t, out, "batch 2/3 (10 images)")
	assert.Contains(t, out, "batch 2 failed: rejected")
}

func TestNotifierObserver(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{}
	cfg := config.NotificationConfig{Enabled: true, OnComplete: true, OnError: true, NotificationType: "desktop"}
	obs := NewNotifier(&buf, cfg).WithSender(sender).Observer()

	obs.OnFinish(models.RunSummary{Query: "dogs", Status: models.StatusCompleted, Uploaded: 12, ProjectName: "p", DatasetName: "d"})
	obs.OnFinish(models.RunSummary{Query: "dogs", Status: models.StatusFailed, Error: "boom"})
	obs.OnFinish(models.RunSummary{Query: "dogs", Status: models.StatusCancelled})

	require.Len(t, sender.messages, 2)
	assert.Equal(t, "pexelsync: dogs", sender.titles[0])
	assert.Equal(t, "12 images uploaded to p / d", sender.messages[0])
	assert.Equal(t, "run failed: boom", sender.messages[1])
	assert.Contains(t, buf.String(), "12 images uploaded")
}

func TestNotifierDisabled(t *testing.T) {
	var buf bytes.Buffer
	sender := &recordingSender{}
	n := NewNotifier(&buf, config.NotificationConfig{Enabled: true, OnComplete: true, NotificationType: "none"}).WithSender(sender)

	n.SendSuccess("t", "m")
	n.SendError("t", "m")
	assert.Empty(t, sender.messages)
	assert.Empty(t, buf.String())

	terminal := NewNotifier(&buf, config.NotificationConfig{Enabled: true, OnComplete: true, NotificationType: "terminal"})
	terminal.SendSuccess("done", "ok")
	assert.Contains(t, buf.String(), "done")
}
