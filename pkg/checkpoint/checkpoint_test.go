package checkpoint

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir(), logger.NewNopLogger())
	require.NoError(t, err)
	return m
}

func summary(query string, status models.RunStatus, offset, requested, uploaded int) models.RunSummary {
	return models.RunSummary{
		RunID:     "run-" + string(status),
		Query:     query,
		Status:    status,
		Offset:    offset,
		Requested: requested,
		Uploaded:  uploaded,
		Method:    models.MethodFiles,
		StartedAt: time.Now().Add(-time.Minute),
	}
}

func TestLoadMissing(t *testing.T) {
	m := newManager(t)
	cp, err := m.Load("nothing here")
	require.NoError(t, err)
	assert.Nil(t, cp)
	assert.False(t, m.Exists("nothing here"))
}

func TestRecordAdvancesOnlyOnCompletion(t *testing.T) {
	m := newManager(t)

	cp, err := m.Record(summary("red fox", models.StatusCompleted, 0, 100, 97))
	require.NoError(t, err)
	assert.Equal(t, 100, cp.NextOffset)
	assert.Equal(t, 97, cp.TotalUploaded)

	cp, err = m.Record(summary("red fox", models.StatusCancelled, 100, 50, 10))
	require.NoError(t, err)
	assert.Equal(t, 100, cp.NextOffset, "a cancelled run is retried from the same offset")
	assert.Equal(t, 107, cp.TotalUploaded)

	cp, err = m.Record(summary("red fox", models.StatusNoImages, 100, 50, 0))
	require.NoError(t, err)
	assert.Equal(t, 150, cp.NextOffset)

	loaded, err := m.Load("red fox")
	require.NoError(t, err)
	require.Len(t, loaded.Runs, 3)
	assert.Equal(t, models.StatusNoImages, loaded.LastRun().Status)
	assert.False(t, loaded.CreatedAt.IsZero())
	assert.Equal(t, fileVersion, loaded.Version)
}

func TestRecordKeepsLastTarget(t *testing.T) {
	m := newManager(t)
	s := summary("owls", models.StatusCompleted, 0, 10, 10)
	s.ProjectID, s.DatasetID, s.DatasetName = 3, 9, "night"

	_, err := m.Record(s)
	require.NoError(t, err)
	cp, err := m.Record(summary("owls", models.StatusNoImages, 10, 10, 0))
	require.NoError(t, err)

	assert.Equal(t, int64(3), cp.LastTarget.ProjectID)
	assert.Equal(t, int64(9), cp.LastTarget.DatasetID)
}

func TestRunHistoryIsBounded(t *testing.T) {
	m := newManager(t)
	var cp *Checkpoint
	var err error
	for i := 0; i < MaxRuns+5; i++ {
		cp, err = m.Record(summary("q", models.StatusCompleted, i, 1, 1))
		require.NoError(t, err)
	}
	assert.Len(t, cp.Runs, MaxRuns)
	assert.Equal(t, 5, cp.Runs[0].Offset)
}

func TestFileName(t *testing.T) {
	a := FileName("Red Fox!")
	b := FileName("red fox")
	assert.True(t, strings.HasPrefix(a, "red-fox-"))
	assert.NotEqual(t, a, b, "different queries never share a file")
	assert.Equal(t, a, FileName("Red Fox!"))
	assert.True(t, strings.HasPrefix(FileName("???"), "query-"))
	assert.NotContains(t, FileName("../../etc/passwd"), "/")
}

func TestListAndDelete(t *testing.T) {
	m := newManager(t)
	_, err := m.Record(summary("first", models.StatusCompleted, 0, 1, 1))
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	_, err = m.Record(summary("second", models.StatusCompleted, 0, 1, 1))
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), "broken.checkpoint.json"), []byte("{"), 0644))

	all, err := m.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "second", all[0].Query)

	require.NoError(t, m.Delete("first"))
	require.NoError(t, m.Delete("first"))
	assert.False(t, m.Exists("first"))
}
