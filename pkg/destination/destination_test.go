package destination

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
)

func TestUniqueName(t *testing.T) {
	taken := map[string]bool{"cats": true, "cats_001": true}
	name, err := UniqueName("cats", func(n string) (bool, error) { return taken[n], nil })
	require.NoError(t, err)
	assert.Equal(t, "cats_002", name)

	name, err = UniqueName("dogs", func(n string) (bool, error) { return taken[n], nil })
	require.NoError(t, err)
	assert.Equal(t, "dogs", name)

	_, err = UniqueName("x", func(string) (bool, error) { return false, errors.New("db down") })
	assert.Error(t, err)
}

func TestDefaultNames(t *testing.T) {
	now := time.Date(2024, 3, 9, 7, 5, 0, 0, time.UTC)
	assert.Equal(t, "Pexels images: red fox", DefaultProjectName("red fox"))
	assert.Equal(t, "2024-03-09 07:05 (red fox)", DefaultDatasetName("red fox", now))
}

func TestMergeRunSummaryPreservesOtherKeys(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	custom := map[string]interface{}{
		"owner": "team-a",
		CustomDataKey: map[string]interface{}{
			"cats": map[string]interface{}{"2023/12/31 00:00:00": map[string]interface{}{"Number of images": 3}},
			"dogs": map[string]interface{}{},
		},
	}
	s := models.RunSummary{Query: "cats", Offset: 40, Uploaded: 12, Method: models.MethodLinks, DatasetName: "ds"}

	merged := MergeRunSummary(custom, s, at)

	assert.Equal(t, "team-a", merged["owner"])
	runs := merged[CustomDataKey].(map[string]interface{})
	assert.Contains(t, runs, "dogs")
	cats := runs["cats"].(map[string]interface{})
	assert.Len(t, cats, 2)
	assert.Equal(t, map[string]interface{}{
		"Dataset name":         "ds",
		"Upload method":        "uploaded as links",
		"Search images offset": 40,
		"Number of images":     12,
	}, cats["2024/01/02 03:04:05"])

	// the input is left alone
	assert.Len(t, custom[CustomDataKey].(map[string]interface{})["cats"], 1)
}

func TestMergeRunSummaryReplacesForeignShape(t *testing.T) {
	merged := MergeRunSummary(map[string]interface{}{CustomDataKey: "garbage"}, models.RunSummary{Query: "q"}, time.Now())
	runs, ok := merged[CustomDataKey].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, runs, "q")
}

// racyBackend bumps the project version behind the caller's back a given
// number of times
type racyBackend struct {
	*Memory
	conflicts int
}

func (r *racyBackend) UpdateCustomData(ctx context.Context, id int64, data map[string]interface{}, v int64) (int64, error) {
	if r.conflicts > 0 {
		r.conflicts--
		p, _ := r.Memory.GetProject(ctx, id)
		extra := p.CustomData
		extra["other writer"] = r.conflicts
		_, _ = r.Memory.UpdateCustomData(ctx, id, extra, p.Version)
	}
	return r.Memory.UpdateCustomData(ctx, id, data, v)
}

func TestSaveRunSummaryRetriesConflicts(t *testing.T) {
	ctx := context.Background()
	b := &racyBackend{Memory: NewMemory(), conflicts: 2}
	p, err := b.CreateProject(ctx, 1, "proj")
	require.NoError(t, err)

	log := logger.NewTestLogger()
	s := models.RunSummary{Query: "cats", ProjectID: p.ID, Uploaded: 5, Method: models.MethodFiles}
	require.NoError(t, SaveRunSummary(ctx, b, s, time.Now(), log))

	got, err := b.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Contains(t, got.CustomData, "other writer")
	assert.Contains(t, got.CustomData[CustomDataKey], "cats")
	assert.Len(t, log.GetMessagesByLevel("WARN"), 2)
}

func TestSaveRunSummaryGivesUp(t *testing.T) {
	ctx := context.Background()
	b := &racyBackend{Memory: NewMemory(), conflicts: MaxMergeAttempts}
	p, _ := b.CreateProject(ctx, 1, "proj")

	err := SaveRunSummary(ctx, b, models.RunSummary{Query: "q", ProjectID: p.ID}, time.Now(), logger.NewNopLogger())
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestSaveRunSummaryMissingProject(t *testing.T) {
	err := SaveRunSummary(context.Background(), NewMemory(), models.RunSummary{ProjectID: 99}, time.Now(), logger.NewNopLogger())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	p1, _ := m.CreateProject(ctx, 7, "Pexels images: cats")
	p2, _ := m.CreateProject(ctx, 7, "Pexels images: cats")
	p3, _ := m.CreateProject(ctx, 8, "Pexels images: cats")
	assert.Equal(t, "Pexels images: cats", p1.Name)
	assert.Equal(t, "Pexels images: cats_001", p2.Name)
	assert.Equal(t, "Pexels images: cats", p3.Name)

	ds, err := m.CreateDataset(ctx, p1.ID, "ds")
	require.NoError(t, err)
	_, err = m.CreateDataset(ctx, 404, "ds")
	assert.ErrorIs(t, err, ErrNotFound)

	recs := []models.ImageRecord{
		{Name: "pexels_1.jpeg", Link: "https://x/1.jpeg"},
		{Name: "pexels_2.png", Link: "https://x/2.png"},
	}
	n, err := m.UploadLinks(ctx, ds.ID, recs)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = m.UploadLinks(ctx, ds.ID, recs[:1])
	require.NoError(t, err)
	assert.Equal(t, 0, n, "names already in the dataset are not added twice")

	_, err = m.UploadPaths(ctx, ds.ID, []models.ImageRecord{{Name: "pexels_3.jpg"}})
	assert.Error(t, err)

	names, err := m.ListImageNames(ctx, ds.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"pexels_1.jpeg", "pexels_2.png"}, names)

	got, _ := m.GetDataset(ctx, ds.ID)
	assert.Equal(t, 2, got.ImagesCount)

	v, err := m.UpdateCustomData(ctx, p1.ID, map[string]interface{}{"a": 1}, p1.Version)
	require.NoError(t, err)
	assert.Equal(t, p1.Version+1, v)
	_, err = m.UpdateCustomData(ctx, p1.ID, map[string]interface{}{"a": 2}, p1.Version)
	assert.ErrorIs(t, err, ErrVersionConflict)
}
