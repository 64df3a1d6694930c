package destination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
)

const (
	// CustomDataKey is the top-level key runs are recorded under
	CustomDataKey = "Pexels downloader"
	// TimestampLayout formats the per-run key
	TimestampLayout = "2006/01/02 15:04:05"
	// MaxMergeAttempts bounds the read-merge-write loop
	MaxMergeAttempts = 5
)

// SummaryEntry is the record stored for one run
func SummaryEntry(s models.RunSummary) map[string]interface{} {
	return map[string]interface{}{
		"Dataset name":         s.DatasetName,
		"Upload method":        fmt.Sprintf("uploaded as %s", s.Method),
		"Search images offset": s.Offset,
		"Number of images":     s.Uploaded,
	}
}

// MergeRunSummary returns a copy of custom with the run added under
// custom[CustomDataKey][query][timestamp]. Everything else is preserved.
func MergeRunSummary(custom map[string]interface{}, s models.RunSummary, at time.Time) map[string]interface{} {
	out := make(map[string]interface{}, len(custom)+1)
	for k, v := range custom {
		out[k] = v
	}

	runs := copyMap(out[CustomDataKey])
	byQuery := copyMap(runs[s.Query])
	byQuery[at.Format(TimestampLayout)] = SummaryEntry(s)

	runs[s.Query] = byQuery
	out[CustomDataKey] = runs
	return out
}

func copyMap(v interface{}) map[string]interface{} {
	src, _ := v.(map[string]interface{})
	out := make(map[string]interface{}, len(src)+1)
	for k, v := range src {
		out[k] = v
	}
	return out
}

// SaveRunSummary merges s into the project's custom data. A concurrent
// update makes it re-read and retry, up to MaxMergeAttempts times.
func SaveRunSummary(ctx context.Context, b Backend, s models.RunSummary, at time.Time, log logger.Logger) error {
	if log == nil {
		log = logger.GetLogger()
	}

	for attempt := 1; attempt <= MaxMergeAttempts; attempt++ {
		project, err := b.GetProject(ctx, s.ProjectID)
		if err != nil {
			return fmt.Errorf("failed to read project %d: %w", s.ProjectID, err)
		}

		merged := MergeRunSummary(project.CustomData, s, at)
		_, err = b.UpdateCustomData(ctx, project.ID, merged, project.Version)
		if err == nil {
			log.DebugWithFields("Run summary saved to project custom data", map[string]interface{}{
				"project_id": project.ID,
				"query":      s.Query,
				"attempt":    attempt,
			})
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return fmt.Errorf("failed to update custom data: %w", err)
		}

		log.WarnWithFields("Custom data changed concurrently, retrying", map[string]interface{}{
			"project_id": project.ID,
			"attempt":    attempt,
		})
	}

	return fmt.Errorf("giving up after %d attempts: %w", MaxMergeAttempts, ErrVersionConflict)
}
