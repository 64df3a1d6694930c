package destination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pexelsync/pkg/models"
)

var (
	// ErrNotFound is returned when a project or dataset does not exist
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned by UpdateCustomData when the project
	// changed since it was read
	ErrVersionConflict = errors.New("custom data was modified concurrently")
)

// Project is a destination project. Version increases with every custom
// data update on backends that track it.
type Project struct {
	ID          int64                  `json:"id"`
	WorkspaceID int64                  `json:"workspace_id"`
	Name        string                 `json:"name"`
	CustomData  map[string]interface{} `json:"custom_data"`
	Version     int64                  `json:"version"`
}

// Dataset is a named group of images inside a project
type Dataset struct {
	ID          int64  `json:"id"`
	ProjectID   int64  `json:"project_id"`
	Name        string `json:"name"`
	ImagesCount int    `json:"images_count"`
}

// Backend is an image-management destination
type Backend interface {
	// CreateProject creates a project, renaming it if name is taken
	CreateProject(ctx context.Context, workspaceID int64, name string) (*Project, error)
	GetProject(ctx context.Context, id int64) (*Project, error)
	// CreateDataset creates a dataset, renaming it if name is taken
	CreateDataset(ctx context.Context, projectID int64, name string) (*Dataset, error)
	GetDataset(ctx context.Context, id int64) (*Dataset, error)
	ListImageNames(ctx context.Context, datasetID int64) ([]string, error)
	// UploadLinks registers records by link. It returns how many were added.
	UploadLinks(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error)
	// UploadPaths uploads the files at each record's LocalPath
	UploadPaths(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error)
	// UpdateCustomData replaces the project custom data if the project is
	// still at expectedVersion, and returns the new version
	UpdateCustomData(ctx context.Context, projectID int64, data map[string]interface{}, expectedVersion int64) (int64, error)
	Close() error
}

// UniqueName returns name, or name_001, name_002 and so on, whichever is
// first not taken
func UniqueName(name string, taken func(string) (bool, error)) (string, error) {
	candidate := name
	for i := 1; ; i++ {
		used, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !used {
			return candidate, nil
		}
		if i > 9999 {
			return "", fmt.Errorf("no free name for %q", name)
		}
		candidate = fmt.Sprintf("%s_%03d", name, i)
	}
}

// DefaultProjectName names a project created for query
func DefaultProjectName(query string) string {
	return "Pexels images: " + query
}

// DefaultDatasetName names a dataset created for query at now
func DefaultDatasetName(query string, now time.Time) string {
	return fmt.Sprintf("%s (%s)", now.Format("2006-01-02 15:04"), query)
}
