package destination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"pexelsync/pkg/models"
)

// StoredImage is an image held by the Memory backend
type StoredImage struct {
	Name string
	Link string
	Path string
	Meta map[string]string
}

// Memory is an in-process backend used for dry runs and tests
type Memory struct {
	mu       sync.Mutex
	nextID   int64
	projects map[int64]*Project
	datasets map[int64]*Dataset
	images   map[int64][]StoredImage
}

// NewMemory creates an empty Memory backend
func NewMemory() *Memory {
	return &Memory{
		projects: make(map[int64]*Project),
		datasets: make(map[int64]*Dataset),
		images:   make(map[int64][]StoredImage),
	}
}

func (m *Memory) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *Memory) CreateProject(_ context.Context, workspaceID int64, name string) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	free, _ := UniqueName(name, func(n string) (bool, error) {
		for _, p := range m.projects {
			if p.WorkspaceID == workspaceID && p.Name == n {
				return true, nil
			}
		}
		return false, nil
	})

	p := &Project{ID: m.id(), WorkspaceID: workspaceID, Name: free, CustomData: map[string]interface{}{}, Version: 1}
	m.projects[p.ID] = p
	out := *p
	return &out, nil
}

func (m *Memory) GetProject(_ context.Context, id int64) (*Project, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	out := *p
	out.CustomData = cloneJSON(p.CustomData)
	return &out, nil
}

func (m *Memory) CreateDataset(_ context.Context, projectID int64, name string) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.projects[projectID]; !ok {
		return nil, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	free, _ := UniqueName(name, func(n string) (bool, error) {
		for _, d := range m.datasets {
			if d.ProjectID == projectID && d.Name == n {
				return true, nil
			}
		}
		return false, nil
	})

	d := &Dataset{ID: m.id(), ProjectID: projectID, Name: free}
	m.datasets[d.ID] = d
	out := *d
	return &out, nil
}

func (m *Memory) GetDataset(_ context.Context, id int64) (*Dataset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.datasets[id]
	if !ok {
		return nil, fmt.Errorf("dataset %d: %w", id, ErrNotFound)
	}
	out := *d
	out.ImagesCount = len(m.images[id])
	return &out, nil
}

func (m *Memory) ListImageNames(_ context.Context, datasetID int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.datasets[datasetID]; !ok {
		return nil, fmt.Errorf("dataset %d: %w", datasetID, ErrNotFound)
	}
	names := make([]string, 0, len(m.images[datasetID]))
	for _, img := range m.images[datasetID] {
		names = append(names, img.Name)
	}
	return names, nil
}

func (m *Memory) UploadLinks(_ context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	return m.add(datasetID, records, false)
}

func (m *Memory) UploadPaths(_ context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	return m.add(datasetID, records, true)
}

func (m *Memory) add(datasetID int64, records []models.ImageRecord, files bool) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.datasets[datasetID]; !ok {
		return 0, fmt.Errorf("dataset %d: %w", datasetID, ErrNotFound)
	}

	existing := make(map[string]bool, len(m.images[datasetID]))
	for _, img := range m.images[datasetID] {
		existing[img.Name] = true
	}

	added := 0
	for _, r := range records {
		if existing[r.Name] {
			continue
		}
		if files && r.LocalPath == "" {
			return added, fmt.Errorf("image %s has no local file", r.Name)
		}
		img := StoredImage{Name: r.Name, Link: r.Link, Meta: r.Meta}
		if files {
			img.Path = r.LocalPath
		}
		m.images[datasetID] = append(m.images[datasetID], img)
		existing[r.Name] = true
		added++
	}
	return added, nil
}

func (m *Memory) UpdateCustomData(_ context.Context, projectID int64, data map[string]interface{}, expectedVersion int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	p, ok := m.projects[projectID]
	if !ok {
		return 0, fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	if p.Version != expectedVersion {
		return p.Version, ErrVersionConflict
	}
	p.CustomData = cloneJSON(data)
	p.Version++
	return p.Version, nil
}

// Images returns a copy of what is stored in a dataset
func (m *Memory) Images(datasetID int64) []StoredImage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]StoredImage(nil), m.images[datasetID]...)
}

func (m *Memory) Close() error { return nil }

// cloneJSON deep-copies custom data the way a real backend would see it
// after a round trip
func cloneJSON(in map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if len(in) == 0 {
		return out
	}
	raw, err := json.Marshal(in)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
