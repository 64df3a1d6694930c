package checkpoint

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	"pexelsync/pkg/config"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
)

// MaxRuns is how many past runs a checkpoint remembers
const MaxRuns = 50

const fileVersion = 1

// RunEntry is the part of a run summary a checkpoint keeps
type RunEntry struct {
	RunID       string           `json:"run_id"`
	Status      models.RunStatus `json:"status"`
	Offset      int              `json:"offset"`
	Requested   int              `json:"requested"`
	Uploaded    int              `json:"uploaded"`
	Method      string           `json:"method"`
	ProjectID   int64            `json:"project_id,omitempty"`
	DatasetID   int64            `json:"dataset_id,omitempty"`
	DatasetName string           `json:"dataset_name,omitempty"`
	StartedAt   time.Time        `json:"started_at"`
	FinishedAt  time.Time        `json:"finished_at"`
}

// Checkpoint is the resume state of one search query
type Checkpoint struct {
	Query string `json:"query"`
	// NextOffset is where the next run for the query should start
	NextOffset    int           `json:"next_offset"`
	TotalUploaded int           `json:"total_uploaded"`
	LastTarget    models.Target `json:"last_target"`
	Runs          []RunEntry    `json:"runs"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
	Version       int           `json:"version"`
}

// LastRun returns the most recent run, or nil
func (c *Checkpoint) LastRun() *RunEntry {
	if len(c.Runs) == 0 {
		return nil
	}
	return &c.Runs[len(c.Runs)-1]
}

// Manager handles checkpoint files, one per query
type Manager struct {
	dir    string
	logger logger.Logger
}

// NewManager stores checkpoints in dir, or in the data directory's
// checkpoints folder when dir is empty
func NewManager(dir string, log logger.Logger) (*Manager, error) {
	if dir == "" {
		dir = filepath.Join(config.DataDir(), "checkpoints")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoints directory: %w", err)
	}
	if log == nil {
		log = logger.GetLogger()
	}
	return &Manager{dir: dir, logger: log}, nil
}

// Dir returns the checkpoints directory
func (m *Manager) Dir() string {
	return m.dir
}

func (m *Manager) path(query string) string {
	return filepath.Join(m.dir, FileName(query))
}

// FileName maps a query to a stable, filesystem-safe file name
func FileName(query string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(query)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case b.Len() > 0 && !strings.HasSuffix(b.String(), "-"):
			b.WriteByte('-')
		}
		if b.Len() >= 40 {
			break
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		slug = "query"
	}
	sum := sha1.Sum([]byte(query))
	return fmt.Sprintf("%s-%s.checkpoint.json", slug, hex.EncodeToString(sum[:4]))
}

// Load returns the checkpoint for query, or nil if there is none
func (m *Manager) Load(query string) (*Checkpoint, error) {
	return m.load(m.path(query))
}

func (m *Manager) load(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("failed to decode checkpoint %s: %w", filepath.Base(path), err)
	}
	return &cp, nil
}

// Save writes the checkpoint atomically
func (m *Manager) Save(cp *Checkpoint) error {
	cp.UpdatedAt = time.Now()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = cp.UpdatedAt
	}
	cp.Version = fileVersion

	final := m.path(cp.Query)
	file, err := os.CreateTemp(m.dir, ".checkpoint-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary checkpoint file: %w", err)
	}
	tempPath := file.Name()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(cp); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync checkpoint file: %w", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to close checkpoint file: %w", err)
	}
	if err := os.Rename(tempPath, final); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}

	m.logger.DebugWithFields("Checkpoint saved", map[string]interface{}{
		"query":       cp.Query,
		"next_offset": cp.NextOffset,
		"runs":        len(cp.Runs),
	})
	return nil
}

// Record adds a finished run to its query's checkpoint. Only completed
// runs, and runs that found nothing, move NextOffset forward.
func (m *Manager) Record(s models.RunSummary) (*Checkpoint, error) {
	cp, err := m.Load(s.Query)
	if err != nil {
		return nil, err
	}
	if cp == nil {
		cp = &Checkpoint{Query: s.Query}
	}

	cp.Runs = append(cp.Runs, RunEntry{
		RunID:       s.RunID,
		Status:      s.Status,
		Offset:      s.Offset,
		Requested:   s.Requested,
		Uploaded:    s.Uploaded,
		Method:      string(s.Method),
		ProjectID:   s.ProjectID,
		DatasetID:   s.DatasetID,
		DatasetName: s.DatasetName,
		StartedAt:   s.StartedAt,
		FinishedAt:  s.FinishedAt,
	})
	if len(cp.Runs) > MaxRuns {
		cp.Runs = cp.Runs[len(cp.Runs)-MaxRuns:]
	}
	cp.TotalUploaded += s.Uploaded

	switch s.Status {
	case models.StatusCompleted, models.StatusNoImages:
		if next := s.Offset + s.Requested; next > cp.NextOffset {
			cp.NextOffset = next
		}
	}
	if s.ProjectID != 0 {
		cp.LastTarget = models.Target{ProjectID: s.ProjectID, DatasetID: s.DatasetID, ProjectName: s.ProjectName, DatasetName: s.DatasetName}
	}

	if err := m.Save(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

// Delete removes the checkpoint of query
func (m *Manager) Delete(query string) error {
	if err := os.Remove(m.path(query)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	m.logger.InfoWithFields("Checkpoint deleted", map[string]interface{}{"query": query})
	return nil
}

// Exists checks if query has a checkpoint
func (m *Manager) Exists(query string) bool {
	_, err := os.Stat(m.path(query))
	return err == nil
}

// List returns every checkpoint, most recently updated first. Unreadable
// files are logged and skipped.
func (m *Manager) List() ([]*Checkpoint, error) {
	paths, err := filepath.Glob(filepath.Join(m.dir, "*.checkpoint.json"))
	if err != nil {
		return nil, err
	}

	var out []*Checkpoint
	for _, p := range paths {
		cp, err := m.load(p)
		if err != nil {
			m.logger.WarnWithFields("Skipping unreadable checkpoint", map[string]interface{}{
				"file":  filepath.Base(p),
				"error": err.Error(),
			})
			continue
		}
		if cp != nil {
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
