// Package manifest exports the images a run accepted as a Parquet file,
// one row per image, for later auditing or bulk analysis.
package manifest

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"pexelsync/pkg/models"
)

// Row is one image of a run
type Row struct {
	RunID     string `parquet:"run_id"`
	Query     string `parquet:"query"`
	Index     int64  `parquet:"index"`
	Name      string `parquet:"name"`
	Link      string `parquet:"link"`
	Method    string `parquet:"method"`
	ProjectID int64  `parquet:"project_id"`
	DatasetID int64  `parquet:"dataset_id"`
	// Meta is the projected metadata, JSON encoded
	Meta string `parquet:"meta"`
}

// Metadata decodes Meta
func (r Row) Metadata() (map[string]string, error) {
	out := map[string]string{}
	if r.Meta == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(r.Meta), &out); err != nil {
		return nil, fmt.Errorf("row %d has malformed metadata: %w", r.Index, err)
	}
	return out, nil
}

// Rows builds the manifest rows of a run
func Rows(s models.RunSummary, records []models.ImageRecord) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		meta, err := json.Marshal(rec.Meta)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata of %s: %w", rec.Name, err)
		}
		rows = append(rows, Row{
			RunID:     s.RunID,
			Query:     s.Query,
			Index:     int64(rec.Index),
			Name:      rec.Name,
			Link:      rec.Link,
			Method:    string(s.Method),
			ProjectID: s.ProjectID,
			DatasetID: s.DatasetID,
			Meta:      string(meta),
		})
	}
	return rows, nil
}

// Write stores rows at path, replacing any existing file atomically
func Write(path string, rows []Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create manifest directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".manifest-*.parquet")
	if err != nil {
		return fmt.Errorf("failed to create manifest file: %w", err)
	}

	w := parquet.NewGenericWriter[Row](tmp)
	if _, err := w.Write(rows); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write manifest rows: %w", err)
	}
	if err := w.Close(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to finish manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to close manifest: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to move manifest into place: %w", err)
	}
	return nil
}

// Read loads every row of the manifest at path
func Read(path string) ([]Row, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open manifest: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat manifest: %w", err)
	}

	pf, err := parquet.OpenFile(file, info.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet: %w", err)
	}

	reader := parquet.NewGenericReader[Row](pf)
	defer reader.Close()

	out := make([]Row, 0, pf.NumRows())
	buf := make([]Row, 128)
	for {
		n, err := reader.Read(buf)
		out = append(out, buf[:n]...)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read manifest rows: %w", err)
		}
	}
}

// FileName is the default manifest name for a run
func FileName(runID string) string {
	return fmt.Sprintf("manifest-%s.parquet", runID)
}
