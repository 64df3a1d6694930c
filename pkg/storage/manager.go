package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Manager owns the working directory of one run. Downloaded images live
// there until they are uploaded, then the whole directory is removed.
type Manager struct {
	dir   string
	saved map[string]int64
	mu    sync.RWMutex
}

// NewManager creates the run directory. With an empty baseDir a fresh
// directory under the system temp dir is used.
func NewManager(baseDir, runID string) (*Manager, error) {
	var dir string
	if baseDir == "" {
		d, err := os.MkdirTemp("", "pexelsync-"+safeName(runID)+"-")
		if err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
		dir = d
	} else {
		dir = filepath.Join(baseDir, safeName(runID))
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create work directory: %w", err)
		}
	}

	return &Manager{
		dir:   dir,
		saved: make(map[string]int64),
	}, nil
}

// Dir returns the run directory path
func (m *Manager) Dir() string {
	return m.dir
}

// Path returns where name is (or would be) stored
func (m *Manager) Path(name string) string {
	return filepath.Join(m.dir, safeName(name))
}

// IsSaved reports whether name was written by this manager
func (m *Manager) IsSaved(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.saved[safeName(name)]
	return ok
}

// Save writes r to name atomically and returns the final path and size
func (m *Manager) Save(r io.Reader, name string) (string, int64, error) {
	name = safeName(name)
	final := filepath.Join(m.dir, name)

	tmp, err := os.CreateTemp(m.dir, name+".*.tmp")
	if err != nil {
		return "", 0, fmt.Errorf("failed to create temporary file: %w", err)
	}

	size, err := io.Copy(tmp, r)
	closeErr := tmp.Close()
	if err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to save image data: %w", err)
	}
	if closeErr != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to close file: %w", closeErr)
	}

	if err := os.Rename(tmp.Name(), final); err != nil {
		os.Remove(tmp.Name())
		return "", 0, fmt.Errorf("failed to rename temporary file: %w", err)
	}

	m.mu.Lock()
	m.saved[name] = size
	m.mu.Unlock()

	return final, size, nil
}

// Remove deletes a saved file; a missing file is not an error
func (m *Manager) Remove(name string) error {
	name = safeName(name)
	m.mu.Lock()
	delete(m.saved, name)
	m.mu.Unlock()

	if err := os.Remove(filepath.Join(m.dir, name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}

// Count returns the number of files currently saved
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.saved)
}

// Cleanup removes the run directory and everything in it
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	m.saved = make(map[string]int64)
	m.mu.Unlock()

	if err := os.RemoveAll(m.dir); err != nil {
		return fmt.Errorf("failed to remove work directory: %w", err)
	}
	return nil
}

// safeName keeps a name inside the run directory
func safeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == ".." || name == "/" || name == "" {
		return "_"
	}
	return name
}
