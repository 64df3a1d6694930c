// Package sqlite is the embedded catalog destination. Projects, datasets
// and image rows live in one SQLite file; uploaded files are copied into a
// blob directory, one subdirectory per dataset.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/mattn/go-sqlite3"
	"pexelsync/pkg/destination"
	"pexelsync/pkg/logger"
	"pexelsync/pkg/models"
	"pexelsync/pkg/storage"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements destination.Backend on SQLite
type Store struct {
	db      *sql.DB
	blobDir string
	mu      sync.Mutex
	logger  logger.Logger
}

var _ destination.Backend = (*Store)(nil)

// Open applies pending migrations to the database at path and opens it
func Open(path, blobDir string, log logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.GetLogger()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}
	if blobDir == "" {
		blobDir = filepath.Join(filepath.Dir(path), "blobs")
	}
	if err := os.MkdirAll(blobDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create blob directory: %w", err)
	}

	if err := Migrate(path, log); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	logger.LogComponentStart(log, "sqlite_destination", map[string]interface{}{
		"path":     path,
		"blob_dir": blobDir,
	})
	return &Store{db: db, blobDir: blobDir, logger: log}, nil
}

// Migrate applies the embedded schema migrations
func Migrate(path string, log logger.Logger) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", source, "sqlite3://"+path)
	if err != nil {
		return fmt.Errorf("failed to initialize migrations: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	log.DebugWithFields("Database migrations applied", map[string]interface{}{
		"version": version,
		"dirty":   dirty,
	})
	return nil
}

func (s *Store) CreateProject(ctx context.Context, workspaceID int64, name string) (*destination.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	free, err := destination.UniqueName(name, func(n string) (bool, error) {
		return exists(ctx, tx, "SELECT 1 FROM projects WHERE workspace_id = ? AND name = ?", workspaceID, n)
	})
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO projects (workspace_id, name) VALUES (?, ?)", workspaceID, free)
	if err != nil {
		return nil, fmt.Errorf("failed to create project: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("Project created", map[string]interface{}{"project_id": id, "name": free})
	return &destination.Project{ID: id, WorkspaceID: workspaceID, Name: free, CustomData: map[string]interface{}{}, Version: 1}, nil
}

func (s *Store) GetProject(ctx context.Context, id int64) (*destination.Project, error) {
	var (
		p   destination.Project
		raw string
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT id, workspace_id, name, custom_data, version FROM projects WHERE id = ?", id,
	).Scan(&p.ID, &p.WorkspaceID, &p.Name, &raw, &p.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("project %d: %w", id, destination.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project %d: %w", id, err)
	}

	p.CustomData = map[string]interface{}{}
	if err := json.Unmarshal([]byte(raw), &p.CustomData); err != nil {
		return nil, fmt.Errorf("project %d has malformed custom data: %w", id, err)
	}
	return &p, nil
}

func (s *Store) CreateDataset(ctx context.Context, projectID int64, name string) (*destination.Dataset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	ok, err := exists(ctx, tx, "SELECT 1 FROM projects WHERE id = ?", projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("project %d: %w", projectID, destination.ErrNotFound)
	}

	free, err := destination.UniqueName(name, func(n string) (bool, error) {
		return exists(ctx, tx, "SELECT 1 FROM datasets WHERE project_id = ? AND name = ?", projectID, n)
	})
	if err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx, "INSERT INTO datasets (project_id, name) VALUES (?, ?)", projectID, free)
	if err != nil {
		return nil, fmt.Errorf("failed to create dataset: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}

	s.logger.InfoWithFields("Dataset created", map[string]interface{}{"dataset_id": id, "name": free})
	return &destination.Dataset{ID: id, ProjectID: projectID, Name: free}, nil
}

func (s *Store) GetDataset(ctx context.Context, id int64) (*destination.Dataset, error) {
	var d destination.Dataset
	err := s.db.QueryRowContext(ctx, `
		SELECT d.id, d.project_id, d.name, (SELECT COUNT(*) FROM images i WHERE i.dataset_id = d.id)
		FROM datasets d WHERE d.id = ?`, id,
	).Scan(&d.ID, &d.ProjectID, &d.Name, &d.ImagesCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("dataset %d: %w", id, destination.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset %d: %w", id, err)
	}
	return &d, nil
}

func (s *Store) ListImageNames(ctx context.Context, datasetID int64) ([]string, error) {
	if _, err := s.GetDataset(ctx, datasetID); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT name FROM images WHERE dataset_id = ? ORDER BY id", datasetID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) UploadLinks(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	return s.insert(ctx, datasetID, records, nil)
}

// UploadPaths copies each record's file into the dataset's blob directory
func (s *Store) UploadPaths(ctx context.Context, datasetID int64, records []models.ImageRecord) (int, error) {
	blobs, err := storage.NewManager(s.blobDir, strconv.FormatInt(datasetID, 10))
	if err != nil {
		return 0, err
	}
	return s.insert(ctx, datasetID, records, blobs)
}

func (s *Store) insert(ctx context.Context, datasetID int64, records []models.ImageRecord, blobs *storage.Manager) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	ok, err := exists(ctx, tx, "SELECT 1 FROM datasets WHERE id = ?", datasetID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("dataset %d: %w", datasetID, destination.ErrNotFound)
	}

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR IGNORE INTO images (dataset_id, name, link, blob_path, size, meta) VALUES (?, ?, ?, ?, ?, ?)")
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	var copied []string
	added := 0
	for _, r := range records {
		meta, err := json.Marshal(r.Meta)
		if err != nil {
			return 0, fmt.Errorf("failed to encode meta of %s: %w", r.Name, err)
		}

		dup, err := exists(ctx, tx, "SELECT 1 FROM images WHERE dataset_id = ? AND name = ?", datasetID, r.Name)
		if err != nil {
			removeAll(blobs, copied)
			return 0, err
		}
		if dup {
			continue
		}

		var (
			blobPath sql.NullString
			size     int64
		)
		if blobs != nil {
			path, n, err := copyFile(blobs, r)
			if err != nil {
				removeAll(blobs, copied)
				return 0, err
			}
			copied = append(copied, r.Name)
			blobPath = sql.NullString{String: path, Valid: true}
			size = n
		}

		res, err := stmt.ExecContext(ctx, datasetID, r.Name, r.Link, blobPath, size, string(meta))
		if err != nil {
			removeAll(blobs, copied)
			return 0, fmt.Errorf("failed to insert %s: %w", r.Name, err)
		}
		n, _ := res.RowsAffected()
		added += int(n)
	}

	if err := tx.Commit(); err != nil {
		removeAll(blobs, copied)
		return 0, err
	}
	return added, nil
}

func copyFile(blobs *storage.Manager, r models.ImageRecord) (string, int64, error) {
	if r.LocalPath == "" {
		return "", 0, fmt.Errorf("image %s has no local file", r.Name)
	}
	f, err := os.Open(r.LocalPath)
	if err != nil {
		return "", 0, fmt.Errorf("failed to open %s: %w", r.LocalPath, err)
	}
	defer f.Close()
	return blobs.Save(f, r.Name)
}

func removeAll(blobs *storage.Manager, names []string) {
	if blobs == nil {
		return
	}
	for _, n := range names {
		_ = blobs.Remove(n)
	}
}

func (s *Store) UpdateCustomData(ctx context.Context, projectID int64, data map[string]interface{}, expectedVersion int64) (int64, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("failed to encode custom data: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"UPDATE projects SET custom_data = ?, version = version + 1 WHERE id = ? AND version = ?",
		string(raw), projectID, expectedVersion)
	if err != nil {
		return 0, fmt.Errorf("failed to update custom data: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		ok, err := exists(ctx, s.db, "SELECT 1 FROM projects WHERE id = ?", projectID)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, fmt.Errorf("project %d: %w", projectID, destination.ErrNotFound)
		}
		return 0, destination.ErrVersionConflict
	}
	return expectedVersion + 1, nil
}

// Close closes the database
func (s *Store) Close() error {
	logger.LogComponentStop(s.logger, "sqlite_destination", "closed")
	return s.db.Close()
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

func exists(ctx context.Context, q querier, query string, args ...interface{}) (bool, error) {
	var one int
	err := q.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
