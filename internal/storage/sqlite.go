package storage

import (
	"database/sql"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

type SQLiteStorage struct {
	db *sql.DB
}

func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &SQLiteStorage{db: db}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS resume_positions (
		path TEXT PRIMARY KEY,
		filename TEXT NOT NULL,
		position REAL NOT NULL,
		duration REAL NOT NULL,
		progress REAL NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_resume_updated ON resume_positions(updated_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorage) SaveResumePosition(r *ResumePosition) error {
	_, err := s.db.Exec(`
		INSERT INTO resume_positions (path, filename, position, duration, progress, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			filename = excluded.filename,
			position = excluded.position,
			duration = excluded.duration,
			progress = excluded.progress,
			updated_at = excluded.updated_at
	`, r.Path, r.Filename, r.Position, r.Duration, r.Progress, time.Now())

	return err
}

func (s *SQLiteStorage) GetResumePosition(path string) (*ResumePosition, error) {
	row := s.db.QueryRow(`
		SELECT path, filename, position, duration, progress, updated_at
		FROM resume_positions WHERE path = ?
	`, path)

	var r ResumePosition
	err := row.Scan(&r.Path, &r.Filename, &r.Position, &r.Duration, &r.Progress, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &r, nil
}

func (s *SQLiteStorage) DeleteResumePosition(path string) error {
	_, err := s.db.Exec("DELETE FROM resume_positions WHERE path = ?", path)
	return err
}

// GetContinueWatching returns partially watched files, most recent first.
// Entries below 2% or above 95% progress are excluded.
func (s *SQLiteStorage) GetContinueWatching(limit int) ([]ResumePosition, error) {
	rows, err := s.db.Query(`
		SELECT path, filename, position, duration, progress, updated_at
		FROM resume_positions
		WHERE progress BETWEEN 0.02 AND 0.95
		ORDER BY updated_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []ResumePosition
	for rows.Next() {
		var r ResumePosition
		if err := rows.Scan(&r.Path, &r.Filename, &r.Position, &r.Duration, &r.Progress, &r.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, r)
	}

	return items, rows.Err()
}
