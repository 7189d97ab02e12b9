// ABOUTME: SQLite implementation of the settings store using modernc.org/sqlite
// ABOUTME: Single user_settings table with automatic schema creation

package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/almanac/internal/calendar"
)

// SQLiteStore implements Store on a local SQLite file.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore opens (or creates) the settings database at path. Parent
// directories are created if needed.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "settings")

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("settings store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS user_settings (
			user_id TEXT PRIMARY KEY,
			provider TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			password TEXT NOT NULL DEFAULT '',
			token TEXT NOT NULL DEFAULT '',
			updated_at DATETIME NOT NULL
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Get(ctx context.Context, userID string) (*Record, error) {
	query := `
		SELECT user_id, provider, url, username, password, token, updated_at
		FROM user_settings
		WHERE user_id = ?
	`

	rec := &Record{}
	var updatedAtStr string

	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.Calendar.Provider,
		&rec.Calendar.URL,
		&rec.Calendar.Username,
		&rec.Calendar.Password,
		&rec.Calendar.Token,
		&updatedAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying settings: %w", err)
	}

	rec.UpdatedAt, err = time.Parse(time.RFC3339, updatedAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) Ensure(ctx context.Context, userID string) (*Record, error) {
	rec, err := s.Get(ctx, userID)
	if err == nil {
		return rec, nil
	}
	if err != ErrNotFound {
		return nil, err
	}

	rec = &Record{
		UserID:    userID,
		Calendar:  calendar.Config{},
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}

	s.logger.Debug("created settings record", "user", userID)
	return rec, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO user_settings (user_id, provider, url, username, password, token, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			provider = excluded.provider,
			url = excluded.url,
			username = excluded.username,
			password = excluded.password,
			token = excluded.token,
			updated_at = excluded.updated_at
	`

	rec.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		rec.UserID,
		rec.Calendar.Provider,
		rec.Calendar.URL,
		rec.Calendar.Username,
		rec.Calendar.Password,
		rec.Calendar.Token,
		rec.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}
