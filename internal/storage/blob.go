package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// stateKey is the single row key: the whole session collection persists as
// one versioned JSON blob, matching the snapshot-style save model.
const stateKey = "chat-store"

// BlobStore 以版本化 JSON 快照的形式持久化会话集合。
// BlobStore persists the session collection as one versioned JSON snapshot.
type BlobStore interface {
	Load() (data []byte, version float64, ok bool, err error)
	Save(data []byte, version float64) error
	Clear() error
	Close() error
}

// SQLiteBlobStore implements BlobStore over SQLite with WAL mode.
type SQLiteBlobStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteBlobStore creates and initializes the database file.
func NewSQLiteBlobStore(dbPath string) (*SQLiteBlobStore, error) {
	dbPath = strings.TrimSpace(dbPath)
	if dbPath == "" {
		return nil, fmt.Errorf("sqlite db path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// 启用 WAL 模式和优化 PRAGMA / Enable WAL and performance PRAGMAs
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %q: %w", p, err)
		}
	}

	store := &SQLiteBlobStore{db: db, path: dbPath}
	if err := store.ensureSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteBlobStore) ensureSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS state (
		key        TEXT PRIMARY KEY,
		version    REAL NOT NULL,
		data       TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads the persisted snapshot. ok is false when no snapshot exists.
func (s *SQLiteBlobStore) Load() ([]byte, float64, bool, error) {
	var data string
	var version float64
	err := s.db.QueryRow(
		`SELECT data, version FROM state WHERE key = ?`, stateKey,
	).Scan(&data, &version)
	if err == sql.ErrNoRows {
		return nil, 0, false, nil
	}
	if err != nil {
		return nil, 0, false, fmt.Errorf("load state: %w", err)
	}
	return []byte(data), version, true, nil
}

// Save overwrites the snapshot atomically.
func (s *SQLiteBlobStore) Save(data []byte, version float64) error {
	_, err := s.db.Exec(
		`INSERT INTO state (key, version, data, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET version = excluded.version,
		   data = excluded.data, updated_at = excluded.updated_at`,
		stateKey, version, string(data), nowUTC(),
	)
	if err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	return nil
}

// Clear drops the snapshot.
func (s *SQLiteBlobStore) Clear() error {
	if _, err := s.db.Exec(`DELETE FROM state WHERE key = ?`, stateKey); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	return nil
}

func (s *SQLiteBlobStore) Close() error {
	return s.db.Close()
}

func nowUTC() string {
	return time.Now().UTC().Format(time.RFC3339)
}
