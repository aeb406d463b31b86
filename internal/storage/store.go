package storage

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver (no CGO needed)
)

// SnapshotKey is the fixed slot under which the queue snapshot lives. The
// identifier is stable across releases; persisted blobs remain readable.
const SnapshotKey = "video_queue"

// Store persists the serialized queue snapshot as a single keyed blob.
// The queue reads the blob once at startup and rewrites it on every state
// transition, so the store never interprets the contents.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database and ensures schema exists.
func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn) // NOTE: driver name is "sqlite", not "sqlite3"
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the snapshots table if it doesn't exist.
func (s *Store) migrate() error {
	q := `
	CREATE TABLE IF NOT EXISTS snapshots (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		updated_at DATETIME NOT NULL
	);
	`
	_, err := s.db.Exec(q)
	return err
}

// Load returns the blob stored under key, or nil if none has been written.
func (s *Store) Load(key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM snapshots WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Save writes the blob under key, replacing any previous value. The upsert is
// a single statement, which is the commit point for a queue transition.
func (s *Store) Save(key string, value []byte) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(
		`INSERT INTO snapshots(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, now)
	return err
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
