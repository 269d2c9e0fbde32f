package internal

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

const createCheckpointKVSQL = `
CREATE TABLE IF NOT EXISTS checkpointKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// OpenDatabase opens (and creates if needed) the checkpoint SQLite database
func OpenDatabase(path string) (*sql.DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, &StorageError{Path: path, Op: "open", Err: err}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serialises writers.
	db.SetMaxOpenConns(1)

	// Test connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := db.Exec(createCheckpointKVSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create checkpointKV table: %w", err)
	}

	return db, nil
}

// QueryCheckpointKV queries the checkpointKV table with a LIKE pattern
func QueryCheckpointKV(db *sql.DB, pattern string) ([]KeyValuePair, error) {
	query := `SELECT key, value FROM checkpointKV WHERE key LIKE ? ESCAPE '\' AND value IS NOT NULL`
	rows, err := db.Query(query, pattern)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var pairs []KeyValuePair
	for rows.Next() {
		var pair KeyValuePair
		var value sql.NullString
		if err := rows.Scan(&pair.Key, &value); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		if value.Valid {
			pair.Value = value.String
			pairs = append(pairs, pair)
		}
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return pairs, nil
}

// KeyValuePair represents a key-value pair from checkpointKV
type KeyValuePair struct {
	Key   string
	Value string
}

// SQLiteKV is a KVStore over the checkpointKV table.
type SQLiteKV struct {
	db   *sql.DB
	path string
}

// NewSQLiteKV opens the database at path.
func NewSQLiteKV(path string) (*SQLiteKV, error) {
	db, err := OpenDatabase(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteKV{db: db, path: path}, nil
}

// NewSQLiteKVFromDB wraps an already opened database.
func NewSQLiteKVFromDB(db *sql.DB) (*SQLiteKV, error) {
	if _, err := db.Exec(createCheckpointKVSQL); err != nil {
		return nil, fmt.Errorf("failed to create checkpointKV table: %w", err)
	}
	return &SQLiteKV{db: db, path: "sqlite"}, nil
}

func (s *SQLiteKV) Get(key string) (string, bool, error) {
	var value sql.NullString
	err := s.db.QueryRow("SELECT value FROM checkpointKV WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	if !value.Valid {
		return "", false, nil
	}
	return value.String, true, nil
}

func (s *SQLiteKV) Set(key, value string) error {
	_, err := s.db.Exec(
		"INSERT INTO checkpointKV (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return &StorageError{Path: s.path, Op: "write", Err: err}
	}
	return nil
}

func (s *SQLiteKV) Delete(key string) error {
	if _, err := s.db.Exec("DELETE FROM checkpointKV WHERE key = ?", key); err != nil {
		return &StorageError{Path: s.path, Op: "delete", Err: err}
	}
	return nil
}

func (s *SQLiteKV) List(prefix string) ([]KeyValuePair, error) {
	pairs, err := QueryCheckpointKV(s.db, escapeLike(prefix)+"%")
	if err != nil {
		return nil, &StorageError{Path: s.path, Op: "read", Err: err}
	}
	return pairs, nil
}

func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

// escapeLike keeps '_' in prefixes from matching any character.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
