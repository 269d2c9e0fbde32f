package testutil

import (
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"
)

// CreateSQLiteFixture creates a checkpoint database file at dbPath holding rows
func CreateSQLiteFixture(t *testing.T, dbPath string, rows []KVRow) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		t.Fatalf("Failed to create fixture directory: %v", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.Exec(createCheckpointKVSQL); err != nil {
		t.Fatalf("Failed to create table: %v", err)
	}
	InsertRows(t, db, rows)
}

// CreateCheckpointFiles writes rows the way the file checkpoint store lays
// them out: one <escaped key>.json file per record under dir.
func CreateCheckpointFiles(t *testing.T, dir string, rows []KVRow) {
	t.Helper()
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("Failed to create checkpoint directory: %v", err)
	}
	for _, row := range rows {
		if row.Value == nil {
			continue
		}
		path := filepath.Join(dir, url.PathEscape(row.Key)+".json")
		if err := os.WriteFile(path, []byte(*row.Value), 0644); err != nil {
			t.Fatalf("Failed to write checkpoint file %s: %v", path, err)
		}
	}
}

// CreateConfigFixture writes a config.yaml with body into a fresh temp dir
// and returns its path
func CreateConfigFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(CreateTempDir(t), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write config fixture: %v", err)
	}
	return path
}

// CreateCatalogFixture writes a recipe catalog YAML file and returns its path
func CreateCatalogFixture(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(CreateTempDir(t), "catalog.yaml")
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("Failed to write catalog fixture: %v", err)
	}
	return path
}
