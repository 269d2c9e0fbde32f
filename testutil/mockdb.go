package testutil

import (
	"database/sql"
	"strconv"
	"testing"

	_ "modernc.org/sqlite"
)

const createCheckpointKVSQL = `
CREATE TABLE IF NOT EXISTS checkpointKV (
	key TEXT PRIMARY KEY,
	value TEXT
)`

// KVRow is one row of the checkpointKV table. A nil Value is stored as NULL.
type KVRow struct {
	Key   string
	Value *string
}

// Str returns a pointer to s, for KVRow literals.
func Str(s string) *string { return &s }

// CreateInMemoryDB creates an in-memory SQLite database with an empty checkpointKV table
func CreateInMemoryDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("Failed to create in-memory database: %v", err)
	}
	// Each new connection to :memory: is a separate database.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createCheckpointKVSQL); err != nil {
		db.Close()
		t.Fatalf("Failed to create checkpointKV table: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return db
}

// SampleCheckpointRows are the rows CreateTestDB inserts: two paused
// sessions, a NULL value, a key that only matches an unescaped LIKE
// wildcard and an unrelated setting.
func SampleCheckpointRows(pausedAt int64) []KVRow {
	ms := strconv.FormatInt(pausedAt, 10)
	return []KVRow{
		{
			Key:   "yeschef-progress-3f9c2a71-shakshuka",
			Value: Str(`{"recipeId":"3f9c2a71-shakshuka","currentStep":2,"elapsedSeconds":754,"pausedAt":` + ms + `}`),
		},
		{
			Key:   "yeschef-progress-8b1d04ce-pancakes",
			Value: Str(`{"recipeId":"8b1d04ce-pancakes","currentStep":0,"elapsedSeconds":65,"pausedAt":` + ms + `}`),
		},
		{Key: "yeschef-progress-null-value", Value: nil},
		{Key: "yeschefXprogress-stray", Value: Str(`{"recipeId":"stray","currentStep":1,"elapsedSeconds":1,"pausedAt":` + ms + `}`)},
		{Key: "settings:theme", Value: Str(`"dark"`)},
	}
}

// CreateTestDB creates an in-memory database holding SampleCheckpointRows
func CreateTestDB(t *testing.T, pausedAt int64) *sql.DB {
	t.Helper()
	db := CreateInMemoryDB(t)
	InsertRows(t, db, SampleCheckpointRows(pausedAt))
	return db
}

// InsertRows writes rows into the checkpointKV table
func InsertRows(t *testing.T, db *sql.DB, rows []KVRow) {
	t.Helper()
	for _, row := range rows {
		var value interface{}
		if row.Value != nil {
			value = *row.Value
		}
		if _, err := db.Exec("INSERT INTO checkpointKV (key, value) VALUES (?, ?)", row.Key, value); err != nil {
			t.Fatalf("Failed to insert %s: %v", row.Key, err)
		}
	}
}
