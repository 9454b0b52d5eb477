package sqlite

import (
	"path/filepath"
	"testing"
)

func TestOpenCreatesDirAndSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "x.db")
	db, err := Open(path, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if _, err := db.Exec(`INSERT INTO t (v) VALUES ('a')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
	var mode string
	if err := db.QueryRow(`PRAGMA journal_mode`).Scan(&mode); err != nil {
		t.Fatalf("journal_mode: %v", err)
	}
	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func TestOpenRejectsBadInput(t *testing.T) {
	if _, err := Open("  "); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "x.db"), `CREATE TABLE (`); err == nil {
		t.Fatalf("expected schema error")
	}
}
