// Package testutil provides shared test helpers for setting up document
// stores and seeded namespaces.
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/omniflow-labs/omniflow/internal/storage"
)

// TestStore creates a temporary filesystem-backed document store.
func TestStore(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// TestSQLiteStore creates a temporary SQLite-backed document store that is
// automatically cleaned up.
func TestSQLiteStore(t *testing.T) storage.Provider {
	t.Helper()
	dbFile, err := os.CreateTemp("", "omniflow-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	db, err := storage.OpenSQLite(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// SeedDocument writes a JSON document into a namespace.
func SeedDocument(t *testing.T, store storage.Provider, ns, name string, content any) {
	t.Helper()
	data, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Write(context.Background(), "users/"+ns+"/"+name, data); err != nil {
		t.Fatal(err)
	}
}
