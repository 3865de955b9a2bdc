// Package testutil provides shared test helpers: temporary databases, a quiet
// logger and an in-memory JetEngine item store.
package testutil

import (
	"log/slog"
	"os"
	"testing"

	"github.com/starford/cctsync/internal/jetdb"
	"github.com/starford/cctsync/internal/options"
)

// Logger returns a JSON logger that only prints errors.
func Logger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func tempFile(t *testing.T, pattern string) string {
	t.Helper()
	f, err := os.CreateTemp("", pattern)
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })
	return f.Name()
}

// OptionsDB creates a temporary option store that is automatically cleaned up.
func OptionsDB(t *testing.T) *options.DB {
	t.Helper()
	db, err := options.Open(tempFile(t, "cctsync-options-*.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// JetDB creates a temporary SQLite-backed JetEngine item store with the
// default "wp_" table prefix.
func JetDB(t *testing.T) *jetdb.DB {
	t.Helper()
	db, err := jetdb.OpenSQLite(tempFile(t, "cctsync-jet-*.db"), "wp_", Logger())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
