package cmd

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/dump"
	"github.com/dhcgn/mapi-to-maildir/sqlitestore"
)

func TestConvertStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	src, err := dump.Load(filepath.Join("..", "dump", "testdata", "store.yaml"))
	if err != nil {
		t.Fatalf("dump.Load() error = %v", err)
	}
	dbPath := filepath.Join(dir, "store.db")
	if err := convertStore(ctx, src, formatSQLite, dbPath); err != nil {
		t.Fatalf("convertStore(sqlite) error = %v", err)
	}
	db, err := sqlitestore.Open(dbPath)
	if err != nil {
		t.Fatalf("sqlitestore.Open() error = %v", err)
	}
	defer db.Close()
	if db.Name() != src.Name() {
		t.Errorf("sqlite name = %q, want %q", db.Name(), src.Name())
	}

	dumpPath := filepath.Join(dir, "copy.yaml")
	if err := convertStore(ctx, db, formatDump, dumpPath); err != nil {
		t.Fatalf("convertStore(dump) error = %v", err)
	}
	copied, err := dump.Load(dumpPath)
	if err != nil {
		t.Fatalf("dump.Load(copy) error = %v", err)
	}
	inbox, ok := copied.RootFolder.Lookup("Inbox")
	if !ok || len(inbox.Messages) != 2 {
		t.Errorf("copied Inbox = %+v", inbox)
	}

	if err := convertStore(ctx, src, formatSQLite, dbPath); err == nil {
		t.Error("convertStore() expected error for existing database")
	}
	if err := convertStore(ctx, src, formatDump, dumpPath); err == nil {
		t.Error("convertStore() expected error for existing dump")
	}
	if err := convertStore(ctx, src, "pst", filepath.Join(dir, "x")); err == nil {
		t.Error("convertStore() expected error for unknown format")
	}
}
