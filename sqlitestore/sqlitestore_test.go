package sqlitestore

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/dump"
	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/source"
)

func fixture(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := dump.Load(filepath.Join("..", "dump", "testdata", "store.yaml"))
	if err != nil {
		t.Fatalf("dump.Load() error = %v", err)
	}
	return store
}

func importFixture(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "store.db")
	if err := Import(context.Background(), path, fixture(t)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	store, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestImportRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := importFixture(t)

	var want, got bytes.Buffer
	if err := dump.Encode(ctx, &want, fixture(t)); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	if err := dump.Encode(ctx, &got, store); err != nil {
		t.Fatalf("encode database: %v", err)
	}
	if got.String() != want.String() {
		t.Errorf("database differs from source\n--- got\n%s\n--- want\n%s", got.String(), want.String())
	}
}

func TestOpenMessage(t *testing.T) {
	ctx := context.Background()
	store := importFixture(t)

	if store.Name() != "Personal Folders" {
		t.Errorf("Name() = %q", store.Name())
	}
	root, err := store.Root(ctx)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	children, err := root.Subfolders(ctx)
	if err != nil || len(children) != 2 {
		t.Fatalf("Subfolders() = %v, %v", children, err)
	}
	inbox := children[0]
	if inbox.Name() != "Inbox" {
		t.Fatalf("first folder = %q, want Inbox", inbox.Name())
	}

	ids, err := inbox.Contents(ctx)
	if err != nil || len(ids) != 2 {
		t.Fatalf("Contents() = %v, %v", ids, err)
	}

	msg, err := inbox.OpenMessage(ctx, "0001")
	if err != nil {
		t.Fatalf("OpenMessage() error = %v", err)
	}
	if s, _ := msg.Prop(ctx, source.TagSubject).Text(); s != "Quarterly numbers" {
		t.Errorf("subject = %q", s)
	}
	if res := msg.Prop(ctx, source.TagBodyHTML); !res.IsFailed() {
		t.Errorf("stored failure lost: %+v", res)
	}

	rows, err := msg.Attachments(ctx)
	if err != nil || len(rows) != 2 {
		t.Fatalf("Attachments() = %v, %v", rows, err)
	}
	bag, err := msg.OpenAttachment(ctx, 0)
	if err != nil {
		t.Fatalf("OpenAttachment(0) error = %v", err)
	}
	data, err := source.ReadStream(ctx, bag, source.TagAttachDataBin)
	if err != nil || string(data) != "a,b\n1,2\n" {
		t.Errorf("attachment data = %q, %v", data, err)
	}
	if _, err := msg.OpenAttachment(ctx, 1); !source.IsNotFound(err) {
		t.Errorf("OpenAttachment(1) error = %v, want not found", err)
	}

	if _, err := inbox.OpenMessage(ctx, "0002"); err == nil {
		t.Error("OpenMessage(0002) expected stored open failure")
	} else if code, _ := source.CodeOf(err); code != source.CodeNoAccess {
		t.Errorf("OpenMessage(0002) code = %v, want no access", code)
	}
	if _, err := inbox.OpenMessage(ctx, "missing"); !source.IsNotFound(err) {
		t.Errorf("OpenMessage(missing) error = %v, want not found", err)
	}

	projects, err := inbox.Subfolders(ctx)
	if err != nil || len(projects) != 1 {
		t.Fatalf("Inbox subfolders = %v, %v", projects, err)
	}
	if _, err := projects[0].Contents(ctx); err == nil {
		t.Error("Projects Contents() expected stored failure")
	}
}

func TestImportRefusesNonEmpty(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "store.db")
	if err := Import(ctx, path, fixture(t)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if err := Import(ctx, path, fixture(t)); err == nil {
		t.Error("second Import() expected error")
	}
}

func TestOpenMissing(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "none.db")); err == nil {
		t.Error("Open() expected error for missing database")
	}
}
