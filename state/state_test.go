package state

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()

	first, err := NewFileJournal(dir, "run-1", true)
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	for _, file := range []string{"a", "b"} {
		if err := first.Record(Entry{Mailbox: "/out/.Inbox", File: file, EntryID: "id-" + file, SHA256: "00"}); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}
	if got := first.Snapshot().Recorded; got != 2 {
		t.Errorf("Recorded = %d, want 2", got)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	second, err := NewFileJournal(dir, "run-2", true)
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	if err := second.Record(Entry{File: "c"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	snap := second.Snapshot()
	if snap.Previous != 2 || snap.PreviousRuns != 1 || snap.Recorded != 1 {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if err := second.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var runs []string
	err = ReadJournal(filepath.Join(dir, JournalFile), func(e Entry) error {
		runs = append(runs, e.RunID+"/"+e.File)
		if e.WrittenAt.IsZero() {
			t.Errorf("entry %s has no timestamp", e.File)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ReadJournal() error = %v", err)
	}
	want := []string{"run-1/a", "run-1/b", "run-2/c"}
	if len(runs) != len(want) {
		t.Fatalf("entries = %v, want %v", runs, want)
	}
	for i := range want {
		if runs[i] != want[i] {
			t.Errorf("entry %d = %s, want %s", i, runs[i], want[i])
		}
	}
}

func TestFileJournalWithoutPersistence(t *testing.T) {
	dir := t.TempDir()
	journal, err := NewFileJournal(dir, NewRunID(), false)
	if err != nil {
		t.Fatalf("NewFileJournal() error = %v", err)
	}
	if err := journal.Record(Entry{File: "a"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := journal.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(journal.Path()); !os.IsNotExist(err) {
		t.Errorf("journal file exists after a non-persistent run: %v", err)
	}
	if got := journal.Entries(); len(got) != 1 || got[0].RunID == "" {
		t.Errorf("Entries() = %+v", got)
	}
}

func TestFileJournalRejectsEmptyDir(t *testing.T) {
	if _, err := NewFileJournal("  ", "run", true); err == nil {
		t.Error("expected error for empty state directory")
	}
}

func TestReadJournalCorruptLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), JournalFile)
	if err := os.WriteFile(path, []byte("{\"run_id\":\"x\"}\nnot json\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := ReadJournal(path, func(Entry) error { return nil }); err == nil {
		t.Error("expected parse error")
	}
}
