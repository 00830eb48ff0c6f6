package cmd

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/dump"
	"github.com/dhcgn/mapi-to-maildir/filter"
)

func TestWalkStore(t *testing.T) {
	tests := []struct {
		name         string
		opts         filter.Options
		wantMessages int
		wantSkipped  int
	}{
		{name: "no filters", wantMessages: 2},
		{
			name:         "exclude header filter",
			opts:         filter.Options{ExcludeHeader: []string{`(?m)^Subject: Quarterly`}},
			wantMessages: 1,
			wantSkipped:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, err := dump.Load(filepath.Join("..", "dump", "testdata", "store.yaml"))
			if err != nil {
				t.Fatalf("dump.Load() error = %v", err)
			}
			f, err := filter.New(tt.opts)
			if err != nil {
				t.Fatalf("filter.New() error = %v", err)
			}

			report := newStoreReport()
			calls := 0
			if err := walkStore(context.Background(), store, f, nil, report, func() { calls++ }); err != nil {
				t.Fatalf("walkStore() error = %v", err)
			}

			if report.messages != tt.wantMessages {
				t.Errorf("messages = %d, want %d", report.messages, tt.wantMessages)
			}
			if report.skipped != tt.wantSkipped {
				t.Errorf("skipped = %d, want %d", report.skipped, tt.wantSkipped)
			}
			if report.failed != 1 {
				t.Errorf("failed = %d, want 1", report.failed)
			}
			if calls != report.messages {
				t.Errorf("progress called %d times, want %d", calls, report.messages)
			}
			if got := report.counter["Folder"]["Contacts"]; got != 1 {
				t.Errorf("Contacts count = %d, want 1", got)
			}
		})
	}
}

func TestWalkStoreCounters(t *testing.T) {
	store, err := dump.Load(filepath.Join("..", "dump", "testdata", "store.yaml"))
	if err != nil {
		t.Fatalf("dump.Load() error = %v", err)
	}
	f, _ := filter.New(filter.Options{})
	report := newStoreReport()
	if err := walkStore(context.Background(), store, f, nil, report, nil); err != nil {
		t.Fatalf("walkStore() error = %v", err)
	}

	checks := []struct {
		category, key string
		want          int
	}{
		{"Folder", "Inbox", 1},
		{"Class", "IPM.Note", 1},
		{"Class", "IPM.Contact", 1},
		{"From", "alice@example.com", 1},
		{"To", "bob@example.com", 1},
		{"Subject", "Quarterly numbers", 1},
	}
	for _, c := range checks {
		if got := report.counter[c.category][c.key]; got != c.want {
			t.Errorf("%s[%s] = %d, want %d", c.category, c.key, got, c.want)
		}
	}
}

func TestSaveCSVReports(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	counter := map[string]map[string]int{
		"From":     {"a@example.com": 3, "b@example.com": 5},
		"Reply-To": {},
	}
	if err := saveCSVReports(counter, []string{"From", "Reply-To"}, dir, 1); err != nil {
		t.Fatalf("saveCSVReports() error = %v", err)
	}

	file, err := os.Open(filepath.Join(dir, "report_from.csv"))
	if err != nil {
		t.Fatalf("open report: %v", err)
	}
	defer file.Close()
	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("read csv: %v", err)
	}
	if len(records) != 2 || records[1][0] != "b@example.com" || records[1][1] != "5" {
		t.Errorf("records = %v", records)
	}

	if _, err := os.Stat(filepath.Join(dir, "report_reply_to.csv")); err != nil {
		t.Errorf("empty report missing: %v", err)
	}
}

func TestNewStoreStatsCommandFlags(t *testing.T) {
	cmd := NewStoreStatsCommand()
	for _, name := range []string{"source-type", "source", "imap-host", "output", "top", "include-header", "config"} {
		if cmd.Flags().Lookup(name) == nil {
			t.Errorf("flag --%s not registered", name)
		}
	}
}
