package progress

import (
	"context"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/stats"
)

func TestNewDisabled(t *testing.T) {
	tests := []struct {
		name     string
		total    int
		show     bool
		logLevel string
	}{
		{"hidden", 10, false, "info"},
		{"debug", 10, true, "debug"},
		{"empty", 0, true, "info"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bar := New(tt.total, tt.show, tt.logLevel)
			if bar.Enabled() {
				t.Fatal("bar should be disabled")
			}
			bar.Update(stats.Event{Type: stats.EventTypeScanned})
			bar.Stop()
		})
	}
}

func TestSubscriberDrains(t *testing.T) {
	bar := New(0, false, "info")
	events := make(chan stats.Event, 2)
	events <- stats.Event{Type: stats.EventTypeFolder, Folder: "Inbox"}
	events <- stats.Event{Type: stats.EventTypeScanned}
	close(events)
	if err := bar.Subscriber(context.Background(), events); err != nil {
		t.Errorf("Subscriber() error = %v", err)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("Inbox", 10); got != "Inbox" {
		t.Errorf("truncate() = %q", got)
	}
	if got := []rune(truncate("Posteingang/Projekte/Älteres", 12)); len(got) != 12 {
		t.Errorf("truncate() has %d runes, want 12", len(got))
	}
}

func TestNilBarEnabled(t *testing.T) {
	var bar *Bar
	if bar.Enabled() {
		t.Error("nil bar reports enabled")
	}
}
