package progress

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pterm/pterm"

	"github.com/dhcgn/mapi-to-maildir/stats"
)

// Bar manages a progress bar for tracking message export.
type Bar struct {
	pb             *pterm.ProgressbarPrinter
	total          int
	currentScanned int
	mu             sync.Mutex
	enabled        bool
}

// New creates a progress bar over total messages. The bar stays hidden
// unless show is set, and at debug level where it would fight the log.
func New(total int, show bool, logLevel string) *Bar {
	enabled := show && logLevel != "debug" && total > 0

	bar := &Bar{
		total:   total,
		enabled: enabled,
	}

	if enabled {
		pb, _ := pterm.DefaultProgressbar.
			WithTotal(total).
			WithTitle("Exporting messages").
			Start()

		bar.pb = pb

		pterm.Info.Printf("Messages in selected folders: %d\n", total)
		pterm.Println()
	}

	return bar
}

// Enabled reports whether the bar is drawn.
func (b *Bar) Enabled() bool {
	return b != nil && b.enabled
}

// Update advances the progress bar based on the event type.
func (b *Bar) Update(evt stats.Event) {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeFolder:
		if evt.Folder != "" {
			b.pb.UpdateTitle("Folder: " + truncate(evt.Folder, 40))
		}
	case stats.EventTypeScanned:
		b.currentScanned++
		if b.pb.Current < b.total {
			b.pb.Increment()
		}
	case stats.EventTypeAttachmentError:
		if evt.Err != nil {
			pterm.Warning.Printf("Attachment of %s: %v\n", truncate(evt.Detail, 40), evt.Err)
		}
	case stats.EventTypeError:
		if evt.Err != nil {
			pterm.Error.Printf("Error: %v\n", evt.Err)
		}
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Stop finalizes the progress bar.
func (b *Bar) Stop() {
	if !b.enabled || b.pb == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Messages may disappear between counting and exporting.
	if b.pb.Current < b.total {
		b.pb.Current = b.total
	}

	_, _ = b.pb.Stop()
	pterm.Success.Println("Export complete!")
}

// Subscriber creates a stats subscriber function that updates the progress bar.
func (b *Bar) Subscriber(ctx context.Context, events <-chan stats.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			b.Update(evt)
		}
	}
}

// ProgressReporter prints a pterm summary once the export finishes.
type ProgressReporter struct {
	bar       *Bar
	collector *stats.Collector
	logger    *slog.Logger
	started   time.Time
}

// NewProgressReporter subscribes bar and a summary printer to stream when
// the bar is enabled.
func NewProgressReporter(stream stats.EventStream, bar *Bar, logger *slog.Logger) *ProgressReporter {
	reporter := &ProgressReporter{
		bar:       bar,
		collector: stats.NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}

	if bar.Enabled() {
		stream.SubscribeStats("progress-bar", bar.Subscriber)
		stream.SubscribeStats("progress-stats", reporter.collectStats)
	}

	return reporter
}

func (pr *ProgressReporter) collectStats(ctx context.Context, events <-chan stats.Event) error {
	pr.collector.Run(ctx, events)

	summary := pr.collector.Snapshot()
	duration := time.Since(pr.started)

	if pr.logger != nil {
		pterm.Println()
		pterm.DefaultSection.Println("Summary Statistics")
		pterm.Info.Printf("Duration: %v\n", duration.Round(time.Millisecond))
		pterm.Info.Printf("Folders: %d\n", summary.Folders)
		pterm.Info.Printf("Scanned: %d\n", summary.Scanned)
		pterm.Info.Printf("Written: %d\n", summary.Written)
		pterm.Info.Printf("Dry-run: %d\n", summary.DryRun)
		pterm.Info.Printf("Non-delivery reports (skipped): %d\n", summary.Skipped)
		pterm.Info.Printf("Unconverted classes: %d\n", summary.Placeholders)
		pterm.Info.Printf("Filtered: %d\n", summary.Filtered)
		pterm.Info.Printf("Attachment errors: %d\n", summary.AttachmentErrors)
		pterm.Info.Printf("Errors: %d\n", summary.Errors)
		if summary.LastError != nil {
			pterm.Error.Printf("Last error: %v\n", summary.LastError)
		}
	}

	return nil
}
