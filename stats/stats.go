package stats

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

type Stage string

const (
	StageSource  Stage = "source"
	StageMaildir Stage = "maildir"
)

type EventType string

const (
	EventTypeScanned         EventType = "scanned"
	EventTypeWritten         EventType = "written"
	EventTypeDryRun          EventType = "dry_run"
	EventTypeSkipped         EventType = "skipped"
	EventTypePlaceholder     EventType = "placeholder"
	EventTypeFiltered        EventType = "filtered"
	EventTypeAttachmentError EventType = "attachment_error"
	EventTypeFolder          EventType = "folder"
	EventTypeError           EventType = "error"
)

type Event struct {
	Stage     Stage
	Type      EventType
	Folder    string
	MessageID string
	Err       error
	Detail    string
}

type Summary struct {
	Folders          int
	Scanned          int
	Written          int
	DryRun           int
	Skipped          int
	Placeholders     int
	Filtered         int
	AttachmentErrors int
	Errors           int
	LastError        error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"folders", s.Folders,
		"scanned", s.Scanned,
		"written", s.Written,
		"dryRun", s.DryRun,
		"skipped", s.Skipped,
		"placeholders", s.Placeholders,
		"filtered", s.Filtered,
		"attachmentErrors", s.AttachmentErrors,
		"errors", s.Errors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.Apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

// Apply folds a single event into the summary.
func (c *Collector) Apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeFolder:
		c.summary.Folders++
	case EventTypeScanned:
		c.summary.Scanned++
	case EventTypeWritten:
		c.summary.Written++
	case EventTypeDryRun:
		c.summary.DryRun++
	case EventTypeSkipped:
		c.summary.Skipped++
	case EventTypePlaceholder:
		c.summary.Placeholders++
	case EventTypeFiltered:
		c.summary.Filtered++
	case EventTypeAttachmentError:
		c.summary.AttachmentErrors++
	case EventTypeError:
		c.summary.Errors++
		if evt.Err != nil {
			c.summary.LastError = evt.Err
		}
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// TopN returns the limit most frequent keys of m, most frequent first. Ties
// are ordered by key.
func TopN(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{k, v})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Value != pairs[j].Value {
			return pairs[i].Value > pairs[j].Value
		}
		return pairs[i].Key < pairs[j].Key
	})
	if limit >= 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// Count is a key and how often it occurred.
type Count struct {
	Key   string
	Value int
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(m map[string]int, limit int) {
	for i, p := range TopN(m, limit) {
		fmt.Printf("%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
