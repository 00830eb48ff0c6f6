package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dhcgn/mapi-to-maildir/config"
	"github.com/dhcgn/mapi-to-maildir/convert"
	"github.com/dhcgn/mapi-to-maildir/filter"
	"github.com/dhcgn/mapi-to-maildir/maildir"
	"github.com/dhcgn/mapi-to-maildir/source"
	"github.com/dhcgn/mapi-to-maildir/state"
	"github.com/dhcgn/mapi-to-maildir/stats"
)

type StageFunc func(context.Context) error

type Runner struct {
	cfg    config.Config
	logger *slog.Logger
	store  source.Store

	// parent is the caller's context; ctx is additionally cancelled by fail.
	parent context.Context
	ctx    context.Context
	cancel context.CancelFunc

	subMu       sync.Mutex
	subscribers []chan stats.Event

	journal   state.Journal
	filter    *filter.Filter
	selection *selection
	now       func() time.Time

	workWG  sync.WaitGroup
	statsWG sync.WaitGroup

	errMu sync.Mutex
	errs  []error

	closeEventsOnce sync.Once
	since           time.Time
}

// New prepares an export of store. Stats subscribers must be registered
// before Start.
func New(ctx context.Context, cfg config.Config, store source.Store, logger *slog.Logger) (*Runner, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	f, err := filter.New(filter.Options{
		IncludeHeader: cfg.IncludeHeader,
		IncludeBody:   cfg.IncludeBody,
		ExcludeHeader: cfg.ExcludeHeader,
		ExcludeBody:   cfg.ExcludeBody,
	})
	if err != nil {
		return nil, err
	}

	runID := state.NewRunID()
	var journal state.Journal
	if cfg.DryRun {
		journal = state.NewMemoryJournal(runID)
	} else {
		fj, err := state.NewFileJournal(cfg.StateDir, runID, true)
		if err != nil {
			return nil, fmt.Errorf("export journal: %w", err)
		}
		journal = fj
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &Runner{
		cfg:       cfg,
		logger:    logger.With("runID", runID),
		store:     store,
		parent:    ctx,
		ctx:       runCtx,
		cancel:    cancel,
		journal:   journal,
		selection: newSelection(cfg.Folders),
		now:       time.Now,
	}
	if f.Active() {
		r.filter = f
	}
	return r, nil
}

func (r *Runner) Config() config.Config {
	return r.cfg
}

func (r *Runner) Journal() state.Journal {
	return r.journal
}

// EmitEvent delivers evt to every subscriber.
func (r *Runner) EmitEvent(evt stats.Event) {
	r.subMu.Lock()
	subs := r.subscribers
	r.subMu.Unlock()
	for _, ch := range subs {
		select {
		case <-r.parent.Done():
			return
		case ch <- evt:
		}
	}
}

// SubscribeStats runs fn with its own copy of the event stream. The stream
// is closed once the export has finished.
func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	ch := make(chan stats.Event, 128)
	r.subMu.Lock()
	r.subscribers = append(r.subscribers, ch)
	r.subMu.Unlock()

	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.parent, ch); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stats: %w", name, err))
		}
	}()
}

func (r *Runner) AddStage(name string, fn StageFunc) {
	r.workWG.Add(1)
	go func() {
		defer r.workWG.Done()
		if err := fn(r.ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.fail(fmt.Errorf("%s stage: %w", name, err))
		}
	}()
}

// Start runs the export and waits for it and every subscriber to finish.
// The returned error joins every folder subtree that failed.
func (r *Runner) Start() error {
	r.since = time.Now()
	r.AddStage("export", r.export)

	r.workWG.Wait()
	r.closeEvents()
	r.statsWG.Wait()

	if err := r.journal.Close(); err != nil {
		r.fail(err)
	}
	r.cancel()

	if err := r.parent.Err(); err != nil {
		r.fail(err)
	}

	r.errMu.Lock()
	err := errors.Join(r.errs...)
	r.errMu.Unlock()

	snap := r.journal.Snapshot()
	duration := time.Since(r.since)
	if err != nil {
		r.logger.Error("export failed", "duration", duration, "journaled", snap.Recorded, "err", err)
		return err
	}

	r.logger.Info("export completed", "duration", duration, "journaled", snap.Recorded)
	return nil
}

// Count returns the number of messages in the selected folders.
func (r *Runner) Count(ctx context.Context) (int, error) {
	root, err := r.store.Root(ctx)
	if err != nil {
		return 0, fmt.Errorf("open root folder: %w", err)
	}
	return r.count(ctx, root, "")
}

func (r *Runner) count(ctx context.Context, folder source.Folder, path string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	total := 0
	if r.selection.selected(path) {
		ids, err := folder.Contents(ctx)
		if err != nil {
			return 0, fmt.Errorf("folder %q contents: %w", folder.Name(), err)
		}
		total = len(ids)
	}
	children, err := folder.Subfolders(ctx)
	if err != nil {
		return 0, fmt.Errorf("folder %q subfolders: %w", folder.Name(), err)
	}
	for _, child := range children {
		childPath := joinPath(path, child.Name())
		if !r.selection.needed(childPath) {
			continue
		}
		n, err := r.count(ctx, child, childPath)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}

func (r *Runner) export(ctx context.Context) error {
	root, err := r.store.Root(ctx)
	if err != nil {
		return fmt.Errorf("open root folder: %w", err)
	}

	opts := maildir.Options{
		Translator:          &convert.Translator{Logger: r.logger, Now: r.now},
		TempDir:             r.cfg.TempDir,
		DryRun:              r.cfg.DryRun,
		CompensateTimestamp: r.cfg.CompensateTZ,
		IsolateMessages:     r.cfg.IsolateMessages,
		OnMessage:           r.onMessage,
		Logger:              r.logger,
		Now:                 r.now,
	}
	if r.filter != nil {
		opts.Filter = r.filter
	}
	if r.cfg.Hostname != "" {
		opts.Hostname = maildir.SanitizeHostname(r.cfg.Hostname)
	}

	mb, err := maildir.Create(r.cfg.OutDir, r.store.Name(), opts)
	if err != nil {
		return err
	}
	r.logger.Info("exporting store", "store", r.store.Name(), "mailbox", mb.Path(), "dryRun", r.cfg.DryRun)

	r.walk(ctx, mb, root, "")

	for _, missing := range r.selection.unmatched() {
		r.logger.Warn("selected folder not found", "folder", missing)
	}
	return nil
}

// walk exports folder and everything below it. A failure aborts the
// folder's own subtree and is recorded; siblings continue.
func (r *Runner) walk(ctx context.Context, mb *maildir.Mailbox, folder source.Folder, path string) {
	if ctx.Err() != nil {
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeFolder, Folder: path, Detail: mb.Path()})

	if r.selection.selected(path) {
		r.logger.Debug("exporting folder", "folder", path, "mailbox", mb.Path())
		if err := mb.AddFolder(ctx, folder); err != nil {
			r.subtreeFailed(ctx, path, err)
			return
		}
	}

	children, err := folder.Subfolders(ctx)
	if err != nil {
		r.subtreeFailed(ctx, path, fmt.Errorf("folder %q subfolders: %w", folder.Name(), err))
		return
	}
	for _, child := range children {
		if ctx.Err() != nil {
			return
		}
		childPath := joinPath(path, child.Name())
		if !r.selection.needed(childPath) {
			continue
		}
		childBox, err := mb.CreateChild(child.Name())
		if err != nil {
			r.subtreeFailed(ctx, childPath, err)
			continue
		}
		r.walk(ctx, childBox, child, childPath)
	}
}

func (r *Runner) subtreeFailed(ctx context.Context, path string, err error) {
	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return
	}
	if path == "" {
		path = "/"
	}
	r.logger.Error("folder subtree failed", "folder", path, "err", err)
	r.EmitEvent(stats.Event{Stage: stats.StageSource, Type: stats.EventTypeError, Folder: path, Err: err})

	r.errMu.Lock()
	r.errs = append(r.errs, fmt.Errorf("folder %s: %w", path, err))
	r.errMu.Unlock()

	if r.cfg.StopOnError {
		r.cancel()
	}
}

func (r *Runner) onMessage(out maildir.Outcome) {
	base := stats.Event{Stage: stats.StageMaildir, Folder: out.Mailbox, MessageID: out.EntryID, Detail: out.Subject}
	emit := func(t stats.EventType, err error) {
		evt := base
		evt.Type, evt.Err = t, err
		r.EmitEvent(evt)
	}

	scanned := base
	scanned.Stage, scanned.Type = stats.StageSource, stats.EventTypeScanned
	r.EmitEvent(scanned)

	for _, err := range out.AttachmentErrors {
		emit(stats.EventTypeAttachmentError, err)
	}

	switch out.Status {
	case maildir.StatusWritten:
		emit(stats.EventTypeWritten, nil)
		entry := state.Entry{
			Mailbox:   out.Mailbox,
			File:      out.File,
			EntryID:   out.EntryID,
			Subject:   out.Subject,
			SHA256:    out.SHA256,
			WrittenAt: r.now().UTC(),
		}
		if err := r.journal.Record(entry); err != nil {
			r.logger.Error("journal write failed", "file", out.File, "err", err)
			r.fail(err)
		}
	case maildir.StatusDryRun:
		emit(stats.EventTypeDryRun, nil)
		r.logger.Debug("dry-run message", "mailbox", out.Mailbox, "entryID", out.EntryID, "file", out.Name)
	case maildir.StatusSkipped:
		emit(stats.EventTypeSkipped, nil)
	case maildir.StatusPlaceholder:
		emit(stats.EventTypePlaceholder, nil)
		r.logger.Debug("message class not converted", "entryID", out.EntryID, "class", out.Class)
	case maildir.StatusFiltered:
		emit(stats.EventTypeFiltered, nil)
	case maildir.StatusFailed:
		emit(stats.EventTypeError, out.Err)
	}
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		r.subMu.Lock()
		defer r.subMu.Unlock()
		for _, ch := range r.subscribers {
			close(ch)
		}
	})
}

func (r *Runner) fail(err error) {
	if err == nil {
		return
	}
	r.errMu.Lock()
	r.errs = append(r.errs, err)
	r.errMu.Unlock()
	r.cancel()
}
