// Package state keeps a journal of exported message files so a run can be
// audited or compared against an earlier one.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JournalFile is the journal's file name inside the state directory.
const JournalFile = "export-journal.jsonl"

type Journal interface {
	Record(entry Entry) error
	Snapshot() Snapshot
	Close() error
}

// Entry is one written message file.
type Entry struct {
	RunID     string    `json:"run_id"`
	Mailbox   string    `json:"mailbox"`
	File      string    `json:"file"`
	EntryID   string    `json:"entry_id"`
	Subject   string    `json:"subject,omitempty"`
	SHA256    string    `json:"sha256"`
	WrittenAt time.Time `json:"written_at"`
}

type Snapshot struct {
	RunID string
	// Recorded counts the entries of the current run.
	Recorded int
	// Previous counts entries written by earlier runs.
	Previous     int
	PreviousRuns int
}

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type MemoryJournal struct {
	mu      sync.RWMutex
	runID   string
	entries []Entry
}

func NewMemoryJournal(runID string) *MemoryJournal {
	return &MemoryJournal{runID: runID}
}

func (m *MemoryJournal) Record(entry Entry) error {
	if entry.RunID == "" {
		entry.RunID = m.runID
	}
	m.mu.Lock()
	m.entries = append(m.entries, entry)
	m.mu.Unlock()
	return nil
}

// Entries returns a copy of the recorded entries.
func (m *MemoryJournal) Entries() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Entry(nil), m.entries...)
}

func (m *MemoryJournal) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.entries)
	m.mu.RUnlock()
	return Snapshot{RunID: m.runID, Recorded: count}
}

func (m *MemoryJournal) Close() error { return nil }

// FileJournal appends entries as JSON lines to the journal file.
type FileJournal struct {
	*MemoryJournal
	path         string
	persist      bool
	previous     int
	previousRuns int
	writer       *bufio.Writer
	file         *os.File
	writeMu      sync.Mutex
}

// NewFileJournal opens the journal in stateDir. Existing entries are only
// counted; with persist false nothing is written.
func NewFileJournal(stateDir, runID string, persist bool) (*FileJournal, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	journal := &FileJournal{
		MemoryJournal: NewMemoryJournal(runID),
		path:          filepath.Join(stateDir, JournalFile),
		persist:       persist,
	}

	if err := journal.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(journal.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open journal for append: %w", err)
		}
		journal.file = file
		journal.writer = bufio.NewWriterSize(file, 64*1024)
	}

	return journal, nil
}

// Path returns the journal file.
func (f *FileJournal) Path() string { return f.path }

func (f *FileJournal) load() error {
	runs := make(map[string]struct{})
	err := ReadJournal(f.path, func(entry Entry) error {
		f.previous++
		runs[entry.RunID] = struct{}{}
		return nil
	})
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	f.previousRuns = len(runs)
	return nil
}

func (f *FileJournal) Record(entry Entry) error {
	if entry.RunID == "" {
		entry.RunID = f.runID
	}
	if entry.WrittenAt.IsZero() {
		entry.WrittenAt = time.Now().UTC()
	}
	if err := f.MemoryJournal.Record(entry); err != nil {
		return err
	}

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}

	return nil
}

func (f *FileJournal) Snapshot() Snapshot {
	snap := f.MemoryJournal.Snapshot()
	snap.Previous = f.previous
	snap.PreviousRuns = f.previousRuns
	return snap
}

// Flush writes any buffered data to the underlying file.
func (f *FileJournal) Flush() error {
	if !f.persist || f.writer == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush journal: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}
	return nil
}

// Close flushes and closes the journal file.
func (f *FileJournal) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush journal: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync journal: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close journal: %w", err)
	}
	f.file = nil

	return firstErr
}

// ReadJournal calls fn for every entry in the journal at path.
func ReadJournal(path string, fn func(Entry) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(text, &entry); err != nil {
			return fmt.Errorf("parse journal line %d: %w", line, err)
		}
		if err := fn(entry); err != nil {
			return err
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read journal: %w", err)
	}

	return nil
}
