// Package mbox presents an mbox file as a message store with a single folder.
package mbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/dhcgn/mapi-to-maildir/rfc822"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// Store is an mbox file. Messages are split on first use and parsed when
// opened.
type Store struct {
	title  string
	open   func() (io.ReadCloser, error)
	logger *slog.Logger

	once   sync.Once
	folder *Folder
	err    error
}

// Open returns a store for the mbox file at path, named after the file.
func Open(path string, logger *slog.Logger) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("mbox path is empty")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	title := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return newStore(title, func() (io.ReadCloser, error) { return os.Open(path) }, logger), nil
}

// New returns a store reading the mbox data in data.
func New(title string, data []byte, logger *slog.Logger) *Store {
	return newStore(title, func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, logger)
}

func newStore(title string, open func() (io.ReadCloser, error), logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Store{title: title, open: open, logger: logger}
}

func (s *Store) Name() string { return s.title }

func (s *Store) Root(ctx context.Context) (source.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.once.Do(func() {
		s.folder, s.err = s.load(ctx)
	})
	if s.err != nil {
		return nil, s.err
	}
	return s.folder, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) load(ctx context.Context) (*Folder, error) {
	rc, err := s.open()
	if err != nil {
		return nil, fmt.Errorf("open mbox: %w", err)
	}
	defer rc.Close()

	folder := &Folder{name: s.title}
	reader := mboxlib.NewReader(rc)
	for idx := 1; ; idx++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		msgReader, err := reader.NextMessage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			folder.scanErr = &source.Error{Op: fmt.Sprintf("mbox message %d", idx), Code: source.CodeCorruptData, Err: err}
			s.logger.Error("mbox stream error", "store", s.title, "err", err)
			break
		}

		raw, err := io.ReadAll(msgReader)
		if err != nil {
			folder.scanErr = &source.Error{Op: fmt.Sprintf("mbox message %d read", idx), Code: source.CodeCorruptData, Err: err}
			s.logger.Error("mbox stream error", "store", s.title, "err", err)
			break
		}
		folder.ids = append(folder.ids, source.EntryID(strconv.Itoa(idx)))
		folder.raw = append(folder.raw, raw)
	}
	s.logger.Debug("mbox scanned", "store", s.title, "messages", len(folder.ids))
	return folder, nil
}

// Folder holds the messages of the file. A scan error is reported by
// Contents after the readable messages were collected.
type Folder struct {
	name    string
	ids     []source.EntryID
	raw     [][]byte
	scanErr error
}

func (f *Folder) Name() string { return f.name }

func (f *Folder) Subfolders(ctx context.Context) ([]source.Folder, error) {
	return nil, ctx.Err()
}

func (f *Folder) Contents(ctx context.Context) ([]source.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.scanErr != nil {
		return nil, f.scanErr
	}
	return append([]source.EntryID(nil), f.ids...), nil
}

// Raw returns the bytes of the message with id.
func (f *Folder) Raw(id source.EntryID) ([]byte, bool) {
	idx, err := strconv.Atoi(string(id))
	if err != nil || idx < 1 || idx > len(f.raw) {
		return nil, false
	}
	return f.raw[idx-1], true
}

func (f *Folder) OpenMessage(ctx context.Context, id source.EntryID) (source.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	raw, ok := f.Raw(id)
	if !ok {
		return nil, source.NewError("open entry "+string(id), 0, source.CodeNotFound)
	}
	msg, err := rfc822.Parse(string(id), raw, rfc822.Meta{})
	if err != nil {
		return nil, &source.Error{Op: "open entry " + string(id), Code: source.CodeCorruptData, Err: err}
	}
	return msg, nil
}
