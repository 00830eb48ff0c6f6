// Package maildir writes translated messages into Maildir++ style mailboxes,
// one file per message in cur/.
package maildir

import (
	"bufio"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	gomaildir "github.com/emersion/go-maildir"

	"github.com/dhcgn/mapi-to-maildir/compose"
	"github.com/dhcgn/mapi-to-maildir/convert"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// Status describes what happened to a message.
type Status string

const (
	StatusWritten     Status = "written"
	StatusDryRun      Status = "dry_run"
	StatusSkipped     Status = "skipped"
	StatusPlaceholder Status = "placeholder"
	StatusFiltered    Status = "filtered"
	StatusFailed      Status = "failed"
)

// Outcome reports a single AddMessage call.
type Outcome struct {
	Status           Status
	Mailbox          string
	EntryID          string
	Class            string
	Subject          string
	Name             string
	File             string
	SHA256           string
	AttachmentErrors []error
	Err              error
}

// MessageFilter decides whether a translated message is written.
type MessageFilter interface {
	AllowsMessage(msg *model.Message) bool
}

// Options configure every mailbox of an export.
type Options struct {
	Translator *convert.Translator
	Filter     MessageFilter
	// Hostname is used verbatim in file names; defaults to Hostname().
	Hostname string
	// TempDir receives the serialized message before it is copied into cur/.
	TempDir string
	DryRun  bool
	// CompensateTimestamp applies the UTC offset correction to file times.
	CompensateTimestamp bool
	// IsolateMessages keeps AddFolder going when a message fails.
	IsolateMessages bool
	// OnMessage is called once per message processed by AddFolder.
	OnMessage func(Outcome)
	Logger    *slog.Logger
	Now       func() time.Time
}

// Mailbox is a Maildir directory with its own unique id sequence.
type Mailbox struct {
	path string
	opts Options
	seq  *Sequence
}

// Create makes the top-level mailbox "<root>/.<title>".
func Create(root, title string, opts Options) (*Mailbox, error) {
	if !opts.DryRun {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return nil, fmt.Errorf("maildir %s: %w", root, err)
		}
	}
	return create(filepath.Join(root, "."+EscapeTitle(title)), opts)
}

// CreateChild makes a nested mailbox "<parent path>.<title>".
func (m *Mailbox) CreateChild(title string) (*Mailbox, error) {
	return create(m.path+"."+EscapeTitle(title), m.opts)
}

// create removes anything already at path and lays out tmp/, new/ and cur/.
func create(path string, opts Options) (*Mailbox, error) {
	if opts.Hostname == "" {
		opts.Hostname = Hostname()
	}
	if opts.Translator == nil {
		opts.Translator = &convert.Translator{Logger: opts.Logger}
	}
	m := &Mailbox{path: path, opts: opts, seq: NewSequence()}
	if opts.DryRun {
		m.logger().Debug("dry-run mailbox", "mailbox", path)
		return m, nil
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("maildir %s: remove existing: %w", path, err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("maildir %s: %w", path, err)
	}
	if err := gomaildir.Dir(path).Init(); err != nil {
		return nil, fmt.Errorf("maildir %s: %w", path, err)
	}
	m.logger().Debug("mailbox created", "mailbox", path)
	return m, nil
}

// Path returns the mailbox directory.
func (m *Mailbox) Path() string { return m.path }

// AddMessage translates msg and writes it to cur/. Non-delivery reports and
// message classes without a converter are reported but not written.
func (m *Mailbox) AddMessage(ctx context.Context, msg source.Message) (Outcome, error) {
	out := Outcome{Mailbox: m.path, EntryID: string(msg.EntryID())}

	res, err := m.opts.Translator.Translate(ctx, msg)
	if err != nil {
		return out, fmt.Errorf("message %s: %w", out.EntryID, err)
	}
	if res.Category == convert.CategoryNDR {
		out.Status = StatusSkipped
		m.logger().Debug("skipping non-delivery report", "entryID", out.EntryID)
		return out, nil
	}

	translated := res.Message
	out.Class = translated.Class
	out.Subject = translated.Subject
	out.AttachmentErrors = res.AttachmentErrors

	received := translated.ReceivedAt
	if !received.IsZero() {
		received = received.Local()
	}
	out.Name = FileName(Ticks(received), m.seq.Next(), m.opts.Hostname, translated.Read, translated.Draft)

	if res.Category != convert.CategoryMail {
		out.Status = StatusPlaceholder
		return out, nil
	}
	if m.opts.Filter != nil && !m.opts.Filter.AllowsMessage(translated) {
		out.Status = StatusFiltered
		return out, nil
	}

	if m.opts.DryRun {
		sum, err := digest(translated)
		if err != nil {
			return out, fmt.Errorf("message %s: %w", out.EntryID, err)
		}
		out.Status, out.SHA256 = StatusDryRun, sum
		return out, nil
	}

	file, sum, err := m.write(translated, out.Name)
	if err != nil {
		return out, err
	}
	out.File, out.SHA256 = file, sum

	if !received.IsZero() {
		stamp := received
		if m.opts.CompensateTimestamp {
			stamp = CompensateTimestamp(received, m.now())
		}
		if err := os.Chtimes(file, stamp, stamp); err != nil {
			return out, fmt.Errorf("maildir %s: set times on %s: %w", m.path, out.Name, err)
		}
	}

	out.Status = StatusWritten
	return out, nil
}

// write serializes msg to a temporary file and copies it into cur/ with
// bare LF line endings. The temporary file is always removed.
func (m *Mailbox) write(msg *model.Message, name string) (string, string, error) {
	tmp, err := os.CreateTemp(m.opts.TempDir, "mapi-to-maildir-*.eml")
	if err != nil {
		return "", "", fmt.Errorf("maildir %s: temp file: %w", m.path, err)
	}
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
	}()

	bw := bufio.NewWriter(tmp)
	if err := compose.Write(bw, msg); err != nil {
		return "", "", fmt.Errorf("message %s: compose: %w", msg.EntryID, err)
	}
	if err := bw.Flush(); err != nil {
		return "", "", fmt.Errorf("maildir %s: temp file: %w", m.path, err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("maildir %s: temp file: %w", m.path, err)
	}

	target := filepath.Join(m.path, "cur", name)
	dst, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return "", "", fmt.Errorf("maildir %s: %w", m.path, err)
	}

	hash := sha256.New()
	out := bufio.NewWriter(io.MultiWriter(dst, hash))
	copyErr := CopyLF(out, tmp)
	if copyErr == nil {
		copyErr = out.Flush()
	}
	closeErr := dst.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(target)
		return "", "", fmt.Errorf("maildir %s: write %s: %w", m.path, name, err)
	}
	return target, hex.EncodeToString(hash.Sum(nil)), nil
}

// AddFolder adds every message of folder. The contents table failing aborts
// the folder; a failing message aborts it too unless IsolateMessages is set.
func (m *Mailbox) AddFolder(ctx context.Context, folder source.Folder) error {
	ids, err := folder.Contents(ctx)
	if err != nil {
		return fmt.Errorf("folder %q contents: %w", folder.Name(), err)
	}

	var failures []error
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}

		outcome, err := m.addEntry(ctx, folder, id)
		if err != nil {
			outcome.Status, outcome.Err = StatusFailed, err
		}
		if m.opts.OnMessage != nil {
			m.opts.OnMessage(outcome)
		}
		if err == nil {
			continue
		}
		if !m.opts.IsolateMessages {
			return fmt.Errorf("folder %q: %w", folder.Name(), err)
		}
		m.logger().Warn("message failed", "mailbox", m.path, "entryID", string(id), "err", err)
		failures = append(failures, err)
	}
	if len(failures) > 0 {
		return fmt.Errorf("folder %q: %d message(s) failed: %w", folder.Name(), len(failures), errors.Join(failures...))
	}
	return nil
}

func (m *Mailbox) addEntry(ctx context.Context, folder source.Folder, id source.EntryID) (Outcome, error) {
	msg, err := folder.OpenMessage(ctx, id)
	if err != nil {
		return Outcome{Mailbox: m.path, EntryID: string(id)}, fmt.Errorf("open message %s: %w", id, err)
	}
	return m.AddMessage(ctx, msg)
}

// CopyLF copies r to w, ending every line with a single LF whether it was
// terminated by CRLF, LF or a lone CR.
func CopyLF(w io.Writer, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if _, err := w.Write(scanner.Bytes()); err != nil {
			return err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return scanner.Err()
}

func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		// A CR at the end of the buffer may be followed by LF.
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// digest hashes the bytes write would produce.
func digest(msg *model.Message) (string, error) {
	var buf bytes.Buffer
	if err := compose.Write(&buf, msg); err != nil {
		return "", fmt.Errorf("compose: %w", err)
	}
	hash := sha256.New()
	if err := CopyLF(hash, &buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

func (m *Mailbox) logger() *slog.Logger {
	if m.opts.Logger != nil {
		return m.opts.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (m *Mailbox) now() time.Time {
	if m.opts.Now != nil {
		return m.opts.Now()
	}
	return time.Now()
}
