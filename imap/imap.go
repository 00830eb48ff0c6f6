// Package imap reads an IMAP account as a message store. Mailboxes become
// folders along the server's hierarchy delimiter and messages are fetched
// whole and parsed on open.
package imap

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"sync"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/dhcgn/mapi-to-maildir/rfc822"
	"github.com/dhcgn/mapi-to-maildir/source"
)

type Options struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
}

// Store is a logged-in IMAP session. Commands are serialized on the single
// connection.
type Store struct {
	opts   Options
	logger *slog.Logger

	mu       sync.Mutex
	client   *imapclient.Client
	selected string
	root     *Folder
	cleanup  func()
}

// Open dials the server, logs in and lists the mailbox hierarchy.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (*Store, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Store{opts: opts, logger: logger}
	client, cleanup, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	s.client, s.cleanup = client, cleanup

	if err := s.list(); err != nil {
		cleanup()
		return nil, err
	}
	return s, nil
}

func (s *Store) dial(ctx context.Context) (*imapclient.Client, func(), error) {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return nil, nil, fmt.Errorf("imap login failed: %w", err)
	}

	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "tls", s.opts.UseTLS)

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	cleanup := func() {
		stopClose()
		if ctx.Err() == nil {
			if err := client.Logout().Wait(); err != nil {
				s.logger.Warn("imap logout failed", "err", err)
			}
		}
		if err := client.Close(); err != nil {
			s.logger.Debug("imap connection closed", "err", err)
		}
	}

	return client, cleanup, nil
}

// list builds the folder tree from LIST "" "*". Missing intermediate levels
// become folders without messages.
func (s *Store) list() error {
	boxes, err := s.client.List("", "*", nil).Collect()
	if err != nil {
		return fmt.Errorf("imap list: %w", err)
	}
	slices.SortFunc(boxes, func(a, b *imapv2.ListData) int {
		return strings.Compare(a.Mailbox, b.Mailbox)
	})

	s.root = &Folder{store: s, name: s.Name(), noSelect: true}
	nodes := map[string]*Folder{"": s.root}
	for _, box := range boxes {
		parts := []string{box.Mailbox}
		if box.Delim != 0 {
			parts = strings.Split(box.Mailbox, string(box.Delim))
		}

		parent := s.root
		for i, part := range parts {
			key := strings.Join(parts[:i+1], "\x00")
			node, ok := nodes[key]
			if !ok {
				node = &Folder{store: s, name: part, noSelect: true}
				nodes[key] = node
				parent.children = append(parent.children, node)
			}
			parent = node
		}
		parent.mailbox = box.Mailbox
		parent.noSelect = slices.Contains(box.Attrs, imapv2.MailboxAttrNoSelect) ||
			slices.Contains(box.Attrs, imapv2.MailboxAttrNonExistent)
	}
	s.logger.Debug("imap mailboxes listed", "count", len(boxes))
	return nil
}

func (s *Store) Name() string {
	return s.opts.Username + "@" + s.opts.Host
}

func (s *Store) Root(ctx context.Context) (source.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.root, nil
}

// Close logs out.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cleanup != nil {
		s.cleanup()
		s.cleanup = nil
	}
	return nil
}

// selectMailbox examines name read-only unless it is already selected. The
// caller holds s.mu.
func (s *Store) selectMailbox(name string) error {
	if s.selected == name {
		return nil
	}
	if _, err := s.client.Select(name, &imapv2.SelectOptions{ReadOnly: true}).Wait(); err != nil {
		s.selected = ""
		return err
	}
	s.selected = name
	return nil
}

// Folder is one mailbox, or a hierarchy level the server does not let us
// select.
type Folder struct {
	store    *Store
	name     string
	mailbox  string
	noSelect bool
	children []*Folder
}

func (f *Folder) Name() string { return f.name }

func (f *Folder) Subfolders(ctx context.Context) ([]source.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]source.Folder, 0, len(f.children))
	for _, c := range f.children {
		out = append(out, c)
	}
	return out, nil
}

// Contents lists the UIDs of the mailbox.
func (f *Folder) Contents(ctx context.Context) ([]source.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.noSelect {
		return nil, nil
	}

	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectMailbox(f.mailbox); err != nil {
		return nil, callFailed("select "+f.mailbox, err)
	}
	data, err := s.client.UIDSearch(&imapv2.SearchCriteria{}, nil).Wait()
	if err != nil {
		return nil, callFailed("search "+f.mailbox, err)
	}

	uids := data.AllUIDs()
	ids := make([]source.EntryID, 0, len(uids))
	for _, uid := range uids {
		ids = append(ids, source.EntryID(strconv.FormatUint(uint64(uid), 10)))
	}
	return ids, nil
}

// OpenMessage fetches the message with UID id without setting \Seen.
func (f *Folder) OpenMessage(ctx context.Context, id source.EntryID) (source.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	op := "open entry " + string(id)
	uid, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || f.noSelect {
		return nil, source.NewError(op, 0, source.CodeNotFound)
	}

	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.selectMailbox(f.mailbox); err != nil {
		return nil, callFailed("select "+f.mailbox, err)
	}

	section := &imapv2.FetchItemBodySection{Peek: true}
	fetchOpts := &imapv2.FetchOptions{
		UID:          true,
		Flags:        true,
		InternalDate: true,
		BodySection:  []*imapv2.FetchItemBodySection{section},
	}
	bufs, err := s.client.Fetch(imapv2.UIDSetNum(imapv2.UID(uid)), fetchOpts).Collect()
	if err != nil {
		return nil, callFailed(op, err)
	}
	if len(bufs) == 0 {
		return nil, source.NewError(op, 0, source.CodeNotFound)
	}

	buf := bufs[0]
	raw := buf.FindBodySection(section)
	if raw == nil {
		return nil, source.NewError(op, 0, source.CodeNotFound)
	}
	meta := rfc822.Meta{
		Read:     slices.Contains(buf.Flags, imapv2.FlagSeen),
		Draft:    slices.Contains(buf.Flags, imapv2.FlagDraft),
		Received: buf.InternalDate,
	}
	msg, err := rfc822.Parse(string(id), raw, meta)
	if err != nil {
		return nil, &source.Error{Op: op, Code: source.CodeCorruptData, Err: err}
	}
	return msg, nil
}

func callFailed(op string, err error) error {
	code := source.CodeCallFailed
	var respErr *imapv2.Error
	if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeNonExistent {
		code = source.CodeNotFound
	}
	return &source.Error{Op: op, Code: code, Err: err}
}
