// Package memstore is an in-memory message store. The file-based backends load
// into it, and the pipeline tests build fixtures with it.
package memstore

import (
	"bytes"
	"context"
	"io"
	"slices"
	"strings"

	"github.com/dhcgn/mapi-to-maildir/source"
)

// Store is a named folder tree.
type Store struct {
	Title      string
	RootFolder *Folder
}

// New returns an empty store whose root folder carries the store name.
func New(title string) *Store {
	return &Store{Title: title, RootFolder: NewFolder(title)}
}

func (s *Store) Name() string { return s.Title }

func (s *Store) Root(ctx context.Context) (source.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.RootFolder, nil
}

func (s *Store) Close() error { return nil }

// Folder holds messages and child folders. A non-zero ContentsFailure makes
// Contents fail with that code.
type Folder struct {
	Title           string
	Children        []*Folder
	Messages        []*Message
	ContentsFailure source.Code
}

func NewFolder(title string) *Folder {
	return &Folder{Title: title}
}

// AddFolder appends a child folder and returns it.
func (f *Folder) AddFolder(title string) *Folder {
	child := NewFolder(title)
	f.Children = append(f.Children, child)
	return child
}

// AddMessage appends messages to the folder.
func (f *Folder) AddMessage(msgs ...*Message) *Folder {
	f.Messages = append(f.Messages, msgs...)
	return f
}

// Lookup resolves a slash separated path of child folder names.
func (f *Folder) Lookup(path string) (*Folder, bool) {
	cur := f
	for _, name := range strings.Split(strings.Trim(path, "/"), "/") {
		if name == "" {
			continue
		}
		var next *Folder
		for _, child := range cur.Children {
			if child.Title == name {
				next = child
				break
			}
		}
		if next == nil {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

func (f *Folder) Name() string { return f.Title }

func (f *Folder) Subfolders(ctx context.Context) ([]source.Folder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]source.Folder, 0, len(f.Children))
	for _, child := range f.Children {
		out = append(out, child)
	}
	return out, nil
}

func (f *Folder) Contents(ctx context.Context) ([]source.EntryID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ContentsFailure != 0 {
		return nil, source.NewError("contents table", 0, f.ContentsFailure)
	}
	ids := make([]source.EntryID, 0, len(f.Messages))
	for _, msg := range f.Messages {
		ids = append(ids, msg.ID)
	}
	return ids, nil
}

func (f *Folder) OpenMessage(ctx context.Context, id source.EntryID) (source.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, msg := range f.Messages {
		if msg.ID != id {
			continue
		}
		if msg.OpenFailure != 0 {
			return nil, source.NewError("open entry "+string(id), 0, msg.OpenFailure)
		}
		return msg, nil
	}
	return nil, source.NewError("open entry "+string(id), 0, source.CodeNotFound)
}

// Bag is a property map with optional injected failures. Failures take
// precedence over values.
type Bag struct {
	Props    map[source.Tag]source.Value
	Failures map[source.Tag]source.Code
}

func newBag() Bag {
	return Bag{
		Props:    make(map[source.Tag]source.Value),
		Failures: make(map[source.Tag]source.Code),
	}
}

func (b *Bag) Prop(ctx context.Context, tag source.Tag) source.Result {
	if err := ctx.Err(); err != nil {
		return source.Failed(err)
	}
	if code, ok := b.Failures[tag]; ok {
		return source.Failed(source.NewError("get property", tag, code))
	}
	if v, ok := b.Props[tag]; ok {
		return source.Found(v)
	}
	return source.NotFound()
}

func (b *Bag) PropList(ctx context.Context) ([]source.Tag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tags := make([]source.Tag, 0, len(b.Props)+len(b.Failures))
	for tag := range b.Props {
		tags = append(tags, tag)
	}
	for tag := range b.Failures {
		if _, dup := b.Props[tag]; !dup {
			tags = append(tags, tag)
		}
	}
	slices.Sort(tags)
	return tags, nil
}

func (b *Bag) OpenStream(ctx context.Context, tag source.Tag) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if code, ok := b.Failures[tag]; ok {
		return nil, source.NewError("open property", tag, code)
	}
	switch v := b.Props[tag].(type) {
	case nil:
		return nil, source.NewError("open property", tag, source.CodeNotFound)
	case source.Binary:
		return io.NopCloser(bytes.NewReader(v)), nil
	case source.String:
		return io.NopCloser(strings.NewReader(string(v))), nil
	default:
		return nil, source.NewError("open property", tag, source.CodeNoSupport)
	}
}

// Message is a stored item. OpenFailure makes the folder refuse to open it;
// RecipientsFailure and AttachmentsFailure break the respective tables.
type Message struct {
	Bag
	ID                 source.EntryID
	RecipientRows      []source.Row
	AttachmentList     []*Attachment
	OpenFailure        source.Code
	RecipientsFailure  source.Code
	AttachmentsFailure source.Code
}

func NewMessage(id string) *Message {
	return &Message{Bag: newBag(), ID: source.EntryID(id)}
}

// Set stores a property value.
func (m *Message) Set(tag source.Tag, v source.Value) *Message {
	m.Props[tag] = v
	return m
}

// SetText stores a textual property.
func (m *Message) SetText(tag source.Tag, s string) *Message {
	return m.Set(tag, source.String(s))
}

// Fail makes every read of tag fail with code.
func (m *Message) Fail(tag source.Tag, code source.Code) *Message {
	m.Failures[tag] = code
	return m
}

// AddRecipient appends a recipient table row.
func (m *Message) AddRecipient(kind int32, name, email string) *Message {
	row := source.Row{source.TagRecipientType: source.Int32(kind)}
	if name != "" {
		row[source.TagDisplayName] = source.String(name)
	}
	if email != "" {
		row[source.TagEmailAddress] = source.String(email)
	}
	m.RecipientRows = append(m.RecipientRows, row)
	return m
}

// AddAttachment appends an attachment; its PR_ATTACH_NUM is assigned when unset.
func (m *Message) AddAttachment(a *Attachment) *Message {
	if _, ok := a.Props[source.TagAttachNum]; !ok {
		a.Props[source.TagAttachNum] = source.Int32(len(m.AttachmentList))
	}
	m.AttachmentList = append(m.AttachmentList, a)
	return m
}

func (m *Message) EntryID() source.EntryID { return m.ID }

func (m *Message) Recipients(ctx context.Context) ([]source.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.RecipientsFailure != 0 {
		return nil, source.NewError("recipient table", 0, m.RecipientsFailure)
	}
	return slices.Clone(m.RecipientRows), nil
}

var attachmentColumns = []source.Tag{
	source.TagAttachFilename,
	source.TagAttachLongFilename,
	source.TagAttachContentID,
	source.TagAttachMimeTag,
	source.TagAttachSize,
	source.TagAttachNum,
}

func (m *Message) Attachments(ctx context.Context) ([]source.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.AttachmentsFailure != 0 {
		return nil, source.NewError("attachment table", 0, m.AttachmentsFailure)
	}
	rows := make([]source.Row, 0, len(m.AttachmentList))
	for _, a := range m.AttachmentList {
		row := source.Row{}
		for _, tag := range attachmentColumns {
			if v, ok := a.Props[tag]; ok {
				row[tag] = v
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func (m *Message) OpenAttachment(ctx context.Context, num int64) (source.PropertyBag, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for _, a := range m.AttachmentList {
		n, ok := source.Row(a.Props).Int(source.TagAttachNum)
		if !ok || n != num {
			continue
		}
		if a.OpenFailure != 0 {
			return nil, source.NewError("open attachment", 0, a.OpenFailure)
		}
		return &a.Bag, nil
	}
	return nil, source.NewError("open attachment", 0, source.CodeNotFound)
}

// Attachment is an attachment property bag.
type Attachment struct {
	Bag
	OpenFailure source.Code
}

// NewAttachment builds a file attachment. Empty filename or mime type leave
// the property unset.
func NewAttachment(filename, mimeType string, data []byte) *Attachment {
	a := &Attachment{Bag: newBag()}
	if filename != "" {
		a.Props[source.TagAttachFilename] = source.String(filename)
	}
	if mimeType != "" {
		a.Props[source.TagAttachMimeTag] = source.String(mimeType)
	}
	if data != nil {
		a.Props[source.TagAttachDataBin] = source.Binary(data)
		a.Props[source.TagAttachSize] = source.Int32(len(data))
	}
	return a
}

// Fail makes every read of tag fail with code.
func (a *Attachment) Fail(tag source.Tag, code source.Code) *Attachment {
	a.Failures[tag] = code
	return a
}
