// Package source defines the message-store contract the exporter reads from:
// a tree of folders whose messages are property bags with recipient and
// attachment tables.
package source

import (
	"context"
	"fmt"
	"io"
	"strings"
)

// EntryID identifies a message within its folder.
type EntryID string

// PropertyBag is a store object whose attributes are addressed by Tag.
type PropertyBag interface {
	// Prop looks up a single property.
	Prop(ctx context.Context, tag Tag) Result
	// PropList lists every tag the object carries.
	PropList(ctx context.Context) ([]Tag, error)
	// OpenStream opens a long-valued property for streaming. A missing
	// property yields an *Error with CodeNotFound.
	OpenStream(ctx context.Context, tag Tag) (io.ReadCloser, error)
}

// Message is a single store item.
type Message interface {
	PropertyBag
	EntryID() EntryID
	// Recipients returns the recipient table, one row per recipient.
	Recipients(ctx context.Context) ([]Row, error)
	// Attachments returns the attachment table, one row per attachment.
	Attachments(ctx context.Context) ([]Row, error)
	// OpenAttachment opens the attachment whose TagAttachNum is num.
	OpenAttachment(ctx context.Context, num int64) (PropertyBag, error)
}

// Folder is a node of the store hierarchy.
type Folder interface {
	Name() string
	Subfolders(ctx context.Context) ([]Folder, error)
	Contents(ctx context.Context) ([]EntryID, error)
	OpenMessage(ctx context.Context, id EntryID) (Message, error)
}

// Store is an opened message store.
type Store interface {
	Name() string
	Root(ctx context.Context) (Folder, error)
	Close() error
}

// Row is one row of a recipient or attachment table.
type Row map[Tag]Value

// Text returns the column value when it is textual.
func (r Row) Text(tag Tag) (string, bool) {
	s, ok := r[tag].(String)
	return string(s), ok
}

// Int returns the column value when it is integral.
func (r Row) Int(tag Tag) (int64, bool) {
	switch v := r[tag].(type) {
	case Int32:
		return int64(v), true
	case Int64:
		return int64(v), true
	}
	return 0, false
}

// ReadStream reads a long-valued property completely.
func ReadStream(ctx context.Context, bag PropertyBag, tag Tag) ([]byte, error) {
	rc, err := bag.OpenStream(ctx, tag)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, &Error{Op: "read stream", Tag: tag, Code: CodeCallFailed, Err: err}
	}
	return data, nil
}

// ReadText reads a long-valued string property as UTF-8 text.
func ReadText(ctx context.Context, bag PropertyBag, tag Tag) (string, error) {
	data, err := ReadStream(ctx, bag, tag)
	if err != nil {
		return "", err
	}
	return strings.ToValidUTF8(string(data), "�"), nil
}

// CountMessages walks the tree below folder and counts folder contents.
func CountMessages(ctx context.Context, folder Folder) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	ids, err := folder.Contents(ctx)
	if err != nil {
		return 0, fmt.Errorf("folder %q contents: %w", folder.Name(), err)
	}
	total := len(ids)

	children, err := folder.Subfolders(ctx)
	if err != nil {
		return 0, fmt.Errorf("folder %q subfolders: %w", folder.Name(), err)
	}
	for _, child := range children {
		n, err := CountMessages(ctx, child)
		if err != nil {
			return 0, err
		}
		total += n
	}
	return total, nil
}
