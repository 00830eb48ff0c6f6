// Package sqlitestore keeps a message store in a SQLite database. Folders,
// messages, recipients and attachments are rows; their properties live in
// one table keyed by owner and tag, together with injected failure codes.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/source"
)

const (
	ownerMessage    = "message"
	ownerRecipient  = "recipient"
	ownerAttachment = "attachment"
)

// Store reads folders lazily from the database; a message is loaded
// completely when opened.
type Store struct {
	db   *sqlx.DB
	name string
}

func openDB(path string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

func runMigrations(db *sqlx.DB) error {
	currentVersion := 0

	var tableCount int
	err := db.Get(&tableCount,
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'")
	if err != nil {
		return fmt.Errorf("checking schema_version table: %w", err)
	}
	if tableCount > 0 {
		if err := db.Get(&currentVersion, "SELECT COALESCE(MAX(version), 0) FROM schema_version"); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		if _, err := db.Exec(m.sql); err != nil {
			return fmt.Errorf("applying migration v%d: %w", m.version, err)
		}
	}
	return nil
}

// Open opens an existing store database.
func Open(path string) (*Store, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("open store database: %w", err)
	}
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	var name string
	if err := db.Get(&name, "SELECT name FROM store LIMIT 1"); err != nil {
		db.Close()
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("store database %s is empty", path)
		}
		return nil, fmt.Errorf("reading store name: %w", err)
	}
	return &Store{db: db, name: name}, nil
}

func (s *Store) Name() string { return s.name }

func (s *Store) Close() error { return s.db.Close() }

type folderRow struct {
	ID            int64  `db:"id"`
	Name          string `db:"name"`
	ContentsError int64  `db:"contents_error"`
}

func (s *Store) Root(ctx context.Context) (source.Folder, error) {
	var row folderRow
	err := s.db.GetContext(ctx, &row,
		"SELECT id, name, contents_error FROM folders WHERE parent_id IS NULL LIMIT 1")
	if err != nil {
		return nil, fmt.Errorf("reading root folder: %w", err)
	}
	return &Folder{db: s.db, row: row}, nil
}

type Folder struct {
	db  *sqlx.DB
	row folderRow
}

func (f *Folder) Name() string { return f.row.Name }

func (f *Folder) Subfolders(ctx context.Context) ([]source.Folder, error) {
	var rows []folderRow
	err := f.db.SelectContext(ctx, &rows,
		"SELECT id, name, contents_error FROM folders WHERE parent_id = ? ORDER BY position", f.row.ID)
	if err != nil {
		return nil, &source.Error{Op: "subfolders " + f.row.Name, Code: source.CodeCallFailed, Err: err}
	}
	out := make([]source.Folder, 0, len(rows))
	for _, r := range rows {
		out = append(out, &Folder{db: f.db, row: r})
	}
	return out, nil
}

func (f *Folder) Contents(ctx context.Context) ([]source.EntryID, error) {
	if f.row.ContentsError != 0 {
		return nil, source.NewError("contents "+f.row.Name, 0, source.Code(f.row.ContentsError))
	}
	var ids []string
	err := f.db.SelectContext(ctx, &ids,
		"SELECT entry_id FROM messages WHERE folder_id = ? ORDER BY position", f.row.ID)
	if err != nil {
		return nil, &source.Error{Op: "contents " + f.row.Name, Code: source.CodeCallFailed, Err: err}
	}
	out := make([]source.EntryID, 0, len(ids))
	for _, id := range ids {
		out = append(out, source.EntryID(id))
	}
	return out, nil
}

type messageRow struct {
	ID               int64  `db:"id"`
	EntryID          string `db:"entry_id"`
	OpenError        int64  `db:"open_error"`
	RecipientsError  int64  `db:"recipients_error"`
	AttachmentsError int64  `db:"attachments_error"`
}

type propRow struct {
	OwnerID int64          `db:"owner_id"`
	Tag     int64          `db:"tag"`
	Value   sql.NullString `db:"value"`
	Blob    []byte         `db:"blob"`
	Error   int64          `db:"error"`
}

type childRow struct {
	ID        int64 `db:"id"`
	OpenError int64 `db:"open_error"`
}

// OpenMessage loads the message with its recipient and attachment tables.
func (f *Folder) OpenMessage(ctx context.Context, id source.EntryID) (source.Message, error) {
	op := "open entry " + string(id)
	var row messageRow
	err := f.db.GetContext(ctx, &row, `
		SELECT id, entry_id, open_error, recipients_error, attachments_error
		FROM messages WHERE folder_id = ? AND entry_id = ?`, f.row.ID, string(id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, source.NewError(op, 0, source.CodeNotFound)
	}
	if err != nil {
		return nil, &source.Error{Op: op, Code: source.CodeCallFailed, Err: err}
	}
	if row.OpenError != 0 {
		return nil, source.NewError(op, 0, source.Code(row.OpenError))
	}

	msg := memstore.NewMessage(row.EntryID)
	msg.RecipientsFailure = source.Code(row.RecipientsError)
	msg.AttachmentsFailure = source.Code(row.AttachmentsError)
	if err := f.loadBag(ctx, ownerMessage, row.ID, &msg.Bag); err != nil {
		return nil, &source.Error{Op: op, Code: source.CodeCorruptData, Err: err}
	}

	var recipients []childRow
	err = f.db.SelectContext(ctx, &recipients,
		"SELECT id, 0 AS open_error FROM recipients WHERE message_id = ? ORDER BY position", row.ID)
	if err != nil {
		return nil, &source.Error{Op: op, Code: source.CodeCallFailed, Err: err}
	}
	for _, r := range recipients {
		bag := memstore.Bag{Props: map[source.Tag]source.Value{}, Failures: map[source.Tag]source.Code{}}
		if err := f.loadBag(ctx, ownerRecipient, r.ID, &bag); err != nil {
			return nil, &source.Error{Op: op, Code: source.CodeCorruptData, Err: err}
		}
		msg.RecipientRows = append(msg.RecipientRows, source.Row(bag.Props))
	}

	var attachments []childRow
	err = f.db.SelectContext(ctx, &attachments,
		"SELECT id, open_error FROM attachments WHERE message_id = ? ORDER BY position", row.ID)
	if err != nil {
		return nil, &source.Error{Op: op, Code: source.CodeCallFailed, Err: err}
	}
	for _, a := range attachments {
		att := memstore.NewAttachment("", "", nil)
		att.OpenFailure = source.Code(a.OpenError)
		if err := f.loadBag(ctx, ownerAttachment, a.ID, &att.Bag); err != nil {
			return nil, &source.Error{Op: op, Code: source.CodeCorruptData, Err: err}
		}
		msg.AddAttachment(att)
	}
	return msg, nil
}

func (f *Folder) loadBag(ctx context.Context, kind string, owner int64, bag *memstore.Bag) error {
	var props []propRow
	err := f.db.SelectContext(ctx, &props,
		"SELECT owner_id, tag, value, blob, error FROM properties WHERE owner_kind = ? AND owner_id = ?",
		kind, owner)
	if err != nil {
		return fmt.Errorf("reading %s %d properties: %w", kind, owner, err)
	}
	for _, p := range props {
		tag := source.Tag(uint32(p.Tag))
		if p.Error != 0 {
			bag.Failures[tag] = source.Code(p.Error)
			continue
		}
		v, err := decodeValue(tag, p)
		if err != nil {
			return fmt.Errorf("%s %d %s: %w", kind, owner, tag, err)
		}
		bag.Props[tag] = v
	}
	return nil
}

func decodeValue(tag source.Tag, p propRow) (source.Value, error) {
	switch tag.Type() {
	case source.TypeBinary, source.TypeObject:
		return source.Binary(p.Blob), nil
	}
	return source.ParseValue(tag.Type(), p.Value.String)
}
