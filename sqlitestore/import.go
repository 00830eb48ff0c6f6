package sqlitestore

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/dhcgn/mapi-to-maildir/source"
)

// Import copies every folder, message, recipient and attachment of src into
// a new database at path. Backend failures are stored as codes so that the
// database fails the same way src did.
func Import(ctx context.Context, path string, src source.Store) error {
	db, err := openDB(path)
	if err != nil {
		return err
	}
	defer db.Close()

	var count int
	if err := db.GetContext(ctx, &count, "SELECT COUNT(*) FROM store"); err != nil {
		return fmt.Errorf("checking store table: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("store database %s is not empty", path)
	}

	root, err := src.Root(ctx)
	if err != nil {
		return fmt.Errorf("open root folder: %w", err)
	}

	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "INSERT INTO store (name) VALUES (?)", src.Name()); err != nil {
		return fmt.Errorf("writing store name: %w", err)
	}
	if err := importFolder(ctx, tx, root, nil, 0); err != nil {
		return err
	}
	return tx.Commit()
}

func importFolder(ctx context.Context, tx *sqlx.Tx, f source.Folder, parent *int64, position int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var contentsErr int64
	ids, err := f.Contents(ctx)
	if code, ok := source.CodeOf(err); ok {
		contentsErr = int64(code)
	} else if err != nil {
		return fmt.Errorf("folder %q contents: %w", f.Name(), err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT INTO folders (parent_id, position, name, contents_error) VALUES (?, ?, ?, ?)",
		parent, position, f.Name(), contentsErr)
	if err != nil {
		return fmt.Errorf("inserting folder %q: %w", f.Name(), err)
	}
	folderID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("folder %q id: %w", f.Name(), err)
	}

	for i, id := range ids {
		if err := importMessage(ctx, tx, f, folderID, i, id); err != nil {
			return fmt.Errorf("folder %q: %w", f.Name(), err)
		}
	}

	children, err := f.Subfolders(ctx)
	if err != nil {
		return fmt.Errorf("folder %q subfolders: %w", f.Name(), err)
	}
	for i, child := range children {
		if err := importFolder(ctx, tx, child, &folderID, i); err != nil {
			return err
		}
	}
	return nil
}

func importMessage(ctx context.Context, tx *sqlx.Tx, f source.Folder, folderID int64, position int, id source.EntryID) error {
	var openErr, recipientsErr, attachmentsErr int64

	msg, err := f.OpenMessage(ctx, id)
	if err != nil {
		code, ok := source.CodeOf(err)
		if !ok {
			return fmt.Errorf("open message %s: %w", id, err)
		}
		openErr = int64(code)
	}

	var recipients, attachments []source.Row
	if msg != nil {
		recipients, err = msg.Recipients(ctx)
		if code, ok := source.CodeOf(err); ok {
			recipientsErr = int64(code)
		} else if err != nil {
			return fmt.Errorf("message %s recipients: %w", id, err)
		}
		attachments, err = msg.Attachments(ctx)
		if code, ok := source.CodeOf(err); ok {
			attachmentsErr = int64(code)
		} else if err != nil {
			return fmt.Errorf("message %s attachments: %w", id, err)
		}
	}

	res, err := tx.ExecContext(ctx, `
		INSERT INTO messages (folder_id, position, entry_id, open_error, recipients_error, attachments_error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		folderID, position, string(id), openErr, recipientsErr, attachmentsErr)
	if err != nil {
		return fmt.Errorf("inserting message %s: %w", id, err)
	}
	if msg == nil {
		return nil
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("message %s id: %w", id, err)
	}

	if err := importBag(ctx, tx, ownerMessage, msgID, msg); err != nil {
		return fmt.Errorf("message %s: %w", id, err)
	}

	for i, row := range recipients {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO recipients (message_id, position) VALUES (?, ?)", msgID, i)
		if err != nil {
			return fmt.Errorf("inserting recipient of %s: %w", id, err)
		}
		rid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("recipient of %s id: %w", id, err)
		}
		for tag, v := range row {
			if err := insertProp(ctx, tx, ownerRecipient, rid, tag, v, 0); err != nil {
				return fmt.Errorf("message %s recipient %d: %w", id, i, err)
			}
		}
	}

	for i, row := range attachments {
		num, _ := row.Int(source.TagAttachNum)
		var openErr int64
		bag, err := msg.OpenAttachment(ctx, num)
		if err != nil {
			code, ok := source.CodeOf(err)
			if !ok {
				return fmt.Errorf("message %s attachment %d: %w", id, num, err)
			}
			openErr = int64(code)
		}

		res, err := tx.ExecContext(ctx,
			"INSERT INTO attachments (message_id, position, open_error) VALUES (?, ?, ?)", msgID, i, openErr)
		if err != nil {
			return fmt.Errorf("inserting attachment %d of %s: %w", num, id, err)
		}
		aid, err := res.LastInsertId()
		if err != nil {
			return fmt.Errorf("attachment %d of %s id: %w", num, id, err)
		}

		if bag == nil {
			// Keep the table row so the attachment still shows up and fails on open.
			for tag, v := range row {
				if err := insertProp(ctx, tx, ownerAttachment, aid, tag, v, 0); err != nil {
					return fmt.Errorf("message %s attachment %d: %w", id, num, err)
				}
			}
			continue
		}
		if err := importBag(ctx, tx, ownerAttachment, aid, bag); err != nil {
			return fmt.Errorf("message %s attachment %d: %w", id, num, err)
		}
	}
	return nil
}

func importBag(ctx context.Context, tx *sqlx.Tx, kind string, owner int64, bag source.PropertyBag) error {
	tags, err := bag.PropList(ctx)
	if err != nil {
		return fmt.Errorf("property list: %w", err)
	}
	for _, tag := range tags {
		res := bag.Prop(ctx, tag)
		switch {
		case res.IsFound():
			err = insertProp(ctx, tx, kind, owner, tag, res.Value, 0)
		case res.IsFailed():
			code, ok := source.CodeOf(res.Err)
			if !ok {
				return fmt.Errorf("%s: %w", tag, res.Err)
			}
			err = insertProp(ctx, tx, kind, owner, tag, nil, code)
		default:
			continue
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func insertProp(ctx context.Context, tx *sqlx.Tx, kind string, owner int64, tag source.Tag, v source.Value, code source.Code) error {
	var (
		text any
		blob []byte
	)
	switch val := v.(type) {
	case nil:
	case source.Binary:
		blob = []byte(val)
		if blob == nil {
			blob = []byte{}
		}
	default:
		text = source.FormatValue(val)
	}
	_, err := tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO properties (owner_kind, owner_id, tag, value, blob, error)
		VALUES (?, ?, ?, ?, ?, ?)`,
		kind, owner, int64(tag), text, blob, int64(code))
	if err != nil {
		return fmt.Errorf("inserting property %s: %w", tag, err)
	}
	return nil
}
