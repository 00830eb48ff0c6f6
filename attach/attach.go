// Package attach copies the attachments of a stored message, isolating every
// failure to the attachment it happened on.
package attach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// DefaultContentType is used when an attachment has no MIME tag.
const DefaultContentType = "application/x-octet-stream"

var ErrNoAttachNum = errors.New("attachment row has no PR_ATTACH_NUM")

// Collect returns the attachments of msg in table order. Attachments that
// cannot be opened are left out; unreadable payloads are replaced by an error
// description. Each problem is returned in the error slice and logged.
func Collect(ctx context.Context, msg source.Message, logger *slog.Logger) ([]model.Attachment, []error) {
	rows, err := msg.Attachments(ctx)
	if err != nil {
		err = fmt.Errorf("attachment table: %w", err)
		logWarn(logger, "attachment table unavailable", "err", err)
		return nil, []error{err}
	}

	var (
		out  []model.Attachment
		errs []error
	)
	for i, row := range rows {
		att, keep, err := collectOne(ctx, msg, row, i+1)
		if err != nil {
			errs = append(errs, err)
			logWarn(logger, "attachment problem", "index", i+1, "filename", att.Filename, "kept", keep, "err", err)
		}
		if keep {
			out = append(out, att)
		}
	}
	return out, errs
}

// collectOne reports keep=false when the attachment could not be opened. An
// error with keep=true means the payload was replaced by a placeholder.
func collectOne(ctx context.Context, msg source.Message, row source.Row, seq int) (att model.Attachment, keep bool, err error) {
	att = model.Attachment{
		Filename:    fmt.Sprintf("Attach%d.dat", seq),
		ContentType: DefaultContentType,
	}
	if name, ok := row.Text(source.TagAttachLongFilename); ok && name != "" {
		att.Filename = name
	} else if name, ok := row.Text(source.TagAttachFilename); ok {
		att.Filename = name
	}
	if mime, ok := row.Text(source.TagAttachMimeTag); ok {
		att.ContentType = mime
	}
	if cid, ok := row.Text(source.TagAttachContentID); ok {
		att.ContentID = cid
	}

	num, ok := row.Int(source.TagAttachNum)
	if !ok {
		return att, false, ErrNoAttachNum
	}
	bag, err := msg.OpenAttachment(ctx, num)
	if err != nil {
		return att, false, fmt.Errorf("open attachment %d: %w", num, err)
	}

	data, err := Payload(ctx, bag)
	if err != nil {
		att.Data = []byte(fmt.Sprintf("Error getting contents of attachment '%s' due to error '%v'", att.Filename, err))
		return att, true, fmt.Errorf("attachment %q payload: %w", att.Filename, err)
	}
	att.Data = data
	return att, true, nil
}

// Payload reads PR_ATTACH_DATA_BIN, falling back to PR_ATTACH_DATA_OBJ when
// the binary data is not present.
func Payload(ctx context.Context, bag source.PropertyBag) ([]byte, error) {
	data, err := source.ReadStream(ctx, bag, source.TagAttachDataBin)
	if source.IsNotFound(err) {
		data, err = source.ReadStream(ctx, bag, source.TagAttachDataObj)
	}
	return data, err
}

func logWarn(logger *slog.Logger, msg string, args ...any) {
	if logger != nil {
		logger.Warn(msg, args...)
	}
}
