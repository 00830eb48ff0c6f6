// Package convert translates a stored message into a model.Message ready for
// serialization.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dhcgn/mapi-to-maildir/attach"
	"github.com/dhcgn/mapi-to-maildir/body"
	"github.com/dhcgn/mapi-to-maildir/headers"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// ConvertedHeader marks every converted message.
const ConvertedHeader = "X-ConvertedFromMapi"

// Category is the conversion path chosen from the message class.
type Category int

const (
	CategoryMail Category = iota
	CategoryNDR
	CategoryContact
	CategoryAppointment
	CategoryTask
	CategoryNote
	CategoryUnknown
)

var categoryNames = map[Category]string{
	CategoryMail:        "mail",
	CategoryNDR:         "ndr",
	CategoryContact:     "contact",
	CategoryAppointment: "appointment",
	CategoryTask:        "task",
	CategoryNote:        "note",
	CategoryUnknown:     "unknown",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return fmt.Sprintf("category(%d)", int(c))
}

// Placeholder returns the body used for classes that are not converted.
func (c Category) Placeholder() string {
	switch c {
	case CategoryContact:
		return "Conversion of contacts isn't implemented yet"
	case CategoryAppointment:
		return "Conversion of appointments isn't implemented yet"
	case CategoryTask, CategoryNote:
		return "Conversion of tasks and notes isn't implemented yet"
	case CategoryUnknown:
		return "Conversion of this message class isn't implemented yet"
	}
	return ""
}

// Classify maps a message class to its category. Classes compare exactly;
// subclasses, case variants and a missing class are unknown.
func Classify(class string) Category {
	switch class {
	case model.ClassNote:
		return CategoryMail
	case model.ClassNDR:
		return CategoryNDR
	case model.ClassContact:
		return CategoryContact
	case model.ClassCalendar, model.ClassAppointment:
		return CategoryAppointment
	case model.ClassTask:
		return CategoryTask
	case model.ClassStickyNote:
		return CategoryNote
	}
	return CategoryUnknown
}

// Result is the outcome of a translation. Message is nil for non-delivery
// reports.
type Result struct {
	Message          *model.Message
	Category         Category
	AttachmentErrors []error
}

// Translator builds model messages. The zero value is usable.
type Translator struct {
	Logger *slog.Logger
	// Now stamps the conversion header; defaults to time.Now.
	Now func() time.Time
}

// Translate reads msg. Failures of the class or delivery time properties and
// of the recipient table are returned as errors; every other property problem
// is logged and the property treated as missing.
func (t *Translator) Translate(ctx context.Context, msg source.Message) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	logger := t.logger().With("entryID", string(msg.EntryID()))

	classRes := msg.Prop(ctx, source.TagMessageClass)
	if classRes.IsFailed() {
		return Result{}, fmt.Errorf("message class: %w", classRes.Err)
	}
	class, _ := classRes.Text()
	category := Classify(class)
	if category == CategoryNDR {
		return Result{Category: category}, nil
	}
	out := &model.Message{EntryID: string(msg.EntryID()), Class: class}

	timeRes := msg.Prop(ctx, source.TagMessageDeliveryTime)
	if timeRes.IsFailed() {
		return Result{}, fmt.Errorf("delivery time: %w", timeRes.Err)
	}
	out.ReceivedAt, _ = timeRes.Time()

	flagsRes := msg.Prop(ctx, source.TagMessageFlags)
	if flagsRes.IsFailed() {
		logger.Warn("message flags unreadable", "err", flagsRes.Err)
	}
	flags, _ := flagsRes.Int()
	out.Read = flags&source.FlagRead != 0
	out.Draft = flags&source.FlagUnsent != 0

	if category != CategoryMail {
		out.Text = category.Placeholder()
		logger.Debug("message class not converted", "class", class, "category", category.String())
		return Result{Message: out, Category: category}, nil
	}

	res := Result{Message: out, Category: category}
	if err := t.translateMail(ctx, msg, out, &res, logger); err != nil {
		return Result{}, err
	}
	out.AddHeader(ConvertedHeader, "mapi-to-maildir converter. "+t.now().Format(time.RFC1123Z))
	return res, nil
}

func (t *Translator) translateMail(ctx context.Context, msg source.Message, out *model.Message, res *Result, logger *slog.Logger) error {
	text := func(tag source.Tag) (string, bool) {
		r := msg.Prop(ctx, tag)
		if r.IsFailed() {
			logger.Warn("property unreadable", "tag", tag.String(), "err", r.Err)
		}
		return r.Text()
	}

	senderEmail, hasEmail := text(source.TagSenderEmailAddress)
	senderName, hasName := text(source.TagSenderName)
	if hasEmail || hasName {
		out.From = &model.Address{Name: senderName, Email: senderEmail}
	}
	if repName, ok := text(source.TagSentRepresentingName); ok {
		repEmail, _ := text(source.TagSentRepresentingEmail)
		out.ReplyTo = &model.Address{Name: repName, Email: repEmail}
	}
	out.Subject, _ = text(source.TagSubject)

	rows, err := msg.Recipients(ctx)
	if err != nil {
		return fmt.Errorf("recipient table: %w", err)
	}
	for _, row := range rows {
		out.Recipients = append(out.Recipients, recipient(row))
	}

	bodies := body.Resolve(body.Load(ctx, msg, logger))
	if bodies.HasPlain {
		out.Text = bodies.Plain
	}
	if bodies.HasHTML {
		out.HTML = bodies.HTML
	}

	out.Attachments, res.AttachmentErrors = attach.Collect(ctx, msg, logger)

	raw, hasRaw := transportHeaders(ctx, msg, logger)
	out.Headers = append(out.Headers, headers.Reconcile(ctx, raw, hasRaw, msg)...)
	return nil
}

func recipient(row source.Row) model.Recipient {
	var r model.Recipient
	r.Email, _ = row.Text(source.TagEmailAddress)
	r.Name, _ = row.Text(source.TagDisplayName)
	kind, _ := row.Int(source.TagRecipientType)
	switch kind {
	case source.RecipientCc:
		r.Kind = model.Cc
	case source.RecipientBcc:
		r.Kind = model.Bcc
	default:
		r.Kind = model.To
	}
	return r
}

// transportHeaders reads PR_TRANSPORT_MESSAGE_HEADERS, retrying as a stream
// when the backend refuses the value as too large.
func transportHeaders(ctx context.Context, msg source.Message, logger *slog.Logger) (string, bool) {
	r := msg.Prop(ctx, source.TagTransportHeaders)
	if r.IsFound() {
		return r.Text()
	}
	if r.IsNotFound() {
		return "", false
	}
	if code, _ := source.CodeOf(r.Err); code == source.CodeOutOfMemory {
		raw, err := source.ReadText(ctx, msg, source.TagTransportHeaders)
		if err == nil {
			return raw, true
		}
		logger.Warn("transport headers unreadable", "err", err)
		return "", false
	}
	logger.Warn("transport headers unreadable", "err", r.Err)
	return "", false
}

func (t *Translator) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.New(slog.DiscardHandler)
}

func (t *Translator) now() time.Time {
	if t.Now != nil {
		return t.Now()
	}
	return time.Now()
}
