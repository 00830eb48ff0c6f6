// Package rfc822 turns internet messages into store messages, so that mbox
// files and IMAP accounts can be exported like any other message store.
package rfc822

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/dhcgn/mapi-to-maildir/filter"
	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/rtf"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// Meta carries what the container knows about a message beyond its bytes.
type Meta struct {
	Read  bool
	Draft bool
	// Received overrides the Date header as delivery time when set.
	Received time.Time
}

// Parse maps raw onto store properties: transport headers, subject, sender,
// reply-to as sent-representing, delivery time, class, flags, bodies,
// recipients and attachments. HTML bodies are also kept as an HTML
// encapsulating RTF body.
func Parse(id string, raw []byte, meta Meta) (*memstore.Message, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	defer mr.Close()

	msg := memstore.NewMessage(id)
	header, _ := filter.SplitRawMessage(raw)
	msg.SetText(source.TagTransportHeaders, strings.ToValidUTF8(string(header), "�")+"\r\n")

	h := mr.Header
	if subject, err := h.Subject(); err == nil && subject != "" {
		msg.SetText(source.TagSubject, subject)
	}
	if mid := h.Get("Message-Id"); mid != "" {
		msg.SetText(source.TagInternetMessageID, mid)
	}

	if from := firstAddress(h, "From"); from != nil {
		setText(msg, source.TagSenderName, from.Name)
		setText(msg, source.TagSenderEmailAddress, from.Address)
	}
	if replyTo := firstAddress(h, "Reply-To"); replyTo != nil {
		name := replyTo.Name
		if name == "" {
			name = replyTo.Address
		}
		msg.SetText(source.TagSentRepresentingName, name)
		setText(msg, source.TagSentRepresentingEmail, replyTo.Address)
	}

	delivered := meta.Received
	if date, err := h.Date(); err == nil && !date.IsZero() {
		msg.Set(source.TagClientSubmitTime, source.Time(date))
		if delivered.IsZero() {
			delivered = date
		}
	}
	if !delivered.IsZero() {
		msg.Set(source.TagMessageDeliveryTime, source.Time(delivered))
	}

	msg.SetText(source.TagMessageClass, classOf(h))
	msg.Set(source.TagMessageFlags, source.Int32(flagsOf(h, meta)))

	kinds := []struct {
		field string
		kind  int32
	}{
		{"To", source.RecipientTo},
		{"Cc", source.RecipientCc},
		{"Bcc", source.RecipientBcc},
	}
	for _, k := range kinds {
		list, err := h.AddressList(k.field)
		if err != nil {
			continue
		}
		for _, addr := range list {
			msg.AddRecipient(k.kind, addr.Name, addr.Address)
		}
	}

	if err := readParts(mr, msg); err != nil {
		return nil, fmt.Errorf("parse message %s: %w", id, err)
	}
	msg.Set(source.TagMessageSize, source.Int32(len(raw)))
	return msg, nil
}

func readParts(mr *mail.Reader, msg *memstore.Message) error {
	var text, html string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return err
		}
		if part == nil {
			continue
		}

		data, err := io.ReadAll(part.Body)
		if err != nil && !message.IsUnknownCharset(err) {
			return fmt.Errorf("read part: %w", err)
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			switch {
			case ct == "text/plain" && text == "":
				text = string(data)
				continue
			case ct == "text/html" && html == "":
				html = string(data)
				continue
			}
			filename := ""
			if _, params, err := ph.ContentDisposition(); err == nil {
				filename = params["filename"]
			}
			addAttachment(msg, filename, ct, ph.Get("Content-Id"), data)
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			filename, _ := ph.Filename()
			addAttachment(msg, filename, ct, ph.Get("Content-Id"), data)
		}
	}

	if text != "" {
		msg.SetText(source.TagBody, strings.ToValidUTF8(text, "�"))
	}
	if html != "" {
		html = strings.ToValidUTF8(html, "�")
		msg.SetText(source.TagBodyHTML, html)
		msg.Set(source.TagRTFCompressed, source.Binary(rtf.Store(rtf.EncapsulateHTML(html))))
	}
	msg.Set(source.TagHasAttachments, source.Bool(len(msg.AttachmentList) > 0))
	return nil
}

func addAttachment(msg *memstore.Message, filename, contentType, contentID string, data []byte) {
	if filename == "" {
		filename = defaultName(contentType)
	}
	att := memstore.NewAttachment(filename, contentType, data)
	att.Props[source.TagAttachLongFilename] = source.String(filename)
	if cid := strings.Trim(strings.TrimSpace(contentID), "<>"); cid != "" {
		att.Props[source.TagAttachContentID] = source.String(cid)
	}
	msg.AddAttachment(att)
}

func defaultName(contentType string) string {
	switch contentType {
	case "message/rfc822":
		return "message.eml"
	case "message/delivery-status":
		return "delivery-status.txt"
	}
	if exts, err := mime.ExtensionsByType(contentType); err == nil && len(exts) > 0 {
		return "attachment" + exts[0]
	}
	return "attachment.bin"
}

func firstAddress(h mail.Header, field string) *mail.Address {
	list, err := h.AddressList(field)
	if err != nil || len(list) == 0 {
		return nil
	}
	return list[0]
}

func setText(msg *memstore.Message, tag source.Tag, s string) {
	if s != "" {
		msg.SetText(tag, s)
	}
}

// classOf detects delivery status notifications; everything else is mail.
func classOf(h mail.Header) string {
	ct, params, err := h.ContentType()
	if err == nil && ct == "multipart/report" && strings.EqualFold(params["report-type"], "delivery-status") {
		return model.ClassNDR
	}
	return model.ClassNote
}

// flagsOf merges the container flags with the mbox Status and X-Status
// headers.
func flagsOf(h mail.Header, meta Meta) int32 {
	var flags int32
	if meta.Read || strings.ContainsRune(h.Get("Status"), 'R') {
		flags |= source.FlagRead
	}
	if meta.Draft || strings.ContainsRune(h.Get("X-Status"), 'D') {
		flags |= source.FlagUnsent
	}
	return flags
}
