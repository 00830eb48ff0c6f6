// Package compose serializes translated messages to RFC 2822 using
// go-message.
package compose

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message/mail"
	gomsgtextproto "github.com/emersion/go-message/textproto"

	"github.com/dhcgn/mapi-to-maildir/model"
)

var utf8Params = map[string]string{"charset": "utf-8"}

// Write serializes msg to w. Output uses CRLF line endings.
func Write(w io.Writer, msg *model.Message) error {
	h, err := header(msg)
	if err != nil {
		return err
	}

	if len(msg.Attachments) == 0 {
		return writeInline(w, h, msg)
	}

	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return fmt.Errorf("create mail writer: %w", err)
	}
	if msg.Text != "" || msg.HTML != "" {
		iw, err := mw.CreateInline()
		if err != nil {
			return fmt.Errorf("create inline part: %w", err)
		}
		if err := writeAlternatives(iw, msg); err != nil {
			return err
		}
		if err := iw.Close(); err != nil {
			return fmt.Errorf("close inline part: %w", err)
		}
	}
	for _, att := range msg.Attachments {
		if err := writeAttachment(mw, att); err != nil {
			return err
		}
	}
	if err := mw.Close(); err != nil {
		return fmt.Errorf("close mail writer: %w", err)
	}
	return nil
}

// header builds the top-level header. go-message writes the most recently
// added field first, so fields are added in reverse of the desired order.
func header(msg *model.Message) (mail.Header, error) {
	var h mail.Header
	for i := len(msg.Headers) - 1; i >= 0; i-- {
		field, err := rawField(msg.Headers[i].Name, msg.Headers[i].Value)
		if err != nil {
			return mail.Header{}, err
		}
		h.AddRaw(field)
	}

	h.SetDate(msg.ReceivedAt)
	if msg.Subject != "" {
		h.SetSubject(msg.Subject)
	}
	var to, cc, bcc []model.Address
	for _, r := range msg.Recipients {
		switch r.Kind {
		case model.Cc:
			cc = append(cc, r.Address)
		case model.Bcc:
			bcc = append(bcc, r.Address)
		default:
			to = append(to, r.Address)
		}
	}
	setAddresses(&h, "Bcc", bcc...)
	setAddresses(&h, "Cc", cc...)
	setAddresses(&h, "To", to...)
	if msg.ReplyTo != nil {
		setAddresses(&h, "Reply-To", *msg.ReplyTo)
	}
	if msg.From != nil {
		setAddresses(&h, "From", *msg.From)
	}
	return h, nil
}

// rawField formats a header field with go-message's folding while keeping
// the name exactly as given.
func rawField(name, value string) ([]byte, error) {
	var tmp gomsgtextproto.Header
	tmp.Add(name, value)
	var buf bytes.Buffer
	if err := gomsgtextproto.WriteHeader(&buf, tmp); err != nil {
		return nil, fmt.Errorf("header %q: %w", name, err)
	}
	field := bytes.TrimSuffix(buf.Bytes(), []byte("\r\n"))
	canonical := textproto.CanonicalMIMEHeaderKey(name)
	return append([]byte(name), field[len(canonical):]...), nil
}

func setAddresses(h *mail.Header, key string, addrs ...model.Address) {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		if s := formatAddress(a); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return
	}
	h.Set(key, strings.Join(parts, ", "))
}

// formatAddress renders non-SMTP addresses (no @) as a bare phrase with the
// raw address in angle brackets.
func formatAddress(a model.Address) string {
	if strings.Contains(a.Email, "@") {
		return (&mail.Address{Name: a.Name, Address: a.Email}).String()
	}
	name := mime.QEncoding.Encode("utf-8", a.Name)
	switch {
	case a.Name == "" && a.Email == "":
		return ""
	case a.Email == "":
		return name
	case a.Name == "":
		return "<" + a.Email + ">"
	default:
		return name + " <" + a.Email + ">"
	}
}

func writeInline(w io.Writer, h mail.Header, msg *model.Message) error {
	if msg.Text != "" && msg.HTML != "" {
		iw, err := mail.CreateInlineWriter(w, h)
		if err != nil {
			return fmt.Errorf("create inline writer: %w", err)
		}
		if err := writeAlternatives(iw, msg); err != nil {
			return err
		}
		if err := iw.Close(); err != nil {
			return fmt.Errorf("close inline writer: %w", err)
		}
		return nil
	}

	contentType, text := "text/plain", msg.Text
	if msg.HTML != "" {
		contentType, text = "text/html", msg.HTML
	}
	h.SetContentType(contentType, utf8Params)
	body, err := mail.CreateSingleInlineWriter(w, h)
	if err != nil {
		return fmt.Errorf("create single inline writer: %w", err)
	}
	return writeAndClose(body, []byte(text), contentType)
}

func writeAlternatives(iw *mail.InlineWriter, msg *model.Message) error {
	parts := []struct {
		contentType string
		text        string
	}{
		{"text/plain", msg.Text},
		{"text/html", msg.HTML},
	}
	for _, p := range parts {
		if p.text == "" {
			continue
		}
		var ih mail.InlineHeader
		ih.SetContentType(p.contentType, utf8Params)
		pw, err := iw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("create %s part: %w", p.contentType, err)
		}
		if err := writeAndClose(pw, []byte(p.text), p.contentType); err != nil {
			return err
		}
	}
	return nil
}

func writeAttachment(mw *mail.Writer, att model.Attachment) error {
	var ah mail.AttachmentHeader
	ah.SetContentType(att.ContentType, nil)
	ah.SetFilename(att.Filename)
	if att.ContentID != "" {
		ah.Set("Content-Id", "<"+strings.Trim(att.ContentID, "<>")+">")
	}
	aw, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("create attachment %q: %w", att.Filename, err)
	}
	return writeAndClose(aw, att.Data, att.Filename)
}

func writeAndClose(wc io.WriteCloser, data []byte, what string) error {
	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write %s: %w", what, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close %s: %w", what, err)
	}
	return nil
}
