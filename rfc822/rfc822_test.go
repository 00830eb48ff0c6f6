package rfc822

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mapi-to-maildir/convert"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

func crlf(s string) []byte {
	return []byte(strings.ReplaceAll(s, "\n", "\r\n"))
}

const plainMessage = `From: Alice Example <alice@example.com>
To: Bob <bob@example.com>, carol@example.com
Cc: Dave <dave@example.com>
Reply-To: Helpdesk <help@example.com>
Subject: =?UTF-8?Q?Gr=C3=BC=C3=9Fe?=
Date: Thu, 01 Jul 2004 12:00:00 +0000
Message-Id: <1@example.com>
Status: RO
X-Mailer: test
Content-Type: text/plain; charset=utf-8

Hello Bob.
`

const htmlMessage = `From: alice@example.com
To: bob@example.com
Subject: report
Date: Thu, 01 Jul 2004 12:00:00 +0000
X-Status: D
MIME-Version: 1.0
Content-Type: multipart/mixed; boundary=outer

--outer
Content-Type: multipart/alternative; boundary=inner

--inner
Content-Type: text/plain; charset=utf-8

plain version
--inner
Content-Type: text/html; charset=utf-8

<p>html version</p>
--inner--
--outer
Content-Type: text/csv
Content-Disposition: attachment; filename=q3.csv

a,b
--outer
Content-Type: image/png
Content-Disposition: inline
Content-Id: <logo@example.com>
Content-Transfer-Encoding: base64

iVBORw0KGgo=
--outer--
`

const bounce = `From: MAILER-DAEMON@example.com
To: alice@example.com
Subject: Undelivered Mail Returned to Sender
Content-Type: multipart/report; report-type=delivery-status; boundary=b

--b
Content-Type: text/plain

delivery failed
--b
Content-Type: message/delivery-status

Final-Recipient: rfc822; nobody@example.com
--b--
`

func TestParsePlain(t *testing.T) {
	ctx := context.Background()
	msg, err := Parse("m1", crlf(plainMessage), Meta{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	text := func(tag source.Tag) string {
		s, _ := msg.Prop(ctx, tag).Text()
		return s
	}
	if got := text(source.TagSubject); got != "Grüße" {
		t.Errorf("subject = %q", got)
	}
	if text(source.TagSenderName) != "Alice Example" || text(source.TagSenderEmailAddress) != "alice@example.com" {
		t.Errorf("sender = %q <%s>", text(source.TagSenderName), text(source.TagSenderEmailAddress))
	}
	if text(source.TagSentRepresentingName) != "Helpdesk" || text(source.TagSentRepresentingEmail) != "help@example.com" {
		t.Error("reply-to not mapped to sent-representing")
	}
	if text(source.TagMessageClass) != model.ClassNote {
		t.Errorf("class = %q", text(source.TagMessageClass))
	}
	if !strings.Contains(text(source.TagTransportHeaders), "X-Mailer: test") {
		t.Errorf("transport headers = %q", text(source.TagTransportHeaders))
	}
	if got := text(source.TagBody); got != "Hello Bob.\r\n" {
		t.Errorf("body = %q", got)
	}
	if flags, _ := msg.Prop(ctx, source.TagMessageFlags).Int(); flags != source.FlagRead {
		t.Errorf("flags = %#x, want read", flags)
	}
	if ts, ok := msg.Prop(ctx, source.TagMessageDeliveryTime).Time(); !ok || !ts.Equal(time.Date(2004, 7, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("delivery time = %v, %v", ts, ok)
	}
	if !msg.Prop(ctx, source.TagRTFCompressed).IsNotFound() {
		t.Error("plain message should have no rtf body")
	}

	rows, _ := msg.Recipients(ctx)
	if len(rows) != 3 {
		t.Fatalf("recipients = %d, want 3", len(rows))
	}
	if kind, _ := rows[2].Int(source.TagRecipientType); kind != source.RecipientCc {
		t.Errorf("third recipient type = %d, want Cc", kind)
	}
}

func TestParseMultipart(t *testing.T) {
	ctx := context.Background()
	received := time.Date(2004, 7, 2, 8, 0, 0, 0, time.UTC)
	msg, err := Parse("m2", crlf(htmlMessage), Meta{Read: true, Received: received})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if flags, _ := msg.Prop(ctx, source.TagMessageFlags).Int(); flags != source.FlagRead|source.FlagUnsent {
		t.Errorf("flags = %#x, want read and unsent", flags)
	}
	if ts, _ := msg.Prop(ctx, source.TagMessageDeliveryTime).Time(); !ts.Equal(received) {
		t.Errorf("delivery time = %v, want container time", ts)
	}
	if len(msg.AttachmentList) != 2 {
		t.Fatalf("attachments = %d, want 2", len(msg.AttachmentList))
	}
	logo := msg.AttachmentList[1]
	if cid, _ := source.Row(logo.Props).Text(source.TagAttachContentID); cid != "logo@example.com" {
		t.Errorf("content id = %q", cid)
	}

	res, err := (&convert.Translator{}).Translate(ctx, msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	out := res.Message
	if !strings.Contains(out.HTML, "<p>html version</p>") {
		t.Errorf("HTML = %q", out.HTML)
	}
	if !strings.Contains(out.Text, "plain version") {
		t.Errorf("Text = %q", out.Text)
	}
	if !out.Read || !out.Draft {
		t.Errorf("Read = %v, Draft = %v", out.Read, out.Draft)
	}
	if out.Attachments[0].Filename != "q3.csv" || out.Attachments[0].ContentType != "text/csv" {
		t.Errorf("attachment = %+v", out.Attachments[0])
	}
	if string(out.Attachments[1].Data) != "\x89PNG\r\n\x1a\n" {
		t.Errorf("inline image = %q", out.Attachments[1].Data)
	}
}

func TestParseDeliveryReport(t *testing.T) {
	msg, err := Parse("ndr", crlf(bounce), Meta{})
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	class, _ := msg.Prop(context.Background(), source.TagMessageClass).Text()
	if class != model.ClassNDR {
		t.Errorf("class = %q, want %q", class, model.ClassNDR)
	}
	if got := convert.Classify(class); got != convert.CategoryNDR {
		t.Errorf("Classify() = %v", got)
	}
}

func TestParseRejectsGarbage(t *testing.T) {
	if _, err := Parse("bad", []byte("no header separator and no colon"), Meta{}); err == nil {
		t.Error("Parse() error = nil for malformed input")
	}
}
