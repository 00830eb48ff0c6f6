package convert

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

var fixedNow = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }

func TestClassify(t *testing.T) {
	tests := []struct {
		class string
		want  Category
	}{
		{"IPM.Note", CategoryMail},
		{"ipm.note", CategoryUnknown},
		{"IPM.Note.SMIME", CategoryUnknown},
		{"IPM.Note.SMIME.MultipartSigned", CategoryUnknown},
		{"", CategoryUnknown},
		{"ipm.contact", CategoryUnknown},
		{"IPM.Notebook", CategoryUnknown},
		{"REPORT.IPM.Note.NDR", CategoryNDR},
		{"IPM.Contact", CategoryContact},
		{"IPM.Calendar", CategoryAppointment},
		{"IPM.Appointment", CategoryAppointment},
		{"IPM.Task", CategoryTask},
		{"IPM.StickyNote", CategoryNote},
		{"IPM.Schedule.Meeting.Request", CategoryUnknown},
	}
	for _, tt := range tests {
		if got := Classify(tt.class); got != tt.want {
			t.Errorf("Classify(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestTranslateMail(t *testing.T) {
	when := time.Date(2004, 7, 1, 12, 0, 0, 0, time.Local)
	msg := memstore.NewMessage("42").
		SetText(source.TagMessageClass, "IPM.Note").
		SetText(source.TagSubject, "Status").
		SetText(source.TagSenderName, "Alice").
		SetText(source.TagSenderEmailAddress, "alice@example.org").
		SetText(source.TagSentRepresentingName, "Team").
		SetText(source.TagSentRepresentingEmail, "team@example.org").
		SetText(source.TagBody, "hello").
		SetText(source.TagTransportHeaders, "To: bob@example.org\r\nX-Mailer: Outlook\r\n").
		Set(source.TagMessageDeliveryTime, source.Time(when)).
		Set(source.TagMessageFlags, source.Int32(source.FlagRead)).
		AddRecipient(source.RecipientTo, "Bob", "bob@example.org").
		AddRecipient(source.RecipientCc, "", "carol@example.org").
		AddRecipient(7, "Odd", "odd@example.org").
		AddAttachment(memstore.NewAttachment("a.txt", "text/plain", []byte("data")))

	tr := &Translator{Now: fixedNow}
	res, err := tr.Translate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Category != CategoryMail || res.Message == nil {
		t.Fatalf("Translate() = %+v", res)
	}
	out := res.Message

	if out.From == nil || out.From.Email != "alice@example.org" || out.From.Name != "Alice" {
		t.Errorf("From = %+v", out.From)
	}
	if out.ReplyTo == nil || out.ReplyTo.Email != "team@example.org" {
		t.Errorf("ReplyTo = %+v", out.ReplyTo)
	}
	if out.Subject != "Status" || out.Text != "hello" || out.HTML != "" {
		t.Errorf("subject/body = %q %q %q", out.Subject, out.Text, out.HTML)
	}
	if !out.ReceivedAt.Equal(when) || !out.Read || out.Draft {
		t.Errorf("time/flags = %v read=%v draft=%v", out.ReceivedAt, out.Read, out.Draft)
	}

	wantKinds := []model.RecipientKind{model.To, model.Cc, model.To}
	if len(out.Recipients) != len(wantKinds) {
		t.Fatalf("Recipients = %+v", out.Recipients)
	}
	for i, kind := range wantKinds {
		if out.Recipients[i].Kind != kind {
			t.Errorf("recipient %d kind = %v, want %v", i, out.Recipients[i].Kind, kind)
		}
	}
	if len(out.Attachments) != 1 || string(out.Attachments[0].Data) != "data" {
		t.Errorf("Attachments = %+v", out.Attachments)
	}

	if len(out.Headers) == 0 {
		t.Fatal("no custom headers")
	}
	if out.Headers[0].Name != "X-Mailer" {
		t.Errorf("first custom header = %+v, want X-Mailer", out.Headers[0])
	}
	last := out.Headers[len(out.Headers)-1]
	if last.Name != ConvertedHeader || !strings.Contains(last.Value, "2024") {
		t.Errorf("last custom header = %+v", last)
	}
	for _, h := range out.Headers {
		if strings.EqualFold(h.Name, "To") {
			t.Errorf("reserved header emitted: %+v", h)
		}
	}
}

func TestTranslateNDR(t *testing.T) {
	msg := memstore.NewMessage("1").SetText(source.TagMessageClass, "REPORT.IPM.Note.NDR")
	res, err := (&Translator{}).Translate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Category != CategoryNDR || res.Message != nil {
		t.Errorf("Translate() = %+v, want NDR without message", res)
	}
}

func TestTranslatePlaceholder(t *testing.T) {
	msg := memstore.NewMessage("1").
		SetText(source.TagMessageClass, "IPM.Contact").
		Set(source.TagMessageFlags, source.Int32(source.FlagUnsent))
	res, err := (&Translator{}).Translate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Category != CategoryContact {
		t.Fatalf("category = %v", res.Category)
	}
	if res.Message.Text != "Conversion of contacts isn't implemented yet" || !res.Message.Draft {
		t.Errorf("placeholder message = %+v", res.Message)
	}
	if len(res.Message.Headers) != 0 {
		t.Errorf("placeholder carries headers: %+v", res.Message.Headers)
	}
}

func TestTranslateRequiredPropertyFailures(t *testing.T) {
	tests := []struct {
		name string
		msg  *memstore.Message
	}{
		{"class", memstore.NewMessage("1").Fail(source.TagMessageClass, source.CodeCallFailed)},
		{"delivery time", memstore.NewMessage("1").Fail(source.TagMessageDeliveryTime, source.CodeCorruptData)},
		{"recipients", func() *memstore.Message {
			m := memstore.NewMessage("1").SetText(source.TagMessageClass, model.ClassNote)
			m.RecipientsFailure = source.CodeNoAccess
			return m
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&Translator{}).Translate(context.Background(), tt.msg)
			if err == nil {
				t.Fatal("Translate() error = nil")
			}
			if _, ok := source.CodeOf(err); !ok {
				t.Errorf("error %v carries no backend code", err)
			}
		})
	}
}

func TestTranslateOptionalPropertyFailures(t *testing.T) {
	msg := memstore.NewMessage("1").
		SetText(source.TagMessageClass, model.ClassNote).
		Fail(source.TagSubject, source.CodeCorruptData).
		Fail(source.TagMessageFlags, source.CodeCallFailed).
		SetText(source.TagBody, "still here")
	res, err := (&Translator{}).Translate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Message.Subject != "" || res.Message.Read || res.Message.Text != "still here" {
		t.Errorf("message = %+v", res.Message)
	}
}

func TestTranslateMissingClassIsPlaceholder(t *testing.T) {
	msg := memstore.NewMessage("1").SetText(source.TagBody, "not converted")
	res, err := (&Translator{}).Translate(context.Background(), msg)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if res.Category != CategoryUnknown {
		t.Fatalf("category = %v, want unknown", res.Category)
	}
	if res.Message.Class != "" || res.Message.Text != CategoryUnknown.Placeholder() {
		t.Errorf("message = %+v", res.Message)
	}
}

func TestTransportHeadersStreamFallback(t *testing.T) {
	// The value is stored but direct reads fail as too large; the stream
	// still delivers it.
	msg := memstore.NewMessage("1").
		SetText(source.TagTransportHeaders, "X-Big: yes\r\n")
	msg.Failures[source.TagTransportHeaders] = source.CodeOutOfMemory

	raw, ok := transportHeaders(context.Background(), streamOnly{msg}, slog.New(slog.DiscardHandler))
	if !ok || raw != "X-Big: yes\r\n" {
		t.Errorf("transportHeaders() = %q, %v", raw, ok)
	}
}

// streamOnly serves OpenStream from the stored value even when direct
// property reads are set to fail.
type streamOnly struct {
	*memstore.Message
}

func (s streamOnly) OpenStream(ctx context.Context, tag source.Tag) (io.ReadCloser, error) {
	if v, ok := s.Props[tag].(source.String); ok {
		return io.NopCloser(strings.NewReader(string(v))), nil
	}
	return s.Message.OpenStream(ctx, tag)
}
