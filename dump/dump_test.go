package dump

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/source"
)

func loadFixture(t *testing.T) *memstore.Store {
	t.Helper()
	store, err := Load(filepath.Join("testdata", "store.yaml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	return store
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	store := loadFixture(t)

	if store.Name() != "Personal Folders" {
		t.Errorf("Name() = %q", store.Name())
	}
	inbox, ok := store.RootFolder.Lookup("Inbox")
	if !ok || len(inbox.Messages) != 2 {
		t.Fatalf("Inbox = %+v", inbox)
	}

	msg := inbox.Messages[0]
	if s, _ := msg.Prop(ctx, source.TagSubject).Text(); s != "Quarterly numbers" {
		t.Errorf("subject = %q", s)
	}
	if ts, ok := msg.Prop(ctx, source.TagMessageDeliveryTime).Time(); !ok || !ts.Equal(time.Date(2004, 7, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("delivery time = %v, %v", ts, ok)
	}
	if n, _ := msg.Prop(ctx, source.TagMessageFlags).Int(); n != 1 {
		t.Errorf("flags = %d", n)
	}
	if id, _ := msg.Prop(ctx, source.TagInternetMessageID).Text(); id != "<q3@example.com>" {
		t.Errorf("hex keyed property = %q", id)
	}
	if res := msg.Prop(ctx, source.TagBodyHTML); !res.IsFailed() {
		t.Errorf("injected failure not applied: %+v", res)
	} else if code, _ := source.CodeOf(res.Err); code != source.CodeCallFailed {
		t.Errorf("code = %v", code)
	}

	rows, err := msg.Recipients(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Recipients() = %v, %v", rows, err)
	}
	if email, _ := rows[0].Text(source.TagEmailAddress); email != "bob@example.com" {
		t.Errorf("recipient = %q", email)
	}

	atts, err := msg.Attachments(ctx)
	if err != nil || len(atts) != 2 {
		t.Fatalf("Attachments() = %v, %v", atts, err)
	}
	bag, err := msg.OpenAttachment(ctx, 0)
	if err != nil {
		t.Fatalf("OpenAttachment(0) error = %v", err)
	}
	data, err := source.ReadStream(ctx, bag, source.TagAttachDataBin)
	if err != nil || string(data) != "a,b\n1,2\n" {
		t.Errorf("attachment data = %q, %v", data, err)
	}
	if _, err := msg.OpenAttachment(ctx, 1); !source.IsNotFound(err) {
		t.Errorf("OpenAttachment(1) error = %v, want not found", err)
	}

	if _, err := inbox.OpenMessage(ctx, "0002"); err == nil {
		t.Error("OpenMessage(0002) should fail")
	}
	projects, _ := store.RootFolder.Lookup("Inbox/Projects")
	if _, err := projects.Contents(ctx); err == nil {
		t.Error("Projects contents should fail")
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"no name", "folders: []"},
		{"unknown tag", "name: s\nmessages:\n  - id: a\n    props:\n      PR_NOPE: x\n"},
		{"bad int", "name: s\nmessages:\n  - id: a\n    props:\n      PR_MESSAGE_FLAGS: many\n"},
		{"bad code", "name: s\ncontents_error: broken\n"},
		{"missing id", "name: s\nmessages:\n  - props:\n      PR_SUBJECT: x\n"},
		{"not yaml", "name: [unclosed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.doc)); err == nil {
				t.Error("Decode() error = nil")
			}
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := loadFixture(t)

	var buf bytes.Buffer
	if err := Encode(ctx, &buf, store); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	again, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("Decode(Encode()) error = %v\n%s", err, buf.String())
	}

	inbox, _ := again.RootFolder.Lookup("Inbox")
	if len(inbox.Messages) != 2 {
		t.Fatalf("Inbox messages = %d", len(inbox.Messages))
	}
	msg := inbox.Messages[0]
	if s, _ := msg.Prop(ctx, source.TagSubject).Text(); s != "Quarterly numbers" {
		t.Errorf("subject = %q", s)
	}
	if !msg.Prop(ctx, source.TagBodyHTML).IsFailed() {
		t.Error("failure lost in round trip")
	}
	if len(msg.AttachmentList) != 2 || msg.AttachmentList[1].OpenFailure != source.CodeNotFound {
		t.Errorf("attachments = %+v", msg.AttachmentList)
	}
	if inbox.Messages[1].OpenFailure != source.CodeNoAccess {
		t.Errorf("open failure = %v", inbox.Messages[1].OpenFailure)
	}
	projects, _ := again.RootFolder.Lookup("Inbox/Projects")
	if projects.ContentsFailure != source.CodeCallFailed {
		t.Errorf("contents failure = %v", projects.ContentsFailure)
	}
}
