package memstore

import (
	"context"
	"io"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/source"
)

func TestFolderTree(t *testing.T) {
	ctx := context.Background()
	store := New("Mailbox")
	inbox := store.RootFolder.AddFolder("Inbox")
	inbox.AddFolder("Projects").AddMessage(NewMessage("p1"))
	inbox.AddMessage(NewMessage("a"), NewMessage("b"))

	if f, ok := store.RootFolder.Lookup("/Inbox/Projects/"); !ok || f.Name() != "Projects" {
		t.Errorf("Lookup() = %v, %v", f, ok)
	}
	if _, ok := store.RootFolder.Lookup("Inbox/Missing"); ok {
		t.Error("Lookup() found a missing folder")
	}

	root, err := store.Root(ctx)
	if err != nil {
		t.Fatalf("Root() error = %v", err)
	}
	n, err := source.CountMessages(ctx, root)
	if err != nil || n != 3 {
		t.Errorf("CountMessages() = %d, %v, want 3", n, err)
	}

	inbox.ContentsFailure = source.CodeCallFailed
	if _, err := inbox.Contents(ctx); err == nil {
		t.Error("Contents() expected injected failure")
	} else if code, _ := source.CodeOf(err); code != source.CodeCallFailed {
		t.Errorf("code = %v", code)
	}
}

func TestPropertyStates(t *testing.T) {
	ctx := context.Background()
	msg := NewMessage("m").
		SetText(source.TagSubject, "hello").
		Set(source.TagMessageFlags, source.Int32(source.FlagRead)).
		Fail(source.TagBody, source.CodeOutOfMemory)

	if !msg.Prop(ctx, source.TagSubject).IsFound() {
		t.Error("subject not found")
	}
	if !msg.Prop(ctx, source.TagBodyHTML).IsNotFound() {
		t.Error("missing property should be not found, not failed")
	}
	res := msg.Prop(ctx, source.TagBody)
	if !res.IsFailed() {
		t.Fatalf("body = %+v, want failed", res)
	}
	if code, _ := source.CodeOf(res.Err); code != source.CodeOutOfMemory {
		t.Errorf("code = %v", code)
	}

	tags, err := msg.PropList(ctx)
	if err != nil || len(tags) != 3 {
		t.Errorf("PropList() = %v, %v", tags, err)
	}

	rc, err := msg.OpenStream(ctx, source.TagSubject)
	if err != nil {
		t.Fatalf("OpenStream() error = %v", err)
	}
	data, _ := io.ReadAll(rc)
	rc.Close()
	if string(data) != "hello" {
		t.Errorf("stream = %q", data)
	}
	if _, err := msg.OpenStream(ctx, source.TagBodyHTML); !source.IsNotFound(err) {
		t.Errorf("OpenStream(missing) error = %v, want not found", err)
	}
}

func TestTables(t *testing.T) {
	ctx := context.Background()
	msg := NewMessage("m").
		AddRecipient(source.RecipientCc, "Bob", "bob@example.com").
		AddAttachment(NewAttachment("a.txt", "text/plain", []byte("x"))).
		AddAttachment(NewAttachment("b.txt", "", nil))

	rows, err := msg.Recipients(ctx)
	if err != nil || len(rows) != 1 {
		t.Fatalf("Recipients() = %v, %v", rows, err)
	}
	if kind, _ := rows[0].Int(source.TagRecipientType); kind != int64(source.RecipientCc) {
		t.Errorf("recipient type = %d", kind)
	}

	rows, err = msg.Attachments(ctx)
	if err != nil || len(rows) != 2 {
		t.Fatalf("Attachments() = %v, %v", rows, err)
	}
	if num, _ := rows[1].Int(source.TagAttachNum); num != 1 {
		t.Errorf("second attachment number = %d, want 1", num)
	}
	if _, ok := rows[0][source.TagAttachDataBin]; ok {
		t.Error("attachment table should not carry the data column")
	}

	bag, err := msg.OpenAttachment(ctx, 0)
	if err != nil {
		t.Fatalf("OpenAttachment(0) error = %v", err)
	}
	if data, err := source.ReadStream(ctx, bag, source.TagAttachDataBin); err != nil || string(data) != "x" {
		t.Errorf("attachment data = %q, %v", data, err)
	}
	if _, err := msg.OpenAttachment(ctx, 7); !source.IsNotFound(err) {
		t.Errorf("OpenAttachment(7) error = %v, want not found", err)
	}

	msg.AttachmentList[1].OpenFailure = source.CodeNoAccess
	if _, err := msg.OpenAttachment(ctx, 1); err == nil {
		t.Error("OpenAttachment(1) expected injected failure")
	}
	msg.RecipientsFailure = source.CodeCallFailed
	if _, err := msg.Recipients(ctx); err == nil {
		t.Error("Recipients() expected injected failure")
	}
}

func TestCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := New("x").Root(ctx); err == nil {
		t.Error("Root() expected context error")
	}
	if res := NewMessage("m").Prop(ctx, source.TagSubject); !res.IsFailed() {
		t.Error("Prop() on cancelled context should fail")
	}
}
