package body

import (
	"context"
	"testing"

	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/source"
)

const htmlRTF = `{\rtf1\ansi\fromhtml1 {\*\htmltag2 <p>}Hi{\*\htmltag4 </p>}}`

func TestResolve(t *testing.T) {
	tests := []struct {
		name string
		src  Sources
		want Bodies
	}{
		{
			name: "plain only",
			src:  Sources{Plain: "hello", HasPlain: true},
			want: Bodies{Plain: "hello", HasPlain: true},
		},
		{
			name: "html source without rtf is ignored",
			src:  Sources{Plain: "hello", HasPlain: true, HTML: "<b>hello</b>", HasHTML: true},
			want: Bodies{Plain: "hello", HasPlain: true},
		},
		{
			name: "rtf from html",
			src:  Sources{RichText: []byte(htmlRTF)},
			want: Bodies{HTML: "<p>Hi </p>", HasHTML: true},
		},
		{
			name: "html source wins over extracted html",
			src:  Sources{HTML: "<p>original</p>", HasHTML: true, RichText: []byte(htmlRTF)},
			want: Bodies{HTML: "<p>original</p>", HasHTML: true},
		},
		{
			name: "empty html source keeps extracted html",
			src:  Sources{HTML: "", HasHTML: true, RichText: []byte(htmlRTF)},
			want: Bodies{HTML: "<p>Hi </p>", HasHTML: true},
		},
		{
			name: "plain rtf drops html source",
			src:  Sources{HTML: "<p>original</p>", HasHTML: true, RichText: []byte(`{\rtf1\ansi hello\par}`)},
			want: Bodies{},
		},
		{
			name: "nothing",
			want: Bodies{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Resolve(tt.src); got != tt.want {
				t.Errorf("Resolve() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	ctx := context.Background()

	msg := memstore.NewMessage("1").
		SetText(source.TagBody, "plain text").
		Set(source.TagHTML, source.Binary("<p>bin</p>")).
		Set(source.TagRTFCompressed, source.Binary(htmlRTF))

	src := Load(ctx, msg, nil)
	if !src.HasPlain || src.Plain != "plain text" {
		t.Errorf("plain = %q (%v)", src.Plain, src.HasPlain)
	}
	if !src.HasHTML || src.HTML != "<p>bin</p>" {
		t.Errorf("html = %q (%v)", src.HTML, src.HasHTML)
	}
	if string(src.RichText) != htmlRTF {
		t.Errorf("rich text = %q", src.RichText)
	}
}

func TestLoadFailuresAreAbsent(t *testing.T) {
	msg := memstore.NewMessage("1").
		Fail(source.TagBody, source.CodeOutOfMemory).
		Fail(source.TagRTFCompressed, source.CodeCorruptData)

	src := Load(context.Background(), msg, nil)
	if src.HasPlain || src.HasHTML || src.RichText != nil {
		t.Errorf("Load() = %+v, want nothing", src)
	}
}

func TestLoadBrokenCompressedRTF(t *testing.T) {
	msg := memstore.NewMessage("1").Set(source.TagRTFCompressed, source.Binary{0x01, 0x02})
	if src := Load(context.Background(), msg, nil); src.RichText != nil {
		t.Errorf("RichText = %q, want nil", src.RichText)
	}
}
