// Package body decides which plain and HTML bodies a message gets from its
// PR_BODY, PR_BODY_HTML and PR_RTF_COMPRESSED properties.
package body

import (
	"context"
	"log/slog"

	"github.com/dhcgn/mapi-to-maildir/rtf"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// Sources are the raw body properties of a message. A nil RichText means the
// message has no RTF body.
type Sources struct {
	Plain    string
	HasPlain bool
	HTML     string
	HasHTML  bool
	RichText []byte
}

// Bodies is the resolved result.
type Bodies struct {
	Plain    string
	HasPlain bool
	HTML     string
	HasHTML  bool
}

// Resolve picks the bodies. The plain body is always PR_BODY. An HTML body is
// only produced when the RTF body was generated from HTML; PR_BODY_HTML then
// wins over the HTML recovered from the RTF.
func Resolve(src Sources) Bodies {
	var out Bodies
	if src.HasPlain {
		out.Plain, out.HasPlain = src.Plain, true
	}
	if src.RichText == nil {
		return out
	}

	html, ok := rtf.ExtractHTML(src.RichText)
	if !ok {
		return out
	}
	out.HTML, out.HasHTML = html, true
	if src.HasHTML && src.HTML != "" {
		out.HTML = src.HTML
	}
	return out
}

// Load reads the body properties of bag. Read failures other than absence are
// logged and the property is treated as missing.
func Load(ctx context.Context, bag source.PropertyBag, logger *slog.Logger) Sources {
	var src Sources

	if text, ok := readText(ctx, bag, logger, source.TagBody); ok {
		src.Plain, src.HasPlain = text, true
	}

	if text, ok := readText(ctx, bag, logger, source.TagBodyHTML); ok {
		src.HTML, src.HasHTML = text, true
	} else if text, ok := readText(ctx, bag, logger, source.TagHTML); ok {
		src.HTML, src.HasHTML = text, true
	}

	compressed, err := source.ReadStream(ctx, bag, source.TagRTFCompressed)
	switch {
	case err == nil:
		data, err := rtf.Decompress(compressed)
		if err != nil {
			warn(logger, "decompress rtf body", source.TagRTFCompressed, err)
			break
		}
		src.RichText = data
	case !source.IsNotFound(err):
		warn(logger, "read rtf body", source.TagRTFCompressed, err)
	}

	return src
}

func readText(ctx context.Context, bag source.PropertyBag, logger *slog.Logger, tag source.Tag) (string, bool) {
	text, err := source.ReadText(ctx, bag, tag)
	if err != nil {
		if !source.IsNotFound(err) {
			warn(logger, "read body", tag, err)
		}
		return "", false
	}
	return text, true
}

func warn(logger *slog.Logger, msg string, tag source.Tag, err error) {
	if logger != nil {
		logger.Warn(msg, "property", tag.String(), "err", err)
	}
}
