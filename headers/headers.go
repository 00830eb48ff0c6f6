// Package headers turns the transport header block of a stored message into
// custom headers and dumps the remaining properties as X- diagnostics.
package headers

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/dhcgn/mapi-to-maildir/model"
	"github.com/dhcgn/mapi-to-maildir/source"
)

// reserved headers are generated by the message writer from structured fields.
var reserved = map[string]struct{}{
	"to":                        {},
	"from":                      {},
	"reply-to":                  {},
	"date":                      {},
	"subject":                   {},
	"cc":                        {},
	"bcc":                       {},
	"mime-version":              {},
	"content-type":              {},
	"content-transfer-encoding": {},
}

// excluded property ids are too large or already covered by the body and
// transport headers.
var excluded = map[uint16]struct{}{
	source.TagBody.ID():             {},
	source.TagBodyHTML.ID():         {},
	source.TagRTFCompressed.ID():    {},
	source.TagTransportHeaders.ID(): {},
}

var (
	reHeaderLine = regexp.MustCompile(`(?s)^([A-Za-z0-9-]+)[ \t]*:[ \t]*(.*)$`)
	reFold       = regexp.MustCompile(`\r?\n\s+`)
)

// NullValue marks a property without a value.
const NullValue = "<null>"

// Reserved reports whether name is regenerated by the message writer.
func Reserved(name string) bool {
	_, ok := reserved[strings.ToLower(name)]
	return ok
}

// Parse splits a raw header block into headers in source order. A header
// continues on following lines that start with whitespace; folds are
// collapsed to a single space.
func Parse(raw string) []model.Header {
	var (
		out     []model.Header
		current []string
	)
	flush := func() {
		if len(current) == 0 {
			return
		}
		m := reHeaderLine.FindStringSubmatch(strings.Join(current, "\n"))
		current = current[:0]
		if m == nil {
			return
		}
		value := strings.TrimSpace(reFold.ReplaceAllString(m[2], " "))
		out = append(out, model.Header{Name: m[1], Value: value})
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" || line[0] == ' ' || line[0] == '\t' {
			if len(current) > 0 {
				current = append(current, line)
			}
			continue
		}
		flush()
		current = append(current, line)
	}
	flush()
	return out
}

// Reconcile returns the transport headers that survive the reserved filter,
// followed by one diagnostic header per property of bag. Without a transport
// header block nothing is emitted.
func Reconcile(ctx context.Context, raw string, hasRaw bool, bag source.PropertyBag) []model.Header {
	if !hasRaw {
		return nil
	}
	var out []model.Header
	for _, h := range Parse(raw) {
		if Reserved(h.Name) {
			continue
		}
		out = append(out, h)
	}
	return append(out, Diagnostics(ctx, bag)...)
}

// Diagnostics renders every textual property of bag as an X-<tag> header.
// Binary properties and the body and transport header properties are
// skipped. Read errors become X-Exception headers.
func Diagnostics(ctx context.Context, bag source.PropertyBag) []model.Header {
	tags, err := bag.PropList(ctx)
	if err != nil {
		return []model.Header{{Name: "X-Exception", Value: escape(fmt.Sprintf("Error getting property list: %v", err))}}
	}

	out := make([]model.Header, 0, len(tags))
	for _, tag := range tags {
		if _, skip := excluded[tag.ID()]; skip {
			continue
		}
		if t := tag.Type(); t == source.TypeBinary || t == source.TypeObject {
			continue
		}

		res := bag.Prop(ctx, tag)
		switch {
		case res.IsFailed():
			out = append(out, model.Header{
				Name:  "X-Exception",
				Value: escape(fmt.Sprintf("Error getting property %s: %v", tag, res.Err)),
			})
		case res.IsNotFound() || res.Value == nil:
			out = append(out, model.Header{Name: "X-" + tag.String(), Value: NullValue})
		default:
			if _, binary := res.Value.(source.Binary); binary {
				continue
			}
			out = append(out, model.Header{Name: "X-" + tag.String(), Value: escape(res.Value.String())})
		}
	}
	return out
}

var escaper = strings.NewReplacer("\n", `\n`, "\r", `\r`, "\t", `\t`)

func escape(s string) string {
	return escaper.Replace(s)
}
