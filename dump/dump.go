// Package dump reads and writes message stores as YAML property-bag dumps.
//
// A dump is a folder tree. Properties are keyed by symbolic tag name
// (PR_SUBJECT) or hex tag (0x0037001E); the tag's property type decides how
// the text is decoded, binary values being base64. Injected status codes
// under errors make the property fail the way a broken store would.
package dump

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"go.yaml.in/yaml/v4"

	"github.com/dhcgn/mapi-to-maildir/memstore"
	"github.com/dhcgn/mapi-to-maildir/source"
)

type Folder struct {
	Name          string    `yaml:"name"`
	ContentsError string    `yaml:"contents_error,omitempty"`
	Messages      []Message `yaml:"messages,omitempty"`
	Folders       []Folder  `yaml:"folders,omitempty"`
}

type Message struct {
	ID               string              `yaml:"id"`
	Props            map[string]string   `yaml:"props,omitempty"`
	Errors           map[string]string   `yaml:"errors,omitempty"`
	OpenError        string              `yaml:"open_error,omitempty"`
	RecipientsError  string              `yaml:"recipients_error,omitempty"`
	AttachmentsError string              `yaml:"attachments_error,omitempty"`
	Recipients       []map[string]string `yaml:"recipients,omitempty"`
	Attachments      []Attachment        `yaml:"attachments,omitempty"`
}

type Attachment struct {
	Props     map[string]string `yaml:"props,omitempty"`
	Errors    map[string]string `yaml:"errors,omitempty"`
	OpenError string            `yaml:"open_error,omitempty"`
}

// Load reads the dump at path.
func Load(path string) (*memstore.Store, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dump: %w", err)
	}
	store, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("dump %s: %w", path, err)
	}
	return store, nil
}

// Decode parses a YAML dump into an in-memory store.
func Decode(data []byte) (*memstore.Store, error) {
	var doc Folder
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if strings.TrimSpace(doc.Name) == "" {
		return nil, fmt.Errorf("store name is empty")
	}
	store := memstore.New(doc.Name)
	if err := fillFolder(store.RootFolder, doc); err != nil {
		return nil, err
	}
	return store, nil
}

func fillFolder(dst *memstore.Folder, src Folder) error {
	code, err := parseCode(src.ContentsError)
	if err != nil {
		return fmt.Errorf("folder %q: %w", src.Name, err)
	}
	dst.ContentsFailure = code

	for i, m := range src.Messages {
		msg, err := buildMessage(m)
		if err != nil {
			return fmt.Errorf("folder %q message %d: %w", src.Name, i, err)
		}
		dst.AddMessage(msg)
	}
	for _, child := range src.Folders {
		if err := fillFolder(dst.AddFolder(child.Name), child); err != nil {
			return err
		}
	}
	return nil
}

func buildMessage(m Message) (*memstore.Message, error) {
	if m.ID == "" {
		return nil, fmt.Errorf("message id is empty")
	}
	msg := memstore.NewMessage(m.ID)
	if err := fillBag(&msg.Bag, m.Props, m.Errors); err != nil {
		return nil, err
	}

	var err error
	if msg.OpenFailure, err = parseCode(m.OpenError); err != nil {
		return nil, err
	}
	if msg.RecipientsFailure, err = parseCode(m.RecipientsError); err != nil {
		return nil, err
	}
	if msg.AttachmentsFailure, err = parseCode(m.AttachmentsError); err != nil {
		return nil, err
	}

	for i, r := range m.Recipients {
		row := source.Row{}
		for name, text := range r {
			tag, v, err := parseProp(name, text)
			if err != nil {
				return nil, fmt.Errorf("recipient %d: %w", i, err)
			}
			row[tag] = v
		}
		msg.RecipientRows = append(msg.RecipientRows, row)
	}

	for i, a := range m.Attachments {
		att := memstore.NewAttachment("", "", nil)
		if err := fillBag(&att.Bag, a.Props, a.Errors); err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
		if att.OpenFailure, err = parseCode(a.OpenError); err != nil {
			return nil, fmt.Errorf("attachment %d: %w", i, err)
		}
		msg.AddAttachment(att)
	}
	return msg, nil
}

func fillBag(bag *memstore.Bag, props, errs map[string]string) error {
	for name, text := range props {
		tag, v, err := parseProp(name, text)
		if err != nil {
			return err
		}
		bag.Props[tag] = v
	}
	for name, text := range errs {
		tag, err := source.ParseTag(name)
		if err != nil {
			return err
		}
		code, err := parseCode(text)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		bag.Failures[tag] = code
	}
	return nil
}

func parseProp(name, text string) (source.Tag, source.Value, error) {
	tag, err := source.ParseTag(name)
	if err != nil {
		return 0, nil, err
	}
	v, err := source.ParseValue(tag.Type(), text)
	if err != nil {
		return 0, nil, fmt.Errorf("%s: %w", tag, err)
	}
	return tag, v, nil
}

func parseCode(s string) (source.Code, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("parse status code %q: %w", s, err)
	}
	return source.Code(n), nil
}

func formatCode(c source.Code) string {
	return fmt.Sprintf("0x%08X", uint32(c))
}

// Encode walks store and writes it as a YAML dump. Property failures are
// preserved as injected errors.
func Encode(ctx context.Context, w io.Writer, store source.Store) error {
	root, err := store.Root(ctx)
	if err != nil {
		return fmt.Errorf("open root folder: %w", err)
	}
	doc, err := encodeFolder(ctx, root)
	if err != nil {
		return err
	}
	doc.Name = store.Name()

	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	_, err = w.Write(data)
	return err
}

func encodeFolder(ctx context.Context, f source.Folder) (Folder, error) {
	out := Folder{Name: f.Name()}

	ids, err := f.Contents(ctx)
	if code, ok := source.CodeOf(err); ok {
		out.ContentsError = formatCode(code)
	} else if err != nil {
		return out, fmt.Errorf("folder %q contents: %w", f.Name(), err)
	}
	for _, id := range ids {
		m, err := encodeMessage(ctx, f, id)
		if err != nil {
			return out, fmt.Errorf("folder %q: %w", f.Name(), err)
		}
		out.Messages = append(out.Messages, m)
	}

	children, err := f.Subfolders(ctx)
	if err != nil {
		return out, fmt.Errorf("folder %q subfolders: %w", f.Name(), err)
	}
	for _, child := range children {
		c, err := encodeFolder(ctx, child)
		if err != nil {
			return out, err
		}
		out.Folders = append(out.Folders, c)
	}
	return out, nil
}

func encodeMessage(ctx context.Context, f source.Folder, id source.EntryID) (Message, error) {
	out := Message{ID: string(id)}
	msg, err := f.OpenMessage(ctx, id)
	if err != nil {
		code, ok := source.CodeOf(err)
		if !ok {
			return out, fmt.Errorf("open message %s: %w", id, err)
		}
		out.OpenError = formatCode(code)
		return out, nil
	}

	if out.Props, out.Errors, err = encodeBag(ctx, msg); err != nil {
		return out, fmt.Errorf("message %s: %w", id, err)
	}

	rows, err := msg.Recipients(ctx)
	if code, ok := source.CodeOf(err); ok {
		out.RecipientsError = formatCode(code)
	} else if err != nil {
		return out, fmt.Errorf("message %s recipients: %w", id, err)
	}
	for _, row := range rows {
		out.Recipients = append(out.Recipients, encodeRow(row))
	}

	rows, err = msg.Attachments(ctx)
	if code, ok := source.CodeOf(err); ok {
		out.AttachmentsError = formatCode(code)
	} else if err != nil {
		return out, fmt.Errorf("message %s attachments: %w", id, err)
	}
	for _, row := range rows {
		num, _ := row.Int(source.TagAttachNum)
		att := Attachment{}
		bag, err := msg.OpenAttachment(ctx, num)
		if err != nil {
			code, ok := source.CodeOf(err)
			if !ok {
				return out, fmt.Errorf("message %s attachment %d: %w", id, num, err)
			}
			att.Props, att.OpenError = encodeRow(row), formatCode(code)
		} else if att.Props, att.Errors, err = encodeBag(ctx, bag); err != nil {
			return out, fmt.Errorf("message %s attachment %d: %w", id, num, err)
		}
		out.Attachments = append(out.Attachments, att)
	}
	return out, nil
}

func encodeBag(ctx context.Context, bag source.PropertyBag) (map[string]string, map[string]string, error) {
	tags, err := bag.PropList(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("property list: %w", err)
	}
	props := make(map[string]string, len(tags))
	var errs map[string]string
	for _, tag := range tags {
		res := bag.Prop(ctx, tag)
		switch {
		case res.IsFound():
			props[tag.String()] = source.FormatValue(res.Value)
		case res.IsFailed():
			code, ok := source.CodeOf(res.Err)
			if !ok {
				return nil, nil, fmt.Errorf("%s: %w", tag, res.Err)
			}
			if errs == nil {
				errs = make(map[string]string)
			}
			errs[tag.String()] = formatCode(code)
		}
	}
	return props, errs, nil
}

func encodeRow(row source.Row) map[string]string {
	out := make(map[string]string, len(row))
	for tag, v := range row {
		out[tag.String()] = source.FormatValue(v)
	}
	return out
}
