package source

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Value is a typed property value. String renders the value the way diagnostic
// headers show it.
type Value interface {
	String() string
}

type (
	String string
	Int32  int32
	Int64  int64
	Bool   bool
	Time   time.Time
	Binary []byte
)

func (v String) String() string { return string(v) }
func (v Int32) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Int64) String() string  { return strconv.FormatInt(int64(v), 10) }
func (v Bool) String() string   { return strconv.FormatBool(bool(v)) }
func (v Time) String() string   { return time.Time(v).Format("2006-01-02 15:04:05 -0700") }
func (v Binary) String() string { return hex.EncodeToString(v) }

// ParseValue decodes the textual form of a property according to its type.
// Binary values are expected base64 encoded.
func ParseValue(t PropType, s string) (Value, error) {
	switch t {
	case TypeString8, TypeUnicode:
		return String(s), nil
	case TypeInt32:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse int32 %q: %w", s, err)
		}
		return Int32(n), nil
	case TypeInt64:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 0, 64)
		if err != nil {
			return nil, fmt.Errorf("parse int64 %q: %w", s, err)
		}
		return Int64(n), nil
	case TypeBoolean:
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("parse bool %q: %w", s, err)
		}
		return Bool(b), nil
	case TypeSysTime:
		ts, err := parseTime(strings.TrimSpace(s))
		if err != nil {
			return nil, err
		}
		return Time(ts), nil
	case TypeBinary, TypeObject:
		b, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("decode binary: %w", err)
		}
		return Binary(b), nil
	default:
		return nil, fmt.Errorf("unsupported property type 0x%04X", uint16(t))
	}
}

// FormatValue is the inverse of ParseValue.
func FormatValue(v Value) string {
	switch val := v.(type) {
	case Binary:
		return base64.StdEncoding.EncodeToString(val)
	case Time:
		return time.Time(val).Format(time.RFC3339Nano)
	case nil:
		return ""
	default:
		return val.String()
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05 -0700",
	"2006-01-02 15:04:05",
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		var (
			ts  time.Time
			err error
		)
		if strings.Contains(layout, "Z07") || strings.Contains(layout, "-0700") {
			ts, err = time.Parse(layout, s)
		} else {
			ts, err = time.ParseInLocation(layout, s, time.Local)
		}
		if err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse time %q: unsupported layout", s)
}
