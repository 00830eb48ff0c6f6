package maildir

import (
	"math/rand/v2"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	gomaildir "github.com/emersion/go-maildir"
)

// epochTicks is the number of 100ns ticks between 0001-01-01 and 1970-01-01.
const epochTicks = 621355968000000000

// Ticks returns the wall clock of t, in the zone t carries, as 100ns ticks
// since 0001-01-01. The zero time yields 0.
func Ticks(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	_, offset := t.Zone()
	wall := t.Unix() + int64(offset)
	return wall*10_000_000 + int64(t.Nanosecond()/100) + epochTicks
}

// Sequence hands out strictly increasing unique ids with random gaps.
type Sequence struct {
	mu   sync.Mutex
	rnd  *rand.Rand
	last int64
}

// NewSequence seeds a sequence from the runtime's random source.
func NewSequence() *Sequence {
	return NewSequenceFrom(rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

// NewSequenceFrom uses rnd for the starting value and the gaps.
func NewSequenceFrom(rnd *rand.Rand) *Sequence {
	return &Sequence{rnd: rnd, last: int64(rnd.Int32())}
}

// Next advances the sequence by 1 plus a random gap below 100.
func (s *Sequence) Next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.last += 1 + s.rnd.Int64N(100)
	return s.last
}

var hostnameEscaper = strings.NewReplacer("/", `\057`, ":", `\072`)

// SanitizeHostname escapes the characters a maildir file name cannot carry.
func SanitizeHostname(host string) string {
	return hostnameEscaper.Replace(host)
}

// Hostname returns the sanitized local host name.
func Hostname() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return SanitizeHostname(host)
}

// FileName builds "<ticks>.<id>.<host>;2,<flags>". The info separator is ';'
// instead of ':' so the names are valid on every filesystem.
func FileName(ticks, id int64, host string, read, draft bool) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ticks, 10))
	b.WriteByte('.')
	b.WriteString(strconv.FormatInt(id, 10))
	b.WriteByte('.')
	b.WriteString(host)
	b.WriteString(";2,")
	if read {
		b.WriteRune(rune(gomaildir.FlagSeen))
	}
	if draft {
		b.WriteRune(rune(gomaildir.FlagDraft))
	}
	return b.String()
}

var titleEscaper = strings.NewReplacer(".", "_", "/", "_", `\`, "_", "\x00", "_")

// EscapeTitle replaces the Maildir++ hierarchy delimiter and path separators
// in a folder title.
func EscapeTitle(title string) string {
	return titleEscaper.Replace(title)
}

// CompensateTimestamp shifts t by the difference between the local UTC
// offset in effect at t and the one in effect at now.
func CompensateTimestamp(t, now time.Time) time.Time {
	_, then := t.In(time.Local).Zone()
	_, current := now.In(time.Local).Zone()
	return t.Add(time.Duration(then-current) * time.Second)
}
