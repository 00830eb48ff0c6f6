package model

import "time"

// Well-known message classes.
const (
	ClassNote        = "IPM.Note"
	ClassContact     = "IPM.Contact"
	ClassCalendar    = "IPM.Calendar"
	ClassAppointment = "IPM.Appointment"
	ClassTask        = "IPM.Task"
	ClassStickyNote  = "IPM.StickyNote"
	ClassNDR         = "REPORT.IPM.Note.NDR"
)

// RecipientKind selects the address header a recipient is written to.
type RecipientKind int

const (
	To RecipientKind = iota
	Cc
	Bcc
)

func (k RecipientKind) String() string {
	switch k {
	case Cc:
		return "Cc"
	case Bcc:
		return "Bcc"
	default:
		return "To"
	}
}

type Address struct {
	Name  string
	Email string
}

type Recipient struct {
	Address
	Kind RecipientKind
}

// Header is a custom header. Message.Headers keeps duplicates in order.
type Header struct {
	Name  string
	Value string
}

type Attachment struct {
	Filename    string
	ContentType string
	ContentID   string
	Data        []byte
}

// Message is a mail item translated from the message store, ready to be
// serialized. Empty Text or HTML means the body is absent.
type Message struct {
	EntryID     string
	Class       string
	From        *Address
	ReplyTo     *Address
	Recipients  []Recipient
	Subject     string
	Text        string
	HTML        string
	Headers     []Header
	Attachments []Attachment
	ReceivedAt  time.Time
	Read        bool
	Draft       bool
}

// AddHeader appends a custom header.
func (m *Message) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: value})
}
