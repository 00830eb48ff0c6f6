package source

import (
	"fmt"
	"strconv"
	"strings"
)

// PropType is the low word of a property tag and decides how a value is encoded.
type PropType uint16

const (
	TypeInt32   PropType = 0x0003
	TypeError   PropType = 0x000A
	TypeBoolean PropType = 0x000B
	TypeObject  PropType = 0x000D
	TypeInt64   PropType = 0x0014
	TypeString8 PropType = 0x001E
	TypeUnicode PropType = 0x001F
	TypeSysTime PropType = 0x0040
	TypeBinary  PropType = 0x0102
)

// Tag identifies a property: property id in the high word, PropType in the low word.
type Tag uint32

// Type returns the property type encoded in the tag.
func (t Tag) Type() PropType { return PropType(t & 0xFFFF) }

// ID returns the property id without its type.
func (t Tag) ID() uint16 { return uint16(t >> 16) }

const (
	TagMessageClass           Tag = 0x001A001E
	TagSubject                Tag = 0x0037001E
	TagSentRepresentingName   Tag = 0x0042001E
	TagSentRepresentingEmail  Tag = 0x0065001E
	TagTransportHeaders       Tag = 0x007D001E
	TagRecipientType          Tag = 0x0C150003
	TagSenderName             Tag = 0x0C1A001E
	TagSenderEmailAddress     Tag = 0x0C1F001E
	TagMessageDeliveryTime    Tag = 0x0E060040
	TagMessageFlags           Tag = 0x0E070003
	TagMessageSize            Tag = 0x0E080003
	TagAttachSize             Tag = 0x0E200003
	TagAttachNum              Tag = 0x0E210003
	TagEntryID                Tag = 0x0FFF0102
	TagBody                   Tag = 0x1000001E
	TagRTFCompressed          Tag = 0x10090102
	TagBodyHTML               Tag = 0x1013001E
	TagHTML                   Tag = 0x10130102
	TagDisplayName            Tag = 0x3001001E
	TagEmailAddress           Tag = 0x3003001E
	TagAttachDataBin          Tag = 0x37010102
	TagAttachDataObj          Tag = 0x3701000D
	TagAttachEncoding         Tag = 0x37020102
	TagAttachFilename         Tag = 0x3704001E
	TagAttachLongFilename     Tag = 0x3707001E
	TagAttachMimeTag          Tag = 0x370E001E
	TagAttachContentID        Tag = 0x3712001E
	TagAttachLongPathname     Tag = 0x370D001E
	TagInternetMessageID      Tag = 0x1035001E
	TagClientSubmitTime       Tag = 0x00390040
	TagImportance             Tag = 0x00170003
	TagConversationTopic      Tag = 0x0070001E
	TagLastModificationTime   Tag = 0x30080040
	TagCreationTime           Tag = 0x30070040
	TagSearchKey              Tag = 0x300B0102
	TagStoreDisplayName       Tag = 0x3001001F
	TagHasAttachments         Tag = 0x0E1B000B
	TagInternetCodepage       Tag = 0x3FDE0003
	TagMessageCodepage        Tag = 0x3FFD0003
	TagRecipientDisplayTo     Tag = 0x0E04001E
	TagRecipientDisplayCc     Tag = 0x0E03001E
	TagRecipientDisplayBcc    Tag = 0x0E02001E
	TagSenderAddressType      Tag = 0x0C1E001E
	TagReceivedByName         Tag = 0x0040001E
	TagReceivedByEmailAddress Tag = 0x0076001E
)

// Message flag bits carried by TagMessageFlags.
const (
	FlagRead   = 0x0001
	FlagUnsent = 0x0008
)

// Recipient types carried by TagRecipientType.
const (
	RecipientTo  = 1
	RecipientCc  = 2
	RecipientBcc = 3
)

var tagNames = map[Tag]string{
	TagMessageClass:           "PR_MESSAGE_CLASS",
	TagSubject:                "PR_SUBJECT",
	TagSentRepresentingName:   "PR_SENT_REPRESENTING_NAME",
	TagSentRepresentingEmail:  "PR_SENT_REPRESENTING_EMAIL_ADDRESS",
	TagTransportHeaders:       "PR_TRANSPORT_MESSAGE_HEADERS",
	TagRecipientType:          "PR_RECIPIENT_TYPE",
	TagSenderName:             "PR_SENDER_NAME",
	TagSenderEmailAddress:     "PR_SENDER_EMAIL_ADDRESS",
	TagMessageDeliveryTime:    "PR_MESSAGE_DELIVERY_TIME",
	TagMessageFlags:           "PR_MESSAGE_FLAGS",
	TagMessageSize:            "PR_MESSAGE_SIZE",
	TagAttachSize:             "PR_ATTACH_SIZE",
	TagAttachNum:              "PR_ATTACH_NUM",
	TagEntryID:                "PR_ENTRYID",
	TagBody:                   "PR_BODY",
	TagRTFCompressed:          "PR_RTF_COMPRESSED",
	TagBodyHTML:               "PR_BODY_HTML",
	TagHTML:                   "PR_HTML",
	TagDisplayName:            "PR_DISPLAY_NAME",
	TagEmailAddress:           "PR_EMAIL_ADDRESS",
	TagAttachDataBin:          "PR_ATTACH_DATA_BIN",
	TagAttachDataObj:          "PR_ATTACH_DATA_OBJ",
	TagAttachEncoding:         "PR_ATTACH_ENCODING",
	TagAttachFilename:         "PR_ATTACH_FILENAME",
	TagAttachLongFilename:     "PR_ATTACH_LONG_FILENAME",
	TagAttachMimeTag:          "PR_ATTACH_MIME_TAG",
	TagAttachContentID:        "PR_ATTACH_CONTENT_ID",
	TagAttachLongPathname:     "PR_ATTACH_LONG_PATHNAME",
	TagInternetMessageID:      "PR_INTERNET_MESSAGE_ID",
	TagClientSubmitTime:       "PR_CLIENT_SUBMIT_TIME",
	TagImportance:             "PR_IMPORTANCE",
	TagConversationTopic:      "PR_CONVERSATION_TOPIC",
	TagLastModificationTime:   "PR_LAST_MODIFICATION_TIME",
	TagCreationTime:           "PR_CREATION_TIME",
	TagSearchKey:              "PR_SEARCH_KEY",
	TagStoreDisplayName:       "PR_DISPLAY_NAME_W",
	TagHasAttachments:         "PR_HASATTACH",
	TagInternetCodepage:       "PR_INTERNET_CPID",
	TagMessageCodepage:        "PR_MESSAGE_CODEPAGE",
	TagRecipientDisplayTo:     "PR_DISPLAY_TO",
	TagRecipientDisplayCc:     "PR_DISPLAY_CC",
	TagRecipientDisplayBcc:    "PR_DISPLAY_BCC",
	TagSenderAddressType:      "PR_SENDER_ADDRTYPE",
	TagReceivedByName:         "PR_RECEIVED_BY_NAME",
	TagReceivedByEmailAddress: "PR_RECEIVED_BY_EMAIL_ADDRESS",
}

var tagsByName = func() map[string]Tag {
	m := make(map[string]Tag, len(tagNames))
	for tag, name := range tagNames {
		m[name] = tag
	}
	return m
}()

// String returns the symbolic name of a well-known tag, or its hex form.
func (t Tag) String() string {
	if name, ok := tagNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%08X", uint32(t))
}

// ParseTag accepts either a symbolic name (PR_SUBJECT) or a hex tag (0x0037001E).
func ParseTag(s string) (Tag, error) {
	s = strings.TrimSpace(s)
	if tag, ok := tagsByName[strings.ToUpper(s)]; ok {
		return tag, nil
	}
	hex := strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if hex == s {
		return 0, fmt.Errorf("unknown property tag %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse property tag %q: %w", s, err)
	}
	return Tag(v), nil
}
