package message

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	fieldPattern       = regexp.MustCompile(`^(\S+):\s*(.*)`)
	charsetPattern     = regexp.MustCompile(`charset=("?)([-\w]+)"?`)
	contentTypePattern = regexp.MustCompile(`([-\w]+/[-\w]+)`)
	boundaryPattern    = regexp.MustCompile(`(?i)^multipart/mixed;\s*boundary=(.*)`)
	unsubscribePattern = regexp.MustCompile(`(?m)\A[\s\x{3000}]*(?:unsubscribe|bye|#[\s\x{3000}]*bye|quit|退会|脱退)[\s\x{3000}]*$`)
)

// LoopMarker is the header stamped on every list delivery. Mail carrying it
// is never redistributed again.
const LoopMarker = "X-QuickML"

const (
	emptyBodyLimit   = 100
	unsubscribeLimit = 500
)

// Message is one mail: the envelope collected by the SMTP session plus the
// parsed header and body.
type Message struct {
	MailFrom    string
	Recipients  []string
	Header      Header
	Body        string
	Charset     string
	ContentType string
	Bare        string

	hasMailFrom bool
}

// Parse reads raw mail text whose line endings are already "\n".
func Parse(raw string) *Message {
	m := &Message{}
	m.Read(raw)
	return m
}

// Read replaces the header and body with the contents of raw. The envelope
// is left untouched.
func (m *Message) Read(raw string) {
	head, body, _ := strings.Cut(raw, "\n\n")
	m.Header = Header{}
	inField := false
	for _, line := range strings.Split(head, "\n") {
		line = strings.TrimSuffix(line, "\r")
		if match := fieldPattern.FindStringSubmatch(line); match != nil {
			m.Header.Add(match[1], match[2])
			inField = true
		} else if inField {
			m.Header.continueLast(line)
		}
	}
	m.Bare = raw
	m.Body = body
	m.Charset = charsetOf(m.Header.Get("Content-Type"))
	m.ContentType = contentTypeOf(m.Header.Get("Content-Type"))
}

func charsetOf(contentType string) string {
	match := charsetPattern.FindStringSubmatch(contentType)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[2])
}

func contentTypeOf(contentType string) string {
	match := contentTypePattern.FindStringSubmatch(contentType)
	if match == nil {
		return ""
	}
	return strings.ToLower(match[1])
}

// Get returns the first header field named key, or "".
func (m *Message) Get(key string) string {
	return m.Header.Get(key)
}

func (m *Message) AddRecipient(address string) {
	m.Recipients = append(m.Recipients, NormalizeAddress(address))
}

func (m *Message) ClearRecipients() {
	m.Recipients = nil
}

// SetMailFrom records the envelope sender. The null reverse-path of
// bounces is a valid sender.
func (m *Message) SetMailFrom(address string) {
	m.MailFrom = address
	m.hasMailFrom = true
}

// HasMailFrom reports whether the envelope sender was given.
func (m *Message) HasMailFrom() bool {
	return m.hasMailFrom || m.MailFrom != ""
}

// ResetEnvelope forgets the sender and the recipients.
func (m *Message) ResetEnvelope() {
	m.MailFrom = ""
	m.hasMailFrom = false
	m.ClearRecipients()
}

// Valid reports whether the envelope is complete enough to process.
func (m *Message) Valid() bool {
	return m.HasMailFrom() && len(m.Recipients) > 0
}

// Looping reports whether the message was produced by a list.
func (m *Message) Looping() bool {
	return m.Header.Get(LoopMarker) != ""
}

// From is the author address: the first From address, else the envelope
// sender, else "unknown".
func (m *Message) From() string {
	address := ""
	if from := m.Header.Get("From"); from != "" {
		if addresses := CollectAddresses(from); len(addresses) > 0 {
			address = addresses[0]
		}
	} else {
		address = m.MailFrom
	}
	if address == "" {
		address = "unknown"
	}
	return NormalizeAddress(address)
}

func (m *Message) CollectTo() []string {
	return CollectAddresses(m.Header.Get("To"))
}

func (m *Message) CollectCc() []string {
	return CollectAddresses(m.Header.Get("Cc"))
}

// EmptyBody reports whether the body is short and blank. The ideographic
// space counts as blank.
func (m *Message) EmptyBody() bool {
	if len(m.Body) > emptyBodyLimit {
		return false
	}
	return strings.TrimFunc(decodeText(m.Body, m.Charset), unicode.IsSpace) == ""
}

// UnsubscribeRequested reports whether the body asks to leave the list.
func (m *Message) UnsubscribeRequested() bool {
	if m.EmptyBody() {
		return true
	}
	if len(m.Body) >= unsubscribeLimit {
		return false
	}
	return unsubscribePattern.MatchString(decodeText(m.Body, m.Charset))
}

// Multipart reports whether the message is multipart/mixed with a boundary.
func (m *Message) Multipart() bool {
	return m.Boundary() != ""
}

func (m *Message) Boundary() string {
	match := boundaryPattern.FindStringSubmatch(m.Header.Get("Content-Type"))
	if match == nil {
		return ""
	}
	value := match[1]
	if strings.HasPrefix(value, `"`) {
		if end := strings.LastIndex(value, `"`); end > 0 {
			return value[1:end]
		}
	}
	return value
}

// Parts splits a multipart body on its boundary lines. The preamble is
// dropped and the closing delimiter stays inside the last part.
func (m *Message) Parts() []string {
	boundary := m.Boundary()
	if boundary == "" {
		return nil
	}
	delimiter := "--" + boundary + "\n"
	var segments []string
	rest := m.Body
	for {
		i := indexLineStart(rest, delimiter)
		if i < 0 {
			segments = append(segments, rest)
			break
		}
		segments = append(segments, rest[:i])
		rest = rest[i+len(delimiter):]
	}
	for len(segments) > 0 && segments[len(segments)-1] == "" {
		segments = segments[:len(segments)-1]
	}
	if len(segments) == 0 {
		return nil
	}
	return segments[1:]
}

// indexLineStart finds needle at the start of a line in s.
func indexLineStart(s, needle string) int {
	for offset := 0; offset < len(s); {
		i := strings.Index(s[offset:], needle)
		if i < 0 {
			return -1
		}
		i += offset
		if i == 0 || s[i-1] == '\n' {
			return i
		}
		offset = i + 1
	}
	return -1
}

// JoinParts is the inverse of Parts.
func JoinParts(parts []string, boundary string) string {
	delimiter := "--" + boundary + "\n"
	return delimiter + strings.Join(parts, delimiter)
}

// String renders the message back to text.
func (m *Message) String() string {
	return Format(m.Header, m.Body)
}
