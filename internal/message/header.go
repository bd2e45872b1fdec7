package message

import (
	"strings"

	"github.com/emersion/go-message/textproto"
)

// Field is one header field. Value keeps folded continuation lines joined
// with "\n".
type Field struct {
	Key   string
	Value string
}

// Header is an ordered association list of header fields. Lookups are
// case-insensitive and the original key spelling and order are preserved.
type Header struct {
	fields []Field
}

func (h *Header) Len() int {
	return len(h.fields)
}

// Fields returns a copy of the fields in order.
func (h *Header) Fields() []Field {
	out := make([]Field, len(h.fields))
	copy(out, h.fields)
	return out
}

// Get returns the value of the first field named key, or "".
func (h *Header) Get(key string) string {
	if i := h.index(key); i >= 0 {
		return h.fields[i].Value
	}
	return ""
}

func (h *Header) Has(key string) bool {
	return h.index(key) >= 0
}

// Add appends a field.
func (h *Header) Add(key, value string) {
	h.fields = append(h.fields, Field{Key: key, Value: value})
}

// Unshift inserts a field in front of all others.
func (h *Header) Unshift(key, value string) {
	h.fields = append([]Field{{Key: key, Value: value}}, h.fields...)
}

// Set replaces the first field named key in place, dropping later
// duplicates, or appends it when absent.
func (h *Header) Set(key, value string) {
	i := h.index(key)
	if i < 0 {
		h.Add(key, value)
		return
	}
	h.fields[i].Value = value
	kept := h.fields[:i+1]
	for _, f := range h.fields[i+1:] {
		if !strings.EqualFold(f.Key, key) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// Del removes every field named key.
func (h *Header) Del(key string) {
	kept := h.fields[:0]
	for _, f := range h.fields {
		if !strings.EqualFold(f.Key, key) {
			kept = append(kept, f)
		}
	}
	h.fields = kept
}

// continueLast appends a continuation line to the last field.
func (h *Header) continueLast(line string) {
	if len(h.fields) == 0 {
		return
	}
	last := &h.fields[len(h.fields)-1]
	last.Value += "\n" + line
}

func (h *Header) Copy() Header {
	return Header{fields: h.Fields()}
}

func (h *Header) index(key string) int {
	for i, f := range h.fields {
		if strings.EqualFold(f.Key, key) {
			return i
		}
	}
	return -1
}

// MIMEHeader converts h to a go-message header. Fields are added raw, so
// key spelling, order and folding are kept exactly.
func (h *Header) MIMEHeader() textproto.Header {
	var mh textproto.Header
	// AddRaw inserts at the top.
	for i := len(h.fields) - 1; i >= 0; i-- {
		f := h.fields[i]
		value := strings.ReplaceAll(f.Value, "\n", "\r\n")
		mh.AddRaw([]byte(f.Key + ": " + value + "\r\n"))
	}
	return mh
}

// Format renders the header and body as "Key: value" lines, a blank line and
// the body.
func Format(h Header, body string) string {
	var b strings.Builder
	// Raw fields never fail to render.
	_ = textproto.WriteHeader(&b, h.MIMEHeader())
	return strings.ReplaceAll(b.String(), "\r\n", "\n") + body
}
