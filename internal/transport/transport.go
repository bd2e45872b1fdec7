// Package transport hands composed mail to something that delivers it.
// Delivery is attempted once; callers log failures and move on.
package transport

import (
	"context"
	"strings"

	"github.io/infrasutra/quickml/internal/message"
)

// Mail is one outbound delivery. An empty From is the null reverse-path
// used for notices.
type Mail struct {
	From   string
	To     []string
	Header message.Header
	Body   string
}

// Bytes renders the message text with "\n" line endings.
func (m *Mail) Bytes() []byte {
	return []byte(message.Format(m.Header, m.Body))
}

// CRLF renders the message text with "\r\n" line endings.
func (m *Mail) CRLF() []byte {
	text := message.Format(m.Header, m.Body)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return []byte(strings.ReplaceAll(text, "\n", "\r\n"))
}

type Transport interface {
	Deliver(ctx context.Context, mail *Mail) error
	Name() string
}
