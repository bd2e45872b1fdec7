package transport

import (
	"regexp"
	"strings"
)

// returnSenderPattern matches a list's plain return address. The qmail
// form ends in "-@[]" and is expanded by qmail itself.
var returnSenderPattern = regexp.MustCompile(`^([^@]*=return)@([^@]+)$`)

// Envelope is one SMTP transaction of a delivery.
type Envelope struct {
	From string
	To   []string
}

// VERPSender encodes rcpt into a list return address, so that
// team=return@example.org sending to bob@example.com becomes
// team=return=bob=example.com@example.org. Other senders are returned
// as they are.
func VERPSender(from, rcpt string) string {
	m := returnSenderPattern.FindStringSubmatch(from)
	if m == nil || rcpt == "" {
		return from
	}
	return m[1] + "=" + strings.Replace(rcpt, "@", "=", 1) + "@" + m[2]
}

// Envelopes splits the delivery into transactions. Mail from a list
// return address gets one envelope per recipient with the recipient
// encoded in the sender; anything else goes out in a single envelope.
func (m *Mail) Envelopes() []Envelope {
	if len(m.To) == 0 {
		return nil
	}
	if !returnSenderPattern.MatchString(m.From) {
		return []Envelope{{From: m.From, To: m.To}}
	}
	envelopes := make([]Envelope, 0, len(m.To))
	for _, rcpt := range m.To {
		envelopes = append(envelopes, Envelope{From: VERPSender(m.From, rcpt), To: []string{rcpt}})
	}
	return envelopes
}
