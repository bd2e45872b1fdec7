package list

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/ncruces/go-strftime"

	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/store"
)

var (
	textPlainPattern = regexp.MustCompile(`(?i)\btext/plain\b`)
	sevenEightBit    = regexp.MustCompile(`(?i)^[78]bit$`)
)

const secondsPerDay = 86400

func (l *List) localizer() *i18n.Localizer {
	return l.env.Notices.Localizer(l.messageCharset)
}

func (l *List) encode(text string) string {
	return message.EncodeText(text, l.messageCharset)
}

func (l *List) memberAdded() bool {
	return len(l.added) > 0
}

// memberList is the obfuscated roster.
func (l *List) memberList(loc *i18n.Localizer) string {
	var b strings.Builder
	b.WriteString(loc.Sprintf(i18n.MembersOf, l.address))
	for i, address := range l.members.active.items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(Obfuscate(address))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *List) unsubscribeInfo(loc *i18n.Localizer) string {
	return "\n" +
		loc.Sprintf(i18n.HowToUnsubscribe) +
		loc.Sprintf(i18n.SendEmpty, l.address) +
		loc.Sprintf(i18n.CannotSendEmpty) +
		loc.Sprintf(i18n.SendUnsubscribe, l.address) +
		loc.Sprintf(i18n.UnsubscribeExamples)
}

// banner announces the members added while handling this mail.
func (l *List) banner(loc *i18n.Localizer) string {
	var b strings.Builder
	b.WriteString("ML: " + l.address + "\n")
	for _, address := range l.added {
		b.WriteString(loc.Sprintf(i18n.NewMember, Obfuscate(address)))
	}
	b.WriteByte('\n')
	return b.String()
}

func (l *List) footer(loc *i18n.Localizer, withMembers bool) string {
	var b strings.Builder
	b.WriteString("\n--\nML: " + l.address + "\n")
	b.WriteString(loc.Sprintf(i18n.Info, l.env.Notices.InfoURL()))
	if l.memberAdded() {
		b.WriteString(l.unsubscribeInfo(loc))
	}
	if l.memberAdded() || withMembers {
		b.WriteString("\n" + l.memberList(loc))
	}
	return b.String()
}

func plainTextBody(msg *message.Message) bool {
	contentType := msg.Get("Content-Type")
	encoding := msg.Get("Content-Transfer-Encoding")
	return (contentType == "" || textPlainPattern.MatchString(contentType)) &&
		(encoding == "" || sevenEightBit.MatchString(encoding))
}

// rewriteBody adds the banner and footer to the text of msg. Only the
// first part of multipart mail is touched, and only when it is plain text.
func (l *List) rewriteBody(msg *message.Message) string {
	loc := l.localizer()
	banner := ""
	if l.memberAdded() {
		banner = l.encode(l.banner(loc))
	}
	footer := l.encode(l.footer(loc, false))

	if msg.Multipart() {
		parts := msg.Parts()
		if len(parts) == 0 {
			return msg.Body
		}
		sub := message.Parse(parts[0])
		if sub.ContentType == "text/plain" {
			sub.Body = banner + sub.Body + footer
		}
		parts[0] = sub.String()
		return message.JoinParts(parts, msg.Boundary())
	}
	if plainTextBody(msg) {
		return banner + msg.Body + footer
	}
	return msg.Body
}

// noticeHeader starts a notice addressed to the list itself.
func (l *List) noticeHeader(subject string) message.Header {
	header := l.env.Notices.Header(l.address, l.address, subject, l.messageCharset)
	header.Add("Reply-To", l.address)
	header.Add("Content-Type", l.env.Notices.ContentType(l.messageCharset))
	l.addListFields(&header)
	return header
}

func (l *List) reportRemovedMember(ctx context.Context, address string) {
	if l.members.active.Len() == 0 {
		return
	}
	loc := l.localizer()
	header := l.noticeHeader(loc.Sprintf(i18n.RemovedSubject, l.shortName, address))
	body := loc.Sprintf(i18n.RemovedBody, address, l.address) +
		loc.Sprintf(i18n.Unreachable) +
		l.footer(loc, true)
	l.env.Notices.Send(ctx, l.members.active.Slice(), header, l.encode(body))
	l.logger.Info("notify remove", "address", address)
}

// ReportCloseSoon warns the members that the list will be closed unless
// something is posted, and marks the list alerted.
func (l *List) ReportCloseSoon(ctx context.Context) error {
	if l.members.active.Len() == 0 {
		return nil
	}
	loc := l.localizer()
	header := l.noticeHeader(loc.Sprintf(i18n.CloseSoonSubject, l.shortName))

	closeAt := l.LastArticleTime().Add(l.limits.LifeTime)
	days := int(math.Ceil(closeAt.Sub(l.env.now()).Seconds() / secondsPerDay))
	date := strftime.Format(loc.Text(i18n.CloseDateFormat), closeAt)

	body := loc.Sprintf(i18n.CloseSoonBody, days) +
		loc.Sprintf(i18n.TimeToClose, date) +
		l.footer(loc, true)
	l.env.Notices.Send(ctx, l.members.active.Slice(), header, l.encode(body))
	l.logger.Info("alert: list will be closed soon", "close_at", closeAt)

	if err := l.env.Store.Put(ctx, l.name, store.KeyAlerted, nil); err != nil {
		return fmt.Errorf("mark alerted %s: %w", l.name, err)
	}
	l.alerted = true
	l.env.publish(Event{Type: EventAlert, List: l.name})
	return nil
}
