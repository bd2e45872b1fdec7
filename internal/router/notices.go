package router

import (
	"context"
	"strings"

	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/notice"
)

func (p *processing) localizer() *i18n.Localizer {
	return p.env.Notices.Localizer(p.charset)
}

func (p *processing) encode(text string) string {
	return message.EncodeText(text, p.charset)
}

func (p *processing) errorSubject(loc *i18n.Localizer) string {
	return loc.Sprintf(i18n.ErrorSubject, message.DecodeSubject(p.msg.Get("Subject")))
}

// reply sends a plain text notice back to the author of the message.
func (p *processing) reply(ctx context.Context, from, subject, body string) {
	notices := p.env.Notices
	header := notices.Header(p.from, from, subject, p.charset)
	header.Add("Content-Type", notices.ContentType(p.charset))
	notices.Send(ctx, []string{p.from}, header, p.encode(body))
}

// reportRejection returns the message to a sender who is not a member.
// The original text follows the explanation, inside the first part when
// the message is multipart.
func (p *processing) reportRejection(ctx context.Context, ml *list.List) {
	notices := p.env.Notices
	loc := p.localizer()
	header := notices.Header(p.from, ml.Address(), p.errorSubject(loc), p.charset)

	var b strings.Builder
	b.WriteString(loc.Sprintf(i18n.NotMember, ml.Address()))
	b.WriteString("\n")
	b.WriteString(loc.Sprintf(i18n.DifferentAddress))
	b.WriteString(loc.Sprintf(i18n.CheckFrom))
	b.WriteString(notices.Footer(loc))
	b.WriteString("\n")
	b.WriteString(loc.Sprintf(i18n.OriginalMessage))
	b.WriteString(notice.Quote(p.msg))
	b.WriteString("\n")
	explanation := p.encode(b.String())

	var body string
	if p.msg.Multipart() {
		header.Add("Content-Type", p.msg.Get("Content-Type"))
		for _, key := range []string{"Mime-Version", "Content-Transfer-Encoding"} {
			if value := p.msg.Get(key); value != "" {
				header.Add(key, value)
			}
		}
		parts := p.msg.Parts()
		if len(parts) > 0 {
			sub := message.Parse(parts[0])
			sub.Body = explanation + sub.Body
			parts[0] = sub.String()
		}
		body = message.JoinParts(parts, p.msg.Boundary())
	} else {
		if contentType := p.msg.Get("Content-Type"); contentType != "" {
			header.Add("Content-Type", contentType)
		}
		body = explanation + p.msg.Body
	}
	notices.Send(ctx, []string{p.from}, header, body)
	p.logger.Info("reject", "list", ml.Name(), "from", p.from)
}

// reportUnsubscription tells member it left ml. requestedBy is set when
// another member asked for the removal.
func (p *processing) reportUnsubscription(ctx context.Context, ml *list.List, member, requestedBy string) {
	notices := p.env.Notices
	loc := p.localizer()
	header := notices.Header(member, ml.Address(), loc.Sprintf(i18n.UnsubscribeSubject, ml.ShortName(), member), p.charset)
	header.Add("Content-Type", notices.ContentType(p.charset))

	var body string
	if requestedBy != "" {
		body = loc.Sprintf(i18n.RemovedByRequest, ml.Address()) + loc.Sprintf(i18n.ByRequestOf, requestedBy)
	} else {
		body = loc.Sprintf(i18n.Unsubscribed, ml.Address())
	}
	body += notices.Footer(loc)
	notices.Send(ctx, []string{member}, header, p.encode(body))
	p.logger.Info("unsubscribe", "list", ml.Name(), "address", member, "requested_by", requestedBy)
}

func addressLines(addresses []string) string {
	var b strings.Builder
	for _, address := range addresses {
		b.WriteString(address + "\n")
	}
	return b.String()
}

func (p *processing) reportTooManyMembers(ctx context.Context, ml *list.List, unadded []string) {
	loc := p.localizer()
	body := loc.Sprintf(i18n.TooManyMembers, ml.Address(), ml.Limits().MaxMembers) +
		addressLines(unadded) +
		p.env.Notices.Footer(loc)
	p.reply(ctx, ml.Address(), p.errorSubject(loc), body)
	p.logger.Info("too many members", "list", ml.Name(), "unadded", unadded)
}

func (p *processing) reportInvalidMembers(ctx context.Context, ml *list.List, invalid []string) {
	loc := p.localizer()
	body := loc.Sprintf(i18n.KnownMembersOnly, ml.Address()) +
		addressLines(invalid) +
		p.env.Notices.Footer(loc)
	p.reply(ctx, ml.Address(), p.errorSubject(loc), body)
	p.logger.Info("invalid members", "list", ml.Name(), "invalid", invalid)
}

func (p *processing) reportInvalidMLAddress(ctx context.Context, address string) {
	loc := p.localizer()
	body := loc.Sprintf(i18n.InvalidName, address) +
		loc.Sprintf(i18n.NameCharacters) +
		p.env.Notices.Footer(loc)
	p.reply(ctx, p.env.Config.Postmaster, p.errorSubject(loc), body)
	p.logger.Info("invalid mailing list name", "address", address, "from", p.from)
}

func (p *processing) reportInvalidCreator(ctx context.Context, address string) {
	loc := p.localizer()
	body := loc.Sprintf(i18n.InvalidCreator, address, p.from) + p.env.Notices.Footer(loc)
	p.reply(ctx, p.env.Config.Postmaster, p.errorSubject(loc), body)
	p.logger.Info("invalid creator", "address", address, "from", p.from)
}

func (p *processing) reportInvalidSender(ctx context.Context, address string) {
	loc := p.localizer()
	body := loc.Sprintf(i18n.InvalidSender, address, p.from) + p.env.Notices.Footer(loc)
	p.reply(ctx, p.env.Config.Postmaster, p.errorSubject(loc), body)
	p.logger.Info("invalid sender", "address", address, "from", p.from)
}
