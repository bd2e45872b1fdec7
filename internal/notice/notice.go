// Package notice composes and sends the mail quickml generates on its own:
// error reports, confirmations and membership notices.
package notice

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/transport"
)

type Options struct {
	Transport   transport.Transport
	Catalog     *i18n.Catalog
	ContentType string
	InfoURL     string
	Domain      string
	Logger      *slog.Logger
	Now         func() time.Time
}

type Sender struct {
	transport   transport.Transport
	catalog     *i18n.Catalog
	contentType string
	infoURL     string
	domain      string
	logger      *slog.Logger
	now         func() time.Time
}

func NewSender(opts Options) *Sender {
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Sender{
		transport:   opts.Transport,
		catalog:     opts.Catalog,
		contentType: contentType,
		infoURL:     opts.InfoURL,
		domain:      opts.Domain,
		logger:      logger,
		now:         now,
	}
}

func (s *Sender) Localizer(charset string) *i18n.Localizer {
	return s.catalog.For(charset)
}

func (s *Sender) InfoURL() string {
	return s.infoURL
}

// ContentType is the Content-Type of generated text in charset.
func (s *Sender) ContentType(charset string) string {
	if charset == "" {
		return s.contentType
	}
	return s.contentType + "; charset=" + charset
}

// Footer is the signature appended to notices.
func (s *Sender) Footer(loc *i18n.Localizer) string {
	return "\n--\n" + loc.Sprintf(i18n.Info, s.infoURL)
}

// Header starts the header of a notice. The subject is encoded for charset.
func (s *Sender) Header(to, from, subject, charset string) message.Header {
	var h message.Header
	h.Add("To", to)
	h.Add("From", from)
	h.Add("Subject", message.EncodeField(subject, charset))
	return h
}

// Deliver hands mail to the transport once. A failure is logged and
// dropped.
func (s *Sender) Deliver(ctx context.Context, mail *transport.Mail) {
	if err := s.transport.Deliver(ctx, mail); err != nil {
		s.logger.Error("unable to send mail",
			"transport", s.transport.Name(),
			"from", mail.From,
			"to", mail.To,
			"error", err,
		)
	}
}

// Send delivers a generated notice from the null reverse-path after
// stamping it with Date and Message-Id.
func (s *Sender) Send(ctx context.Context, to []string, header message.Header, body string) {
	if !header.Has("Date") {
		header.Add("Date", s.now().Format(time.RFC1123Z))
	}
	if !header.Has("Message-Id") {
		header.Add("Message-Id", fmt.Sprintf("<%s@%s>", uuid.NewString(), s.domain))
	}
	s.Deliver(ctx, &transport.Mail{
		To:     to,
		Header: header,
		Body:   body,
	})
}

// Quote summarizes the header of m for inclusion in a notice body.
func Quote(m *message.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", message.DecodeSubject(m.Get("Subject")))
	fmt.Fprintf(&b, "To: %s\n", m.Get("To"))
	fmt.Fprintf(&b, "From: %s\n", m.Get("From"))
	fmt.Fprintf(&b, "Date: %s\n", m.Get("Date"))
	return b.String()
}

// ReportTooLarge tells the author of m that it exceeded maxLength bytes.
// from is the address the report claims to come from.
func (s *Sender) ReportTooLarge(ctx context.Context, m *message.Message, from string, maxLength int64, charset string) {
	loc := s.Localizer(charset)
	header := s.Header(m.From(), from, loc.Sprintf(i18n.ErrorSubject, message.DecodeSubject(m.Get("Subject"))), charset)
	header.Add("Content-Type", s.ContentType(charset))

	var body strings.Builder
	body.WriteString(loc.Sprintf(i18n.TooLargeBody))
	body.WriteString(loc.Sprintf(i18n.MaxLength, humanize.Comma(maxLength)))
	body.WriteString(Quote(m))
	s.Send(ctx, []string{m.From()}, header, message.EncodeText(body.String(), charset))
}
