package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/emersion/go-smtp"
)

// DefaultTimeout bounds the dial and every command of a relay conversation.
const DefaultTimeout = 5 * time.Minute

// SMTP relays mail through an SMTP server. Each delivery uses one
// connection; list mail is sent one envelope per member so that bounces
// name the member that failed.
type SMTP struct {
	addr     string
	hostname string
	timeout  time.Duration
	logger   *slog.Logger
}

func NewSMTP(addr string, timeout time.Duration, logger *slog.Logger) *SMTP {
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		hostname = "localhost"
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &SMTP{addr: addr, hostname: hostname, timeout: timeout, logger: logger}
}

func (s *SMTP) Name() string {
	return "smtp"
}

func (s *SMTP) Deliver(ctx context.Context, mail *Mail) error {
	envelopes := mail.Envelopes()
	if len(envelopes) == 0 {
		return nil
	}
	dialer := net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.addr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.addr, err)
	}
	// Canceling ctx aborts whatever command is running.
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	c := smtp.NewClient(conn)
	c.CommandTimeout = s.timeout
	c.SubmissionTimeout = s.timeout
	defer c.Close()

	if err := c.Hello(s.hostname); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	data := mail.CRLF()
	var errs []error
	for _, env := range envelopes {
		err := s.send(c, conn, env, data)
		if err == nil {
			continue
		}
		errs = append(errs, err)
		var smtpErr *smtp.SMTPError
		if !errors.As(err, &smtpErr) {
			return errors.Join(errs...)
		}
		if err := c.Reset(); err != nil {
			return errors.Join(append(errs, fmt.Errorf("rset: %w", err))...)
		}
	}
	if err := c.Quit(); err != nil {
		s.logger.Debug("smtp quit", "error", err)
	}
	return errors.Join(errs...)
}

func (s *SMTP) send(c *smtp.Client, conn net.Conn, env Envelope, data []byte) error {
	if err := c.Mail(env.From, nil); err != nil {
		return fmt.Errorf("mail from <%s>: %w", env.From, err)
	}
	for _, rcpt := range env.To {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to <%s>: %w", rcpt, err)
		}
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	// The client only bounds commands, not the message text.
	_ = conn.SetWriteDeadline(time.Now().Add(s.timeout))
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write data: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	return nil
}
