package smtpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.io/infrasutra/quickml/internal/message"
)

var (
	ErrTooLargeMail = errors.New("too large mail")
	ErrTooLongLine  = errors.New("too long line")
)

// maxLineLength bounds every line read from a client, line ending
// included.
const maxLineLength = 1024

// drainGrace is how long a timed out session may keep reading the rest of
// an in-flight DATA before the connection is dropped.
const drainGrace = 5 * time.Second

const defaultHelloHost = "hello.host.invalid"

var (
	mailAnglePattern = regexp.MustCompile(`(?i)^From:\s*<(.*)>`)
	mailPattern      = regexp.MustCompile(`(?i)^From:\s*(.*)`)
	rcptAnglePattern = regexp.MustCompile(`(?i)^To:\s*<(.*)>`)
	rcptPattern      = regexp.MustCompile(`(?i)^To:\s*(.*)`)
)

// errClosed ends the command loop after QUIT.
var errClosed = errors.New("session closed")

type session struct {
	server *Server
	conn   net.Conn
	r      *bufio.Reader
	w      *bufio.Writer
	logger *slog.Logger

	helloHost string
	protocol  string
	peerHost  string
	peerAddr  string

	inData       bool
	dataFinished bool

	// deadline is the end of the session timeout. mu guards busy and
	// stopping, which decide whether shutdown may cut the session short.
	deadline time.Time
	mu       sync.Mutex
	busy     bool
	stopping bool
}

func newSession(s *Server, conn net.Conn, deadline time.Time) *session {
	peerAddr := conn.RemoteAddr().String()
	if host, _, err := net.SplitHostPort(peerAddr); err == nil {
		peerAddr = host
	}
	return &session{
		server:    s,
		conn:      conn,
		r:         bufio.NewReaderSize(conn, maxLineLength),
		w:         bufio.NewWriter(conn),
		logger:    s.logger.With("session", uuid.NewString(), "remote", peerAddr),
		helloHost: defaultHelloHost,
		peerHost:  lookupPeer(peerAddr),
		peerAddr:  peerAddr,
		deadline:  deadline,
	}
}

func lookupPeer(addr string) string {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	names, err := net.DefaultResolver.LookupAddr(ctx, addr)
	if err != nil || len(names) == 0 {
		return addr
	}
	return strings.TrimSuffix(names[0], ".")
}

// interrupt asks the session to end at its next command. A session inside
// a transaction keeps reading until the transaction is over.
func (s *session) interrupt() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopping = true
	if !s.busy {
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

// setBusy marks the start or the end of a transaction.
func (s *session) setBusy(busy bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.busy = busy
	switch {
	case busy:
		_ = s.conn.SetReadDeadline(s.deadline)
	case s.stopping:
		_ = s.conn.SetReadDeadline(time.Now())
	}
}

func (s *session) interrupted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopping && !s.busy
}

func (s *session) reply(line string) error {
	if _, err := s.w.WriteString(line + "\r\n"); err != nil {
		return err
	}
	return s.w.Flush()
}

// readLine returns the next line with its line ending. A line longer than
// maxLineLength fails with ErrTooLongLine.
func (s *session) readLine() (string, error) {
	line, err := s.r.ReadSlice('\n')
	switch {
	case errors.Is(err, bufio.ErrBufferFull):
		return "", ErrTooLongLine
	case errors.Is(err, io.EOF) && len(line) > 0:
		return string(line), nil
	case err != nil:
		return "", err
	}
	return string(line), nil
}

func chomp(line string) string {
	line = strings.TrimSuffix(line, "\n")
	return strings.TrimSuffix(line, "\r")
}

func endOfData(line string) bool {
	return line == ".\r\n" || line == ".\n"
}

// serve runs the session until the client quits, the connection fails or
// the session times out.
func (s *session) serve(ctx context.Context) {
	start := time.Now()
	defer func() {
		s.logger.Debug("session finished", "elapsed", time.Since(start))
	}()

	if err := s.reply(fmt.Sprintf("220 %s ESMTP QuickML", s.server.hostname)); err != nil {
		return
	}
	s.logger.Debug("connect", "peer", s.peerHost)

	for {
		msg := &message.Message{}
		err := s.receive(msg)
		switch {
		case err == nil:
			s.setBusy(false)
			if msg.Valid() {
				s.server.processor.Process(context.WithoutCancel(ctx), msg)
			}
		case errors.Is(err, ErrTooLargeMail):
			s.cleanup()
			if msg.Valid() {
				cfg := s.server.cfg
				s.server.notices.ReportTooLarge(context.WithoutCancel(ctx), msg, cfg.Postmaster, int64(cfg.MaxMailLength), msg.Charset)
			}
			s.logger.Info("too large mail", "from", msg.From())
			return
		case errors.Is(err, ErrTooLongLine):
			s.cleanup()
			s.logger.Info("too long line", "from", msg.From())
			return
		case errors.Is(err, os.ErrDeadlineExceeded) && s.interrupted():
			s.logger.Debug("shutdown", "peer", s.peerHost)
			_ = s.reply(fmt.Sprintf("421 %s Service not available, closing transmission channel", s.server.hostname))
			return
		case errors.Is(err, os.ErrDeadlineExceeded):
			s.timeout()
			return
		default:
			if !errors.Is(err, errClosed) && !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				s.logger.Debug("session error", "error", err)
			}
			return
		}
	}
}

// cleanup drains an unfinished DATA, says goodbye and leaves the
// connection to be closed.
func (s *session) cleanup() {
	if s.inData && !s.dataFinished {
		s.discardData()
	}
	_ = s.reply("221 Bye")
}

func (s *session) discardData() {
	for {
		line, err := s.readLine()
		if errors.Is(err, ErrTooLongLine) {
			continue
		}
		if err != nil || endOfData(line) {
			return
		}
	}
}

func (s *session) timeout() {
	s.logger.Info("timeout", "peer", s.peerHost)
	_ = s.conn.SetDeadline(time.Now().Add(drainGrace))
	if s.inData && !s.dataFinished {
		s.discardData()
	}
	_ = s.reply("421 Timeout")
}

// receive reads commands for one transaction, up to and including DATA or
// QUIT. It returns nil once DATA has been read into msg.
func (s *session) receive(msg *message.Message) error {
	for {
		raw, err := s.readLine()
		if err != nil {
			return err
		}
		line := chomp(raw)
		command, arg := parseCommand(line)
		switch command {
		case "helo":
			err = s.helo(arg)
		case "ehlo":
			err = s.ehlo(arg)
		case "noop":
			err = s.reply("250 ok")
		case "rset":
			msg.ResetEnvelope()
			s.setBusy(false)
			err = s.reply("250 ok")
		case "mail":
			err = s.mail(msg, arg)
		case "rcpt":
			err = s.rcpt(msg, arg)
		case "data":
			done, dataErr := s.data(msg)
			if dataErr != nil || done {
				return dataErr
			}
			continue
		case "quit":
			_ = s.reply("221 Bye")
			return errClosed
		default:
			s.logger.Debug("unknown command", "command", command, "arg", arg)
			err = s.reply("502 Error: command not implemented")
		}
		s.logger.Debug("command", "line", line)
		if err != nil {
			return err
		}
	}
}

func parseCommand(line string) (command, arg string) {
	i := strings.IndexFunc(line, unicode.IsSpace)
	if i < 0 {
		return strings.ToLower(line), ""
	}
	return strings.ToLower(line[:i]), strings.TrimLeftFunc(line[i:], unicode.IsSpace)
}

func (s *session) setHelloHost(arg string) {
	if fields := strings.Fields(arg); len(fields) > 0 {
		s.helloHost = fields[0]
	}
}

func (s *session) helo(arg string) error {
	s.setHelloHost(arg)
	s.protocol = "SMTP"
	return s.reply("250 " + s.server.hostname)
}

func (s *session) ehlo(arg string) error {
	s.setHelloHost(arg)
	s.protocol = "ESMTP"
	if err := s.reply("250-" + s.server.hostname); err != nil {
		return err
	}
	return s.reply("250 PIPELINING")
}

func (s *session) mail(msg *message.Message, arg string) error {
	if s.protocol == "" {
		return s.reply("503 Error: send HELO/EHLO first")
	}
	match := mailAnglePattern.FindStringSubmatch(arg)
	if match == nil {
		match = mailPattern.FindStringSubmatch(arg)
	}
	if match == nil {
		return s.reply("501 Syntax: MAIL FROM: <address>")
	}
	msg.SetMailFrom(match[1])
	s.setBusy(true)
	return s.reply("250 ok")
}

func (s *session) rcpt(msg *message.Message, arg string) error {
	if !msg.HasMailFrom() {
		return s.reply("503 Error: need MAIL command")
	}
	match := rcptAnglePattern.FindStringSubmatch(arg)
	if match == nil {
		match = rcptPattern.FindStringSubmatch(arg)
	}
	if match == nil {
		return s.reply("501 Syntax: RCPT TO: <address>")
	}
	address := match[1]
	if !message.AddressOfDomain(address, s.server.cfg.Domain) {
		s.logger.Debug("unacceptable recipient", "address", address)
		return s.reply(fmt.Sprintf("554 <%s>: Recipient address rejected", address))
	}
	msg.AddRecipient(address)
	return s.reply("250 ok")
}

// data reads the message text. done is false when DATA was refused and
// the transaction goes on.
func (s *session) data(msg *message.Message) (done bool, err error) {
	if len(msg.Recipients) == 0 {
		return false, s.reply("503 Error: need RCPT command")
	}
	if err := s.reply("354 send the mail data, end with ."); err != nil {
		return false, err
	}
	s.inData = true
	s.dataFinished = false
	if err := s.readMail(msg); err != nil {
		return true, err
	}
	s.inData = false
	return true, s.reply("250 ok")
}

func (s *session) readMail(msg *message.Message) error {
	limit := int64(s.server.cfg.MaxMailLength)
	var length int64
	var text strings.Builder
	for {
		line, err := s.readLine()
		if err != nil {
			return err
		}
		if endOfData(line) {
			break
		}
		length += int64(len(line))
		if length > limit {
			msg.Read(text.String())
			return ErrTooLargeMail
		}
		if strings.HasPrefix(line, "..") {
			line = line[1:]
		}
		text.WriteString(normalizeEOL(line))
	}
	s.dataFinished = true
	msg.Read(text.String())
	msg.Header.Unshift("Received", s.receivedField())
	return nil
}

func normalizeEOL(line string) string {
	line = strings.TrimSuffix(line, "\n")
	line = strings.TrimSuffix(line, "\r")
	return line + "\n"
}

func (s *session) receivedField() string {
	return fmt.Sprintf("from %s (%s [%s])\n\tby %s (QuickML) with %s;\n\t%s",
		s.helloHost,
		s.peerHost,
		s.peerAddr,
		s.server.hostname,
		s.protocol,
		s.server.now().Format(time.RFC1123Z),
	)
}
