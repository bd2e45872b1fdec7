package smtpserver_test

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/notice"
	"github.io/infrasutra/quickml/internal/smtpserver"
	"github.io/infrasutra/quickml/internal/transport/transporttest"
)

type recordingProcessor struct {
	msgs chan *message.Message
}

func (p *recordingProcessor) Process(_ context.Context, msg *message.Message) {
	p.msgs <- msg
}

type harness struct {
	t         *testing.T
	addr      string
	processor *recordingProcessor
	transport *transporttest.Recorder

	cancel   context.CancelFunc
	done     chan error
	stopOnce sync.Once
	stopErr  error
}

func start(t *testing.T, opts ...func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Domain = "list.example.com"
	cfg.Postmaster = "postmaster@list.example.com"
	cfg.Port = 2525
	for _, opt := range opts {
		opt(&cfg)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := &transporttest.Recorder{}
	processor := &recordingProcessor{msgs: make(chan *message.Message, 10)}
	srv := smtpserver.New(smtpserver.Options{
		Config:    &cfg,
		Processor: processor,
		Notices: notice.NewSender(notice.Options{
			Transport: recorder,
			Domain:    cfg.Domain,
			Logger:    logger,
		}),
		Logger: logger,
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()
	h := &harness{
		t:         t,
		addr:      ln.Addr().String(),
		processor: processor,
		transport: recorder,
		cancel:    cancel,
		done:      done,
	}
	t.Cleanup(func() { require.NoError(t, h.wait()) })
	return h
}

// wait stops the server and returns once Serve has.
func (h *harness) wait() error {
	h.cancel()
	h.stopOnce.Do(func() { h.stopErr = <-h.done })
	return h.stopErr
}

func (h *harness) received() *message.Message {
	h.t.Helper()
	select {
	case msg := <-h.processor.msgs:
		return msg
	case <-time.After(5 * time.Second):
		h.t.Fatal("no message processed")
		return nil
	}
}

func (h *harness) nothingReceived() {
	h.t.Helper()
	select {
	case msg := <-h.processor.msgs:
		h.t.Fatalf("unexpected message from %q", msg.MailFrom)
	case <-time.After(100 * time.Millisecond):
	}
}

type client struct {
	t    *testing.T
	conn net.Conn
	r    *bufio.Reader
}

func (h *harness) dial() *client {
	h.t.Helper()
	conn, err := net.Dial("tcp", h.addr)
	require.NoError(h.t, err)
	h.t.Cleanup(func() { _ = conn.Close() })
	return &client{t: h.t, conn: conn, r: bufio.NewReader(conn)}
}

func (c *client) send(line string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, line+"\r\n")
	require.NoError(c.t, err)
}

func (c *client) expect(want string) {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	line, err := c.r.ReadString('\n')
	require.NoError(c.t, err)
	require.Equal(c.t, want, strings.TrimRight(line, "\r\n"))
}

func (c *client) cmd(line, want string) {
	c.t.Helper()
	c.send(line)
	c.expect(want)
}

func (c *client) expectClosed() {
	c.t.Helper()
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, err := c.r.ReadString('\n')
	require.Error(c.t, err)
}

// hello connects and completes EHLO.
func (h *harness) hello() *client {
	c := h.dial()
	c.expect("220 localhost ESMTP QuickML")
	c.send("EHLO client.example")
	c.expect("250-localhost")
	c.expect("250 PIPELINING")
	return c
}

func TestDelivery(t *testing.T) {
	t.Parallel()
	h := start(t)
	c := h.hello()

	c.cmd("MAIL FROM:<alice@example.com>", "250 ok")
	c.cmd("RCPT TO:<team@list.example.com>", "250 ok")
	c.cmd("DATA", "354 send the mail data, end with .")
	c.send("From: alice@example.com")
	c.send("To: team@list.example.com")
	c.send("Subject: hello")
	c.send("")
	c.send("hello")
	c.send("..dot")
	c.cmd(".", "250 ok")

	msg := h.received()
	require.Equal(t, "alice@example.com", msg.MailFrom)
	require.Equal(t, []string{"team@list.example.com"}, msg.Recipients)
	require.Equal(t, "hello", msg.Get("Subject"))
	require.Equal(t, "hello\n.dot\n", msg.Body)
	received := msg.Header.Fields()[0]
	require.Equal(t, "Received", received.Key)
	require.True(t, strings.HasPrefix(received.Value, "from client.example ("))
	require.Contains(t, received.Value, "[127.0.0.1])\n\tby localhost (QuickML) with ESMTP;\n\t")

	// A second transaction on the same connection.
	c.cmd("MAIL FROM:<>", "250 ok")
	c.cmd("RCPT TO:team=return=bob=example.com@list.example.com", "250 ok")
	c.cmd("DATA", "354 send the mail data, end with .")
	c.send("")
	c.send("bounce")
	c.cmd(".", "250 ok")

	bounce := h.received()
	require.Equal(t, "", bounce.MailFrom)
	require.True(t, bounce.Valid())
	require.Equal(t, []string{"team=return=bob=example.com@list.example.com"}, bounce.Recipients)

	c.cmd("QUIT", "221 Bye")
	c.expectClosed()
}

func TestReplies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Test     string
		Hello    bool
		Commands []string
		Want     string
	}{
		{Test: "mail before hello", Commands: []string{"MAIL FROM:<a@example.com>"}, Want: "503 Error: send HELO/EHLO first"},
		{Test: "helo", Commands: []string{"HELO client.example"}, Want: "250 localhost"},
		{Test: "noop", Hello: true, Commands: []string{"NOOP"}, Want: "250 ok"},
		{Test: "unknown command", Hello: true, Commands: []string{"VRFY bob"}, Want: "502 Error: command not implemented"},
		{Test: "empty line", Hello: true, Commands: []string{""}, Want: "502 Error: command not implemented"},
		{Test: "mail syntax", Hello: true, Commands: []string{"MAIL <a@example.com>"}, Want: "501 Syntax: MAIL FROM: <address>"},
		{Test: "rcpt before mail", Hello: true, Commands: []string{"RCPT TO:<team@list.example.com>"}, Want: "503 Error: need MAIL command"},
		{
			Test:     "rcpt syntax",
			Hello:    true,
			Commands: []string{"MAIL FROM:<a@example.com>", "RCPT <team@list.example.com>"},
			Want:     "501 Syntax: RCPT TO: <address>",
		},
		{
			Test:     "foreign recipient",
			Hello:    true,
			Commands: []string{"MAIL FROM:<a@example.com>", "RCPT TO:<bob@elsewhere.example>"},
			Want:     "554 <bob@elsewhere.example>: Recipient address rejected",
		},
		{
			Test:     "subdomain recipient",
			Hello:    true,
			Commands: []string{"mail from: a@example.com", "rcpt to: <dev@team.list.example.com>"},
			Want:     "250 ok",
		},
		{
			Test:     "data without recipients",
			Hello:    true,
			Commands: []string{"MAIL FROM:<a@example.com>", "DATA"},
			Want:     "503 Error: need RCPT command",
		},
		{
			Test:     "reset forgets the sender",
			Hello:    true,
			Commands: []string{"MAIL FROM:<a@example.com>", "RSET", "RCPT TO:<team@list.example.com>"},
			Want:     "503 Error: need MAIL command",
		},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			h := start(t)
			var c *client
			if tc.Hello {
				c = h.hello()
			} else {
				c = h.dial()
				c.expect("220 localhost ESMTP QuickML")
			}
			last := len(tc.Commands) - 1
			for _, command := range tc.Commands[:last] {
				c.send(command)
				_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
				_, err := c.r.ReadString('\n')
				require.NoError(t, err)
			}
			c.cmd(tc.Commands[last], tc.Want)
		})
	}
}

func TestBareDotEndsData(t *testing.T) {
	t.Parallel()
	h := start(t)
	c := h.hello()

	c.cmd("MAIL FROM:<a@example.com>", "250 ok")
	c.cmd("RCPT TO:<team@list.example.com>", "250 ok")
	c.cmd("DATA", "354 send the mail data, end with .")
	_, err := io.WriteString(c.conn, "Subject: bare\n\nline\n.\n")
	require.NoError(t, err)
	c.expect("250 ok")

	msg := h.received()
	require.Equal(t, "bare", msg.Get("Subject"))
	require.Equal(t, "line\n", msg.Body)
}

func TestTooLongLine(t *testing.T) {
	t.Parallel()

	t.Run("command", func(t *testing.T) {
		t.Parallel()
		h := start(t)
		c := h.hello()

		c.cmd("NOOP "+strings.Repeat("x", 2000), "221 Bye")
		c.expectClosed()
		h.nothingReceived()
	})

	t.Run("data", func(t *testing.T) {
		t.Parallel()
		h := start(t)
		c := h.hello()

		c.cmd("MAIL FROM:<a@example.com>", "250 ok")
		c.cmd("RCPT TO:<team@list.example.com>", "250 ok")
		c.cmd("DATA", "354 send the mail data, end with .")
		c.send("Subject: long")
		c.send("")
		c.send(strings.Repeat("x", 2000))
		c.send("after")
		c.cmd(".", "221 Bye")
		c.expectClosed()
		h.nothingReceived()
	})
}

func TestTooLargeMail(t *testing.T) {
	t.Parallel()
	h := start(t, func(c *config.Config) { c.MaxMailLength = 40 })
	c := h.hello()

	c.cmd("MAIL FROM:<alice@example.com>", "250 ok")
	c.cmd("RCPT TO:<team@list.example.com>", "250 ok")
	c.cmd("DATA", "354 send the mail data, end with .")
	c.send("From: alice@example.com")
	c.send("Subject: big")
	c.send("")
	for range 5 {
		c.send("0123456789")
	}
	c.cmd(".", "221 Bye")
	c.expectClosed()
	h.nothingReceived()

	require.Eventually(t, func() bool { return len(h.transport.Mails()) == 1 }, 5*time.Second, 10*time.Millisecond)
	report := h.transport.Mails()[0]
	require.Equal(t, []string{"alice@example.com"}, report.To)
	require.Equal(t, "postmaster@list.example.com", report.Header.Get("From"))
	require.Equal(t, "[QuickML] Error: big", report.Header.Get("Subject"))
	require.Contains(t, report.Body, "The max length is 40 bytes.\n\n")
}

func TestTimeout(t *testing.T) {
	t.Parallel()
	h := start(t, func(c *config.Config) { c.Timeout = 500 * time.Millisecond })
	c := h.hello()

	c.expect("421 Timeout")
	c.expectClosed()
}

func TestSessionLimit(t *testing.T) {
	t.Parallel()
	h := start(t, func(c *config.Config) { c.MaxThreads = 1 })

	first := h.hello()
	second := h.dial()
	_ = second.conn.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, err := second.r.ReadString('\n')
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	require.True(t, netErr.Timeout())

	first.cmd("QUIT", "221 Bye")
	second.expect("220 localhost ESMTP QuickML")
}

func TestShutdown(t *testing.T) {
	t.Parallel()

	t.Run("idle session", func(t *testing.T) {
		t.Parallel()
		h := start(t)
		c := h.hello()

		require.NoError(t, h.wait())
		c.expect("421 localhost Service not available, closing transmission channel")
		c.expectClosed()
	})

	t.Run("data in flight", func(t *testing.T) {
		t.Parallel()
		h := start(t)
		c := h.hello()

		c.cmd("MAIL FROM:<alice@example.com>", "250 ok")
		c.cmd("RCPT TO:<team@list.example.com>", "250 ok")
		c.cmd("DATA", "354 send the mail data, end with .")
		c.send("Subject: late")
		c.send("")

		stopped := make(chan error, 1)
		go func() { stopped <- h.wait() }()
		time.Sleep(100 * time.Millisecond)

		c.send("still here")
		c.cmd(".", "250 ok")
		msg := h.received()
		require.Equal(t, "late", msg.Get("Subject"))
		require.Equal(t, "still here\n", msg.Body)

		c.expect("421 localhost Service not available, closing transmission channel")
		c.expectClosed()
		require.NoError(t, <-stopped)
	})
}
