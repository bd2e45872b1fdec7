// Package smtpserver accepts mail for the list domain over SMTP and hands
// every complete message to a Processor.
package smtpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/notice"
)

// Processor handles one received message.
type Processor interface {
	Process(ctx context.Context, msg *message.Message)
}

type Options struct {
	Config    *config.Config
	Processor Processor
	Notices   *notice.Sender
	Logger    *slog.Logger
	Now       func() time.Time
}

type Server struct {
	cfg       *config.Config
	processor Processor
	notices   *notice.Sender
	logger    *slog.Logger
	now       func() time.Time
	hostname  string

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu       sync.Mutex
	listener net.Listener
}

func New(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	threads := opts.Config.MaxThreads
	if threads < 1 {
		threads = 1
	}
	return &Server{
		cfg:       opts.Config,
		processor: opts.Processor,
		notices:   opts.Notices,
		logger:    logger,
		now:       now,
		hostname:  hostname(opts.Config.Port),
		sem:       semaphore.NewWeighted(int64(threads)),
	}
}

// hostname is the name announced to clients: the machine name when
// serving the standard port, otherwise localhost.
func hostname(port int) string {
	if port != 25 {
		return "localhost"
	}
	name, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// ListenAndServe listens on the configured address and serves until ctx
// is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("smtp listen %s: %w", s.cfg.ListenAddr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then waits for the
// running sessions. Sessions idle between transactions are closed at once;
// a transaction in progress may finish within the session timeout. At most max_threads sessions run at once; further
// clients wait in the listen backlog.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()

	s.logger.Info("smtp server listening", "addr", ln.Addr().String(), "pid", os.Getpid())
	var serveErr error
	for {
		if err := s.sem.Acquire(ctx, 1); err != nil {
			break
		}
		conn, err := ln.Accept()
		if err != nil {
			s.sem.Release(1)
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			serveErr = fmt.Errorf("smtp accept: %w", err)
			break
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.sem.Release(1)
			s.handleConn(ctx, conn)
		}()
	}
	s.wg.Wait()
	s.logger.Info("smtp server exited", "pid", os.Getpid())
	return serveErr
}

// Addr returns the listener's address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("session panic", "panic", r, "stack", string(debug.Stack()))
		}
		if err := conn.Close(); err == nil {
			s.logger.Debug("closed", "remote", conn.RemoteAddr().String())
		}
	}()

	deadline := time.Now().Add(s.cfg.Timeout)
	_ = conn.SetDeadline(deadline)
	sess := newSession(s, conn, deadline)
	stop := context.AfterFunc(ctx, sess.interrupt)
	defer stop()

	sess.serve(ctx)
}
