package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.io/infrasutra/quickml/internal/api"
	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/notice"
	"github.io/infrasutra/quickml/internal/pidfile"
	"github.io/infrasutra/quickml/internal/registry"
	"github.io/infrasutra/quickml/internal/router"
	"github.io/infrasutra/quickml/internal/smtpserver"
	"github.io/infrasutra/quickml/internal/sse"
	"github.io/infrasutra/quickml/internal/store"
	"github.io/infrasutra/quickml/internal/sweeper"
	"github.io/infrasutra/quickml/internal/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "quickml:", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, closeLog, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, store.Options{
		Driver:   cfg.StoreDriver,
		DataDir:  cfg.DataDir,
		DBPath:   cfg.DBPath,
		RedisURL: cfg.RedisURL,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	catalog, err := i18n.Load(cfg.MessageCatalog)
	if err != nil {
		return err
	}
	tr, err := newTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	notices := notice.NewSender(notice.Options{
		Transport:   tr,
		Catalog:     catalog,
		ContentType: cfg.ContentType,
		InfoURL:     cfg.InfoURL,
		Domain:      cfg.Domain,
		Logger:      logger,
	})

	hub := sse.NewHub()
	env := &list.Env{
		Config:  &cfg,
		Store:   st,
		Notices: notices,
		Events:  hub,
		Logger:  logger,
	}
	reg := registry.New()
	smtpSrv := smtpserver.New(smtpserver.Options{
		Config:    &cfg,
		Processor: router.New(env, reg),
		Notices:   notices,
		Logger:    logger,
	})
	sw := sweeper.New(env, reg)

	if err := pidfile.Write(cfg.PIDFile); err != nil {
		return err
	}
	defer func() {
		if err := pidfile.Remove(cfg.PIDFile); err != nil {
			logger.Error("remove pid file", "error", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return smtpSrv.ListenAndServe(gctx)
	})
	g.Go(func() error {
		return sw.Run(gctx)
	})
	if cfg.HTTPPort > 0 {
		httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
		httpSrv := &http.Server{
			Addr:              httpAddr,
			Handler:           api.NewServer(env, reg, hub, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			logger.Info("http server listening", "addr", httpAddr)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return httpSrv.Shutdown(shutdownCtx)
		})
	}

	logger.Info("server started", "addr", cfg.ListenAddr(), "domain", cfg.Domain, "pid", os.Getpid())
	err = g.Wait()
	logger.Info("server exited", "pid", os.Getpid())
	return err
}

// newLogger logs to log_file when set, otherwise to stdout. verbose
// enables debug records.
func newLogger(cfg config.Config) (*slog.Logger, func(), error) {
	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	var out io.Writer = os.Stdout
	closeLog := func() {}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
		closeLog = func() { _ = f.Close() }
	}
	return slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level})), closeLog, nil
}

func newTransport(ctx context.Context, cfg config.Config, logger *slog.Logger) (transport.Transport, error) {
	switch cfg.Transport {
	case "", "smtp":
		return transport.NewSMTP(cfg.RelayAddr(), cfg.RelayTimeout, logger), nil
	case "ses":
		ses, err := transport.NewSES(ctx, transport.SESConfig{
			Region:          cfg.SESRegion,
			AccessKeyID:     cfg.SESKey,
			SecretAccessKey: cfg.SESSecret,
		})
		if err != nil {
			return nil, err
		}
		return ses, nil
	case "log":
		return transport.NewLog(logger), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
