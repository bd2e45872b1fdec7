package transport

import (
	"context"
	"log/slog"
)

// Log only records deliveries. It is meant for local runs without a relay.
type Log struct {
	logger *slog.Logger
}

func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Name() string {
	return "log"
}

func (l *Log) Deliver(_ context.Context, mail *Mail) error {
	l.logger.Info("deliver",
		"from", mail.From,
		"to", mail.To,
		"subject", mail.Header.Get("Subject"),
		"size", len(mail.Body),
	)
	return nil
}
