// Package sweeper periodically closes lists nobody posts to and warns the
// members of lists about to be closed.
package sweeper

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/registry"
)

type Sweeper struct {
	env      *list.Env
	registry *registry.Registry
	interval time.Duration
	logger   *slog.Logger
}

func New(env *list.Env, reg *registry.Registry) *Sweeper {
	return &Sweeper{
		env:      env,
		registry: reg,
		interval: env.Config.SweepInterval,
		logger:   env.Logger.With("component", "sweeper"),
	}
}

// Run sweeps every interval until ctx is canceled. A sweep in progress is
// finished before Run returns.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Debug("sweeper started", "interval", s.interval)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("sweeper shutdown")
			return nil
		case <-ticker.C:
			s.Sweep(context.WithoutCancel(ctx))
		}
	}
}

// Sweep visits every list once.
func (s *Sweeper) Sweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("sweep panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	s.logger.Debug("sweeper runs")
	names, err := s.env.Store.Names(ctx)
	if err != nil {
		s.logger.Error("list names", "error", err)
		return
	}
	for _, name := range names {
		if !list.ValidName(name) {
			continue
		}
		address := list.AddressForName(name, s.env.Config.Domain)
		if err := s.sweepList(ctx, address); err != nil {
			s.logger.Error("sweep list", "list", name, "error", err)
		}
	}
	s.logger.Debug("sweeper finished")
}

func (s *Sweeper) sweepList(ctx context.Context, address string) error {
	return s.registry.With(address, func() error {
		ml, err := list.Open(ctx, s.env, address, "", "")
		if err != nil {
			return fmt.Errorf("open: %w", err)
		}
		if !ml.ConfigExists() {
			if err := ml.WriteConfig(ctx); err != nil {
				return err
			}
		}
		switch {
		case ml.Inactive():
			s.logger.Info("inactive", "list", ml.Name())
			return ml.Close(ctx)
		case ml.NeedAlert():
			return ml.ReportCloseSoon(ctx)
		}
		return nil
	})
}
