// Package listtest builds list environments backed by memory for tests.
package listtest

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/notice"
	"github.io/infrasutra/quickml/internal/store"
	"github.io/infrasutra/quickml/internal/transport/transporttest"
)

const Domain = "list.example.com"

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Events records published list events.
type Events struct {
	mu     sync.Mutex
	events []list.Event
}

func (e *Events) Publish(ev list.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *Events) Types() []list.EventType {
	e.mu.Lock()
	defer e.mu.Unlock()
	var types []list.EventType
	for _, ev := range e.events {
		types = append(types, ev.Type)
	}
	return types
}

type Fixture struct {
	Env       *list.Env
	Config    *config.Config
	Store     *store.Memory
	Transport *transporttest.Recorder
	Clock     *Clock
	Events    *Events
	Logger    *slog.Logger
}

// Config returns the settings fixtures start from.
func Config() config.Config {
	cfg := config.Default()
	cfg.Domain = Domain
	cfg.SMTPHost = "localhost"
	cfg.Postmaster = "postmaster@" + Domain
	cfg.CreatorAddresses = []string{Domain}
	cfg.MemberAddresses = []string{Domain}
	cfg.SenderAddresses = []string{Domain}
	return cfg
}

// New builds a fixture. Options adjust the config before anything is
// constructed from it.
func New(t testing.TB, opts ...func(*config.Config)) *Fixture {
	t.Helper()
	cfg := Config()
	for _, opt := range opts {
		opt(&cfg)
	}
	catalog, err := i18n.Load(cfg.MessageCatalog)
	require.NoError(t, err)

	clock := NewClock(time.Date(2024, time.March, 1, 9, 0, 0, 0, time.UTC))
	st := store.NewMemory()
	st.Now = clock.Now
	recorder := &transporttest.Recorder{}
	events := &Events{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	notices := notice.NewSender(notice.Options{
		Transport:   recorder,
		Catalog:     catalog,
		ContentType: cfg.ContentType,
		InfoURL:     cfg.InfoURL,
		Domain:      cfg.Domain,
		Logger:      logger,
		Now:         clock.Now,
	})
	return &Fixture{
		Env: &list.Env{
			Config:  &cfg,
			Store:   st,
			Notices: notices,
			Events:  events,
			Logger:  logger,
			Now:     clock.Now,
		},
		Config:    &cfg,
		Store:     st,
		Transport: recorder,
		Clock:     clock,
		Events:    events,
		Logger:    logger,
	}
}

// Open opens the list at address and fails the test on error.
func (f *Fixture) Open(t testing.TB, address, creator string) *list.List {
	t.Helper()
	l, err := list.Open(context.Background(), f.Env, address, creator, "")
	require.NoError(t, err)
	return l
}

// Seed creates the list at address with the given active members.
func (f *Fixture) Seed(t testing.TB, address string, members ...string) {
	t.Helper()
	l := f.Open(t, address, "")
	for _, member := range members {
		require.NoError(t, l.AddMember(context.Background(), member))
	}
	f.Transport.Reset()
}

// Members reads the members record of the list named name.
func (f *Fixture) Members(t testing.TB, name string) string {
	t.Helper()
	entry, err := f.Store.Get(context.Background(), name, store.KeyMembers)
	require.NoError(t, err)
	return string(entry.Data)
}
