package sweeper_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/list/listtest"
	"github.io/infrasutra/quickml/internal/registry"
	"github.io/infrasutra/quickml/internal/store"
	"github.io/infrasutra/quickml/internal/sweeper"
)

const day = 24 * time.Hour

func seedWithPost(t *testing.T, f *listtest.Fixture, address, name string) {
	t.Helper()
	f.Seed(t, address, "a@example.com", "b@example.com")
	require.NoError(t, f.Store.Put(context.Background(), name, store.KeyCount, []byte("1\n")))
}

func TestSweepLifecycle(t *testing.T) {
	t.Parallel()
	f := listtest.New(t)
	s := sweeper.New(f.Env, registry.New())
	ctx := context.Background()
	seedWithPost(t, f, "team@list.example.com", "team")

	s.Sweep(ctx)
	require.Empty(t, f.Transport.Mails())

	f.Clock.Advance(29 * day)
	s.Sweep(ctx)
	alerts := f.Transport.Find("[team] ML will be closed soon")
	require.Len(t, alerts, 1)
	require.Equal(t, []string{"a@example.com", "b@example.com"}, alerts[0].To)
	require.True(t, f.Open(t, "team@list.example.com", "").Alerted())

	s.Sweep(ctx)
	require.Len(t, f.Transport.Mails(), 1)

	f.Clock.Advance(2 * day)
	s.Sweep(ctx)
	names, err := f.Store.Names(ctx)
	require.NoError(t, err)
	require.Empty(t, names)
	require.Equal(t, list.EventClose, f.Events.Types()[len(f.Events.Types())-1])
}

func TestSweepSkipsKeptLists(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Test string
		Flag store.Key
	}{
		{Test: "permanent", Flag: store.KeyPermanent},
		{Test: "forward", Flag: store.KeyForward},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			f := listtest.New(t)
			s := sweeper.New(f.Env, registry.New())
			ctx := context.Background()
			seedWithPost(t, f, "team@list.example.com", "team")
			require.NoError(t, f.Store.Put(ctx, "team", tc.Flag, nil))

			f.Clock.Advance(60 * day)
			s.Sweep(ctx)

			require.Empty(t, f.Transport.Mails())
			require.False(t, f.Open(t, "team@list.example.com", "").NewlyCreated())
		})
	}
}

func TestSweepWritesMissingConfig(t *testing.T) {
	t.Parallel()
	f := listtest.New(t)
	s := sweeper.New(f.Env, registry.New())
	ctx := context.Background()
	require.NoError(t, f.Store.Put(ctx, "dev@sub", store.KeyMembers, []byte("a@example.com\n")))
	require.NoError(t, f.Store.Put(ctx, "bad!name", store.KeyMembers, []byte("a@example.com\n")))

	s.Sweep(ctx)

	ok, err := store.Exists(ctx, f.Store, "dev@sub", store.KeyConfig)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = store.Exists(ctx, f.Store, "bad!name", store.KeyConfig)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRunStopsOnCancel(t *testing.T) {
	t.Parallel()
	f := listtest.New(t, func(c *config.Config) { c.SweepInterval = 10 * time.Millisecond })
	s := sweeper.New(f.Env, registry.New())
	seedWithPost(t, f, "team@list.example.com", "team")
	f.Clock.Advance(29 * day)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return len(f.Transport.Mails()) == 1 }, 5*time.Second, 10*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}
