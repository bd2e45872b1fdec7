package router_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/list/listtest"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/registry"
	"github.io/infrasutra/quickml/internal/router"
	"github.io/infrasutra/quickml/internal/store"
)

const team = "team@list.example.com"

func newRouter(t *testing.T, opts ...func(*config.Config)) (*listtest.Fixture, *router.Router) {
	t.Helper()
	f := listtest.New(t, opts...)
	return f, router.New(f.Env, registry.New())
}

func mail(mailFrom string, recipients []string, raw string) *message.Message {
	m := message.Parse(raw)
	m.MailFrom = mailFrom
	for _, rcpt := range recipients {
		m.AddRecipient(rcpt)
	}
	return m
}

func TestNewListIsCreatedBySender(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)

	r.Process(context.Background(), mail("alice@example.com", []string{team},
		"From: alice@example.com\nTo: team@list.example.com\nSubject: hello\n\nhello\n"))

	require.Equal(t, []string{"alice@example.com"}, f.Open(t, team, "").ActiveMembers())
	mails := f.Transport.Mails()
	require.Len(t, mails, 1)
	require.Equal(t, []string{"alice@example.com"}, mails[0].To)
	require.Equal(t, "team=return@list.example.com", mails[0].From)
	require.Equal(t, "[team:1] hello", mails[0].Header.Get("Subject"))
	require.Contains(t, mails[0].Body, "New Member: alice@e...\n")
}

func TestPostAddsCcMembers(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com", "b@example.com", "c@example.com")

	r.Process(context.Background(), mail("a@example.com", []string{team},
		"From: a@example.com\nTo: team@list.example.com\nCc: d@x.com\nSubject: hi\n\nhi\n"))

	require.Equal(t,
		[]string{"a@example.com", "b@example.com", "c@example.com", "d@x.com"},
		f.Open(t, team, "").ActiveMembers())
	mails := f.Transport.Mails()
	require.Len(t, mails, 1)
	require.Equal(t, []string{"a@example.com", "b@example.com", "c@example.com", "d@x.com"}, mails[0].To)
	require.Contains(t, mails[0].Body, "New Member: d@x...\n")
	require.Contains(t, mails[0].Body, "Members of <team@list.example.com>:\na@e...\nb@e...\nc@e...\nd@x...\n")
}

func TestPostWithoutListInToAddsNobody(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com")

	r.Process(context.Background(), mail("a@example.com", []string{team},
		"From: a@example.com\nTo: someone@example.com\nCc: d@x.com\nSubject: hi\n\nhi\n"))

	require.Equal(t, []string{"a@example.com"}, f.Open(t, team, "").ActiveMembers())
	require.Len(t, f.Transport.Mails(), 1)
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()

	t.Run("self", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com", "b@example.com")

		r.Process(context.Background(), mail("b@example.com", []string{team},
			"From: b@example.com\nTo: team@list.example.com\nSubject: bye\n\n\n"))

		l := f.Open(t, team, "")
		require.Equal(t, []string{"a@example.com"}, l.ActiveMembers())
		require.True(t, l.IsFormer("b@example.com"))
		mails := f.Transport.Mails()
		require.Len(t, mails, 1)
		require.Equal(t, []string{"b@example.com"}, mails[0].To)
		require.Equal(t, "[team] Unsubscribe: b@example.com", mails[0].Header.Get("Subject"))
		require.Contains(t, mails[0].Body, "You have unsubscribed from the mailing list:\n<team@list.example.com>.\n")
	})

	t.Run("by request", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com", "b@example.com", "c@example.com")

		r.Process(context.Background(), mail("a@example.com", []string{team},
			"From: a@example.com\nTo: team@list.example.com\nCc: b@example.com, stranger@example.com\n\nunsubscribe\n"))

		require.Equal(t, []string{"a@example.com", "c@example.com"}, f.Open(t, team, "").ActiveMembers())
		mails := f.Transport.Mails()
		require.Len(t, mails, 1)
		require.Equal(t, []string{"b@example.com"}, mails[0].To)
		require.Contains(t, mails[0].Body, "by the request of <a@example.com>.\n")
	})

	t.Run("last member closes the list", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com")

		r.Process(context.Background(), mail("a@example.com", []string{team},
			"From: a@example.com\nTo: team@list.example.com\n\nbye\n"))

		require.True(t, f.Open(t, team, "").NewlyCreated())
		require.Len(t, f.Transport.Find("Unsubscribe"), 1)
	})

	t.Run("non-member is rejected", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com")

		r.Process(context.Background(), mail("z@example.com", []string{team},
			"From: z@example.com\nTo: team@list.example.com\nSubject: quit\n\n"))

		mails := f.Transport.Mails()
		require.Len(t, mails, 1)
		require.Equal(t, []string{"z@example.com"}, mails[0].To)
		require.Equal(t, "[QuickML] Error: quit", mails[0].Header.Get("Subject"))
	})
}

func TestRejection(t *testing.T) {
	t.Parallel()

	t.Run("plain", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com")

		r.Process(context.Background(), mail("z@example.com", []string{team},
			"From: z@example.com\nTo: team@list.example.com\nSubject: hi\n\nlet me in\n"))

		require.Equal(t, []string{"a@example.com"}, f.Open(t, team, "").ActiveMembers())
		mails := f.Transport.Mails()
		require.Len(t, mails, 1)
		m := mails[0]
		require.Equal(t, []string{"z@example.com"}, m.To)
		require.Equal(t, team, m.Header.Get("From"))
		require.Equal(t, "[QuickML] Error: hi", m.Header.Get("Subject"))
		require.Contains(t, m.Body, "You are not a member of the mailing list:\n<team@list.example.com>\n")
		require.Contains(t, m.Body, "----- Original Message -----\nSubject: hi\n")
		require.True(t, strings.HasSuffix(m.Body, "\nlet me in\n"))
		require.False(t, m.Header.Has("Content-Type"))
	})

	t.Run("multipart", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t)
		f.Seed(t, team, "a@example.com")

		raw := "From: z@example.com\nTo: team@list.example.com\nSubject: hi\n" +
			"Content-Type: multipart/mixed; boundary=\"XX\"\n\n" +
			"--XX\nContent-Type: text/plain\n\nhello\n" +
			"--XX\nContent-Type: application/octet-stream\n\nAAAA\n--XX--\n"
		r.Process(context.Background(), mail("z@example.com", []string{team}, raw))

		mails := f.Transport.Mails()
		require.Len(t, mails, 1)
		m := mails[0]
		require.Equal(t, `multipart/mixed; boundary="XX"`, m.Header.Get("Content-Type"))
		require.Contains(t, m.Body, "--XX\nContent-Type: text/plain\n\nYou are not a member")
		require.Contains(t, m.Body, "\nhello\n--XX\nContent-Type: application/octet-stream\n\nAAAA\n--XX--\n")
	})
}

func TestFormerMemberMayPost(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com", "b@example.com")
	l := f.Open(t, team, "")
	require.NoError(t, l.RemoveMember(context.Background(), "b@example.com"))

	r.Process(context.Background(), mail("b@example.com", []string{team},
		"From: b@example.com\nTo: team@list.example.com\nSubject: back\n\nback again\n"))

	require.Equal(t, []string{"a@example.com", "b@example.com"}, f.Open(t, team, "").ActiveMembers())
	require.Len(t, f.Transport.Find("[team:1] back"), 1)
}

func TestIgnoredMail(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Test string
		From string
		Raw  string
	}{
		{
			Test: "looping",
			From: "a@example.com",
			Raw:  "From: a@example.com\nTo: team@list.example.com\nX-QuickML: true\n\nhi\n",
		},
		{
			Test: "own domain",
			From: "other@list.example.com",
			Raw:  "From: other@list.example.com\nTo: team@list.example.com\n\nhi\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			f, r := newRouter(t)
			f.Seed(t, team, "a@example.com")

			r.Process(context.Background(), mail(tc.From, []string{team}, tc.Raw))

			require.Empty(t, f.Transport.Mails())
			require.Equal(t, 0, f.Open(t, team, "").Count())
		})
	}
}

func TestForwardList(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com")
	require.NoError(t, f.Store.Put(context.Background(), "team", store.KeyForward, nil))

	r.Process(context.Background(), mail("z@example.com", []string{team},
		"From: z@example.com\nTo: team@list.example.com\nSubject: fwd\n\nfrom outside\n"))

	require.Equal(t, []string{"a@example.com"}, f.Open(t, team, "").ActiveMembers())
	mails := f.Transport.Mails()
	require.Len(t, mails, 1)
	require.Equal(t, []string{"a@example.com"}, mails[0].To)
	require.Equal(t, "[team:1] fwd", mails[0].Header.Get("Subject"))
}

func TestBounce(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com", "eve@example.com")

	r.Process(context.Background(), mail("MAILER-DAEMON@example.com",
		[]string{"team=return=eve=example.com@list.example.com"},
		"From: MAILER-DAEMON@example.com\nSubject: failure\n\nundeliverable\n"))

	require.Equal(t, 1, f.Open(t, team, "").ErrorCount("eve@example.com"))
	require.Empty(t, f.Transport.Mails())
	require.Equal(t, []list.EventType{list.EventAdd, list.EventAdd, list.EventBounce}, f.Events.Types())

	// Without the encoded member there is nothing to count.
	r.Process(context.Background(), mail("MAILER-DAEMON@example.com",
		[]string{"team=return@list.example.com"},
		"From: MAILER-DAEMON@example.com\n\nundeliverable\n"))
	require.Equal(t, 1, f.Open(t, team, "").ErrorCount("eve@example.com"))
}

func TestConfirmedCreation(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t, func(c *config.Config) { c.ConfirmMLCreation = true })
	ctx := context.Background()

	r.Process(ctx, mail("alice@example.com", []string{team},
		"From: alice@example.com\nTo: team@list.example.com\nCc: bob@example.com\nSubject: kickoff\n\nlet's go\n"))

	require.Empty(t, f.Open(t, team, "").ActiveMembers())
	confirmations := f.Transport.Find("Confirmation")
	require.Len(t, confirmations, 1)
	confirmAddress := confirmations[0].Header.Get("From")
	require.Equal(t, list.ConfirmationAddress(f.Clock.Now().Unix(), team), confirmAddress)
	f.Transport.Reset()

	r.Process(ctx, mail("alice@example.com", []string{confirmAddress},
		"From: alice@example.com\nTo: "+confirmAddress+"\nSubject: Re: confirm\n\n\n"))

	l := f.Open(t, team, "")
	require.Equal(t, []string{"alice@example.com", "bob@example.com"}, l.ActiveMembers())
	require.False(t, l.ConfirmationWaiting())
	require.Len(t, f.Transport.Find("[team:1] kickoff"), 1)

	// A second reply finds nothing waiting.
	f.Transport.Reset()
	r.Process(ctx, mail("alice@example.com", []string{confirmAddress},
		"From: alice@example.com\n\n\n"))
	require.Empty(t, f.Transport.Mails())
}

func TestStaleConfirmation(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t, func(c *config.Config) { c.ConfirmMLCreation = true })
	ctx := context.Background()

	r.Process(ctx, mail("alice@example.com", []string{team},
		"From: alice@example.com\nTo: team@list.example.com\nSubject: kickoff\n\nhi\n"))
	stale := list.ConfirmationAddress(f.Clock.Now().Unix()-60, team)
	f.Transport.Reset()

	r.Process(ctx, mail("alice@example.com", []string{stale}, "From: alice@example.com\n\n\n"))

	require.True(t, f.Open(t, team, "").ConfirmationWaiting())
	require.Empty(t, f.Transport.Mails())
}

func TestMembershipLimits(t *testing.T) {
	t.Parallel()

	t.Run("too many members", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t, func(c *config.Config) { c.MaxMembers = 2 })
		f.Seed(t, team, "a@example.com", "b@example.com")

		r.Process(context.Background(), mail("a@example.com", []string{team},
			"From: a@example.com\nTo: team@list.example.com\nCc: d@x.com, e@x.com\nSubject: grow\n\nhi\n"))

		require.Equal(t, []string{"a@example.com", "b@example.com"}, f.Open(t, team, "").ActiveMembers())
		errs := f.Transport.Find("[QuickML] Error: grow")
		require.Len(t, errs, 1)
		require.Equal(t, []string{"a@example.com"}, errs[0].To)
		require.Contains(t, errs[0].Body, "(2 persons)\n\nd@x.com\ne@x.com\n")
		require.Len(t, f.Transport.Find("[team:1] grow"), 1)
	})

	t.Run("known members only", func(t *testing.T) {
		t.Parallel()
		f, r := newRouter(t, func(c *config.Config) {
			c.MemberCheck = true
			c.MemberAddresses = []string{`@example\.com$`}
		})
		f.Seed(t, team, "a@example.com")

		r.Process(context.Background(), mail("a@example.com", []string{team},
			"From: a@example.com\nTo: team@list.example.com\nCc: d@x.com\nSubject: grow\n\nhi\n"))

		require.Equal(t, []string{"a@example.com"}, f.Open(t, team, "").ActiveMembers())
		errs := f.Transport.Find("[QuickML] Error: grow")
		require.Len(t, errs, 1)
		require.Contains(t, errs[0].Body, "can join known members only.\n\nd@x.com\n")
	})
}

func TestInvalidAddresses(t *testing.T) {
	t.Parallel()

	tests := []struct {
		Test      string
		Opt       func(*config.Config)
		Recipient string
		Want      string
	}{
		{
			Test:      "invalid name",
			Opt:       func(*config.Config) {},
			Recipient: "bad!name@list.example.com",
			Want:      "Invalid mailing list name: <bad!name@list.example.com>\n",
		},
		{
			Test: "invalid creator",
			Opt: func(c *config.Config) {
				c.CreatorCheck = true
				c.CreatorAddresses = []string{`@corp\.example$`}
			},
			Recipient: team,
			Want:      "Invalid Creator: <team@list.example.com> by <alice@example.com>.\n",
		},
		{
			Test: "invalid sender",
			Opt: func(c *config.Config) {
				c.SenderCheck = true
				c.SenderAddresses = []string{`@corp\.example$`}
			},
			Recipient: team,
			Want:      "Invalid Sender: <team@list.example.com> by <alice@example.com>.\n",
		},
	}
	for _, tc := range tests {
		t.Run(tc.Test, func(t *testing.T) {
			t.Parallel()
			f, r := newRouter(t, tc.Opt)

			r.Process(context.Background(), mail("alice@example.com", []string{tc.Recipient},
				"From: alice@example.com\nTo: "+tc.Recipient+"\nSubject: hi\n\nhi\n"))

			mails := f.Transport.Mails()
			require.Len(t, mails, 1)
			require.Equal(t, []string{"alice@example.com"}, mails[0].To)
			require.Equal(t, "postmaster@list.example.com", mails[0].Header.Get("From"))
			require.Equal(t, "[QuickML] Error: hi", mails[0].Header.Get("Subject"))
			require.Contains(t, mails[0].Body, tc.Want)
		})
	}
}

func TestRecipientsAreProcessedOnce(t *testing.T) {
	t.Parallel()
	f, r := newRouter(t)
	f.Seed(t, team, "a@example.com")
	f.Seed(t, "dev@list.example.com", "a@example.com")

	r.Process(context.Background(), mail("a@example.com",
		[]string{team, "dev@list.example.com", team},
		"From: a@example.com\nTo: team@list.example.com, dev@list.example.com\nSubject: both\n\nhi\n"))

	require.Len(t, f.Transport.Find("[team:1] both"), 1)
	require.Len(t, f.Transport.Find("[dev:1] both"), 1)
}
