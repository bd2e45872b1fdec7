// Package list implements a mailing list: its membership, bounce counters,
// delivery and lifecycle. A List is loaded from the store for one operation
// under the list's lock and is not shared between goroutines.
package list

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.io/infrasutra/quickml/internal/config"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/notice"
	"github.io/infrasutra/quickml/internal/store"
	"github.io/infrasutra/quickml/internal/transport"
)

// Env holds what every list operation needs.
type Env struct {
	Config  *config.Config
	Store   store.Store
	Notices *notice.Sender
	Events  EventSink
	Logger  *slog.Logger
	Now     func() time.Time
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) publish(ev Event) {
	if e.Events == nil {
		return
	}
	ev.Time = e.now()
	e.Events.Publish(ev)
}

type List struct {
	env    *Env
	logger *slog.Logger

	name          string
	shortName     string
	address       string
	returnAddress string

	members        membership
	count          int
	countModTime   time.Time
	charset        string
	messageCharset string
	limits         Limits

	exists       bool
	configExists bool
	forward      bool
	permanent    bool
	unlimited    bool
	alerted      bool
	waiting      bool

	added []string
}

// Open loads the list at address. creator is the sender on whose behalf
// the list is opened and is empty for bounces and sweeps. charset is the
// charset of the mail being handled, if known.
func Open(ctx context.Context, env *Env, address, creator, charset string) (*List, error) {
	cfg := env.Config
	name, err := NameOf(address, cfg.Domain)
	if err != nil {
		return nil, err
	}
	l := &List{
		env:     env,
		logger:  env.Logger.With("list", name),
		name:    name,
		address: address,
		members: membership{errors: newErrorTable()},
	}
	l.shortName, _, _ = strings.Cut(name, "@")
	l.returnAddress = ReturnAddress(l.shortName, address, cfg.UseQmailVERP)

	if cfg.SenderCheck && creator != "" && !matchesAny(creator, cfg.SenderAddresses) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSender, creator)
	}

	members, err := env.Store.Get(ctx, name, store.KeyMembers)
	switch {
	case err == nil:
		l.exists = true
		l.members = decodeMembers(members.Data)
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("open %s: %w", name, err)
	}

	if !l.exists && cfg.CreatorCheck && creator != "" && !matchesAny(creator, cfg.CreatorAddresses) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCreator, creator)
	}

	if err := l.load(ctx); err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	l.messageCharset = charset
	if l.messageCharset == "" {
		l.messageCharset = l.charset
	}
	if l.exists && !l.configExists {
		if err := l.WriteConfig(ctx); err != nil {
			return nil, err
		}
	}
	if !l.exists {
		l.logger.Info("new list", "creator", creator)
	}
	return l, nil
}

func (l *List) load(ctx context.Context) error {
	st := l.env.Store
	l.limits = DefaultLimits(l.env.Config)
	if entry, err := st.Get(ctx, l.name, store.KeyConfig); err == nil {
		l.configExists = true
		limits, err := decodeLimits(entry.Data, l.limits)
		if err != nil {
			l.logger.Debug("ignoring config record", "error", err)
		}
		l.limits = limits
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if entry, err := st.Get(ctx, l.name, store.KeyCount); err == nil {
		l.count, _ = strconv.Atoi(firstLine(entry.Data))
		l.countModTime = entry.ModTime
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	if entry, err := st.Get(ctx, l.name, store.KeyCharset); err == nil {
		l.charset = firstLine(entry.Data)
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	flags := []struct {
		key   store.Key
		value *bool
	}{
		{store.KeyForward, &l.forward},
		{store.KeyPermanent, &l.permanent},
		{store.KeyUnlimited, &l.unlimited},
		{store.KeyAlerted, &l.alerted},
		{store.KeyWaitingMembers, &l.waiting},
	}
	for _, flag := range flags {
		ok, err := store.Exists(ctx, st, l.name, flag.key)
		if err != nil {
			return err
		}
		*flag.value = ok
	}
	return nil
}

func (l *List) Name() string { return l.name }
func (l *List) ShortName() string { return l.shortName }
func (l *List) Address() string { return l.address }
func (l *List) ReturnAddress() string { return l.returnAddress }
func (l *List) Count() int { return l.count }
func (l *List) Charset() string { return l.charset }
func (l *List) Limits() Limits { return l.limits }

// MessageCharset is the charset of the mail being handled, or the charset
// last seen on the list.
func (l *List) MessageCharset() string { return l.messageCharset }

func (l *List) ActiveMembers() []string { return l.members.active.Slice() }
func (l *List) FormerMembers() []string { return l.members.former.Slice() }

func (l *List) IsActive(address string) bool { return l.members.active.Contains(address) }
func (l *List) IsFormer(address string) bool { return l.members.former.Contains(address) }

// ErrorCount is the bounce counter of address, zero when it never bounced.
func (l *List) ErrorCount(address string) int {
	info, _ := l.members.errors.get(address)
	return info.Count
}

// NewlyCreated reports whether the list has no members record yet.
func (l *List) NewlyCreated() bool { return !l.exists }
func (l *List) Forward() bool { return l.forward }
func (l *List) Permanent() bool { return l.permanent }
func (l *List) Unlimited() bool { return l.unlimited }
func (l *List) Alerted() bool { return l.alerted }
func (l *List) ConfirmationWaiting() bool { return l.waiting }
func (l *List) ConfigExists() bool { return l.configExists }

// Exclude reports whether address may never become a member: addresses in
// the server's own domain and addresses without a domain.
func (l *List) Exclude(address string) bool {
	_, domain, ok := strings.Cut(address, "@")
	return message.AddressOfDomain(address, l.env.Config.Domain) || !ok || domain == ""
}

// LastArticleTime is when the count record was last written, or now.
func (l *List) LastArticleTime() time.Time {
	if l.countModTime.IsZero() {
		return l.env.now()
	}
	return l.countModTime
}

// Inactive reports whether the list outlived its life time without posts.
func (l *List) Inactive() bool {
	if l.forward || l.permanent {
		return false
	}
	return l.LastArticleTime().Add(l.limits.LifeTime).Before(l.env.now())
}

// NeedAlert reports whether members should be warned of the coming close.
func (l *List) NeedAlert() bool {
	if l.forward || l.permanent || l.alerted {
		return false
	}
	return !l.LastArticleTime().Add(l.limits.AlertTime).After(l.env.now())
}

// WriteConfig persists the effective limits as the config record.
func (l *List) WriteConfig(ctx context.Context) error {
	data, err := encodeLimits(l.limits)
	if err != nil {
		return err
	}
	if err := l.env.Store.Put(ctx, l.name, store.KeyConfig, data); err != nil {
		return fmt.Errorf("write config %s: %w", l.name, err)
	}
	l.configExists = true
	return nil
}

func (l *List) saveMembers(ctx context.Context) error {
	if err := l.env.Store.Put(ctx, l.name, store.KeyMembers, encodeMembers(l.members)); err != nil {
		return fmt.Errorf("save members %s: %w", l.name, err)
	}
	l.exists = true
	if !l.configExists {
		return l.WriteConfig(ctx)
	}
	return nil
}

func (l *List) tooManyMembers() bool {
	return !l.unlimited && l.members.active.Len() >= l.limits.MaxMembers
}

// AddMember makes address an active member. Excluded and already active
// addresses are ignored.
func (l *List) AddMember(ctx context.Context, address string) error {
	cfg := l.env.Config
	if cfg.MemberCheck && !matchesAny(address, cfg.MemberAddresses) {
		return fmt.Errorf("%w: %s", ErrInvalidMembers, address)
	}
	if l.Exclude(address) {
		l.logger.Debug("excluded", "address", address)
		return nil
	}
	if l.members.active.Contains(address) {
		return nil
	}
	if l.tooManyMembers() {
		return fmt.Errorf("%w: %s", ErrTooManyMembers, address)
	}
	l.members.former.Remove(address)
	l.members.active.Insert(address)
	if err := l.saveMembers(ctx); err != nil {
		return err
	}
	l.logger.Info("add", "address", address)
	l.added = append(l.added, address)
	l.env.publish(Event{Type: EventAdd, List: l.name, Address: address})
	return nil
}

// RemoveMember moves an active member to the former members. Removing the
// last member closes the list.
func (l *List) RemoveMember(ctx context.Context, address string) error {
	if !l.members.active.Contains(address) {
		return nil
	}
	l.members.active.Remove(address)
	l.members.former.Insert(address)
	l.members.errors.delete(address)
	if err := l.saveMembers(ctx); err != nil {
		return err
	}
	l.logger.Info("remove", "address", address)
	l.env.publish(Event{Type: EventRemove, List: l.name, Address: address})
	if l.members.active.Len() == 0 {
		return l.Close(ctx)
	}
	return nil
}

func (l *List) resetErrorMember(ctx context.Context, address string) error {
	if !l.members.errors.delete(address) {
		return nil
	}
	l.logger.Info("reset error", "address", address)
	return l.saveMembers(ctx)
}

// withinErrorInterval reports whether t lies in the last allowable error
// interval.
func (l *List) withinErrorInterval(t time.Time) bool {
	now := l.env.now()
	past := now.Add(-l.env.Config.AllowableErrorInterval)
	return past.Before(t) && !t.After(now)
}

// AddErrorMember records a bounce for an active member. Bounces within the
// allowable error interval of the last counted one are not counted again.
// The member is removed once the counter reaches the auto-unsubscribe
// count.
func (l *List) AddErrorMember(ctx context.Context, address string) error {
	if !l.members.active.Contains(address) {
		return nil
	}
	info, ok := l.members.errors.get(address)
	if !ok {
		info = ErrorInfo{LastErrorTime: time.Unix(0, 0)}
	}
	if l.withinErrorInterval(info.LastErrorTime) {
		l.members.errors.set(address, info)
		l.logger.Info("add error (not counted)", "address", address, "count", info.Count)
	} else {
		info.Count++
		info.LastErrorTime = l.env.now()
		l.members.errors.set(address, info)
		l.logger.Info("add error", "address", address, "count", info.Count)
		l.env.publish(Event{Type: EventBounce, List: l.name, Address: address, Count: info.Count})
	}
	if err := l.saveMembers(ctx); err != nil {
		return err
	}
	if info.Count >= l.limits.AutoUnsubscribeCount {
		if err := l.RemoveMember(ctx, address); err != nil {
			return err
		}
		l.reportRemovedMember(ctx, address)
	}
	return nil
}

// Submit delivers msg to every active member. Mail longer than the list's
// max mail length is answered with an error report instead.
func (l *List) Submit(ctx context.Context, msg *message.Message) error {
	if l.members.active.Len() == 0 {
		return nil
	}
	if int64(len(msg.Body)) > l.limits.MaxMailLength {
		l.env.Notices.ReportTooLarge(ctx, msg, l.address, l.limits.MaxMailLength, l.messageCharset)
		l.logger.Info("too large mail", "from", msg.From())
		return nil
	}
	if err := l.resetErrorMember(ctx, msg.From()); err != nil {
		return err
	}
	start := l.env.now()
	if err := l.submit(ctx, msg); err != nil {
		return err
	}
	l.logger.Info("send",
		"count", l.count,
		"members", l.members.active.Len(),
		"elapsed", l.env.now().Sub(start),
	)
	return nil
}

func (l *List) submit(ctx context.Context, msg *message.Message) error {
	st := l.env.Store
	l.count++
	if err := st.Put(ctx, l.name, store.KeyCount, []byte(strconv.Itoa(l.count)+"\n")); err != nil {
		return fmt.Errorf("save count %s: %w", l.name, err)
	}
	l.countModTime = l.env.now()
	if l.messageCharset != "" {
		if err := st.Put(ctx, l.name, store.KeyCharset, []byte(l.messageCharset+"\n")); err != nil {
			return fmt.Errorf("save charset %s: %w", l.name, err)
		}
		l.charset = l.messageCharset
	}
	if err := st.Delete(ctx, l.name, store.KeyAlerted); err != nil {
		return fmt.Errorf("clear alerted %s: %w", l.name, err)
	}
	l.alerted = false

	subject := message.RewriteSubject(msg.Get("Subject"), l.shortName, l.count, l.messageCharset)
	body := l.rewriteBody(msg)
	var header message.Header
	for _, f := range msg.Header.Fields() {
		if strings.EqualFold(f.Key, "Subject") || strings.EqualFold(f.Key, "Reply-To") {
			continue
		}
		header.Add(f.Key, f.Value)
	}
	header.Add("Subject", subject)
	header.Add("Reply-To", l.address)
	header.Add("X-Mail-Count", strconv.Itoa(l.count))
	l.addListFields(&header)

	l.env.Notices.Deliver(ctx, &transport.Mail{
		From:   l.returnAddress,
		To:     l.members.active.Slice(),
		Header: header,
		Body:   body,
	})
	l.env.publish(Event{Type: EventPost, List: l.name, Address: msg.From(), Count: l.count})
	return nil
}

// addListFields appends the fields that mark mail as list traffic.
func (l *List) addListFields(h *message.Header) {
	h.Add("Precedence", "bulk")
	h.Add("X-ML-Address", l.address)
	h.Add("X-ML-Name", l.name)
	h.Add("X-ML-Info", l.env.Notices.InfoURL())
	h.Add(message.LoopMarker, "true")
}

// Close deletes the list's records. Administrative flags survive.
func (l *List) Close(ctx context.Context) error {
	keys := []store.Key{
		store.KeyMembers,
		store.KeyCount,
		store.KeyCharset,
		store.KeyAlerted,
		store.KeyWaitingMembers,
		store.KeyWaitingMessage,
		store.KeyConfig,
	}
	for _, key := range keys {
		if err := l.env.Store.Delete(ctx, l.name, key); err != nil {
			return fmt.Errorf("close %s: %w", l.name, err)
		}
	}
	l.exists = false
	l.configExists = false
	l.alerted = false
	l.waiting = false
	l.logger.Info("list closed")
	l.env.publish(Event{Type: EventClose, List: l.name})
	return nil
}
