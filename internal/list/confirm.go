package list

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.io/infrasutra/quickml/internal/i18n"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/store"
)

// ConfirmationAddress is the address the creator replies to. It carries
// the time the held message was stored, in whole seconds.
func (l *List) ConfirmationAddress(ctx context.Context) (string, error) {
	entry, err := l.env.Store.Get(ctx, l.name, store.KeyWaitingMessage)
	if err != nil {
		return "", fmt.Errorf("confirmation address %s: %w", l.name, err)
	}
	return ConfirmationAddress(entry.ModTime.Unix(), l.address), nil
}

// PrepareConfirmation holds msg until its sender confirms the creation of
// the list. The sender and every Cc address wait to become members.
func (l *List) PrepareConfirmation(ctx context.Context, msg *message.Message) error {
	if err := l.saveMembers(ctx); err != nil {
		return err
	}
	st := l.env.Store
	if err := st.Put(ctx, l.name, store.KeyWaitingMessage, []byte(msg.Bare)); err != nil {
		return fmt.Errorf("hold message %s: %w", l.name, err)
	}
	var waiting strings.Builder
	waiting.WriteString(msg.From() + "\n")
	for _, address := range msg.CollectCc() {
		waiting.WriteString(address + "\n")
	}
	if err := st.Put(ctx, l.name, store.KeyWaitingMembers, []byte(waiting.String())); err != nil {
		return fmt.Errorf("hold members %s: %w", l.name, err)
	}
	l.waiting = true
	return l.sendConfirmation(ctx, msg.From())
}

func (l *List) sendConfirmation(ctx context.Context, creator string) error {
	confirmation, err := l.ConfirmationAddress(ctx)
	if err != nil {
		return err
	}
	loc := l.localizer()
	header := l.env.Notices.Header(creator, confirmation, loc.Sprintf(i18n.ConfirmSubject, l.shortName, l.address), l.messageCharset)
	header.Add("Content-Type", l.env.Notices.ContentType(l.messageCharset))
	body := loc.Sprintf(i18n.ConfirmBody, l.address)
	l.env.Notices.Send(ctx, []string{creator}, header, l.encode(body))
	l.logger.Info("send confirmation", "confirmation", confirmation, "creator", creator)
	return nil
}

// ValidateConfirmation reports whether stamp matches the held message.
func (l *List) ValidateConfirmation(ctx context.Context, stamp int64) (bool, error) {
	entry, err := l.env.Store.Get(ctx, l.name, store.KeyWaitingMessage)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate confirmation %s: %w", l.name, err)
	}
	return entry.ModTime.Unix() == stamp, nil
}

// AcceptConfirmation adds the waiting members, submits the held message
// and drops the confirmation records. Members that cannot be added are
// skipped.
func (l *List) AcceptConfirmation(ctx context.Context) error {
	st := l.env.Store
	members, err := st.Get(ctx, l.name, store.KeyWaitingMembers)
	if err != nil {
		return fmt.Errorf("accept confirmation %s: %w", l.name, err)
	}
	held, err := st.Get(ctx, l.name, store.KeyWaitingMessage)
	if err != nil {
		return fmt.Errorf("accept confirmation %s: %w", l.name, err)
	}

	for _, address := range strings.Split(string(members.Data), "\n") {
		address = strings.TrimSpace(address)
		if address == "" {
			continue
		}
		err := l.AddMember(ctx, address)
		if errors.Is(err, ErrTooManyMembers) || errors.Is(err, ErrInvalidMembers) {
			continue
		}
		if err != nil {
			return err
		}
	}
	if err := l.Submit(ctx, message.Parse(string(held.Data))); err != nil {
		return err
	}
	for _, key := range []store.Key{store.KeyWaitingMembers, store.KeyWaitingMessage} {
		if err := st.Delete(ctx, l.name, key); err != nil {
			return fmt.Errorf("accept confirmation %s: %w", l.name, err)
		}
	}
	l.waiting = false
	l.logger.Info("accept confirmation")
	return nil
}
