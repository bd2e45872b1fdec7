// Package router decides what a received mail means for each of its
// recipients: a bounce, a confirmation, an unsubscription or a post.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.io/infrasutra/quickml/internal/list"
	"github.io/infrasutra/quickml/internal/message"
	"github.io/infrasutra/quickml/internal/registry"
)

type Router struct {
	env      *list.Env
	registry *registry.Registry
	logger   *slog.Logger
}

func New(env *list.Env, reg *registry.Registry) *Router {
	return &Router{
		env:      env,
		registry: reg,
		logger:   env.Logger,
	}
}

// processing is the state of routing one message.
type processing struct {
	*Router
	msg     *message.Message
	from    string
	charset string
}

// Process routes msg to every distinct envelope recipient. Failures for
// one recipient are logged and do not stop the others.
func (r *Router) Process(ctx context.Context, msg *message.Message) {
	p := &processing{
		Router:  r,
		msg:     msg,
		from:    msg.From(),
		charset: messageCharset(msg),
	}
	r.logger.Debug("process",
		"mail_from", msg.MailFrom,
		"recipients", msg.Recipients,
		"from", p.from,
		"cc", msg.CollectCc(),
	)
	if msg.Looping() {
		r.logger.Info("looping mail", "from", p.from)
		return
	}
	seen := map[string]struct{}{}
	for _, recipient := range msg.Recipients {
		key := strings.ToLower(recipient)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		p.processRecipient(ctx, recipient)
	}
}

// messageCharset is the charset of the text the sender wrote: the first
// part of multipart mail, otherwise the message itself.
func messageCharset(msg *message.Message) string {
	if msg.Multipart() {
		if parts := msg.Parts(); len(parts) > 0 {
			return message.Parse(parts[0]).Charset
		}
	}
	return msg.Charset
}

func (p *processing) processRecipient(ctx context.Context, recipient string) {
	switch {
	case list.IsReturnAddress(recipient):
		p.handleBounce(ctx, recipient)
	case p.env.Config.ConfirmMLCreation && list.IsConfirmationAddress(recipient):
		p.handleConfirmation(ctx, recipient)
	default:
		p.handlePost(ctx, recipient)
	}
}

func (p *processing) handleBounce(ctx context.Context, recipient string) {
	address, member, ok := list.ParseReturnAddress(recipient)
	if !ok {
		p.logger.Debug("bounce without an encoded recipient; the relay must use VERP", "recipient", recipient)
		return
	}
	err := p.registry.With(address, func() error {
		ml, err := list.Open(ctx, p.env, address, "", p.charset)
		if err != nil {
			return err
		}
		p.logger.Info("error mail", "list", ml.Name(), "address", member)
		return ml.AddErrorMember(ctx, member)
	})
	if err != nil {
		p.logger.Error("handle bounce", "list", address, "error", err)
	}
}

func (p *processing) handleConfirmation(ctx context.Context, recipient string) {
	stamp, address, ok := list.ParseConfirmationAddress(recipient)
	if !ok {
		p.logger.Debug("malformed confirmation address", "recipient", recipient)
		return
	}
	err := p.registry.With(address, func() error {
		ml, err := list.Open(ctx, p.env, address, "", p.charset)
		if err != nil {
			return err
		}
		if !ml.ConfirmationWaiting() {
			return nil
		}
		valid, err := ml.ValidateConfirmation(ctx, stamp)
		if err != nil {
			return err
		}
		if !valid {
			p.logger.Info("stale confirmation", "list", ml.Name(), "from", p.from)
			return nil
		}
		return ml.AcceptConfirmation(ctx)
	})
	if err != nil {
		p.logger.Error("handle confirmation", "list", address, "error", err)
	}
}

func (p *processing) handlePost(ctx context.Context, address string) {
	err := p.registry.With(address, func() error {
		ml, err := list.Open(ctx, p.env, address, p.from, p.charset)
		if err != nil {
			return err
		}
		if p.charset == "" {
			p.charset = ml.Charset()
		}
		return p.post(ctx, ml)
	})
	switch {
	case err == nil:
	case errors.Is(err, list.ErrInvalidMLName):
		p.reportInvalidMLAddress(ctx, address)
	case errors.Is(err, list.ErrInvalidCreator):
		p.reportInvalidCreator(ctx, address)
	case errors.Is(err, list.ErrInvalidSender):
		p.reportInvalidSender(ctx, address)
	default:
		p.logger.Error("handle post", "list", address, "error", err)
	}
}

func (p *processing) post(ctx context.Context, ml *list.List) error {
	switch {
	case ml.Exclude(p.from):
		p.logger.Info("invalid from address", "list", ml.Name(), "from", p.from)
		return nil
	case ml.Forward():
		p.logger.Info("forward address", "list", ml.Name())
		return ml.Submit(ctx, p.msg)
	case p.env.Config.ConfirmMLCreation && ml.NewlyCreated():
		return ml.PrepareConfirmation(ctx, p.msg)
	case p.msg.UnsubscribeRequested():
		return p.unsubscribe(ctx, ml)
	case p.acceptable(ml):
		return p.submitArticle(ctx, ml)
	default:
		p.reportRejection(ctx, ml)
		return nil
	}
}

func (p *processing) unsubscribe(ctx context.Context, ml *list.List) error {
	cc := p.msg.CollectCc()
	if len(cc) == 0 {
		if !ml.IsActive(p.from) {
			p.reportRejection(ctx, ml)
			return nil
		}
		if err := ml.RemoveMember(ctx, p.from); err != nil {
			return err
		}
		p.reportUnsubscription(ctx, ml, p.from, "")
		return nil
	}
	if !ml.IsActive(p.from) {
		p.logger.Debug("rejected unsubscription by a non-member", "list", ml.Name(), "from", p.from)
		return nil
	}
	for _, other := range cc {
		if !ml.IsActive(other) {
			continue
		}
		if err := ml.RemoveMember(ctx, other); err != nil {
			return err
		}
		p.reportUnsubscription(ctx, ml, other, p.from)
	}
	return nil
}

// acceptable reports whether the sender may post to ml.
func (p *processing) acceptable(ml *list.List) bool {
	if ml.NewlyCreated() || ml.IsActive(p.from) || ml.IsFormer(p.from) {
		return true
	}
	for _, address := range p.msg.CollectCc() {
		if ml.IsActive(address) {
			return true
		}
	}
	return p.env.Config.SenderCheck
}

func (p *processing) listInTo(ml *list.List) bool {
	for _, address := range p.msg.CollectTo() {
		if strings.EqualFold(address, ml.Address()) {
			return true
		}
	}
	return false
}

// submitArticle joins the sender and the Cc addresses to ml when the list
// is addressed directly, then posts the message.
func (p *processing) submitArticle(ctx context.Context, ml *list.List) error {
	var unadded, invalid []string
	if p.listInTo(ml) {
		candidates := append([]string{p.from}, p.msg.CollectCc()...)
		for _, address := range candidates {
			err := ml.AddMember(ctx, address)
			switch {
			case err == nil:
			case errors.Is(err, list.ErrTooManyMembers):
				unadded = append(unadded, address)
			case errors.Is(err, list.ErrInvalidMembers):
				invalid = append(invalid, address)
			default:
				return err
			}
		}
	}
	if len(unadded) > 0 {
		p.reportTooManyMembers(ctx, ml, unadded)
	}
	if len(invalid) > 0 {
		p.reportInvalidMembers(ctx, ml, invalid)
	}
	return ml.Submit(ctx, p.msg)
}
