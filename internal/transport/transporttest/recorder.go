// Package transporttest provides a Transport that records deliveries.
package transporttest

import (
	"context"
	"strings"
	"sync"

	"github.io/infrasutra/quickml/internal/transport"
)

type Recorder struct {
	mu    sync.Mutex
	mails []*transport.Mail
	Err   error
}

func (r *Recorder) Name() string {
	return "recorder"
}

func (r *Recorder) Deliver(_ context.Context, mail *transport.Mail) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *mail
	copied.To = append([]string(nil), mail.To...)
	copied.Header = mail.Header.Copy()
	r.mails = append(r.mails, &copied)
	return r.Err
}

// Mails returns every recorded delivery, failed ones included.
func (r *Recorder) Mails() []*transport.Mail {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*transport.Mail(nil), r.mails...)
}

// Subjects returns the Subject header of each delivery.
func (r *Recorder) Subjects() []string {
	var subjects []string
	for _, m := range r.Mails() {
		subjects = append(subjects, m.Header.Get("Subject"))
	}
	return subjects
}

// Find returns the deliveries whose Subject contains substr.
func (r *Recorder) Find(substr string) []*transport.Mail {
	var found []*transport.Mail
	for _, m := range r.Mails() {
		if strings.Contains(m.Header.Get("Subject"), substr) {
			found = append(found, m)
		}
	}
	return found
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mails = nil
}
