package store

import (
	"context"
	"errors"
	"time"
)

// Key names one record of a mailing list.
type Key string

const (
	KeyMembers        Key = "members"
	KeyCount          Key = "count"
	KeyConfig         Key = "config"
	KeyCharset        Key = "charset"
	KeyForward        Key = "forward"
	KeyPermanent      Key = "permanent"
	KeyUnlimited      Key = "unlimited"
	KeyAlerted        Key = "alerted"
	KeyWaitingMembers Key = "waiting-members"
	KeyWaitingMessage Key = "waiting-message"
)

// AllKeys lists every record key a list may own.
var AllKeys = []Key{
	KeyMembers,
	KeyCount,
	KeyConfig,
	KeyCharset,
	KeyForward,
	KeyPermanent,
	KeyUnlimited,
	KeyAlerted,
	KeyWaitingMembers,
	KeyWaitingMessage,
}

var ErrNotFound = errors.New("record not found")

// Entry is a stored record and the time it was last written.
type Entry struct {
	Data    []byte
	ModTime time.Time
}

// Store persists list records. Put replaces the whole record atomically and
// Delete of a missing record is not an error. Names returns the lists that
// have a members record.
type Store interface {
	Get(ctx context.Context, name string, key Key) (Entry, error)
	Put(ctx context.Context, name string, key Key, data []byte) error
	Delete(ctx context.Context, name string, key Key) error
	Names(ctx context.Context) ([]string, error)
	Close() error
}

// Exists reports whether the record is present.
func Exists(ctx context.Context, s Store, name string, key Key) (bool, error) {
	_, err := s.Get(ctx, name, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
