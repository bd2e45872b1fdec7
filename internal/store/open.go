package store

import (
	"context"
	"fmt"
)

type Options struct {
	Driver   string
	DataDir  string
	DBPath   string
	RedisURL string
}

// Open returns the backend named by opts.Driver: file, sqlite, redis or
// memory.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch opts.Driver {
	case "", "file":
		return OpenFile(opts.DataDir)
	case "sqlite":
		db, err := OpenSQLite(ctx, opts.DBPath)
		if err != nil {
			return nil, err
		}
		if err := db.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, err
		}
		return db, nil
	case "redis":
		return OpenRedis(ctx, opts.RedisURL)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}
}
