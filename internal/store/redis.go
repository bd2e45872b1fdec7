package store

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisListPrefix = "quickml:list:"
	redisIndexKey   = "quickml:lists"
)

// Redis keeps each list in one hash. Record data and its modification time
// are sibling fields, and a set indexes the lists that have members.
type Redis struct {
	rdb *redis.Client
	now func() time.Time
}

func OpenRedis(ctx context.Context, url string) (*Redis, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return NewRedis(rdb), nil
}

func NewRedis(rdb *redis.Client) *Redis {
	return &Redis{rdb: rdb, now: time.Now}
}

func redisHashKey(name string) string {
	return redisListPrefix + name
}

func redisTimeField(key Key) string {
	return string(key) + ":mtime"
}

func (r *Redis) Get(ctx context.Context, name string, key Key) (Entry, error) {
	values, err := r.rdb.HMGet(ctx, redisHashKey(name), string(key), redisTimeField(key)).Result()
	if err != nil {
		return Entry{}, fmt.Errorf("hmget %s: %w", key, err)
	}
	if len(values) != 2 || values[0] == nil {
		return Entry{}, ErrNotFound
	}
	data, _ := values[0].(string)
	var modTime time.Time
	if raw, ok := values[1].(string); ok {
		if nanos, err := strconv.ParseInt(raw, 10, 64); err == nil {
			modTime = time.Unix(0, nanos)
		}
	}
	return Entry{Data: []byte(data), ModTime: modTime}, nil
}

func (r *Redis) Put(ctx context.Context, name string, key Key, data []byte) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, redisHashKey(name), string(key), data, redisTimeField(key), r.now().UnixNano())
		if key == KeyMembers {
			pipe.SAdd(ctx, redisIndexKey, name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hset %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, name string, key Key) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, redisHashKey(name), string(key), redisTimeField(key))
		if key == KeyMembers {
			pipe.SRem(ctx, redisIndexKey, name)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("hdel %s: %w", key, err)
	}
	return nil
}

func (r *Redis) Names(ctx context.Context) ([]string, error) {
	names, err := r.rdb.SMembers(ctx, redisIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("smembers: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Redis) Close() error {
	return r.rdb.Close()
}
