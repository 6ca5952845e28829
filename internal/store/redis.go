package store

import (
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis wraps redis client.
type Redis struct {
	Client *redis.Client
}

// RedisOptions accepts either host:port or a redis:// URL and applies short
// command timeouts. Pub/sub receives are not bound by ReadTimeout, so live
// feed listens stay open.
func RedisOptions(addr string) (*redis.Options, error) {
	opts := &redis.Options{Addr: addr}
	if strings.Contains(addr, "://") {
		parsed, err := redis.ParseURL(addr)
		if err != nil {
			return nil, err
		}
		opts = parsed
	}
	opts.DialTimeout = 2 * time.Second
	opts.ReadTimeout = 1 * time.Second
	opts.WriteTimeout = 1 * time.Second
	return opts, nil
}

// NewRedis builds a client for addr.
func NewRedis(addr string) (*Redis, error) {
	opts, err := RedisOptions(addr)
	if err != nil {
		return nil, err
	}
	return &Redis{Client: redis.NewClient(opts)}, nil
}

// Close closes the client.
func (r *Redis) Close() error {
	if r == nil || r.Client == nil {
		return nil
	}
	return r.Client.Close()
}
