// Package cache holds the two pieces of shared infrastructure that let
// several server processes work on the same parties: short-lived commit
// locks and the change notification bus. Both come in an in-process flavor
// and a Redis flavor.
package cache

import (
	"context"
	"time"

	"github.com/kasuganosora/partystash/cache/local"
	cacheredis "github.com/kasuganosora/partystash/cache/redis"
)

// Locker hands out expiring, token-owned locks.
type Locker interface {
	// TryLock takes key for token unless somebody else holds it.
	TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	// Unlock releases key only while token still owns it, so a holder whose
	// lease lapsed cannot release somebody else's lock.
	Unlock(ctx context.Context, key, token string) (bool, error)
}

// Message is a received pub/sub message.
type Message struct {
	Channel string
	Payload string
}

// PubSub defines channel publish/subscribe operations.
type PubSub interface {
	Publish(ctx context.Context, channel, message string) error
	Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error)
}

// Config selects and tunes the backend. An empty RedisAddr means in-process.
type Config struct {
	RedisAddr       string
	RedisPassword   string
	RedisDB         int
	LocalGCInterval time.Duration
	LocalPubSubBuf  int
}

func (cfg Config) redis() cacheredis.Config {
	return cacheredis.Config{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func (cfg Config) bufSize() int {
	if cfg.LocalPubSubBuf <= 0 {
		return 256
	}
	return cfg.LocalPubSubBuf
}

// NewLocker returns a Redis-backed Locker if RedisAddr is set, otherwise an
// in-process one. In-process locks only serialize commits within a single
// server process.
func NewLocker(cfg Config) (Locker, error) {
	if cfg.RedisAddr != "" {
		return cacheredis.NewLocks(cfg.redis())
	}
	return local.NewLocks(cfg.LocalGCInterval), nil
}

// NewPubSub returns a Redis-backed PubSub if RedisAddr is set, otherwise an
// in-process one. With several server processes only the Redis flavor
// carries stash change notifications between them.
func NewPubSub(cfg Config) (PubSub, error) {
	if cfg.RedisAddr != "" {
		ps, err := cacheredis.NewPubSub(cfg.redis())
		if err != nil {
			return nil, err
		}
		return &bridge[*cacheredis.Message]{
			publish:   ps.Publish,
			subscribe: ps.Subscribe,
			convert:   func(m *cacheredis.Message) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
			bufSize:   cfg.bufSize(),
		}, nil
	}
	ps := local.NewPubSub(cfg.bufSize())
	return &bridge[*local.Message]{
		publish:   ps.Publish,
		subscribe: ps.Subscribe,
		convert:   func(m *local.Message) *Message { return &Message{Channel: m.Channel, Payload: m.Payload} },
		bufSize:   cfg.bufSize(),
	}, nil
}

// bridge adapts a backend's own message type to Message.
type bridge[T any] struct {
	publish   func(ctx context.Context, channel, message string) error
	subscribe func(ctx context.Context, channels ...string) (<-chan T, func(), error)
	convert   func(T) *Message
	bufSize   int
}

func (b *bridge[T]) Publish(ctx context.Context, channel, message string) error {
	return b.publish(ctx, channel, message)
}

func (b *bridge[T]) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	in, cancel, err := b.subscribe(ctx, channels...)
	if err != nil {
		return nil, nil, err
	}
	out := make(chan *Message, b.bufSize)
	go func() {
		defer close(out)
		for msg := range in {
			out <- b.convert(msg)
		}
	}()
	return out, cancel, nil
}
