package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config holds Redis connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

func newClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// unlock deletes the key only while it still holds the caller's token.
var unlock = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locks is a lock table shared by every server process on the same Redis.
type Locks struct {
	client *goredis.Client
}

// NewLocks connects to Redis.
func NewLocks(cfg Config) (*Locks, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &Locks{client: client}, nil
}

func (l *Locks) TryLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	return l.client.SetNX(ctx, key, token, ttl).Result()
}

func (l *Locks) Unlock(ctx context.Context, key, token string) (bool, error) {
	n, err := unlock.Run(ctx, l.client, []string{key}, token).Int64()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Close releases the connection pool.
func (l *Locks) Close() error {
	return l.client.Close()
}

// Message is a message received from a Redis channel.
type Message struct {
	Channel string
	Payload string
}

// PubSub carries stash change notifications between server processes.
type PubSub struct {
	client *goredis.Client
}

// NewPubSub connects to Redis.
func NewPubSub(cfg Config) (*PubSub, error) {
	client, err := newClient(cfg)
	if err != nil {
		return nil, err
	}
	return &PubSub{client: client}, nil
}

func (p *PubSub) Publish(ctx context.Context, channel, message string) error {
	return p.client.Publish(ctx, channel, message).Err()
}

// Subscribe blocks until Redis confirms the subscription, so a publish
// issued right after it returns is not missed.
func (p *PubSub) Subscribe(ctx context.Context, channels ...string) (<-chan *Message, func(), error) {
	ps := p.client.Subscribe(ctx, channels...)
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, err
	}
	ch := make(chan *Message, 256)
	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			ch <- &Message{Channel: msg.Channel, Payload: msg.Payload}
		}
	}()
	return ch, func() { _ = ps.Close() }, nil
}

// Close releases the connection pool.
func (p *PubSub) Close() error {
	return p.client.Close()
}
