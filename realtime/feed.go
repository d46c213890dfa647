// Package realtime carries "the stash of party N changed" notifications
// between the process that committed a change and every session watching
// that party.
package realtime

import (
	"context"
	"strconv"

	"github.com/kasuganosora/partystash/cache"
	"go.uber.org/zap"
)

const channelPrefix = "stash:"

// Channel is the pub/sub channel for one party.
func Channel(partyID int64) string {
	return channelPrefix + strconv.FormatInt(partyID, 10)
}

// Feed publishes and consumes stash change notifications.
type Feed struct {
	ps     cache.PubSub
	logger *zap.Logger
}

// NewFeed creates a Feed over the given pub/sub bus.
func NewFeed(ps cache.PubSub, logger *zap.Logger) *Feed {
	return &Feed{ps: ps, logger: logger}
}

// Notify announces that the party's stash changed. The payload carries no
// state; receivers reload.
func (f *Feed) Notify(ctx context.Context, partyID int64) error {
	return f.ps.Publish(ctx, Channel(partyID), "changed")
}

// Subscribe calls onChange once per received notification until the
// returned unsubscribe function is called. onChange runs on a single
// goroutine per subscription, so calls never overlap.
func (f *Feed) Subscribe(partyID int64, onChange func()) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	ch, unsub, err := f.ps.Subscribe(ctx, Channel(partyID))
	if err != nil {
		cancel()
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for range ch {
			onChange()
		}
	}()
	f.logger.Debug("stash feed subscribed", zap.Int64("party_id", partyID))
	return func() {
		unsub()
		cancel()
		<-done
	}, nil
}

// Stream exposes the raw notification channel for transports such as SSE.
func (f *Feed) Stream(ctx context.Context, partyID int64) (<-chan *cache.Message, func(), error) {
	return f.ps.Subscribe(ctx, Channel(partyID))
}
