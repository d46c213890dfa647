package stash

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/model"
	"go.uber.org/zap"
)

var (
	// ErrValidation marks a request rejected before anything was sent to
	// the remote store.
	ErrValidation = errors.New("invalid request")
	ErrClosed     = errors.New("stash: session closed")
)

func invalid(format string, args ...any) error {
	return fmt.Errorf("stash: %w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Remote is the authoritative store behind a session.
type Remote interface {
	Loader
	Apply(ctx context.Context, partyID int64, plan ledger.Plan) error
	Character(ctx context.Context, id int64) (*model.Character, error)
}

// Catalog looks up canonical item definitions.
type Catalog interface {
	FindByName(ctx context.Context, name string) (*model.CatalogItem, error)
}

// Subscriber delivers "the stash changed" notifications for a party.
type Subscriber interface {
	Subscribe(partyID int64, onChange func()) (func(), error)
}

// Deps are the collaborators shared by every session.
type Deps struct {
	Remote  Remote
	Catalog Catalog
	Feed    Subscriber
	Logger  *zap.Logger
}

// Options tunes sessions.
type Options struct {
	LogLimit      int
	RemoteTimeout time.Duration
}

// Session is one party's live stash: its Store, kept current by the change
// feed, and the commands that mutate it. Commands on a session run one at a
// time.
type Session struct {
	partyID int64
	store   *Store
	deps    Deps
	opts    Options
	logger  *zap.Logger

	opMu        sync.Mutex
	unsubscribe func()
	closeOnce   sync.Once
	closed      atomic.Bool
	lastUsed    atomic.Int64
}

// NewSession subscribes to the party's change feed and loads its stash.
func NewSession(ctx context.Context, partyID int64, deps Deps, opts Options) (*Session, error) {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = 5 * time.Second
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		partyID: partyID,
		store:   NewStore(partyID, deps.Remote, opts.LogLimit),
		deps:    deps,
		opts:    opts,
		logger:  logger.With(zap.Int64("party_id", partyID)),
	}
	s.touch()

	// Notifications that arrive during the first load wait for it and
	// then reload.
	s.opMu.Lock()
	if deps.Feed != nil {
		unsub, err := deps.Feed.Subscribe(partyID, s.onChange)
		if err != nil {
			s.opMu.Unlock()
			return nil, fmt.Errorf("stash: subscribe: %w", err)
		}
		s.unsubscribe = unsub
	}

	lctx, cancel := context.WithTimeout(ctx, opts.RemoteTimeout)
	err := s.store.Load(lctx)
	cancel()
	s.opMu.Unlock()
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("stash: load party %d: %w", partyID, err)
	}
	return s, nil
}

// PartyID is the party this session serves.
func (s *Session) PartyID() int64 { return s.partyID }

// Snapshot returns a copy of the current view.
func (s *Session) Snapshot() Snapshot {
	s.touch()
	return s.store.Snapshot()
}

// Refresh reloads the view from the remote store.
func (s *Session) Refresh(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	return s.reconcile(ctx)
}

// Close unsubscribes from the change feed. It is safe to call twice.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		if s.unsubscribe != nil {
			s.unsubscribe()
		}
	})
}

// idleSince is when the session was last used.
func (s *Session) idleSince() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(time.Now().UnixNano())
}

// onChange handles an external change notification. A notification that
// arrives while a command is running is absorbed by the reload that ends
// the command.
func (s *Session) onChange() {
	s.store.MarkDirty()
	s.opMu.Lock()
	defer s.opMu.Unlock()
	if s.closed.Load() || !s.store.Dirty() {
		return
	}
	if err := s.reconcile(context.Background()); err != nil {
		s.logger.Warn("stash reload after change failed", zap.Error(err))
	}
}

func (s *Session) reconcile(ctx context.Context) error {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RemoteTimeout)
	defer cancel()
	return s.store.Reconcile(rctx)
}

// begin takes the command lock. The returned func releases it.
func (s *Session) begin() (func(), error) {
	s.opMu.Lock()
	if s.closed.Load() {
		s.opMu.Unlock()
		return nil, ErrClosed
	}
	s.touch()
	return s.opMu.Unlock, nil
}

// commit shows plan optimistically, sends it to the remote store and
// reloads. Any remote failure rolls the view back to committed state and is
// returned; it is not retried.
func (s *Session) commit(ctx context.Context, op string, plan ledger.Plan) error {
	s.store.ApplyOptimistic(plan)

	actx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	err := s.deps.Remote.Apply(actx, s.partyID, plan)
	cancel()

	rctx, rcancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RemoteTimeout)
	defer rcancel()
	if err != nil {
		s.logger.Warn("stash operation failed", zap.String("op", op), zap.Error(err))
		if rerr := s.store.Fail(rctx); rerr != nil {
			s.logger.Error("stash reload after failure failed", zap.String("op", op), zap.Error(rerr))
		}
		return fmt.Errorf("stash: %s: %w", op, err)
	}
	if rerr := s.store.Confirm(rctx); rerr != nil {
		s.logger.Warn("stash reload after commit failed", zap.String("op", op), zap.Error(rerr))
	}
	s.logger.Debug("stash operation committed", zap.String("op", op),
		zap.Int("stash_ops", len(plan.Stash)), zap.Int("logs", len(plan.Logs)))
	return nil
}
