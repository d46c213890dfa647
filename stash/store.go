// Package stash hosts the per-party view of the shared stash and the
// commands that move items and coins between the stash and characters.
package stash

import (
	"context"
	"sync"
	"time"

	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
)

// State is the reconciliation state of a Store.
type State int

const (
	// Stable means the view equals the last load.
	Stable State = iota
	// OptimisticPending means an operation's expected result is shown
	// while its commit is in flight.
	OptimisticPending
	// Reconciling means a reload is in flight.
	Reconciling
)

func (s State) String() string {
	switch s {
	case OptimisticPending:
		return "optimistic_pending"
	case Reconciling:
		return "reconciling"
	default:
		return "stable"
	}
}

// MarshalText renders the state by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Loader fetches the committed state of a party's stash.
type Loader interface {
	Load(ctx context.Context, partyID int64, logLimit int) (ledger.Snapshot, error)
}

// Snapshot is a read-only copy of a Store.
type Snapshot struct {
	Entries []model.StashEntry `json:"entries"`
	Logs    []model.StashLog   `json:"logs"`
	State   State              `json:"state"`
}

// Entry returns the entry with the given id.
func (s Snapshot) Entry(id int64) (model.StashEntry, bool) {
	for _, e := range s.Entries {
		if e.ID == id {
			return e, true
		}
	}
	return model.StashEntry{}, false
}

// Store is one party's stash as seen by a session: the last committed load,
// possibly overlaid with the expected result of an operation in flight.
type Store struct {
	partyID  int64
	loader   Loader
	logLimit int

	mu         sync.Mutex
	entries    []model.StashEntry
	logs       []model.StashLog
	state      State
	dirty      bool
	checkpoint *Snapshot
	nextTempID int64
}

// NewStore creates an empty Store. Call Load before use.
func NewStore(partyID int64, loader Loader, logLimit int) *Store {
	if logLimit <= 0 {
		logLimit = 50
	}
	return &Store{partyID: partyID, loader: loader, logLimit: logLimit}
}

// State returns the current reconciliation state.
func (s *Store) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Snapshot returns a deep copy of the current view.
func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Entries: append([]model.StashEntry{}, s.entries...),
		Logs:    append([]model.StashLog{}, s.logs...),
		State:   s.state,
	}
}

// MarkDirty records that the committed state changed behind our back.
func (s *Store) MarkDirty() {
	s.mu.Lock()
	s.dirty = true
	s.mu.Unlock()
}

// Dirty reports whether a change notification has not been absorbed yet.
func (s *Store) Dirty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Load replaces the view wholesale with the committed state.
func (s *Store) Load(ctx context.Context) error {
	return s.reload(ctx, nil)
}

// Reconcile discards any optimistic state and loads. If the load fails the
// view rolls back to the state before the pending operation, if any.
func (s *Store) Reconcile(ctx context.Context) error {
	return s.reload(ctx, s.restoreCheckpoint)
}

// ApplyOptimistic overlays the expected result of plan on the view.
func (s *Store) ApplyOptimistic(plan ledger.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Stable {
		cp := s.snapshotLocked()
		s.checkpoint = &cp
	}
	s.state = OptimisticPending

	for _, op := range plan.Stash {
		switch op.Kind {
		case ledger.OpCredit:
			s.creditLocked(op)
		case ledger.OpDebit:
			s.debitLocked(op.EntryID, op.Qty)
		case ledger.OpRemove:
			s.debitLocked(op.EntryID, -1)
		}
	}

	if len(plan.Logs) > 0 {
		now := time.Now()
		logs := make([]model.StashLog, 0, len(plan.Logs)+len(s.logs))
		for i := len(plan.Logs) - 1; i >= 0; i-- {
			l := plan.Logs[i]
			l.CreatedAt = now
			logs = append(logs, l)
		}
		logs = append(logs, s.logs...)
		if len(logs) > s.logLimit {
			logs = logs[:s.logLimit]
		}
		s.logs = logs
	}
}

// Confirm ends a pending operation whose commit succeeded. If the reload
// fails the optimistic view stays, since it was committed, and the store is
// left dirty.
func (s *Store) Confirm(ctx context.Context) error {
	return s.reload(ctx, nil)
}

// Fail ends a pending operation whose commit failed.
func (s *Store) Fail(ctx context.Context) error {
	return s.reload(ctx, s.restoreCheckpoint)
}

// reload moves to Reconciling, fetches, and lands on Stable. onError runs
// under the lock when the fetch fails.
func (s *Store) reload(ctx context.Context, onError func()) error {
	s.mu.Lock()
	s.state = Reconciling
	s.dirty = false
	s.mu.Unlock()

	snap, err := s.loader.Load(ctx, s.partyID, s.logLimit)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = Stable
	if err != nil {
		s.dirty = true
		if onError != nil {
			onError()
		}
		s.checkpoint = nil
		return err
	}
	s.checkpoint = nil
	s.entries = snap.Entries
	s.logs = snap.Logs
	return nil
}

func (s *Store) restoreCheckpoint() {
	if s.checkpoint == nil {
		return
	}
	s.entries = s.checkpoint.Entries
	s.logs = s.checkpoint.Logs
}

func (s *Store) creditLocked(op ledger.StashOp) {
	key := stack.Key(op.Name, op.Description)
	for i := range s.entries {
		if s.entries[i].Key() == key {
			s.entries[i].Quantity += op.Qty
			return
		}
	}
	s.nextTempID--
	s.entries = append(s.entries, model.StashEntry{
		ID:          s.nextTempID,
		PartyID:     s.partyID,
		StackKey:    key,
		Name:        op.Name,
		Quantity:    op.Qty,
		Description: op.Description,
		Category:    op.Category,
	})
}

// debitLocked takes qty from an entry, or the whole entry when qty < 0.
func (s *Store) debitLocked(id int64, qty int) {
	for i := range s.entries {
		if s.entries[i].ID != id {
			continue
		}
		if qty >= 0 {
			s.entries[i].Quantity -= qty
		}
		if qty < 0 || s.entries[i].Quantity <= 0 {
			s.entries = append(s.entries[:i:i], s.entries[i+1:]...)
		}
		return
	}
}
