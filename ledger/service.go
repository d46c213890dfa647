package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kasuganosora/partystash/cache"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Notifier announces that a party's stash changed.
type Notifier interface {
	Notify(ctx context.Context, partyID int64) error
}

// Snapshot is the stash and recent log of one party as committed.
type Snapshot struct {
	Entries []model.StashEntry
	Logs    []model.StashLog
}

// Options tunes a Service.
type Options struct {
	LockTTL  time.Duration // how long a commit lock may be held
	LockWait time.Duration // how long to wait for another commit's lock
}

// Service is the remote store every stash session writes through.
type Service struct {
	db     *gorm.DB
	locks  cache.Locker
	feed   Notifier
	log    *TxLog
	opts   Options
	logger *zap.Logger
}

// NewService creates a Service. feed may be nil.
func NewService(db *gorm.DB, locks cache.Locker, feed Notifier, opts Options, logger *zap.Logger) *Service {
	if opts.LockTTL <= 0 {
		opts.LockTTL = 10 * time.Second
	}
	if opts.LockWait <= 0 {
		opts.LockWait = 2 * time.Second
	}
	return &Service{
		db:     db,
		locks:  locks,
		feed:   feed,
		log:    NewTxLog(db, logger),
		opts:   opts,
		logger: logger,
	}
}

// Log returns the movement log.
func (s *Service) Log() *TxLog { return s.log }

// Load reads the party's full stash and its newest log entries.
func (s *Service) Load(ctx context.Context, partyID int64, logLimit int) (Snapshot, error) {
	var snap Snapshot
	if err := s.db.WithContext(ctx).
		Where("party_id = ?", partyID).
		Order("name ASC").Order("id ASC").
		Find(&snap.Entries).Error; err != nil {
		return Snapshot{}, fmt.Errorf("ledger: load entries: %w", err)
	}
	logs, err := s.log.Recent(ctx, partyID, logLimit)
	if err != nil {
		return Snapshot{}, fmt.Errorf("ledger: load log: %w", err)
	}
	snap.Logs = logs
	return snap, nil
}

// Character reads one character record.
func (s *Service) Character(ctx context.Context, id int64) (*model.Character, error) {
	var c model.Character
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCharacterNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// Apply commits plan for the party: every stash row mutation and the
// character write happen in one transaction, with conditional updates so a
// plan computed from stale quantities fails with ErrStale instead of
// overwriting somebody else's change. The log is appended after commit and
// subscribers are notified.
func (s *Service) Apply(ctx context.Context, partyID int64, plan Plan) error {
	if plan.Empty() {
		return nil
	}
	if err := plan.validate(); err != nil {
		return err
	}

	release, err := s.lock(ctx, partyID)
	if err != nil {
		return err
	}
	defer release()

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, op := range plan.Stash {
			if err := applyStashOp(tx, partyID, op); err != nil {
				return err
			}
		}
		if plan.Character != nil {
			return applyCharacterOp(tx, partyID, *plan.Character)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.log.Append(ctx, plan.Logs)
	if s.feed != nil {
		if err := s.feed.Notify(context.WithoutCancel(ctx), partyID); err != nil {
			s.logger.Warn("stash change notification failed",
				zap.Int64("party_id", partyID), zap.Error(err))
		}
	}
	return nil
}

// lock takes the per-party commit lock, polling until LockWait runs out.
func (s *Service) lock(ctx context.Context, partyID int64) (func(), error) {
	key := fmt.Sprintf("lock:stash:%d", partyID)
	token := uuid.NewString()
	deadline := time.Now().Add(s.opts.LockWait)
	for {
		ok, err := s.locks.TryLock(ctx, key, token, s.opts.LockTTL)
		if err != nil {
			return nil, fmt.Errorf("ledger: lock: %w", err)
		}
		if ok {
			return func() {
				if _, err := s.locks.Unlock(context.WithoutCancel(ctx), key, token); err != nil {
					s.logger.Warn("stash lock release failed", zap.String("key", key), zap.Error(err))
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func applyStashOp(tx *gorm.DB, partyID int64, op StashOp) error {
	switch op.Kind {
	case OpCredit:
		key := stack.Key(op.Name, op.Description)
		res := tx.Model(&model.StashEntry{}).
			Where("party_id = ? AND stack_key = ?", partyID, key).
			Update("quantity", gorm.Expr("quantity + ?", op.Qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		return tx.Create(&model.StashEntry{
			PartyID:     partyID,
			StackKey:    key,
			Name:        op.Name,
			Quantity:    op.Qty,
			Description: op.Description,
			Category:    op.Category,
		}).Error

	case OpDebit:
		res := tx.Model(&model.StashEntry{}).
			Where("id = ? AND party_id = ? AND quantity >= ?", op.EntryID, partyID, op.Qty).
			Update("quantity", gorm.Expr("quantity - ?", op.Qty))
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: entry %d holds fewer than %d", ErrStale, op.EntryID, op.Qty)
		}
		return tx.Where("id = ? AND quantity <= 0", op.EntryID).Delete(&model.StashEntry{}).Error

	case OpRemove:
		res := tx.Where("id = ? AND party_id = ? AND quantity = ?", op.EntryID, partyID, op.Qty).
			Delete(&model.StashEntry{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: entry %d no longer holds %d", ErrStale, op.EntryID, op.Qty)
		}
		return nil
	}
	return ErrInvalidPlan
}

func applyCharacterOp(tx *gorm.DB, partyID int64, op CharacterOp) error {
	var c model.Character
	err := tx.Where("id = ? AND party_id = ?", op.CharacterID, partyID).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrCharacterNotFound
	}
	if err != nil {
		return err
	}

	gear := c.Gear()
	gear.Money = gear.Money.Add(op.Money)
	if gear.Money.Negative() {
		return fmt.Errorf("%w: character %d cannot cover the coins", ErrStale, c.ID)
	}
	for _, it := range op.Items {
		if gear.Inventory, err = applyItemOp(gear.Inventory, it); err != nil {
			return err
		}
	}
	c.SetGear(gear)

	res := tx.Model(&model.Character{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(map[string]interface{}{
			"equipment": c.Equipment,
			"version":   c.Version + 1,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: character %d was modified concurrently", ErrStale, c.ID)
	}
	return nil
}
