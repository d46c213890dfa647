package ledger

import (
	"context"
	"sync/atomic"

	"github.com/kasuganosora/partystash/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// TxLog is the append-only stash movement log.
type TxLog struct {
	db       *gorm.DB
	logger   *zap.Logger
	failures atomic.Int64
}

// NewTxLog creates a TxLog.
func NewTxLog(db *gorm.DB, logger *zap.Logger) *TxLog {
	return &TxLog{db: db, logger: logger}
}

// Append writes entries. It is best effort: a failure is logged and
// counted but never reported to the caller, because the stash mutation it
// describes has already committed.
func (l *TxLog) Append(ctx context.Context, entries []model.StashLog) {
	if len(entries) == 0 {
		return
	}
	rows := append([]model.StashLog(nil), entries...)
	if err := l.db.WithContext(context.WithoutCancel(ctx)).Create(&rows).Error; err != nil {
		l.failures.Add(1)
		l.logger.Error("stash log append failed",
			zap.Int64("party_id", rows[0].PartyID),
			zap.Int("entries", len(rows)),
			zap.Error(err))
	}
}

// Recent returns the newest entries for a party, newest first.
func (l *TxLog) Recent(ctx context.Context, partyID int64, limit int) ([]model.StashLog, error) {
	if limit <= 0 {
		limit = 50
	}
	var logs []model.StashLog
	err := l.db.WithContext(ctx).
		Where("party_id = ?", partyID).
		Order("created_at DESC").Order("id DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}

// Failures is the number of appends that were dropped.
func (l *TxLog) Failures() int64 {
	return l.failures.Load()
}
