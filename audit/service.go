// Package audit records every stash command received over the API, in the
// background and in batches.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kasuganosora/partystash/model"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one command to record.
type Entry struct {
	TraceID     string
	PartyID     *int64
	CharacterID *int64
	Role        string
	Action      string
	Request     interface{}
	Response    interface{}
	Error       string
	IP          string
	DurationMs  int
}

// Options tunes the writer.
type Options struct {
	QueueSize     int
	BatchSize     int
	FlushInterval time.Duration
}

// Service queues entries and writes them from a single worker.
type Service struct {
	db      *gorm.DB
	opts    Options
	ch      chan *model.AuditLog
	stopCh  chan struct{}
	stop    sync.Once
	wg      sync.WaitGroup
	dropped atomic.Int64
	logger  *zap.Logger
}

// New creates an audit Service and starts its worker.
func New(db *gorm.DB, opts Options, logger *zap.Logger) *Service {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 1024
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 2 * time.Second
	}
	svc := &Service{
		db:     db,
		opts:   opts,
		ch:     make(chan *model.AuditLog, opts.QueueSize),
		stopCh: make(chan struct{}),
		logger: logger,
	}
	svc.wg.Add(1)
	go svc.worker()
	return svc
}

// Record queues an entry. When the queue is full the entry is dropped.
func (svc *Service) Record(entry Entry) {
	record := &model.AuditLog{
		TraceID:     entry.TraceID,
		PartyID:     entry.PartyID,
		CharacterID: entry.CharacterID,
		Role:        entry.Role,
		Action:      entry.Action,
		Request:     svc.encode(entry.Action, "request", entry.Request),
		Response:    svc.encode(entry.Action, "response", entry.Response),
		Error:       entry.Error,
		IP:          entry.IP,
		DurationMs:  entry.DurationMs,
	}
	select {
	case svc.ch <- record:
	default:
		svc.dropped.Add(1)
		svc.logger.Warn("audit queue full, dropping entry", zap.String("action", entry.Action))
	}
}

// Dropped is the number of entries lost to a full queue.
func (svc *Service) Dropped() int64 { return svc.dropped.Load() }

// Stop writes what is queued and stops the worker.
func (svc *Service) Stop(_ context.Context) {
	svc.stop.Do(func() { close(svc.stopCh) })
	svc.wg.Wait()
}

// encode marshals a payload. A payload that cannot be marshalled is logged
// and stored as an error object so the entry still lands.
func (svc *Service) encode(action, field string, v interface{}) datatypes.JSON {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		svc.logger.Warn("audit payload not encodable",
			zap.String("action", action), zap.String("field", field), zap.Error(err))
		b, _ = json.Marshal(map[string]string{"encode_error": err.Error()})
	}
	return datatypes.JSON(b)
}

func (svc *Service) worker() {
	defer svc.wg.Done()
	ticker := time.NewTicker(svc.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]*model.AuditLog, 0, svc.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := svc.db.Create(&batch).Error; err != nil {
			svc.logger.Error("audit batch write failed", zap.Int("entries", len(batch)), zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case rec := <-svc.ch:
			batch = append(batch, rec)
			if len(batch) >= svc.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-svc.stopCh:
			for {
				select {
				case rec := <-svc.ch:
					batch = append(batch, rec)
				default:
					flush()
					return
				}
			}
		}
	}
}
