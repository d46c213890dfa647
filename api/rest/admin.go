package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/scheduler"
	"github.com/kasuganosora/partystash/stash"
	"go.uber.org/zap"
)

// DropCounter reports how many audit entries were lost.
type DropCounter interface {
	Dropped() int64
}

// AdminHandler serves operator endpoints. Routes should sit behind the IP
// whitelist.
type AdminHandler struct {
	sessions *stash.Manager
	log      *ledger.TxLog
	sched    *scheduler.Scheduler
	audit    DropCounter
	logger   *zap.Logger
}

// NewAdminHandler creates an AdminHandler. auditor may be nil.
func NewAdminHandler(sessions *stash.Manager, log *ledger.TxLog, sched *scheduler.Scheduler, auditor DropCounter, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{sessions: sessions, log: log, sched: sched, audit: auditor, logger: logger}
}

// Metrics handles GET /admin/metrics.
func (h *AdminHandler) Metrics(c *gin.Context) {
	body := gin.H{
		"open_sessions":       h.sessions.Len(),
		"stash_log_failures":  h.log.Failures(),
		"scheduler_jobs":      []string{},
		"audit_dropped_total": int64(0),
	}
	if h.sched != nil {
		body["scheduler_jobs"] = h.sched.Jobs()
	}
	if h.audit != nil {
		body["audit_dropped_total"] = h.audit.Dropped()
	}
	c.JSON(http.StatusOK, body)
}

// Reconcile handles POST /admin/reconcile: every open session reloads.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	h.sessions.ReconcileAll(c.Request.Context())
	h.logger.Info("forced stash reconcile", zap.Int("sessions", h.sessions.Len()))
	c.JSON(http.StatusOK, gin.H{"reconciled": h.sessions.Len()})
}
