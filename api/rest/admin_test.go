package rest_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/partystash/api/rest"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/realtime"
	"github.com/kasuganosora/partystash/scheduler"
	"github.com/kasuganosora/partystash/stash"
	"github.com/kasuganosora/partystash/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type drops int64

func (d drops) Dropped() int64 { return int64(d) }

func TestAdmin_MetricsAndReconcile(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	feed := realtime.NewFeed(ps, logger)
	remote := ledger.NewService(db, c, feed, ledger.Options{}, logger)
	mgr := stash.NewManager(stash.Deps{Remote: remote, Feed: feed, Logger: logger}, stash.Options{})
	t.Cleanup(mgr.Shutdown)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	sched.Every("stash_reconcile", time.Hour, func(ctx context.Context) { mgr.ReconcileAll(ctx) })

	_, err := mgr.Get(context.Background(), 3)
	require.NoError(t, err)

	h := rest.NewAdminHandler(mgr, remote.Log(), sched, drops(4), logger)
	r := gin.New()
	r.GET("/admin/metrics", h.Metrics)
	r.POST("/admin/reconcile", h.Reconcile)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	var m struct {
		OpenSessions int      `json:"open_sessions"`
		LogFailures  int64    `json:"stash_log_failures"`
		Jobs         []string `json:"scheduler_jobs"`
		AuditDropped int64    `json:"audit_dropped_total"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	assert.Equal(t, 1, m.OpenSessions)
	assert.Zero(t, m.LogFailures)
	assert.Equal(t, []string{"stash_reconcile"}, m.Jobs)
	assert.Equal(t, int64(4), m.AuditDropped)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/admin/reconcile", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"reconciled":1}`, w.Body.String())
}
