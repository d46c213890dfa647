package testutil

import (
	"testing"

	"github.com/kasuganosora/partystash/cache"
	"github.com/kasuganosora/partystash/config"
	dbadapter "github.com/kasuganosora/partystash/db"
	"github.com/kasuganosora/partystash/model"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// SetupTestDB creates a private in-memory SQLite DB and runs AutoMigrate.
// It requires no external services and is safe to use in parallel tests.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := dbadapter.Open(config.DatabaseConfig{
		Mode: dbadapter.ModeMemory,
	})
	require.NoError(t, err, "SetupTestDB: Open")
	require.NoError(t, model.AutoMigrate(db), "SetupTestDB: AutoMigrate")
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// SetupTestCache creates in-process locks and pub/sub (no Redis required).
func SetupTestCache(t *testing.T) (cache.Locker, cache.PubSub) {
	t.Helper()
	cfg := cache.Config{}
	c, err := cache.NewLocker(cfg)
	require.NoError(t, err, "SetupTestCache: NewLocker")
	if cl, ok := c.(interface{ Close() }); ok {
		t.Cleanup(cl.Close)
	}
	ps, err := cache.NewPubSub(cfg)
	require.NoError(t, err, "SetupTestCache: NewPubSub")
	return c, ps
}
