package stash

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/realtime"
	"github.com/kasuganosora/partystash/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const party int64 = 7

type env struct {
	db      *gorm.DB
	remote  *ledger.Service
	catalog *catalog.Service
	feed    *realtime.Feed
}

func newEnv(t *testing.T) *env {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, ps := testutil.SetupTestCache(t)
	feed := realtime.NewFeed(ps, zap.NewNop())
	return &env{
		db:      db,
		remote:  ledger.NewService(db, c, feed, ledger.Options{}, zap.NewNop()),
		catalog: catalog.NewService(db, zap.NewNop()),
		feed:    feed,
	}
}

func (e *env) deps() Deps {
	return Deps{Remote: e.remote, Catalog: e.catalog, Feed: e.feed, Logger: zap.NewNop()}
}

func (e *env) session(t *testing.T, deps Deps) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), party, deps, Options{LogLimit: 50})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func (e *env) character(t *testing.T, eq model.Equipment) *model.Character {
	t.Helper()
	c := &model.Character{PartyID: party, Name: "Mira"}
	c.SetGear(eq)
	require.NoError(t, e.db.Create(c).Error)
	return c
}

func (e *env) reload(t *testing.T, id int64) model.Equipment {
	t.Helper()
	c, err := e.remote.Character(context.Background(), id)
	require.NoError(t, err)
	return c.Gear()
}

func (e *env) seed(t *testing.T, entries ...model.StashEntry) {
	t.Helper()
	var plan ledger.Plan
	for _, en := range entries {
		plan.Stash = append(plan.Stash, ledger.Credit(en.Name, en.Description, en.Category, en.Quantity))
	}
	require.NoError(t, e.remote.Apply(context.Background(), party, plan))
}

func byName(t *testing.T, snap Snapshot, name string) model.StashEntry {
	t.Helper()
	for _, e := range snap.Entries {
		if e.Name == name {
			return e
		}
	}
	t.Fatalf("no stash entry named %q", name)
	return model.StashEntry{}
}

func line(name, desc string, qty int) LootLine {
	return LootLine{Item: model.CatalogItem{Name: name, Description: desc}, Qty: qty}
}

// flakyRemote fails every Apply while fail is set and counts calls.
type flakyRemote struct {
	Remote
	fail  atomic.Bool
	calls atomic.Int32
}

func (f *flakyRemote) Apply(ctx context.Context, partyID int64, plan ledger.Plan) error {
	f.calls.Add(1)
	if f.fail.Load() {
		return errors.New("connection reset by peer")
	}
	return f.Remote.Apply(ctx, partyID, plan)
}

func gold(n int64) currency.Purse { return currency.Purse{Gold: n} }
