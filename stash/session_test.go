package stash

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssignLoot_StacksAcrossCommits(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, e.deps())
	ctx := context.Background()

	require.NoError(t, s.AssignLoot(ctx, Loot{Lines: []LootLine{line("Rope", "50ft", 2)}}))
	require.NoError(t, s.AssignLoot(ctx, Loot{Lines: []LootLine{line("Rope", "50ft", 3)}}))

	snap := s.Snapshot()
	require.Len(t, snap.Entries, 1)
	assert.Equal(t, 5, snap.Entries[0].Quantity)
	assert.Equal(t, Stable, snap.State)
}

func TestAssignLoot_AggregatesByStackKey(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, e.deps())

	require.NoError(t, s.AssignLoot(context.Background(), Loot{Lines: []LootLine{
		line("Rope", "50ft", 1),
		line("rope ", "50ft", 2),
		line("Rope", "silk", 1),
		{Item: model.CatalogItem{Name: "Potion", Effect: "heal 2d4", Description: "red"}, Qty: 1},
	}}))

	snap := s.Snapshot()
	assert.Len(t, snap.Entries, 3)
	require.Len(t, snap.Logs, 3)
	for _, l := range snap.Logs {
		assert.Equal(t, model.EndpointIDDM, l.FromID)
		assert.Equal(t, model.EndpointParty, l.ToType)
	}
	potion := byName(t, snap, "Potion")
	assert.Equal(t, "heal 2d4", potion.Description)
}

func TestTransferToCharacter_ConservesQuantity(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Gold", Category: "currency", Quantity: 10})
	c := e.character(t, model.Equipment{})
	s := e.session(t, e.deps())
	logsBefore := len(s.Snapshot().Logs)

	g := byName(t, s.Snapshot(), "Gold")
	require.NoError(t, s.TransferToCharacter(context.Background(), c.ID, []Selection{{EntryID: g.ID, Qty: 3}}))

	snap := s.Snapshot()
	assert.Equal(t, 7, byName(t, snap, "Gold").Quantity)
	assert.Equal(t, gold(3), e.reload(t, c.ID).Money)
	require.Len(t, snap.Logs, logsBefore+1)
	l := snap.Logs[0]
	assert.Equal(t, 3, l.Quantity)
	assert.Equal(t, model.EndpointParty, l.FromType)
	assert.Equal(t, model.EndpointCharacter, l.ToType)
}

func TestTransferToCharacter_Clamps(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Arrow", Quantity: 5})
	c := e.character(t, model.Equipment{})
	s := e.session(t, e.deps())

	a := byName(t, s.Snapshot(), "Arrow")
	require.NoError(t, s.TransferToCharacter(context.Background(), c.ID, []Selection{{EntryID: a.ID, Qty: 50}}))

	assert.Empty(t, s.Snapshot().Entries)
	inv := e.reload(t, c.ID).Inventory
	require.Len(t, inv, 1)
	assert.Equal(t, 5, inv[0].Quantity)
	assert.Equal(t, 5, s.Snapshot().Logs[0].Quantity)
}

func TestTransferToCharacter_InheritsFromCatalog(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&model.CatalogItem{Name: "Rope", Category: "gear", Effect: "50 ft"}).Error)
	e.seed(t, model.StashEntry{Name: "Rope", Quantity: 1})
	c := e.character(t, model.Equipment{})
	s := e.session(t, e.deps())

	r := byName(t, s.Snapshot(), "Rope")
	require.NoError(t, s.TransferToCharacter(context.Background(), c.ID, []Selection{{EntryID: r.ID, Qty: 1}}))

	inv := e.reload(t, c.ID).Inventory
	require.Len(t, inv, 1)
	assert.Equal(t, 1, inv[0].Quantity)
	assert.Equal(t, "50 ft", inv[0].Description)
	assert.Equal(t, "gear", inv[0].Category)
}

func TestTransferToCharacter_StacksOnStashKey(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&model.CatalogItem{Name: "Rope", Category: "gear", Effect: "50 ft"}).Error)
	e.seed(t, model.StashEntry{Name: "Rope", Quantity: 1})
	c := e.character(t, model.Equipment{
		Inventory: []model.InventoryItem{{ID: "r", Name: "Rope", Quantity: 2}},
	})
	s := e.session(t, e.deps())

	r := byName(t, s.Snapshot(), "Rope")
	require.NoError(t, s.TransferToCharacter(context.Background(), c.ID, []Selection{{EntryID: r.ID, Qty: 1}}))

	inv := e.reload(t, c.ID).Inventory
	require.Len(t, inv, 1, "a plain stash row stacks with the plain item")
	assert.Equal(t, "r", inv[0].ID)
	assert.Equal(t, 3, inv[0].Quantity)
	assert.Empty(t, inv[0].Description)
}

func TestTransferToCharacter_Validation(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Arrow", Quantity: 5})
	remote := &flakyRemote{Remote: e.remote}
	deps := e.deps()
	deps.Remote = remote
	s := e.session(t, deps)
	a := byName(t, s.Snapshot(), "Arrow")
	ctx := context.Background()

	assert.ErrorIs(t, s.TransferToCharacter(ctx, 0, []Selection{{EntryID: a.ID, Qty: 1}}), ErrValidation)
	assert.ErrorIs(t, s.TransferToCharacter(ctx, 1, nil), ErrValidation)
	assert.ErrorIs(t, s.TransferToCharacter(ctx, 1, []Selection{{EntryID: a.ID, Qty: 0}}), ErrValidation)
	assert.ErrorIs(t, s.TransferToCharacter(ctx, 1, []Selection{{EntryID: 999, Qty: 1}}), ErrValidation)
	assert.ErrorIs(t, s.AssignLoot(ctx, Loot{}), ErrValidation)
	assert.ErrorIs(t, s.AssignLoot(ctx, Loot{Lines: []LootLine{line("Rope", "", -1)}}), ErrValidation)
	assert.ErrorIs(t, s.DeleteSelected(ctx, nil), ErrValidation)
	assert.ErrorIs(t, s.TransferMoneyToParty(ctx, 1, currency.Gold, 0), ErrValidation)
	assert.Zero(t, remote.calls.Load())
}

func TestTransferToParty_ByIDAndLegacyName(t *testing.T) {
	e := newEnv(t)
	c := e.character(t, model.Equipment{Inventory: []model.InventoryItem{
		{ID: "t1", Name: "Torch", Quantity: 3, Category: "gear"},
		{Name: "Chalk"},
	}})
	s := e.session(t, e.deps())
	ctx := context.Background()

	require.NoError(t, s.TransferToParty(ctx, c.ID, "t1", "", 0))
	require.NoError(t, s.TransferToParty(ctx, c.ID, "", "chalk", 5))

	snap := s.Snapshot()
	assert.Equal(t, 1, byName(t, snap, "Torch").Quantity)
	assert.Equal(t, "gear", byName(t, snap, "Torch").Category)
	assert.Equal(t, 1, byName(t, snap, "Chalk").Quantity)

	inv := e.reload(t, c.ID).Inventory
	require.Len(t, inv, 1)
	assert.Equal(t, 2, inv[0].Quantity)
	require.Len(t, snap.Logs, 2)
	assert.Equal(t, model.EndpointCharacter, snap.Logs[0].FromType)

	assert.ErrorIs(t, s.TransferToParty(ctx, c.ID, "", "Lantern", 1), ErrValidation)
}

func TestTransferToParty_OtherPartyCharacter(t *testing.T) {
	e := newEnv(t)
	c := &model.Character{PartyID: party + 1, Name: "Stranger"}
	c.SetGear(model.Equipment{Inventory: []model.InventoryItem{{ID: "x", Name: "Gem", Quantity: 1}}})
	require.NoError(t, e.db.Create(c).Error)
	s := e.session(t, e.deps())

	err := s.TransferToParty(context.Background(), c.ID, "x", "", 1)
	assert.ErrorIs(t, err, ledger.ErrCharacterNotFound)
}

func TestTransferMoneyToParty_Clamps(t *testing.T) {
	e := newEnv(t)
	c := e.character(t, model.Equipment{Money: currency.Purse{Gold: 1, Silver: 4}})
	s := e.session(t, e.deps())
	ctx := context.Background()

	require.NoError(t, s.TransferMoneyToParty(ctx, c.ID, currency.Silver, 10))
	assert.Equal(t, 4, byName(t, s.Snapshot(), "Silver").Quantity)
	assert.Equal(t, currency.Purse{Gold: 1}, e.reload(t, c.ID).Money)

	assert.ErrorIs(t, s.TransferMoneyToParty(ctx, c.ID, currency.Copper, 1), ErrValidation)
}

func TestConsolidateCurrency_RoundTrip(t *testing.T) {
	e := newEnv(t)
	e.seed(t,
		model.StashEntry{Name: "Gold", Quantity: 2},
		model.StashEntry{Name: "Silver", Quantity: 15},
		model.StashEntry{Name: "Copper", Quantity: 250},
		model.StashEntry{Name: "Rope", Quantity: 1},
	)
	s := e.session(t, e.deps())

	require.NoError(t, s.ConsolidateCurrency(context.Background()))

	snap := s.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, 6, byName(t, snap, "Gold").Quantity)
	assert.Equal(t, 1, byName(t, snap, "Rope").Quantity)
	assert.Empty(t, snap.Logs)
}

func TestQuote_SuggestsUnit(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&[]model.CatalogItem{
		{Name: "Torch", Cost: "1 cp"},
		{Name: "Rope", Cost: "1 gp"},
		{Name: "Chalk", Cost: "1 cp"},
	}).Error)
	e.seed(t,
		model.StashEntry{Name: "Torch", Quantity: 5},
		model.StashEntry{Name: "Rope", Quantity: 1},
		model.StashEntry{Name: "Chalk", Quantity: 20},
	)
	s := e.session(t, e.deps())
	snap := s.Snapshot()
	ctx := context.Background()

	q, err := s.Quote(ctx, []int64{byName(t, snap, "Torch").ID})
	require.NoError(t, err)
	assert.Equal(t, currency.Copper, q.Suggested.Unit)
	assert.True(t, q.Suggested.Value.Equal(decimal.NewFromInt(5)))

	q, err = s.Quote(ctx, []int64{byName(t, snap, "Rope").ID, byName(t, snap, "Chalk").ID})
	require.NoError(t, err)
	assert.Equal(t, currency.Gold, q.Suggested.Unit)
	assert.True(t, q.Suggested.Value.Equal(decimal.RequireFromString("1.2")))
}

func TestSellSelected_RemovesAndCredits(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, e.db.Create(&[]model.CatalogItem{
		{Name: "Rope", Cost: "1 gp"},
		{Name: "Chalk", Cost: "1 cp"},
	}).Error)
	e.seed(t,
		model.StashEntry{Name: "Rope", Quantity: 1},
		model.StashEntry{Name: "Chalk", Quantity: 20},
		model.StashEntry{Name: "Lantern", Quantity: 1},
	)
	s := e.session(t, e.deps())
	snap := s.Snapshot()

	sale, err := s.SellSelected(context.Background(),
		[]int64{byName(t, snap, "Rope").ID, byName(t, snap, "Chalk").ID}, FixedPrice{}, "haggle")
	require.NoError(t, err)
	assert.Equal(t, int64(12), sale.Price)
	assert.Equal(t, currency.Silver, sale.Unit)

	snap = s.Snapshot()
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, 12, byName(t, snap, "Silver").Quantity)
	require.Len(t, snap.Logs, 2)
	var out, in model.StashLog
	for _, l := range snap.Logs {
		if l.ToID == model.EndpointIDSold {
			out = l
		} else {
			in = l
		}
	}
	assert.Equal(t, 21, out.Quantity)
	assert.Contains(t, out.ItemName, "1x Rope")
	assert.Equal(t, model.EndpointIDMerchant, in.FromID)
	assert.Equal(t, "Silver", in.ItemName)
	assert.Equal(t, 12, in.Quantity)
}

func TestSellSelected_NegotiatedPrice(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Idol", Quantity: 1})
	s := e.session(t, e.deps())
	id := byName(t, s.Snapshot(), "Idol").ID

	sale, err := s.SellSelected(context.Background(), []int64{id},
		FixedPrice{Price: decimal.NewFromInt(40), Unit: currency.Gold}, "")
	require.NoError(t, err)
	assert.Equal(t, int64(40), sale.Price)
	assert.Equal(t, 40, byName(t, s.Snapshot(), "Gold").Quantity)
}

func TestDeleteSelected_LogsToVoid(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Cursed Ring", Quantity: 1}, model.StashEntry{Name: "Rope", Quantity: 1})
	s := e.session(t, e.deps())
	ring := byName(t, s.Snapshot(), "Cursed Ring")

	require.NoError(t, s.DeleteSelected(context.Background(), []int64{ring.ID, ring.ID}))

	snap := s.Snapshot()
	_, still := snap.Entry(ring.ID)
	assert.False(t, still)
	require.Len(t, snap.Logs, 1)
	assert.Equal(t, model.EndpointVoid, snap.Logs[0].ToType)
	assert.Equal(t, "Cursed Ring", snap.Logs[0].ItemName)
}

func TestRemoteFailure_RestoresCommittedView(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Gold", Quantity: 10}, model.StashEntry{Name: "Rope", Quantity: 2})
	c := e.character(t, model.Equipment{})
	remote := &flakyRemote{Remote: e.remote}
	deps := e.deps()
	deps.Remote = remote
	s := e.session(t, deps)
	before := s.Snapshot()

	remote.fail.Store(true)
	g := byName(t, before, "Gold")
	err := s.TransferToCharacter(context.Background(), c.ID, []Selection{{EntryID: g.ID, Qty: 3}})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)

	after := s.Snapshot()
	assert.Equal(t, before.Entries, after.Entries)
	assert.Equal(t, before.Logs, after.Logs)
	assert.Equal(t, Stable, after.State)
	assert.Equal(t, currency.Purse{}, e.reload(t, c.ID).Money)
}

func TestStaleSession_CannotOverdraw(t *testing.T) {
	e := newEnv(t)
	e.seed(t, model.StashEntry{Name: "Potion", Quantity: 1})
	a := e.character(t, model.Equipment{})
	b := e.character(t, model.Equipment{})

	first := e.session(t, e.deps())
	staleDeps := e.deps()
	staleDeps.Feed = nil
	stale := e.session(t, staleDeps)
	p := byName(t, stale.Snapshot(), "Potion")

	require.NoError(t, first.TransferToCharacter(context.Background(), a.ID, []Selection{{EntryID: p.ID, Qty: 1}}))
	err := stale.TransferToCharacter(context.Background(), b.ID, []Selection{{EntryID: p.ID, Qty: 1}})
	assert.ErrorIs(t, err, ledger.ErrStale)

	assert.Empty(t, stale.Snapshot().Entries)
	assert.Empty(t, e.reload(t, b.ID).Inventory)
	assert.Len(t, e.reload(t, a.ID).Inventory, 1)
}

func TestFeed_ReloadsOtherSessions(t *testing.T) {
	e := newEnv(t)
	writer := e.session(t, e.deps())
	watcher := e.session(t, e.deps())

	require.NoError(t, writer.AssignLoot(context.Background(), Loot{Lines: []LootLine{line("Gem", "", 2)}}))

	assert.Eventually(t, func() bool {
		snap := watcher.Snapshot()
		return len(snap.Entries) == 1 && snap.Entries[0].Quantity == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSession_ClosedRejectsCommands(t *testing.T) {
	e := newEnv(t)
	s := e.session(t, e.deps())
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.AssignLoot(context.Background(), Loot{Lines: []LootLine{line("Gem", "", 1)}}), ErrClosed)
	assert.ErrorIs(t, s.Refresh(context.Background()), ErrClosed)
}

// gatedRemote serves its first Load from a snapshot taken before the gate
// opens, so that load finishes last and is stale.
type gatedRemote struct {
	Remote
	started chan struct{}
	gate    chan struct{}
	first   atomic.Bool
}

func (g *gatedRemote) Load(ctx context.Context, partyID int64, logLimit int) (ledger.Snapshot, error) {
	if g.first.CompareAndSwap(false, true) {
		snap, err := g.Remote.Load(ctx, partyID, logLimit)
		close(g.started)
		<-g.gate
		return snap, err
	}
	return g.Remote.Load(ctx, partyID, logLimit)
}

func TestNewSession_ChangeDuringFirstLoadIsNotLost(t *testing.T) {
	e := newEnv(t)
	remote := &gatedRemote{Remote: e.remote, started: make(chan struct{}), gate: make(chan struct{})}
	deps := e.deps()
	deps.Remote = remote

	type result struct {
		s   *Session
		err error
	}
	done := make(chan result, 1)
	go func() {
		s, err := NewSession(context.Background(), party, deps, Options{LogLimit: 50})
		done <- result{s, err}
	}()

	<-remote.started
	e.seed(t, model.StashEntry{Name: "Lantern", Quantity: 1})
	// Let the notification reach the session before the stale load returns.
	time.Sleep(50 * time.Millisecond)
	close(remote.gate)

	r := <-done
	require.NoError(t, r.err)
	t.Cleanup(r.s.Close)
	assert.Eventually(t, func() bool {
		snap := r.s.Snapshot()
		return len(snap.Entries) == 1 && snap.State == Stable && !r.s.store.Dirty()
	}, 2*time.Second, 10*time.Millisecond)
}
