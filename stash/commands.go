package stash

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/kasuganosora/partystash/catalog"
	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/ledger"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Selection asks for qty units of a stash entry.
type Selection struct {
	EntryID int64 `json:"entry_id"`
	Qty     int   `json:"qty"`
}

// LootLine stages qty units of a catalog item.
type LootLine struct {
	Item model.CatalogItem `json:"item"`
	Qty  int               `json:"qty"`
}

// Loot is everything the DM staged for one assignment.
type Loot struct {
	Lines []LootLine `json:"lines"`
}

func (s *Session) partyRef() string { return strconv.FormatInt(s.partyID, 10) }

func characterRef(id int64) string { return strconv.FormatInt(id, 10) }

// AssignLoot adds staged items to the stash. Lines with the same stack key
// are summed into one credit and one log entry.
func (s *Session) AssignLoot(ctx context.Context, loot Loot) error {
	if len(loot.Lines) == 0 {
		return invalid("nothing staged")
	}
	type aggregate struct {
		name, description, category string
		qty                         int
	}
	var order []string
	byKey := make(map[string]*aggregate)
	for _, line := range loot.Lines {
		if line.Qty <= 0 {
			return invalid("quantity must be positive")
		}
		name := strings.TrimSpace(line.Item.Name)
		if name == "" {
			return invalid("loot item has no name")
		}
		desc := line.Item.Flavor()
		key := stack.Key(name, desc)
		if a, ok := byKey[key]; ok {
			a.qty += line.Qty
			continue
		}
		byKey[key] = &aggregate{name: name, description: desc, category: line.Item.Category, qty: line.Qty}
		order = append(order, key)
	}

	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	var plan ledger.Plan
	for _, key := range order {
		a := byKey[key]
		plan.Stash = append(plan.Stash, ledger.Credit(a.name, a.description, a.category, a.qty))
		plan.Logs = append(plan.Logs, model.StashLog{
			PartyID:  s.partyID,
			ItemName: a.name,
			Quantity: a.qty,
			FromType: model.EndpointParty,
			FromID:   model.EndpointIDDM,
			ToType:   model.EndpointParty,
			ToID:     s.partyRef(),
		})
	}
	return s.commit(ctx, "assign_loot", plan)
}

// TransferToCharacter moves the selected stash entries to a character.
// Each requested quantity is clamped to what the entry holds and selections
// that clamp to zero are dropped.
func (s *Session) TransferToCharacter(ctx context.Context, characterID int64, sel []Selection) error {
	if characterID <= 0 {
		return invalid("no character selected")
	}
	if len(sel) == 0 {
		return invalid("no item selected")
	}
	for _, x := range sel {
		if x.Qty <= 0 {
			return invalid("quantity must be positive")
		}
	}

	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	snap := s.store.Snapshot()
	wanted := make(map[int64]int)
	var order []int64
	for _, x := range sel {
		if _, ok := snap.Entry(x.EntryID); !ok {
			return invalid("entry %d is not in the stash", x.EntryID)
		}
		if _, seen := wanted[x.EntryID]; !seen {
			order = append(order, x.EntryID)
		}
		wanted[x.EntryID] += x.Qty
	}

	charOp := &ledger.CharacterOp{CharacterID: characterID}
	var plan ledger.Plan
	for _, id := range order {
		e, _ := snap.Entry(id)
		n := min(wanted[id], e.Quantity)
		if n <= 0 {
			continue
		}
		plan.Stash = append(plan.Stash, ledger.Debit(e.ID, n))
		if d, ok := currency.KeyOf(e.Name); ok {
			charOp.Money = charOp.Money.With(d, int64(n))
		} else {
			desc, cat := s.inherit(ctx, e)
			charOp.Items = append(charOp.Items, ledger.CreditItem(e.Name, desc, cat, n).StackingOn(e.Key()))
		}
		plan.Logs = append(plan.Logs, model.StashLog{
			PartyID:  s.partyID,
			ItemName: e.Name,
			Quantity: n,
			FromType: model.EndpointParty,
			FromID:   s.partyRef(),
			ToType:   model.EndpointCharacter,
			ToID:     characterRef(characterID),
		})
	}
	if len(plan.Stash) == 0 {
		return invalid("nothing to transfer")
	}
	plan.Character = charOp
	return s.commit(ctx, "transfer_to_character", plan)
}

// inherit picks the description and category a transferred stash row gives
// a newly appended character item: the row's own, or failing that the
// catalog's.
func (s *Session) inherit(ctx context.Context, e model.StashEntry) (string, string) {
	desc, cat := e.Description, e.Category
	if (desc != "" && cat != "") || s.deps.Catalog == nil {
		return desc, cat
	}
	item, err := s.deps.Catalog.FindByName(ctx, e.Name)
	if err != nil {
		if !errors.Is(err, catalog.ErrNotFound) {
			s.logger.Warn("catalog lookup failed", zap.String("name", e.Name), zap.Error(err))
		}
		return desc, cat
	}
	if desc == "" {
		desc = item.Flavor()
	}
	if cat == "" {
		cat = item.Category
	}
	return desc, cat
}

// TransferToParty moves qty units of one of the character's items into the
// stash. The item is matched by id, falling back to its name for legacy
// rows without an id. qty 0 means one.
func (s *Session) TransferToParty(ctx context.Context, characterID int64, itemID, name string, qty int) error {
	if characterID <= 0 {
		return invalid("no character selected")
	}
	if itemID == "" && strings.TrimSpace(name) == "" {
		return invalid("no item selected")
	}
	if qty < 0 {
		return invalid("quantity must be positive")
	}
	if qty == 0 {
		qty = 1
	}

	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	c, err := s.character(ctx, characterID)
	if err != nil {
		return err
	}
	inv := c.Gear().Inventory
	i := ledger.FindItem(inv, itemID, name)
	if i < 0 {
		return invalid("character does not hold that item")
	}
	item := inv[i]
	n := min(qty, ledger.Available(item))
	itemName := item.Name.String()

	plan := ledger.Plan{
		Stash: []ledger.StashOp{ledger.Credit(itemName, item.Description, item.Category, n)},
		Character: &ledger.CharacterOp{
			CharacterID: characterID,
			Items:       []ledger.ItemOp{ledger.DebitItem(item.ID, itemName, n)},
		},
		Logs: []model.StashLog{{
			PartyID:  s.partyID,
			ItemName: itemName,
			Quantity: n,
			FromType: model.EndpointCharacter,
			FromID:   characterRef(characterID),
			ToType:   model.EndpointParty,
			ToID:     s.partyRef(),
		}},
	}
	return s.commit(ctx, "transfer_to_party", plan)
}

// TransferMoneyToParty moves coins of one denomination from a character to
// the stash, clamped to what the character carries.
func (s *Session) TransferMoneyToParty(ctx context.Context, characterID int64, d currency.Denomination, amount int64) error {
	if characterID <= 0 {
		return invalid("no character selected")
	}
	if amount <= 0 {
		return invalid("amount must be positive")
	}

	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	c, err := s.character(ctx, characterID)
	if err != nil {
		return err
	}
	n := min(amount, c.Gear().Money.Get(d))
	if n <= 0 {
		return invalid("character has no %s", d)
	}

	plan := ledger.Plan{
		Stash: []ledger.StashOp{ledger.Credit(d.Name(), "", "currency", int(n))},
		Character: &ledger.CharacterOp{
			CharacterID: characterID,
			Money:       currency.Purse{}.With(d, -n),
		},
		Logs: []model.StashLog{{
			PartyID:  s.partyID,
			ItemName: d.Name(),
			Quantity: int(n),
			FromType: model.EndpointCharacter,
			FromID:   characterRef(characterID),
			ToType:   model.EndpointParty,
			ToID:     s.partyRef(),
		}},
	}
	return s.commit(ctx, "transfer_money_to_party", plan)
}

// character reads a character of this party. A failed read changes
// nothing, so it does not force a reload.
func (s *Session) character(ctx context.Context, id int64) (*model.Character, error) {
	rctx, cancel := context.WithTimeout(ctx, s.opts.RemoteTimeout)
	defer cancel()
	c, err := s.deps.Remote.Character(rctx, id)
	if err != nil {
		return nil, fmt.Errorf("stash: %w", err)
	}
	if c.PartyID != s.partyID {
		return nil, fmt.Errorf("stash: %w", ledger.ErrCharacterNotFound)
	}
	return c, nil
}

// DeleteSelected removes entries from the stash. Each removal is logged as
// going to the void.
func (s *Session) DeleteSelected(ctx context.Context, entryIDs []int64) error {
	if len(entryIDs) == 0 {
		return invalid("no item selected")
	}

	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	entries, err := s.selected(entryIDs)
	if err != nil {
		return err
	}
	var plan ledger.Plan
	for _, e := range entries {
		plan.Stash = append(plan.Stash, ledger.Remove(e.ID, e.Quantity))
		plan.Logs = append(plan.Logs, model.StashLog{
			PartyID:  s.partyID,
			ItemName: e.Name,
			Quantity: e.Quantity,
			FromType: model.EndpointParty,
			FromID:   s.partyRef(),
			ToType:   model.EndpointVoid,
		})
	}
	return s.commit(ctx, "delete", plan)
}

// ConsolidateCurrency replaces every coin entry with the fewest coins of the
// same total value. Nothing crosses the stash boundary, so nothing is
// logged. A stash without coins is left alone.
func (s *Session) ConsolidateCurrency(ctx context.Context) error {
	release, err := s.begin()
	if err != nil {
		return err
	}
	defer release()

	var (
		plan    ledger.Plan
		amounts []currency.Amount
	)
	for _, e := range s.store.Snapshot().Entries {
		if !currency.IsCurrency(e.Name) {
			continue
		}
		amounts = append(amounts, currency.Amount{Name: e.Name, Quantity: int64(e.Quantity)})
		plan.Stash = append(plan.Stash, ledger.Remove(e.ID, e.Quantity))
	}
	if len(amounts) == 0 {
		return nil
	}
	purse := currency.Consolidate(currency.GoldEquivalent(amounts))
	for _, d := range currency.All {
		if n := purse.Get(d); n > 0 {
			plan.Stash = append(plan.Stash, ledger.Credit(d.Name(), "", "currency", int(n)))
		}
	}
	return s.commit(ctx, "consolidate_currency", plan)
}

// selected resolves entry ids against the current view, ignoring duplicates.
func (s *Session) selected(ids []int64) ([]model.StashEntry, error) {
	snap := s.store.Snapshot()
	seen := make(map[int64]bool, len(ids))
	out := make([]model.StashEntry, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		e, ok := snap.Entry(id)
		if !ok {
			return nil, invalid("entry %d is not in the stash", id)
		}
		out = append(out, e)
	}
	return out, nil
}

// Valuation is the market value of a selection.
type Valuation struct {
	Entries     []ValuedEntry   `json:"entries"`
	MarketValue decimal.Decimal `json:"market_value"`
	Suggested   currency.Quote  `json:"suggested"`
}

// ValuedEntry is one valued stash entry.
type ValuedEntry struct {
	Entry model.StashEntry `json:"entry"`
	Value decimal.Decimal  `json:"value"`
}

// Quote values the selected entries in gold: coins at face value, items at
// their catalog cost times quantity. Items missing from the catalog are
// worth nothing.
func (s *Session) Quote(ctx context.Context, entryIDs []int64) (Valuation, error) {
	if len(entryIDs) == 0 {
		return Valuation{}, invalid("no item selected")
	}
	s.touch()
	entries, err := s.selected(entryIDs)
	if err != nil {
		return Valuation{}, err
	}
	return s.value(ctx, entries)
}

func (s *Session) value(ctx context.Context, entries []model.StashEntry) (Valuation, error) {
	v := Valuation{MarketValue: decimal.Zero}
	for _, e := range entries {
		qty := decimal.NewFromInt(int64(e.Quantity))
		var worth decimal.Decimal
		if d, ok := currency.KeyOf(e.Name); ok {
			worth = d.GoldValue().Mul(qty)
		} else if s.deps.Catalog != nil {
			item, err := s.deps.Catalog.FindByName(ctx, e.Name)
			switch {
			case err == nil:
				worth = currency.UnitGoldValue(item.Cost).Mul(qty)
			case errors.Is(err, catalog.ErrNotFound):
				worth = decimal.Zero
			default:
				return Valuation{}, fmt.Errorf("stash: value %q: %w", e.Name, err)
			}
		}
		v.Entries = append(v.Entries, ValuedEntry{Entry: e, Value: worth})
		v.MarketValue = v.MarketValue.Add(worth)
	}
	v.Suggested = currency.Suggest(v.MarketValue)
	return v, nil
}

// Sale is the outcome of a confirmed sale.
type Sale struct {
	Valuation Valuation             `json:"valuation"`
	Price     int64                 `json:"price"`
	Unit      currency.Denomination `json:"-"`
	UnitName  string                `json:"unit"`
}

// SellSelected values the selected entries, lets the negotiator settle a
// price, then removes the entries and credits the proceeds.
func (s *Session) SellSelected(ctx context.Context, entryIDs []int64, n Negotiator, mode string) (*Sale, error) {
	if len(entryIDs) == 0 {
		return nil, invalid("no item selected")
	}
	if n == nil {
		return nil, invalid("no negotiator")
	}

	release, err := s.begin()
	if err != nil {
		return nil, err
	}
	defer release()

	entries, err := s.selected(entryIDs)
	if err != nil {
		return nil, err
	}
	val, err := s.value(ctx, entries)
	if err != nil {
		return nil, err
	}
	price, unit, err := n.Negotiate(ctx, val.Suggested.Value, val.Suggested.Unit, mode)
	if err != nil {
		return nil, fmt.Errorf("stash: negotiate: %w", err)
	}
	if price.IsNegative() {
		return nil, invalid("price must not be negative")
	}
	amount, unit := currency.Settle(price, unit)

	var (
		plan  ledger.Plan
		names []string
		units int
	)
	for _, e := range entries {
		plan.Stash = append(plan.Stash, ledger.Remove(e.ID, e.Quantity))
		names = append(names, fmt.Sprintf("%dx %s", e.Quantity, e.Name))
		units += e.Quantity
	}
	plan.Logs = append(plan.Logs, model.StashLog{
		PartyID:  s.partyID,
		ItemName: strings.Join(names, ", "),
		Quantity: units,
		FromType: model.EndpointParty,
		FromID:   s.partyRef(),
		ToType:   model.EndpointCharacter,
		ToID:     model.EndpointIDSold,
	})
	if amount > 0 {
		plan.Stash = append(plan.Stash, ledger.Credit(unit.Name(), "", "currency", int(amount)))
		plan.Logs = append(plan.Logs, model.StashLog{
			PartyID:  s.partyID,
			ItemName: unit.Name(),
			Quantity: int(amount),
			FromType: model.EndpointCharacter,
			FromID:   model.EndpointIDMerchant,
			ToType:   model.EndpointParty,
			ToID:     s.partyRef(),
		})
	}
	if err := s.commit(ctx, "sell", plan); err != nil {
		return nil, err
	}
	return &Sale{Valuation: val, Price: amount, Unit: unit, UnitName: unit.Name()}, nil
}
