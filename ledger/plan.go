// Package ledger is the authoritative side of the party stash: it applies a
// logical operation's row mutations in one database transaction, appends
// the movement log and announces the change.
package ledger

import (
	"errors"

	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
)

var (
	// ErrStale means a row no longer holds what the plan was computed from.
	// Nothing was written; the caller should reload and decide again.
	ErrStale = errors.New("ledger: stash changed since it was read")
	// ErrBusy means another commit for the same party held the lock for
	// longer than we were willing to wait.
	ErrBusy              = errors.New("ledger: party stash is busy")
	ErrCharacterNotFound = errors.New("ledger: character not found")
	ErrInvalidPlan       = errors.New("ledger: invalid plan")
)

// OpKind selects what a StashOp does.
type OpKind int

const (
	// OpCredit adds to the row with the op's stack key, creating it if needed.
	OpCredit OpKind = iota + 1
	// OpDebit subtracts from a row by id and deletes it at zero.
	OpDebit
	// OpRemove deletes a row by id, provided it still holds Qty.
	OpRemove
)

// StashOp is one row mutation on the party stash.
type StashOp struct {
	Kind        OpKind
	EntryID     int64
	Name        string
	Description string
	Category    string
	Qty         int
}

// Credit adds qty to the stack identified by name and description.
func Credit(name, description, category string, qty int) StashOp {
	return StashOp{Kind: OpCredit, Name: name, Description: description, Category: category, Qty: qty}
}

// Debit takes qty from an existing entry.
func Debit(entryID int64, qty int) StashOp {
	return StashOp{Kind: OpDebit, EntryID: entryID, Qty: qty}
}

// Remove deletes an entry that currently holds exactly qty.
func Remove(entryID int64, qty int) StashOp {
	return StashOp{Kind: OpRemove, EntryID: entryID, Qty: qty}
}

// ItemOp credits (Qty > 0) or debits (Qty < 0) a character inventory stack.
// Debits match ItemID first and fall back to the name for legacy rows
// stored without an id. Credits match StackKey when set, otherwise the key
// of Name and Description; Description and Category only fill a new item.
type ItemOp struct {
	ItemID      string
	StackKey    string
	Name        string
	Description string
	Category    string
	Qty         int
}

// CreditItem adds qty to the character's stack for name and description.
func CreditItem(name, description, category string, qty int) ItemOp {
	return ItemOp{Name: name, Description: description, Category: category, Qty: qty}
}

// StackingOn makes a credit match existing items on key instead of its own
// name and description.
func (op ItemOp) StackingOn(key string) ItemOp {
	op.StackKey = key
	return op
}

func (op ItemOp) matchKey() string {
	if op.StackKey != "" {
		return op.StackKey
	}
	return stack.Key(op.Name, op.Description)
}

// DebitItem takes qty from the character's item.
func DebitItem(itemID, name string, qty int) ItemOp {
	return ItemOp{ItemID: itemID, Name: name, Qty: -qty}
}

// CharacterOp is the character-record half of a transfer.
type CharacterOp struct {
	CharacterID int64
	Money       currency.Purse // signed delta
	Items       []ItemOp
}

// Plan is every write of one logical operation.
type Plan struct {
	Stash     []StashOp
	Character *CharacterOp
	// Logs are appended after the transaction commits, best effort.
	Logs []model.StashLog
}

// Empty reports whether the plan writes nothing.
func (p Plan) Empty() bool {
	return len(p.Stash) == 0 && p.Character == nil && len(p.Logs) == 0
}

func (p Plan) validate() error {
	for _, op := range p.Stash {
		switch op.Kind {
		case OpCredit:
			if op.Qty <= 0 || op.Name == "" {
				return ErrInvalidPlan
			}
		case OpDebit, OpRemove:
			if op.EntryID <= 0 || op.Qty < 0 || (op.Kind == OpDebit && op.Qty == 0) {
				return ErrInvalidPlan
			}
		default:
			return ErrInvalidPlan
		}
	}
	if c := p.Character; c != nil {
		if c.CharacterID <= 0 {
			return ErrInvalidPlan
		}
		for _, it := range c.Items {
			if it.Qty == 0 || (it.ItemID == "" && it.Name == "") {
				return ErrInvalidPlan
			}
		}
	}
	return nil
}
