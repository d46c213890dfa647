package ledger

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
)

// FindItem locates a character inventory item by id, or, failing that, by
// normalized name among legacy rows that have no id. It returns -1 when
// nothing matches.
func FindItem(inv []model.InventoryItem, itemID, name string) int {
	if itemID != "" {
		for i := range inv {
			if inv[i].ID == itemID {
				return i
			}
		}
	}
	if name == "" {
		return -1
	}
	want := stack.Normalize(name)
	for i := range inv {
		if inv[i].ID == "" && stack.Normalize(inv[i].Name.String()) == want {
			return i
		}
	}
	return -1
}

// Available is the usable count of an inventory row. Legacy rows stored
// without a quantity count as one.
func Available(it model.InventoryItem) int {
	if it.Quantity <= 0 {
		return 1
	}
	return it.Quantity
}

// applyItemOp returns the inventory with op applied.
func applyItemOp(inv []model.InventoryItem, op ItemOp) ([]model.InventoryItem, error) {
	if op.Qty > 0 {
		key := op.matchKey()
		for i := range inv {
			if inv[i].StackKey() == key {
				inv[i].Quantity = Available(inv[i]) + op.Qty
				return inv, nil
			}
		}
		return append(inv, model.InventoryItem{
			ID:          uuid.NewString(),
			Name:        stack.Name(op.Name),
			Quantity:    op.Qty,
			Category:    op.Category,
			Description: op.Description,
		}), nil
	}

	n := -op.Qty
	i := FindItem(inv, op.ItemID, op.Name)
	if i < 0 {
		return inv, fmt.Errorf("%w: character no longer holds %q", ErrStale, op.Name)
	}
	have := Available(inv[i])
	if have < n {
		return inv, fmt.Errorf("%w: character holds %d of %q, need %d", ErrStale, have, inv[i].Name, n)
	}
	if have == n {
		return append(inv[:i:i], inv[i+1:]...), nil
	}
	inv[i].Quantity = have - n
	return inv, nil
}
