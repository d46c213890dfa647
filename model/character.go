package model

import (
	"time"

	"github.com/kasuganosora/partystash/currency"
	"github.com/kasuganosora/partystash/stack"
	"gorm.io/datatypes"
)

// Character is a party member's record. Only the equipment part is touched
// by the stash; the rest of the sheet lives elsewhere.
type Character struct {
	ID        int64                         `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyID   int64                         `gorm:"index:idx_char_party;not null" json:"party_id"`
	Name      string                        `gorm:"size:64;not null" json:"name"`
	Equipment datatypes.JSONType[Equipment] `json:"equipment"`
	Version   int64                         `gorm:"not null;default:0" json:"version"` // bumped on every equipment write
	CreatedAt time.Time                     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time                     `gorm:"autoUpdateTime" json:"updated_at"`
}

// Equipment is the JSON document holding a character's coins and bag.
type Equipment struct {
	Money     currency.Purse  `json:"money"`
	Inventory []InventoryItem `json:"inventory"`
}

// InventoryItem is one stack in a character's personal inventory.
// Legacy rows may lack an ID; their name may arrive in any JSON shape.
type InventoryItem struct {
	ID          string     `json:"id,omitempty"`
	Name        stack.Name `json:"name"`
	Quantity    int        `json:"quantity"`
	Category    string     `json:"category,omitempty"`
	Description string     `json:"description,omitempty"`
}

// StackKey is the item's grouping key.
func (it InventoryItem) StackKey() string {
	return stack.Key(it.Name.String(), it.Description)
}

// Gear returns a copy of the equipment document.
func (c *Character) Gear() Equipment {
	eq := c.Equipment.Data()
	eq.Inventory = append([]InventoryItem(nil), eq.Inventory...)
	return eq
}

// SetGear replaces the equipment document.
func (c *Character) SetGear(eq Equipment) {
	c.Equipment = datatypes.NewJSONType(eq)
}
