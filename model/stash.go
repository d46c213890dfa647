package model

import (
	"time"

	"github.com/kasuganosora/partystash/stack"
)

// StashEntry is one stacked row of a party's shared stash.
// (party_id, stack_key) is unique: stacking merges, it never duplicates.
type StashEntry struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyID     int64     `gorm:"uniqueIndex:idx_stash_party_key,priority:1;not null" json:"party_id"`
	StackKey    string    `gorm:"uniqueIndex:idx_stash_party_key,priority:2;size:255;not null" json:"-"`
	Name        string    `gorm:"size:128;not null" json:"name"`
	Quantity    int       `gorm:"not null;default:0" json:"quantity"`
	Description string    `gorm:"type:text" json:"description,omitempty"`
	Category    string    `gorm:"size:64" json:"category,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Key recomputes the entry's stack key from its name and description.
func (e *StashEntry) Key() string {
	return stack.Key(e.Name, e.Description)
}

// Log endpoint types.
const (
	EndpointParty     = "party"
	EndpointCharacter = "character"
	EndpointVoid      = "void"
)

// Well-known endpoint IDs that are not row IDs.
const (
	EndpointIDDM       = "DM"
	EndpointIDSold     = "sold"
	EndpointIDMerchant = "merchant"
)

// StashLog is one append-only movement record between the stash and a
// participant. It is an audit trail, never replayed into stash state.
type StashLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	PartyID   int64     `gorm:"index:idx_stash_log_party;not null" json:"party_id"`
	ItemName  string    `gorm:"size:255;not null" json:"item_name"`
	Quantity  int       `gorm:"not null" json:"quantity"`
	FromType  string    `gorm:"size:16;not null" json:"from_type"`
	FromID    string    `gorm:"size:64" json:"from_id"`
	ToType    string    `gorm:"size:16;not null" json:"to_type"`
	ToID      string    `gorm:"size:64" json:"to_id"`
	CreatedAt time.Time `gorm:"index:idx_stash_log_created;autoCreateTime:milli" json:"timestamp"`
}
