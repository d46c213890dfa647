package model

import "time"

// CatalogItem is a canonical item definition. Custom items are authored by
// the DM during loot assignment.
type CatalogItem struct {
	ID          int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Name        string    `gorm:"index:idx_catalog_name;size:128;not null" json:"name"`
	Category    string    `gorm:"size:64" json:"category"`
	Cost        string    `gorm:"size:64" json:"cost"`
	Weight      string    `gorm:"size:32" json:"weight"`
	Effect      string    `gorm:"type:text" json:"effect"`
	Description string    `gorm:"type:text" json:"description"`
	IsCustom    bool      `gorm:"default:false" json:"is_custom"`
	Damage      string    `gorm:"size:64" json:"damage,omitempty"`
	DamageType  string    `gorm:"size:32" json:"damage_type,omitempty"`
	ArmorClass  string    `gorm:"size:32" json:"armor_class,omitempty"`
	Properties  string    `gorm:"size:255" json:"properties,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// Flavor is the text used as the stack key's description component.
func (c *CatalogItem) Flavor() string {
	if c.Effect != "" {
		return c.Effect
	}
	return c.Description
}
