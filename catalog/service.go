// Package catalog holds canonical item definitions that loot can be drawn
// from, plus the DM's custom items.
package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrNameRequired = errors.New("catalog: item name is required")
	ErrNotFound     = errors.New("catalog: item not found")
)

// Service reads and writes catalog items.
type Service struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewService creates a catalog Service.
func NewService(db *gorm.DB, logger *zap.Logger) *Service {
	return &Service{db: db, logger: logger}
}

// List returns every catalog item ordered by name.
func (s *Service) List(ctx context.Context) ([]model.CatalogItem, error) {
	var items []model.CatalogItem
	err := s.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&items).Error
	return items, err
}

// Create stores a DM-authored item. The result is always marked custom.
func (s *Service) Create(ctx context.Context, item model.CatalogItem) (*model.CatalogItem, error) {
	item.Name = strings.TrimSpace(item.Name)
	if item.Name == "" {
		return nil, ErrNameRequired
	}
	item.ID = 0
	item.IsCustom = true
	if err := s.db.WithContext(ctx).Create(&item).Error; err != nil {
		return nil, err
	}
	s.logger.Info("custom catalog item created", zap.Int64("id", item.ID), zap.String("name", item.Name))
	return &item, nil
}

// FindByName returns the item whose name matches ignoring case and
// surrounding space. Canonical items win over custom ones with the same name.
func (s *Service) FindByName(ctx context.Context, name string) (*model.CatalogItem, error) {
	want := stack.Normalize(name)
	if want == "" {
		return nil, ErrNotFound
	}
	var item model.CatalogItem
	err := s.db.WithContext(ctx).
		Where("LOWER(TRIM(name)) = ?", want).
		Order("is_custom ASC").Order("id ASC").
		First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// Get returns one item by id.
func (s *Service) Get(ctx context.Context, id int64) (*model.CatalogItem, error) {
	var item model.CatalogItem
	err := s.db.WithContext(ctx).First(&item, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}
