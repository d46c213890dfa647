package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/kasuganosora/partystash/model"
	"github.com/kasuganosora/partystash/stack"
	"go.uber.org/zap"
)

// Seed loads a JSON array of catalog items from path and inserts those whose
// name is not in the catalog yet. It returns how many were inserted.
func (s *Service) Seed(ctx context.Context, path string) (int, error) {
	items, err := loadJSONArray[model.CatalogItem](path)
	if err != nil {
		return 0, err
	}

	var names []string
	if err := s.db.WithContext(ctx).Model(&model.CatalogItem{}).Pluck("name", &names).Error; err != nil {
		return 0, err
	}
	have := make(map[string]bool, len(names))
	for _, n := range names {
		have[stack.Normalize(n)] = true
	}

	var fresh []model.CatalogItem
	for _, it := range items {
		it.Name = strings.TrimSpace(it.Name)
		key := stack.Normalize(it.Name)
		if key == "" || have[key] {
			continue
		}
		have[key] = true
		it.ID = 0
		it.IsCustom = false
		fresh = append(fresh, *it)
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if err := s.db.WithContext(ctx).CreateInBatches(fresh, 100).Error; err != nil {
		return 0, fmt.Errorf("catalog: seed: %w", err)
	}
	s.logger.Info("catalog seeded", zap.String("path", path), zap.Int("inserted", len(fresh)))
	return len(fresh), nil
}

func loadJSONArray[T any](path string) ([]*T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	var arr []*T
	if err := json.Unmarshal(data, &arr); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := arr[:0]
	for _, v := range arr {
		if v != nil {
			out = append(out, v)
		}
	}
	return out, nil
}
