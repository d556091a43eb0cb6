package patterns

import (
	"context"

	"github.com/miradorstack/mirador-modelwatch/internal/models"
)

// StoreFunc adapts a function to the Store interface.
type StoreFunc func(ctx context.Context, patterns []models.AlertPattern) error

// StorePatterns implements Store.
func (f StoreFunc) StorePatterns(ctx context.Context, patterns []models.AlertPattern) error {
	return f(ctx, patterns)
}
