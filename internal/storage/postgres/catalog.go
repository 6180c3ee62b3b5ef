package postgres

import (
	"context"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// GetVariants читает варианты вне транзакции оформления: каталог в ней не меняется.
func (s *Store) GetVariants(ctx context.Context, variantIDs []int64) (map[int64]domain.Variant, error) {
	result := make(map[int64]domain.Variant, len(variantIDs))
	if len(variantIDs) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT v.id, v.product_id, p.title, v.sku, v.size, v.color, v.price, v.active, p.state
		FROM product_variants v
		JOIN products p ON p.id = v.product_id
		WHERE v.id = ANY($1)
	`, variantIDs)
	if err != nil {
		return nil, fmt.Errorf("select variants: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var v domain.Variant
		if err := rows.Scan(&v.VariantID, &v.ProductID, &v.Title, &v.SKU, &v.Size, &v.Color, &v.UnitPrice, &v.Active, &v.ProductState); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		result[v.VariantID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return result, nil
}
