package domain

import "github.com/shopspring/decimal"

// Variant: продаваемый вариант товара в том виде, в котором его отдаёт каталог.
type Variant struct {
	VariantID    int64
	ProductID    int64
	Title        string
	SKU          string
	Size         string
	Color        string
	UnitPrice    decimal.Decimal
	Active       bool
	ProductState string
}

// Sellable: вариант активен и товар опубликован.
func (v Variant) Sellable() bool {
	return v.Active && v.ProductState == ProductStateActive
}

// ProductStateActive: товар опубликован в витрине.
const ProductStateActive = "active"
