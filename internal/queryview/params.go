package queryview

import "github.com/roach88/replica/internal/model"

// Derived product statuses computed from default-variant stock.
const (
	StatusLowStock   = "low_stock"
	StatusOutOfStock = "out_of_stock"
)

// DefaultLowStockThreshold is the stock count at or below which a product is
// low on stock.
const DefaultLowStockThreshold = 10

// Params selects and pages one kind's records. Params is comparable and is
// used directly as a memo key.
type Params struct {
	Kind       model.Kind
	Search     string
	Status     string
	CategoryID string

	// SortBy is empty to keep list order, or one of "name", "price", "stock".
	SortBy string
	Desc   bool

	// Cursor is the offset of the first row; Limit <= 0 returns every row.
	Cursor int
	Limit  int

	// LowStockThreshold overrides DefaultLowStockThreshold when positive.
	LowStockThreshold int64
}

func (p Params) threshold() int64 {
	if p.LowStockThreshold > 0 {
		return p.LowStockThreshold
	}
	return DefaultLowStockThreshold
}
