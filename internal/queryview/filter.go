package queryview

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"

	"github.com/roach88/replica/internal/model"
)

// Predicate decides whether a record belongs in the view.
type Predicate func(model.Record) bool

// folder lowers text for caseless matching. A cases.Caser is stateful, so
// each projection builds its own.
type folder struct {
	c cases.Caser
}

func newFolder() *folder {
	return &folder{c: cases.Fold()}
}

func (f *folder) fold(s string) string {
	return f.c.String(norm.NFC.String(s))
}

// SearchPredicate matches a case-insensitive substring of any search field
// (name and SKU for products). An empty term matches everything.
func SearchPredicate(term string) Predicate {
	if strings.TrimSpace(term) == "" {
		return nil
	}
	f := newFolder()
	needle := f.fold(strings.TrimSpace(term))
	return func(r model.Record) bool {
		s, ok := r.Payload.(model.Searchable)
		if !ok {
			return false
		}
		for _, field := range s.SearchText() {
			if field != "" && strings.Contains(f.fold(field), needle) {
				return true
			}
		}
		return false
	}
}

// StatusPredicate matches the status a row displays, so a filter and
// StatusCounts always agree: a low-stock active product matches
// "low_stock", not "active".
func StatusPredicate(status string, threshold int64) Predicate {
	if status == "" {
		return nil
	}
	return func(r model.Record) bool {
		return DisplayStatus(r.Payload, threshold) == status
	}
}

// CategoryPredicate matches records referencing categoryID.
func CategoryPredicate(categoryID string) Predicate {
	if categoryID == "" {
		return nil
	}
	return func(r model.Record) bool {
		c, ok := r.Payload.(model.Categorized)
		return ok && c.CategoryRef() == categoryID
	}
}

// StockStatus returns "out_of_stock" when a product's default variant has no
// stock, "low_stock" when it has threshold units or fewer, and "" otherwise
// (including for payloads without stock).
func StockStatus(p model.Payload, threshold int64) string {
	prod, ok := p.(model.Product)
	if !ok {
		return ""
	}
	stock, ok := prod.Stock()
	if !ok {
		return ""
	}
	switch {
	case stock <= 0:
		return StatusOutOfStock
	case stock <= threshold:
		return StatusLowStock
	}
	return ""
}

// DisplayStatus is the status a row shows: the derived stock status when
// there is one, else the payload's own status.
func DisplayStatus(p model.Payload, threshold int64) string {
	if s := StockStatus(p, threshold); s != "" {
		return s
	}
	if s, ok := p.(model.Statused); ok {
		return s.StatusValue()
	}
	return ""
}

// all combines predicates conjunctively, skipping nil entries.
func all(preds ...Predicate) Predicate {
	var active []Predicate
	for _, p := range preds {
		if p != nil {
			active = append(active, p)
		}
	}
	return func(r model.Record) bool {
		for _, p := range active {
			if !p(r) {
				return false
			}
		}
		return true
	}
}
