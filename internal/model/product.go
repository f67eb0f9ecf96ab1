package model

import "fmt"

// Product statuses as stored by the server.
const (
	ProductActive   = "active"
	ProductDraft    = "draft"
	ProductArchived = "archived"
)

// Product is a catalogue entry owned by the seller.
type Product struct {
	Name         string    `json:"name,omitempty"`
	SKU          string    `json:"sku,omitempty"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status,omitempty"`
	CategoryID   string    `json:"category_id,omitempty"`
	CategoryName string    `json:"category_name,omitempty"` // joined by the server
	PriceCents   int64     `json:"price_cents,omitempty"`
	Variants     []Variant `json:"variants,omitempty"`
	Images       []string  `json:"images,omitempty"`
}

// Variant is one purchasable configuration of a product.
type Variant struct {
	ID         string `json:"id,omitempty"`
	Name       string `json:"name,omitempty"`
	SKU        string `json:"sku,omitempty"`
	Stock      int64  `json:"stock"`
	PriceCents int64  `json:"price_cents,omitempty"`
	IsDefault  bool   `json:"is_default,omitempty"`
}

func (Product) Kind() Kind { return KindProduct }

// Validate requires a name and non-negative prices and stock.
func (p Product) Validate() error {
	if p.Name == "" {
		return invalid(KindProduct, "name is required")
	}
	if p.PriceCents < 0 {
		return invalid(KindProduct, "price_cents must not be negative")
	}
	switch p.Status {
	case "", ProductActive, ProductDraft, ProductArchived:
	default:
		return invalid(KindProduct, "unknown status %q", p.Status)
	}
	for i, v := range p.Variants {
		if v.Stock < 0 {
			return invalid(KindProduct, "variants[%d].stock must not be negative", i)
		}
		if v.PriceCents < 0 {
			return invalid(KindProduct, "variants[%d].price_cents must not be negative", i)
		}
	}
	return nil
}

// DefaultVariant returns the variant flagged as default, or the first one.
func (p Product) DefaultVariant() (Variant, bool) {
	for _, v := range p.Variants {
		if v.IsDefault {
			return v, true
		}
	}
	if len(p.Variants) > 0 {
		return p.Variants[0], true
	}
	return Variant{}, false
}

// Stock returns the default variant's stock count.
func (p Product) Stock() (int64, bool) {
	v, ok := p.DefaultVariant()
	return v.Stock, ok
}

// WithStock returns a copy of p whose default variant carries n units. A
// default variant is added when the product has none.
func (p Product) WithStock(n int64) Product {
	variants := make([]Variant, len(p.Variants))
	copy(variants, p.Variants)

	idx := -1
	for i, v := range variants {
		if v.IsDefault {
			idx = i
			break
		}
	}
	if idx < 0 && len(variants) > 0 {
		idx = 0
	}
	if idx < 0 {
		variants = append(variants, Variant{Name: "Default", SKU: p.SKU, IsDefault: true})
		idx = 0
	}
	variants[idx].Stock = n
	p.Variants = variants
	return p
}

func (p Product) SearchText() []string {
	out := []string{p.Name, p.SKU}
	for _, v := range p.Variants {
		if v.SKU != "" {
			out = append(out, v.SKU)
		}
	}
	return out
}

func (p Product) StatusValue() string { return p.Status }

func (p Product) CategoryRef() string { return p.CategoryID }

// "stock" addresses the default variant rather than a struct field.
func (Product) isVirtual(field string) bool { return field == "stock" }

func (p Product) applyVirtual(field string, v Value) (Payload, error) {
	n, ok := v.(Int)
	if !ok {
		return nil, fmt.Errorf("%s must be an integer, got %T", field, v)
	}
	return p.WithStock(int64(n)), nil
}
