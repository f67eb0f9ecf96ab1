package model

// RefData is locally cached reference data used to fill server-joined
// fields on optimistic records.
type RefData interface {
	CategoryName(id string) (string, bool)
	ProductName(id string) (string, bool)
}

// Catalog is a map-backed RefData.
type Catalog struct {
	Categories map[string]string
	Products   map[string]string
}

func (c Catalog) CategoryName(id string) (string, bool) {
	name, ok := c.Categories[id]
	return name, ok
}

func (c Catalog) ProductName(id string) (string, bool) {
	name, ok := c.Products[id]
	return name, ok
}

// FillJoins fills joined display fields from ref where the payload carries
// the reference but not the display value. Fields with no cached value are
// left empty.
func FillJoins(p Payload, ref RefData) Payload {
	if ref == nil {
		return p
	}
	switch v := p.(type) {
	case Product:
		if v.CategoryID != "" && v.CategoryName == "" {
			if name, ok := ref.CategoryName(v.CategoryID); ok {
				v.CategoryName = name
			}
		}
		return v
	case FAQQuestion:
		if v.ProductID != "" && v.ProductName == "" {
			if name, ok := ref.ProductName(v.ProductID); ok {
				v.ProductName = name
			}
		}
		return v
	}
	return p
}

// RefreshJoins clears joined display fields whose reference patch changed
// and refills them from ref. A patch that sets the display field itself
// keeps that value.
func RefreshJoins(p Payload, patch Patch, ref RefData) Payload {
	switch v := p.(type) {
	case Product:
		_, changed := patch["category_id"]
		_, disp := patch["category_name"]
		if changed && !disp {
			v.CategoryName = ""
		}
		p = v
	case FAQQuestion:
		_, changed := patch["product_id"]
		_, disp := patch["product_name"]
		if changed && !disp {
			v.ProductName = ""
		}
		p = v
	}
	return FillJoins(p, ref)
}
