package sqlremote

import (
	"context"
	"fmt"

	"github.com/roach88/replica/internal/model"
)

// PutCategory inserts or renames a category.
func (s *Server) PutCategory(ctx context.Context, id, name string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name) VALUES (?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name
	`, id, name)
	if err != nil {
		return fmt.Errorf("put category %s: %w", id, err)
	}
	return nil
}

// Catalog returns the reference data a client caches to fill joined fields
// of optimistic records.
func (s *Server) Catalog(ctx context.Context) (model.Catalog, error) {
	cat := model.Catalog{
		Categories: make(map[string]string),
		Products:   make(map[string]string),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, name FROM categories ORDER BY id`)
	if err != nil {
		return model.Catalog{}, fmt.Errorf("read categories: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return model.Catalog{}, fmt.Errorf("read categories: %w", err)
		}
		cat.Categories[id] = name
	}
	if err := rows.Err(); err != nil {
		return model.Catalog{}, fmt.Errorf("read categories: %w", err)
	}

	prows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(json_extract(payload, '$.name'), '') FROM records
		WHERE kind = ? ORDER BY id
	`, string(model.KindProduct))
	if err != nil {
		return model.Catalog{}, fmt.Errorf("read product names: %w", err)
	}
	defer prows.Close()
	for prows.Next() {
		var id, name string
		if err := prows.Scan(&id, &name); err != nil {
			return model.Catalog{}, fmt.Errorf("read product names: %w", err)
		}
		cat.Products[id] = name
	}
	if err := prows.Err(); err != nil {
		return model.Catalog{}, fmt.Errorf("read product names: %w", err)
	}
	return cat, nil
}

// Seed fills an empty database with a small demo catalogue. It is a no-op
// when records already exist. It returns the number of records created.
func (s *Server) Seed(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}
	if n > 0 {
		return 0, nil
	}

	categories := [][2]string{
		{"cat_tools", "Tools"},
		{"cat_garden", "Garden"},
		{"cat_kitchen", "Kitchen"},
	}
	for _, c := range categories {
		if err := s.PutCategory(ctx, c[0], c[1]); err != nil {
			return 0, err
		}
	}

	products := []model.Product{
		demoProduct("Claw Hammer", "HAM-001", "cat_tools", 1899, 42),
		demoProduct("Pruning Shears", "PRU-014", "cat_garden", 2450, 7),
		demoProduct("Cast Iron Skillet", "SKL-200", "cat_kitchen", 3900, 0),
		demoProduct("Garden Trowel", "TRW-003", "cat_garden", 990, 15),
		demoProduct("Chef's Knife", "KNF-080", "cat_kitchen", 5400, 3),
	}
	created := 0
	var first string
	for _, p := range products {
		res, err := s.Create(ctx, model.KindProduct, p)
		if err != nil {
			return created, fmt.Errorf("seed product %q: %w", p.Name, err)
		}
		if first == "" {
			first = res.Identity.ID()
		}
		created++
	}

	order := model.SellerOrder{
		BuyerName: "Ada Lovelace",
		Items:     []model.OrderItem{{ProductID: first, Quantity: 2, UnitPriceCents: 1899}},
	}
	if _, err := s.Create(ctx, model.KindSellerOrder, order); err != nil {
		return created, fmt.Errorf("seed order: %w", err)
	}
	created++

	q, err := s.Create(ctx, model.KindFAQQuestion, model.FAQQuestion{
		ProductID: first,
		Question:  "Is the handle fibreglass or wood?",
		AskerName: "Grace",
	})
	if err != nil {
		return created, fmt.Errorf("seed question: %w", err)
	}
	created++

	if _, err := s.Create(ctx, model.KindFAQAnswer, model.FAQAnswer{
		QuestionID: q.Identity.ID(),
		Body:       "Fibreglass, with a rubber grip.",
		AuthorName: "Seller",
	}); err != nil {
		return created, fmt.Errorf("seed answer: %w", err)
	}
	created++
	return created, nil
}

func demoProduct(name, sku, category string, price, stock int64) model.Product {
	return model.Product{
		Name:       name,
		SKU:        sku,
		Status:     model.ProductActive,
		CategoryID: category,
		PriceCents: price,
		Variants:   []model.Variant{{Name: "Default", SKU: sku, Stock: stock, IsDefault: true}},
	}
}
