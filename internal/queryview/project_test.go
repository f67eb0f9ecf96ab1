package queryview

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/replica/internal/model"
	"github.com/roach88/replica/internal/objectstore"
)

func product(name, sku, category string, price, stock int64) model.Product {
	return model.Product{
		Name:       name,
		SKU:        sku,
		Status:     model.ProductActive,
		CategoryID: category,
		PriceCents: price,
		Variants:   []model.Variant{{Stock: stock, IsDefault: true}},
	}
}

// catalogue stores five products in server order.
func catalogue(t *testing.T) *objectstore.Store {
	t.Helper()
	s := objectstore.New()
	items := []model.Product{
		product("Claw Hammer", "HAM-001", "cat_tools", 1899, 42),
		product("Pruning Shears", "PRU-014", "cat_garden", 2450, 7),
		product("Cast Iron Skillet", "SKL-200", "cat_kitchen", 3900, 0),
		product("Garden Trowel", "TRW-003", "cat_garden", 990, 15),
		product("Chef's Knife", "KNF-080", "cat_kitchen", 5400, 3),
	}
	for i, p := range items {
		s.Upsert(model.Final("prod_"+string(rune('1'+i))), p, 1)
	}
	return s
}

func names(vm ViewModel) []string {
	out := make([]string, len(vm.Rows))
	for i, r := range vm.Rows {
		out[i] = r.Payload.(model.Product).Name
	}
	return out
}

func TestProject_ListOrder(t *testing.T) {
	vm := Project(catalogue(t).Snapshot(), Params{Kind: model.KindProduct})

	assert.Equal(t, []string{"Claw Hammer", "Pruning Shears", "Cast Iron Skillet", "Garden Trowel", "Chef's Knife"}, names(vm))
	assert.Equal(t, 5, vm.Total)
	assert.Equal(t, -1, vm.NextCursor)
	assert.Equal(t, map[string]int{"active": 2, "low_stock": 2, "out_of_stock": 1}, vm.StatusCounts)
}

func TestProject_Filters(t *testing.T) {
	snap := catalogue(t).Snapshot()

	tests := []struct {
		name   string
		params Params
		want   []string
	}{
		{"search name", Params{Search: "GARDEN"}, []string{"Garden Trowel"}},
		{"search sku", Params{Search: "knf"}, []string{"Chef's Knife"}},
		{"blank search", Params{Search: "   "}, []string{"Claw Hammer", "Pruning Shears", "Cast Iron Skillet", "Garden Trowel", "Chef's Knife"}},
		{"low stock", Params{Status: StatusLowStock}, []string{"Pruning Shears", "Chef's Knife"}},
		{"out of stock", Params{Status: StatusOutOfStock}, []string{"Cast Iron Skillet"}},
		{"threshold", Params{Status: StatusLowStock, LowStockThreshold: 20}, []string{"Pruning Shears", "Garden Trowel", "Chef's Knife"}},
		{"own status", Params{Status: model.ProductActive}, []string{"Claw Hammer", "Garden Trowel"}},
		{"absent status", Params{Status: model.ProductDraft}, nil},
		{"category", Params{CategoryID: "cat_garden"}, []string{"Pruning Shears", "Garden Trowel"}},
		{"combined", Params{CategoryID: "cat_kitchen", Status: StatusLowStock}, []string{"Chef's Knife"}},
		{"no match", Params{Search: "anvil"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.params.Kind = model.KindProduct
			vm := Project(snap, tt.params)
			if tt.want == nil {
				assert.Empty(t, vm.Rows)
				return
			}
			assert.Equal(t, tt.want, names(vm))
		})
	}
}

func TestProject_StatusFilterAgreesWithCounts(t *testing.T) {
	snap := catalogue(t).Snapshot()
	all := Project(snap, Params{Kind: model.KindProduct})

	for status, n := range all.StatusCounts {
		vm := Project(snap, Params{Kind: model.KindProduct, Status: status})
		assert.Len(t, vm.Rows, n, "status %s", status)
		for _, row := range vm.Rows {
			assert.Equal(t, status, row.DisplayStatus)
		}
	}
}

func TestProject_Sort(t *testing.T) {
	snap := catalogue(t).Snapshot()

	vm := Project(snap, Params{Kind: model.KindProduct, SortBy: "price"})
	assert.Equal(t, []string{"Garden Trowel", "Claw Hammer", "Pruning Shears", "Cast Iron Skillet", "Chef's Knife"}, names(vm))

	vm = Project(snap, Params{Kind: model.KindProduct, SortBy: "stock", Desc: true})
	assert.Equal(t, []string{"Claw Hammer", "Garden Trowel", "Pruning Shears", "Chef's Knife", "Cast Iron Skillet"}, names(vm))

	vm = Project(snap, Params{Kind: model.KindProduct, SortBy: "name"})
	assert.Equal(t, []string{"Cast Iron Skillet", "Chef's Knife", "Claw Hammer", "Garden Trowel", "Pruning Shears"}, names(vm))
}

func TestProject_Paging(t *testing.T) {
	snap := catalogue(t).Snapshot()

	first := Project(snap, Params{Kind: model.KindProduct, Limit: 2})
	assert.Equal(t, []string{"Claw Hammer", "Pruning Shears"}, names(first))
	assert.Equal(t, 2, first.NextCursor)
	assert.Equal(t, 5, first.Total)

	second := Project(snap, Params{Kind: model.KindProduct, Limit: 2, Cursor: first.NextCursor})
	assert.Equal(t, []string{"Cast Iron Skillet", "Garden Trowel"}, names(second))
	assert.Equal(t, 4, second.NextCursor)

	last := Project(snap, Params{Kind: model.KindProduct, Limit: 2, Cursor: second.NextCursor})
	assert.Equal(t, []string{"Chef's Knife"}, names(last))
	assert.Equal(t, -1, last.NextCursor)

	past := Project(snap, Params{Kind: model.KindProduct, Limit: 2, Cursor: 99})
	assert.Empty(t, past.Rows)
	assert.Equal(t, -1, past.NextCursor)
}

func TestProject_PendingAndQuarantined(t *testing.T) {
	s := catalogue(t)
	tmp := model.Provisional("tmp-1")
	_, err := s.Put(model.Record{Identity: tmp, Payload: product("Mallet", "MAL-1", "cat_tools", 1500, 12), Pending: model.PendingCreating})
	require.NoError(t, err)
	_, err = s.Quarantine(model.Final("prod_1"))
	require.NoError(t, err)

	vm := Project(s.Snapshot(), Params{Kind: model.KindProduct, CategoryID: "cat_tools"})
	require.Len(t, vm.Rows, 2)
	assert.True(t, vm.Rows[0].Quarantined)
	assert.Equal(t, tmp, vm.Rows[1].Identity)
	assert.Equal(t, model.PendingCreating, vm.Rows[1].Pending)
}

func TestProject_Deterministic(t *testing.T) {
	s := catalogue(t)
	params := Params{Kind: model.KindProduct, Status: StatusLowStock}

	a := Project(s.Snapshot(), params)
	b := Project(s.Snapshot(), params)
	assert.True(t, a.Equal(b))

	s.Upsert(model.Final("prod_2"), product("Pruning Shears", "PRU-014", "cat_garden", 2450, 6), 2)
	c := Project(s.Snapshot(), params)
	assert.False(t, a.Equal(c))
}

func TestMemo(t *testing.T) {
	s := catalogue(t)
	var m Memo
	params := Params{Kind: model.KindProduct, Limit: 2}

	snap := s.Snapshot()
	first := m.Project(snap, params)
	again := m.Project(snap, params)
	assert.Same(t, &first.Rows[0], &again.Rows[0], "same snapshot and params reuse the projection")

	other := m.Project(snap, Params{Kind: model.KindProduct, Limit: 3})
	assert.Len(t, other.Rows, 3)

	s.Remove(model.Final("prod_1"))
	fresh := m.Project(s.Snapshot(), params)
	assert.Equal(t, "Pruning Shears", fresh.Rows[0].Payload.(model.Product).Name)
}

func TestStockStatus(t *testing.T) {
	assert.Equal(t, StatusOutOfStock, StockStatus(product("x", "", "", 0, 0), 10))
	assert.Equal(t, StatusLowStock, StockStatus(product("x", "", "", 0, 10), 10))
	assert.Equal(t, "", StockStatus(product("x", "", "", 0, 11), 10))
	assert.Equal(t, "", StockStatus(model.Product{Name: "no variants"}, 10))
	assert.Equal(t, "", StockStatus(model.FAQAnswer{}, 10))

	assert.Equal(t, model.OrderPaid, DisplayStatus(model.SellerOrder{Status: model.OrderPaid}, 10))
	assert.Equal(t, "", DisplayStatus(model.FAQAnswer{}, 10))
}

func TestSearch_CaseFolding(t *testing.T) {
	s := objectstore.New()
	s.Upsert(model.Final("q1"), model.FAQQuestion{ProductID: "p", Question: "Is the STRASSE sign included?"}, 1)

	vm := Project(s.Snapshot(), Params{Kind: model.KindFAQQuestion, Search: "straße"})
	assert.Len(t, vm.Rows, 1)
}
