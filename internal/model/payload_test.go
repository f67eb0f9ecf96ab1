package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, k := range Kinds {
		got, err := ParseKind(string(k))
		require.NoError(t, err)
		assert.Equal(t, k, got)

		p, err := NewPayload(k)
		require.NoError(t, err)
		assert.Equal(t, k, p.Kind())
	}

	_, err := ParseKind("widget")
	require.Error(t, err)
	_, err = NewPayload("widget")
	require.Error(t, err)
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload(KindProduct, []byte(`{"name":"Hammer","variants":[{"stock":3,"is_default":true}]}`))
	require.NoError(t, err)
	prod := p.(Product)
	assert.Equal(t, "Hammer", prod.Name)
	stock, ok := prod.Stock()
	assert.True(t, ok)
	assert.Equal(t, int64(3), stock)

	_, err = DecodePayload(KindProduct, []byte(`{"colour":"red"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown field")

	_, err = DecodePayload("widget", []byte(`{}`))
	require.Error(t, err)
}

func TestApply(t *testing.T) {
	base := Product{Name: "Hammer", SKU: "H-1", Description: "steel"}

	got, err := Apply(base, Patch{"name": String("Claw Hammer"), "description": Null{}})
	require.NoError(t, err)
	assert.Equal(t, Product{Name: "Claw Hammer", SKU: "H-1"}, got)
	assert.Equal(t, "Hammer", base.Name, "input is not modified")

	same, err := Apply(base, nil)
	require.NoError(t, err)
	assert.Equal(t, base, same)

	_, err = Apply(base, Patch{"colour": String("red")})
	require.Error(t, err)
}

func TestApply_Stock(t *testing.T) {
	got, err := Apply(Product{Name: "Hammer", SKU: "H-1"}, Patch{"stock": Int(7)})
	require.NoError(t, err)
	prod := got.(Product)
	require.Len(t, prod.Variants, 1)
	assert.Equal(t, Variant{Name: "Default", SKU: "H-1", Stock: 7, IsDefault: true}, prod.Variants[0])

	withVariants := Product{Name: "Hammer", Variants: []Variant{{ID: "v1", Stock: 1}, {ID: "v2", Stock: 2, IsDefault: true}}}
	got, err = Apply(withVariants, Patch{"stock": Int(0)})
	require.NoError(t, err)
	prod = got.(Product)
	assert.Equal(t, int64(1), prod.Variants[0].Stock)
	assert.Equal(t, int64(0), prod.Variants[1].Stock)
	assert.Equal(t, int64(2), withVariants.Variants[1].Stock, "variants are copied")

	_, err = Apply(withVariants, Patch{"stock": String("many")})
	require.Error(t, err)
}

func TestAuthoritative(t *testing.T) {
	local := Product{Name: "Hammer", SKU: "H-1", CategoryID: "cat_1", CategoryName: "Tools", PriceCents: 500}
	returned := Product{Name: "Claw Hammer", SKU: "H-1"}

	got, err := Authoritative(local, returned)
	require.NoError(t, err)
	assert.Equal(t, returned, got, "cleared fields stay cleared")

	got, err = Authoritative(local, nil)
	require.NoError(t, err)
	assert.Equal(t, local, got)

	got, err = Authoritative(nil, returned)
	require.NoError(t, err)
	assert.Equal(t, returned, got)

	_, err = Authoritative(local, FAQAnswer{Body: "x"})
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		wantErr string
	}{
		{"product ok", Product{Name: "Hammer"}, ""},
		{"product without name", Product{}, "name is required"},
		{"negative price", Product{Name: "x", PriceCents: -1}, "price_cents"},
		{"negative stock", Product{Name: "x", Variants: []Variant{{Stock: -1}}}, "stock must not be negative"},
		{"unknown product status", Product{Name: "x", Status: "sold"}, "unknown status"},
		{"order ok", SellerOrder{Status: OrderPaid}, ""},
		{"shipped without tracking", SellerOrder{Status: OrderShipped}, "tracking_number"},
		{"zero quantity", SellerOrder{Items: []OrderItem{{Quantity: 0}}}, "quantity must be positive"},
		{"question without product", FAQQuestion{Question: "?"}, "product_id"},
		{"question ok", FAQQuestion{ProductID: "p", Question: "?"}, ""},
		{"answer without body", FAQAnswer{QuestionID: "q"}, "body is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidPayload)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFillJoins(t *testing.T) {
	ref := Catalog{
		Categories: map[string]string{"cat_tools": "Tools"},
		Products:   map[string]string{"prod_1": "Hammer"},
	}

	p := FillJoins(Product{Name: "x", CategoryID: "cat_tools"}, ref).(Product)
	assert.Equal(t, "Tools", p.CategoryName)

	q := FillJoins(FAQQuestion{ProductID: "prod_1"}, ref).(FAQQuestion)
	assert.Equal(t, "Hammer", q.ProductName)

	unknown := FillJoins(Product{CategoryID: "cat_none"}, ref).(Product)
	assert.Empty(t, unknown.CategoryName)

	assert.Equal(t, Product{CategoryID: "cat_tools"}, FillJoins(Product{CategoryID: "cat_tools"}, nil))
}

func TestRefreshJoins(t *testing.T) {
	ref := Catalog{Categories: map[string]string{"cat_tools": "Tools", "cat_garden": "Garden"}}
	p := Product{Name: "x", CategoryID: "cat_garden", CategoryName: "Tools"}

	got := RefreshJoins(p, Patch{"category_id": String("cat_garden")}, ref).(Product)
	assert.Equal(t, "Garden", got.CategoryName)

	got = RefreshJoins(p, Patch{"category_id": String("cat_garden"), "category_name": String("Outdoors")}, ref).(Product)
	assert.Equal(t, "Tools", got.CategoryName, "an explicit display value is kept")

	got = RefreshJoins(p, Patch{"name": String("y")}, ref).(Product)
	assert.Equal(t, "Tools", got.CategoryName)
}
