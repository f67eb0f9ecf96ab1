package model

// Seller order statuses.
const (
	OrderPending    = "pending"
	OrderPaid       = "paid"
	OrderProcessing = "processing"
	OrderShipped    = "shipped"
	OrderDelivered  = "delivered"
	OrderCancelled  = "cancelled"
)

var orderStatuses = map[string]bool{
	OrderPending:    true,
	OrderPaid:       true,
	OrderProcessing: true,
	OrderShipped:    true,
	OrderDelivered:  true,
	OrderCancelled:  true,
}

// SellerOrder is the seller's view of a buyer order.
type SellerOrder struct {
	OrderNumber    string      `json:"order_number,omitempty"`
	BuyerName      string      `json:"buyer_name,omitempty"`
	Status         string      `json:"status,omitempty"`
	TotalCents     int64       `json:"total_cents,omitempty"`
	Items          []OrderItem `json:"items,omitempty"`
	TrackingNumber string      `json:"tracking_number,omitempty"`
	Note           string      `json:"note,omitempty"`
}

// OrderItem is one line of an order.
type OrderItem struct {
	ProductID      string `json:"product_id,omitempty"`
	ProductName    string `json:"product_name,omitempty"`
	Quantity       int64  `json:"quantity"`
	UnitPriceCents int64  `json:"unit_price_cents,omitempty"`
}

func (SellerOrder) Kind() Kind { return KindSellerOrder }

func (o SellerOrder) Validate() error {
	if o.Status != "" && !orderStatuses[o.Status] {
		return invalid(KindSellerOrder, "unknown status %q", o.Status)
	}
	if o.Status == OrderShipped && o.TrackingNumber == "" {
		return invalid(KindSellerOrder, "tracking_number is required once shipped")
	}
	if o.TotalCents < 0 {
		return invalid(KindSellerOrder, "total_cents must not be negative")
	}
	for i, it := range o.Items {
		if it.Quantity <= 0 {
			return invalid(KindSellerOrder, "items[%d].quantity must be positive", i)
		}
	}
	return nil
}

func (o SellerOrder) SearchText() []string {
	return []string{o.OrderNumber, o.BuyerName, o.TrackingNumber}
}

func (o SellerOrder) StatusValue() string { return o.Status }
