package shopify

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderEvent(t *testing.T) {
	raw := `{
		"id": 5001,
		"name": "#1024",
		"currency": "USD",
		"total_price": "120.00",
		"discount_codes": [{"code": "REF-AB12CD"}],
		"note_attributes": [{"name": "Ref", "value": "XY34ZT"}],
		"customer": {"id": 555, "email": "Buyer@Example.com"},
		"line_items": [
			{"product_id": 9310366662911, "variant_id": 44, "price": "100.00", "quantity": 2},
			{"product_id": 777, "variant_id": 45, "price": "not-a-price", "quantity": 1}
		]
	}`

	var payload OrderPayload
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	ev := payload.OrderEvent()

	assert.Equal(t, "5001", ev.OrderID)
	assert.Equal(t, "555", ev.CustomerID)
	assert.Equal(t, "buyer@example.com", ev.CustomerEmail)
	assert.Equal(t, []string{"REF-AB12CD"}, ev.DiscountCodes)
	// Note attribute names are case-insensitive on the wire.
	assert.Equal(t, "XY34ZT", ev.NoteAttributes["ref"])

	require.Len(t, ev.LineItems, 2)
	assert.Equal(t, "9310366662911", ev.LineItems[0].ProductID)
	assert.Equal(t, "44", ev.LineItems[0].VariantID)
	assert.InDelta(t, 100.00, ev.LineItems[0].Price, 0.001)
	assert.Equal(t, 2, ev.LineItems[0].Quantity)
	// Bad prices count as zero instead of failing the order.
	assert.Zero(t, ev.LineItems[1].Price)
}

func TestOrderEvent_GuestCheckout(t *testing.T) {
	var payload OrderPayload
	require.NoError(t, json.Unmarshal([]byte(`{"id": 5002, "customer": {"id": 0}}`), &payload))

	ev := payload.OrderEvent()
	assert.Equal(t, "5002", ev.OrderID)
	assert.Empty(t, ev.CustomerID)
}

func TestCatalogConversions(t *testing.T) {
	product := ProductWebhookPayload{ID: 9310366662911, Title: "Trail Shoe", Handle: "trail-shoe", Status: "active"}
	product.Image.Src = "https://cdn.example.com/shoe.png"

	p := product.CatalogProduct()
	assert.Equal(t, "9310366662911", p.ID)
	assert.Equal(t, "Trail Shoe", p.Title)
	assert.Equal(t, "https://cdn.example.com/shoe.png", p.ImageURL)

	collection := CollectionWebhookPayload{ID: 55, Title: "Sale", Handle: "sale"}
	c := collection.CatalogCollection()
	assert.Equal(t, "55", c.ID)
	assert.Equal(t, "Sale", c.Title)
}
