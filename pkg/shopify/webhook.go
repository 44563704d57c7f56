package shopify

import (
	"strconv"
	"strings"

	"github.com/refwise/refwise/pkg/attribution"
	"github.com/refwise/refwise/pkg/catalog"
	"github.com/refwise/refwise/pkg/eligibility"
)

// OrderPayload is the subset of the orders/paid webhook body the engine
// consumes. Prices arrive as strings on the wire.
type OrderPayload struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Currency      string `json:"currency"`
	TotalPrice    string `json:"total_price"`
	DiscountCodes []struct {
		Code string `json:"code"`
	} `json:"discount_codes"`
	NoteAttributes []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"note_attributes"`
	Customer struct {
		ID    int64  `json:"id"`
		Email string `json:"email"`
	} `json:"customer"`
	LineItems []struct {
		ProductID int64  `json:"product_id"`
		VariantID int64  `json:"variant_id"`
		Price     string `json:"price"`
		Quantity  int    `json:"quantity"`
	} `json:"line_items"`
}

// OrderEvent maps the wire payload onto the attribution engine's input.
// Unparseable line-item prices count as zero rather than failing the
// whole order.
func (p *OrderPayload) OrderEvent() attribution.OrderEvent {
	ev := attribution.OrderEvent{
		OrderID:        strconv.FormatInt(p.ID, 10),
		CustomerEmail:  strings.ToLower(strings.TrimSpace(p.Customer.Email)),
		NoteAttributes: make(map[string]string, len(p.NoteAttributes)),
	}
	if p.Customer.ID != 0 {
		ev.CustomerID = strconv.FormatInt(p.Customer.ID, 10)
	}
	for _, dc := range p.DiscountCodes {
		ev.DiscountCodes = append(ev.DiscountCodes, dc.Code)
	}
	for _, attr := range p.NoteAttributes {
		ev.NoteAttributes[strings.ToLower(attr.Name)] = attr.Value
	}
	for _, item := range p.LineItems {
		price, _ := strconv.ParseFloat(item.Price, 64)
		ev.LineItems = append(ev.LineItems, eligibility.LineItem{
			ProductID: strconv.FormatInt(item.ProductID, 10),
			VariantID: strconv.FormatInt(item.VariantID, 10),
			Price:     price,
			Quantity:  item.Quantity,
		})
	}
	return ev
}

// ProductWebhookPayload is the products/create and products/update body.
type ProductWebhookPayload struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
	Status string `json:"status"`
	Image  struct {
		Src string `json:"src"`
	} `json:"image"`
}

func (p *ProductWebhookPayload) CatalogProduct() catalog.ProductPayload {
	return catalog.ProductPayload{
		ID:       strconv.FormatInt(p.ID, 10),
		Title:    p.Title,
		Handle:   p.Handle,
		ImageURL: p.Image.Src,
		Status:   p.Status,
	}
}

// CollectionWebhookPayload covers collections/create and collections/update.
type CollectionWebhookPayload struct {
	ID     int64  `json:"id"`
	Title  string `json:"title"`
	Handle string `json:"handle"`
}

func (p *CollectionWebhookPayload) CatalogCollection() catalog.CollectionPayload {
	return catalog.CollectionPayload{
		ID:     strconv.FormatInt(p.ID, 10),
		Title:  p.Title,
		Handle: p.Handle,
	}
}

// DeletePayload is the products/delete body, which carries only the id.
type DeletePayload struct {
	ID int64 `json:"id"`
}
