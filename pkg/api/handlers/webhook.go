package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/refwise/refwise/pkg/attribution"
	"github.com/refwise/refwise/pkg/cache"
	"github.com/refwise/refwise/pkg/catalog"
	"github.com/refwise/refwise/pkg/email"
	"github.com/refwise/refwise/pkg/merchant"
	"github.com/refwise/refwise/pkg/metrics"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/shopify"
)

const (
	headerHMAC       = "X-Shopify-Hmac-Sha256"
	headerTopic      = "X-Shopify-Topic"
	headerShopDomain = "X-Shopify-Shop-Domain"
	headerDeliveryID = "X-Shopify-Webhook-Id"

	// dedupTTL covers Shopify's redelivery window with margin.
	dedupTTL = 48 * time.Hour
)

// WebhookHandler receives platform webhooks. Every topic follows the same
// shape: verify the HMAC, check the delivery id against settled
// deliveries, dispatch, and acknowledge with 200 even on rejection so the
// platform does not retry business no-ops. Only infrastructure failures
// return 5xx; those leave the delivery id unsettled so the platform's
// redelivery reprocesses the order, and the ledger uniqueness constraint
// absorbs any overlap.
type WebhookHandler struct {
	db        *gorm.DB
	cache     *cache.Client
	merchants *merchant.Service
	catalog   *catalog.Service
	engine    *attribution.Engine
	emails    *email.Service
	metrics   *metrics.Metrics
	secret    string
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(db *gorm.DB, cacheClient *cache.Client, merchants *merchant.Service, cat *catalog.Service, engine *attribution.Engine, emails *email.Service, m *metrics.Metrics, webhookSecret string) *WebhookHandler {
	return &WebhookHandler{
		db:        db,
		cache:     cacheClient,
		merchants: merchants,
		catalog:   cat,
		engine:    engine,
		emails:    emails,
		metrics:   m,
		secret:    webhookSecret,
	}
}

// OrdersPaid handles the orders/paid topic: the attribution entry point.
func (h *WebhookHandler) OrdersPaid(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	body, m, ok, err := h.admit(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}

	var payload shopify.OrderPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordWebhookRejected("bad_payload")
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_payload",
			Message: "Could not parse order payload",
		})
	}

	outcome, err := h.engine.AttributeOrder(ctx, m.ID, payload.OrderEvent())
	if err != nil {
		// Ledger and lookup failures must be retried by the platform.
		log.Printf("❌ Attribution failed for order %d: %v", payload.ID, err)
		h.metrics.RecordAttribution("error")
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "attribution_failed",
			Message: "Order could not be processed",
		})
	}

	switch {
	case outcome.Duplicate:
		h.metrics.RecordAttribution("duplicate")
	case outcome.Rejected:
		h.metrics.RecordAttribution(string(outcome.Reason))
	default:
		h.metrics.RecordAttribution("credited")
		if outcome.Reward != nil {
			h.metrics.RecordRewardDistributed(string(outcome.Reward.Output))
		}
		h.notifyReferrer(m, outcome)
	}

	h.settle(ctx, c)
	return c.NoContent(http.StatusOK)
}

// notifyReferrer emails the referrer about their reward. Delivery is best
// effort and never blocks the webhook acknowledgement.
func (h *WebhookHandler) notifyReferrer(m *models.Merchant, outcome attribution.Outcome) {
	if h.emails == nil || outcome.Referrer == nil || outcome.Referrer.Email == nil || outcome.Reward == nil {
		return
	}
	toEmail := *outcome.Referrer.Email
	toName := outcome.Referrer.Name
	coupon := outcome.Reward.CouponCode
	amount := outcome.Reward.Amount
	currency := m.Currency
	shop := m.ShopDomain
	go func() {
		if err := h.emails.SendRewardEarnedEmail(toEmail, toName, shop, amount, currency, coupon); err != nil {
			log.Printf("⚠️  Reward notification email failed: %v", err)
		}
	}()
}

// ProductsUpsert handles products/create and products/update.
func (h *WebhookHandler) ProductsUpsert(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	body, m, ok, err := h.admit(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}

	var payload shopify.ProductWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordWebhookRejected("bad_payload")
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_payload",
			Message: "Could not parse product payload",
		})
	}

	if err := h.catalog.IngestProduct(ctx, m.ID, payload.CatalogProduct()); err != nil {
		log.Printf("❌ Product ingestion failed for %d: %v", payload.ID, err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "ingestion_failed",
			Message: "Product could not be stored",
		})
	}

	h.settle(ctx, c)
	return c.NoContent(http.StatusOK)
}

// ProductsDelete handles products/delete.
func (h *WebhookHandler) ProductsDelete(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	body, m, ok, err := h.admit(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}

	var payload shopify.DeletePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordWebhookRejected("bad_payload")
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_payload",
			Message: "Could not parse delete payload",
		})
	}

	if err := h.catalog.DeleteProduct(ctx, m.ID, strconv.FormatInt(payload.ID, 10)); err != nil {
		log.Printf("❌ Product delete failed for %d: %v", payload.ID, err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "ingestion_failed",
			Message: "Product could not be removed",
		})
	}

	h.settle(ctx, c)
	return c.NoContent(http.StatusOK)
}

// CollectionsUpsert handles collections/create and collections/update.
func (h *WebhookHandler) CollectionsUpsert(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	body, m, ok, err := h.admit(ctx, c)
	if err != nil {
		return err
	}
	if !ok {
		return c.NoContent(http.StatusOK)
	}

	var payload shopify.CollectionWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		h.metrics.RecordWebhookRejected("bad_payload")
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_payload",
			Message: "Could not parse collection payload",
		})
	}

	if err := h.catalog.IngestCollection(ctx, m.ID, payload.CatalogCollection()); err != nil {
		log.Printf("❌ Collection ingestion failed for %d: %v", payload.ID, err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "ingestion_failed",
			Message: "Collection could not be stored",
		})
	}

	h.settle(ctx, c)
	return c.NoContent(http.StatusOK)
}

// admit runs the shared webhook admission pipeline: read the raw body,
// verify the HMAC over it, resolve the merchant and check whether the
// delivery id was already settled. Admission never claims the id; settle
// does that after the topic handler reaches a terminal outcome, so a 5xx
// leaves the id free and redelivery reprocesses.
// ok=false with a nil error means the delivery is a duplicate and must be
// acknowledged without processing.
func (h *WebhookHandler) admit(ctx context.Context, c echo.Context) (body []byte, m *models.Merchant, ok bool, err error) {
	body, err = io.ReadAll(c.Request().Body)
	if err != nil {
		return nil, nil, false, c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error:   "bad_payload",
			Message: "Could not read request body",
		})
	}

	topic := c.Request().Header.Get(headerTopic)
	h.metrics.RecordWebhookReceived(topic)

	if !shopify.VerifyWebhookHMAC(body, c.Request().Header.Get(headerHMAC), h.secret) {
		h.metrics.RecordWebhookRejected("bad_hmac")
		return nil, nil, false, c.JSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   "invalid_hmac",
			Message: "Webhook signature verification failed",
		})
	}

	shop := c.Request().Header.Get(headerShopDomain)
	m, err = h.merchants.ResolveOrCreate(ctx, shop)
	if err != nil {
		return nil, nil, false, c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "merchant_resolution_failed",
			Message: "Could not resolve merchant for shop",
		})
	}

	deliveryID := c.Request().Header.Get(headerDeliveryID)
	if deliveryID == "" {
		// No delivery id to deduplicate on; the ledger constraint still
		// protects against double credits.
		return body, m, true, nil
	}

	// Fast path: Redis. A missing key only costs one extra pass through
	// the durable check below.
	if h.cache != nil {
		if _, err := h.cache.Get(ctx, "webhook:"+deliveryID); err == nil {
			h.metrics.RecordWebhookRejected("duplicate")
			return nil, nil, false, nil
		}
	}

	var seen int64
	err = h.db.WithContext(ctx).
		Model(&models.WebhookDelivery{}).
		Where("delivery_id = ?", deliveryID).
		Count(&seen).Error
	if err != nil {
		return nil, nil, false, c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error:   "dedup_failed",
			Message: "Could not check webhook delivery",
		})
	}
	if seen > 0 {
		h.metrics.RecordWebhookRejected("duplicate")
		return nil, nil, false, nil
	}

	return body, m, true, nil
}

// settle records the delivery id once its topic handler reached a terminal
// outcome. Two in-flight copies of one delivery can both pass admission;
// that is accepted, the ledger's (merchant, order, customer) constraint
// makes the overlap a benign duplicate. Failures here are logged, not
// surfaced: the worst case is one redelivery reprocessing.
func (h *WebhookHandler) settle(ctx context.Context, c echo.Context) {
	deliveryID := c.Request().Header.Get(headerDeliveryID)
	if deliveryID == "" {
		return
	}

	if h.cache != nil {
		if _, err := h.cache.ClaimOnce(ctx, "webhook:"+deliveryID, dedupTTL); err != nil {
			log.Printf("⚠️  Redis dedup claim failed for delivery %s: %v", deliveryID, err)
		}
	}

	row := models.WebhookDelivery{
		DeliveryID: deliveryID,
		Topic:      c.Request().Header.Get(headerTopic),
		ShopDomain: c.Request().Header.Get(headerShopDomain),
	}
	if err := h.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		log.Printf("⚠️  Durable dedup record failed for delivery %s: %v", deliveryID, err)
	}
}
