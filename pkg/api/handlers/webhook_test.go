package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refwise/refwise/pkg/attribution"
	"github.com/refwise/refwise/pkg/cache"
	"github.com/refwise/refwise/pkg/catalog"
	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/rewards"
)

const webhookSecret = "webhook-test-secret"

type webhookEnv struct {
	*handlerEnv
	handler *WebhookHandler
	catalog *catalog.Service
	rewards *rewards.Service
	shop    string
}

func setupWebhookEnv(t *testing.T) *webhookEnv {
	t.Helper()
	env := setupHandlerEnv(t)

	mr := miniredis.RunT(t)
	cacheClient := &cache.Client{Redis: redis.NewClient(&redis.Options{Addr: mr.Addr()})}

	cat := catalog.NewService(env.db)
	ledger := rewards.NewService(env.db, nil)
	engine := attribution.NewEngine(env.codes, eligibility.NewMatcher(cat), ledger, "REF-")

	return &webhookEnv{
		handlerEnv: env,
		handler:    NewWebhookHandler(env.db, cacheClient, env.merchants, cat, engine, nil, testMetrics, webhookSecret),
		catalog:    cat,
		rewards:    ledger,
		shop:       strings.ToLower(gofakeit.LetterN(10)) + ".myshopify.com",
	}
}

func (env *webhookEnv) signedRequest(t *testing.T, body, topic, deliveryID string) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	mac := hmac.New(sha256.New, []byte(webhookSecret))
	mac.Write([]byte(body))

	req := httptest.NewRequest(http.MethodPost, "/webhooks/"+topic, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(headerHMAC, base64.StdEncoding.EncodeToString(mac.Sum(nil)))
	req.Header.Set(headerTopic, topic)
	req.Header.Set(headerShopDomain, env.shop)
	if deliveryID != "" {
		req.Header.Set(headerDeliveryID, deliveryID)
	}
	rec := httptest.NewRecorder()
	return env.e.NewContext(req, rec), rec
}

func (env *webhookEnv) seedReferral(t *testing.T) (merchantID uuid.UUID, code string) {
	t.Helper()
	m, err := env.merchants.ResolveOrCreate(context.Background(), env.shop)
	require.NoError(t, err)
	campaign := env.createCampaign(t, m.ID)

	customerID := "555"
	email := gofakeit.Email()
	ref := &models.Referrer{ID: uuid.New(), MerchantID: m.ID, CustomerID: &customerID, Email: &email, Name: gofakeit.FirstName()}
	require.NoError(t, env.db.Create(ref).Error)

	issued, err := env.codes.IssueOrGet(context.Background(), m.ID, ref.ID, campaign.ID, "", "")
	require.NoError(t, err)
	return m.ID, issued.Code
}

func orderBody(orderID int64, customerID int64, discountCode string) string {
	return fmt.Sprintf(`{
		"id": %d,
		"currency": "USD",
		"total_price": "100.00",
		"discount_codes": [{"code": %q}],
		"customer": {"id": %d, "email": "buyer@example.com"},
		"line_items": [{"product_id": 9310366662911, "variant_id": 44, "price": "100.00", "quantity": 1}]
	}`, orderID, discountCode, customerID)
}

func TestOrdersPaid(t *testing.T) {
	env := setupWebhookEnv(t)
	merchantID, code := env.seedReferral(t)

	ledgerCount := func() int64 {
		var n int64
		require.NoError(t, env.db.Model(&models.LedgerEntry{}).Where("merchant_id = ?", merchantID).Count(&n).Error)
		return n
	}

	t.Run("Success - Attributed order credits the referrer", func(t *testing.T) {
		c, rec := env.signedRequest(t, orderBody(8001, 777, "REF-"+code), "orders/paid", "delivery-8001")
		require.NoError(t, env.handler.OrdersPaid(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), ledgerCount())

		balance, err := env.rewards.WalletBalance(context.Background(), merchantID, "555")
		require.NoError(t, err)
		assert.InDelta(t, 10.00, balance, 0.001)
	})

	t.Run("Success - Same delivery id is deduplicated", func(t *testing.T) {
		c, rec := env.signedRequest(t, orderBody(8001, 777, "REF-"+code), "orders/paid", "delivery-8001")
		require.NoError(t, env.handler.OrdersPaid(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), ledgerCount())
	})

	t.Run("Success - New delivery of the same order is a ledger no-op", func(t *testing.T) {
		c, rec := env.signedRequest(t, orderBody(8001, 777, "REF-"+code), "orders/paid", "delivery-8001-retry")
		require.NoError(t, env.handler.OrdersPaid(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), ledgerCount())

		balance, err := env.rewards.WalletBalance(context.Background(), merchantID, "555")
		require.NoError(t, err)
		assert.InDelta(t, 10.00, balance, 0.001)
	})

	t.Run("Success - Order without a code is acknowledged", func(t *testing.T) {
		c, rec := env.signedRequest(t, orderBody(8002, 777, ""), "orders/paid", "delivery-8002")
		require.NoError(t, env.handler.OrdersPaid(c))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, int64(1), ledgerCount())
	})

	t.Run("Failure - Invalid signature", func(t *testing.T) {
		body := orderBody(8003, 777, "REF-"+code)
		req := httptest.NewRequest(http.MethodPost, "/webhooks/orders/paid", strings.NewReader(body))
		req.Header.Set(headerHMAC, "bogus")
		req.Header.Set(headerShopDomain, env.shop)
		rec := httptest.NewRecorder()

		require.NoError(t, env.handler.OrdersPaid(env.e.NewContext(req, rec)))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("Failure - Unparseable payload", func(t *testing.T) {
		c, rec := env.signedRequest(t, `{"id": `, "orders/paid", "delivery-8004")
		require.NoError(t, env.handler.OrdersPaid(c))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

// A transient store failure mid-attribution must not consume the delivery
// id: Shopify redelivers with the same X-Shopify-Webhook-Id and the retry
// has to credit the referrer.
func TestOrdersPaid_RedeliveryAfterFailure(t *testing.T) {
	env := setupWebhookEnv(t)
	merchantID, code := env.seedReferral(t)

	require.NoError(t, env.db.Migrator().DropTable(&models.LedgerEntry{}))

	c, rec := env.signedRequest(t, orderBody(8200, 777, "REF-"+code), "orders/paid", "delivery-8200")
	require.NoError(t, env.handler.OrdersPaid(c))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	require.NoError(t, env.db.Migrator().CreateTable(&models.LedgerEntry{}))

	c, rec = env.signedRequest(t, orderBody(8200, 777, "REF-"+code), "orders/paid", "delivery-8200")
	require.NoError(t, env.handler.OrdersPaid(c))
	assert.Equal(t, http.StatusOK, rec.Code)

	var n int64
	require.NoError(t, env.db.Model(&models.LedgerEntry{}).Where("merchant_id = ?", merchantID).Count(&n).Error)
	assert.Equal(t, int64(1), n)

	balance, err := env.rewards.WalletBalance(context.Background(), merchantID, "555")
	require.NoError(t, err)
	assert.InDelta(t, 10.00, balance, 0.001)
}

func TestCatalogWebhooks(t *testing.T) {
	env := setupWebhookEnv(t)

	m, err := env.merchants.ResolveOrCreate(context.Background(), env.shop)
	require.NoError(t, err)

	t.Run("Success - Product create mirrors the catalog", func(t *testing.T) {
		body := `{"id": 9310366662911, "title": "Trail Shoe", "handle": "trail-shoe", "status": "active"}`
		c, rec := env.signedRequest(t, body, "products/create", "delivery-p1")
		require.NoError(t, env.handler.ProductsUpsert(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		products, err := env.catalog.ListProducts(context.Background(), m.ID)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "Trail Shoe", products[0].Title)
	})

	t.Run("Success - Replayed delivery does not reprocess", func(t *testing.T) {
		body := `{"id": 9310366662911, "title": "Renamed Shoe"}`
		c, rec := env.signedRequest(t, body, "products/update", "delivery-p1")
		require.NoError(t, env.handler.ProductsUpsert(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		products, err := env.catalog.ListProducts(context.Background(), m.ID)
		require.NoError(t, err)
		require.Len(t, products, 1)
		assert.Equal(t, "Trail Shoe", products[0].Title)
	})

	t.Run("Success - Collection create", func(t *testing.T) {
		body := `{"id": 55, "title": "Sale", "handle": "sale"}`
		c, rec := env.signedRequest(t, body, "collections/create", "delivery-c1")
		require.NoError(t, env.handler.CollectionsUpsert(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		collections, err := env.catalog.ListCollections(context.Background(), m.ID)
		require.NoError(t, err)
		assert.Len(t, collections, 1)
	})

	t.Run("Success - Product delete", func(t *testing.T) {
		c, rec := env.signedRequest(t, `{"id": 9310366662911}`, "products/delete", "delivery-p2")
		require.NoError(t, env.handler.ProductsDelete(c))
		assert.Equal(t, http.StatusOK, rec.Code)

		products, err := env.catalog.ListProducts(context.Background(), m.ID)
		require.NoError(t, err)
		assert.Empty(t, products)
	})
}

// Webhook processing must stay well under Shopify's 5 second deadline.
func TestWebhookAcknowledgeTime(t *testing.T) {
	env := setupWebhookEnv(t)
	_, code := env.seedReferral(t)

	start := time.Now()
	c, rec := env.signedRequest(t, orderBody(8100, 777, "REF-"+code), "orders/paid", "delivery-8100")
	require.NoError(t, env.handler.OrdersPaid(c))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Less(t, time.Since(start), 2*time.Second)
}
