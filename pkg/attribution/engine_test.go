package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/referral"
	"github.com/refwise/refwise/pkg/rewards"
)

type stubDirectory struct{}

func (stubDirectory) FilterProductsInCollections(ctx context.Context, merchantID uuid.UUID, productIDs, collectionIDs []string) (map[string]struct{}, error) {
	return map[string]struct{}{}, nil
}

type fixture struct {
	db       *gorm.DB
	engine   *Engine
	codes    *referral.Service
	merchant *models.Merchant
	referrer *models.Referrer
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))

	merchant := &models.Merchant{
		ID:         uuid.New(),
		ShopDomain: uuid.New().String() + ".myshopify.com",
		Currency:   "USD",
		PointValue: 0.01,
	}
	require.NoError(t, db.Create(merchant).Error)

	customerID := "555"
	email := "advocate@example.com"
	referrer := &models.Referrer{
		ID:         uuid.New(),
		MerchantID: merchant.ID,
		CustomerID: &customerID,
		Email:      &email,
		Name:       "Advocate",
	}
	require.NoError(t, db.Create(referrer).Error)

	codes := referral.NewService(db, 6, "REF-")
	matcher := eligibility.NewMatcher(stubDirectory{})
	ledger := rewards.NewService(db, nil)

	return &fixture{
		db:       db,
		engine:   NewEngine(codes, matcher, ledger, "REF-"),
		codes:    codes,
		merchant: merchant,
		referrer: referrer,
	}
}

func (f *fixture) createCampaign(t *testing.T, mutate func(*models.Campaign)) *models.Campaign {
	t.Helper()
	c := &models.Campaign{
		ID:                  uuid.New(),
		MerchantID:          f.merchant.ID,
		Name:                "Advocates",
		Status:              models.CampaignActive,
		StartDate:           time.Now().Add(-24 * time.Hour),
		RewardOutput:        models.OutputWallet,
		ReferrerRewardType:  models.RewardPercentage,
		ReferrerRewardValue: 10,
		EligibleType:        models.EligibleAll,
	}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func (f *fixture) issueCode(t *testing.T, campaignID uuid.UUID) string {
	t.Helper()
	code, err := f.codes.IssueOrGet(context.Background(), f.merchant.ID, f.referrer.ID, campaignID, "", "")
	require.NoError(t, err)
	return code.Code
}

func orderEvent(orderID, customerID, discountCode string) OrderEvent {
	return OrderEvent{
		OrderID:    orderID,
		CustomerID: customerID,
		DiscountCodes: []string{
			discountCode,
		},
		LineItems: []eligibility.LineItem{
			{ProductID: "9310366662911", Price: 100.00, Quantity: 1},
		},
	}
}

func TestAttributeOrder_Credit(t *testing.T) {
	f := setupFixture(t)
	campaign := f.createCampaign(t, nil)
	code := f.issueCode(t, campaign.ID)

	t.Run("Success - Prefixed discount code credits the referrer", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("5001", "777", "REF-"+code))
		require.NoError(t, err)

		assert.False(t, out.Rejected)
		assert.Equal(t, code, out.Code)
		require.NotNil(t, out.Reward)
		assert.InDelta(t, 10.00, out.Reward.Amount, 0.001)
		require.NotNil(t, out.Referrer)
		assert.Equal(t, f.referrer.ID, out.Referrer.ID)
	})

	t.Run("Success - Redelivery is a duplicate no-op", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("5001", "777", "REF-"+code))
		require.NoError(t, err)
		assert.True(t, out.Duplicate)
		assert.Nil(t, out.Reward)
	})

	t.Run("Success - Note attribute carries the code", func(t *testing.T) {
		ev := OrderEvent{
			OrderID:        "5002",
			CustomerID:     "778",
			NoteAttributes: map[string]string{"ref": code},
			LineItems:      []eligibility.LineItem{{ProductID: "1", Price: 40.00}},
		}
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, ev)
		require.NoError(t, err)
		assert.False(t, out.Rejected)
		require.NotNil(t, out.Reward)
		assert.InDelta(t, 4.00, out.Reward.Amount, 0.001)
	})
}

func TestAttributeOrder_Rejections(t *testing.T) {
	f := setupFixture(t)
	campaign := f.createCampaign(t, nil)
	code := f.issueCode(t, campaign.ID)

	t.Run("Failure - Order without a code", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, OrderEvent{OrderID: "6001"})
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectNoCode, out.Reason)
	})

	t.Run("Failure - Unknown code", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6002", "777", "REF-NOPE99"))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectUnknownCode, out.Reason)
	})

	t.Run("Failure - Code of another merchant", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), uuid.New(), orderEvent("6003", "777", "REF-"+code))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectUnknownCode, out.Reason)
	})

	t.Run("Failure - Referrer buying with their own code", func(t *testing.T) {
		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6004", "555", "REF-"+code))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectSelfReferral, out.Reason)
	})

	t.Run("Failure - Paused campaign", func(t *testing.T) {
		paused := f.createCampaign(t, nil)
		pausedCode := f.issueCode(t, paused.ID)
		require.NoError(t, f.db.Model(&models.Campaign{}).
			Where("id = ?", paused.ID).
			Update("status", models.CampaignPaused).Error)

		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6005", "777", "REF-"+pausedCode))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectCampaignInactive, out.Reason)
	})

	t.Run("Failure - Active campaign past its end date", func(t *testing.T) {
		expired := f.createCampaign(t, nil)
		expiredCode := f.issueCode(t, expired.ID)
		require.NoError(t, f.db.Model(&models.Campaign{}).
			Where("id = ?", expired.ID).
			Update("end_date", time.Now().Add(-time.Hour)).Error)

		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6006", "777", "REF-"+expiredCode))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectCampaignInactive, out.Reason)
	})

	t.Run("Failure - No qualifying line item", func(t *testing.T) {
		scoped := f.createCampaign(t, func(c *models.Campaign) {
			c.EligibleType = models.EligibleProduct
			c.EligibleIDs = []string{"424242"}
		})
		scopedCode := f.issueCode(t, scoped.ID)

		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6007", "777", "REF-"+scopedCode))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectNotEligible, out.Reason)
	})

	t.Run("Failure - Qualifying subtotal below the minimum", func(t *testing.T) {
		gated := f.createCampaign(t, func(c *models.Campaign) {
			c.MinOrderValue = 150
		})
		gatedCode := f.issueCode(t, gated.ID)

		out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("6008", "777", "REF-"+gatedCode))
		require.NoError(t, err)
		assert.True(t, out.Rejected)
		assert.Equal(t, RejectBelowMinOrder, out.Reason)
	})
}

func TestAttributeOrder_EmailOnlyReferrer(t *testing.T) {
	f := setupFixture(t)
	campaign := f.createCampaign(t, nil)

	email := "plain@example.com"
	emailOnly := &models.Referrer{
		ID:         uuid.New(),
		MerchantID: f.merchant.ID,
		Email:      &email,
		Name:       "plain",
	}
	require.NoError(t, f.db.Create(emailOnly).Error)

	code, err := f.codes.IssueOrGet(context.Background(), f.merchant.ID, emailOnly.ID, campaign.ID, "", "")
	require.NoError(t, err)

	out, err := f.engine.AttributeOrder(context.Background(), f.merchant.ID, orderEvent("7001", "777", "REF-"+code.Code))
	require.NoError(t, err)
	require.NotNil(t, out.Reward)

	// Balance keys off the referrer row when no customer id is bound.
	var entry models.LedgerEntry
	require.NoError(t, f.db.First(&entry, "id = ?", out.Reward.LedgerEntryID).Error)
	assert.Equal(t, emailOnly.ID.String(), entry.CustomerID)
}
