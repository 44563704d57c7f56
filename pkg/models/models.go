package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CampaignStatus is the merchant-controlled lifecycle state of a campaign.
type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignActive    CampaignStatus = "active"
	CampaignPaused    CampaignStatus = "paused"
	CampaignCompleted CampaignStatus = "completed"
	CampaignScheduled CampaignStatus = "scheduled"
)

// Valid reports whether s is one of the known lifecycle states.
func (s CampaignStatus) Valid() bool {
	switch s {
	case CampaignDraft, CampaignActive, CampaignPaused, CampaignCompleted, CampaignScheduled:
		return true
	}
	return false
}

// RewardType determines how a reward rule converts into a value.
type RewardType string

const (
	RewardPercentage RewardType = "percentage"
	RewardFixed      RewardType = "fixed"
)

// OutputType is the format a computed reward is paid out in.
type OutputType string

const (
	OutputWallet   OutputType = "wallet"
	OutputCashback OutputType = "cashback"
	OutputPoints   OutputType = "points"
	OutputCoupon   OutputType = "coupon"
)

// EligibleType selects which line items of an order qualify for a reward.
type EligibleType string

const (
	EligibleAll        EligibleType = "all"
	EligibleProduct    EligibleType = "product"
	EligibleCollection EligibleType = "collection"
)

// LedgerStatus is the two-phase state of a reward credit.
//
// Wallet and points credits go straight to processed. Coupon credits are
// written as approved first and only move to issued once the discount code
// exists on the platform, so a crashed issuance is visible to the
// reconciler instead of silently lost.
type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerApproved  LedgerStatus = "approved"
	LedgerProcessed LedgerStatus = "processed"
	LedgerIssued    LedgerStatus = "issued"
	LedgerFailed    LedgerStatus = "failed"
)

// Merchant is the tenant boundary. One row per shop domain, created on
// first touch and immutable afterwards except for settings.
type Merchant struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ShopDomain string    `gorm:"uniqueIndex;size:255" json:"shop_domain"`
	Currency   string    `gorm:"size:8;default:USD" json:"currency"`
	PointValue float64   `gorm:"default:0.01" json:"point_value"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Campaign is a merchant-scoped reward policy.
type Campaign struct {
	ID         uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID      `gorm:"type:uuid;index" json:"merchant_id"`
	Name       string         `gorm:"size:255" json:"name"`
	Status     CampaignStatus `gorm:"size:16;index" json:"status"`
	StartDate  time.Time      `json:"start_date"`
	EndDate    *time.Time     `json:"end_date,omitempty"`

	RewardOutput OutputType `gorm:"size:16;default:wallet" json:"reward_output"`

	ReferrerRewardType  RewardType `gorm:"size:16" json:"referrer_reward_type"`
	ReferrerRewardValue float64    `json:"referrer_reward_value"`
	RefereeRewardType   RewardType `gorm:"size:16" json:"referee_reward_type"`
	RefereeRewardValue  float64    `json:"referee_reward_value"`

	MinOrderValue float64 `json:"min_order_value"`

	EligibleType EligibleType `gorm:"size:16;default:all" json:"eligible_type"`
	EligibleIDs  []string     `gorm:"serializer:json" json:"eligible_ids"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveAt reports whether the campaign is currently accepting
// attributions: active status and now inside [StartDate, EndDate). A nil
// EndDate means unbounded.
func (c *Campaign) EffectiveAt(now time.Time) bool {
	if c.Status != CampaignActive {
		return false
	}
	if now.Before(c.StartDate) {
		return false
	}
	if c.EndDate != nil && !now.Before(*c.EndDate) {
		return false
	}
	return true
}

// Referrer is a merchant-scoped identity keyed by platform customer id
// when known, falling back to email. Both keys are independently unique
// within a merchant; NULLs do not collide.
type Referrer struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_referrer_customer,priority:1;uniqueIndex:uniq_referrer_email,priority:1" json:"merchant_id"`
	CustomerID *string   `gorm:"size:64;uniqueIndex:uniq_referrer_customer,priority:2" json:"customer_id,omitempty"`
	Email      *string   `gorm:"size:255;uniqueIndex:uniq_referrer_email,priority:2" json:"email,omitempty"`
	Name       string    `gorm:"size:255" json:"name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// ReferralCode binds a globally unique short token to one
// (merchant, referrer, campaign) triple, optionally narrowed to a product.
// ProductID/VariantID are stored as empty strings rather than NULLs so the
// composite uniqueness constraint covers the "no product" case too.
type ReferralCode struct {
	Code       string    `gorm:"primaryKey;size:32" json:"code"`
	MerchantID uuid.UUID `gorm:"type:uuid;index" json:"merchant_id"`
	ReferrerID uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_code_binding,priority:1" json:"referrer_id"`
	CampaignID uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_code_binding,priority:2" json:"campaign_id"`
	ProductID  string    `gorm:"size:64;default:'';uniqueIndex:uniq_code_binding,priority:3" json:"product_id,omitempty"`
	VariantID  string    `gorm:"size:64;default:''" json:"variant_id,omitempty"`
	Clicks     int       `json:"clicks"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// RefereeClaim records that a customer attempted to redeem a code.
// Deduplicated, never reward-granting by itself.
type RefereeClaim struct {
	ID                uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID        uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_claim,priority:1" json:"merchant_id"`
	Code              string    `gorm:"size:32;uniqueIndex:uniq_claim,priority:2" json:"code"`
	RefereeCustomerID string    `gorm:"size:64;uniqueIndex:uniq_claim,priority:3" json:"referee_customer_id"`
	CreatedAt         time.Time `json:"created_at"`
}

// ReferralClick is the append-only audit record of a code being surfaced.
type ReferralClick struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Code      string    `gorm:"size:32;index:idx_click_code_ip,priority:1" json:"code"`
	IPAddress string    `gorm:"size:64;index:idx_click_code_ip,priority:2" json:"ip_address"`
	UserAgent string    `gorm:"size:512" json:"user_agent"`
	Source    string    `gorm:"size:32" json:"source"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// LedgerEntry is the immutable record of one reward credit and the unit of
// idempotency: the (merchant_id, order_id, customer_id) constraint is the
// sole guard against double-crediting under webhook redelivery.
type LedgerEntry struct {
	ID         uuid.UUID    `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID uuid.UUID    `gorm:"type:uuid;uniqueIndex:uniq_ledger_order,priority:1" json:"merchant_id"`
	OrderID    string       `gorm:"size:64;uniqueIndex:uniq_ledger_order,priority:2" json:"order_id"`
	CustomerID string       `gorm:"size:64;uniqueIndex:uniq_ledger_order,priority:3" json:"customer_id"`
	CampaignID uuid.UUID    `gorm:"type:uuid;index" json:"campaign_id"`
	Code       string       `gorm:"size:32;index" json:"code"`
	RewardType OutputType   `gorm:"size:16" json:"reward_type"`
	Amount     float64      `json:"amount"`
	Points     int          `json:"points"`
	Status     LedgerStatus `gorm:"size:16;index" json:"status"`
	CouponCode *string      `gorm:"size:64" json:"coupon_code,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// UserWallet is the per-(merchant, customer) cash balance. Mutated only by
// additive upserts driven from ledger entries.
type UserWallet struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	MerchantID uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_wallet,priority:1" json:"merchant_id"`
	CustomerID string    `gorm:"size:64;uniqueIndex:uniq_wallet,priority:2" json:"customer_id"`
	Balance    float64   `json:"balance"`
	Currency   string    `gorm:"size:8" json:"currency"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// UserPoints is the per-(merchant, customer) points balance.
type UserPoints struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	MerchantID    uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_points,priority:1" json:"merchant_id"`
	CustomerID    string    `gorm:"size:64;uniqueIndex:uniq_points,priority:2" json:"customer_id"`
	PointsBalance int       `json:"points_balance"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Product mirrors a synced platform product. ShopifyProductID holds the
// bare numeric id; GID prefixes are stripped at ingestion.
type Product struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID       uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_product,priority:1" json:"merchant_id"`
	ShopifyProductID string    `gorm:"size:64;uniqueIndex:uniq_product,priority:2" json:"shopify_product_id"`
	Title            string    `gorm:"size:512" json:"title"`
	Handle           string    `gorm:"size:255" json:"handle"`
	ImageURL         string    `gorm:"size:1024" json:"image_url"`
	Status           string    `gorm:"size:32" json:"status"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Collection mirrors a synced platform collection.
type Collection struct {
	ID                  uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	MerchantID          uuid.UUID `gorm:"type:uuid;uniqueIndex:uniq_collection,priority:1" json:"merchant_id"`
	ShopifyCollectionID string    `gorm:"size:64;uniqueIndex:uniq_collection,priority:2" json:"shopify_collection_id"`
	Title               string    `gorm:"size:512" json:"title"`
	Handle              string    `gorm:"size:255" json:"handle"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// ProductCollection links products to collections.
type ProductCollection struct {
	ProductID    uuid.UUID `gorm:"type:uuid;primaryKey" json:"product_id"`
	CollectionID uuid.UUID `gorm:"type:uuid;primaryKey" json:"collection_id"`
}

// WebhookDelivery is the durable trail of processed webhook delivery ids.
// The redis SETNX check in front of it is only a fast path; correctness
// against redelivery lives in the ledger constraint.
type WebhookDelivery struct {
	DeliveryID string    `gorm:"primaryKey;size:128" json:"delivery_id"`
	Topic      string    `gorm:"size:64" json:"topic"`
	ShopDomain string    `gorm:"size:255" json:"shop_domain"`
	CreatedAt  time.Time `json:"created_at"`
}

// AutoMigrate performs all schema migrations for the service.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Merchant{},
		&Campaign{},
		&Referrer{},
		&ReferralCode{},
		&RefereeClaim{},
		&ReferralClick{},
		&LedgerEntry{},
		&UserWallet{},
		&UserPoints{},
		&Product{},
		&Collection{},
		&ProductCollection{},
		&WebhookDelivery{},
	)
}
