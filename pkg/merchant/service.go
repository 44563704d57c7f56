package merchant

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/refwise/refwise/pkg/models"
)

var (
	// ErrMerchantNotFound is returned when no merchant exists for a shop domain
	ErrMerchantNotFound = errors.New("merchant not found")
)

// Settings is the read-only per-merchant configuration consulted during
// reward computation.
type Settings struct {
	Currency   string
	PointValue float64
}

// Service resolves merchants by shop domain
type Service struct {
	db *gorm.DB
}

// NewService creates a new merchant service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// ResolveOrCreate returns the merchant for a shop domain, creating the row
// on first touch. The insert races against concurrent first touches of the
// same shop, so it goes through the uniqueness constraint rather than a
// prior existence check.
func (s *Service) ResolveOrCreate(ctx context.Context, shopDomain string) (*models.Merchant, error) {
	domain := NormalizeDomain(shopDomain)
	if domain == "" {
		return nil, fmt.Errorf("empty shop domain")
	}

	m := models.Merchant{
		ID:         uuid.New(),
		ShopDomain: domain,
		Currency:   "USD",
		PointValue: 0.01,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "shop_domain"}},
			DoNothing: true,
		}).
		Create(&m).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create merchant: %w", err)
	}

	// Re-read so the conflicting (pre-existing) row wins over our candidate.
	var out models.Merchant
	if err := s.db.WithContext(ctx).Where("shop_domain = ?", domain).First(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	return &out, nil
}

// GetByDomain returns the merchant for a shop domain without creating it.
func (s *Service) GetByDomain(ctx context.Context, shopDomain string) (*models.Merchant, error) {
	var m models.Merchant
	err := s.db.WithContext(ctx).Where("shop_domain = ?", NormalizeDomain(shopDomain)).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMerchantNotFound
		}
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}
	return &m, nil
}

// GetSettings returns the merchant's reward settings.
func (s *Service) GetSettings(ctx context.Context, merchantID uuid.UUID) (Settings, error) {
	var m models.Merchant
	err := s.db.WithContext(ctx).First(&m, "id = ?", merchantID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Settings{}, ErrMerchantNotFound
		}
		return Settings{}, fmt.Errorf("failed to load merchant settings: %w", err)
	}

	settings := Settings{Currency: m.Currency, PointValue: m.PointValue}
	if settings.Currency == "" {
		settings.Currency = "USD"
	}
	if settings.PointValue <= 0 {
		settings.PointValue = 0.01
	}
	return settings, nil
}

// UpdateSettings changes the merchant's currency and point value.
func (s *Service) UpdateSettings(ctx context.Context, merchantID uuid.UUID, currency string, pointValue float64) error {
	if pointValue <= 0 {
		return fmt.Errorf("point value must be positive")
	}

	res := s.db.WithContext(ctx).
		Model(&models.Merchant{}).
		Where("id = ?", merchantID).
		Updates(map[string]interface{}{"currency": currency, "point_value": pointValue})
	if res.Error != nil {
		return fmt.Errorf("failed to update settings: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMerchantNotFound
	}
	return nil
}

// NormalizeDomain lowercases a shop domain and strips any scheme or
// trailing slash so "HTTPS://Shop.myshopify.com/" and
// "shop.myshopify.com" resolve to the same tenant.
func NormalizeDomain(shopDomain string) string {
	d := strings.TrimSpace(strings.ToLower(shopDomain))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	return strings.TrimSuffix(d, "/")
}
