package referrer

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
	// ErrInvalidInput is returned when neither a customer id nor an email
	// identifies the referrer.
	ErrInvalidInput = errors.New("customer id or email is required")
)

// ResolveInput carries the identity hints for a referrer lookup.
type ResolveInput struct {
	CustomerID string
	Email      string
	Name       string
}

// Service is the referrer directory: one identity row per platform
// customer (or, failing that, per email) within a merchant.
type Service struct {
	db *gorm.DB
}

// NewService creates a new referrer directory
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Resolve finds or creates the referrer for the given identity. Lookup by
// customer id wins; an email-only row is enriched in place once a customer
// id becomes known. Creation goes through the uniqueness constraints so
// concurrent calls with the same identity cannot produce duplicate rows.
func (s *Service) Resolve(ctx context.Context, merchantID uuid.UUID, in ResolveInput) (*models.Referrer, error) {
	customerID := strings.TrimSpace(in.CustomerID)
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if customerID == "" && email == "" {
		return nil, ErrInvalidInput
	}

	if customerID != "" {
		var r models.Referrer
		err := s.db.WithContext(ctx).
			Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
			First(&r).Error
		if err == nil {
			return &r, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up referrer by customer id: %w", err)
		}
	}

	if email != "" {
		var r models.Referrer
		err := s.db.WithContext(ctx).
			Where("merchant_id = ? AND email = ?", merchantID, email).
			First(&r).Error
		if err == nil {
			if customerID != "" && r.CustomerID == nil {
				if err := s.db.WithContext(ctx).
					Model(&r).
					Where("customer_id IS NULL").
					Update("customer_id", customerID).Error; err != nil {
					return nil, fmt.Errorf("failed to enrich referrer: %w", err)
				}
				r.CustomerID = &customerID
			}
			return &r, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("failed to look up referrer by email: %w", err)
		}
	}

	row := models.Referrer{
		ID:         uuid.New(),
		MerchantID: merchantID,
		Name:       fallbackName(in.Name, email),
	}
	if customerID != "" {
		row.CustomerID = &customerID
	}
	if email != "" {
		row.Email = &email
	}

	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to create referrer: %w", err)
	}

	// A concurrent call may have won the insert; read back by the
	// strongest identity we hold.
	var out models.Referrer
	q := s.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if customerID != "" {
		q = q.Where("customer_id = ?", customerID)
	} else {
		q = q.Where("email = ?", email)
	}
	if err := q.First(&out).Error; err != nil {
		return nil, fmt.Errorf("failed to load referrer: %w", err)
	}
	return &out, nil
}

// Get returns a referrer by id.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.Referrer, error) {
	var r models.Referrer
	if err := s.db.WithContext(ctx).First(&r, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("failed to load referrer: %w", err)
	}
	return &r, nil
}

// fallbackName picks a display name: explicit name, then the local part of
// the email, then a neutral default.
func fallbackName(name, email string) string {
	if name = strings.TrimSpace(name); name != "" {
		return name
	}
	if email != "" {
		if at := strings.Index(email, "@"); at > 0 {
			return email[:at]
		}
		return email
	}
	return "Customer"
}
