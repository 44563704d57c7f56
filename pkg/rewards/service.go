package rewards

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/refwise/refwise/pkg/models"
)

var (
	// ErrUnknownCampaign is returned when the campaign/merchant pair
	// cannot be resolved.
	ErrUnknownCampaign = errors.New("campaign or merchant not found")
	// ErrDuplicateCredit is returned when an entry for the same
	// (merchant, order, beneficiary) already exists. Callers treat it as
	// a benign idempotent success.
	ErrDuplicateCredit = errors.New("reward already credited for this order")
	// ErrIssuanceFailed is returned when coupon minting fails. The ledger
	// entry stays in a recoverable state for the reconciler.
	ErrIssuanceFailed = errors.New("coupon issuance failed")
)

// CouponIssuer mints single-use discount codes on the platform. May fail
// transiently.
type CouponIssuer interface {
	Mint(ctx context.Context, merchantID uuid.UUID, codeHint string, value float64, valueType models.RewardType) (string, error)
}

// DistributeInput carries one reward computation request. MerchantID and
// OrderID together with the beneficiary form the idempotency key.
type DistributeInput struct {
	MerchantID    uuid.UUID
	CampaignID    uuid.UUID
	BeneficiaryID string
	Code          string
	OrderID       string
	OrderAmount   float64
	RewardType    models.RewardType
	RewardValue   float64
	Output        models.OutputType
}

// DistributeResult reports the credit that was written.
type DistributeResult struct {
	LedgerEntryID uuid.UUID
	Output        models.OutputType
	Amount        float64
	Points        int
	CouponCode    string
}

// Service is the reward ledger: it converts reward rules into concrete
// credits and applies them, durably and idempotently, to customer
// balances. The ledger uniqueness constraint is the sole mechanism against
// double-crediting under concurrent webhook redelivery.
type Service struct {
	db     *gorm.DB
	issuer CouponIssuer
}

// NewService creates a new reward ledger. issuer may be nil when coupon
// campaigns are not configured; coupon distribution then fails as
// issuance failure and stays recoverable.
func NewService(db *gorm.DB, issuer CouponIssuer) *Service {
	return &Service{db: db, issuer: issuer}
}

// Distribute computes the reward and applies it.
//
// The entry is inserted first in a non-final approved state through the
// (merchant_id, order_id, customer_id) constraint; only then is the
// balance touched. A crash between the two leaves an approved entry the
// reconciler can complete without recomputing anything.
func (s *Service) Distribute(ctx context.Context, in DistributeInput) (*DistributeResult, error) {
	var campaign models.Campaign
	err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", in.CampaignID, in.MerchantID).
		First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCampaign
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	var m models.Merchant
	if err := s.db.WithContext(ctx).First(&m, "id = ?", in.MerchantID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUnknownCampaign
		}
		return nil, fmt.Errorf("failed to load merchant: %w", err)
	}

	amount, points, output := computeReward(in, m.PointValue)

	entry := models.LedgerEntry{
		ID:         uuid.New(),
		MerchantID: in.MerchantID,
		OrderID:    in.OrderID,
		CustomerID: in.BeneficiaryID,
		CampaignID: in.CampaignID,
		Code:       in.Code,
		RewardType: output,
		Amount:     amount,
		Points:     points,
		Status:     models.LedgerApproved,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "order_id"}, {Name: "customer_id"}},
			DoNothing: true,
		}).
		Create(&entry)
	if res.Error != nil {
		return nil, fmt.Errorf("failed to write ledger entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrDuplicateCredit
	}

	result := &DistributeResult{
		LedgerEntryID: entry.ID,
		Output:        output,
		Amount:        amount,
		Points:        points,
	}

	if err := s.complete(ctx, &entry, m.Currency); err != nil {
		// The entry stays approved for the reconciler; the caller learns
		// the credit is recorded but not yet final.
		return result, err
	}
	if entry.CouponCode != nil {
		result.CouponCode = *entry.CouponCode
	}
	return result, nil
}

// complete finishes an approved ledger entry: applies the balance (wallet
// or points) or mints the coupon, then moves the entry to its terminal
// status. Balance application and the status flip share one transaction
// so a partial completion is never observable.
func (s *Service) complete(ctx context.Context, entry *models.LedgerEntry, currency string) error {
	switch entry.RewardType {
	case models.OutputPoints:
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row := models.UserPoints{
				MerchantID:    entry.MerchantID,
				CustomerID:    entry.CustomerID,
				PointsBalance: entry.Points,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "merchant_id"}, {Name: "customer_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"points_balance": gorm.Expr("user_points.points_balance + ?", entry.Points),
					"updated_at":     time.Now(),
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to credit points balance: %w", err)
			}
			return s.finalize(tx, entry, models.LedgerProcessed)
		})

	case models.OutputCoupon:
		if s.issuer == nil {
			return ErrIssuanceFailed
		}
		coupon, err := s.issuer.Mint(ctx, entry.MerchantID, entry.Code, entry.Amount, models.RewardFixed)
		if err != nil {
			log.Printf("coupon issuance failed for ledger entry %s: %v", entry.ID, err)
			return fmt.Errorf("%w: %v", ErrIssuanceFailed, err)
		}
		entry.CouponCode = &coupon
		err = s.db.WithContext(ctx).
			Model(&models.LedgerEntry{}).
			Where("id = ? AND status = ?", entry.ID, models.LedgerApproved).
			Updates(map[string]interface{}{"coupon_code": coupon, "status": models.LedgerIssued}).Error
		if err != nil {
			return fmt.Errorf("failed to finalize coupon entry: %w", err)
		}
		entry.Status = models.LedgerIssued
		return nil

	default: // wallet / cashback
		return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			row := models.UserWallet{
				MerchantID: entry.MerchantID,
				CustomerID: entry.CustomerID,
				Balance:    entry.Amount,
				Currency:   currency,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "merchant_id"}, {Name: "customer_id"}},
				DoUpdates: clause.Assignments(map[string]interface{}{
					"balance":    gorm.Expr("user_wallets.balance + ?", entry.Amount),
					"updated_at": time.Now(),
				}),
			}).Create(&row).Error
			if err != nil {
				return fmt.Errorf("failed to credit wallet balance: %w", err)
			}
			return s.finalize(tx, entry, models.LedgerProcessed)
		})
	}
}

func (s *Service) finalize(tx *gorm.DB, entry *models.LedgerEntry, status models.LedgerStatus) error {
	res := tx.Model(&models.LedgerEntry{}).
		Where("id = ? AND status = ?", entry.ID, models.LedgerApproved).
		Update("status", status)
	if res.Error != nil {
		return fmt.Errorf("failed to finalize ledger entry: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		// Another worker (the reconciler, typically) finished it first;
		// abort so the balance credit in this transaction rolls back.
		return fmt.Errorf("ledger entry %s already finalized", entry.ID)
	}
	entry.Status = status
	return nil
}

// Reconcile completes approved ledger entries older than the grace period
// without recomputing rewards. Returns how many entries were finished.
func (s *Service) Reconcile(ctx context.Context, grace time.Duration) (int, error) {
	cutoff := time.Now().Add(-grace)

	var stale []models.LedgerEntry
	err := s.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", models.LedgerApproved, cutoff).
		Order("created_at ASC").
		Find(&stale).Error
	if err != nil {
		return 0, fmt.Errorf("failed to list stale ledger entries: %w", err)
	}

	completed := 0
	for i := range stale {
		entry := &stale[i]

		var m models.Merchant
		if err := s.db.WithContext(ctx).First(&m, "id = ?", entry.MerchantID).Error; err != nil {
			log.Printf("reconcile: merchant %s missing for entry %s: %v", entry.MerchantID, entry.ID, err)
			continue
		}
		if err := s.complete(ctx, entry, m.Currency); err != nil {
			log.Printf("reconcile: entry %s not completed: %v", entry.ID, err)
			continue
		}
		completed++
	}

	if len(stale) > 0 {
		log.Printf("reconcile: completed %d/%d stale ledger entries", completed, len(stale))
	}
	return completed, nil
}

// WalletBalance returns the cash balance for a (merchant, customer) pair.
func (s *Service) WalletBalance(ctx context.Context, merchantID uuid.UUID, customerID string) (float64, error) {
	var w models.UserWallet
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
		First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load wallet: %w", err)
	}
	return w.Balance, nil
}

// PointsBalance returns the points balance for a (merchant, customer) pair.
func (s *Service) PointsBalance(ctx context.Context, merchantID uuid.UUID, customerID string) (int, error) {
	var p models.UserPoints
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND customer_id = ?", merchantID, customerID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to load points: %w", err)
	}
	return p.PointsBalance, nil
}

// computeReward turns a reward rule into the concrete amount or points for
// the output format. pointValue is the merchant's cash value of one point.
func computeReward(in DistributeInput, pointValue float64) (amount float64, points int, output models.OutputType) {
	cashValue := in.RewardValue
	if in.RewardType == models.RewardPercentage {
		cashValue = in.OrderAmount * in.RewardValue / 100
	}

	output = in.Output
	if output == "" {
		output = models.OutputWallet
	}

	if output == models.OutputPoints {
		if pointValue <= 0 {
			pointValue = 0.01
		}
		return 0, int(math.Floor(cashValue / pointValue)), output
	}
	return cashValue, 0, output
}
