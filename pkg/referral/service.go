package referral

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/refwise/refwise/pkg/models"
)

const (
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// maxGenerationAttempts bounds collision retries. At 6 symbols over a
	// 36-symbol alphabet a collision is astronomically unlikely, but it is
	// handled rather than ignored.
	maxGenerationAttempts = 5

	// uniqueClickWindow is the per-(code, ip) debounce on the click
	// counter. It gates only the human-facing counter, never rewards.
	uniqueClickWindow = 24 * time.Hour
)

var (
	// ErrCodeNotFound is returned when a referral code does not exist
	ErrCodeNotFound = errors.New("referral code not found")
	// ErrCampaignInactive is returned when issuing against a campaign that
	// is not active.
	ErrCampaignInactive = errors.New("campaign not found or inactive")
	// ErrCodeGenerationExhausted is returned when every generation attempt
	// collided with an existing code.
	ErrCodeGenerationExhausted = errors.New("failed to generate unique code")
)

// Resolution is the read model for a code lookup: the code binding plus
// its campaign and referrer, everything redemption and attribution need.
type Resolution struct {
	Code     models.ReferralCode
	Campaign models.Campaign
	Referrer models.Referrer
}

// ClickResult reports the outcome of one click-tracking call.
type ClickResult struct {
	Recorded bool
	Unique   bool
}

// ValidationResult is the redemption-facing outcome of validating a code.
// Soft failures carry a message, never an error.
type ValidationResult struct {
	Valid        bool
	Message      string
	RewardValue  float64
	RewardType   models.RewardType
	DiscountCode string
}

// Service is the referral code registry: issuance, lookup, click tracking
// and redemption-time validation.
type Service struct {
	db         *gorm.DB
	codeLength int
	codePrefix string
}

// NewService creates a new referral code registry. codePrefix is prepended
// to discount-code hints only; stored codes are bare.
func NewService(db *gorm.DB, codeLength int, codePrefix string) *Service {
	if codeLength <= 0 {
		codeLength = 6
	}
	return &Service{db: db, codeLength: codeLength, codePrefix: codePrefix}
}

// CodePrefix returns the configured discount-code prefix.
func (s *Service) CodePrefix() string {
	return s.codePrefix
}

// IssueOrGet returns the code bound to (referrer, campaign, product),
// creating it on first request. Issuance is idempotent: repeated identical
// requests return the same code. The campaign must be active.
func (s *Service) IssueOrGet(ctx context.Context, merchantID, referrerID, campaignID uuid.UUID, productID, variantID string) (*models.ReferralCode, error) {
	var campaign models.Campaign
	err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ? AND status = ?", campaignID, merchantID, models.CampaignActive).
		First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignInactive
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}

	if existing, err := s.findBinding(ctx, referrerID, campaignID, productID); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	for attempt := 0; attempt < maxGenerationAttempts; attempt++ {
		code, err := generateCode(s.codeLength)
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		row := models.ReferralCode{
			Code:       code,
			MerchantID: merchantID,
			ReferrerID: referrerID,
			CampaignID: campaignID,
			ProductID:  productID,
			VariantID:  variantID,
		}
		res := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&row)
		if res.Error != nil {
			return nil, fmt.Errorf("failed to store code: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return &row, nil
		}

		// Conflict: either a concurrent identical request won the binding,
		// or the generated string collided with someone else's code.
		if existing, err := s.findBinding(ctx, referrerID, campaignID, productID); err != nil {
			return nil, err
		} else if existing != nil {
			return existing, nil
		}
	}

	return nil, ErrCodeGenerationExhausted
}

func (s *Service) findBinding(ctx context.Context, referrerID, campaignID uuid.UUID, productID string) (*models.ReferralCode, error) {
	var row models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("referrer_id = ? AND campaign_id = ? AND product_id = ?", referrerID, campaignID, productID).
		First(&row).Error
	if err == nil {
		return &row, nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return nil, fmt.Errorf("failed to look up code binding: %w", err)
}

// Lookup resolves a code to its binding, campaign and referrer. Pure read,
// shared by redemption and order attribution.
func (s *Service) Lookup(ctx context.Context, code string) (*Resolution, error) {
	var r Resolution
	err := s.db.WithContext(ctx).Where("code = ?", code).First(&r.Code).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCodeNotFound
		}
		return nil, fmt.Errorf("failed to look up code: %w", err)
	}

	if err := s.db.WithContext(ctx).First(&r.Campaign, "id = ?", r.Code.CampaignID).Error; err != nil {
		return nil, fmt.Errorf("failed to load campaign for code %s: %w", code, err)
	}
	if err := s.db.WithContext(ctx).First(&r.Referrer, "id = ?", r.Code.ReferrerID).Error; err != nil {
		return nil, fmt.Errorf("failed to load referrer for code %s: %w", code, err)
	}
	return &r, nil
}

// TrackClick appends a click audit row and bumps the code's click counter
// unless the same (code, ip) clicked within the trailing 24 hours. The
// audit insert and the guarded increment share one transaction: the
// counter update row-locks the code, so two concurrent clicks from one ip
// serialize and the second sees the first's audit row.
func (s *Service) TrackClick(ctx context.Context, merchantID uuid.UUID, code, ip, userAgent string) (ClickResult, error) {
	var binding models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("code = ? AND merchant_id = ?", code, merchantID).
		First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ClickResult{}, ErrCodeNotFound
		}
		return ClickResult{}, fmt.Errorf("failed to look up code: %w", err)
	}

	unique := true
	click := models.ReferralClick{
		Code:      code,
		IPAddress: ip,
		UserAgent: userAgent,
		Source:    "widget",
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&click).Error; err != nil {
			return fmt.Errorf("failed to record click: %w", err)
		}

		if ip == "" {
			// Without an ip there is nothing to debounce on.
			return tx.Model(&models.ReferralCode{}).
				Where("code = ?", code).
				UpdateColumn("clicks", gorm.Expr("clicks + 1")).Error
		}

		cutoff := time.Now().Add(-uniqueClickWindow)
		res := tx.Exec(
			`UPDATE referral_codes SET clicks = clicks + 1
			 WHERE code = ?
			   AND NOT EXISTS (
			     SELECT 1 FROM referral_clicks
			     WHERE code = ? AND ip_address = ? AND created_at > ? AND id <> ?
			   )`,
			code, code, ip, cutoff, click.ID,
		)
		if res.Error != nil {
			return fmt.Errorf("failed to update click counter: %w", res.Error)
		}
		unique = res.RowsAffected > 0
		return nil
	})
	if err != nil {
		return ClickResult{}, err
	}

	return ClickResult{Recorded: true, Unique: unique}, nil
}

// Validate checks a code on behalf of a referee at redemption time and,
// when the referee is identified, records a deduplicated claim. Soft
// failures are results, not errors: the storefront widget must degrade
// gracefully.
func (s *Service) Validate(ctx context.Context, merchantID uuid.UUID, code, refereeCustomerID string) (ValidationResult, error) {
	var binding models.ReferralCode
	err := s.db.WithContext(ctx).
		Where("code = ? AND merchant_id = ?", code, merchantID).
		First(&binding).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ValidationResult{Valid: false, Message: "Invalid referral code"}, nil
		}
		return ValidationResult{}, fmt.Errorf("failed to look up code: %w", err)
	}

	var campaign models.Campaign
	if err := s.db.WithContext(ctx).First(&campaign, "id = ?", binding.CampaignID).Error; err != nil {
		return ValidationResult{}, fmt.Errorf("failed to load campaign: %w", err)
	}

	if campaign.Status != models.CampaignActive {
		return ValidationResult{Valid: false, Message: "Campaign is no longer active"}, nil
	}
	if campaign.EndDate != nil && campaign.EndDate.Before(time.Now()) {
		return ValidationResult{Valid: false, Message: "Campaign has expired"}, nil
	}

	if refereeCustomerID != "" {
		claim := models.RefereeClaim{
			ID:                uuid.New(),
			MerchantID:        merchantID,
			Code:              code,
			RefereeCustomerID: refereeCustomerID,
		}
		// Claims dedupe on (merchant, code, referee); a failed save never
		// fails the validation itself.
		if err := s.db.WithContext(ctx).
			Clauses(clause.OnConflict{DoNothing: true}).
			Create(&claim).Error; err != nil {
			log.Printf("failed to save referee claim for code %s: %v", code, err)
		}
	}

	return ValidationResult{
		Valid:        true,
		Message:      "Referral valid",
		RewardValue:  campaign.RefereeRewardValue,
		RewardType:   campaign.RefereeRewardType,
		DiscountCode: s.codePrefix + code,
	}, nil
}

// generateCode draws a fixed-length token from the 36-symbol alphabet.
func generateCode(length int) (string, error) {
	return readCode(rand.Reader, length)
}

// readCode maps random bytes onto the alphabet, rejecting bytes at or
// above the largest multiple of the alphabet size so no symbol is more
// likely than another.
func readCode(r io.Reader, length int) (string, error) {
	limit := byte(256 - 256%len(codeAlphabet))
	out := make([]byte, 0, length)
	buf := make([]byte, length)
	for len(out) < length {
		if _, err := io.ReadFull(r, buf); err != nil {
			return "", err
		}
		for _, b := range buf {
			if b >= limit {
				continue
			}
			out = append(out, codeAlphabet[int(b)%len(codeAlphabet)])
			if len(out) == length {
				break
			}
		}
	}
	return string(out), nil
}
