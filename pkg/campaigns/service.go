package campaigns

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/models"
)

var (
	// ErrCampaignNotFound is returned when a campaign does not exist
	ErrCampaignNotFound = errors.New("campaign not found")

	// ErrInvalidCampaign is returned when campaign fields fail validation
	ErrInvalidCampaign = errors.New("invalid campaign")

	// ErrNoActiveCampaign is returned when a merchant has no effective campaign
	ErrNoActiveCampaign = errors.New("no active campaign")
)

// Draft carries the writable campaign fields for create and update.
type Draft struct {
	Name                string
	Status              models.CampaignStatus
	StartDate           time.Time
	EndDate             *time.Time
	RewardOutput        models.OutputType
	ReferrerRewardType  models.RewardType
	ReferrerRewardValue float64
	RefereeRewardType   models.RewardType
	RefereeRewardValue  float64
	MinOrderValue       float64
	EligibleType        models.EligibleType
	EligibleIDs         []string
}

// Service manages the campaign lifecycle. Eligibility ids are normalized
// to bare numeric identifiers at write time, so the attribution hot path
// never parses gid strings.
type Service struct {
	db *gorm.DB
}

// NewService creates a new campaign service.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Create stores a new campaign for the merchant.
func (s *Service) Create(ctx context.Context, merchantID uuid.UUID, draft Draft) (*models.Campaign, error) {
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}

	campaign := models.Campaign{
		ID:                  uuid.New(),
		MerchantID:          merchantID,
		Name:                draft.Name,
		Status:              draft.Status,
		StartDate:           draft.StartDate,
		EndDate:             draft.EndDate,
		RewardOutput:        draft.RewardOutput,
		ReferrerRewardType:  draft.ReferrerRewardType,
		ReferrerRewardValue: draft.ReferrerRewardValue,
		RefereeRewardType:   draft.RefereeRewardType,
		RefereeRewardValue:  draft.RefereeRewardValue,
		MinOrderValue:       draft.MinOrderValue,
		EligibleType:        draft.EligibleType,
		EligibleIDs:         normalizeIDs(draft.EligibleIDs),
	}
	if err := s.db.WithContext(ctx).Create(&campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to create campaign: %w", err)
	}
	return &campaign, nil
}

// Get returns one campaign scoped to the merchant.
func (s *Service) Get(ctx context.Context, merchantID, campaignID uuid.UUID) (*models.Campaign, error) {
	var campaign models.Campaign
	err := s.db.WithContext(ctx).
		Where("id = ? AND merchant_id = ?", campaignID, merchantID).
		First(&campaign).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to load campaign: %w", err)
	}
	return &campaign, nil
}

// List returns the merchant's campaigns, newest first.
func (s *Service) List(ctx context.Context, merchantID uuid.UUID) ([]models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("created_at DESC").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	return campaigns, nil
}

// Update replaces the writable fields of an existing campaign. Ledger
// entries already written under the old terms are untouched.
func (s *Service) Update(ctx context.Context, merchantID, campaignID uuid.UUID, draft Draft) (*models.Campaign, error) {
	if err := validateDraft(&draft); err != nil {
		return nil, err
	}

	campaign, err := s.Get(ctx, merchantID, campaignID)
	if err != nil {
		return nil, err
	}

	campaign.Name = draft.Name
	campaign.Status = draft.Status
	campaign.StartDate = draft.StartDate
	campaign.EndDate = draft.EndDate
	campaign.RewardOutput = draft.RewardOutput
	campaign.ReferrerRewardType = draft.ReferrerRewardType
	campaign.ReferrerRewardValue = draft.ReferrerRewardValue
	campaign.RefereeRewardType = draft.RefereeRewardType
	campaign.RefereeRewardValue = draft.RefereeRewardValue
	campaign.MinOrderValue = draft.MinOrderValue
	campaign.EligibleType = draft.EligibleType
	campaign.EligibleIDs = normalizeIDs(draft.EligibleIDs)

	if err := s.db.WithContext(ctx).Save(campaign).Error; err != nil {
		return nil, fmt.Errorf("failed to update campaign: %w", err)
	}
	return campaign, nil
}

// SetStatus transitions a campaign without touching the rest of its fields.
func (s *Service) SetStatus(ctx context.Context, merchantID, campaignID uuid.UUID, status models.CampaignStatus) error {
	if !status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCampaign, status)
	}
	result := s.db.WithContext(ctx).
		Model(&models.Campaign{}).
		Where("id = ? AND merchant_id = ?", campaignID, merchantID).
		Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("failed to update campaign status: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrCampaignNotFound
	}
	return nil
}

// ActiveFor returns the merchant's currently effective campaign, preferring
// the most recently created one when several overlap. The storefront widget
// uses this to decide whether to render at all.
func (s *Service) ActiveFor(ctx context.Context, merchantID uuid.UUID, now time.Time) (*models.Campaign, error) {
	var campaigns []models.Campaign
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND status = ?", merchantID, models.CampaignActive).
		Order("created_at DESC").
		Find(&campaigns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active campaigns: %w", err)
	}
	for i := range campaigns {
		if campaigns[i].EffectiveAt(now) {
			return &campaigns[i], nil
		}
	}
	return nil, ErrNoActiveCampaign
}

func validateDraft(d *Draft) error {
	if d.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidCampaign)
	}
	if !d.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidCampaign, d.Status)
	}
	if d.EndDate != nil && !d.EndDate.After(d.StartDate) {
		return fmt.Errorf("%w: end date must be after start date", ErrInvalidCampaign)
	}
	if d.ReferrerRewardValue < 0 || d.RefereeRewardValue < 0 {
		return fmt.Errorf("%w: reward values must not be negative", ErrInvalidCampaign)
	}
	if d.MinOrderValue < 0 {
		return fmt.Errorf("%w: minimum order value must not be negative", ErrInvalidCampaign)
	}
	switch d.EligibleType {
	case models.EligibleAll:
	case models.EligibleProduct, models.EligibleCollection:
		if len(d.EligibleIDs) == 0 {
			return fmt.Errorf("%w: eligible ids are required for type %q", ErrInvalidCampaign, d.EligibleType)
		}
	default:
		return fmt.Errorf("%w: unknown eligible type %q", ErrInvalidCampaign, d.EligibleType)
	}
	return nil
}

func normalizeIDs(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if n := eligibility.NormalizeID(id); n != "" {
			out = append(out, n)
		}
	}
	return out
}
