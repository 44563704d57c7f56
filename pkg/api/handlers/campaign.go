package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apierrors "github.com/refwise/refwise/pkg/api/errors"
	"github.com/refwise/refwise/pkg/campaigns"
	"github.com/refwise/refwise/pkg/models"
)

// CampaignRequest is the admin payload for creating or updating a campaign.
type CampaignRequest struct {
	Name                string     `json:"name" validate:"required"`
	Status              string     `json:"status" validate:"required"`
	StartDate           time.Time  `json:"start_date" validate:"required"`
	EndDate             *time.Time `json:"end_date,omitempty"`
	RewardOutput        string     `json:"reward_output" validate:"required,oneof=wallet cashback points coupon"`
	ReferrerRewardType  string     `json:"referrer_reward_type" validate:"required,oneof=percentage fixed"`
	ReferrerRewardValue float64    `json:"referrer_reward_value" validate:"gte=0"`
	RefereeRewardType   string     `json:"referee_reward_type" validate:"omitempty,oneof=percentage fixed"`
	RefereeRewardValue  float64    `json:"referee_reward_value" validate:"gte=0"`
	MinOrderValue       float64    `json:"min_order_value" validate:"gte=0"`
	EligibleType        string     `json:"eligible_type" validate:"required,oneof=all product collection"`
	EligibleIDs         []string   `json:"eligible_ids,omitempty"`
}

func (r *CampaignRequest) draft() campaigns.Draft {
	return campaigns.Draft{
		Name:                r.Name,
		Status:              models.CampaignStatus(r.Status),
		StartDate:           r.StartDate,
		EndDate:             r.EndDate,
		RewardOutput:        models.OutputType(r.RewardOutput),
		ReferrerRewardType:  models.RewardType(r.ReferrerRewardType),
		ReferrerRewardValue: r.ReferrerRewardValue,
		RefereeRewardType:   models.RewardType(r.RefereeRewardType),
		RefereeRewardValue:  r.RefereeRewardValue,
		MinOrderValue:       r.MinOrderValue,
		EligibleType:        models.EligibleType(r.EligibleType),
		EligibleIDs:         r.EligibleIDs,
	}
}

// CampaignHandler serves the embedded-admin campaign endpoints. The
// session token middleware has already resolved the merchant.
type CampaignHandler struct {
	service *campaigns.Service
}

// NewCampaignHandler creates a new campaign handler.
func NewCampaignHandler(service *campaigns.Service) *CampaignHandler {
	return &CampaignHandler{service: service}
}

// Create handles POST /api/v1/campaigns
func (h *CampaignHandler) Create(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	var req CampaignRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	campaign, err := h.service.Create(ctx, merchantID, req.draft())
	if err != nil {
		if errors.Is(err, campaigns.ErrInvalidCampaign) {
			return apierrors.ValidationError(c, err)
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusCreated, campaign)
}

// List handles GET /api/v1/campaigns
func (h *CampaignHandler) List(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	result, err := h.service.List(ctx, merchantID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, result)
}

// Get handles GET /api/v1/campaigns/:id
func (h *CampaignHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	campaign, err := h.service.Get(ctx, merchantID, campaignID)
	if err != nil {
		if errors.Is(err, campaigns.ErrCampaignNotFound) {
			return apierrors.NotFoundError(c, "campaign")
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, campaign)
}

// Update handles PUT /api/v1/campaigns/:id
func (h *CampaignHandler) Update(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req CampaignRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	campaign, err := h.service.Update(ctx, merchantID, campaignID, req.draft())
	if err != nil {
		switch {
		case errors.Is(err, campaigns.ErrCampaignNotFound):
			return apierrors.NotFoundError(c, "campaign")
		case errors.Is(err, campaigns.ErrInvalidCampaign):
			return apierrors.ValidationError(c, err)
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, campaign)
}

// SetStatus handles PATCH /api/v1/campaigns/:id/status
func (h *CampaignHandler) SetStatus(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	campaignID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return apierrors.ValidationError(c, err)
	}

	var req struct {
		Status string `json:"status" validate:"required"`
	}
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	err = h.service.SetStatus(ctx, merchantID, campaignID, models.CampaignStatus(req.Status))
	if err != nil {
		switch {
		case errors.Is(err, campaigns.ErrCampaignNotFound):
			return apierrors.NotFoundError(c, "campaign")
		case errors.Is(err, campaigns.ErrInvalidCampaign):
			return apierrors.ValidationError(c, err)
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": req.Status})
}
