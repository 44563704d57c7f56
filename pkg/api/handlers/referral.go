package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apierrors "github.com/refwise/refwise/pkg/api/errors"
	"github.com/refwise/refwise/pkg/campaigns"
	"github.com/refwise/refwise/pkg/merchant"
	"github.com/refwise/refwise/pkg/metrics"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/referral"
	"github.com/refwise/refwise/pkg/referrer"
)

// ReferralHandler serves the public storefront widget endpoints. Every
// request names its shop explicitly; there is no session on these routes.
type ReferralHandler struct {
	merchants *merchant.Service
	referrers *referrer.Service
	codes     *referral.Service
	campaigns *campaigns.Service
	metrics   *metrics.Metrics
}

// NewReferralHandler creates a new public referral handler.
func NewReferralHandler(merchants *merchant.Service, referrers *referrer.Service, codes *referral.Service, cs *campaigns.Service, m *metrics.Metrics) *ReferralHandler {
	return &ReferralHandler{
		merchants: merchants,
		referrers: referrers,
		codes:     codes,
		campaigns: cs,
		metrics:   m,
	}
}

// GenerateCode godoc
// @Summary Issue a referral code
// @Description Issue (or return the existing) referral code for a customer and campaign
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} models.GenerateReferralResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/public/referrals/create [post]
func (h *ReferralHandler) GenerateCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.GenerateReferralRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	m, err := h.merchants.GetByDomain(ctx, req.Shop)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return apierrors.NotFoundError(c, "shop")
		}
		return apierrors.DatabaseError(c, err)
	}

	campaignID, err := uuid.Parse(req.CampaignID)
	if err != nil {
		return apierrors.ValidationError(c, fmt.Errorf("invalid campaign id"))
	}

	ref, err := h.referrers.Resolve(ctx, m.ID, referrer.ResolveInput{
		CustomerID: req.CustomerID,
		Email:      req.Email,
		Name:       req.Name,
	})
	if err != nil {
		if errors.Is(err, referrer.ErrInvalidInput) {
			return apierrors.ValidationError(c, fmt.Errorf("customer_id or email is required"))
		}
		return apierrors.DatabaseError(c, err)
	}

	code, err := h.codes.IssueOrGet(ctx, m.ID, ref.ID, campaignID, req.ProductID, req.VariantID)
	if err != nil {
		if errors.Is(err, referral.ErrCampaignInactive) {
			return apierrors.ValidationError(c, fmt.Errorf("campaign is not active"))
		}
		return apierrors.DatabaseError(c, err)
	}
	h.metrics.RecordCodeIssued()

	return c.JSON(http.StatusOK, models.GenerateReferralResponse{
		ReferralCode: code.Code,
		ReferralURL:  fmt.Sprintf("https://%s/?ref=%s", m.ShopDomain, code.Code),
		CampaignID:   code.CampaignID.String(),
	})
}

// ValidateCode godoc
// @Summary Validate a referral code
// @Description Check a code at checkout; soft failures return valid=false with HTTP 200
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} models.ValidateReferralResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/public/referrals/validate [post]
func (h *ReferralHandler) ValidateCode(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.ValidateReferralRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	m, err := h.merchants.GetByDomain(ctx, req.Shop)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return apierrors.NotFoundError(c, "shop")
		}
		return apierrors.DatabaseError(c, err)
	}

	result, err := h.codes.Validate(ctx, m.ID, req.Code, req.CustomerID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, models.ValidateReferralResponse{
		Valid:        result.Valid,
		RewardValue:  result.RewardValue,
		RewardType:   string(result.RewardType),
		DiscountCode: result.DiscountCode,
		Message:      result.Message,
	})
}

// TrackClick godoc
// @Summary Track a referral link click
// @Description Record a click on a referral link, deduplicated per IP per day
// @Tags Public
// @Accept json
// @Produce json
// @Success 200 {object} models.TrackClickResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /api/public/referrals/click [post]
func (h *ReferralHandler) TrackClick(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	var req models.TrackClickRequest
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	m, err := h.merchants.GetByDomain(ctx, req.Shop)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return apierrors.NotFoundError(c, "shop")
		}
		return apierrors.DatabaseError(c, err)
	}

	result, err := h.codes.TrackClick(ctx, m.ID, req.Code, c.RealIP(), c.Request().UserAgent())
	if err != nil {
		if errors.Is(err, referral.ErrCodeNotFound) {
			return apierrors.NotFoundError(c, "referral code")
		}
		return apierrors.DatabaseError(c, err)
	}
	h.metrics.RecordClick(result.Unique)

	return c.JSON(http.StatusOK, models.TrackClickResponse{
		Success: result.Recorded,
		Unique:  result.Unique,
	})
}

// CheckCampaign godoc
// @Summary Check for an active campaign
// @Description Tell the widget whether the shop currently has an effective campaign
// @Tags Public
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} models.ErrorResponse
// @Router /api/public/campaigns/check [get]
func (h *ReferralHandler) CheckCampaign(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	shop := c.QueryParam("shop")
	if shop == "" {
		return apierrors.ValidationError(c, fmt.Errorf("shop query parameter is required"))
	}

	m, err := h.merchants.GetByDomain(ctx, shop)
	if err != nil {
		if errors.Is(err, merchant.ErrMerchantNotFound) {
			return c.JSON(http.StatusOK, map[string]interface{}{"active": false})
		}
		return apierrors.DatabaseError(c, err)
	}

	campaign, err := h.campaigns.ActiveFor(ctx, m.ID, time.Now())
	if err != nil {
		if errors.Is(err, campaigns.ErrNoActiveCampaign) {
			return c.JSON(http.StatusOK, map[string]interface{}{"active": false})
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"active":        true,
		"campaign_id":   campaign.ID,
		"campaign_name": campaign.Name,
		"reward_type":   campaign.ReferrerRewardType,
		"reward_value":  campaign.ReferrerRewardValue,
	})
}
