package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apierrors "github.com/refwise/refwise/pkg/api/errors"
	"github.com/refwise/refwise/pkg/merchant"
)

// SettingsHandler serves merchant-level reward settings.
type SettingsHandler struct {
	merchants *merchant.Service
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(merchants *merchant.Service) *SettingsHandler {
	return &SettingsHandler{merchants: merchants}
}

// Get handles GET /api/v1/settings
func (h *SettingsHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	settings, err := h.merchants.GetSettings(ctx, merchantID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, settings)
}

// Update handles PUT /api/v1/settings
func (h *SettingsHandler) Update(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	var req struct {
		Currency   string  `json:"currency" validate:"required,len=3"`
		PointValue float64 `json:"point_value" validate:"gt=0"`
	}
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	if err := h.merchants.UpdateSettings(ctx, merchantID, req.Currency, req.PointValue); err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"currency":    req.Currency,
		"point_value": req.PointValue,
	})
}
