package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"gorm.io/gorm"

	apierrors "github.com/refwise/refwise/pkg/api/errors"
	"github.com/refwise/refwise/pkg/metrics"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/rewards"
)

// RewardsHandler serves the embedded-admin ledger and balance endpoints.
type RewardsHandler struct {
	db        *gorm.DB
	service   *rewards.Service
	metrics   *metrics.Metrics
	graceMins int
}

// NewRewardsHandler creates a new rewards handler.
func NewRewardsHandler(db *gorm.DB, service *rewards.Service, m *metrics.Metrics, graceMins int) *RewardsHandler {
	return &RewardsHandler{db: db, service: service, metrics: m, graceMins: graceMins}
}

// ListLedger handles GET /api/v1/rewards/ledger
func (h *RewardsHandler) ListLedger(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	query := h.db.WithContext(ctx).Where("merchant_id = ?", merchantID)
	if status := c.QueryParam("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if code := c.QueryParam("code"); code != "" {
		query = query.Where("code = ?", code)
	}

	var entries []models.LedgerEntry
	if err := query.Order("created_at DESC").Limit(200).Find(&entries).Error; err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, entries)
}

// GetBalances handles GET /api/v1/rewards/balances/:customer_id
func (h *RewardsHandler) GetBalances(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)
	customerID := c.Param("customer_id")

	wallet, err := h.service.WalletBalance(ctx, merchantID, customerID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}
	points, err := h.service.PointsBalance(ctx, merchantID, customerID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"customer_id":    customerID,
		"wallet_balance": wallet,
		"points_balance": points,
	})
}

// Reconcile handles POST /api/v1/rewards/reconcile: an on-demand sweep of
// ledger entries stuck in approved. The cron job runs the same sweep on a
// schedule.
func (h *RewardsHandler) Reconcile(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 30*time.Second)
	defer cancel()

	completed, err := h.service.Reconcile(ctx, time.Duration(h.graceMins)*time.Minute)
	if err != nil {
		return apierrors.InternalError(c, err)
	}
	for i := 0; i < completed; i++ {
		h.metrics.LedgerReconciled.Inc()
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"completed": completed,
	})
}
