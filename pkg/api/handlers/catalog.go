package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	apierrors "github.com/refwise/refwise/pkg/api/errors"
	"github.com/refwise/refwise/pkg/catalog"
)

// CatalogHandler serves the embedded-admin catalog mirror endpoints. The
// admin UI fetches collects from the platform and pushes them here; the
// backend never calls the platform for catalog data itself.
type CatalogHandler struct {
	service *catalog.Service
}

// NewCatalogHandler creates a new catalog handler.
func NewCatalogHandler(service *catalog.Service) *CatalogHandler {
	return &CatalogHandler{service: service}
}

// ListProducts handles GET /api/v1/catalog/products
func (h *CatalogHandler) ListProducts(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	products, err := h.service.ListProducts(ctx, merchantID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, products)
}

// ListCollections handles GET /api/v1/catalog/collections
func (h *CatalogHandler) ListCollections(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)

	collections, err := h.service.ListCollections(ctx, merchantID)
	if err != nil {
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, collections)
}

// SetCollects handles PUT /api/v1/catalog/collections/:id/products. It
// replaces a collection's product memberships with an already-fetched
// collects payload.
func (h *CatalogHandler) SetCollects(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 10*time.Second)
	defer cancel()

	merchantID := c.Get("merchant_id").(uuid.UUID)
	collectionID := c.Param("id")

	// An empty list is valid and clears the collection's memberships.
	var req struct {
		ProductIDs []string `json:"product_ids" validate:"dive,required"`
	}
	if err := c.Bind(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}
	if err := c.Validate(&req); err != nil {
		return apierrors.ValidationError(c, err)
	}

	linked, err := h.service.SetCollectionMembers(ctx, merchantID, collectionID, req.ProductIDs)
	if err != nil {
		if errors.Is(err, catalog.ErrCollectionNotFound) {
			return apierrors.NotFoundError(c, "collection")
		}
		return apierrors.DatabaseError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"collection_id": collectionID,
		"linked":        linked,
	})
}
