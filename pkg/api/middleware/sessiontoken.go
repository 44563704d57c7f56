package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/refwise/refwise/pkg/auth"
	"github.com/refwise/refwise/pkg/merchant"
	"github.com/refwise/refwise/pkg/models"
)

// SessionTokenMiddleware authenticates embedded-admin requests with a
// Shopify App Bridge session token and resolves the acting merchant.
// Handlers read the merchant id from the context under "merchant_id".
func SessionTokenMiddleware(apiKey, apiSecret string, merchants *merchant.Service) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get("Authorization")
			if authHeader == "" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "missing_token",
					Message: "Authorization header is required",
				})
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token_format",
					Message: "Authorization header must be 'Bearer {token}'",
				})
			}

			claims, err := auth.ValidateSessionToken(parts[1], apiKey, apiSecret)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "invalid_token",
					Message: err.Error(),
				})
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), 5*time.Second)
			defer cancel()

			m, err := merchants.ResolveOrCreate(ctx, claims.ShopDomain())
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{
					Error:   "unknown_merchant",
					Message: "Could not resolve merchant for shop",
				})
			}

			c.Set("merchant_id", m.ID)
			c.Set("shop_domain", m.ShopDomain)

			return next(c)
		}
	}
}
