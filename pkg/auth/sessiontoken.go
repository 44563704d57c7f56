package auth

import (
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SessionClaims represents the claims of an App Bridge session token.
// dest carries the shop the admin user is acting on; aud must match the
// app's API key.
type SessionClaims struct {
	Dest string `json:"dest"`
	Sid  string `json:"sid"`
	jwt.RegisteredClaims
}

// ShopDomain extracts the bare shop domain from the dest claim.
func (c *SessionClaims) ShopDomain() string {
	return strings.TrimSuffix(strings.TrimPrefix(c.Dest, "https://"), "/")
}

// ValidateSessionToken validates a Shopify App Bridge session token and
// returns its claims. Tokens are short-lived (one minute) and signed with
// the app's API secret.
func ValidateSessionToken(tokenString, apiKey, apiSecret string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(apiSecret), nil
	}, jwt.WithLeeway(5*time.Second))

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	if apiKey != "" {
		audience, err := claims.GetAudience()
		if err != nil || !containsAudience(audience, apiKey) {
			return nil, fmt.Errorf("token audience does not match app")
		}
	}

	if claims.ShopDomain() == "" {
		return nil, fmt.Errorf("token is missing shop destination")
	}

	return claims, nil
}

func containsAudience(aud jwt.ClaimStrings, apiKey string) bool {
	for _, a := range aud {
		if a == apiKey {
			return true
		}
	}
	return false
}
