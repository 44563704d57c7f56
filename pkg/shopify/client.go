package shopify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/refwise/refwise/pkg/models"
)

var (
	// ErrUnknownMerchant is returned when no credentials exist for a merchant
	ErrUnknownMerchant = errors.New("no shopify credentials for merchant")

	// ErrAPIFailed is returned when the Admin API rejects a request
	ErrAPIFailed = errors.New("shopify admin api request failed")
)

// Credentials resolves a merchant to its shop domain and Admin API token.
type Credentials interface {
	Lookup(ctx context.Context, merchantID uuid.UUID) (shopDomain, accessToken string, err error)
}

// StaticCredentials serves one store from configuration. Multi-store
// installs swap in a token store backed by the merchants table.
type StaticCredentials struct {
	ShopDomain  string
	AccessToken string
}

func (s StaticCredentials) Lookup(ctx context.Context, merchantID uuid.UUID) (string, string, error) {
	if s.ShopDomain == "" || s.AccessToken == "" {
		return "", "", ErrUnknownMerchant
	}
	return s.ShopDomain, s.AccessToken, nil
}

// Client talks to the Shopify Admin REST API.
type Client struct {
	creds      Credentials
	apiVersion string
	httpClient *http.Client
}

// NewClient creates a new Admin API client.
func NewClient(creds Credentials, apiVersion string) *Client {
	if apiVersion == "" {
		apiVersion = "2024-10"
	}
	return &Client{
		creds:      creds,
		apiVersion: apiVersion,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type priceRuleRequest struct {
	PriceRule priceRule `json:"price_rule"`
}

type priceRule struct {
	ID                int64   `json:"id,omitempty"`
	Title             string  `json:"title"`
	TargetType        string  `json:"target_type"`
	TargetSelection   string  `json:"target_selection"`
	AllocationMethod  string  `json:"allocation_method"`
	ValueType         string  `json:"value_type"`
	Value             string  `json:"value"`
	CustomerSelection string  `json:"customer_selection"`
	UsageLimit        int     `json:"usage_limit"`
	OncePerCustomer   bool    `json:"once_per_customer"`
	StartsAt          string  `json:"starts_at"`
	EndsAt            *string `json:"ends_at,omitempty"`
}

type discountCodeRequest struct {
	DiscountCode discountCode `json:"discount_code"`
}

type discountCode struct {
	ID   int64  `json:"id,omitempty"`
	Code string `json:"code"`
}

// Mint creates a single-use discount code backed by a dedicated price
// rule. The returned code is what the beneficiary redeems at checkout.
func (c *Client) Mint(ctx context.Context, merchantID uuid.UUID, codeHint string, value float64, valueType models.RewardType) (string, error) {
	domain, token, err := c.creds.Lookup(ctx, merchantID)
	if err != nil {
		return "", err
	}

	code := rewardCode(codeHint)
	rule := priceRule{
		Title:             code,
		TargetType:        "line_item",
		TargetSelection:   "all",
		AllocationMethod:  "across",
		ValueType:         "fixed_amount",
		Value:             fmt.Sprintf("-%.2f", value),
		CustomerSelection: "all",
		UsageLimit:        1,
		OncePerCustomer:   true,
		StartsAt:          time.Now().UTC().Format(time.RFC3339),
	}
	if valueType == models.RewardPercentage {
		rule.ValueType = "percentage"
		rule.Value = fmt.Sprintf("-%.0f", value)
	}

	var ruleResp priceRuleRequest
	if err := c.post(ctx, domain, token, "price_rules.json", priceRuleRequest{PriceRule: rule}, &ruleResp); err != nil {
		return "", err
	}

	var codeResp discountCodeRequest
	path := fmt.Sprintf("price_rules/%d/discount_codes.json", ruleResp.PriceRule.ID)
	if err := c.post(ctx, domain, token, path, discountCodeRequest{DiscountCode: discountCode{Code: code}}, &codeResp); err != nil {
		return "", err
	}

	return codeResp.DiscountCode.Code, nil
}

func (c *Client) post(ctx context.Context, domain, token, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("https://%s/admin/api/%s/%s", domain, c.apiVersion, path)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Shopify-Access-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAPIFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("%w: status %d: %s", ErrAPIFailed, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// rewardCode derives a redeemable coupon code from the referral code it
// rewards, suffixed so repeated rewards for the same code stay distinct.
func rewardCode(hint string) string {
	suffix := strings.ToUpper(uuid.New().String()[:8])
	if hint == "" {
		return "REWARD-" + suffix
	}
	return fmt.Sprintf("RW-%s-%s", strings.ToUpper(hint), suffix)
}

// VerifyWebhookHMAC checks the X-Shopify-Hmac-Sha256 header against the
// raw request body. Comparison is constant time.
func VerifyWebhookHMAC(body []byte, headerValue, secret string) bool {
	if secret == "" || headerValue == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(headerValue)) == 1
}
