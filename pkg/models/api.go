package models

// ErrorResponse is the generic error body returned by all handlers.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// GenerateReferralRequest is the widget payload for issuing a code.
type GenerateReferralRequest struct {
	Shop       string `json:"shop" validate:"required"`
	CampaignID string `json:"campaign_id" validate:"required,uuid"`
	CustomerID string `json:"customer_id,omitempty"`
	Email      string `json:"email,omitempty" validate:"omitempty,email"`
	Name       string `json:"name,omitempty"`
	ProductID  string `json:"product_id,omitempty"`
	VariantID  string `json:"variant_id,omitempty"`
}

// GenerateReferralResponse mirrors the storefront widget contract.
type GenerateReferralResponse struct {
	ReferralCode string `json:"referral_code"`
	ReferralURL  string `json:"referral_url"`
	CampaignID   string `json:"campaign_id"`
}

// ValidateReferralRequest is the widget payload for redeeming a code.
type ValidateReferralRequest struct {
	Shop       string `json:"shop" validate:"required"`
	Code       string `json:"code" validate:"required"`
	CustomerID string `json:"customer_id,omitempty"`
}

// ValidateReferralResponse always carries a human-facing message; the
// widget must degrade gracefully, so soft failures are {valid:false}
// with HTTP 200, never an error status.
type ValidateReferralResponse struct {
	Valid        bool    `json:"valid"`
	RewardValue  float64 `json:"reward_value,omitempty"`
	RewardType   string  `json:"reward_type,omitempty"`
	DiscountCode string  `json:"discount_code,omitempty"`
	Message      string  `json:"message"`
}

// TrackClickRequest is the widget payload for click tracking.
type TrackClickRequest struct {
	Shop string `json:"shop" validate:"required"`
	Code string `json:"code" validate:"required"`
}

// TrackClickResponse reports whether the click counted as unique.
type TrackClickResponse struct {
	Success bool `json:"success"`
	Unique  bool `json:"unique"`
}
