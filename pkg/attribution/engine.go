package attribution

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/models"
	"github.com/refwise/refwise/pkg/referral"
	"github.com/refwise/refwise/pkg/rewards"
)

// RejectReason names the terminal rejection states of the attribution
// state machine. Rejections are expected outcomes, not errors: the webhook
// is acknowledged and never retried for them.
type RejectReason string

const (
	RejectNoCode           RejectReason = "no_code"
	RejectUnknownCode      RejectReason = "unknown_code"
	RejectSelfReferral     RejectReason = "self_referral"
	RejectCampaignInactive RejectReason = "campaign_inactive_or_expired"
	RejectNotEligible      RejectReason = "not_eligible"
	RejectBelowMinOrder    RejectReason = "below_min_order_value"
)

// OrderEvent is the engine-facing order representation, already parsed
// from the platform webhook payload.
type OrderEvent struct {
	OrderID        string
	CustomerID     string
	CustomerEmail  string
	DiscountCodes  []string
	NoteAttributes map[string]string
	LineItems      []eligibility.LineItem
}

// Outcome is the result of attributing one order event. Referrer is set
// only when a reward was credited, so callers can notify them.
type Outcome struct {
	Rejected  bool
	Reason    RejectReason
	Duplicate bool
	Code      string
	Reward    *rewards.DistributeResult
	Referrer  *models.Referrer
}

// Engine is the order-event entry point: it extracts a referral code,
// validates campaign state, enforces anti-abuse rules and orchestrates
// eligibility plus reward dispatch.
//
// Delivery is at-least-once; the engine keeps no state of its own and
// relies entirely on the ledger's idempotency key against double credits.
type Engine struct {
	codes      *referral.Service
	matcher    *eligibility.Matcher
	ledger     *rewards.Service
	codePrefix string
	now        func() time.Time
}

// NewEngine creates a new attribution engine.
func NewEngine(codes *referral.Service, matcher *eligibility.Matcher, ledger *rewards.Service, codePrefix string) *Engine {
	return &Engine{
		codes:      codes,
		matcher:    matcher,
		ledger:     ledger,
		codePrefix: codePrefix,
		now:        time.Now,
	}
}

// AttributeOrder runs the state machine for one order event. A rejection
// is a normal outcome; an error is returned only when a step with durable
// side effects failed. Steps before the ledger insert have no side effects
// of their own, so rejections never roll anything back.
func (e *Engine) AttributeOrder(ctx context.Context, merchantID uuid.UUID, ev OrderEvent) (Outcome, error) {
	code := e.extractCode(ev)
	if code == "" {
		return Outcome{Rejected: true, Reason: RejectNoCode}, nil
	}

	res, err := e.codes.Lookup(ctx, code)
	if err != nil {
		if errors.Is(err, referral.ErrCodeNotFound) {
			return Outcome{Rejected: true, Reason: RejectUnknownCode, Code: code}, nil
		}
		return Outcome{}, fmt.Errorf("code resolution failed: %w", err)
	}
	if res.Code.MerchantID != merchantID {
		// Codes are globally unique; one redeemed against another shop is
		// indistinguishable from an unknown code for that shop.
		return Outcome{Rejected: true, Reason: RejectUnknownCode, Code: code}, nil
	}

	if ev.CustomerID != "" && res.Referrer.CustomerID != nil && ev.CustomerID == *res.Referrer.CustomerID {
		return Outcome{Rejected: true, Reason: RejectSelfReferral, Code: code}, nil
	}

	if !res.Campaign.EffectiveAt(e.now()) {
		return Outcome{Rejected: true, Reason: RejectCampaignInactive, Code: code}, nil
	}

	match, err := e.matcher.Evaluate(ctx, merchantID, ev.LineItems, eligibility.RuleForCampaign(&res.Campaign))
	if err != nil {
		return Outcome{}, fmt.Errorf("eligibility evaluation failed: %w", err)
	}
	if !match.Eligible {
		return Outcome{Rejected: true, Reason: RejectNotEligible, Code: code}, nil
	}
	if res.Campaign.MinOrderValue > 0 && match.QualifyingAmount < res.Campaign.MinOrderValue {
		return Outcome{Rejected: true, Reason: RejectBelowMinOrder, Code: code}, nil
	}

	reward, err := e.ledger.Distribute(ctx, rewards.DistributeInput{
		MerchantID:    merchantID,
		CampaignID:    res.Campaign.ID,
		BeneficiaryID: beneficiaryID(&res.Referrer),
		Code:          code,
		OrderID:       ev.OrderID,
		OrderAmount:   match.QualifyingAmount,
		RewardType:    res.Campaign.ReferrerRewardType,
		RewardValue:   res.Campaign.ReferrerRewardValue,
		Output:        res.Campaign.RewardOutput,
	})
	if err != nil {
		if errors.Is(err, rewards.ErrDuplicateCredit) {
			// Redelivery of an already-credited order; acknowledged as a
			// no-op success.
			log.Printf("order %s already credited against code %s", ev.OrderID, code)
			return Outcome{Duplicate: true, Code: code}, nil
		}
		// The ledger surfaced a failure; nothing before it needs undoing.
		return Outcome{Code: code, Reward: reward}, err
	}

	return Outcome{Code: code, Reward: reward, Referrer: &res.Referrer}, nil
}

// extractCode finds the referral code on an order: a discount code first
// (stripped of the configured prefix), then the ref/referral_code note
// attribute.
func (e *Engine) extractCode(ev OrderEvent) string {
	for _, dc := range ev.DiscountCodes {
		dc = strings.TrimSpace(dc)
		if dc == "" {
			continue
		}
		return strings.TrimPrefix(dc, e.codePrefix)
	}

	for _, key := range []string{"ref", "referral_code"} {
		if v := strings.TrimSpace(ev.NoteAttributes[key]); v != "" {
			return v
		}
	}
	return ""
}

// beneficiaryID picks the balance key for the referrer: the bound platform
// customer id when known, otherwise the referrer row id. Email-only
// referrers still accumulate balance this way; the row is re-keyed
// implicitly once the directory enriches it with a customer id.
func beneficiaryID(r *models.Referrer) string {
	if r.CustomerID != nil && *r.CustomerID != "" {
		return *r.CustomerID
	}
	return r.ID.String()
}
