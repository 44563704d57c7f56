package eligibility

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/refwise/refwise/pkg/models"
)

// LineItem is the order line shape the matcher evaluates. ProductID may
// arrive as a bare numeric id or a platform GID; it is normalized on
// construction of the evaluation, not at each comparison.
type LineItem struct {
	ProductID string
	VariantID string
	Price     float64
	Quantity  int
}

// Rule is the tagged eligibility variant of a campaign. IDs is only
// meaningful for product and collection rules and holds normalized ids.
type Rule struct {
	Type models.EligibleType
	ids  map[string]struct{}
}

// NewRule builds a Rule, normalizing every id once at the boundary.
func NewRule(t models.EligibleType, ids []string) Rule {
	r := Rule{Type: t}
	if t == models.EligibleAll {
		return r
	}
	r.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if n := NormalizeID(id); n != "" && n != "all" {
			r.ids[n] = struct{}{}
		}
	}
	return r
}

// RuleForCampaign derives the matcher rule from a stored campaign.
func RuleForCampaign(c *models.Campaign) Rule {
	t := c.EligibleType
	if t == "" {
		t = models.EligibleAll
	}
	return NewRule(t, c.EligibleIDs)
}

// Contains reports whether the normalized id is part of the rule set.
func (r Rule) Contains(id string) bool {
	_, ok := r.ids[NormalizeID(id)]
	return ok
}

// IDs returns the normalized id set as a slice.
func (r Rule) IDs() []string {
	out := make([]string, 0, len(r.ids))
	for id := range r.ids {
		out = append(out, id)
	}
	return out
}

// NormalizeID strips platform GID prefixes down to the bare numeric
// identifier, so "gid://shopify/Product/9310366662911" and
// "9310366662911" compare equal.
func NormalizeID(id string) string {
	id = strings.TrimSpace(id)
	if i := strings.LastIndex(id, "/"); i >= 0 {
		id = id[i+1:]
	}
	return id
}

// Result is the outcome of one eligibility evaluation.
type Result struct {
	Eligible         bool
	QualifyingAmount float64
	QualifyingItems  []string
}

// CollectionDirectory answers product→collection membership questions,
// scoped to a merchant. Implemented by the catalog store.
type CollectionDirectory interface {
	// FilterProductsInCollections returns the subset of productIDs that
	// belong to at least one of collectionIDs. All ids are bare numeric
	// platform ids.
	FilterProductsInCollections(ctx context.Context, merchantID uuid.UUID, productIDs, collectionIDs []string) (map[string]struct{}, error)
}

// Matcher decides which line items of an order qualify under a campaign's
// eligibility rule and what the qualifying subtotal is.
type Matcher struct {
	collections CollectionDirectory
}

// NewMatcher creates an eligibility matcher backed by a collection directory.
func NewMatcher(collections CollectionDirectory) *Matcher {
	return &Matcher{collections: collections}
}

// Evaluate applies the rule to the order's line items. The result is
// eligible iff at least one item qualifies; the qualifying amount is the
// sum of qualifying item prices.
func (m *Matcher) Evaluate(ctx context.Context, merchantID uuid.UUID, items []LineItem, rule Rule) (Result, error) {
	if len(items) == 0 {
		return Result{}, nil
	}

	switch rule.Type {
	case models.EligibleAll:
		return collect(items, func(LineItem) bool { return true }), nil

	case models.EligibleProduct:
		return collect(items, func(it LineItem) bool { return rule.Contains(it.ProductID) }), nil

	case models.EligibleCollection:
		productIDs := make([]string, 0, len(items))
		for _, it := range items {
			productIDs = append(productIDs, NormalizeID(it.ProductID))
		}
		members, err := m.collections.FilterProductsInCollections(ctx, merchantID, productIDs, rule.IDs())
		if err != nil {
			return Result{}, fmt.Errorf("failed to resolve collection membership: %w", err)
		}
		return collect(items, func(it LineItem) bool {
			_, ok := members[NormalizeID(it.ProductID)]
			return ok
		}), nil

	default:
		return Result{}, fmt.Errorf("unknown eligibility rule type %q", rule.Type)
	}
}

func collect(items []LineItem, qualifies func(LineItem) bool) Result {
	var res Result
	for _, it := range items {
		if !qualifies(it) {
			continue
		}
		res.QualifyingAmount += it.Price
		res.QualifyingItems = append(res.QualifyingItems, NormalizeID(it.ProductID))
	}
	res.Eligible = len(res.QualifyingItems) > 0
	return res
}
