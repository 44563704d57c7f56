package eligibility

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/refwise/refwise/pkg/models"
)

// stubDirectory answers collection membership from a fixed map.
type stubDirectory struct {
	members map[string][]string // collection id -> product ids
}

func (s *stubDirectory) FilterProductsInCollections(ctx context.Context, merchantID uuid.UUID, productIDs, collectionIDs []string) (map[string]struct{}, error) {
	inWanted := make(map[string]struct{})
	for _, cid := range collectionIDs {
		for _, pid := range s.members[cid] {
			inWanted[pid] = struct{}{}
		}
	}
	out := make(map[string]struct{})
	for _, pid := range productIDs {
		if _, ok := inWanted[pid]; ok {
			out[pid] = struct{}{}
		}
	}
	return out, nil
}

func TestNormalizeID(t *testing.T) {
	assert.Equal(t, "9310366662911", NormalizeID("gid://shopify/Product/9310366662911"))
	assert.Equal(t, "9310366662911", NormalizeID("9310366662911"))
	assert.Equal(t, "55", NormalizeID("gid://shopify/Collection/55"))
	assert.Equal(t, "55", NormalizeID("  55 "))
	assert.Equal(t, "", NormalizeID(""))
}

func TestRuleForCampaign(t *testing.T) {
	t.Run("Success - Empty type defaults to all", func(t *testing.T) {
		rule := RuleForCampaign(&models.Campaign{})
		assert.Equal(t, models.EligibleAll, rule.Type)
	})

	t.Run("Success - IDs normalized once", func(t *testing.T) {
		rule := RuleForCampaign(&models.Campaign{
			EligibleType: models.EligibleProduct,
			EligibleIDs:  []string{"gid://shopify/Product/123", "456"},
		})
		assert.True(t, rule.Contains("123"))
		assert.True(t, rule.Contains("gid://shopify/Product/456"))
		assert.False(t, rule.Contains("789"))
	})
}

func TestEvaluate_All(t *testing.T) {
	matcher := NewMatcher(&stubDirectory{})
	merchantID := uuid.New()

	items := []LineItem{
		{ProductID: "100", Price: 10.00, Quantity: 2},
		{ProductID: "200", Price: 5.50, Quantity: 1},
	}

	res, err := matcher.Evaluate(context.Background(), merchantID, items, NewRule(models.EligibleAll, nil))
	require.NoError(t, err)

	assert.True(t, res.Eligible)
	// Quantities do not multiply into the subtotal.
	assert.InDelta(t, 15.50, res.QualifyingAmount, 0.001)
	assert.Equal(t, []string{"100", "200"}, res.QualifyingItems)
}

func TestEvaluate_Product(t *testing.T) {
	matcher := NewMatcher(&stubDirectory{})
	merchantID := uuid.New()

	t.Run("Success - Only listed products qualify", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "gid://shopify/Product/100", Price: 12.00},
			{ProductID: "200", Price: 8.00},
		}
		rule := NewRule(models.EligibleProduct, []string{"100"})

		res, err := matcher.Evaluate(context.Background(), merchantID, items, rule)
		require.NoError(t, err)

		assert.True(t, res.Eligible)
		assert.InDelta(t, 12.00, res.QualifyingAmount, 0.001)
		assert.Equal(t, []string{"100"}, res.QualifyingItems)
	})

	t.Run("Failure - No listed product in order", func(t *testing.T) {
		items := []LineItem{{ProductID: "300", Price: 9.99}}
		rule := NewRule(models.EligibleProduct, []string{"100"})

		res, err := matcher.Evaluate(context.Background(), merchantID, items, rule)
		require.NoError(t, err)

		assert.False(t, res.Eligible)
		assert.Zero(t, res.QualifyingAmount)
	})
}

func TestEvaluate_Collection(t *testing.T) {
	dir := &stubDirectory{members: map[string][]string{
		"55": {"9310366662911"},
	}}
	matcher := NewMatcher(dir)
	merchantID := uuid.New()

	t.Run("Success - Product in configured collection", func(t *testing.T) {
		items := []LineItem{
			{ProductID: "gid://shopify/Product/9310366662911", Price: 20.00, Quantity: 1},
			{ProductID: "777", Price: 99.00, Quantity: 1},
		}
		rule := NewRule(models.EligibleCollection, []string{"gid://shopify/Collection/55"})

		res, err := matcher.Evaluate(context.Background(), merchantID, items, rule)
		require.NoError(t, err)

		assert.True(t, res.Eligible)
		assert.InDelta(t, 20.00, res.QualifyingAmount, 0.001)
		assert.Equal(t, []string{"9310366662911"}, res.QualifyingItems)
	})

	t.Run("Failure - No product in collection", func(t *testing.T) {
		items := []LineItem{{ProductID: "777", Price: 99.00}}
		rule := NewRule(models.EligibleCollection, []string{"55"})

		res, err := matcher.Evaluate(context.Background(), merchantID, items, rule)
		require.NoError(t, err)

		assert.False(t, res.Eligible)
	})
}

func TestEvaluate_EmptyOrder(t *testing.T) {
	matcher := NewMatcher(&stubDirectory{})

	res, err := matcher.Evaluate(context.Background(), uuid.New(), nil, NewRule(models.EligibleAll, nil))
	require.NoError(t, err)

	assert.False(t, res.Eligible)
	assert.Zero(t, res.QualifyingAmount)
	assert.Empty(t, res.QualifyingItems)
}
