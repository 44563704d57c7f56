package catalog

import (
	"context"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/refwise/refwise/pkg/models"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, models.AutoMigrate(db))
	return db
}

func TestIngestProduct(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	merchantID := uuid.New()

	t.Run("Success - GID normalized at ingestion", func(t *testing.T) {
		err := svc.IngestProduct(context.Background(), merchantID, ProductPayload{
			ID:    "gid://shopify/Product/9310366662911",
			Title: "Trail Shoe",
		})
		require.NoError(t, err)

		var p models.Product
		require.NoError(t, db.First(&p, "merchant_id = ?", merchantID).Error)
		assert.Equal(t, "9310366662911", p.ShopifyProductID)
	})

	t.Run("Success - Replay refreshes instead of duplicating", func(t *testing.T) {
		err := svc.IngestProduct(context.Background(), merchantID, ProductPayload{
			ID:     "9310366662911",
			Title:  "Trail Shoe v2",
			Status: "active",
		})
		require.NoError(t, err)

		var products []models.Product
		require.NoError(t, db.Where("merchant_id = ?", merchantID).Find(&products).Error)
		require.Len(t, products, 1)
		assert.Equal(t, "Trail Shoe v2", products[0].Title)
		assert.Equal(t, "active", products[0].Status)
	})

	t.Run("Failure - Missing id", func(t *testing.T) {
		assert.Error(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{Title: "No ID"}))
	})
}

func TestDeleteProduct(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	merchantID := uuid.New()

	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "100", Title: "Gone Soon"}))
	require.NoError(t, svc.IngestCollection(context.Background(), merchantID, CollectionPayload{ID: "55", Title: "Sale"}))
	require.NoError(t, svc.Link(context.Background(), merchantID, "100", "55"))

	t.Run("Success - Removes product and its links", func(t *testing.T) {
		require.NoError(t, svc.DeleteProduct(context.Background(), merchantID, "gid://shopify/Product/100"))

		var products int64
		require.NoError(t, db.Model(&models.Product{}).Where("merchant_id = ?", merchantID).Count(&products).Error)
		assert.Zero(t, products)

		var links int64
		require.NoError(t, db.Model(&models.ProductCollection{}).Count(&links).Error)
		assert.Zero(t, links)
	})

	t.Run("Success - Replayed delete is a no-op", func(t *testing.T) {
		assert.NoError(t, svc.DeleteProduct(context.Background(), merchantID, "100"))
	})
}

func TestMembership(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	merchantID := uuid.New()

	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "9310366662911", Title: "In Sale"}))
	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "777", Title: "Not In Sale"}))
	require.NoError(t, svc.IngestCollection(context.Background(), merchantID, CollectionPayload{ID: "55", Title: "Sale"}))
	require.NoError(t, svc.Link(context.Background(), merchantID, "9310366662911", "55"))

	t.Run("Success - Filters to collection members", func(t *testing.T) {
		members, err := svc.FilterProductsInCollections(context.Background(), merchantID,
			[]string{"9310366662911", "777"}, []string{"55"})
		require.NoError(t, err)
		assert.Len(t, members, 1)
		assert.Contains(t, members, "9310366662911")
	})

	t.Run("Success - Empty inputs short-circuit", func(t *testing.T) {
		members, err := svc.FilterProductsInCollections(context.Background(), merchantID, nil, []string{"55"})
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("Success - Single product check", func(t *testing.T) {
		in, err := svc.IsProductInCollections(context.Background(), merchantID, "gid://shopify/Product/9310366662911", []string{"55"})
		require.NoError(t, err)
		assert.True(t, in)

		in, err = svc.IsProductInCollections(context.Background(), merchantID, "777", []string{"55"})
		require.NoError(t, err)
		assert.False(t, in)
	})

	t.Run("Success - Duplicate link is ignored", func(t *testing.T) {
		require.NoError(t, svc.Link(context.Background(), merchantID, "9310366662911", "55"))
		var links int64
		require.NoError(t, db.Model(&models.ProductCollection{}).Count(&links).Error)
		assert.Equal(t, int64(1), links)
	})

	t.Run("Failure - Linking an unknown product", func(t *testing.T) {
		err := svc.Link(context.Background(), merchantID, "424242", "55")
		assert.ErrorIs(t, err, ErrProductNotFound)
	})
}

func TestSetCollectionMembers(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	merchantID := uuid.New()

	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "9310366662911", Title: "Trail Shoe"}))
	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "777", Title: "Socks"}))
	require.NoError(t, svc.IngestCollection(context.Background(), merchantID, CollectionPayload{ID: "55", Title: "Sale"}))

	t.Run("Success - Collects payload populates membership", func(t *testing.T) {
		linked, err := svc.SetCollectionMembers(context.Background(), merchantID, "gid://shopify/Collection/55",
			[]string{"gid://shopify/Product/9310366662911", "777"})
		require.NoError(t, err)
		assert.Equal(t, 2, linked)

		members, err := svc.FilterProductsInCollections(context.Background(), merchantID,
			[]string{"9310366662911", "777"}, []string{"55"})
		require.NoError(t, err)
		assert.Len(t, members, 2)
	})

	t.Run("Success - Replacement drops stale links", func(t *testing.T) {
		linked, err := svc.SetCollectionMembers(context.Background(), merchantID, "55", []string{"777"})
		require.NoError(t, err)
		assert.Equal(t, 1, linked)

		in, err := svc.IsProductInCollections(context.Background(), merchantID, "9310366662911", []string{"55"})
		require.NoError(t, err)
		assert.False(t, in)

		in, err = svc.IsProductInCollections(context.Background(), merchantID, "777", []string{"55"})
		require.NoError(t, err)
		assert.True(t, in)
	})

	t.Run("Success - Unmirrored products are skipped", func(t *testing.T) {
		linked, err := svc.SetCollectionMembers(context.Background(), merchantID, "55", []string{"777", "424242"})
		require.NoError(t, err)
		assert.Equal(t, 1, linked)
	})

	t.Run("Failure - Unknown collection", func(t *testing.T) {
		_, err := svc.SetCollectionMembers(context.Background(), merchantID, "99", []string{"777"})
		assert.ErrorIs(t, err, ErrCollectionNotFound)
	})
}

func TestListing(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	merchantID := uuid.New()

	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "2", Title: "Boots"}))
	require.NoError(t, svc.IngestProduct(context.Background(), merchantID, ProductPayload{ID: "1", Title: "Apron"}))
	require.NoError(t, svc.IngestCollection(context.Background(), merchantID, CollectionPayload{ID: "55", Title: "Sale"}))

	products, err := svc.ListProducts(context.Background(), merchantID)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, "Apron", products[0].Title)

	collections, err := svc.ListCollections(context.Background(), merchantID)
	require.NoError(t, err)
	assert.Len(t, collections, 1)
}
