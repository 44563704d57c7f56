package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/refwise/refwise/pkg/eligibility"
	"github.com/refwise/refwise/pkg/models"
)

var (
	// ErrProductNotFound is returned when a product is not in the catalog
	ErrProductNotFound = errors.New("product not found")
	// ErrCollectionNotFound is returned when a collection is not in the catalog
	ErrCollectionNotFound = errors.New("collection not found")
)

// ProductPayload is the subset of a platform product webhook the catalog
// keeps. ID may be numeric or a GID.
type ProductPayload struct {
	ID       string
	Title    string
	Handle   string
	ImageURL string
	Status   string
}

// CollectionPayload is the subset of a platform collection the catalog keeps.
type CollectionPayload struct {
	ID     string
	Title  string
	Handle string
}

// Service maintains the merchant-scoped product/collection mirror used by
// the eligibility matcher. Ids are normalized to bare numeric identifiers
// once, at ingestion.
type Service struct {
	db *gorm.DB
}

// NewService creates a new catalog service
func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// IngestProduct inserts or refreshes a product row from a webhook or sync
// payload.
func (s *Service) IngestProduct(ctx context.Context, merchantID uuid.UUID, p ProductPayload) error {
	shopifyID := eligibility.NormalizeID(p.ID)
	if shopifyID == "" {
		return fmt.Errorf("product payload missing id")
	}

	row := models.Product{
		ID:               uuid.New(),
		MerchantID:       merchantID,
		ShopifyProductID: shopifyID,
		Title:            p.Title,
		Handle:           p.Handle,
		ImageURL:         p.ImageURL,
		Status:           p.Status,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "shopify_product_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "handle", "image_url", "status", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to ingest product: %w", err)
	}
	return nil
}

// DeleteProduct removes a product and its collection links.
func (s *Service) DeleteProduct(ctx context.Context, merchantID uuid.UUID, shopifyProductID string) error {
	shopifyID := eligibility.NormalizeID(shopifyProductID)

	var p models.Product
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND shopify_product_id = ?", merchantID, shopifyID).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil // already gone, webhook replays are fine
		}
		return fmt.Errorf("failed to load product: %w", err)
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("product_id = ?", p.ID).Delete(&models.ProductCollection{}).Error; err != nil {
			return fmt.Errorf("failed to delete collection links: %w", err)
		}
		if err := tx.Delete(&p).Error; err != nil {
			return fmt.Errorf("failed to delete product: %w", err)
		}
		return nil
	})
}

// IngestCollection inserts or refreshes a collection row.
func (s *Service) IngestCollection(ctx context.Context, merchantID uuid.UUID, c CollectionPayload) error {
	shopifyID := eligibility.NormalizeID(c.ID)
	if shopifyID == "" {
		return fmt.Errorf("collection payload missing id")
	}

	row := models.Collection{
		ID:                  uuid.New(),
		MerchantID:          merchantID,
		ShopifyCollectionID: shopifyID,
		Title:               c.Title,
		Handle:              c.Handle,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "merchant_id"}, {Name: "shopify_collection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"title", "handle", "updated_at"}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to ingest collection: %w", err)
	}
	return nil
}

// Link records product→collection membership. Both ids are platform ids;
// the link is resolved to internal rows and inserted if absent.
func (s *Service) Link(ctx context.Context, merchantID uuid.UUID, shopifyProductID, shopifyCollectionID string) error {
	var p models.Product
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND shopify_product_id = ?", merchantID, eligibility.NormalizeID(shopifyProductID)).
		First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrProductNotFound
		}
		return fmt.Errorf("failed to resolve product: %w", err)
	}

	var c models.Collection
	err = s.db.WithContext(ctx).
		Where("merchant_id = ? AND shopify_collection_id = ?", merchantID, eligibility.NormalizeID(shopifyCollectionID)).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCollectionNotFound
		}
		return fmt.Errorf("failed to resolve collection: %w", err)
	}

	link := models.ProductCollection{ProductID: p.ID, CollectionID: c.ID}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&link).Error
	if err != nil {
		return fmt.Errorf("failed to link product to collection: %w", err)
	}
	return nil
}

// SetCollectionMembers replaces a collection's product memberships with an
// already-fetched collects payload. Product ids not yet mirrored are
// skipped; the webhook feed brings them in eventually and the next collects
// push links them. Returns how many products were linked.
func (s *Service) SetCollectionMembers(ctx context.Context, merchantID uuid.UUID, shopifyCollectionID string, shopifyProductIDs []string) (int, error) {
	var c models.Collection
	err := s.db.WithContext(ctx).
		Where("merchant_id = ? AND shopify_collection_id = ?", merchantID, eligibility.NormalizeID(shopifyCollectionID)).
		First(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, ErrCollectionNotFound
		}
		return 0, fmt.Errorf("failed to resolve collection: %w", err)
	}

	normalized := make([]string, 0, len(shopifyProductIDs))
	for _, id := range shopifyProductIDs {
		if n := eligibility.NormalizeID(id); n != "" {
			normalized = append(normalized, n)
		}
	}

	var products []models.Product
	if len(normalized) > 0 {
		err = s.db.WithContext(ctx).
			Where("merchant_id = ? AND shopify_product_id IN ?", merchantID, normalized).
			Find(&products).Error
		if err != nil {
			return 0, fmt.Errorf("failed to resolve products: %w", err)
		}
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", c.ID).Delete(&models.ProductCollection{}).Error; err != nil {
			return fmt.Errorf("failed to clear collection links: %w", err)
		}
		for _, p := range products {
			link := models.ProductCollection{ProductID: p.ID, CollectionID: c.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return fmt.Errorf("failed to link product %s: %w", p.ShopifyProductID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return len(products), nil
}

// FilterProductsInCollections returns the subset of productIDs belonging
// to at least one of collectionIDs. Satisfies
// eligibility.CollectionDirectory.
func (s *Service) FilterProductsInCollections(ctx context.Context, merchantID uuid.UUID, productIDs, collectionIDs []string) (map[string]struct{}, error) {
	out := make(map[string]struct{})
	if len(productIDs) == 0 || len(collectionIDs) == 0 {
		return out, nil
	}

	var matched []string
	err := s.db.WithContext(ctx).
		Model(&models.Product{}).
		Distinct("products.shopify_product_id").
		Joins("JOIN product_collections pc ON pc.product_id = products.id").
		Joins("JOIN collections c ON c.id = pc.collection_id").
		Where("products.merchant_id = ?", merchantID).
		Where("products.shopify_product_id IN ?", productIDs).
		Where("c.shopify_collection_id IN ?", collectionIDs).
		Pluck("products.shopify_product_id", &matched).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query collection membership: %w", err)
	}

	for _, id := range matched {
		out[id] = struct{}{}
	}
	return out, nil
}

// IsProductInCollections reports whether a single product belongs to any
// of the given collections.
func (s *Service) IsProductInCollections(ctx context.Context, merchantID uuid.UUID, productID string, collectionIDs []string) (bool, error) {
	members, err := s.FilterProductsInCollections(ctx, merchantID, []string{eligibility.NormalizeID(productID)}, collectionIDs)
	if err != nil {
		return false, err
	}
	return len(members) > 0, nil
}

// ListProducts returns the merchant's mirrored products ordered by title.
func (s *Service) ListProducts(ctx context.Context, merchantID uuid.UUID) ([]models.Product, error) {
	var products []models.Product
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("title ASC").
		Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	return products, nil
}

// ListCollections returns the merchant's mirrored collections ordered by title.
func (s *Service) ListCollections(ctx context.Context, merchantID uuid.UUID) ([]models.Collection, error) {
	var collections []models.Collection
	err := s.db.WithContext(ctx).
		Where("merchant_id = ?", merchantID).
		Order("title ASC").
		Find(&collections).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	return collections, nil
}
