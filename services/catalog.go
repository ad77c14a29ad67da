package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"marketplace-service/models"
	"marketplace-service/policy"
	"marketplace-service/query"
	"marketplace-service/repository"
	"marketplace-service/storage"
)

type (
	CategoryService = ResourceService[models.Category, *models.Category]
	SalonService    = ResourceService[models.Salon, *models.Salon]
	VoucherService  = ResourceService[models.Voucher, *models.Voucher]
	BannerService   = ResourceService[models.Banner, *models.Banner]
)

// ProductService is the product CRUD service plus explicit include reads.
type ProductService struct {
	*ResourceService[models.Product, *models.Product]
	products repository.ProductRepository
}

func (s *ProductService) GetWithIncludes(ctx context.Context, id string, includes []repository.Include) (*repository.ProductView, *ServiceError) {
	view, err := s.products.FindWithIncludes(ctx, id, includes...)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, notFoundError("Product")
	}
	if err != nil {
		s.logger.Error("Failed to fetch product", zap.String("id", id), zap.Error(err))
		return nil, internalError("Failed to fetch product")
	}
	return view, nil
}

// NewProductService wires category bookkeeping and image cleanup into product CRUD.
// images may be nil when no CDN is configured.
func NewProductService(
	products repository.ProductRepository,
	categories repository.CategoryRepository,
	salons repository.ResourceRepository[models.Salon],
	images storage.ImageStore,
	logger *zap.Logger,
) *ProductService {
	cfg := ResourceConfig[models.Product]{
		Kind:     policy.Products,
		Singular: "Product",
		Filterable: map[string]query.FieldType{
			"id":                 query.String,
			"name":               query.String,
			"price":              query.Number,
			"discounted_price":   query.Number,
			"availability_count": query.Number,
			"category_ids":       query.String,
			"owner.type":         query.String,
			"owner.id":           query.String,
			"created_by":         query.String,
			"created_at":         query.Time,
		},
		ServerManaged: []string{"created_by", "settlement_keys"},
		Immutable:     []string{"owner"},

		Prepare: func(p *models.Product) {
			p.CategoryIDs = uniqueStrings(p.CategoryIDs)
		},

		BeforeCreate: func(ctx context.Context, actor policy.Actor, p *models.Product) *ServiceError {
			p.CreatedBy = actor.UserID
			switch {
			case p.Owner.Type == models.OwnerSalon:
				salon, err := salons.FindByID(ctx, p.Owner.ID)
				if errors.Is(err, repository.ErrNotFound) {
					return fieldError("owner.id", "salon not found")
				}
				if err != nil {
					return internalError("Failed to verify salon")
				}
				if salon.OwnerUserID != actor.UserID && !actor.IsAdmin() {
					return forbiddenError("you can only list products for your own salon")
				}
			case actor.IsAdmin() && p.Owner.ID != "":
				// admins may list on behalf of any user
			default:
				p.Owner = models.Owner{Type: models.OwnerUser, ID: actor.UserID}
			}

			if len(p.CategoryIDs) > 0 {
				n, err := categories.CountExisting(ctx, p.CategoryIDs)
				if err != nil {
					return internalError("Failed to verify categories")
				}
				if int(n) != len(p.CategoryIDs) {
					return fieldError("category_ids", "one or more categories do not exist")
				}
			}
			return nil
		},

		AfterCreate: func(ctx context.Context, p *models.Product) error {
			return categories.AddProduct(ctx, p.CategoryIDs, p.ID)
		},

		AfterUpdate: func(ctx context.Context, before, after *models.Product) error {
			added, removed := diffStrings(before.CategoryIDs, after.CategoryIDs)
			if err := categories.AddProduct(ctx, added, after.ID); err != nil {
				return err
			}
			return categories.RemoveProduct(ctx, removed, after.ID)
		},

		AfterDelete: func(ctx context.Context, p *models.Product) error {
			if err := categories.PullProduct(ctx, p.ID); err != nil {
				return err
			}
			destroyImages(ctx, images, p.Images, logger)
			return nil
		},
	}

	return &ProductService{
		ResourceService: NewResourceService[models.Product, *models.Product](cfg, products, logger),
		products:        products,
	}
}

func NewCategoryService(categories repository.CategoryRepository, products repository.ProductRepository, logger *zap.Logger) *CategoryService {
	cfg := ResourceConfig[models.Category]{
		Kind:     policy.Categories,
		Singular: "Category",
		Filterable: map[string]query.FieldType{
			"id":         query.String,
			"name":       query.String,
			"created_at": query.Time,
		},
		ServerManaged: []string{"product_ids"},
		AfterDelete: func(ctx context.Context, c *models.Category) error {
			return products.PullCategory(ctx, c.ID)
		},
	}
	return NewResourceService[models.Category, *models.Category](cfg, categories, logger)
}

func NewSalonService(salons repository.ResourceRepository[models.Salon], products repository.ProductRepository, images storage.ImageStore, logger *zap.Logger) *SalonService {
	cfg := ResourceConfig[models.Salon]{
		Kind:     policy.Salons,
		Singular: "Salon",
		Filterable: map[string]query.FieldType{
			"id":         query.String,
			"name":       query.String,
			"city":       query.String,
			"owner_id":   query.String,
			"created_at": query.Time,
		},
		ServerManaged: []string{"owner_id", "balance", "ledger_keys"},
		BeforeCreate: func(_ context.Context, actor policy.Actor, s *models.Salon) *ServiceError {
			s.OwnerUserID = actor.UserID
			return nil
		},
		AfterDelete: func(ctx context.Context, s *models.Salon) error {
			n, err := products.SoftDeleteByOwner(ctx, models.Owner{Type: models.OwnerSalon, ID: s.ID})
			if err != nil {
				return err
			}
			logger.Info("Salon products removed", zap.String("salon_id", s.ID), zap.Int64("count", n))
			destroyImages(ctx, images, s.Images, logger)
			return nil
		},
	}
	return NewResourceService[models.Salon, *models.Salon](cfg, salons, logger)
}

func NewVoucherService(vouchers repository.VoucherRepository, logger *zap.Logger) *VoucherService {
	cfg := ResourceConfig[models.Voucher]{
		Kind:     policy.Vouchers,
		Singular: "Voucher",
		Filterable: map[string]query.FieldType{
			"id":                  query.String,
			"code":                query.String,
			"used":                query.Bool,
			"used_by":             query.String,
			"discount_percentage": query.Number,
			"expires_at":          query.Time,
			"created_at":          query.Time,
		},
		ServerManaged: []string{"used", "used_by", "used_at"},
		Prepare: func(v *models.Voucher) {
			v.Code = models.NormalizeVoucherCode(v.Code)
		},
		BeforeCreate: func(_ context.Context, _ policy.Actor, v *models.Voucher) *ServiceError {
			if !v.ExpiresAt.IsZero() && !v.ExpiresAt.After(time.Now()) {
				return fieldError("expires_at", "must be in the future")
			}
			return nil
		},
	}
	return NewResourceService[models.Voucher, *models.Voucher](cfg, vouchers, logger)
}

func NewBannerService(banners repository.ResourceRepository[models.Banner], logger *zap.Logger) *BannerService {
	cfg := ResourceConfig[models.Banner]{
		Kind:     policy.Banners,
		Singular: "Banner",
		Filterable: map[string]query.FieldType{
			"active":     query.Bool,
			"position":   query.Number,
			"created_at": query.Time,
		},
	}
	return NewResourceService[models.Banner, *models.Banner](cfg, banners, logger)
}

// destroyImages removes CDN copies; failures are logged and never block a delete.
func destroyImages(ctx context.Context, store storage.ImageStore, images []models.Image, logger *zap.Logger) {
	if store == nil {
		return
	}
	for _, img := range images {
		if img.PublicID == "" {
			continue
		}
		if err := store.Destroy(ctx, img.PublicID); err != nil && !errors.Is(err, storage.ErrNotFound) {
			logger.Warn("Failed to destroy image", zap.String("public_id", img.PublicID), zap.Error(err))
		}
	}
}

func uniqueStrings(in []string) []string {
	if in == nil {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func diffStrings(before, after []string) (added, removed []string) {
	old := make(map[string]bool, len(before))
	for _, s := range before {
		old[s] = true
	}
	cur := make(map[string]bool, len(after))
	for _, s := range after {
		cur[s] = true
		if !old[s] {
			added = append(added, s)
		}
	}
	for _, s := range before {
		if !cur[s] {
			removed = append(removed, s)
		}
	}
	return added, removed
}
