package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"stockpos/internal/cache"
	"stockpos/internal/domain"
	"stockpos/internal/imagestore"
	"stockpos/internal/pricing"
	"stockpos/internal/store"
)

var ErrForbidden = errors.New("admin role required")

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// ImageUpload is an image submitted alongside a product create or update.
type ImageUpload struct {
	Filename string
	Body     io.Reader
}

type Options struct {
	Cache             cache.ListingCache
	Images            imagestore.Store
	ListingTTL        time.Duration
	LowStockThreshold int
}

type Service struct {
	repo              store.Repository
	cache             cache.ListingCache
	images            imagestore.Store
	listingTTL        time.Duration
	lowStockThreshold int

	// listingGen counts invalidations. A listing read from the store is
	// cached only if no write invalidated the listings in the meantime.
	listingMu  sync.Mutex
	listingGen uint64
}

func New(repo store.Repository, opts Options) *Service {
	if opts.Cache == nil {
		opts.Cache = cache.NoopListingCache{}
	}
	if opts.ListingTTL <= 0 {
		opts.ListingTTL = 30 * time.Second
	}
	if opts.LowStockThreshold <= 0 {
		opts.LowStockThreshold = domain.LowStockThreshold
	}

	return &Service{
		repo:              repo,
		cache:             opts.Cache,
		images:            opts.Images,
		listingTTL:        opts.ListingTTL,
		lowStockThreshold: opts.LowStockThreshold,
	}
}

func (s *Service) ListProducts(ctx context.Context) ([]domain.Product, error) {
	return s.repo.ListProducts(ctx)
}

func (s *Service) GetProduct(ctx context.Context, id int64) (domain.Product, error) {
	product, err := s.repo.GetProduct(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return *product, nil
}

func (s *Service) CreateProduct(ctx context.Context, req domain.ProductCreateRequest, image *ImageUpload) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	product := domain.Product{
		Name:        strings.TrimSpace(req.Name),
		Description: strings.TrimSpace(req.Description),
		Price:       req.Price,
		Quantity:    req.Quantity,
		Category:    strings.TrimSpace(req.Category),
		SKU:         strings.TrimSpace(req.SKU),
		Barcode:     strings.TrimSpace(req.Barcode),
	}
	if err := validateProduct(product); err != nil {
		return domain.Product{}, err
	}

	imageRef, err := s.saveImage(ctx, image)
	if err != nil {
		return domain.Product{}, err
	}
	product.ImageRef = imageRef

	created, err := s.repo.CreateProduct(ctx, product)
	if err != nil {
		s.discardImage(ctx, imageRef)
		return domain.Product{}, wrapDuplicateSKU(err, product.SKU)
	}

	s.invalidateListings(ctx)
	return *created, nil
}

// UpdateProduct applies the fields present in req; absent fields keep their
// stored values. The merge runs inside the store's row lock so a concurrent
// sale's stock decrement survives. A new image replaces and releases the
// previous one.
func (s *Service) UpdateProduct(ctx context.Context, id int64, req domain.ProductUpdateRequest, image *ImageUpload) (domain.Product, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.Product{}, err
	}

	newRef, err := s.saveImage(ctx, image)
	if err != nil {
		return domain.Product{}, err
	}

	var oldRef, sku string
	saved, err := s.repo.UpdateProduct(ctx, id, func(p *domain.Product) error {
		oldRef = p.ImageRef
		applyProductUpdate(p, req)
		if newRef != "" {
			p.ImageRef = newRef
		}
		sku = p.SKU
		return validateProduct(*p)
	})
	if err != nil {
		s.discardImage(ctx, newRef)
		return domain.Product{}, wrapDuplicateSKU(err, sku)
	}
	if newRef != "" && oldRef != "" && oldRef != newRef {
		s.discardImage(ctx, oldRef)
	}

	s.invalidateListings(ctx)
	return *saved, nil
}

func applyProductUpdate(p *domain.Product, req domain.ProductUpdateRequest) {
	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.Description != nil {
		p.Description = strings.TrimSpace(*req.Description)
	}
	if req.Price != nil {
		p.Price = *req.Price
	}
	if req.Quantity != nil {
		p.Quantity = *req.Quantity
	}
	if req.Category != nil {
		p.Category = strings.TrimSpace(*req.Category)
	}
	if req.SKU != nil {
		p.SKU = strings.TrimSpace(*req.SKU)
	}
	if req.Barcode != nil {
		p.Barcode = strings.TrimSpace(*req.Barcode)
	}
}

// DeleteProduct removes a product, or archives it when sale history refers
// to it. The image is released only when the row is really gone.
func (s *Service) DeleteProduct(ctx context.Context, id int64) (domain.ProductRemoval, error) {
	if err := requireAdmin(ctx); err != nil {
		return domain.ProductRemoval{}, err
	}

	removal, err := s.repo.DeleteProduct(ctx, id)
	if err != nil {
		return domain.ProductRemoval{}, err
	}
	if !removal.Archived {
		s.discardImage(ctx, removal.Product.ImageRef)
	}

	s.invalidateListings(ctx)
	log.Info().
		Int64("product_id", id).
		Bool("archived", removal.Archived).
		Str("actor", actorName(ctx)).
		Msg("product deleted")
	return *removal, nil
}

func (s *Service) ProductSummaries(ctx context.Context) ([]domain.ProductSummary, error) {
	var cached []domain.ProductSummary
	if s.cacheGet(ctx, cache.KeyProductSummaries, &cached) {
		return cached, nil
	}
	gen := s.listingGeneration()

	products, err := s.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.ProductSummary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, domain.SummarizeProduct(p))
	}

	s.cacheSet(ctx, cache.KeyProductSummaries, summaries, gen)
	return summaries, nil
}

func (s *Service) LowStock(ctx context.Context) ([]domain.LowStockSummary, error) {
	var cached []domain.LowStockSummary
	if s.cacheGet(ctx, cache.KeyLowStock, &cached) {
		return cached, nil
	}
	gen := s.listingGeneration()

	products, err := s.repo.ListLowStockProducts(ctx, s.lowStockThreshold)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.LowStockSummary, 0, len(products))
	for _, p := range products {
		summaries = append(summaries, domain.SummarizeLowStock(p))
	}

	s.cacheSet(ctx, cache.KeyLowStock, summaries, gen)
	return summaries, nil
}

func (s *Service) CreateSale(ctx context.Context, req domain.SaleRequest) (domain.Sale, error) {
	if err := pricing.ValidateCart(req.Items); err != nil {
		return domain.Sale{}, err
	}

	sale, err := s.repo.CreateSale(ctx, req)
	if err != nil {
		return domain.Sale{}, err
	}

	s.invalidateListings(ctx)
	log.Info().
		Int64("sale_id", sale.ID).
		Int("lines", len(sale.Items)).
		Str("final_amount", sale.FinalAmount.StringFixed(2)).
		Str("actor", actorName(ctx)).
		Msg("sale recorded")
	return *sale, nil
}

func (s *Service) GetSale(ctx context.Context, id int64) (domain.Sale, error) {
	sale, err := s.repo.GetSale(ctx, id)
	if err != nil {
		return domain.Sale{}, err
	}
	return *sale, nil
}

func (s *Service) ListSales(ctx context.Context, limit int) ([]domain.Sale, error) {
	return s.repo.ListSales(ctx, limit)
}

// DeleteSale removes a sale and its items. Stock is not restored.
func (s *Service) DeleteSale(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}
	if err := s.repo.DeleteSale(ctx, id); err != nil {
		return err
	}

	s.invalidateListings(ctx)
	log.Info().Int64("sale_id", id).Str("actor", actorName(ctx)).Msg("sale deleted")
	return nil
}

func (s *Service) Dashboard(ctx context.Context) (domain.DashboardStats, error) {
	return s.repo.DashboardStats(ctx, s.lowStockThreshold, 5)
}

func (s *Service) saveImage(ctx context.Context, image *ImageUpload) (string, error) {
	if image == nil || image.Body == nil || image.Filename == "" {
		return "", nil
	}
	if s.images == nil {
		return "", &store.FieldError{Field: "image", Message: "image uploads are disabled"}
	}

	ref, err := s.images.Save(ctx, image.Filename, image.Body)
	if err != nil {
		if errors.Is(err, imagestore.ErrUnsupportedType) || errors.Is(err, imagestore.ErrTooLarge) {
			return "", &store.FieldError{Field: "image", Message: err.Error()}
		}
		return "", fmt.Errorf("save image: %w", err)
	}
	return ref, nil
}

func (s *Service) discardImage(ctx context.Context, ref string) {
	if ref == "" || s.images == nil {
		return
	}
	if err := s.images.Remove(ctx, ref); err != nil {
		log.Warn().Err(err).Str("image", ref).Msg("failed to remove product image")
	}
}

func (s *Service) cacheGet(ctx context.Context, key string, dest any) bool {
	found, err := s.cache.Get(ctx, key, dest)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("listing cache read failed")
		return false
	}
	return found
}

func (s *Service) listingGeneration() uint64 {
	s.listingMu.Lock()
	defer s.listingMu.Unlock()
	return s.listingGen
}

// cacheSet stores value unless the listings were invalidated after gen was
// taken; the value may then predate the write.
func (s *Service) cacheSet(ctx context.Context, key string, value any, gen uint64) {
	s.listingMu.Lock()
	defer s.listingMu.Unlock()

	if s.listingGen != gen {
		log.Debug().Str("key", key).Msg("listing changed during read, not cached")
		return
	}
	if err := s.cache.Set(ctx, key, value, s.listingTTL); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("listing cache write failed")
	}
}

func (s *Service) invalidateListings(ctx context.Context) {
	s.listingMu.Lock()
	defer s.listingMu.Unlock()

	s.listingGen++
	if err := s.cache.Invalidate(ctx, cache.ListingKeys...); err != nil {
		log.Warn().Err(err).Msg("listing cache invalidation failed")
	}
}

func validateProduct(p domain.Product) error {
	switch {
	case p.Name == "":
		return &store.FieldError{Field: "name", Message: "is required"}
	case utf8.RuneCountInString(p.Name) > 100:
		return &store.FieldError{Field: "name", Message: "must be at most 100 characters"}
	case p.SKU == "":
		return &store.FieldError{Field: "sku", Message: "is required"}
	case utf8.RuneCountInString(p.SKU) > 50:
		return &store.FieldError{Field: "sku", Message: "must be at most 50 characters"}
	case utf8.RuneCountInString(p.Category) > 50:
		return &store.FieldError{Field: "category", Message: "must be at most 50 characters"}
	case utf8.RuneCountInString(p.Barcode) > 100:
		return &store.FieldError{Field: "barcode", Message: "must be at most 100 characters"}
	case p.Price.IsNegative():
		return &store.FieldError{Field: "price", Message: "must not be negative"}
	case !pricing.IsMoney(p.Price):
		return &store.FieldError{Field: "price", Message: "must have at most 2 decimal places"}
	case p.Quantity < 0:
		return &store.FieldError{Field: "quantity", Message: "must not be negative"}
	case p.Quantity > math.MaxInt32:
		return &store.FieldError{Field: "quantity", Message: "is too large"}
	}
	return nil
}

func wrapDuplicateSKU(err error, sku string) error {
	if errors.Is(err, store.ErrDuplicateKey) {
		return fmt.Errorf("sku %q already exists: %w", sku, err)
	}
	return err
}

func requireAdmin(ctx context.Context) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrForbidden
	}
	return nil
}

func actorName(ctx context.Context) string {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return "system"
	}
	return actor.Username
}
