package cache

import (
	"context"
	"time"
)

const (
	KeyProductSummaries = "stockpos:listing:products"
	KeyLowStock         = "stockpos:listing:low-stock"
)

// ListingKeys are invalidated together on any catalog or sale write.
var ListingKeys = []string{KeyProductSummaries, KeyLowStock}

// ListingCache holds JSON listing projections. Get reports a miss with
// found == false and a nil error.
type ListingCache interface {
	Get(ctx context.Context, key string, dest any) (bool, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Invalidate(ctx context.Context, keys ...string) error
}

type NoopListingCache struct{}

func (NoopListingCache) Get(_ context.Context, _ string, _ any) (bool, error) {
	return false, nil
}

func (NoopListingCache) Set(_ context.Context, _ string, _ any, _ time.Duration) error {
	return nil
}

func (NoopListingCache) Invalidate(_ context.Context, _ ...string) error {
	return nil
}
