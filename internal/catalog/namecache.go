package catalog

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fetchr/discovery/internal/domain"
	"github.com/fetchr/discovery/internal/kv"
)

const (
	brandKeyPrefix    = "discovery:brand_name:"
	subBrandKeyPrefix = "discovery:sub_brand_name:"

	// unknownName is what search responses render when a brand record is
	// missing; lookups must not fail the whole search over it.
	unknownName = "Unknown"
)

// CachedNames caches brand and sub-brand names in a key-value store. A
// missing brand resolves to "Unknown" and is cached like any other name.
type CachedNames struct {
	inner  NameSource
	store  kv.Store
	ttl    time.Duration
	logger *zap.Logger
}

// NewCachedNames creates the caching decorator.
func NewCachedNames(inner NameSource, store kv.Store, ttl time.Duration, logger *zap.Logger) *CachedNames {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CachedNames{inner: inner, store: store, ttl: ttl, logger: logger}
}

// BrandName resolves a brand display name.
func (c *CachedNames) BrandName(ctx context.Context, brandID string) (string, error) {
	return c.lookup(ctx, brandKeyPrefix+brandID, brandID, c.inner.BrandName, false)
}

// SubBrandName resolves a sub-brand display name. Sub-brand names are stored
// lowercase in the catalog and are title-cased for display.
func (c *CachedNames) SubBrandName(ctx context.Context, subBrandID string) (string, error) {
	return c.lookup(ctx, subBrandKeyPrefix+subBrandID, subBrandID, c.inner.SubBrandName, true)
}

func (c *CachedNames) lookup(
	ctx context.Context,
	key, id string,
	resolve func(context.Context, string) (string, error),
	titleCase bool,
) (string, error) {
	if cached, err := c.store.Get(ctx, key); err == nil && len(cached) > 0 {
		return string(cached), nil
	} else if err != nil && !errors.Is(err, kv.ErrKeyNotFound) {
		c.logger.Warn("Failed to read cached name", zap.String("key", key), zap.Error(err))
	}

	name, err := resolve(ctx, id)
	switch {
	case errors.Is(err, domain.ErrBrandNotFound):
		c.logger.Error("Brand record missing, falling back to Unknown",
			zap.String("id", id), zap.String("key", key))
		name = unknownName
	case err != nil:
		return "", err
	}

	if titleCase && name != unknownName {
		name = toTitle(name)
	}

	if err := c.store.SetWithTTL(ctx, key, []byte(name), c.ttl); err != nil {
		c.logger.Warn("Failed to cache name", zap.String("key", key), zap.Error(err))
	}
	return name, nil
}

// toTitle uppercases the first letter of every space-separated word.
func toTitle(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
