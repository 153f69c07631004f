package market

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ajitpratap0/tradefleet/internal/metrics"
)

// DefaultPriceTTL bounds how stale a shared price may be served.
const DefaultPriceTTL = 30 * time.Second

// redisOpTimeout keeps cache lookups from blocking the trading path.
const redisOpTimeout = 500 * time.Millisecond

// PriceSource supplies fresh ticker prices on cache misses.
type PriceSource interface {
	Price(ctx context.Context, symbol string) (float64, error)
}

type priceEntry struct {
	Symbol string    `json:"symbol"`
	Price  float64   `json:"price"`
	Ts     time.Time `json:"ts"`
}

// PriceCache serves ticker prices shared across all bots. Reads hit a local
// snapshot map first, then an optional Redis layer so sibling processes see
// the same prices, and only fall through to the exchange when both are stale.
type PriceCache struct {
	source PriceSource
	redis  *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	local map[string]priceEntry
}

// NewPriceCache creates the shared price cache. redisClient may be nil to run
// with the local layer only; a non-positive ttl falls back to DefaultPriceTTL.
func NewPriceCache(source PriceSource, redisClient *redis.Client, ttl time.Duration, logger zerolog.Logger) *PriceCache {
	if ttl <= 0 {
		ttl = DefaultPriceTTL
	}
	return &PriceCache{
		source: source,
		redis:  redisClient,
		ttl:    ttl,
		logger: logger.With().Str("component", "price_cache").Logger(),
		now:    time.Now,
		local:  make(map[string]priceEntry),
	}
}

// Price returns the cached price for symbol when its age is within the TTL,
// fetching from the source and refreshing both layers otherwise.
func (c *PriceCache) Price(ctx context.Context, symbol string) (float64, error) {
	if entry, ok := c.lookupLocal(symbol); ok {
		metrics.PriceCacheHits.Inc()
		return entry.Price, nil
	}

	if entry, ok := c.lookupRedis(ctx, symbol); ok {
		c.storeLocal(entry)
		metrics.PriceCacheHits.Inc()
		return entry.Price, nil
	}

	metrics.PriceCacheMisses.Inc()
	price, err := c.source.Price(ctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("failed to fetch price for %s: %w", symbol, err)
	}

	c.store(ctx, symbol, price)
	return price, nil
}

// Snapshot returns every locally cached price still within the TTL.
func (c *PriceCache) Snapshot() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	now := c.now()
	prices := make(map[string]float64, len(c.local))
	for symbol, entry := range c.local {
		if now.Sub(entry.Ts) <= c.ttl {
			prices[symbol] = entry.Price
		}
	}
	return prices
}

// Invalidate drops a symbol from both cache layers.
func (c *PriceCache) Invalidate(ctx context.Context, symbol string) {
	c.mu.Lock()
	delete(c.local, symbol)
	c.mu.Unlock()

	if c.redis == nil {
		return
	}
	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.redis.Del(opCtx, c.key(symbol)).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to invalidate cached price")
	}
}

// Run sweeps every tracked symbol at half the TTL so readers rarely pay the
// exchange round-trip. Blocks until ctx is cancelled.
func (c *PriceCache) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.ttl / 2)
	defer ticker.Stop()

	c.logger.Info().Dur("ttl", c.ttl).Msg("Price cache refresher started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("Price cache refresher stopped")
			return nil
		case <-ticker.C:
			c.refreshAll(ctx)
		}
	}
}

func (c *PriceCache) refreshAll(ctx context.Context) {
	c.mu.RLock()
	symbols := make([]string, 0, len(c.local))
	for symbol := range c.local {
		symbols = append(symbols, symbol)
	}
	c.mu.RUnlock()

	for _, symbol := range symbols {
		price, err := c.source.Price(ctx, symbol)
		if err != nil {
			c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Price refresh failed")
			continue
		}
		c.store(ctx, symbol, price)
	}
}

func (c *PriceCache) lookupLocal(symbol string) (priceEntry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.local[symbol]
	if !ok || c.now().Sub(entry.Ts) > c.ttl {
		return priceEntry{}, false
	}
	return entry, true
}

func (c *PriceCache) lookupRedis(ctx context.Context, symbol string) (priceEntry, bool) {
	if c.redis == nil {
		return priceEntry{}, false
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	cached, err := c.redis.Get(opCtx, c.key(symbol)).Result()
	if err != nil {
		if err != redis.Nil {
			c.logger.Debug().Err(err).Str("symbol", symbol).Msg("Redis get error, treating as cache miss")
		}
		return priceEntry{}, false
	}

	var entry priceEntry
	if err := json.Unmarshal([]byte(cached), &entry); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to unmarshal cached price")
		return priceEntry{}, false
	}
	if c.now().Sub(entry.Ts) > c.ttl {
		return priceEntry{}, false
	}
	return entry, true
}

func (c *PriceCache) store(ctx context.Context, symbol string, price float64) {
	entry := priceEntry{Symbol: symbol, Price: price, Ts: c.now()}
	c.storeLocal(entry)

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to marshal price entry")
		return
	}

	opCtx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := c.redis.Set(opCtx, c.key(symbol), data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Str("symbol", symbol).Msg("Failed to cache price in redis")
	}
}

func (c *PriceCache) storeLocal(entry priceEntry) {
	c.mu.Lock()
	c.local[entry.Symbol] = entry
	c.mu.Unlock()
}

func (c *PriceCache) key(symbol string) string {
	return "tradefleet:price:" + symbol
}
