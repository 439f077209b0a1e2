// Package pricecache implements the 1e18-scaled USD price cache (spec §4.A):
// one map guarded by a single RWMutex, cache-first with RPC fallback performed by
// the caller (the cache itself never calls out — it only stores and
// normalizes what a listener or a cold-fetch already retrieved).
package pricecache

import (
	"errors"
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
	"math/big"
)

// ErrMissingOrStale is the sentinel every caller translates into "skip this
// pair" (spec §4.A: "miss returns a sentinel that callers translate into
// 'skip this pair' — never into zero").
var ErrMissingOrStale = errors.New("pricecache: missing or stale price")

// Cache is a concurrent-safe, single-writer-per-key price store.
type Cache struct {
	mu      sync.RWMutex
	prices  map[domain.Address]domain.PriceEntry
	feedDec map[domain.Address]uint8
}

func New() *Cache {
	return &Cache{
		prices:  make(map[domain.Address]domain.PriceEntry),
		feedDec: make(map[domain.Address]uint8),
	}
}

// GetUSD1e18 returns the cached price or ErrMissingOrStale.
func (c *Cache) GetUSD1e18(token domain.Address) (*big.Int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.prices[token]
	if !ok {
		return nil, ErrMissingOrStale
	}
	return entry.Price1e18, nil
}

// PutUSD1e18 stores a normalized price. Callers must have already rejected
// non-positive raw answers (spec §4.A) before calling this.
func (c *Cache) PutUSD1e18(token domain.Address, value *big.Int, tsMs int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[token] = domain.PriceEntry{Token: token, Price1e18: value, LastUpdateTsMs: tsMs}
}

// FeedDecimals returns the cached decimals for a feed, or false if unseen.
func (c *Cache) FeedDecimals(feed domain.Address) (uint8, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.feedDec[feed]
	return d, ok
}

// SetFeedDecimals caches decimals on first use (spec §4.A).
func (c *Cache) SetFeedDecimals(feed domain.Address, decimals uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.feedDec[feed] = decimals
}

// NormalizeAnswer converts a raw aggregator answer with `d` decimals into a
// 1e18-scaled price (spec §4.A). Returns an error for non-positive answers,
// which callers must log-and-skip rather than cache.
func NormalizeAnswer(answer *big.Int, d uint8) (*big.Int, error) {
	if answer.Sign() <= 0 {
		return nil, errors.New("pricecache: non-positive feed answer")
	}
	return domain.RescaleTo1e18(answer, uint(d)), nil
}

// ComposeRatio combines a token/ETH ratio price (1e18-scaled) with an
// ETH/USD price (1e18-scaled) into a token/USD price (spec §4.A). Both
// operands must already be cached; a missing operand is a cache miss, not
// zero.
func ComposeRatio(ratio1e18, ethUsd1e18 *big.Int) *big.Int {
	return domain.MulDiv1e18(ratio1e18, ethUsd1e18)
}
