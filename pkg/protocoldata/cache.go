// Package protocoldata implements the ProtocolDataCache (spec §4.B):
// reserve configuration populated once at startup and immutable for the
// run.
package protocoldata

import (
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
)

// DefaultLiquidationBonusFallbackBps is used when a reserve's raw bonus is
// malformed (<=10000), per spec §4.B. Open Question (spec §9): whether 500
// is correct for all such reserves, or only ones with malformed config, is
// left operator-configurable through New's fallbackBps argument.
const DefaultLiquidationBonusFallbackBps = 500

// Cache holds immutable-per-run reserve configuration, keyed by lowercased
// underlying token address.
type Cache struct {
	mu                   sync.RWMutex
	reserves             map[domain.Address]domain.Reserve
	bonusFallbackBps     uint16
}

// New creates an empty cache. fallbackBps overrides
// DefaultLiquidationBonusFallbackBps when nonzero.
func New(fallbackBps uint16) *Cache {
	if fallbackBps == 0 {
		fallbackBps = DefaultLiquidationBonusFallbackBps
	}
	return &Cache{reserves: make(map[domain.Address]domain.Reserve), bonusFallbackBps: fallbackBps}
}

// Reserve returns the cached reserve config, or false if unknown.
func (c *Cache) Reserve(token domain.Address) (domain.Reserve, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.reserves[token]
	return r, ok
}

// Put installs a reserve's config, applying the liquidation-bonus fallback
// rule: rawBonusBps - 10000 when rawBonusBps > 10000, else the configured
// fallback (spec §4.B).
func (c *Cache) Put(token domain.Address, decimals uint8, rawBonusBps uint32, collateralEnabled, borrowEnabled bool, variableDebtToken, aToken, priceFeed domain.Address) {
	bonus := c.bonusFallbackBps
	if rawBonusBps > 10000 {
		bonus = uint16(rawBonusBps - 10000)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reserves[token] = domain.Reserve{
		Underlying:               token,
		Decimals:                 decimals,
		LiquidationBonusBps:      bonus,
		IsCollateralEnabled:      collateralEnabled,
		IsBorrowEnabled:          borrowEnabled,
		VariableDebtTokenAddress: variableDebtToken,
		ATokenAddress:            aToken,
		PriceFeedHandle:          priceFeed,
	}
}

// Len reports how many reserves are populated (used by startup health
// checks / metrics).
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.reserves)
}

// All returns a snapshot slice of every cached reserve. Cheap to clone: a
// deployment has at most a few hundred reserves.
func (c *Cache) All() []domain.Reserve {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]domain.Reserve, 0, len(c.reserves))
	for _, r := range c.reserves {
		out = append(out, r)
	}
	return out
}
