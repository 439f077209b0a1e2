package pricefeed

import (
	"math/big"
	"sync"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/pricecache"
)

// composer folds derived (ratio) feed updates into final USD prices (spec
// §4.E: "Composed feeds... price1e18(token) = ratio1e18 * eth_usd_1e18 /
// 1e18. Both operands must be present; otherwise treat as cache miss.").
// It also recomputes dependents when their base-USD feed updates, since a
// ratio feed may have arrived before its base did.
type composer struct {
	mu            sync.Mutex
	ratios        map[domain.Address]*big.Int    // token -> latest ratio1e18
	dependents    map[domain.Address][]FeedConfig // base token -> derived feeds depending on it
	cache         *pricecache.Cache
}

func newComposer(cache *pricecache.Cache) *composer {
	return &composer{
		ratios:     make(map[domain.Address]*big.Int),
		dependents: make(map[domain.Address][]FeedConfig),
		cache:      cache,
	}
}

// RegisterDerived records fc so a future update to its base token retriggers
// recomposition.
func (c *composer) RegisterDerived(fc FeedConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dependents[fc.ComposeBaseToken] = append(c.dependents[fc.ComposeBaseToken], fc)
}

// UpdateRatio stores a fresh ratio for a derived feed and attempts to
// compose its final USD price now.
func (c *composer) UpdateRatio(fc FeedConfig, ratio1e18 *big.Int, nowMs int64) {
	c.mu.Lock()
	c.ratios[fc.Token] = ratio1e18
	c.mu.Unlock()
	c.tryCompose(fc, nowMs)
}

func (c *composer) tryCompose(fc FeedConfig, nowMs int64) {
	base, err := c.cache.GetUSD1e18(fc.ComposeBaseToken)
	if err != nil {
		return // cache miss: callers retry on the next update
	}
	c.mu.Lock()
	ratio, ok := c.ratios[fc.Token]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.cache.PutUSD1e18(fc.Token, pricecache.ComposeRatio(ratio, base), nowMs)
}

// OnBaseUpdated recomputes every derived feed depending on baseToken, since
// the base USD price may have just become available or changed.
func (c *composer) OnBaseUpdated(baseToken domain.Address, nowMs int64) {
	c.mu.Lock()
	deps := append([]FeedConfig(nil), c.dependents[baseToken]...)
	c.mu.Unlock()
	for _, fc := range deps {
		c.tryCompose(fc, nowMs)
	}
}
