package poolevents

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/onchainops/liquidator/pkg/domain"
)

func TestIndexTrackerFirstObservationNeverSuppresses(t *testing.T) {
	tr := newIndexTracker(5)
	reserve := domain.ParseAddress("0x0000000000000000000000000000000000000010")
	suppress := tr.Observe(reserve, big.NewInt(1e18), big.NewInt(1e18))
	assert.False(t, suppress)
}

func TestIndexTrackerSuppressesSmallDelta(t *testing.T) {
	tr := newIndexTracker(10) // 10 bps threshold
	reserve := domain.ParseAddress("0x0000000000000000000000000000000000000011")
	base := big.NewInt(1000000)
	tr.Observe(reserve, base, base)

	tiny := big.NewInt(1000500) // +500/1e6 = 5bps, below threshold
	suppress := tr.Observe(reserve, tiny, tiny)
	assert.True(t, suppress)
}

func TestIndexTrackerPassesLargeDelta(t *testing.T) {
	tr := newIndexTracker(10)
	reserve := domain.ParseAddress("0x0000000000000000000000000000000000000012")
	base := big.NewInt(1000000)
	tr.Observe(reserve, base, base)

	moved := big.NewInt(1005000) // 50bps, above threshold
	suppress := tr.Observe(reserve, moved, moved)
	assert.False(t, suppress)
}

func TestIndexTrackerOnlyOneIndexMovingEnoughStillPasses(t *testing.T) {
	tr := newIndexTracker(10)
	reserve := domain.ParseAddress("0x0000000000000000000000000000000000000013")
	base := big.NewInt(1000000)
	tr.Observe(reserve, base, base)

	// liquidityIndex barely moves, variableBorrowIndex moves a lot.
	suppress := tr.Observe(reserve, big.NewInt(1000100), big.NewInt(1010000))
	assert.False(t, suppress)
}

func TestIndexTrackerAccumulatesAcrossSuppressedObservations(t *testing.T) {
	tr := newIndexTracker(10)
	reserve := domain.ParseAddress("0x0000000000000000000000000000000000000014")
	base := big.NewInt(1000000)
	tr.Observe(reserve, base, base)

	// Two consecutive 5bps moves relative to the *original* baseline
	// should not each reset the reference, so the second sees the
	// cumulative 12bps move and is not suppressed against the stale 0.
	suppress1 := tr.Observe(reserve, big.NewInt(1000500), big.NewInt(1000500))
	assert.True(t, suppress1)

	suppress2 := tr.Observe(reserve, big.NewInt(1001200), big.NewInt(1001200))
	assert.False(t, suppress2)
}

func TestIndexTrackerIndependentReserves(t *testing.T) {
	tr := newIndexTracker(10)
	a := domain.ParseAddress("0x0000000000000000000000000000000000000015")
	b := domain.ParseAddress("0x0000000000000000000000000000000000000016")
	tr.Observe(a, big.NewInt(1000000), big.NewInt(1000000))
	// b's first observation is independent of a's history.
	suppress := tr.Observe(b, big.NewInt(2000000), big.NewInt(2000000))
	assert.False(t, suppress)
}
