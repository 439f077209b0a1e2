package riskset

import (
	"math/big"
	"testing"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertThenGet(t *testing.T) {
	rs := New()
	addr := domain.ParseAddress("0x0000000000000000000000000000000000000001")
	rs.Upsert(addr)
	u, ok := rs.Get(addr)
	require.True(t, ok)
	assert.Equal(t, domain.NoDebtHF, u.HealthFactor)
}

func TestUpdateHFAutoInserts(t *testing.T) {
	rs := New()
	addr := domain.ParseAddress("0x0000000000000000000000000000000000000002")
	rs.UpdateHF(addr, 0.95, big.NewInt(1000), big.NewInt(2000), 10)
	u, ok := rs.Get(addr)
	require.True(t, ok)
	assert.Equal(t, 0.95, u.HealthFactor)
	assert.Len(t, u.HFHistory, 1)
}

func TestHistoryBoundedAtFour(t *testing.T) {
	rs := New()
	addr := domain.ParseAddress("0x0000000000000000000000000000000000000003")
	for i := uint64(1); i <= 6; i++ {
		rs.UpdateHF(addr, 1.0-float64(i)*0.01, big.NewInt(1000), big.NewInt(2000), i)
	}
	u, _ := rs.Get(addr)
	assert.Len(t, u.HFHistory, 4)
	assert.Equal(t, uint64(6), u.HFHistory[len(u.HFHistory)-1].Block)
}

func TestBelowThresholdSortedAscendingAndFiltersDust(t *testing.T) {
	rs := New()
	a := domain.ParseAddress("0x0000000000000000000000000000000000000011")
	b := domain.ParseAddress("0x0000000000000000000000000000000000000012")
	dust := domain.ParseAddress("0x0000000000000000000000000000000000000013")

	rs.UpdateHF(a, 0.9, big.NewInt(5000), big.NewInt(1000), 1)
	rs.UpdateHF(b, 0.5, big.NewInt(5000), big.NewInt(1000), 1)
	rs.UpdateHF(dust, 0.3, big.NewInt(1), big.NewInt(1), 1) // below min debt

	out := rs.BelowThreshold(1.0, big.NewInt(10))
	require.Len(t, out, 2)
	assert.Equal(t, b.String(), out[0].Address.String())
	assert.Equal(t, a.String(), out[1].Address.String())
}

func TestLowestHFOnEmptySet(t *testing.T) {
	rs := New()
	_, ok := rs.LowestHF()
	assert.False(t, ok)
}
