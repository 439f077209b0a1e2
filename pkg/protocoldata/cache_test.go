package protocoldata

import (
	"testing"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBonusDerivedFromRawWhenWellFormed(t *testing.T) {
	c := New(0)
	weth := domain.ParseAddress("0x0000000000000000000000000000000000000001")
	c.Put(weth, 18, 10500, true, true, "", "", "")
	r, ok := c.Reserve(weth)
	require.True(t, ok)
	assert.Equal(t, uint16(500), r.LiquidationBonusBps)
}

func TestBonusFallsBackWhenMalformed(t *testing.T) {
	c := New(0)
	usdc := domain.ParseAddress("0x0000000000000000000000000000000000000002")
	c.Put(usdc, 6, 0, true, true, "", "", "")
	r, ok := c.Reserve(usdc)
	require.True(t, ok)
	assert.Equal(t, uint16(DefaultLiquidationBonusFallbackBps), r.LiquidationBonusBps)
}

func TestCustomFallbackOverridesDefault(t *testing.T) {
	c := New(750)
	tok := domain.ParseAddress("0x0000000000000000000000000000000000000003")
	c.Put(tok, 18, 9000, true, true, "", "", "")
	r, _ := c.Reserve(tok)
	assert.Equal(t, uint16(750), r.LiquidationBonusBps)
}

func TestUnknownReserveMisses(t *testing.T) {
	c := New(0)
	_, ok := c.Reserve(domain.ParseAddress("0x0000000000000000000000000000000000000009"))
	assert.False(t, ok)
}
