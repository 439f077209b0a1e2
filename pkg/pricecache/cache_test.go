package pricecache

import (
	"math/big"
	"testing"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMissReturnsSentinelNeverZero(t *testing.T) {
	c := New()
	price, err := c.GetUSD1e18(domain.ParseAddress("0x0000000000000000000000000000000000000001"))
	assert.ErrorIs(t, err, ErrMissingOrStale)
	assert.Nil(t, price)
}

func TestNormalizeAnswerScalesDecimals(t *testing.T) {
	// 8-decimal answer of 2000.00000000 -> 2000e18
	answer := big.NewInt(200000000000)
	got, err := NormalizeAnswer(answer, 8)
	require.NoError(t, err)
	want := new(big.Int).Mul(big.NewInt(2000), domain.Ray1e18)
	assert.Equal(t, 0, got.Cmp(want))
}

func TestNormalizeAnswerRejectsNonPositive(t *testing.T) {
	_, err := NormalizeAnswer(big.NewInt(0), 8)
	assert.Error(t, err)
	_, err = NormalizeAnswer(big.NewInt(-5), 8)
	assert.Error(t, err)
}

func TestComposeRatioRequiresBothOperands(t *testing.T) {
	c := New()
	weth := domain.ParseAddress("0x0000000000000000000000000000000000000002")
	_, err := c.GetUSD1e18(weth)
	assert.ErrorIs(t, err, ErrMissingOrStale)

	ratio := new(big.Int).Mul(big.NewInt(1), domain.Ray1e18) // 1:1 ratio
	ethUsd := new(big.Int).Mul(big.NewInt(2000), domain.Ray1e18)
	composed := ComposeRatio(ratio, ethUsd)
	assert.Equal(t, 0, composed.Cmp(ethUsd))
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := New()
	tok := domain.ParseAddress("0x0000000000000000000000000000000000000003")
	val := big.NewInt(123)
	c.PutUSD1e18(tok, val, 1000)
	got, err := c.GetUSD1e18(tok)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Cmp(val))
}

func TestFeedDecimalsCachedOnFirstUse(t *testing.T) {
	c := New()
	feed := domain.ParseAddress("0x0000000000000000000000000000000000000004")
	_, ok := c.FeedDecimals(feed)
	assert.False(t, ok)
	c.SetFeedDecimals(feed, 8)
	d, ok := c.FeedDecimals(feed)
	require.True(t, ok)
	assert.Equal(t, uint8(8), d)
}
