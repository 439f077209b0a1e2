package poolevents

import (
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/dirtyqueue"
	"github.com/onchainops/liquidator/pkg/domain"
)

type testClock struct{ t time.Time }

func (c *testClock) Now() time.Time { return c.t }
func (c *testClock) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.t.Add(d)
	return ch
}

func addrTopic(a common.Address) common.Hash { return common.BytesToHash(a.Bytes()) }

func addr(hexSuffix string) common.Address {
	return common.HexToAddress("0x00000000000000000000000000000000" + hexSuffix)
}

func newTestListener() (*Listener, *dirtyqueue.Queue) {
	dq := dirtyqueue.New()
	l := New(Config{ReserveMinIndexDeltaBps: 10}, addr("0001"), nil, dq, &testClock{t: time.Unix(0, 0)}, nil, zap.NewNop(), 16, 16)
	return l, dq
}

func TestHandleLogSupplyTouchesOnBehalfOfUser(t *testing.T) {
	l, dq := newTestListener()
	user := addr("0010")
	onBehalf := addr("0011")
	reserve := addr("0012")

	data, err := chain.PoolABI.Events["Supply"].Inputs.NonIndexed().Pack(user, big.NewInt(1000))
	require.NoError(t, err)

	logEntry := types.Log{
		Topics:      []common.Hash{chain.SupplyTopic, addrTopic(reserve), addrTopic(onBehalf), common.Hash{}},
		Data:        data,
		BlockNumber: 100,
	}
	l.handleLog(logEntry)

	assert.Equal(t, 1, dq.PendingUsers())
	select {
	case u := <-l.Updates():
		require.Len(t, u.UsersAffected, 1)
		assert.Equal(t, domain.NewAddress(onBehalf), u.UsersAffected[0])
		assert.Equal(t, uint64(100), u.Block)
	default:
		t.Fatal("expected an update")
	}
}

func TestHandleLogWithdrawTouchesUser(t *testing.T) {
	l, dq := newTestListener()
	reserve := addr("0020")
	user := addr("0021")
	to := addr("0022")

	data, err := chain.PoolABI.Events["Withdraw"].Inputs.NonIndexed().Pack(big.NewInt(500))
	require.NoError(t, err)

	logEntry := types.Log{
		Topics:      []common.Hash{chain.WithdrawTopic, addrTopic(reserve), addrTopic(user), addrTopic(to)},
		Data:        data,
		BlockNumber: 101,
	}
	l.handleLog(logEntry)

	assert.Equal(t, 1, dq.PendingUsers())
	u := <-l.Updates()
	assert.Equal(t, domain.NewAddress(user), u.UsersAffected[0])
}

func TestHandleLogLiquidationCallForwardsAndTouchesUser(t *testing.T) {
	l, dq := newTestListener()
	collateral := addr("0030")
	debt := addr("0031")
	user := addr("0032")
	liquidator := addr("0033")

	data, err := chain.PoolABI.Events["LiquidationCall"].Inputs.NonIndexed().Pack(
		big.NewInt(1000), big.NewInt(2000), liquidator, false)
	require.NoError(t, err)

	logEntry := types.Log{
		Topics:      []common.Hash{chain.LiquidationCallTopic, addrTopic(collateral), addrTopic(debt), addrTopic(user)},
		Data:        data,
		BlockNumber: 102,
	}
	l.handleLog(logEntry)

	assert.Equal(t, 1, dq.PendingUsers())
	<-l.Updates()

	select {
	case observed := <-l.Liquidations():
		assert.Equal(t, domain.NewAddress(user), observed.User)
		assert.Equal(t, domain.NewAddress(debt), observed.DebtAsset)
		assert.Equal(t, domain.NewAddress(collateral), observed.CollateralAsset)
	default:
		t.Fatal("expected a forwarded liquidation observation")
	}
}

func TestHandleLogReserveDataUpdatedSuppressesSmallDelta(t *testing.T) {
	l, dq := newTestListener()
	reserve := addr("0040")

	makeLog := func(liqIdx, varIdx int64) types.Log {
		data, err := chain.PoolABI.Events["ReserveDataUpdated"].Inputs.NonIndexed().Pack(
			big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(liqIdx), big.NewInt(varIdx))
		require.NoError(t, err)
		return types.Log{
			Topics:      []common.Hash{chain.ReserveDataUpdatedTopic, addrTopic(reserve)},
			Data:        data,
			BlockNumber: 103,
		}
	}

	l.handleLog(makeLog(1_000_000_000, 1_000_000_000)) // seed
	assert.Equal(t, 0, dq.PendingReserves())
	<-l.Updates()

	l.handleLog(makeLog(1_000_000_100, 1_000_000_100)) // 0.001bps, below the 10bps threshold
	assert.Equal(t, 0, dq.PendingReserves(), "small index delta should be suppressed")

	select {
	case <-l.Updates():
		t.Fatal("suppressed ReserveDataUpdated must not emit an update")
	default:
	}
}

func TestHandleLogReserveDataUpdatedPassesLargeDelta(t *testing.T) {
	l, dq := newTestListener()
	reserve := addr("0050")

	makeLog := func(liqIdx, varIdx int64) types.Log {
		data, err := chain.PoolABI.Events["ReserveDataUpdated"].Inputs.NonIndexed().Pack(
			big.NewInt(1), big.NewInt(1), big.NewInt(1), big.NewInt(liqIdx), big.NewInt(varIdx))
		require.NoError(t, err)
		return types.Log{
			Topics:      []common.Hash{chain.ReserveDataUpdatedTopic, addrTopic(reserve)},
			Data:        data,
			BlockNumber: 104,
		}
	}

	l.handleLog(makeLog(1_000_000_000, 1_000_000_000))
	<-l.Updates()

	l.handleLog(makeLog(1_010_000_000, 1_010_000_000)) // 100bps, well above threshold
	assert.Equal(t, 1, dq.PendingReserves())

	select {
	case u := <-l.Updates():
		require.NotNil(t, u.ReserveAffected)
		assert.Equal(t, domain.NewAddress(reserve), *u.ReserveAffected)
	default:
		t.Fatal("expected an update for the large index delta")
	}
}
