// Package poolevents implements the PoolEventListener (spec §4.F): it
// subscribes to the lending pool's state-changing events and translates
// each into the (users_affected, reserve_affected) shape the scheduler's
// event-coalescing path consumes, touching the shared dirty queue (D) along
// the way.
package poolevents

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/dirtyqueue"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
)

// Config carries the PoolEventListener's tunables (spec §4.F).
type Config struct {
	// ReserveMinIndexDeltaBps: a ReserveDataUpdated event is suppressed
	// when both liquidityIndex and variableBorrowIndex moved less than
	// this many basis points since the last processed observation.
	ReserveMinIndexDeltaBps int64
	WsHeartbeatMs           int64
}

// Update is one coalesced event outcome (spec §4.F: "(users_affected: set,
// reserve_affected: option)").
type Update struct {
	UsersAffected   []domain.Address
	ReserveAffected *domain.Address
	Block           uint64
}

// LiquidationObserved is forwarded to the audit listener (L) whenever a
// LiquidationCall event is decoded (spec §4.F: "also forwarded to L").
type LiquidationObserved struct {
	CollateralAsset            domain.Address
	DebtAsset                  domain.Address
	User                       domain.Address
	DebtToCoverRaw             *big.Int
	LiquidatedCollateralAmount *big.Int
	Liquidator                 domain.Address
	Block                      uint64
	TxHash                     common.Hash
}

// Listener is the PoolEventListener.
type Listener struct {
	cfg      Config
	poolAddr common.Address
	client   chain.Client
	dirty    *dirtyqueue.Queue
	clock    util.Clock
	sink     metrics.MetricsSink
	log      *zap.Logger

	updates      chan Update
	liquidations chan LiquidationObserved
	indices      *indexTracker

	currentBlk uint64
}

// New constructs a Listener. updateBuffer/liqBuffer size the output
// channels; 0 uses a sane default.
func New(cfg Config, poolAddr common.Address, client chain.Client, dirty *dirtyqueue.Queue, clock util.Clock, sink metrics.MetricsSink, log *zap.Logger, updateBuffer, liqBuffer int) *Listener {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	if updateBuffer <= 0 {
		updateBuffer = 256
	}
	if liqBuffer <= 0 {
		liqBuffer = 32
	}
	return &Listener{
		cfg:          cfg,
		poolAddr:     poolAddr,
		client:       client,
		dirty:        dirty,
		clock:        clock,
		sink:         sink,
		log:          log,
		updates:      make(chan Update, updateBuffer),
		liquidations: make(chan LiquidationObserved, liqBuffer),
		indices:      newIndexTracker(cfg.ReserveMinIndexDeltaBps),
	}
}

// Updates exposes the coalesced event-outcome channel.
func (l *Listener) Updates() <-chan Update { return l.updates }

// Liquidations exposes the forwarded LiquidationCall observations.
func (l *Listener) Liquidations() <-chan LiquidationObserved { return l.liquidations }

func eventTopics() [][]common.Hash {
	return [][]common.Hash{{
		chain.SupplyTopic,
		chain.WithdrawTopic,
		chain.BorrowTopic,
		chain.RepayTopic,
		chain.LiquidationCallTopic,
		chain.ReserveDataUpdatedTopic,
	}}
}

// Run subscribes to the pool's events plus new heads (heartbeat source),
// reconnecting with exponential backoff on drop (spec §5).
func (l *Listener) Run(ctx context.Context) error {
	policy := chain.DefaultReconnectPolicy(l.clock)
	heartbeatTimeout := time.Duration(l.cfg.WsHeartbeatMs) * time.Millisecond
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		logs := make(chan types.Log, 256)
		heads := make(chan *types.Header, 16)
		var logSub, headSub ethereum.Subscription

		err := policy.Reconnect(ctx, l.log, func(ctx context.Context) error {
			var err error
			logSub, err = l.client.SubscribeFilterLogs(ctx, ethereum.FilterQuery{
				Addresses: []common.Address{l.poolAddr},
				Topics:    eventTopics(),
			}, logs)
			if err != nil {
				return err
			}
			headSub, err = l.client.SubscribeNewHead(ctx, heads)
			if err != nil {
				logSub.Unsubscribe()
				return err
			}
			return nil
		})
		if err != nil {
			l.sink.IncCounter(metrics.CounterReconnect, map[string]string{"outcome": "exhausted"})
			return err
		}

		hb := chain.NewHeartbeatMonitor(heartbeatTimeout, l.clock)
		disconnected := l.consume(ctx, logs, heads, logSub, headSub, hb)
		logSub.Unsubscribe()
		headSub.Unsubscribe()
		if disconnected == nil {
			return nil
		}
		l.sink.IncCounter(metrics.CounterReconnect, map[string]string{"outcome": "retry"})
	}
}

func (l *Listener) consume(ctx context.Context, logs chan types.Log, heads chan *types.Header, logSub, headSub ethereum.Subscription, hb *chain.HeartbeatMonitor) error {
	watchDone := make(chan error, 1)
	go func() { watchDone <- hb.Watch(ctx) }()

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-watchDone:
			return err
		case err := <-logSub.Err():
			return err
		case err := <-headSub.Err():
			return err
		case head := <-heads:
			hb.Pulse()
			if head != nil {
				l.currentBlk = head.Number.Uint64()
			}
		case logEntry := <-logs:
			hb.Pulse()
			l.handleLog(logEntry)
		}
	}
}

func (l *Listener) handleLog(logEntry types.Log) {
	if len(logEntry.Topics) == 0 {
		return
	}
	block := logEntry.BlockNumber
	if block == 0 {
		block = l.currentBlk
	}

	switch logEntry.Topics[0] {
	case chain.SupplyTopic:
		ev, err := chain.DecodePoolSupply(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("Supply", err)
			return
		}
		l.emitSingleUser(domain.NewAddress(ev.OnBehalfOf), block)

	case chain.WithdrawTopic:
		ev, err := chain.DecodePoolWithdraw(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("Withdraw", err)
			return
		}
		l.emitSingleUser(domain.NewAddress(ev.User), block)

	case chain.BorrowTopic:
		ev, err := chain.DecodePoolBorrow(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("Borrow", err)
			return
		}
		l.emitSingleUser(domain.NewAddress(ev.OnBehalfOf), block)

	case chain.RepayTopic:
		ev, err := chain.DecodePoolRepay(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("Repay", err)
			return
		}
		l.emitSingleUser(domain.NewAddress(ev.User), block)

	case chain.LiquidationCallTopic:
		ev, err := chain.DecodePoolLiquidationCall(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("LiquidationCall", err)
			return
		}
		user := domain.NewAddress(ev.User)
		l.emitSingleUser(user, block)
		observed := LiquidationObserved{
			CollateralAsset:            domain.NewAddress(ev.CollateralAsset),
			DebtAsset:                  domain.NewAddress(ev.DebtAsset),
			User:                       user,
			DebtToCoverRaw:             ev.DebtToCover,
			LiquidatedCollateralAmount: ev.LiquidatedCollateralAmount,
			Liquidator:                 domain.NewAddress(ev.Liquidator),
			Block:                      block,
			TxHash:                     logEntry.TxHash,
		}
		select {
		case l.liquidations <- observed:
		default:
			l.sink.IncCounter(metrics.CounterEventBatchesSkipped, map[string]string{"reason": "liquidation_backpressure"})
		}

	case chain.ReserveDataUpdatedTopic:
		ev, err := chain.DecodePoolReserveDataUpdated(logEntry.Topics, logEntry.Data)
		if err != nil {
			l.warnDecode("ReserveDataUpdated", err)
			return
		}
		reserve := domain.NewAddress(ev.Reserve)
		if l.indices.Observe(reserve, ev.LiquidityIndex, ev.VariableBorrowIndex) {
			l.sink.IncCounter(metrics.CounterReserveSweepSuppressed, map[string]string{"reserve": string(reserve)})
			return
		}
		l.dirty.TouchReserve(reserve)
		l.emit(Update{ReserveAffected: &reserve, Block: block})
	}
}

func (l *Listener) emitSingleUser(user domain.Address, block uint64) {
	l.dirty.TouchUser(user)
	l.emit(Update{UsersAffected: []domain.Address{user}, Block: block})
}

func (l *Listener) emit(u Update) {
	select {
	case l.updates <- u:
	default:
		l.sink.IncCounter(metrics.CounterEventBatchesSkipped, map[string]string{"reason": "update_backpressure"})
	}
}

func (l *Listener) warnDecode(event string, err error) {
	l.log.Warn("poolevents: decode failed", zap.String("event", event), zap.Error(err))
}
