package pricefeed

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/pricecache"
)

// SharpDropSignal is emitted when a feed's price falls sharply enough to
// warrant an emergency verification scan (spec §4.E / §4.H "Price-shock
// path"). Delay carries the jitter drawn for the scheduled scan.
type SharpDropSignal struct {
	Symbol    string
	Reserve   domain.Address
	ChangeBps int64
	Block     uint64
	Delay     time.Duration
}

// Listener is the PriceFeedListener (spec §4.E).
type Listener struct {
	cfg    Config
	client chain.Client
	cache  *pricecache.Cache
	clock  util.Clock
	sink   metrics.MetricsSink
	log    *zap.Logger

	signals chan SharpDropSignal
	dedup   *roundDedup
	drops   *dropDetector
	comp    *composer

	feedByAddr map[common.Address]FeedConfig
	currentBlk uint64
}

// New constructs a Listener. signalBuffer sizes the SharpDropSignal
// channel; 0 uses a sane default.
func New(cfg Config, client chain.Client, cache *pricecache.Cache, clock util.Clock, sink metrics.MetricsSink, log *zap.Logger, signalBuffer int) *Listener {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	if signalBuffer <= 0 {
		signalBuffer = 64
	}
	dedupWindow := time.Duration(cfg.DedupWindowMs) * time.Millisecond
	if dedupWindow <= 0 {
		dedupWindow = 10 * time.Minute
	}
	globalMinInterval := time.Duration(cfg.GlobalMinInterval) * time.Millisecond

	feedByAddr := make(map[common.Address]FeedConfig, len(cfg.Feeds))
	for _, fc := range cfg.Feeds {
		feedByAddr[fc.Feed.Common()] = fc
	}

	l := &Listener{
		cfg:        cfg,
		client:     client,
		cache:      cache,
		clock:      clock,
		sink:       sink,
		log:        log,
		signals:    make(chan SharpDropSignal, signalBuffer),
		dedup:      newRoundDedup(dedupWindow, clock),
		drops:      newDropDetector(clock, globalMinInterval),
		comp:       newComposer(cache),
		feedByAddr: feedByAddr,
	}
	for _, fc := range cfg.Feeds {
		if fc.Derived {
			l.comp.RegisterDerived(fc)
		}
	}
	return l
}

// Signals exposes the sharp-drop emission channel.
func (l *Listener) Signals() <-chan SharpDropSignal { return l.signals }

// Release clears a symbol's in-flight flag once its scheduled emergency
// scan has finished, per spec §4.E's per-symbol in-flight gating.
func (l *Listener) Release(symbol string) { l.drops.Release(symbol) }

// NotifyBlock updates the block number used for per-symbol per-block
// dedupe (spec §4.E "(iii) per-block dedupe for this symbol").
func (l *Listener) NotifyBlock(block uint64) { l.currentBlk = block }

// Seed fetches decimals and the latest round for every configured feed
// (spec §4.E: "on subscribe, fetch decimals and seed latest price").
func (l *Listener) Seed(ctx context.Context) {
	for _, fc := range l.cfg.Feeds {
		if err := l.seedFeed(ctx, fc); err != nil {
			l.log.Warn("pricefeed: seed failed", zap.String("symbol", fc.Symbol), zap.Error(err))
		}
	}
}

func (l *Listener) seedFeed(ctx context.Context, fc FeedConfig) error {
	decData, err := chain.PackDecimals()
	if err != nil {
		return err
	}
	raw, err := l.client.Call(ctx, fc.Feed.Common(), decData, "latest")
	if err != nil {
		return fmt.Errorf("pricefeed: decimals(%s): %w", fc.Symbol, err)
	}
	decimals, err := chain.UnpackDecimals(raw)
	if err != nil {
		return err
	}
	l.cache.SetFeedDecimals(fc.Feed, decimals)

	roundData, err := chain.PackLatestRoundData()
	if err != nil {
		return err
	}
	raw, err = l.client.Call(ctx, fc.Feed.Common(), roundData, "latest")
	if err != nil {
		return fmt.Errorf("pricefeed: latestRoundData(%s): %w", fc.Symbol, err)
	}
	round, err := chain.UnpackLatestRoundData(raw)
	if err != nil {
		return err
	}
	l.processUpdate(fc, round.Answer, decimals)
	return nil
}

// Run subscribes to every feed's NewTransmission event plus the chain's new
// heads (used as the heartbeat signal, spec §5), reconnecting with
// exponential backoff and reseeding on every reattach.
func (l *Listener) Run(ctx context.Context) error {
	addrs := make([]common.Address, 0, len(l.cfg.Feeds))
	for _, fc := range l.cfg.Feeds {
		addrs = append(addrs, fc.Feed.Common())
	}
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
				Addresses: addrs,
				Topics:    [][]common.Hash{{chain.NewTransmissionTopic}},
			}, logs)
			if err != nil {
				return err
			}
			headSub, err = l.client.SubscribeNewHead(ctx, heads)
			if err != nil {
				logSub.Unsubscribe()
				return err
			}
			l.Seed(ctx)
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

// consume drains logs/heads/errors until ctx is cancelled (returns nil) or
// the connection is judged dead (returns a non-nil reason to reconnect).
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
				l.NotifyBlock(head.Number.Uint64())
			}
		case logEntry := <-logs:
			hb.Pulse()
			l.handleLog(ctx, logEntry)
		}
	}
}

func (l *Listener) handleLog(ctx context.Context, logEntry types.Log) {
	fc, ok := l.feedByAddr[logEntry.Address]
	if !ok {
		return
	}
	roundID, answer, err := chain.DecodeNewTransmission(logEntry.Data)
	if err != nil {
		l.log.Warn("pricefeed: decode NewTransmission failed", zap.String("symbol", fc.Symbol), zap.Error(err))
		return
	}

	dedupKey := fmt.Sprintf("%d:%s", roundID, fc.Feed)
	if l.dedup.Seen(dedupKey) {
		return
	}

	decimals, ok := l.cache.FeedDecimals(fc.Feed)
	if !ok {
		decimals = 8
	}
	l.processUpdate(fc, answer, decimals)
}

func (l *Listener) processUpdate(fc FeedConfig, answer *big.Int, decimals uint8) {
	price1e18, err := pricecache.NormalizeAnswer(answer, decimals)
	if err != nil {
		l.log.Debug("pricefeed: rejected non-positive answer", zap.String("symbol", fc.Symbol))
		return
	}
	nowMs := l.clock.Now().UnixMilli()

	if fc.Derived {
		l.comp.UpdateRatio(fc, price1e18, nowMs)
		return
	}

	l.cache.PutUSD1e18(fc.Token, price1e18, nowMs)
	l.comp.OnBaseUpdated(fc.Token, nowMs)

	if fc.ThresholdBps <= 0 {
		return
	}
	cb, trigger := l.drops.Evaluate(fc.Symbol, answer, fc, l.currentBlk)
	if !trigger {
		return
	}
	jitterMin := time.Duration(l.cfg.JitterMinMs) * time.Millisecond
	jitterMax := time.Duration(l.cfg.JitterMaxMs) * time.Millisecond
	if jitterMax <= 0 {
		jitterMin, jitterMax = 40*time.Millisecond, 60*time.Millisecond
	}
	delay := util.JitterDuration(jitterMin, jitterMax)

	select {
	case l.signals <- SharpDropSignal{Symbol: fc.Symbol, Reserve: fc.Token, ChangeBps: cb, Block: l.currentBlk, Delay: delay}:
	default:
		l.sink.IncCounter(metrics.CounterEventBatchesSkipped, map[string]string{"reason": "signal_backpressure"})
		l.drops.Release(fc.Symbol)
	}
}
