// Package broadcaster implements the Broadcaster (spec §4.J):
// broadcast_with_replacement fans a signed transaction out to every write
// endpoint in parallel, polls a monitor endpoint for inclusion, and bumps
// fees and resigns on the same nonce when a round times out — up to a fixed
// replacement cap.
package broadcaster

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/onchainops/liquidator/internal/util"
	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/metrics"
)

var (
	errBroadcastFailed = errors.New("broadcaster: broadcast failed")
	errReverted        = errors.New("broadcaster: transaction reverted")
)

// Config bundles the Broadcaster's construction-time tunables (spec §4.J
// "Construction").
type Config struct {
	MaxReplacements  int           // default 3
	ReplacementDelay time.Duration // default 3s
	PollInterval     time.Duration // default 250ms
	FeeBumpBps       int64         // default 2000 (+20%)
}

// Result is the outcome of one broadcast_with_replacement call.
type Result struct {
	Status  domain.AttemptStatus
	TxHash  string
	Receipt *types.Receipt
	Err     error
}

// Broadcaster is constructed once with a fixed, reused set of write
// endpoints and one monitor endpoint (spec §4.J: "providers instantiated
// once and reused").
type Broadcaster struct {
	cfg       Config
	endpoints []chain.Client
	monitor   chain.Client
	signer    *Signer
	clock     util.Clock
	sink      metrics.MetricsSink
	log       *zap.Logger
}

func New(cfg Config, endpoints []chain.Client, monitor chain.Client, signer *Signer, clock util.Clock, sink metrics.MetricsSink, log *zap.Logger) *Broadcaster {
	if cfg.MaxReplacements == 0 {
		cfg.MaxReplacements = 3
	}
	if cfg.ReplacementDelay == 0 {
		cfg.ReplacementDelay = 3 * time.Second
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 250 * time.Millisecond
	}
	if cfg.FeeBumpBps == 0 {
		cfg.FeeBumpBps = 2000
	}
	if sink == nil {
		sink = metrics.NoOp{}
	}
	return &Broadcaster{cfg: cfg, endpoints: endpoints, monitor: monitor, signer: signer, clock: clock, sink: sink, log: log}
}

// Broadcast runs spec §4.J's broadcast_with_replacement for one liquidation
// call. The nonce is captured once, before the first attempt, and reused
// across every replacement (spec invariant).
func (b *Broadcaster) Broadcast(ctx context.Context, to common.Address, data []byte, gasLimit uint64) Result {
	nonce, err := b.monitor.PendingNonceAt(ctx, b.signer.From)
	if err != nil {
		b.log.Warn("broadcaster: pending nonce fetch failed", zap.Error(err))
		return Result{Status: domain.AttemptFailed, Err: err}
	}

	gasFeeCap, gasTipCap, err := b.initialFees(ctx)
	if err != nil {
		b.log.Warn("broadcaster: initial fee estimate failed", zap.Error(err))
		return Result{Status: domain.AttemptFailed, Err: err}
	}

	var broadcastOkOnce bool
	var lastTxHash string

	for attempt := 0; attempt <= b.cfg.MaxReplacements; attempt++ {
		tx, err := b.signer.SignDynamicFee(nonce, to, data, gasLimit, gasFeeCap, gasTipCap)
		if err != nil {
			b.log.Warn("broadcaster: sign failed", zap.Int("attempt", attempt), zap.Error(err))
			return Result{Status: domain.AttemptFailed, Err: err}
		}

		hash, ok := b.fanOut(ctx, tx)
		if ok {
			broadcastOkOnce = true
			lastTxHash = hash
		}

		if !ok {
			if attempt == b.cfg.MaxReplacements {
				if broadcastOkOnce {
					b.sink.IncCounter(metrics.CounterBroadcastPending, nil)
					return Result{Status: domain.AttemptPending, TxHash: lastTxHash}
				}
				b.sink.IncCounter(metrics.CounterBroadcastFailed, nil)
				return Result{Status: domain.AttemptFailed, Err: errBroadcastFailed}
			}
			continue
		}

		receipt, found := b.pollReceipt(ctx, tx.Hash())
		if found {
			if receipt.Status == types.ReceiptStatusSuccessful {
				b.sink.IncCounter(metrics.CounterBroadcastMined, nil)
				return Result{Status: domain.AttemptIncluded, TxHash: lastTxHash, Receipt: receipt}
			}
			b.sink.IncCounter(metrics.CounterBroadcastFailed, map[string]string{"reason": "reverted"})
			return Result{Status: domain.AttemptReverted, TxHash: lastTxHash, Receipt: receipt, Err: errReverted}
		}

		if attempt == b.cfg.MaxReplacements {
			break
		}
		b.sink.IncCounter(metrics.CounterBroadcastReplacement, nil)
		gasFeeCap = domain.ApplyBps(gasFeeCap, 10000+b.cfg.FeeBumpBps)
		gasTipCap = domain.ApplyBps(gasTipCap, 10000+b.cfg.FeeBumpBps)
	}

	if broadcastOkOnce {
		b.sink.IncCounter(metrics.CounterBroadcastPending, nil)
		return Result{Status: domain.AttemptPending, TxHash: lastTxHash}
	}
	b.sink.IncCounter(metrics.CounterBroadcastFailed, nil)
	return Result{Status: domain.AttemptFailed, Err: errBroadcastFailed}
}

// fanOut sends the signed, raw transaction to every endpoint in parallel
// (spec §4.J step 2a). Individual endpoint failures never fail the group —
// only the aggregate "did anyone succeed" matters, so each errgroup.Go
// closure always returns nil.
func (b *Broadcaster) fanOut(ctx context.Context, tx *types.Transaction) (string, bool) {
	var mu sync.Mutex
	var hash string
	var ok bool

	var g errgroup.Group
	for _, ep := range b.endpoints {
		ep := ep
		g.Go(func() error {
			if err := ep.SendTransaction(ctx, tx); err != nil {
				return nil
			}
			mu.Lock()
			if !ok {
				ok = true
				hash = tx.Hash().Hex()
			}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return hash, ok
}

// pollReceipt polls the monitor endpoint for up to ReplacementDelay (spec
// §4.J step 2c). The window is expressed as a fixed poll-count
// (ReplacementDelay / PollInterval) rather than a clock.Now() deadline, so
// the injected clock only needs to answer After() deterministically in
// tests instead of also auto-advancing Now().
func (b *Broadcaster) pollReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, bool) {
	maxPolls := int(b.cfg.ReplacementDelay / b.cfg.PollInterval)
	if maxPolls < 1 {
		maxPolls = 1
	}
	for i := 0; i < maxPolls; i++ {
		receipt, err := b.monitor.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, true
		}
		select {
		case <-ctx.Done():
			return nil, false
		case <-b.clock.After(b.cfg.PollInterval):
		}
	}
	return nil, false
}

// initialFees estimates the first round's fee caps the classic way: tip cap
// from the node's suggestion, fee cap as 2x the suggested gas price plus
// the tip (a conservative EIP-1559 heuristic tolerant of one base-fee
// doubling before a replacement round is needed).
func (b *Broadcaster) initialFees(ctx context.Context) (feeCap, tipCap *big.Int, err error) {
	tipCap, err = b.monitor.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, err
	}
	gasPrice, err := b.monitor.SuggestGasPrice(ctx)
	if err != nil {
		return nil, nil, err
	}
	feeCap = new(big.Int).Add(new(big.Int).Mul(gasPrice, big.NewInt(2)), tipCap)
	return feeCap, tipCap, nil
}
