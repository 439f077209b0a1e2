// Package audit implements the AuditListener (spec §4.L): it consumes every
// on-chain LiquidationCall the pool event listener observes and classifies
// why this engine did not win it, notifying the operator with the
// classification and the competitor's transaction hash.
package audit

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"go.uber.org/zap"

	"github.com/onchainops/liquidator/pkg/domain"
	"github.com/onchainops/liquidator/pkg/external"
	"github.com/onchainops/liquidator/pkg/history"
	"github.com/onchainops/liquidator/pkg/metrics"
	"github.com/onchainops/liquidator/pkg/poolevents"
	"github.com/onchainops/liquidator/pkg/riskset"
)

// safetyCheckFailedSubstring is the error-message fragment that marks a
// liquidation as priced out by the on-chain safety check (spec §4.L).
const safetyCheckFailedSubstring = "Safety check failed"

// Config bundles the AuditListener's tunables.
type Config struct {
	MinDebtUsd1e18 *big.Int
}

// AuditListener classifies observed liquidations this engine did not win.
type AuditListener struct {
	cfg      Config
	risk     *riskset.RiskSet
	attempts *history.History
	notifier external.Notifier
	sink     metrics.MetricsSink
	log      *zap.Logger
}

func New(cfg Config, risk *riskset.RiskSet, attempts *history.History, notifier external.Notifier, sink metrics.MetricsSink, log *zap.Logger) *AuditListener {
	if sink == nil {
		sink = metrics.NoOp{}
	}
	return &AuditListener{cfg: cfg, risk: risk, attempts: attempts, notifier: notifier, sink: sink, log: log}
}

// Run drains the pool event listener's liquidation-observation channel
// until ctx is cancelled or the channel is closed.
func (a *AuditListener) Run(ctx context.Context, liquidations <-chan poolevents.LiquidationObserved) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-liquidations:
			if !ok {
				return nil
			}
			a.Handle(ctx, ev)
		}
	}
}

// Handle classifies one observed liquidation and notifies the operator.
func (a *AuditListener) Handle(ctx context.Context, ev poolevents.LiquidationObserved) {
	reason, subReason := a.Classify(ev.User)
	a.sink.IncCounter(metrics.CounterAuditClassified, map[string]string{"reason": string(reason)})

	user, _ := a.risk.Get(ev.User)
	fields := map[string]string{
		"user":             string(ev.User),
		"reason":           string(reason),
		"collateral_asset": string(ev.CollateralAsset),
		"debt_asset":       string(ev.DebtAsset),
		"competitor_tx":    ev.TxHash.Hex(),
		"hf":               fmt.Sprintf("%g", user.HealthFactor),
	}
	if user.LastDebtUsd1e18 != nil {
		fields["debt_usd_1e18"] = user.LastDebtUsd1e18.String()
	}
	if subReason != "" {
		fields["sub_reason"] = subReason
	}

	n := external.Notification{
		Kind:    external.NotifyAuditReason,
		Message: fmt.Sprintf("liquidation observed for %s: %s", ev.User, reason),
		Fields:  fields,
	}
	if err := a.notifier.Notify(ctx, n); err != nil {
		a.log.Warn("audit: notify failed", zap.String("user", string(ev.User)), zap.Error(err))
	}
}

// Classify implements spec §4.L's reason decision tree in order.
func (a *AuditListener) Classify(user domain.Address) (domain.AuditReason, string) {
	u, inActiveSet := a.risk.Get(user)
	if !inActiveSet {
		return domain.AuditNotInActiveSet, ""
	}
	if a.cfg.MinDebtUsd1e18 != nil && u.LastDebtUsd1e18 != nil && u.LastDebtUsd1e18.Cmp(a.cfg.MinDebtUsd1e18) < 0 {
		return domain.AuditDebtBelowMin, ""
	}

	last, hasLast := a.attempts.Last(user)
	if hasLast {
		if last.Status == domain.AttemptError && last.Error != nil && strings.Contains(*last.Error, safetyCheckFailedSubstring) {
			return domain.AuditPricedOut, ""
		}
		if last.Status == domain.AttemptSent || last.Status == domain.AttemptPending {
			return domain.AuditAttemptFailedOrLate, "pending_late_inclusion"
		}
		if last.Status == domain.AttemptReverted || last.Status == domain.AttemptError {
			return domain.AuditAttemptFailedOrLate, ""
		}
	}
	return domain.AuditHfNeverCrossedExecute, ""
}
