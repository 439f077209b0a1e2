// Package external declares the narrow interfaces spec §6 assigns to
// out-of-core collaborators: a borrower-set index, a swap-quote oracle, the
// on-chain executor contract, and operator notifications. The engine only
// ever depends on these interfaces; concrete adapters (subgraph client,
// 1inch-style HTTP client, chain-based executor, webhook notifier) live
// alongside them in this package and are wired at startup.
package external

import (
	"context"
	"math/big"

	"github.com/onchainops/liquidator/pkg/domain"
)

// BorrowerIndex answers "who currently borrows against this reserve" (spec
// §6.D). The backing source — subgraph, on-chain scanner, Redis cache — is
// pluggable; the scheduler's price-shock path and reserve fast-lane are the
// only callers.
type BorrowerIndex interface {
	GetBorrowers(ctx context.Context, reserve domain.Address) ([]domain.Address, error)
}

// SwapQuote is the opaque calldata and minimum-out the swap oracle returns
// for one requested swap (spec §6.E).
type SwapQuote struct {
	MinOutRaw *big.Int
	Data      []byte
}

// SwapRequest bundles one quote request (spec §6.E).
type SwapRequest struct {
	FromToken   domain.Address
	ToToken     domain.Address
	AmountRaw   *big.Int
	FromAddress domain.Address
	SlippageBps int64
}

// SwapOracle fetches routed swap calldata for the planner's chosen
// collateral-to-debt-token leg (spec §6.E).
type SwapOracle interface {
	GetSwapCalldata(ctx context.Context, req SwapRequest) (SwapQuote, error)
}

// LiquidationParams is forwarded verbatim to the executor contract (spec
// §6.F).
type LiquidationParams struct {
	User                     domain.Address
	CollateralAsset          domain.Address
	DebtAsset                domain.Address
	DebtToCoverRaw           *big.Int
	SwapCalldata             []byte
	MinOutRaw                *big.Int
	Payout                   domain.Address
	ExpectedCollateralOutRaw *big.Int
}

// Executor builds the raw, unsigned transaction calling
// attemptLiquidation(...) on the on-chain executor contract (spec §6.F).
// The core treats the resulting tx as a black box: it either reverts,
// succeeds, or is never mined — Broadcaster and AuditListener classify the
// outcome, Executor only builds the call.
type Executor interface {
	BuildLiquidationTx(ctx context.Context, params LiquidationParams) ([]byte, error)
}

// NotificationKind bounds the structured-field cardinality spec §6.G
// requires for operator notifications.
type NotificationKind string

const (
	NotifyStartup             NotificationKind = "startup"
	NotifyLiquidationDetected NotificationKind = "liquidation_detected"
	NotifyAuditReason         NotificationKind = "audit_reason"
	NotifyFatalError          NotificationKind = "fatal_error"
)

// Notification is one one-shot operator message (spec §6.G).
type Notification struct {
	Kind    NotificationKind
	Message string
	Fields  map[string]string
}

// Notifier sends operator notifications best-effort; a failed send is
// logged, never propagated as a fatal error (spec §7: recoverable by
// policy).
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}
