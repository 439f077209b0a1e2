package domain

import (
	"math"
	"math/big"
	"time"
)

// TriggerKind identifies what caused a verification scan (spec §4.G input).
type TriggerKind string

const (
	TriggerHead    TriggerKind = "head"
	TriggerEvent   TriggerKind = "event"
	TriggerPrice   TriggerKind = "price"
	TriggerReserve TriggerKind = "reserve"
)

// BlockTag selects which block a read-only call targets (spec §4.G).
type BlockTag struct {
	Number  *uint64 // nil (with Pending false) means "latest"
	Pending bool    // request the "pending" block
}

// LatestBlockTag returns a tag that targets the confirmed head.
func LatestBlockTag() BlockTag { return BlockTag{} }

// PendingBlockTag returns a tag that targets the mempool-projected block.
func PendingBlockTag() BlockTag { return BlockTag{Pending: true} }

// HFObservation is one ring entry of a user's recent health-factor history.
type HFObservation struct {
	HF    float64
	Block uint64
}

// hfHistoryCap bounds User.HFHistory at 4 entries (spec §3 invariant).
const hfHistoryCap = 4

// User is the authoritative risk-set entity (spec §3).
//
// Invariant: HealthFactor < +Inf implies LastDebtUsd1e18 > 0. HF is mutated
// by the Verifier only; RiskSet enforces single-writer-per-key but does not
// itself re-check this invariant (callers — the Verifier — must uphold it).
type User struct {
	Address            Address
	HealthFactor       float64 // may be +Inf when no debt
	LastDebtUsd1e18     *big.Int
	LastCollateralUsd1e18 *big.Int
	LastObservedBlock  uint64
	HFHistory          []HFObservation // bounded ring, len <= 4, oldest first
}

// PushHistory appends an observation, trimming to the bounded ring length.
func (u *User) PushHistory(hf float64, block uint64) {
	u.HFHistory = append(u.HFHistory, HFObservation{HF: hf, Block: block})
	if len(u.HFHistory) > hfHistoryCap {
		u.HFHistory = u.HFHistory[len(u.HFHistory)-hfHistoryCap:]
	}
}

// NoDebtHF is the sentinel health factor for a position with zero debt.
var NoDebtHF = math.Inf(1)

// Reserve is the immutable-per-run protocol configuration for one
// underlying token (spec §3 / §4.B).
type Reserve struct {
	Underlying             Address
	Decimals               uint8
	LiquidationBonusBps     uint16
	IsCollateralEnabled     bool
	IsBorrowEnabled         bool
	VariableDebtTokenAddress Address
	ATokenAddress           Address
	PriceFeedHandle         Address
}

// PriceEntry is a cached USD price, 1e18-scaled (spec §3 / §4.A).
type PriceEntry struct {
	Token          Address
	Price1e18      *big.Int
	LastUpdateTsMs int64
	SourceDecimals uint8
}

// CandidatePlan is one (debt, collateral) liquidation opportunity produced
// by the planner (spec §3 / §4.I).
type CandidatePlan struct {
	DebtAsset               Address
	CollateralAsset         Address
	DebtToCoverRaw          *big.Int
	ExpectedCollateralOutRaw *big.Int
	DebtDecimals            uint8
	CollateralDecimals      uint8
	LiquidationBonusBps     uint16
	OracleScore1e18         *big.Int
}

// AttemptStatus is the outcome classification of a liquidation attempt
// (spec §3 / §4.K).
type AttemptStatus string

const (
	AttemptSent        AttemptStatus = "sent"
	AttemptPending      AttemptStatus = "pending"
	AttemptIncluded     AttemptStatus = "included"
	AttemptReverted     AttemptStatus = "reverted"
	AttemptFailed       AttemptStatus = "failed"
	AttemptError        AttemptStatus = "error"
	AttemptSkipNoPair   AttemptStatus = "skip_no_pair"
)

// AttemptRecord is one entry in a user's bounded attempt history (spec §3).
type AttemptRecord struct {
	User           Address
	Timestamp      time.Time
	Status         AttemptStatus
	TxHash         *string
	Nonce          *uint64
	DebtAsset      *Address
	CollateralAsset *Address
	DebtToCoverRaw *big.Int
	Error          *string
	// CorrelationID, when the attempt originated from a scan-driven
	// Actionable, ties this record back to that scan's log lines.
	CorrelationID string
}

// EdgeState is the per-user edge-trigger state machine (spec §4.G step 6,
// §9 design note: "implement as an explicit per-user enum with transition
// guards").
type EdgeState int

const (
	EdgeSafe EdgeState = iota
	EdgeLiq
)

// EdgeTriggerEntry tracks the last known edge state for a user so the
// Verifier can decide whether a given HF crossing deserves a fresh
// Actionable emission.
type EdgeTriggerEntry struct {
	State     EdgeState
	LastHF    float64
	LastBlock uint64
}

// ActionableReason names why an Actionable signal fired (spec §4.G step 6).
type ActionableReason string

const (
	ReasonSafeToLiq ActionableReason = "safe_to_liq"
	ReasonWorsened  ActionableReason = "worsened"
)

// Actionable is emitted at most once per (user, block) when a user crosses
// or worsens past the execution threshold (spec §4.G, invariants #2/#3).
type Actionable struct {
	User          Address
	Block         uint64
	HF            float64
	DebtUsd1e18   *big.Int
	Reason        ActionableReason
	Trigger       TriggerKind
	// CorrelationID ties this signal back to the scanregistry-held scan
	// that produced it, for structured log lines and attempt tracing.
	CorrelationID string
}

// AuditReason classifies an observed on-chain liquidation the engine did
// not win (spec §4.L).
type AuditReason string

const (
	AuditNotInActiveSet       AuditReason = "not_in_active_set"
	AuditDebtBelowMin         AuditReason = "debt_below_min"
	AuditPricedOut            AuditReason = "priced_out"
	AuditAttemptFailedOrLate  AuditReason = "attempt_failed_or_late"
	AuditHfNeverCrossedExecute AuditReason = "hf_never_crossed_execute"
)
