package external

import (
	"context"

	"github.com/onchainops/liquidator/pkg/chain"
)

// ChainExecutor is the concrete Executor (spec §6.F): it only ABI-encodes
// the attemptLiquidation(...) call, never sends it — Broadcaster owns
// signing and submission.
type ChainExecutor struct{}

func NewChainExecutor() *ChainExecutor { return &ChainExecutor{} }

func (e *ChainExecutor) BuildLiquidationTx(ctx context.Context, params LiquidationParams) ([]byte, error) {
	return chain.PackAttemptLiquidation(chain.AttemptLiquidationParams{
		User:                  params.User.Common(),
		CollateralAsset:       params.CollateralAsset.Common(),
		DebtAsset:             params.DebtAsset.Common(),
		DebtToCover:           params.DebtToCoverRaw,
		SwapCalldata:          params.SwapCalldata,
		MinOut:                params.MinOutRaw,
		Payout:                params.Payout.Common(),
		ExpectedCollateralOut: params.ExpectedCollateralOutRaw,
	})
}
