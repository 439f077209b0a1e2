package external

import (
	"context"
	"math/big"
	"reflect"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onchainops/liquidator/pkg/chain"
	"github.com/onchainops/liquidator/pkg/domain"
)

func TestBuildLiquidationTxEncodesAllFields(t *testing.T) {
	e := NewChainExecutor()
	params := LiquidationParams{
		User:                     domain.NewAddress(common.HexToAddress("0x01")),
		CollateralAsset:          domain.NewAddress(common.HexToAddress("0x02")),
		DebtAsset:                domain.NewAddress(common.HexToAddress("0x03")),
		DebtToCoverRaw:           big.NewInt(1000),
		SwapCalldata:             []byte{0xde, 0xad},
		MinOutRaw:                big.NewInt(950),
		Payout:                   domain.NewAddress(common.HexToAddress("0x04")),
		ExpectedCollateralOutRaw: big.NewInt(2000),
	}

	data, err := e.BuildLiquidationTx(context.Background(), params)

	require.NoError(t, err)
	assert.True(t, len(data) > 4, "calldata must include the 4-byte selector plus encoded args")

	method := chain.ExecutorABI.Methods["attemptLiquidation"]
	sel := method.ID
	assert.Equal(t, sel, data[:4])

	decoded, err := method.Inputs.Unpack(data[4:])
	require.NoError(t, err)
	got := reflect.ValueOf(decoded[0])
	assert.Equal(t, params.User.Common(), got.FieldByName("User").Interface())
	assert.Equal(t, params.DebtToCoverRaw, got.FieldByName("DebtToCover").Interface())
	assert.Equal(t, params.SwapCalldata, got.FieldByName("SwapCalldata").Interface())
}
