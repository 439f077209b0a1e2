package chain

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ABI fragments for the external read-only contracts named in spec §6.
// Only the functions/events this engine calls are declared — these are
// minimal ABI subsets, not full protocol/Multicall3 interfaces.
const (
	poolDataProviderABIJSON = `[
		{"name":"getUserAccountData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"user","type":"address"}],
		 "outputs":[
			{"name":"totalCollateralBase","type":"uint256"},
			{"name":"totalDebtBase","type":"uint256"},
			{"name":"availableBorrowsBase","type":"uint256"},
			{"name":"currentLiquidationThreshold","type":"uint256"},
			{"name":"ltv","type":"uint256"},
			{"name":"healthFactor","type":"uint256"}]},
		{"name":"getReserveConfigurationData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"asset","type":"address"}],
		 "outputs":[
			{"name":"decimals","type":"uint256"},
			{"name":"ltv","type":"uint256"},
			{"name":"liquidationThreshold","type":"uint256"},
			{"name":"liquidationBonus","type":"uint256"},
			{"name":"reserveFactor","type":"uint256"},
			{"name":"usageAsCollateralEnabled","type":"bool"},
			{"name":"borrowingEnabled","type":"bool"},
			{"name":"stableBorrowRateEnabled","type":"bool"},
			{"name":"isActive","type":"bool"},
			{"name":"isFrozen","type":"bool"}]},
		{"name":"getUserReserveData","type":"function","stateMutability":"view",
		 "inputs":[{"name":"asset","type":"address"},{"name":"user","type":"address"}],
		 "outputs":[
			{"name":"currentATokenBalance","type":"uint256"},
			{"name":"currentStableDebt","type":"uint256"},
			{"name":"currentVariableDebt","type":"uint256"},
			{"name":"principalStableDebt","type":"uint256"},
			{"name":"scaledVariableDebt","type":"uint256"},
			{"name":"stableBorrowRate","type":"uint256"},
			{"name":"liquidityRate","type":"uint256"},
			{"name":"stableRateLastUpdated","type":"uint256"},
			{"name":"usageAsCollateralEnabled","type":"bool"}]}
	]`

	multicall3ABIJSON = `[
		{"name":"aggregate3","type":"function","stateMutability":"payable",
		 "inputs":[{"name":"calls","type":"tuple[]","components":[
			{"name":"target","type":"address"},
			{"name":"allowFailure","type":"bool"},
			{"name":"callData","type":"bytes"}]}],
		 "outputs":[{"name":"returnData","type":"tuple[]","components":[
			{"name":"success","type":"bool"},
			{"name":"returnData","type":"bytes"}]}]}
	]`

	chainlinkFeedABIJSON = `[
		{"name":"latestRoundData","type":"function","stateMutability":"view","inputs":[],
		 "outputs":[
			{"name":"roundId","type":"uint80"},
			{"name":"answer","type":"int256"},
			{"name":"startedAt","type":"uint256"},
			{"name":"updatedAt","type":"uint256"},
			{"name":"answeredInRound","type":"uint80"}]},
		{"name":"decimals","type":"function","stateMutability":"view","inputs":[],
		 "outputs":[{"name":"","type":"uint8"}]},
		{"name":"NewTransmission","type":"event","anonymous":false,"inputs":[
			{"name":"aggregatorRoundId","type":"uint32","indexed":false},
			{"name":"answer","type":"int192","indexed":false},
			{"name":"transmitter","type":"address","indexed":false},
			{"name":"observationsTimestamp","type":"uint32","indexed":false},
			{"name":"observations","type":"int192[]","indexed":false},
			{"name":"observers","type":"bytes","indexed":false},
			{"name":"rawReportContext","type":"bytes32","indexed":false}]}
	]`

	erc20ABIJSON = `[
		{"name":"balanceOf","type":"function","stateMutability":"view",
		 "inputs":[{"name":"account","type":"address"}],
		 "outputs":[{"name":"","type":"uint256"}]}
	]`

	// executorABIJSON is the on-chain executor contract's single entry point
	// (spec §6.F). The core only ever builds this one call; everything past
	// it — revert, success, never-mined — is the Broadcaster/AuditListener's
	// concern, not the executor's.
	executorABIJSON = `[
		{"name":"attemptLiquidation","type":"function","stateMutability":"nonpayable",
		 "inputs":[{"name":"params","type":"tuple","components":[
			{"name":"user","type":"address"},
			{"name":"collateralAsset","type":"address"},
			{"name":"debtAsset","type":"address"},
			{"name":"debtToCover","type":"uint256"},
			{"name":"swapCalldata","type":"bytes"},
			{"name":"minOut","type":"uint256"},
			{"name":"payout","type":"address"},
			{"name":"expectedCollateralOut","type":"uint256"}]}],
		 "outputs":[]}
	]`

	poolABIJSON = `[
		{"name":"Supply","type":"event","anonymous":false,"inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":false},
			{"name":"onBehalfOf","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"referralCode","type":"uint16","indexed":true}]},
		{"name":"Withdraw","type":"event","anonymous":false,"inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"to","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false}]},
		{"name":"Borrow","type":"event","anonymous":false,"inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":false},
			{"name":"onBehalfOf","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"interestRateMode","type":"uint8","indexed":false},
			{"name":"borrowRate","type":"uint256","indexed":false},
			{"name":"referralCode","type":"uint16","indexed":true}]},
		{"name":"Repay","type":"event","anonymous":false,"inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"repayer","type":"address","indexed":true},
			{"name":"amount","type":"uint256","indexed":false},
			{"name":"useATokens","type":"bool","indexed":false}]},
		{"name":"LiquidationCall","type":"event","anonymous":false,"inputs":[
			{"name":"collateralAsset","type":"address","indexed":true},
			{"name":"debtAsset","type":"address","indexed":true},
			{"name":"user","type":"address","indexed":true},
			{"name":"debtToCover","type":"uint256","indexed":false},
			{"name":"liquidatedCollateralAmount","type":"uint256","indexed":false},
			{"name":"liquidator","type":"address","indexed":false},
			{"name":"receiveAToken","type":"bool","indexed":false}]},
		{"name":"ReserveDataUpdated","type":"event","anonymous":false,"inputs":[
			{"name":"reserve","type":"address","indexed":true},
			{"name":"liquidityRate","type":"uint256","indexed":false},
			{"name":"stableBorrowRate","type":"uint256","indexed":false},
			{"name":"variableBorrowRate","type":"uint256","indexed":false},
			{"name":"liquidityIndex","type":"uint256","indexed":false},
			{"name":"variableBorrowIndex","type":"uint256","indexed":false}]}
	]`
)

var (
	PoolDataProviderABI abi.ABI
	Multicall3ABI       abi.ABI
	ChainlinkFeedABI    abi.ABI
	ERC20ABI            abi.ABI
	PoolABI             abi.ABI
	ExecutorABI         abi.ABI

	// NewTransmissionTopic is the event topic the price feed listener
	// subscribes to (spec §4.E: "new-round transmission event only").
	NewTransmissionTopic common.Hash

	// Pool event topics (spec §4.F).
	SupplyTopic             common.Hash
	WithdrawTopic           common.Hash
	BorrowTopic             common.Hash
	RepayTopic              common.Hash
	LiquidationCallTopic    common.Hash
	ReserveDataUpdatedTopic common.Hash
)

func mustParseABI(js string) abi.ABI {
	a, err := abi.JSON(strings.NewReader(js))
	if err != nil {
		panic(fmt.Sprintf("chain: invalid embedded ABI: %v", err))
	}
	return a
}

func init() {
	PoolDataProviderABI = mustParseABI(poolDataProviderABIJSON)
	Multicall3ABI = mustParseABI(multicall3ABIJSON)
	ChainlinkFeedABI = mustParseABI(chainlinkFeedABIJSON)
	ERC20ABI = mustParseABI(erc20ABIJSON)
	PoolABI = mustParseABI(poolABIJSON)
	ExecutorABI = mustParseABI(executorABIJSON)
	NewTransmissionTopic = crypto.Keccak256Hash([]byte("NewTransmission(uint32,int192,address,uint32,int192[],bytes,bytes32)"))

	SupplyTopic = crypto.Keccak256Hash([]byte("Supply(address,address,address,uint256,uint16)"))
	WithdrawTopic = crypto.Keccak256Hash([]byte("Withdraw(address,address,address,uint256)"))
	BorrowTopic = crypto.Keccak256Hash([]byte("Borrow(address,address,address,uint256,uint8,uint256,uint16)"))
	RepayTopic = crypto.Keccak256Hash([]byte("Repay(address,address,address,uint256,bool)"))
	LiquidationCallTopic = crypto.Keccak256Hash([]byte("LiquidationCall(address,address,address,uint256,uint256,address,bool)"))
	ReserveDataUpdatedTopic = crypto.Keccak256Hash([]byte("ReserveDataUpdated(address,uint256,uint256,uint256,uint256,uint256)"))
}

// UserAccountData is the decoded result of getUserAccountData (spec §6.A).
// healthFactor is 1e18-scaled; the Base fields are 8-decimal USD per the
// lending protocol's own convention.
type UserAccountData struct {
	TotalCollateralBase         *big.Int
	TotalDebtBase                *big.Int
	AvailableBorrowsBase         *big.Int
	CurrentLiquidationThreshold *big.Int
	LTV                          *big.Int
	HealthFactor                *big.Int
}

// ReserveConfigData is the decoded result of getReserveConfigurationData.
type ReserveConfigData struct {
	Decimals                 uint8
	LTV                       *big.Int
	LiquidationThreshold      *big.Int
	LiquidationBonus          *big.Int
	ReserveFactor             *big.Int
	UsageAsCollateralEnabled bool
	BorrowingEnabled          bool
	StableBorrowRateEnabled   bool
	IsActive                  bool
	IsFrozen                  bool
}

// UserReserveData is the decoded result of getUserReserveData.
type UserReserveData struct {
	CurrentATokenBalance     *big.Int
	CurrentStableDebt        *big.Int
	CurrentVariableDebt      *big.Int
	UsageAsCollateralEnabled bool
}

// RoundData is the decoded result of latestRoundData.
type RoundData struct {
	RoundID         *big.Int
	Answer          *big.Int
	StartedAt       *big.Int
	UpdatedAt       *big.Int
	AnsweredInRound *big.Int
}

// PackGetUserAccountData builds calldata for getUserAccountData(user).
func PackGetUserAccountData(user common.Address) ([]byte, error) {
	return PoolDataProviderABI.Pack("getUserAccountData", user)
}

// UnpackUserAccountData decodes the output of getUserAccountData.
func UnpackUserAccountData(data []byte) (*UserAccountData, error) {
	vals, err := PoolDataProviderABI.Unpack("getUserAccountData", data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 6 {
		return nil, fmt.Errorf("chain: unexpected getUserAccountData output length %d", len(vals))
	}
	return &UserAccountData{
		TotalCollateralBase:        vals[0].(*big.Int),
		TotalDebtBase:               vals[1].(*big.Int),
		AvailableBorrowsBase:        vals[2].(*big.Int),
		CurrentLiquidationThreshold: vals[3].(*big.Int),
		LTV:                         vals[4].(*big.Int),
		HealthFactor:                vals[5].(*big.Int),
	}, nil
}

// PackGetReserveConfigurationData builds calldata for the reserve config call.
func PackGetReserveConfigurationData(asset common.Address) ([]byte, error) {
	return PoolDataProviderABI.Pack("getReserveConfigurationData", asset)
}

func UnpackReserveConfigurationData(data []byte) (*ReserveConfigData, error) {
	vals, err := PoolDataProviderABI.Unpack("getReserveConfigurationData", data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 10 {
		return nil, fmt.Errorf("chain: unexpected getReserveConfigurationData output length %d", len(vals))
	}
	return &ReserveConfigData{
		Decimals:                 uint8(vals[0].(*big.Int).Uint64()),
		LTV:                      vals[1].(*big.Int),
		LiquidationThreshold:     vals[2].(*big.Int),
		LiquidationBonus:         vals[3].(*big.Int),
		ReserveFactor:            vals[4].(*big.Int),
		UsageAsCollateralEnabled: vals[5].(bool),
		BorrowingEnabled:         vals[6].(bool),
		StableBorrowRateEnabled:  vals[7].(bool),
		IsActive:                 vals[8].(bool),
		IsFrozen:                 vals[9].(bool),
	}, nil
}

// PackGetUserReserveData builds calldata for getUserReserveData(asset, user).
func PackGetUserReserveData(asset, user common.Address) ([]byte, error) {
	return PoolDataProviderABI.Pack("getUserReserveData", asset, user)
}

func UnpackUserReserveData(data []byte) (*UserReserveData, error) {
	vals, err := PoolDataProviderABI.Unpack("getUserReserveData", data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 9 {
		return nil, fmt.Errorf("chain: unexpected getUserReserveData output length %d", len(vals))
	}
	return &UserReserveData{
		CurrentATokenBalance:     vals[0].(*big.Int),
		CurrentStableDebt:        vals[1].(*big.Int),
		CurrentVariableDebt:      vals[2].(*big.Int),
		UsageAsCollateralEnabled: vals[8].(bool),
	}, nil
}

// Multicall3Call mirrors the aggregate3 tuple (spec §6.B).
type Multicall3Call struct {
	Target       common.Address
	AllowFailure bool
	CallData     []byte
}

// Multicall3Result mirrors one aggregate3 return tuple.
type Multicall3Result struct {
	Success    bool
	ReturnData []byte
}

// PackAggregate3 builds calldata for aggregate3(calls[]).
func PackAggregate3(calls []Multicall3Call) ([]byte, error) {
	type tuple struct {
		Target       common.Address
		AllowFailure bool
		CallData     []byte
	}
	packed := make([]tuple, len(calls))
	for i, c := range calls {
		packed[i] = tuple{Target: c.Target, AllowFailure: c.AllowFailure, CallData: c.CallData}
	}
	return Multicall3ABI.Pack("aggregate3", packed)
}

// UnpackAggregate3 decodes the aggregate3 return value.
func UnpackAggregate3(data []byte) ([]Multicall3Result, error) {
	vals, err := Multicall3ABI.Unpack("aggregate3", data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 1 {
		return nil, fmt.Errorf("chain: unexpected aggregate3 output length %d", len(vals))
	}
	raw := vals[0].([]struct {
		Success    bool   `json:"success"`
		ReturnData []byte `json:"returnData"`
	})
	out := make([]Multicall3Result, len(raw))
	for i, r := range raw {
		out[i] = Multicall3Result{Success: r.Success, ReturnData: r.ReturnData}
	}
	return out, nil
}

// PackLatestRoundData builds calldata for latestRoundData().
func PackLatestRoundData() ([]byte, error) {
	return ChainlinkFeedABI.Pack("latestRoundData")
}

func UnpackLatestRoundData(data []byte) (*RoundData, error) {
	vals, err := ChainlinkFeedABI.Unpack("latestRoundData", data)
	if err != nil {
		return nil, err
	}
	if len(vals) != 5 {
		return nil, fmt.Errorf("chain: unexpected latestRoundData output length %d", len(vals))
	}
	return &RoundData{
		RoundID:         vals[0].(*big.Int),
		Answer:          vals[1].(*big.Int),
		StartedAt:       vals[2].(*big.Int),
		UpdatedAt:       vals[3].(*big.Int),
		AnsweredInRound: vals[4].(*big.Int),
	}, nil
}

// PackDecimals builds calldata for decimals().
func PackDecimals() ([]byte, error) {
	return ChainlinkFeedABI.Pack("decimals")
}

func UnpackDecimals(data []byte) (uint8, error) {
	vals, err := ChainlinkFeedABI.Unpack("decimals", data)
	if err != nil {
		return 0, err
	}
	return vals[0].(uint8), nil
}

// PackBalanceOf builds calldata for ERC20 balanceOf(account).
func PackBalanceOf(account common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", account)
}

func UnpackBalanceOf(data []byte) (*big.Int, error) {
	vals, err := ERC20ABI.Unpack("balanceOf", data)
	if err != nil {
		return nil, err
	}
	return vals[0].(*big.Int), nil
}

// AttemptLiquidationParams mirrors the executor contract's tuple parameter
// (spec §6.F) field-for-field; go-ethereum's abi encoder matches struct
// fields to tuple components by name.
type AttemptLiquidationParams struct {
	User                  common.Address
	CollateralAsset        common.Address
	DebtAsset              common.Address
	DebtToCover            *big.Int
	SwapCalldata           []byte
	MinOut                 *big.Int
	Payout                 common.Address
	ExpectedCollateralOut  *big.Int
}

// PackAttemptLiquidation builds calldata for attemptLiquidation(params).
func PackAttemptLiquidation(params AttemptLiquidationParams) ([]byte, error) {
	return ExecutorABI.Pack("attemptLiquidation", params)
}

// DecodeNewTransmission decodes the event named in spec §6.C.
func DecodeNewTransmission(data []byte) (roundID uint32, answer *big.Int, err error) {
	vals, err := ChainlinkFeedABI.Unpack("NewTransmission", data)
	if err != nil {
		return 0, nil, err
	}
	if len(vals) < 2 {
		return 0, nil, fmt.Errorf("chain: unexpected NewTransmission output length %d", len(vals))
	}
	return vals[0].(uint32), vals[1].(*big.Int), nil
}

// PoolSupply is the decoded Supply event (spec §4.F).
type PoolSupply struct {
	Reserve    common.Address
	User       common.Address
	OnBehalfOf common.Address
	Amount     *big.Int
}

// DecodePoolSupply decodes a Supply log: reserve and onBehalfOf are indexed
// topics, user and amount are ABI-encoded in Data.
func DecodePoolSupply(topics []common.Hash, data []byte) (*PoolSupply, error) {
	if len(topics) < 3 {
		return nil, fmt.Errorf("chain: Supply log has %d topics, want 3", len(topics))
	}
	out := &PoolSupply{
		Reserve:    common.HexToAddress(topics[1].Hex()),
		OnBehalfOf: common.HexToAddress(topics[2].Hex()),
	}
	unpacked, err := PoolABI.Events["Supply"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("chain: unexpected Supply data length %d", len(unpacked))
	}
	out.User = unpacked[0].(common.Address)
	out.Amount = unpacked[1].(*big.Int)
	return out, nil
}

// PoolWithdraw is the decoded Withdraw event.
type PoolWithdraw struct {
	Reserve common.Address
	User    common.Address
	To      common.Address
	Amount  *big.Int
}

// DecodePoolWithdraw decodes a Withdraw log: reserve, user, to are indexed.
func DecodePoolWithdraw(topics []common.Hash, data []byte) (*PoolWithdraw, error) {
	if len(topics) < 4 {
		return nil, fmt.Errorf("chain: Withdraw log has %d topics, want 4", len(topics))
	}
	unpacked, err := PoolABI.Events["Withdraw"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 1 {
		return nil, fmt.Errorf("chain: unexpected Withdraw data length %d", len(unpacked))
	}
	return &PoolWithdraw{
		Reserve: common.HexToAddress(topics[1].Hex()),
		User:    common.HexToAddress(topics[2].Hex()),
		To:      common.HexToAddress(topics[3].Hex()),
		Amount:  unpacked[0].(*big.Int),
	}, nil
}

// PoolBorrow is the decoded Borrow event.
type PoolBorrow struct {
	Reserve    common.Address
	OnBehalfOf common.Address
	User       common.Address
	Amount     *big.Int
}

// DecodePoolBorrow decodes a Borrow log: reserve and onBehalfOf are indexed;
// user/amount/interestRateMode/borrowRate are ABI-encoded in Data.
func DecodePoolBorrow(topics []common.Hash, data []byte) (*PoolBorrow, error) {
	if len(topics) < 3 {
		return nil, fmt.Errorf("chain: Borrow log has %d topics, want 3", len(topics))
	}
	unpacked, err := PoolABI.Events["Borrow"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 4 {
		return nil, fmt.Errorf("chain: unexpected Borrow data length %d", len(unpacked))
	}
	return &PoolBorrow{
		Reserve:    common.HexToAddress(topics[1].Hex()),
		OnBehalfOf: common.HexToAddress(topics[2].Hex()),
		User:       unpacked[0].(common.Address),
		Amount:     unpacked[1].(*big.Int),
	}, nil
}

// PoolRepay is the decoded Repay event.
type PoolRepay struct {
	Reserve common.Address
	User    common.Address
	Repayer common.Address
	Amount  *big.Int
}

// DecodePoolRepay decodes a Repay log: reserve, user, repayer are indexed.
func DecodePoolRepay(topics []common.Hash, data []byte) (*PoolRepay, error) {
	if len(topics) < 4 {
		return nil, fmt.Errorf("chain: Repay log has %d topics, want 4", len(topics))
	}
	unpacked, err := PoolABI.Events["Repay"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 2 {
		return nil, fmt.Errorf("chain: unexpected Repay data length %d", len(unpacked))
	}
	return &PoolRepay{
		Reserve: common.HexToAddress(topics[1].Hex()),
		User:    common.HexToAddress(topics[2].Hex()),
		Repayer: common.HexToAddress(topics[3].Hex()),
		Amount:  unpacked[0].(*big.Int),
	}, nil
}

// PoolLiquidationCall is the decoded LiquidationCall event.
type PoolLiquidationCall struct {
	CollateralAsset common.Address
	DebtAsset       common.Address
	User            common.Address
	DebtToCover     *big.Int
	LiquidatedCollateralAmount *big.Int
	Liquidator      common.Address
}

// DecodePoolLiquidationCall decodes a LiquidationCall log: collateralAsset,
// debtAsset, user are indexed.
func DecodePoolLiquidationCall(topics []common.Hash, data []byte) (*PoolLiquidationCall, error) {
	if len(topics) < 4 {
		return nil, fmt.Errorf("chain: LiquidationCall log has %d topics, want 4", len(topics))
	}
	unpacked, err := PoolABI.Events["LiquidationCall"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 4 {
		return nil, fmt.Errorf("chain: unexpected LiquidationCall data length %d", len(unpacked))
	}
	return &PoolLiquidationCall{
		CollateralAsset:            common.HexToAddress(topics[1].Hex()),
		DebtAsset:                  common.HexToAddress(topics[2].Hex()),
		User:                       common.HexToAddress(topics[3].Hex()),
		DebtToCover:                unpacked[0].(*big.Int),
		LiquidatedCollateralAmount: unpacked[1].(*big.Int),
		Liquidator:                 unpacked[2].(common.Address),
	}, nil
}

// PoolReserveDataUpdated is the decoded ReserveDataUpdated event.
type PoolReserveDataUpdated struct {
	Reserve             common.Address
	LiquidityIndex      *big.Int
	VariableBorrowIndex *big.Int
}

// DecodePoolReserveDataUpdated decodes a ReserveDataUpdated log: reserve is
// indexed; the rate/index fields are ABI-encoded in Data.
func DecodePoolReserveDataUpdated(topics []common.Hash, data []byte) (*PoolReserveDataUpdated, error) {
	if len(topics) < 2 {
		return nil, fmt.Errorf("chain: ReserveDataUpdated log has %d topics, want 2", len(topics))
	}
	unpacked, err := PoolABI.Events["ReserveDataUpdated"].Inputs.NonIndexed().Unpack(data)
	if err != nil {
		return nil, err
	}
	if len(unpacked) != 5 {
		return nil, fmt.Errorf("chain: unexpected ReserveDataUpdated data length %d", len(unpacked))
	}
	return &PoolReserveDataUpdated{
		Reserve:             common.HexToAddress(topics[1].Hex()),
		LiquidityIndex:      unpacked[3].(*big.Int),
		VariableBorrowIndex: unpacked[4].(*big.Int),
	}, nil
}
