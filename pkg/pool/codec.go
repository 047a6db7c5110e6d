package pool

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const poolKeyComponents = `[
	{"name":"currency0","type":"address"},
	{"name":"currency1","type":"address"},
	{"name":"fee","type":"uint24"},
	{"name":"tickSpacing","type":"int24"},
	{"name":"hooks","type":"address"}]`

// swap(PoolKey,SwapParams,TestSettings,bytes) on the swap router
const swapRouterABI = `[{"type":"function","name":"swap","stateMutability":"payable",
	"inputs":[
		{"name":"key","type":"tuple","components":` + poolKeyComponents + `},
		{"name":"params","type":"tuple","components":[
			{"name":"zeroForOne","type":"bool"},
			{"name":"amountSpecified","type":"int256"},
			{"name":"sqrtPriceLimitX96","type":"uint160"}]},
		{"name":"testSettings","type":"tuple","components":[
			{"name":"takeClaims","type":"bool"},
			{"name":"settleUsingBurn","type":"bool"}]},
		{"name":"hookData","type":"bytes"}],
	"outputs":[{"name":"delta","type":"int256"}]}]`

// quoteExactInputSingle(QuoteExactSingleParams) on the quoter
const quoterABI = `[{"type":"function","name":"quoteExactInputSingle","stateMutability":"nonpayable",
	"inputs":[{"name":"params","type":"tuple","components":[
		{"name":"poolKey","type":"tuple","components":` + poolKeyComponents + `},
		{"name":"zeroForOne","type":"bool"},
		{"name":"exactAmount","type":"uint128"},
		{"name":"hookData","type":"bytes"}]}],
	"outputs":[
		{"name":"amountOut","type":"uint256"},
		{"name":"gasEstimate","type":"uint256"}]}]`

var (
	swapRouter abi.ABI
	quoter     abi.ABI
	hookArgs   abi.Arguments
)

func init() {
	swapRouter = mustParse(swapRouterABI)
	quoter = mustParse(quoterABI)
	addressTy, err := abi.NewType("address", "", nil)
	if err != nil {
		panic(err)
	}
	hookArgs = abi.Arguments{{Name: "account", Type: addressTy}}
}

func mustParse(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("invalid abi: %v", err))
	}
	return parsed
}

type abiPoolKey struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         *big.Int
	TickSpacing *big.Int
	Hooks       common.Address
}

func (k Key) abi() abiPoolKey {
	return abiPoolKey{
		Currency0:   k.Currency0,
		Currency1:   k.Currency1,
		Fee:         new(big.Int).SetUint64(uint64(k.Fee)),
		TickSpacing: big.NewInt(int64(k.TickSpacing)),
		Hooks:       k.Hooks,
	}
}

type abiSwapParams struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
}

type abiTestSettings struct {
	TakeClaims      bool
	SettleUsingBurn bool
}

type abiQuoteParams struct {
	PoolKey     abiPoolKey
	ZeroForOne  bool
	ExactAmount *big.Int
	HookData    []byte
}

// SwapParams are the directional parameters of a swap call
type SwapParams struct {
	ZeroForOne        bool
	AmountSpecified   *big.Int
	SqrtPriceLimitX96 *big.Int
}

// NewExactInputParams builds exact-input swap parameters for selling amount
// of input into the pool identified by key.
func NewExactInputParams(key Key, input common.Address, amount *big.Int) SwapParams {
	zeroForOne := key.ZeroForOne(input)
	return SwapParams{
		ZeroForOne:        zeroForOne,
		AmountSpecified:   ExactInput(amount),
		SqrtPriceLimitX96: PriceLimit(zeroForOne),
	}
}

// EncodeHookData encodes the account the savings hook attributes savings to
func EncodeHookData(account common.Address) ([]byte, error) {
	return hookArgs.Pack(account)
}

// DecodeHookData is the inverse of EncodeHookData
func DecodeHookData(data []byte) (common.Address, error) {
	values, err := hookArgs.Unpack(data)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to unpack hook data: %w", err)
	}
	addr, ok := values[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("unexpected hook data type %T", values[0])
	}
	return addr, nil
}

// PackSwap encodes the swap router call. Claims are neither taken nor burned.
func PackSwap(key Key, params SwapParams, hookData []byte) ([]byte, error) {
	data, err := swapRouter.Pack("swap",
		key.abi(),
		abiSwapParams{
			ZeroForOne:        params.ZeroForOne,
			AmountSpecified:   params.AmountSpecified,
			SqrtPriceLimitX96: params.SqrtPriceLimitX96,
		},
		abiTestSettings{TakeClaims: false, SettleUsingBurn: false},
		hookData,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to pack swap data: %w", err)
	}
	return data, nil
}

// PackQuoteExactInputSingle encodes a quoter probe
func PackQuoteExactInputSingle(key Key, zeroForOne bool, exactAmount *big.Int, hookData []byte) ([]byte, error) {
	if hookData == nil {
		hookData = []byte{}
	}
	data, err := quoter.Pack("quoteExactInputSingle", abiQuoteParams{
		PoolKey:     key.abi(),
		ZeroForOne:  zeroForOne,
		ExactAmount: exactAmount,
		HookData:    hookData,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to pack quote data: %w", err)
	}
	return data, nil
}

// UnpackQuoteExactInputSingle decodes (amountOut, gasEstimate)
func UnpackQuoteExactInputSingle(data []byte) (*big.Int, *big.Int, error) {
	values, err := quoter.Unpack("quoteExactInputSingle", data)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to unpack quote result: %w", err)
	}
	if len(values) != 2 {
		return nil, nil, fmt.Errorf("unexpected quote result length %d", len(values))
	}
	amountOut, ok1 := values[0].(*big.Int)
	gasEstimate, ok2 := values[1].(*big.Int)
	if !ok1 || !ok2 {
		return nil, nil, fmt.Errorf("unexpected quote result types %T, %T", values[0], values[1])
	}
	return amountOut, gasEstimate, nil
}

// QuoterOutputs exposes the quoter's return arguments, used to build results
// in tests and simulators.
func QuoterOutputs() abi.Arguments {
	return quoter.Methods["quoteExactInputSingle"].Outputs
}

// SwapInputs exposes the swap router's input arguments
func SwapInputs() abi.Arguments {
	return swapRouter.Methods["swap"].Inputs
}
