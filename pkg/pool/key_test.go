package pool

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var (
	tokenA = common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")
	tokenB = common.HexToAddress("0x4200000000000000000000000000000000000006")
	hook   = common.HexToAddress("0x00000000000000000000000000000000000000cc")
)

func TestCanonicalizeIsOrderIndependent(t *testing.T) {
	for _, tier := range DefaultFeeTiers {
		ab := Canonicalize(tokenA, tokenB, tier, hook)
		ba := Canonicalize(tokenB, tokenA, tier, hook)
		require.Equal(t, ab, ba)
		require.True(t, bytes.Compare(ab.Currency0.Bytes(), ab.Currency1.Bytes()) < 0)
		require.Equal(t, hook, ab.Hooks)
	}
}

func TestCanonicalizeNativeIsCurrency0(t *testing.T) {
	key := Canonicalize(tokenA, common.Address{}, DefaultFeeTiers[1], hook)
	require.Equal(t, common.Address{}, key.Currency0)
	require.True(t, key.ZeroForOne(common.Address{}))
	require.False(t, key.ZeroForOne(tokenA))
}

func TestFeeBps(t *testing.T) {
	require.Equal(t, uint32(5), DefaultFeeTiers[0].Bps())
	require.Equal(t, uint32(30), DefaultFeeTiers[1].Bps())
	require.Equal(t, uint32(100), DefaultFeeTiers[2].Bps())
}

func TestExactInputParams(t *testing.T) {
	key := Canonicalize(tokenA, tokenB, DefaultFeeTiers[0], hook)
	amount := big.NewInt(900_000_000)

	params := NewExactInputParams(key, key.Currency0, amount)
	require.True(t, params.ZeroForOne)
	require.Equal(t, "-900000000", params.AmountSpecified.String())
	require.Equal(t, "4295128740", params.SqrtPriceLimitX96.String())

	params = NewExactInputParams(key, key.Currency1, amount)
	require.False(t, params.ZeroForOne)
	require.Equal(t, new(big.Int).Sub(MaxSqrtPrice, big.NewInt(1)).String(), params.SqrtPriceLimitX96.String())

	// the caller's amount is not mutated
	require.Equal(t, "900000000", amount.String())
}

func TestHookDataRoundTrip(t *testing.T) {
	account := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data, err := EncodeHookData(account)
	require.NoError(t, err)
	require.Len(t, data, 32)

	got, err := DecodeHookData(data)
	require.NoError(t, err)
	require.Equal(t, account, got)
}

func TestPackSwap(t *testing.T) {
	key := Canonicalize(tokenA, tokenB, DefaultFeeTiers[1], hook)
	hookData, err := EncodeHookData(common.HexToAddress("0x1111111111111111111111111111111111111111"))
	require.NoError(t, err)

	data, err := PackSwap(key, NewExactInputParams(key, tokenA, big.NewInt(1000)), hookData)
	require.NoError(t, err)
	require.Equal(t, swapRouter.Methods["swap"].ID, data[:4])
	// 10 static tuple words, bytes offset, bytes length, one data word
	require.Len(t, data, 4+13*32)

	values, err := SwapInputs().Unpack(data[4:])
	require.NoError(t, err)
	require.Len(t, values, 4)
	require.Equal(t, hookData, values[3])
}

func TestQuoteCodec(t *testing.T) {
	key := Canonicalize(tokenA, tokenB, DefaultFeeTiers[0], hook)
	data, err := PackQuoteExactInputSingle(key, true, big.NewInt(1_000_000), nil)
	require.NoError(t, err)
	require.Equal(t, quoter.Methods["quoteExactInputSingle"].ID, data[:4])

	encoded, err := QuoterOutputs().Pack(big.NewInt(420), big.NewInt(95_000))
	require.NoError(t, err)
	out, gas, err := UnpackQuoteExactInputSingle(encoded)
	require.NoError(t, err)
	require.Equal(t, "420", out.String())
	require.Equal(t, "95000", gas.String())

	_, _, err = UnpackQuoteExactInputSingle([]byte{0x01})
	require.Error(t, err)
}
