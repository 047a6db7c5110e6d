// Package savings partitions an input amount into the portion kept as savings
// and the portion that is swapped.
package savings

import (
	"math/big"

	"savings-swap/pkg/types"
)

var bpsDenominator = big.NewInt(types.BasisPoints)

// Split returns {input*bps/10000, input - savings}. The swap amount is derived
// by subtraction so the two portions always sum to input. Callers must reject
// bps above 10000 before calling.
func Split(inputAmount *big.Int, savingsBps uint32) types.AmountPair {
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return types.AmountPair{SavingsAmount: new(big.Int), SwapAmount: new(big.Int)}
	}
	saved := new(big.Int).Mul(inputAmount, new(big.Int).SetUint64(uint64(savingsBps)))
	saved.Quo(saved, bpsDenominator)
	return types.AmountPair{
		SavingsAmount: saved,
		SwapAmount:    new(big.Int).Sub(inputAmount, saved),
	}
}

// ValidBps reports whether bps is a usable savings percentage
func ValidBps(bps uint32) bool {
	return bps <= types.BasisPoints
}
