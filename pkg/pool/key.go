package pool

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeeTier is one fee / tick spacing pairing of the venue. Fee is in
// hundredths of a basis point (500 = 0.05%).
type FeeTier struct {
	Fee         uint32 `mapstructure:"fee"`
	TickSpacing int32  `mapstructure:"tick_spacing"`
}

// Bps returns the tier fee in basis points
func (f FeeTier) Bps() uint32 {
	return f.Fee / 100
}

func (f FeeTier) String() string {
	return fmt.Sprintf("%d/%d", f.Fee, f.TickSpacing)
}

// DefaultFeeTiers is the probe order: 0.05%, 0.3%, 1%
var DefaultFeeTiers = []FeeTier{
	{Fee: 500, TickSpacing: 10},
	{Fee: 3000, TickSpacing: 60},
	{Fee: 10000, TickSpacing: 200},
}

// Sqrt price bounds of the venue. Swaps pass MinSqrtPrice+1 or MaxSqrtPrice-1
// as the price limit: the venue requires a bound but it must not constrain the
// price. Slippage is enforced through the quote's minimum output instead.
var (
	MinSqrtPrice, _ = new(big.Int).SetString("4295128739", 10)
	MaxSqrtPrice, _ = new(big.Int).SetString("1461446703485210103287273052203988822378723970342", 10)
)

// Key identifies a pool. Currency0 < Currency1 always holds.
type Key struct {
	Currency0   common.Address
	Currency1   common.Address
	Fee         uint32
	TickSpacing int32
	Hooks       common.Address
}

// Canonicalize orders the pair by address so that (a, b) and (b, a) produce
// the same key.
func Canonicalize(a, b common.Address, tier FeeTier, hooks common.Address) Key {
	if bytes.Compare(a.Bytes(), b.Bytes()) > 0 {
		a, b = b, a
	}
	return Key{
		Currency0:   a,
		Currency1:   b,
		Fee:         tier.Fee,
		TickSpacing: tier.TickSpacing,
		Hooks:       hooks,
	}
}

// ZeroForOne reports the swap direction when input is sold into the pool
func (k Key) ZeroForOne(input common.Address) bool {
	return input == k.Currency0
}

// FeeBps returns the pool fee in basis points
func (k Key) FeeBps() uint32 {
	return k.Fee / 100
}

// PriceLimit returns the permissive sqrt price bound for the direction
func PriceLimit(zeroForOne bool) *big.Int {
	if zeroForOne {
		return new(big.Int).Add(MinSqrtPrice, big.NewInt(1))
	}
	return new(big.Int).Sub(MaxSqrtPrice, big.NewInt(1))
}

// ExactInput returns the signed amountSpecified for an exact-input swap
func ExactInput(amount *big.Int) *big.Int {
	return new(big.Int).Neg(amount)
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s fee=%d spacing=%d hooks=%s",
		k.Currency0.Hex(), k.Currency1.Hex(), k.Fee, k.TickSpacing, k.Hooks.Hex())
}
