package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"savings-swap/pkg/pool"
)

// Quoter simulates single-pool exact-input swaps against the venue's quoter
// contract. Calls are eth_call only and never mined.
type Quoter struct {
	caller  Caller
	address common.Address
}

// NewQuoter creates a quoter bound to the contract address
func NewQuoter(caller Caller, address common.Address) *Quoter {
	return &Quoter{caller: caller, address: address}
}

// QuoteExactInputSingle returns (amountOut, gasEstimate) for one pool
func (q *Quoter) QuoteExactInputSingle(ctx context.Context, key pool.Key, zeroForOne bool, exactAmount *big.Int, hookData []byte) (*big.Int, *big.Int, error) {
	data, err := pool.PackQuoteExactInputSingle(key, zeroForOne, exactAmount, hookData)
	if err != nil {
		return nil, nil, err
	}
	result, err := call(ctx, q.caller, q.address, data)
	if err != nil {
		return nil, nil, fmt.Errorf("quoter call failed for fee %d: %w", key.Fee, err)
	}
	return pool.UnpackQuoteExactInputSingle(result)
}
