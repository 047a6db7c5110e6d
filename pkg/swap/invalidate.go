package swap

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"savings-swap/pkg/types"
)

// Invalidator drops cached reads that a settled swap made stale. After a
// success it is called immediately and once more after the configured delay,
// since downstream indexers may lag settlement.
type Invalidator interface {
	Invalidate(keys ...string)
}

// InvalidatorFunc adapts a function to Invalidator
type InvalidatorFunc func(keys ...string)

// Invalidate calls f
func (f InvalidatorFunc) Invalidate(keys ...string) {
	f(keys...)
}

// InvalidationKeys lists the balance and savings reads touched by a swap
func InvalidationKeys(account common.Address, input, output types.Token) []string {
	owner := strings.ToLower(account.Hex())
	return []string{
		fmt.Sprintf("balance:%s:%s", owner, strings.ToLower(input.Address.Hex())),
		fmt.Sprintf("balance:%s:%s", owner, strings.ToLower(output.Address.Hex())),
		fmt.Sprintf("savings:%s:%s", owner, strings.ToLower(input.Address.Hex())),
	}
}
