// Package relay submits calls through an abstracted account: it builds a
// user operation envelope, attaches gas sponsorship, hands it to a bundler and
// tracks the operation until a receipt arrives.
package relay

import (
	"crypto/ecdsa"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNoReceipt is returned when no receipt arrived before the deadline
var ErrNoReceipt = errors.New("operation receipt not available")

// Account is the abstracted account identity shared by every component. It
// is initialized once and passed explicitly.
type Account struct {
	Sender     common.Address
	Owner      *ecdsa.PrivateKey
	EntryPoint common.Address
	Factory    common.Address
	Salt       *big.Int
	ChainID    *big.Int
}

// Ready reports whether the account can sign and submit operations
func (a *Account) Ready() bool {
	return a != nil && a.Owner != nil && a.Sender != (common.Address{}) &&
		a.EntryPoint != (common.Address{}) && a.ChainID != nil
}

// OwnerAddress returns the EOA controlling the account
func (a *Account) OwnerAddress() common.Address {
	if a == nil || a.Owner == nil {
		return common.Address{}
	}
	return crypto.PubkeyToAddress(a.Owner.PublicKey)
}

// Call is one {to, data, value} triple executed by the account
type Call struct {
	To    common.Address
	Data  []byte
	Value *big.Int
}
