package relay

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"savings-swap/pkg/types"
)

// Envelope is a built, not yet submitted, operation
type Envelope struct {
	Account  *Account
	Op       *UserOperation
	Calls    []Call
	Deployed bool
}

// GasEstimate is the envelope's maximal gas cost in wei
func (e *Envelope) GasEstimate() *big.Int {
	if e == nil || e.Op == nil {
		return new(big.Int)
	}
	return e.Op.MaxCost()
}

// Receipt is the relay's confirmation. TxHash is nil when the relay
// confirmed the operation without exposing a settlement transaction.
type Receipt struct {
	OperationID string       `json:"operation_id"`
	TxHash      *common.Hash `json:"tx_hash,omitempty"`
	BlockNumber uint64       `json:"block_number,omitempty"`
	Success     bool         `json:"success"`
	Reason      string       `json:"reason,omitempty"`
}

// Relay is the bundler side of the orchestrator
type Relay interface {
	// Build assembles an envelope for the calls, including gas limits
	Build(ctx context.Context, account *Account, calls []Call) (*Envelope, error)
	// Sponsor attaches paymaster data for a non-NONE decision
	Sponsor(ctx context.Context, env *Envelope, decision *types.SponsorshipDecision) error
	// Send signs and submits the envelope, returning the operation id
	Send(ctx context.Context, env *Envelope) (string, error)
	// Receipt returns the receipt of an operation, or nil while pending
	Receipt(ctx context.Context, operationID string) (*Receipt, error)
}
