// Package approval checks and raises token allowances granted by the
// abstracted account to protocol spenders.
package approval

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"savings-swap/pkg/chain"
	"savings-swap/pkg/relay"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

// ErrApprovalNotConfirmed is returned when the allowance is still too low
// after an approval and the re-check wait
var ErrApprovalNotConfirmed = errors.New("approval not confirmed")

// AllowanceReader reads ERC20 allowances
type AllowanceReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
}

// Submitter relays a call from the abstracted account
type Submitter interface {
	Submit(ctx context.Context, call relay.Call, opts ...relay.SubmitOption) (*types.OperationHandle, error)
}

// Resolver answers "may spender move required of owner's token" and raises
// the allowance when it may not
type Resolver struct {
	reader    AllowanceReader
	submitter Submitter
	wait      time.Duration
	logger    log.Logger
}

// NewResolver creates a resolver. wait is the bounded delay before the
// post-approval re-check.
func NewResolver(reader AllowanceReader, submitter Submitter, wait time.Duration) *Resolver {
	return &Resolver{
		reader:    reader,
		submitter: submitter,
		wait:      wait,
		logger:    log.Root().With("component", "approval"),
	}
}

// CheckApproval reads the allowance and compares it with required. The
// native asset is always sufficient.
func (r *Resolver) CheckApproval(ctx context.Context, owner common.Address, token types.Token, spender common.Address, required *big.Int) (*types.ApprovalState, error) {
	if required == nil || required.Sign() < 0 {
		return nil, swaperr.Newf(swaperr.KindInvalidInput, "required amount must be non-negative")
	}
	if token.IsNative() {
		return types.NewApprovalState(new(big.Int).Set(required), required), nil
	}
	allowance, err := r.reader.Allowance(ctx, token.Address, owner, spender)
	if err != nil {
		return nil, fmt.Errorf("failed to read allowance of %s: %w", token, err)
	}
	state := types.NewApprovalState(allowance, required)
	r.logger.Debug("Allowance checked", "token", token, "spender", spender, "allowance", allowance, "required", required, "needsApproval", state.NeedsApproval)
	return state, nil
}

// Approve submits approve(spender, amount). A nil amount approves the
// maximal allowance.
func (r *Resolver) Approve(ctx context.Context, token types.Token, spender common.Address, amount *big.Int) (*types.OperationHandle, error) {
	if token.IsNative() {
		return nil, swaperr.Newf(swaperr.KindInvalidInput, "native asset %s cannot be approved", token)
	}
	if amount == nil {
		amount = chain.MaxAllowance
	}
	data, err := chain.PackApprove(spender, amount)
	if err != nil {
		return nil, err
	}
	r.logger.Info("Submitting approval", "token", token, "spender", spender)
	return r.submitter.Submit(ctx, relay.Call{To: token.Address, Data: data}, relay.WithKind(sponsor.OpApprove))
}

// ApproveAndConfirm approves the maximal allowance, waits the bounded delay
// and re-reads the allowance. It fails with ErrApprovalNotConfirmed, kind
// ApprovalFailed, when the allowance is still below required.
func (r *Resolver) ApproveAndConfirm(ctx context.Context, owner common.Address, token types.Token, spender common.Address, required *big.Int) (*types.OperationHandle, *types.ApprovalState, error) {
	handle, err := r.Approve(ctx, token, spender, nil)
	if err != nil {
		return handle, nil, swaperr.New(swaperr.KindApprovalFailed, err)
	}

	if r.wait > 0 {
		timer := time.NewTimer(r.wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return handle, nil, swaperr.New(swaperr.KindApprovalFailed, ctx.Err())
		case <-timer.C:
		}
	}

	state, err := r.CheckApproval(ctx, owner, token, spender, required)
	if err != nil {
		return handle, nil, swaperr.New(swaperr.KindApprovalFailed, err)
	}
	if state.NeedsApproval {
		r.logger.Warn("Allowance still insufficient after approval", "token", token, "allowance", state.Allowance, "required", required)
		return handle, state, swaperr.New(swaperr.KindApprovalFailed,
			fmt.Errorf("%w: allowance %s below %s", ErrApprovalNotConfirmed, state.Allowance, required))
	}
	return handle, state, nil
}
