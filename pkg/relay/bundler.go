package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"

	"savings-swap/pkg/types"
)

// Backend is the chain access the bundler relay needs
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*gethtypes.Header, error)
}

// RPCCaller is the JSON-RPC surface of a bundler or paymaster endpoint
type RPCCaller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

// BundlerRelay relays v0.6 user operations through an ERC-4337 bundler and
// an optional paymaster endpoint.
type BundlerRelay struct {
	backend   Backend
	bundler   RPCCaller
	paymaster RPCCaller
	logger    log.Logger
}

// NewBundlerRelay creates a relay. paymaster may be nil, in which case
// sponsored operations are rejected.
func NewBundlerRelay(backend Backend, bundler, paymaster RPCCaller) *BundlerRelay {
	return &BundlerRelay{
		backend:   backend,
		bundler:   bundler,
		paymaster: paymaster,
		logger:    log.Root().With("component", "bundler"),
	}
}

// DialBundlerRelay connects to the bundler and paymaster endpoints
func DialBundlerRelay(ctx context.Context, backend Backend, bundlerURL, paymasterURL string) (*BundlerRelay, error) {
	if bundlerURL == "" {
		return nil, fmt.Errorf("bundler URL not configured")
	}
	bundler, err := rpc.DialContext(ctx, bundlerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to bundler: %w", err)
	}
	var paymaster RPCCaller
	if paymasterURL != "" {
		pm, err := rpc.DialContext(ctx, paymasterURL)
		if err != nil {
			bundler.Close()
			return nil, fmt.Errorf("failed to connect to paymaster: %w", err)
		}
		paymaster = pm
	}
	return NewBundlerRelay(backend, bundler, paymaster), nil
}

type gasEstimate struct {
	PreVerificationGas   *hexutil.Big `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big `json:"callGasLimit"`
}

type sponsorResult struct {
	PaymasterAndData     hexutil.Bytes `json:"paymasterAndData"`
	PreVerificationGas   *hexutil.Big  `json:"preVerificationGas"`
	VerificationGasLimit *hexutil.Big  `json:"verificationGasLimit"`
	CallGasLimit         *hexutil.Big  `json:"callGasLimit"`
}

type rpcReceipt struct {
	UserOpHash string `json:"userOpHash"`
	Success    bool   `json:"success"`
	Reason     string `json:"reason"`
	Receipt    *struct {
		TransactionHash *common.Hash    `json:"transactionHash"`
		BlockNumber     *hexutil.Uint64 `json:"blockNumber"`
	} `json:"receipt"`
}

// Build fills nonce, initCode, calldata, fees and bundler gas limits
func (r *BundlerRelay) Build(ctx context.Context, account *Account, calls []Call) (*Envelope, error) {
	callData, err := PackCalls(calls)
	if err != nil {
		return nil, err
	}

	code, err := r.backend.CodeAt(ctx, account.Sender, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account code: %w", err)
	}
	deployed := len(code) > 0

	op := &UserOperation{
		Sender:    account.Sender,
		CallData:  callData,
		Signature: dummySignature,
		Nonce:     new(big.Int),
	}
	if deployed {
		op.Nonce, err = r.nonce(ctx, account)
		if err != nil {
			return nil, err
		}
	} else {
		if account.Factory == (common.Address{}) {
			return nil, fmt.Errorf("account %s is not deployed and no factory is configured", account.Sender.Hex())
		}
		op.InitCode, err = InitCode(account.Factory, account.OwnerAddress(), account.Salt)
		if err != nil {
			return nil, err
		}
	}

	if err := r.fillFees(ctx, op); err != nil {
		return nil, err
	}

	var est gasEstimate
	if err := r.bundler.CallContext(ctx, &est, "eth_estimateUserOperationGas", op, account.EntryPoint); err != nil {
		return nil, fmt.Errorf("failed to estimate user operation gas: %w", err)
	}
	applyGas(op, est.PreVerificationGas, est.VerificationGasLimit, est.CallGasLimit)

	r.logger.Debug("Built user operation", "sender", op.Sender, "nonce", op.Nonce, "deployed", deployed, "calls", len(calls))
	return &Envelope{Account: account, Op: op, Calls: calls, Deployed: deployed}, nil
}

// Sponsor asks the paymaster to cover the operation per decision
func (r *BundlerRelay) Sponsor(ctx context.Context, env *Envelope, decision *types.SponsorshipDecision) error {
	if decision == nil || decision.Mode == types.SponsorshipNone {
		return nil
	}
	if r.paymaster == nil {
		return fmt.Errorf("paymaster not configured for %s sponsorship", decision.Mode)
	}
	policy := map[string]interface{}{
		"mode":         string(decision.Mode),
		"policy":       decision.Policy,
		"sponsorLimit": (*hexutil.Big)(orZero(decision.SponsorPaysAmount)),
	}
	var res sponsorResult
	if err := r.paymaster.CallContext(ctx, &res, "pm_sponsorUserOperation", env.Op, env.Account.EntryPoint, policy); err != nil {
		return fmt.Errorf("failed to sponsor user operation: %w", err)
	}
	env.Op.PaymasterAndData = res.PaymasterAndData
	applyGas(env.Op, res.PreVerificationGas, res.VerificationGasLimit, res.CallGasLimit)
	return nil
}

// Send signs and submits the operation, returning the userOpHash
func (r *BundlerRelay) Send(ctx context.Context, env *Envelope) (string, error) {
	if err := env.Op.Sign(env.Account.Owner, env.Account.EntryPoint, env.Account.ChainID); err != nil {
		return "", err
	}
	var opHash string
	if err := r.bundler.CallContext(ctx, &opHash, "eth_sendUserOperation", env.Op, env.Account.EntryPoint); err != nil {
		return "", fmt.Errorf("failed to send user operation: %w", err)
	}
	r.logger.Info("User operation sent", "hash", opHash, "sender", env.Op.Sender)
	return opHash, nil
}

// Receipt polls eth_getUserOperationReceipt once
func (r *BundlerRelay) Receipt(ctx context.Context, operationID string) (*Receipt, error) {
	var raw json.RawMessage
	if err := r.bundler.CallContext(ctx, &raw, "eth_getUserOperationReceipt", operationID); err != nil {
		return nil, fmt.Errorf("failed to get user operation receipt: %w", err)
	}
	return parseReceipt(operationID, raw)
}

func parseReceipt(operationID string, raw json.RawMessage) (*Receipt, error) {
	if len(raw) == 0 || strings.TrimSpace(string(raw)) == "null" {
		return nil, nil
	}
	var res rpcReceipt
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("failed to decode user operation receipt: %w", err)
	}
	receipt := &Receipt{
		OperationID: operationID,
		Success:     res.Success,
		Reason:      res.Reason,
	}
	if res.Receipt != nil {
		if res.Receipt.TransactionHash != nil && *res.Receipt.TransactionHash != (common.Hash{}) {
			hash := *res.Receipt.TransactionHash
			receipt.TxHash = &hash
		}
		if res.Receipt.BlockNumber != nil {
			receipt.BlockNumber = uint64(*res.Receipt.BlockNumber)
		}
	}
	if !receipt.Success && receipt.Reason == "" {
		receipt.Reason = "user operation reverted"
	}
	return receipt, nil
}

func (r *BundlerRelay) nonce(ctx context.Context, account *Account) (*big.Int, error) {
	data, err := packGetNonce(account.Sender)
	if err != nil {
		return nil, err
	}
	to := account.EntryPoint
	result, err := r.backend.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account nonce: %w", err)
	}
	return unpackNonce(result)
}

func (r *BundlerRelay) fillFees(ctx context.Context, op *UserOperation) error {
	tip, err := r.backend.SuggestGasTipCap(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gas tip cap: %w", err)
	}
	head, err := r.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to get latest header: %w", err)
	}
	maxFee := new(big.Int).Set(tip)
	if head.BaseFee != nil {
		maxFee.Add(maxFee, new(big.Int).Mul(head.BaseFee, big.NewInt(2)))
	}
	op.MaxPriorityFeePerGas = tip
	op.MaxFeePerGas = maxFee
	return nil
}

func applyGas(op *UserOperation, preVerification, verification, call *hexutil.Big) {
	if preVerification != nil {
		op.PreVerificationGas = preVerification.ToInt()
	}
	if verification != nil {
		op.VerificationGasLimit = verification.ToInt()
	}
	if call != nil {
		op.CallGasLimit = call.ToInt()
	}
}
