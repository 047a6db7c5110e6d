package types

import (
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// BasisPoints is the denominator for every percentage expressed in bps
const BasisPoints = 10000

// NativeAddress is the sentinel currency address of the chain's native asset
var NativeAddress = common.Address{}

// Token is a listed asset on the active network
type Token struct {
	Address  common.Address `json:"address" mapstructure:"address"`
	Symbol   string         `json:"symbol" mapstructure:"symbol"`
	Decimals uint8          `json:"decimals" mapstructure:"decimals"`
	IsCommon bool           `json:"is_common" mapstructure:"is_common"`
}

// IsNative reports whether the token is the native asset. The check is by
// sentinel address only.
func (t Token) IsNative() bool {
	return t.Address == NativeAddress
}

// SameAs compares two tokens by address
func (t Token) SameAs(other Token) bool {
	return t.Address == other.Address
}

func (t Token) String() string {
	if t.Symbol != "" {
		return t.Symbol
	}
	return t.Address.Hex()
}

// AmountPair is the split of an input amount into a saved and a swapped
// portion. SavingsAmount + SwapAmount always equals the input.
type AmountPair struct {
	SavingsAmount *big.Int `json:"savings_amount"`
	SwapAmount    *big.Int `json:"swap_amount"`
}

// Total returns the original input amount
func (p AmountPair) Total() *big.Int {
	return new(big.Int).Add(p.SavingsAmount, p.SwapAmount)
}

// QuoteSource records where a quote came from. It is informational only and
// never changes which fields are populated.
type QuoteSource string

const (
	QuoteSourceProbe    QuoteSource = "probe"
	QuoteSourceFallback QuoteSource = "fallback"
)

// SwapQuote is the best available output estimate for a swap
type SwapQuote struct {
	InputToken      Token            `json:"input_token"`
	OutputToken     Token            `json:"output_token"`
	InputAmount     *big.Int         `json:"input_amount"`
	OutputAmount    *big.Int         `json:"output_amount"`
	MinOutputAmount *big.Int         `json:"min_output_amount"`
	PriceImpactBps  int64            `json:"price_impact_bps"`
	Route           []common.Address `json:"route"`
	FeeTierBps      uint32           `json:"fee_tier_bps"`
	GasEstimate     *big.Int         `json:"gas_estimate"`
	SavedAmount     *big.Int         `json:"saved_amount,omitempty"`
	Source          QuoteSource      `json:"source"`
	QuotedAt        time.Time        `json:"quoted_at"`
}

// IsStale reports whether the quote is older than maxAge at now
func (q *SwapQuote) IsStale(now time.Time, maxAge time.Duration) bool {
	if q == nil || q.QuotedAt.IsZero() {
		return true
	}
	return now.Sub(q.QuotedAt) > maxAge
}

// Matches reports whether the quote was produced for the given request
func (q *SwapQuote) Matches(in, out Token, amount *big.Int) bool {
	if q == nil || q.InputAmount == nil || amount == nil {
		return false
	}
	return q.InputToken.SameAs(in) && q.OutputToken.SameAs(out) && q.InputAmount.Cmp(amount) == 0
}

// ApprovalState is the result of an allowance check
type ApprovalState struct {
	Allowance     *big.Int `json:"allowance"`
	Required      *big.Int `json:"required"`
	NeedsApproval bool     `json:"needs_approval"`
}

// NewApprovalState derives NeedsApproval from allowance and required
func NewApprovalState(allowance, required *big.Int) *ApprovalState {
	return &ApprovalState{
		Allowance:     allowance,
		Required:      required,
		NeedsApproval: allowance.Cmp(required) < 0,
	}
}

// OperationPhase tags an OperationHandle
type OperationPhase string

const (
	PhaseSubmitted OperationPhase = "submitted"
	PhaseConfirmed OperationPhase = "confirmed"
	PhaseFailed    OperationPhase = "failed"
)

// OperationHandle tracks a relayed operation. OperationID is known as soon as
// the relay accepts the envelope; SettlementTxID only once (and if) the
// receipt carries a real transaction hash.
type OperationHandle struct {
	OperationID    string         `json:"operation_id"`
	SettlementTxID *common.Hash   `json:"settlement_tx_id,omitempty"`
	BlockNumber    uint64         `json:"block_number,omitempty"`
	Phase          OperationPhase `json:"phase"`
}

// Submitted returns a handle in the submitted phase
func Submitted(operationID string) *OperationHandle {
	return &OperationHandle{OperationID: operationID, Phase: PhaseSubmitted}
}

// Confirm moves the handle to the confirmed phase
func (h *OperationHandle) Confirm(settlement *common.Hash, block uint64) {
	h.SettlementTxID = settlement
	h.BlockNumber = block
	h.Phase = PhaseConfirmed
}

// HasSettlement reports whether a settlement transaction id was observed
func (h *OperationHandle) HasSettlement() bool {
	return h != nil && h.SettlementTxID != nil && *h.SettlementTxID != (common.Hash{})
}

// CanonicalID is the user-facing identifier: the settlement hash when known,
// otherwise the operation id.
func (h *OperationHandle) CanonicalID() string {
	if h == nil {
		return ""
	}
	if h.HasSettlement() {
		return h.SettlementTxID.Hex()
	}
	return h.OperationID
}

// SponsorshipMode is how gas for an operation is paid
type SponsorshipMode string

const (
	SponsorshipSponsored SponsorshipMode = "SPONSORED"
	SponsorshipPartial   SponsorshipMode = "PARTIAL"
	SponsorshipNone      SponsorshipMode = "NONE"
)

// SponsorshipDecision splits a gas estimate between user and sponsor
type SponsorshipDecision struct {
	Mode              SponsorshipMode `json:"mode"`
	Policy            string          `json:"policy,omitempty"`
	GasEstimate       *big.Int        `json:"gas_estimate"`
	UserPaysAmount    *big.Int        `json:"user_pays_amount"`
	SponsorPaysAmount *big.Int        `json:"sponsor_pays_amount"`
}

// ExecutionStatus is the observable state of a swap execution
type ExecutionStatus string

const (
	StatusIdle             ExecutionStatus = "idle"
	StatusCheckingApproval ExecutionStatus = "checking_approval"
	StatusApproving        ExecutionStatus = "approving"
	StatusBuilding         ExecutionStatus = "building"
	StatusExecuting        ExecutionStatus = "executing"
	StatusConfirming       ExecutionStatus = "confirming"
	StatusSuccess          ExecutionStatus = "success"
	StatusError            ExecutionStatus = "error"
)

// IsTerminal returns true for success and error
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

// IsReentrant returns true for the states in which a new execution may start
func (s ExecutionStatus) IsReentrant() bool {
	return s == StatusIdle || s.IsTerminal()
}

// FindToken looks a token up by symbol (case-insensitive) or hex address
func FindToken(tokens []Token, ref string) (Token, bool) {
	ref = strings.TrimSpace(ref)
	if common.IsHexAddress(ref) {
		addr := common.HexToAddress(ref)
		for _, t := range tokens {
			if t.Address == addr {
				return t, true
			}
		}
		return Token{}, false
	}
	for _, t := range tokens {
		if strings.EqualFold(t.Symbol, ref) {
			return t, true
		}
	}
	return Token{}, false
}
