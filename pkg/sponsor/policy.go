package sponsor

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// OperationKind classifies what an operation does for policy matching
type OperationKind string

const (
	OpFirstTimeSetup  OperationKind = "first-time-setup"
	OpApprove         OperationKind = "approve"
	OpSwap            OperationKind = "swap"
	OpBatch           OperationKind = "batch"
	OpWithdrawSavings OperationKind = "withdraw-savings"
)

// Facts describe the account an operation is sent from
type Facts struct {
	Address   common.Address
	Balance   *big.Int
	Staked    *big.Int
	FirstSeen time.Time
	Deployed  bool
}

// Age returns how long the account has been known at now. Unknown first-seen
// times count as zero age.
func (f *Facts) Age(now time.Time) time.Duration {
	if f == nil || f.FirstSeen.IsZero() || now.Before(f.FirstSeen) {
		return 0
	}
	return now.Sub(f.FirstSeen)
}

// Policy is one row of the sponsorship table. Lower Priority values are
// evaluated first. A zero threshold disables the corresponding predicate.
type Policy struct {
	Name          string
	Priority      int
	Kinds         []OperationKind
	Ratio         decimal.Decimal
	MinBalance    *big.Int
	MinStaked     *big.Int
	MinAccountAge time.Duration
	FirstTimeOnly bool
}

// Validate checks the ratio is within [0, 1]
func (p Policy) Validate() error {
	if p.Ratio.IsNegative() || p.Ratio.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("policy %q: ratio %s outside [0,1]", p.Name, p.Ratio)
	}
	if len(p.Kinds) == 0 {
		return fmt.Errorf("policy %q: no operation kinds", p.Name)
	}
	return nil
}

// Covers reports whether the policy applies to kind
func (p Policy) Covers(kind OperationKind) bool {
	for _, k := range p.Kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Eligible evaluates every predicate of the policy against facts
func (p Policy) Eligible(f *Facts, now time.Time) bool {
	if f == nil {
		f = &Facts{}
	}
	if !atLeast(f.Balance, p.MinBalance) {
		return false
	}
	if !atLeast(f.Staked, p.MinStaked) {
		return false
	}
	if p.MinAccountAge > 0 && f.Age(now) < p.MinAccountAge {
		return false
	}
	if p.FirstTimeOnly && f.Deployed {
		return false
	}
	return true
}

func atLeast(have, min *big.Int) bool {
	if min == nil || min.Sign() <= 0 {
		return true
	}
	if have == nil {
		return false
	}
	return have.Cmp(min) >= 0
}
