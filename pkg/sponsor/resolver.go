// Package sponsor decides how much of an operation's gas a paymaster covers.
// It only classifies; payment happens in the relay.
package sponsor

import (
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"savings-swap/pkg/metrics"
	"savings-swap/pkg/types"
)

// Resolver evaluates a priority-ranked policy table
type Resolver struct {
	policies []Policy
	now      func() time.Time
	logger   log.Logger
	metrics  *metrics.Registry
}

// Option configures a Resolver
type Option func(*Resolver)

// WithClock overrides the time source used by age predicates
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger installs a custom logger
func WithLogger(l log.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// WithMetrics records decisions in the registry
func WithMetrics(m *metrics.Registry) Option {
	return func(r *Resolver) {
		r.metrics = m
	}
}

// NewResolver validates and orders the policy table. Policies with equal
// priority keep their configured order.
func NewResolver(policies []Policy, opts ...Option) (*Resolver, error) {
	ordered := append([]Policy{}, policies...)
	for _, p := range ordered {
		if err := p.Validate(); err != nil {
			return nil, err
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority < ordered[j].Priority
	})
	r := &Resolver{
		policies: ordered,
		now:      time.Now,
		logger:   log.Root().With("component", "sponsor"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r, nil
}

// Policies returns the ordered table
func (r *Resolver) Policies() []Policy {
	return append([]Policy{}, r.policies...)
}

// Resolve selects the first policy covering kind whose predicates hold for
// facts and splits gasEstimate accordingly. No match yields NONE with the
// user paying everything.
func (r *Resolver) Resolve(facts *Facts, kind OperationKind, gasEstimate *big.Int) *types.SponsorshipDecision {
	gas := new(big.Int)
	if gasEstimate != nil && gasEstimate.Sign() > 0 {
		gas.Set(gasEstimate)
	}
	now := r.now()
	for _, p := range r.policies {
		if !p.Covers(kind) || !p.Eligible(facts, now) {
			continue
		}
		decision := split(gas, p.Ratio)
		decision.Policy = p.Name
		r.logger.Debug("Sponsorship policy matched", "policy", p.Name, "kind", kind, "mode", decision.Mode, "gas", gas)
		r.metrics.Sponsorship(string(decision.Mode))
		return decision
	}
	r.logger.Debug("No sponsorship policy matched", "kind", kind, "gas", gas)
	r.metrics.Sponsorship(string(types.SponsorshipNone))
	return &types.SponsorshipDecision{
		Mode:              types.SponsorshipNone,
		GasEstimate:       gas,
		UserPaysAmount:    new(big.Int).Set(gas),
		SponsorPaysAmount: new(big.Int),
	}
}

// split computes sponsor = floor(gas * ratio) and user = gas - sponsor
func split(gas *big.Int, ratio decimal.Decimal) *types.SponsorshipDecision {
	sponsorPays := decimal.NewFromBigInt(gas, 0).Mul(ratio).Floor().BigInt()
	userPays := new(big.Int).Sub(gas, sponsorPays)

	mode := types.SponsorshipNone
	switch {
	case userPays.Sign() == 0:
		mode = types.SponsorshipSponsored
	case sponsorPays.Sign() > 0 && sponsorPays.Cmp(gas) < 0:
		mode = types.SponsorshipPartial
	}
	return &types.SponsorshipDecision{
		Mode:              mode,
		GasEstimate:       gas,
		UserPaysAmount:    userPays,
		SponsorPaysAmount: sponsorPays,
	}
}
