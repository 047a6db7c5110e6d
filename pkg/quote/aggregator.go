// Package quote produces swap quotes by probing the venue's fee tiers and
// falling back to a price ratio estimate when every probe fails.
package quote

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"savings-swap/pkg/metrics"
	"savings-swap/pkg/pool"
	"savings-swap/pkg/prices"
	"savings-swap/pkg/savings"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

// Oracle simulates a single-pool exact-input swap
type Oracle interface {
	QuoteExactInputSingle(ctx context.Context, key pool.Key, zeroForOne bool, exactAmount *big.Int, hookData []byte) (*big.Int, *big.Int, error)
}

// Config holds the aggregator tunables
type Config struct {
	Hooks          common.Address
	Account        common.Address
	FeeTiers       []pool.FeeTier
	SlippageBps    uint32
	FallbackFeeBps uint32
	FallbackGas    *big.Int
	StaleAfter     time.Duration
}

// DefaultConfig returns the defaults used when values are not configured
func DefaultConfig() Config {
	return Config{
		FeeTiers:       pool.DefaultFeeTiers,
		SlippageBps:    50,
		FallbackFeeBps: 30,
		FallbackGas:    big.NewInt(200000),
		StaleAfter:     30 * time.Second,
	}
}

// Aggregator returns the best available quote for a pair
type Aggregator struct {
	oracle  Oracle
	prices  prices.Source
	cfg     Config
	now     func() time.Time
	logger  log.Logger
	metrics *metrics.Registry
}

// Option configures an Aggregator
type Option func(*Aggregator)

// WithClock overrides the time source stamped on quotes
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		a.now = now
	}
}

// WithLogger installs a custom logger
func WithLogger(l log.Logger) Option {
	return func(a *Aggregator) {
		a.logger = l
	}
}

// WithMetrics records quote sources and probe failures
func WithMetrics(m *metrics.Registry) Option {
	return func(a *Aggregator) {
		a.metrics = m
	}
}

// NewAggregator creates an aggregator. Missing fee tiers, fallback gas and
// stale interval take their defaults.
func NewAggregator(oracle Oracle, priceSource prices.Source, cfg Config, opts ...Option) *Aggregator {
	def := DefaultConfig()
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = def.FeeTiers
	}
	if cfg.FallbackGas == nil {
		cfg.FallbackGas = def.FallbackGas
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = def.StaleAfter
	}
	a := &Aggregator{
		oracle: oracle,
		prices: priceSource,
		cfg:    cfg,
		now:    time.Now,
		logger: log.Root().With("component", "quote"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// IsFresh reports whether q may still be used to build a transaction
func (a *Aggregator) IsFresh(q *types.SwapQuote) bool {
	return !q.IsStale(a.now(), a.cfg.StaleAfter)
}

type probeResult struct {
	tier pool.FeeTier
	out  *big.Int
	gas  *big.Int
}

// GetQuote quotes swapping inputAmount of input into output. The probed
// amount is the swap portion left after savingsBps is withheld. A nil quote
// with a nil error means there is nothing to quote (inputAmount <= 0).
func (a *Aggregator) GetQuote(ctx context.Context, input, output types.Token, inputAmount *big.Int, savingsBps uint32) (*types.SwapQuote, error) {
	if input.SameAs(output) {
		return nil, swaperr.Newf(swaperr.KindSameToken, "cannot quote %s to itself", input)
	}
	if inputAmount == nil || inputAmount.Sign() <= 0 {
		return nil, nil
	}
	if !savings.ValidBps(savingsBps) {
		return nil, swaperr.Newf(swaperr.KindInvalidInput, "savings percentage %d bps exceeds 100%%", savingsBps)
	}

	split := savings.Split(inputAmount, savingsBps)
	swapAmount := split.SwapAmount

	q := &types.SwapQuote{
		InputToken:  input,
		OutputToken: output,
		InputAmount: new(big.Int).Set(inputAmount),
		Route:       []common.Address{input.Address, output.Address},
		QuotedAt:    a.now(),
	}

	best := a.probe(ctx, input, output, swapAmount)
	if best != nil {
		q.OutputAmount = best.out
		q.GasEstimate = best.gas
		q.FeeTierBps = best.tier.Bps()
		q.Source = types.QuoteSourceProbe
	} else {
		q.OutputAmount = a.fallbackOutput(ctx, input, output, swapAmount)
		q.GasEstimate = new(big.Int).Set(a.cfg.FallbackGas)
		q.FeeTierBps = a.cfg.FallbackFeeBps
		q.Source = types.QuoteSourceFallback
	}

	q.PriceImpactBps = a.priceImpact(ctx, input, output, swapAmount, q.OutputAmount)
	q.MinOutputAmount = MinOutput(q.OutputAmount, a.cfg.SlippageBps)
	if savingsBps > 0 {
		q.SavedAmount = split.SavingsAmount
	}

	a.metrics.Quote(string(q.Source))
	a.logger.Debug("Quote ready", "in", input, "out", output, "amount", inputAmount,
		"output", q.OutputAmount, "fee", q.FeeTierBps, "impact", q.PriceImpactBps, "source", q.Source)
	return q, nil
}

// probe folds over the fee tiers in order, keeping the strictly greater
// output. Failed tiers are logged and skipped.
func (a *Aggregator) probe(ctx context.Context, input, output types.Token, amount *big.Int) *probeResult {
	if a.oracle == nil || amount.Sign() <= 0 {
		return nil
	}
	hookData, err := pool.EncodeHookData(a.cfg.Account)
	if err != nil {
		a.logger.Warn("Failed to encode hook data", "err", err)
		return nil
	}

	var best *probeResult
	for _, tier := range a.cfg.FeeTiers {
		key := pool.Canonicalize(input.Address, output.Address, tier, a.cfg.Hooks)
		out, gas, err := a.oracle.QuoteExactInputSingle(ctx, key, key.ZeroForOne(input.Address), amount, hookData)
		if err != nil {
			a.metrics.ProbeFailure(tier.String())
			a.logger.Debug("Fee tier probe failed", "tier", tier, "err", err)
			continue
		}
		if out == nil || out.Sign() <= 0 {
			a.metrics.ProbeFailure(tier.String())
			a.logger.Debug("Fee tier probe returned no output", "tier", tier)
			continue
		}
		if best == nil || out.Cmp(best.out) > 0 {
			if gas == nil {
				gas = new(big.Int)
			}
			best = &probeResult{tier: tier, out: out, gas: gas}
		}
	}
	return best
}

// fallbackOutput estimates output as input value / output price, less the
// fallback fee
func (a *Aggregator) fallbackOutput(ctx context.Context, input, output types.Token, amount *big.Int) *big.Int {
	expected := a.expectedOutput(ctx, input, output, amount)
	passThrough := decimal.NewFromInt(int64(types.BasisPoints - a.cfg.FallbackFeeBps)).
		Div(decimal.NewFromInt(types.BasisPoints))
	return types.FromDecimal(expected.Mul(passThrough), output.Decimals)
}

// expectedOutput is the fee-free output implied by USD prices, in whole
// output units
func (a *Aggregator) expectedOutput(ctx context.Context, input, output types.Token, amount *big.Int) decimal.Decimal {
	inPrice := a.usdPrice(ctx, input)
	outPrice := a.usdPrice(ctx, output)
	value := types.ToDecimal(amount, input.Decimals).Mul(inPrice)
	return value.DivRound(outPrice, int32(output.Decimals)+2)
}

// priceImpact is max(0, (expected - actual) * 10000 / expected) in bps
func (a *Aggregator) priceImpact(ctx context.Context, input, output types.Token, amount, actual *big.Int) int64 {
	expected := a.expectedOutput(ctx, input, output, amount)
	if !expected.IsPositive() {
		return 0
	}
	got := types.ToDecimal(actual, output.Decimals)
	impact := expected.Sub(got).Mul(decimal.NewFromInt(types.BasisPoints)).Div(expected).Truncate(0)
	if impact.IsNegative() {
		return 0
	}
	return impact.IntPart()
}

// usdPrice degrades to 1 when no price is available
func (a *Aggregator) usdPrice(ctx context.Context, token types.Token) decimal.Decimal {
	if a.prices == nil {
		return decimal.NewFromInt(1)
	}
	p, err := a.prices.USDPrice(ctx, token)
	if err != nil || !p.IsPositive() {
		a.logger.Debug("Price lookup failed, using 1", "token", token, "err", err)
		return decimal.NewFromInt(1)
	}
	return p
}

// MinOutput applies the slippage haircut with truncation
func MinOutput(out *big.Int, slippageBps uint32) *big.Int {
	if out == nil || out.Sign() <= 0 {
		return new(big.Int)
	}
	if slippageBps > types.BasisPoints {
		slippageBps = types.BasisPoints
	}
	min := new(big.Int).Mul(out, big.NewInt(int64(types.BasisPoints-slippageBps)))
	return min.Quo(min, big.NewInt(types.BasisPoints))
}
