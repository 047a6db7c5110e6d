package cmd

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"savings-swap/config"
	"savings-swap/pkg/approval"
	"savings-swap/pkg/chain"
	"savings-swap/pkg/metrics"
	"savings-swap/pkg/parser"
	"savings-swap/pkg/prices"
	"savings-swap/pkg/quote"
	"savings-swap/pkg/relay"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/swap"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

// app holds the components built from configuration. Chain and relay
// connections are opened on demand so offline commands never dial.
type app struct {
	cfg       *config.Config
	network   *config.NetworkConfig
	contracts *config.Contracts
	tokens    []types.Token
	account   *relay.Account
	metrics   *metrics.Registry

	client   *chain.Client
	erc20    *chain.ERC20Reader
	facts    *chain.FactsProvider
	index    *prices.OneClickIndex
	sponsor  *sponsor.Resolver
	bundler  *relay.BundlerRelay
	balances *balanceCache
}

func loadApp() (*app, error) {
	cfg := config.Get()
	network, err := cfg.ActiveNetwork()
	if err != nil {
		return nil, err
	}
	contracts, err := network.Contracts()
	if err != nil {
		return nil, err
	}
	tokens, err := network.TokenList()
	if err != nil {
		return nil, err
	}
	account, err := cfg.Account(network, contracts)
	if err != nil {
		return nil, err
	}
	policies, err := cfg.SponsorPolicies()
	if err != nil {
		return nil, err
	}
	m := metrics.Default()
	resolver, err := sponsor.NewResolver(policies, sponsor.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:       cfg,
		network:   network,
		contracts: contracts,
		tokens:    tokens,
		account:   account,
		metrics:   m,
		sponsor:   resolver,
	}
	if cfg.OneClick.JWTToken != "" {
		a.index = prices.NewOneClickIndex(cfg.OneClick.JWTToken, cfg.OneClick.Blockchain, cfg.OneClick.BaseURL, cfg.OneClick.PriceTTL)
	}
	return a, nil
}

// connect dials the chain RPC endpoint
func (a *app) connect(ctx context.Context) error {
	if a.client != nil {
		return nil
	}
	client, err := chain.Dial(ctx, a.network.RPCURL)
	if err != nil {
		return err
	}
	a.client = client
	a.erc20 = chain.NewERC20Reader(client)
	a.facts = chain.NewFactsProvider(client, a.contracts.StakingToken)
	a.balances = newBalanceCache(a.balanceOf)
	return nil
}

// dialRelay connects the bundler and paymaster endpoints
func (a *app) dialRelay(ctx context.Context) error {
	if a.bundler != nil {
		return nil
	}
	if err := a.connect(ctx); err != nil {
		return err
	}
	bundler, err := relay.DialBundlerRelay(ctx, a.client, a.network.BundlerURL, a.network.PaymasterURL)
	if err != nil {
		return err
	}
	a.bundler = bundler
	return nil
}

func (a *app) close() {
	if a.client != nil {
		a.client.Close()
	}
}

func (a *app) priceSource() (prices.Source, error) {
	static, err := prices.NewStatic(a.cfg.Prices.Static)
	if err != nil {
		return nil, err
	}
	if a.index == nil {
		return prices.NewChain(static), nil
	}
	return prices.NewChain(a.index, static), nil
}

func (a *app) aggregator(ctx context.Context) (*quote.Aggregator, error) {
	if err := a.connect(ctx); err != nil {
		return nil, err
	}
	src, err := a.priceSource()
	if err != nil {
		return nil, err
	}
	q := a.cfg.Quote
	cfg := quote.Config{
		Hooks:          a.contracts.Hook,
		Account:        a.account.Sender,
		FeeTiers:       q.FeeTiers,
		SlippageBps:    q.SlippageBps,
		FallbackFeeBps: q.FallbackFeeBps,
		FallbackGas:    new(big.Int).SetUint64(q.FallbackGas),
		StaleAfter:     q.StaleAfter,
	}
	return quote.NewAggregator(chain.NewQuoter(a.client, a.contracts.Quoter), src, cfg, quote.WithMetrics(a.metrics)), nil
}

func (a *app) orchestrator(ctx context.Context) (*relay.Orchestrator, error) {
	if err := a.dialRelay(ctx); err != nil {
		return nil, err
	}
	e := a.cfg.Execution
	return relay.NewOrchestrator(a.account, a.bundler,
		relay.WithSponsor(a.sponsor, a.facts),
		relay.WithConfirmTimeout(e.ConfirmTimeout),
		relay.WithPollInterval(e.PollInterval),
		relay.WithMetrics(a.metrics),
	), nil
}

func (a *app) controller(ctx context.Context, agg *quote.Aggregator, latest swap.LatestQuote, onStatus func(swap.Execution)) (*swap.Controller, error) {
	orch, err := a.orchestrator(ctx)
	if err != nil {
		return nil, err
	}
	approvals := approval.NewResolver(a.erc20, orch, a.cfg.Execution.ApprovalWait)
	cfg := swap.Config{
		Account:           a.account.Sender,
		Router:            a.contracts.Router,
		Hooks:             a.contracts.Hook,
		FeeTiers:          a.cfg.Quote.FeeTiers,
		InvalidationDelay: a.cfg.Execution.InvalidationDelay,
	}
	return swap.NewController(cfg, approvals, agg, orch,
		swap.WithLatestQuote(latest),
		swap.WithInvalidator(a.balances),
		swap.WithStatusHook(onStatus),
		swap.WithMetrics(a.metrics),
	), nil
}

func (a *app) token(ref string) (types.Token, error) {
	t, ok := types.FindToken(a.tokens, ref)
	if !ok {
		return types.Token{}, swaperr.Newf(swaperr.KindInvalidInput, "token %s is not listed on %s", ref, a.cfg.Network)
	}
	return t, nil
}

// request resolves a parsed intent against the token list
type request struct {
	input      types.Token
	output     types.Token
	amount     *big.Int
	savingsBps uint32
}

func (a *app) resolveIntent(args []string, savingsFlag string) (*request, error) {
	intent, err := parser.ParseSwapCommand(strings.Join(args, " "))
	if err != nil {
		return nil, err
	}
	if savingsFlag != "" {
		bps, err := parser.ParseSavings("save " + savingsFlag)
		if err != nil {
			return nil, err
		}
		intent.SavingsBps = bps
	}
	if err := parser.ValidateIntent(intent); err != nil {
		return nil, err
	}
	input, err := a.token(intent.Input)
	if err != nil {
		return nil, err
	}
	output, err := a.token(intent.Output)
	if err != nil {
		return nil, err
	}
	amount, err := types.ParseUnits(intent.Amount, input.Decimals)
	if err != nil {
		return nil, swaperr.New(swaperr.KindInvalidInput, err)
	}
	return &request{input: input, output: output, amount: amount, savingsBps: intent.SavingsBps}, nil
}

func (a *app) balanceOf(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error) {
	if token.IsNative() {
		return a.client.BalanceAt(ctx, owner, nil)
	}
	return a.erc20.BalanceOf(ctx, token.Address, owner)
}

// balanceCache memoizes balance reads under the keys the swap controller
// invalidates after a settled swap
type balanceCache struct {
	fetch func(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error)

	mu      sync.Mutex
	entries map[string]*big.Int
}

func newBalanceCache(fetch func(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error)) *balanceCache {
	return &balanceCache{fetch: fetch, entries: make(map[string]*big.Int)}
}

func balanceKey(owner common.Address, token types.Token) string {
	return fmt.Sprintf("balance:%s:%s", strings.ToLower(owner.Hex()), strings.ToLower(token.Address.Hex()))
}

func (c *balanceCache) Get(ctx context.Context, owner common.Address, token types.Token) (*big.Int, error) {
	key := balanceKey(owner, token)
	c.mu.Lock()
	cached, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return cached, nil
	}
	balance, err := c.fetch(ctx, owner, token)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = balance
	c.mu.Unlock()
	return balance, nil
}

// Invalidate implements swap.Invalidator
func (c *balanceCache) Invalidate(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		delete(c.entries, k)
	}
	log.Debug("Balance cache invalidated", "keys", len(keys))
}
