package prices

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	oneclick "github.com/defuse-protocol/one-click-sdk-go"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"savings-swap/pkg/types"
)

// listing is the part of a 1Click token entry the index keeps
type listing struct {
	Symbol     string
	Address    string
	Blockchain string
	Price      float64
}

// OneClickIndex is a USD price index backed by the 1Click token list, keyed
// by contract address on one blockchain. The list is cached for ttl and
// refetches are rate limited.
type OneClickIndex struct {
	client     *oneclick.APIClient
	jwtToken   string
	blockchain string
	ttl        time.Duration
	limiter    *rate.Limiter
	logger     log.Logger

	mu        sync.Mutex
	byAddress map[string]listing
	bySymbol  map[string]listing
	fetchedAt time.Time
	now       func() time.Time
}

// NewOneClickIndex creates an index for the given 1Click blockchain name
// (e.g. "base", "eth"). baseURL overrides the SDK's default server when set.
func NewOneClickIndex(jwtToken, blockchain, baseURL string, ttl time.Duration) *OneClickIndex {
	config := oneclick.NewConfiguration()
	if baseURL != "" {
		config.Servers = oneclick.ServerConfigurations{{URL: baseURL}}
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &OneClickIndex{
		client:     oneclick.NewAPIClient(config),
		jwtToken:   jwtToken,
		blockchain: strings.ToLower(blockchain),
		ttl:        ttl,
		limiter:    rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:     log.Root().With("component", "oneclick"),
		now:        time.Now,
	}
}

// Tokens returns every token 1Click lists
func (c *OneClickIndex) Tokens(ctx context.Context) ([]oneclick.TokenResponse, error) {
	if c.jwtToken != "" {
		ctx = context.WithValue(ctx, oneclick.ContextAccessToken, c.jwtToken)
	}
	resp, httpResp, err := c.client.OneClickAPI.GetTokens(ctx).Execute()
	if httpResp != nil {
		defer httpResp.Body.Close()
	}
	if err != nil {
		if httpResp != nil {
			return nil, fmt.Errorf("failed to get tokens: status %d: %w", httpResp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to get tokens: %w", err)
	}

	if httpResp.StatusCode != 200 {
		return nil, fmt.Errorf("API returned status code %d", httpResp.StatusCode)
	}
	return resp, nil
}

// USDPrice returns the listed price of token on the index's blockchain
func (c *OneClickIndex) USDPrice(ctx context.Context, token types.Token) (decimal.Decimal, error) {
	if err := c.refresh(ctx); err != nil {
		return decimal.Zero, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lookup(token)
	if !ok || entry.Price <= 0 {
		return decimal.Zero, fmt.Errorf("%w: %s on %s", ErrNoPrice, token, c.blockchain)
	}
	return decimal.NewFromFloat(entry.Price), nil
}

// Blockchain is the 1Click blockchain name the index is keyed by
func (c *OneClickIndex) Blockchain() string {
	return c.blockchain
}

// Coverage describes how the index prices one configured token
type Coverage struct {
	Token       types.Token
	Listed      bool
	IndexSymbol string
	Price       decimal.Decimal
}

// Coverage matches tokens against the index's blockchain. It also returns
// how many index entries on that blockchain no token maps to.
func (c *OneClickIndex) Coverage(ctx context.Context, tokens []types.Token) ([]Coverage, int, error) {
	if err := c.refresh(ctx); err != nil {
		return nil, 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	matched := make(map[string]bool)
	out := make([]Coverage, 0, len(tokens))
	for _, t := range tokens {
		entry, ok := c.lookup(t)
		cov := Coverage{Token: t, Listed: ok && entry.Price > 0}
		if ok {
			cov.IndexSymbol = entry.Symbol
			cov.Price = decimal.NewFromFloat(entry.Price)
			matched[entry.Blockchain+":"+entry.Symbol+":"+strings.ToLower(entry.Address)] = true
		}
		out = append(out, cov)
	}
	unmatched := len(c.byAddress) + len(c.bySymbol) - len(matched)
	return out, unmatched, nil
}

// lookup finds token on the index's blockchain. The native asset is listed
// by symbol since it has no contract address. Callers hold c.mu.
func (c *OneClickIndex) lookup(token types.Token) (listing, bool) {
	if token.IsNative() {
		l, ok := c.bySymbol[strings.ToUpper(token.Symbol)]
		return l, ok
	}
	l, ok := c.byAddress[strings.ToLower(token.Address.Hex())]
	return l, ok
}

func (c *OneClickIndex) refresh(ctx context.Context) error {
	c.mu.Lock()
	fresh := c.byAddress != nil && c.now().Sub(c.fetchedAt) < c.ttl
	c.mu.Unlock()
	if fresh {
		return nil
	}

	if !c.limiter.Allow() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.byAddress != nil {
			// serve the stale list until the limiter lets us refetch
			return nil
		}
		return fmt.Errorf("1Click token list rate limited")
	}

	tokens, err := c.Tokens(ctx)
	if err != nil {
		return err
	}
	listings := make([]listing, 0, len(tokens))
	for _, t := range tokens {
		listings = append(listings, listing{
			Symbol:     t.GetSymbol(),
			Address:    t.GetContractAddress(),
			Blockchain: t.GetBlockchain(),
			Price:      float64(t.GetPrice()),
		})
	}
	c.load(listings)
	c.logger.Debug("Token list refreshed", "blockchain", c.blockchain, "tokens", len(listings))
	return nil
}

func (c *OneClickIndex) load(listings []listing) {
	byAddress := make(map[string]listing)
	bySymbol := make(map[string]listing)
	for _, l := range listings {
		if !strings.EqualFold(l.Blockchain, c.blockchain) {
			continue
		}
		if l.Address != "" {
			byAddress[strings.ToLower(l.Address)] = l
		} else {
			bySymbol[strings.ToUpper(l.Symbol)] = l
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.byAddress = byAddress
	c.bySymbol = bySymbol
	c.fetchedAt = c.now()
}
