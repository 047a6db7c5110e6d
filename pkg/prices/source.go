// Package prices looks up USD unit prices of tokens, used by the quote
// fallback and price impact computations.
package prices

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/shopspring/decimal"

	"savings-swap/pkg/types"
)

// ErrNoPrice is returned when a source has no price for a token
var ErrNoPrice = errors.New("no price for token")

// Source returns the USD price of one whole unit of token
type Source interface {
	USDPrice(ctx context.Context, token types.Token) (decimal.Decimal, error)
}

// Static is a fixed address -> USD table
type Static map[common.Address]decimal.Decimal

// NewStatic parses a hex address -> decimal string table
func NewStatic(table map[string]string) (Static, error) {
	s := make(Static, len(table))
	for addr, price := range table {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid token address %q in price table", addr)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(price))
		if err != nil {
			return nil, fmt.Errorf("invalid price %q for %s: %w", price, addr, err)
		}
		s[common.HexToAddress(addr)] = d
	}
	return s, nil
}

// USDPrice looks token up by address
func (s Static) USDPrice(_ context.Context, token types.Token) (decimal.Decimal, error) {
	if p, ok := s[token.Address]; ok {
		return p, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token)
}

// Chain asks each source in order and returns the first positive price
type Chain struct {
	sources []Source
	logger  log.Logger
}

// NewChain creates an ordered fallback chain, skipping nil sources
func NewChain(sources ...Source) *Chain {
	c := &Chain{logger: log.Root().With("component", "prices")}
	for _, s := range sources {
		if s != nil {
			c.sources = append(c.sources, s)
		}
	}
	return c
}

// USDPrice returns the first positive price any source reports
func (c *Chain) USDPrice(ctx context.Context, token types.Token) (decimal.Decimal, error) {
	var errs []error
	for _, s := range c.sources {
		p, err := s.USDPrice(ctx, token)
		if err != nil {
			c.logger.Debug("Price source failed", "token", token, "err", err)
			errs = append(errs, err)
			continue
		}
		if p.IsPositive() {
			return p, nil
		}
	}
	if len(errs) == 0 {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNoPrice, token)
	}
	return decimal.Zero, errors.Join(errs...)
}
