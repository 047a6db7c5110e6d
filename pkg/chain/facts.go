package chain

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"savings-swap/pkg/sponsor"
)

// FactsProvider reads the on-chain properties sponsorship policies look at.
// Staked is the account's balance of the configured staking token, zero when
// none is configured. FirstSeen is the first time this process observed the
// account deployed.
type FactsProvider struct {
	caller       Caller
	tokens       *ERC20Reader
	stakingToken common.Address
	now          func() time.Time

	mu        sync.Mutex
	firstSeen map[common.Address]time.Time
}

// NewFactsProvider creates a provider
func NewFactsProvider(caller Caller, stakingToken common.Address) *FactsProvider {
	return &FactsProvider{
		caller:       caller,
		tokens:       NewERC20Reader(caller),
		stakingToken: stakingToken,
		now:          time.Now,
		firstSeen:    make(map[common.Address]time.Time),
	}
}

// Facts reads the balance, stake and deployment state of account
func (p *FactsProvider) Facts(ctx context.Context, account common.Address) (*sponsor.Facts, error) {
	balance, err := p.caller.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	code, err := p.caller.CodeAt(ctx, account, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get account code: %w", err)
	}
	staked := new(big.Int)
	if p.stakingToken != (common.Address{}) {
		staked, err = p.tokens.BalanceOf(ctx, p.stakingToken, account)
		if err != nil {
			return nil, fmt.Errorf("failed to get staked balance: %w", err)
		}
	}
	facts := &sponsor.Facts{
		Address:  account,
		Balance:  balance,
		Staked:   staked,
		Deployed: len(code) > 0,
	}
	if facts.Deployed {
		facts.FirstSeen = p.observe(account)
	}
	return facts, nil
}

func (p *FactsProvider) observe(account common.Address) time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	seen, ok := p.firstSeen[account]
	if !ok {
		seen = p.now()
		p.firstSeen[account] = seen
	}
	return seen
}
