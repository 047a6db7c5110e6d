package quote

import (
	"context"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"savings-swap/pkg/types"
)

type countingQuoter struct {
	calls atomic.Int32
}

func (c *countingQuoter) GetQuote(_ context.Context, in, out types.Token, amount *big.Int, _ uint32) (*types.SwapQuote, error) {
	c.calls.Add(1)
	return &types.SwapQuote{
		InputToken:   in,
		OutputToken:  out,
		InputAmount:  amount,
		OutputAmount: new(big.Int).Mul(amount, big.NewInt(2)),
		QuotedAt:     time.Now(),
	}, nil
}

func TestRefresherDebouncesUpdates(t *testing.T) {
	quoter := &countingQuoter{}
	var published atomic.Int32
	r := NewRefresher(quoter, time.Hour, 20*time.Millisecond, func(*types.SwapQuote) { published.Add(1) })

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()
	require.Error(t, r.Start(context.Background()))

	for i := int64(1); i <= 5; i++ {
		r.Update(Request{Input: usdc, Output: weth, Amount: big.NewInt(i)})
	}

	require.Eventually(t, func() bool {
		q := r.Latest()
		return q != nil && q.InputAmount.Int64() == 5
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, int32(1), quoter.calls.Load())
	require.Equal(t, int32(1), published.Load())
	require.NoError(t, r.Err())
}

func TestRefresherPeriodicRefetch(t *testing.T) {
	quoter := &countingQuoter{}
	r := NewRefresher(quoter, 15*time.Millisecond, time.Millisecond, nil)

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	r.Update(Request{Input: usdc, Output: weth, Amount: big.NewInt(7)})
	require.Eventually(t, func() bool {
		return quoter.calls.Load() >= 3
	}, time.Second, 5*time.Millisecond)
	require.Equal(t, "14", r.Latest().OutputAmount.String())
}

func TestRefresherIdleWithoutRequest(t *testing.T) {
	quoter := &countingQuoter{}
	r := NewRefresher(quoter, 5*time.Millisecond, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, r.Start(ctx))
	time.Sleep(30 * time.Millisecond)
	cancel()
	r.Stop()

	require.Zero(t, quoter.calls.Load())
	require.Nil(t, r.Latest())
}
