package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"savings-swap/pkg/metrics"
	"savings-swap/pkg/pool"
	"savings-swap/pkg/relay"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

var (
	account = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	router  = common.HexToAddress("0x00000000000000000000000000000000000000bb")
	hook    = common.HexToAddress("0x00000000000000000000000000000000000000c4")
	usdc    = types.Token{Address: common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"), Symbol: "USDC", Decimals: 6}
	weth    = types.Token{Address: common.HexToAddress("0x4200000000000000000000000000000000000006"), Symbol: "WETH", Decimals: 18}
	eth     = types.Token{Address: types.NativeAddress, Symbol: "ETH", Decimals: 18}
)

type fakeApprover struct {
	allowance  *big.Int
	approveErr error
	checks     int
	approvals  int
}

func (f *fakeApprover) CheckApproval(_ context.Context, _ common.Address, _ types.Token, _ common.Address, required *big.Int) (*types.ApprovalState, error) {
	f.checks++
	return types.NewApprovalState(f.allowance, required), nil
}

func (f *fakeApprover) ApproveAndConfirm(_ context.Context, _ common.Address, _ types.Token, _ common.Address, required *big.Int) (*types.OperationHandle, *types.ApprovalState, error) {
	f.approvals++
	handle := types.Submitted("0xapprove")
	if f.approveErr != nil {
		return handle, nil, f.approveErr
	}
	f.allowance = new(big.Int).Lsh(big.NewInt(1), 255)
	return handle, types.NewApprovalState(f.allowance, required), nil
}

type fakeQuoter struct {
	calls int
	fresh bool
}

func (f *fakeQuoter) GetQuote(_ context.Context, in, out types.Token, amount *big.Int, _ uint32) (*types.SwapQuote, error) {
	f.calls++
	return &types.SwapQuote{
		InputToken:      in,
		OutputToken:     out,
		InputAmount:     amount,
		OutputAmount:    big.NewInt(1000),
		MinOutputAmount: big.NewInt(995),
		FeeTierBps:      30,
		QuotedAt:        time.Now(),
	}, nil
}

func (f *fakeQuoter) IsFresh(*types.SwapQuote) bool {
	return f.fresh
}

type fakeLatest struct {
	quote *types.SwapQuote
}

func (f fakeLatest) Latest() *types.SwapQuote {
	return f.quote
}

type fakeSubmitter struct {
	mu       sync.Mutex
	startErr error
	awaitErr error
	release  chan struct{}
	calls    []relay.Call

	// context error seen by Await once released
	awaitCtxErr error
}

func (f *fakeSubmitter) Start(_ context.Context, calls []relay.Call, _ ...relay.SubmitOption) (*types.OperationHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, calls...)
	if f.startErr != nil {
		return nil, f.startErr
	}
	return types.Submitted("0xabc"), nil
}

func (f *fakeSubmitter) Await(ctx context.Context, h *types.OperationHandle) (*types.OperationHandle, error) {
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	f.awaitCtxErr = ctx.Err()
	f.mu.Unlock()
	if f.awaitErr != nil {
		h.Phase = types.PhaseFailed
		return h, f.awaitErr
	}
	tx := common.HexToHash("0xfeed")
	h.Confirm(&tx, 7)
	return h, nil
}

type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recordingInvalidator) Invalidate(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, keys)
}

func (r *recordingInvalidator) first() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.calls) == 0 {
		return nil
	}
	return r.calls[0]
}

func (r *recordingInvalidator) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

func testConfig() Config {
	return Config{
		Account:           account,
		Router:            router,
		Hooks:             hook,
		InvalidationDelay: 50 * time.Millisecond,
	}
}

func TestExecuteSwapWithApproval(t *testing.T) {
	approver := &fakeApprover{allowance: big.NewInt(500)}
	quoter := &fakeQuoter{}
	sub := &fakeSubmitter{}
	inv := &recordingInvalidator{}

	var (
		mu       sync.Mutex
		statuses []types.ExecutionStatus
	)
	c := NewController(testConfig(), approver, quoter, sub,
		WithInvalidator(inv),
		WithMetrics(metrics.New()),
		WithStatusHook(func(e Execution) {
			mu.Lock()
			defer mu.Unlock()
			statuses = append(statuses, e.Status)
		}))

	amount := big.NewInt(1_000_000_000)
	exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: amount, SavingsBps: 1000})
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, exec.Status)
	require.NotEmpty(t, exec.ID)
	require.Equal(t, "0xapprove", exec.Approval.OperationID)
	require.Equal(t, common.HexToHash("0xfeed").Hex(), exec.Operation.CanonicalID())
	require.Equal(t, "100000000", exec.Split.SavingsAmount.String())
	require.Equal(t, "900000000", exec.Split.SwapAmount.String())

	mu.Lock()
	require.Equal(t, []types.ExecutionStatus{
		types.StatusCheckingApproval,
		types.StatusApproving,
		types.StatusBuilding,
		types.StatusExecuting,
		types.StatusConfirming,
		types.StatusSuccess,
	}, statuses)
	mu.Unlock()

	// the swap call specifies the full input through the hooked 0.3% pool
	require.Len(t, sub.calls, 1)
	key := pool.Canonicalize(usdc.Address, weth.Address, pool.DefaultFeeTiers[1], hook)
	hookData, err := pool.EncodeHookData(account)
	require.NoError(t, err)
	want, err := pool.PackSwap(key, pool.NewExactInputParams(key, usdc.Address, amount), hookData)
	require.NoError(t, err)
	require.Equal(t, router, sub.calls[0].To)
	require.Equal(t, want, sub.calls[0].Data)
	require.Nil(t, sub.calls[0].Value)

	require.Equal(t, 1, inv.count())
	require.Len(t, inv.first(), 3)
	require.Eventually(t, func() bool { return inv.count() == 2 }, time.Second, 5*time.Millisecond)
}

func TestNativeInputSkipsApproval(t *testing.T) {
	approver := &fakeApprover{allowance: big.NewInt(0)}
	sub := &fakeSubmitter{}
	c := NewController(testConfig(), approver, &fakeQuoter{}, sub)

	exec, err := c.ExecuteSwap(context.Background(), Params{Input: eth, Output: usdc, Amount: big.NewInt(5)})
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, exec.Status)
	require.Zero(t, approver.checks)
	require.Nil(t, exec.Approval)
	require.Equal(t, "5", sub.calls[0].Value.String())
}

func TestSufficientAllowanceGoesStraightToBuilding(t *testing.T) {
	approver := &fakeApprover{allowance: big.NewInt(1000)}
	c := NewController(testConfig(), approver, &fakeQuoter{}, &fakeSubmitter{})

	_, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(1000)})
	require.NoError(t, err)
	require.Equal(t, 1, approver.checks)
	require.Zero(t, approver.approvals)
}

func TestApprovalFailure(t *testing.T) {
	approver := &fakeApprover{allowance: big.NewInt(0), approveErr: errors.New("allowance still 0")}
	sub := &fakeSubmitter{}
	c := NewController(testConfig(), approver, &fakeQuoter{}, sub)

	exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(1)})
	require.True(t, swaperr.Is(err, swaperr.KindApprovalFailed))
	require.Equal(t, types.StatusError, exec.Status)
	require.Equal(t, swaperr.KindApprovalFailed, exec.ErrorKind())
	require.Equal(t, "0xapprove", exec.Approval.OperationID)
	require.Empty(t, sub.calls)
}

func TestInvalidParams(t *testing.T) {
	c := NewController(testConfig(), &fakeApprover{}, &fakeQuoter{}, &fakeSubmitter{})

	exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: usdc, Amount: big.NewInt(1)})
	require.True(t, swaperr.Is(err, swaperr.KindSameToken))
	require.Equal(t, types.StatusError, exec.Status)

	_, err = c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(0)})
	require.True(t, swaperr.Is(err, swaperr.KindInvalidInput))

	_, err = c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(1), SavingsBps: 10001})
	require.True(t, swaperr.Is(err, swaperr.KindInvalidInput))
}

func TestRelayFailuresReachError(t *testing.T) {
	cases := []struct {
		name string
		sub  *fakeSubmitter
		kind swaperr.Kind
	}{
		{"submit", &fakeSubmitter{startErr: errors.New("insufficient funds for gas")}, swaperr.KindInsufficientBalance},
		{"confirm", &fakeSubmitter{awaitErr: swaperr.Newf(swaperr.KindExcessiveSlippage, "too little received")}, swaperr.KindExcessiveSlippage},
		{"generic", &fakeSubmitter{awaitErr: errors.New("bundler exploded")}, swaperr.KindRelayFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := NewController(testConfig(), &fakeApprover{allowance: big.NewInt(10)}, &fakeQuoter{}, tc.sub)
			exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(10)})
			require.Error(t, err)
			require.Equal(t, types.StatusError, exec.Status)
			require.Equal(t, tc.kind, exec.ErrorKind())
		})
	}
}

func TestBusyWhileInFlight(t *testing.T) {
	sub := &fakeSubmitter{release: make(chan struct{})}
	c := NewController(testConfig(), &fakeApprover{allowance: big.NewInt(10)}, &fakeQuoter{}, sub)

	done := make(chan error, 1)
	go func() {
		_, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(10)})
		done <- err
	}()

	require.Eventually(t, func() bool { return c.Status() == types.StatusConfirming }, time.Second, time.Millisecond)
	require.Equal(t, "0xabc", c.Snapshot().Operation.CanonicalID())

	_, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(10)})
	require.ErrorIs(t, err, ErrBusy)

	close(sub.release)
	require.NoError(t, <-done)
	require.Equal(t, types.StatusSuccess, c.Status())

	_, err = c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(10)})
	require.NoError(t, err)
}

func TestResetAlwaysSucceeds(t *testing.T) {
	c := NewController(testConfig(), &fakeApprover{}, &fakeQuoter{}, &fakeSubmitter{})
	c.Reset()
	require.Equal(t, types.StatusIdle, c.Status())

	_, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: usdc, Amount: big.NewInt(1)})
	require.Error(t, err)
	require.Equal(t, types.StatusError, c.Status())

	c.Reset()
	snap := c.Snapshot()
	require.Equal(t, types.StatusIdle, snap.Status)
	require.Empty(t, snap.ID)
	require.Nil(t, snap.Err)
	require.Nil(t, snap.Operation)
}

func TestResetDuringConfirmationKeepsSingleFlight(t *testing.T) {
	sub := &fakeSubmitter{release: make(chan struct{})}
	c := NewController(testConfig(), &fakeApprover{allowance: big.NewInt(10)}, &fakeQuoter{}, sub)
	params := Params{Input: usdc, Output: weth, Amount: big.NewInt(10)}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.ExecuteSwap(context.Background(), params)
	}()
	require.Eventually(t, func() bool { return c.Status() == types.StatusConfirming }, time.Second, time.Millisecond)

	c.Reset()
	require.Equal(t, types.StatusIdle, c.Status())

	// the abandoned operation is still awaiting its receipt
	_, err := c.ExecuteSwap(context.Background(), params)
	require.ErrorIs(t, err, ErrBusy)
	require.Equal(t, types.StatusIdle, c.Status())

	close(sub.release)
	<-done

	sub.mu.Lock()
	require.ErrorIs(t, sub.awaitCtxErr, context.Canceled)
	require.Len(t, sub.calls, 1)
	sub.mu.Unlock()

	snap, err := c.ExecuteSwap(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, types.StatusSuccess, snap.Status)
	sub.mu.Lock()
	require.Len(t, sub.calls, 2)
	sub.mu.Unlock()
}

func TestUsesFreshRefreshedQuote(t *testing.T) {
	amount := big.NewInt(10)
	latest := &types.SwapQuote{
		InputToken:   usdc,
		OutputToken:  weth,
		InputAmount:  amount,
		OutputAmount: big.NewInt(3),
		FeeTierBps:   100,
		QuotedAt:     time.Now(),
	}
	quoter := &fakeQuoter{fresh: true}
	c := NewController(testConfig(), &fakeApprover{allowance: amount}, quoter, &fakeSubmitter{}, WithLatestQuote(fakeLatest{latest}))

	exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: amount})
	require.NoError(t, err)
	require.Zero(t, quoter.calls)
	require.Same(t, latest, exec.Quote)

	quoter.fresh = false
	exec, err = c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: amount})
	require.NoError(t, err)
	require.Equal(t, 1, quoter.calls)
	require.NotSame(t, latest, exec.Quote)
}

// timeoutRelay accepts operations but never produces a receipt
type timeoutRelay struct{}

func (timeoutRelay) Build(_ context.Context, a *relay.Account, calls []relay.Call) (*relay.Envelope, error) {
	return &relay.Envelope{Account: a, Op: &relay.UserOperation{Sender: a.Sender}, Calls: calls, Deployed: true}, nil
}

func (timeoutRelay) Sponsor(context.Context, *relay.Envelope, *types.SponsorshipDecision) error {
	return nil
}

func (timeoutRelay) Send(context.Context, *relay.Envelope) (string, error) {
	return "0xabc", nil
}

func (timeoutRelay) Receipt(context.Context, string) (*relay.Receipt, error) {
	return nil, nil
}

func TestConfirmationTimeoutThroughOrchestrator(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	acct := &relay.Account{
		Sender:     account,
		Owner:      key,
		EntryPoint: common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789"),
		ChainID:    big.NewInt(84532),
	}
	orch := relay.NewOrchestrator(acct, timeoutRelay{},
		relay.WithConfirmTimeout(30*time.Millisecond),
		relay.WithPollInterval(5*time.Millisecond))

	c := NewController(testConfig(), &fakeApprover{allowance: big.NewInt(10)}, &fakeQuoter{}, orch)
	exec, err := c.ExecuteSwap(context.Background(), Params{Input: usdc, Output: weth, Amount: big.NewInt(10)})
	require.Error(t, err)
	require.Equal(t, types.StatusError, exec.Status)
	require.Equal(t, swaperr.KindConfirmationTimeout, exec.ErrorKind())
	require.Equal(t, "0xabc", exec.Operation.CanonicalID())
	require.False(t, exec.Operation.HasSettlement())
}

func TestInvalidationKeys(t *testing.T) {
	keys := InvalidationKeys(account, usdc, weth)
	require.Len(t, keys, 3)
	require.Contains(t, keys[0], "balance:0x00000000000000000000000000000000000000aa:")
	require.Contains(t, keys[2], "savings:")
}
