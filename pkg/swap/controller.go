// Package swap drives one savings swap through approval, quoting, relay
// submission and confirmation as a single-flight state machine.
package swap

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"savings-swap/pkg/metrics"
	"savings-swap/pkg/pool"
	"savings-swap/pkg/relay"
	"savings-swap/pkg/savings"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

// ErrBusy is returned when an execution is already in flight
var ErrBusy = errors.New("swap execution already in progress")

// Approver resolves token allowances for the router
type Approver interface {
	CheckApproval(ctx context.Context, owner common.Address, token types.Token, spender common.Address, required *big.Int) (*types.ApprovalState, error)
	ApproveAndConfirm(ctx context.Context, owner common.Address, token types.Token, spender common.Address, required *big.Int) (*types.OperationHandle, *types.ApprovalState, error)
}

// Quoter produces quotes and judges their freshness
type Quoter interface {
	GetQuote(ctx context.Context, input, output types.Token, inputAmount *big.Int, savingsBps uint32) (*types.SwapQuote, error)
	IsFresh(q *types.SwapQuote) bool
}

// LatestQuote exposes the most recent refreshed quote, if any
type LatestQuote interface {
	Latest() *types.SwapQuote
}

// Submitter relays the swap call in two phases so the operation id is
// observable before confirmation
type Submitter interface {
	Start(ctx context.Context, calls []relay.Call, opts ...relay.SubmitOption) (*types.OperationHandle, error)
	Await(ctx context.Context, handle *types.OperationHandle) (*types.OperationHandle, error)
}

// Params is one swap request
type Params struct {
	Input      types.Token
	Output     types.Token
	Amount     *big.Int
	SavingsBps uint32
}

// Execution is a snapshot of the current attempt
type Execution struct {
	ID         string                 `json:"id"`
	Status     types.ExecutionStatus  `json:"status"`
	Params     Params                 `json:"-"`
	Split      types.AmountPair       `json:"split"`
	Quote      *types.SwapQuote       `json:"quote,omitempty"`
	Approval   *types.OperationHandle `json:"approval,omitempty"`
	Operation  *types.OperationHandle `json:"operation,omitempty"`
	Err        error                  `json:"-"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at,omitempty"`
}

// ErrorKind returns the classified kind of a failed execution
func (e Execution) ErrorKind() swaperr.Kind {
	if e.Err == nil {
		return ""
	}
	return swaperr.KindOf(e.Err)
}

// Config wires the controller to the deployed contracts
type Config struct {
	Account           common.Address
	Router            common.Address
	Hooks             common.Address
	FeeTiers          []pool.FeeTier
	InvalidationDelay time.Duration
}

// Controller runs at most one execution at a time
type Controller struct {
	cfg         Config
	approver    Approver
	quoter      Quoter
	latest      LatestQuote
	submitter   Submitter
	invalidator Invalidator
	onStatus    func(Execution)
	logger      log.Logger
	metrics     *metrics.Registry

	mu   sync.Mutex
	exec Execution

	// set from begin until the run returns, even after a Reset
	running bool
	cancel  context.CancelFunc
}

// Option configures a Controller
type Option func(*Controller)

// WithLatestQuote lets building reuse a fresh refreshed quote
func WithLatestQuote(l LatestQuote) Option {
	return func(c *Controller) {
		c.latest = l
	}
}

// WithInvalidator receives cache invalidations after a successful swap
func WithInvalidator(inv Invalidator) Option {
	return func(c *Controller) {
		c.invalidator = inv
	}
}

// WithStatusHook is called with a snapshot on every transition
func WithStatusHook(fn func(Execution)) Option {
	return func(c *Controller) {
		c.onStatus = fn
	}
}

// WithLogger installs a custom logger
func WithLogger(l log.Logger) Option {
	return func(c *Controller) {
		c.logger = l
	}
}

// WithMetrics records execution outcomes
func WithMetrics(m *metrics.Registry) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// NewController creates an idle controller
func NewController(cfg Config, approver Approver, quoter Quoter, submitter Submitter, opts ...Option) *Controller {
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = pool.DefaultFeeTiers
	}
	if cfg.InvalidationDelay <= 0 {
		cfg.InvalidationDelay = 3 * time.Second
	}
	c := &Controller{
		cfg:       cfg,
		approver:  approver,
		quoter:    quoter,
		submitter: submitter,
		logger:    log.Root().With("component", "swap"),
		exec:      Execution{Status: types.StatusIdle},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Snapshot returns the current execution state
func (c *Controller) Snapshot() Execution {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exec
}

// Status returns the current state
func (c *Controller) Status() types.ExecutionStatus {
	return c.Snapshot().Status
}

// Reset clears identifiers and error state back to idle. An in-flight
// execution is cancelled and abandoned; its relay operation may still land,
// so new executions stay refused until the abandoned run has returned.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	c.exec = Execution{Status: types.StatusIdle}
	snap := c.exec
	c.mu.Unlock()
	c.notify(snap)
}

// ExecuteSwap runs one swap to a terminal state. It returns ErrBusy without
// touching state when another execution is in flight; otherwise the returned
// snapshot is terminal and the error, if any, is a *swaperr.Error.
func (c *Controller) ExecuteSwap(ctx context.Context, p Params) (Execution, error) {
	id, ctx, err := c.begin(ctx, p)
	if err != nil {
		return c.Snapshot(), err
	}
	defer c.end()
	logger := c.logger.With("execution", id)

	if err := validate(p); err != nil {
		return c.fail(id, err)
	}
	c.update(id, func(e *Execution) {
		e.Split = savings.Split(p.Amount, p.SavingsBps)
	})

	if !p.Input.IsNative() {
		state, err := c.approver.CheckApproval(ctx, c.cfg.Account, p.Input, c.cfg.Router, p.Amount)
		if err != nil {
			return c.fail(id, swaperr.Classify(err))
		}
		if state.NeedsApproval {
			c.transition(id, types.StatusApproving)
			logger.Info("Approving input token", "token", p.Input, "spender", c.cfg.Router)
			handle, _, err := c.approver.ApproveAndConfirm(ctx, c.cfg.Account, p.Input, c.cfg.Router, p.Amount)
			c.update(id, func(e *Execution) { e.Approval = handle })
			if err != nil {
				if !swaperr.Is(err, swaperr.KindApprovalFailed) {
					err = swaperr.New(swaperr.KindApprovalFailed, err)
				}
				return c.fail(id, err)
			}
		}
	}

	c.transition(id, types.StatusBuilding)
	q, err := c.freshQuote(ctx, p)
	if err != nil {
		return c.fail(id, swaperr.Classify(err))
	}
	c.update(id, func(e *Execution) { e.Quote = q })

	call, err := c.buildSwapCall(p, q)
	if err != nil {
		return c.fail(id, swaperr.New(swaperr.KindRelayFailure, err))
	}

	c.transition(id, types.StatusExecuting)
	handle, err := c.submitter.Start(ctx, []relay.Call{call}, relay.WithKind(sponsor.OpSwap))
	if err != nil {
		c.update(id, func(e *Execution) { e.Operation = handle })
		return c.fail(id, swaperr.Classify(err))
	}
	c.update(id, func(e *Execution) {
		e.Operation = handle
		e.Status = types.StatusConfirming
	})
	c.notify(c.Snapshot())
	logger.Info("Swap submitted", "operation", handle.OperationID)

	handle, err = c.submitter.Await(ctx, handle)
	c.update(id, func(e *Execution) {
		if handle != nil {
			e.Operation = handle
		}
	})
	if err != nil {
		return c.fail(id, swaperr.Classify(err))
	}

	snap := c.finish(id, types.StatusSuccess, nil)
	logger.Info("Swap confirmed", "id", handle.CanonicalID(), "output", q.OutputAmount)
	c.invalidate(p)
	return snap, nil
}

func validate(p Params) error {
	if p.Input.SameAs(p.Output) {
		return swaperr.Newf(swaperr.KindSameToken, "input and output are both %s", p.Input)
	}
	if p.Amount == nil || p.Amount.Sign() <= 0 {
		return swaperr.Newf(swaperr.KindInvalidInput, "amount must be positive")
	}
	if !savings.ValidBps(p.SavingsBps) {
		return swaperr.Newf(swaperr.KindInvalidInput, "savings percentage %d bps exceeds 100%%", p.SavingsBps)
	}
	return nil
}

// freshQuote uses the refreshed quote when it matches the request and is
// fresh, otherwise fetches a new one
func (c *Controller) freshQuote(ctx context.Context, p Params) (*types.SwapQuote, error) {
	if c.latest != nil {
		if q := c.latest.Latest(); q.Matches(p.Input, p.Output, p.Amount) && sameSavings(q, p) && c.quoter.IsFresh(q) {
			return q, nil
		}
	}
	q, err := c.quoter.GetQuote(ctx, p.Input, p.Output, p.Amount, p.SavingsBps)
	if err != nil {
		return nil, err
	}
	if q == nil {
		return nil, swaperr.Newf(swaperr.KindInvalidInput, "no quote available")
	}
	return q, nil
}

func sameSavings(q *types.SwapQuote, p Params) bool {
	saved := savings.Split(p.Amount, p.SavingsBps).SavingsAmount
	if q.SavedAmount == nil {
		return p.SavingsBps == 0
	}
	return q.SavedAmount.Cmp(saved) == 0
}

// buildSwapCall encodes the router swap with the canonical hooked pool key.
// The full input is specified: the hook withholds the savings portion.
func (c *Controller) buildSwapCall(p Params, q *types.SwapQuote) (relay.Call, error) {
	key := pool.Canonicalize(p.Input.Address, p.Output.Address, c.tierFor(q.FeeTierBps), c.cfg.Hooks)
	params := pool.NewExactInputParams(key, p.Input.Address, p.Amount)
	hookData, err := pool.EncodeHookData(c.cfg.Account)
	if err != nil {
		return relay.Call{}, err
	}
	data, err := pool.PackSwap(key, params, hookData)
	if err != nil {
		return relay.Call{}, err
	}
	call := relay.Call{To: c.cfg.Router, Data: data}
	if p.Input.IsNative() {
		call.Value = new(big.Int).Set(p.Amount)
	}
	return call, nil
}

func (c *Controller) tierFor(bps uint32) pool.FeeTier {
	for _, t := range c.cfg.FeeTiers {
		if t.Bps() == bps {
			return t
		}
	}
	c.logger.Warn("Quoted fee tier not configured, using first tier", "bps", bps)
	return c.cfg.FeeTiers[0]
}

func (c *Controller) begin(ctx context.Context, p Params) (string, context.Context, error) {
	c.mu.Lock()
	if c.running || !c.exec.Status.IsReentrant() {
		c.mu.Unlock()
		return "", nil, ErrBusy
	}
	ctx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	id := uuid.NewString()
	c.exec = Execution{
		ID:        id,
		Status:    types.StatusCheckingApproval,
		Params:    p,
		StartedAt: time.Now(),
	}
	snap := c.exec
	c.mu.Unlock()

	c.notify(snap)
	return id, ctx, nil
}

// end releases the execution slot once the run has returned
func (c *Controller) end() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancel()
	c.cancel = nil
	c.running = false
}

// update mutates the execution if it is still the current one
func (c *Controller) update(id string, fn func(*Execution)) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.exec.ID != id {
		return false
	}
	fn(&c.exec)
	return true
}

func (c *Controller) transition(id string, status types.ExecutionStatus) {
	var snap Execution
	if c.update(id, func(e *Execution) {
		e.Status = status
		snap = *e
	}) {
		c.notify(snap)
	}
}

func (c *Controller) finish(id string, status types.ExecutionStatus, err error) Execution {
	var snap Execution
	if !c.update(id, func(e *Execution) {
		e.Status = status
		e.Err = err
		e.FinishedAt = time.Now()
		snap = *e
	}) {
		return c.Snapshot()
	}

	outcome := string(status)
	if err != nil {
		outcome = string(swaperr.KindOf(err))
	}
	c.metrics.Execution(outcome, snap.FinishedAt.Sub(snap.StartedAt))
	c.notify(snap)
	return snap
}

func (c *Controller) fail(id string, err error) (Execution, error) {
	c.logger.Error("Swap failed", "execution", id, "kind", swaperr.KindOf(err), "err", err)
	snap := c.finish(id, types.StatusError, err)
	return snap, err
}

func (c *Controller) notify(snap Execution) {
	if c.onStatus != nil {
		c.onStatus(snap)
	}
}

func (c *Controller) invalidate(p Params) {
	if c.invalidator == nil {
		return
	}
	keys := InvalidationKeys(c.cfg.Account, p.Input, p.Output)
	c.invalidator.Invalidate(keys...)
	time.AfterFunc(c.cfg.InvalidationDelay, func() {
		c.invalidator.Invalidate(keys...)
	})
}
