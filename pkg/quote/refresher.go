package quote

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"savings-swap/pkg/types"
)

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultDebounce        = 500 * time.Millisecond
)

// Quoter is what the refresher re-fetches from
type Quoter interface {
	GetQuote(ctx context.Context, input, output types.Token, inputAmount *big.Int, savingsBps uint32) (*types.SwapQuote, error)
}

// Request is the input the refresher keeps quoting
type Request struct {
	Input      types.Token
	Output     types.Token
	Amount     *big.Int
	SavingsBps uint32
}

// Refresher keeps the latest quote for the current request fresh: it
// re-fetches every interval and once more after input settles for the
// debounce delay. It never touches executions.
type Refresher struct {
	quoter   Quoter
	interval time.Duration
	debounce time.Duration
	onQuote  func(*types.SwapQuote)
	logger   log.Logger

	mu       sync.RWMutex
	running  bool
	stopChan chan struct{}
	changed  chan struct{}
	request  *Request
	latest   *types.SwapQuote
	lastErr  error
}

// NewRefresher creates a refresher. onQuote, when set, is called with every
// new quote from the refresher goroutine.
func NewRefresher(quoter Quoter, interval, debounce time.Duration, onQuote func(*types.SwapQuote)) *Refresher {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Refresher{
		quoter:   quoter,
		interval: interval,
		debounce: debounce,
		onQuote:  onQuote,
		logger:   log.Root().With("component", "refresher"),
		changed:  make(chan struct{}, 1),
	}
}

// Start begins refreshing in the background
func (r *Refresher) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return fmt.Errorf("refresher is already running")
	}
	r.running = true
	r.stopChan = make(chan struct{})
	go r.run(ctx, r.stopChan)
	return nil
}

// Stop halts refreshing
func (r *Refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return
	}
	r.running = false
	close(r.stopChan)
}

// Update replaces the request. The quote is re-fetched once input has been
// stable for the debounce delay.
func (r *Refresher) Update(req Request) {
	r.mu.Lock()
	r.request = &req
	r.latest = nil
	r.mu.Unlock()

	select {
	case r.changed <- struct{}{}:
	default:
	}
}

// Latest returns the most recent quote for the current request, if any
func (r *Refresher) Latest() *types.SwapQuote {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// Err returns the error of the last refresh attempt
func (r *Refresher) Err() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func (r *Refresher) run(ctx context.Context, stop chan struct{}) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	// armed by the first Update; Stop leaves no stale tick behind
	debounce := time.NewTimer(r.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-r.changed:
			debounce.Reset(r.debounce)
		case <-debounce.C:
			r.refresh(ctx)
		case <-ticker.C:
			r.refresh(ctx)
		}
	}
}

func (r *Refresher) refresh(ctx context.Context) {
	r.mu.RLock()
	req := r.request
	r.mu.RUnlock()
	if req == nil {
		return
	}

	q, err := r.quoter.GetQuote(ctx, req.Input, req.Output, req.Amount, req.SavingsBps)

	r.mu.Lock()
	if r.request != req {
		// the request changed while quoting; the debounce will pick it up
		r.mu.Unlock()
		return
	}
	r.lastErr = err
	if err == nil {
		r.latest = q
	}
	r.mu.Unlock()

	if err != nil {
		r.logger.Warn("Quote refresh failed", "in", req.Input, "out", req.Output, "err", err)
		return
	}
	if q != nil && r.onQuote != nil {
		r.onQuote(q)
	}
}
