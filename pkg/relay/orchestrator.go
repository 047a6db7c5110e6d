package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"

	"savings-swap/pkg/metrics"
	"savings-swap/pkg/sponsor"
	"savings-swap/pkg/swaperr"
	"savings-swap/pkg/types"
)

// FactsSource reads the facts sponsorship policies are evaluated against
type FactsSource interface {
	Facts(ctx context.Context, account common.Address) (*sponsor.Facts, error)
}

// Orchestrator drives calls through the relay: build, sponsor, send and
// await. Every failure it returns is a *swaperr.Error.
type Orchestrator struct {
	account        *Account
	relay          Relay
	sponsor        *sponsor.Resolver
	facts          FactsSource
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         log.Logger
	metrics        *metrics.Registry
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithSponsor enables gas sponsorship resolution
func WithSponsor(resolver *sponsor.Resolver, facts FactsSource) Option {
	return func(o *Orchestrator) {
		o.sponsor = resolver
		o.facts = facts
	}
}

// WithConfirmTimeout bounds Await
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.confirmTimeout = d
		}
	}
}

// WithPollInterval sets the receipt polling interval
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithLogger installs a custom logger
func WithLogger(l log.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithMetrics records stage outcomes in the registry
func WithMetrics(m *metrics.Registry) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// NewOrchestrator creates an orchestrator for account. A nil or incomplete
// account is accepted; submissions then fail with AccountNotReady.
func NewOrchestrator(account *Account, relay Relay, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		account:        account,
		relay:          relay,
		confirmTimeout: 60 * time.Second,
		pollInterval:   2 * time.Second,
		logger:         log.Root().With("component", "orchestrator"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// Account returns the account identity operations are sent from
func (o *Orchestrator) Account() *Account {
	return o.account
}

type submitConfig struct {
	kind sponsor.OperationKind
}

// SubmitOption configures one submission
type SubmitOption func(*submitConfig)

// WithKind sets the operation kind used for sponsorship
func WithKind(kind sponsor.OperationKind) SubmitOption {
	return func(c *submitConfig) {
		c.kind = kind
	}
}

// Submit relays a single call and waits for its receipt
func (o *Orchestrator) Submit(ctx context.Context, call Call, opts ...SubmitOption) (*types.OperationHandle, error) {
	return o.SubmitBatch(ctx, []Call{call}, opts...)
}

// SubmitBatch relays calls as one atomic operation and waits for its receipt
func (o *Orchestrator) SubmitBatch(ctx context.Context, calls []Call, opts ...SubmitOption) (*types.OperationHandle, error) {
	handle, err := o.Start(ctx, calls, opts...)
	if err != nil {
		return handle, err
	}
	return o.Await(ctx, handle)
}

// Start builds, sponsors and sends the operation. The returned handle carries
// the operation id as soon as the relay accepted it.
func (o *Orchestrator) Start(ctx context.Context, calls []Call, opts ...SubmitOption) (*types.OperationHandle, error) {
	if !o.account.Ready() {
		return nil, swaperr.Newf(swaperr.KindAccountNotReady, "abstracted account is not initialized")
	}
	if len(calls) == 0 {
		return nil, swaperr.Newf(swaperr.KindInvalidInput, "no calls to submit")
	}

	cfg := submitConfig{kind: sponsor.OpSwap}
	if len(calls) > 1 {
		cfg.kind = sponsor.OpBatch
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	env, err := o.relay.Build(ctx, o.account, calls)
	if err != nil {
		return nil, o.fail("build", err)
	}
	o.metrics.Operation("build", "ok")

	if o.sponsor != nil {
		facts := o.accountFacts(ctx, env)
		kind := cfg.kind
		var decision *types.SponsorshipDecision
		if !env.Deployed {
			// deployment rides along with the first operation; fall back to
			// the operation's own policies when no setup policy applies
			decision = o.sponsor.Resolve(facts, sponsor.OpFirstTimeSetup, env.GasEstimate())
			if decision.Mode != types.SponsorshipNone {
				kind = sponsor.OpFirstTimeSetup
			}
		}
		if decision == nil || decision.Mode == types.SponsorshipNone {
			decision = o.sponsor.Resolve(facts, kind, env.GasEstimate())
		}
		if err := o.relay.Sponsor(ctx, env, decision); err != nil {
			return nil, o.fail("sponsor", err)
		}
		o.logger.Debug("Sponsorship resolved", "kind", kind, "mode", decision.Mode, "policy", decision.Policy)
	}

	opID, err := o.relay.Send(ctx, env)
	if err != nil {
		return nil, o.fail("send", err)
	}
	o.metrics.Operation("send", "ok")
	o.logger.Info("Operation submitted", "operation", opID, "kind", cfg.kind, "calls", len(calls))
	return types.Submitted(opID), nil
}

// Await polls the relay for the handle's receipt until it arrives or the
// confirmation timeout expires. On failure the handle keeps whatever ids were
// captured.
func (o *Orchestrator) Await(ctx context.Context, handle *types.OperationHandle) (*types.OperationHandle, error) {
	if handle == nil || handle.OperationID == "" {
		return handle, swaperr.Newf(swaperr.KindInvalidInput, "no operation to await")
	}
	ctx, cancel := context.WithTimeout(ctx, o.confirmTimeout)
	defer cancel()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := o.relay.Receipt(ctx, handle.OperationID)
		switch {
		case err != nil && ctx.Err() == nil:
			o.logger.Warn("Receipt poll failed", "operation", handle.OperationID, "err", err)
		case receipt != nil:
			return o.settle(handle, receipt)
		}

		select {
		case <-ctx.Done():
			handle.Phase = types.PhaseFailed
			o.metrics.Operation("confirm", "timeout")
			if errors.Is(ctx.Err(), context.Canceled) {
				return handle, swaperr.New(swaperr.KindUserCancelled, ctx.Err())
			}
			o.logger.Warn("Confirmation timed out", "operation", handle.OperationID, "timeout", o.confirmTimeout)
			return handle, swaperr.New(swaperr.KindConfirmationTimeout,
				fmt.Errorf("%w after %s, check the explorer for operation %s", ErrNoReceipt, o.confirmTimeout, handle.OperationID))
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) settle(handle *types.OperationHandle, receipt *Receipt) (*types.OperationHandle, error) {
	if !receipt.Success {
		handle.SettlementTxID = receipt.TxHash
		handle.BlockNumber = receipt.BlockNumber
		handle.Phase = types.PhaseFailed
		o.metrics.Operation("confirm", "reverted")
		o.logger.Error("Operation reverted", "operation", handle.OperationID, "reason", receipt.Reason)
		return handle, swaperr.Classify(errors.New(receipt.Reason))
	}
	handle.Confirm(receipt.TxHash, receipt.BlockNumber)
	o.metrics.Operation("confirm", "ok")
	if receipt.TxHash == nil {
		o.logger.Info("Operation confirmed without settlement id", "operation", handle.OperationID)
	} else {
		o.logger.Info("Operation confirmed", "operation", handle.OperationID, "tx", receipt.TxHash.Hex(), "block", receipt.BlockNumber)
	}
	return handle, nil
}

func (o *Orchestrator) accountFacts(ctx context.Context, env *Envelope) *sponsor.Facts {
	fallback := &sponsor.Facts{Address: o.account.Sender, Deployed: env.Deployed}
	if o.facts == nil {
		return fallback
	}
	facts, err := o.facts.Facts(ctx, o.account.Sender)
	if err != nil {
		o.logger.Warn("Failed to read account facts", "account", o.account.Sender, "err", err)
		return fallback
	}
	facts.Deployed = env.Deployed
	return facts
}

func (o *Orchestrator) fail(stage string, err error) error {
	classified := swaperr.Classify(err)
	o.metrics.Operation(stage, string(swaperr.KindOf(classified)))
	o.logger.Error("Operation failed", "stage", stage, "kind", swaperr.KindOf(classified), "err", err)
	return classified
}
