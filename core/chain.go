// Package core hosts the virtual chain: it owns the journaled state, the
// coprocessor client and every engine, and runs each mutating operation as
// one atomic execution.
package core

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	coreerrors "vchain/core/errors"
	"vchain/core/events"
	"vchain/core/state"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/governance"
	"vchain/native/ledger"
	"vchain/native/staking"
	"vchain/native/treasury"
	"vchain/native/validators"
	"vchain/native/vblock"
	"vchain/native/verifier"
	"vchain/observability"
	"vchain/observability/logging"
	telemetry "vchain/observability/otel"
	"vchain/storage"
)

var metadataKey = []byte("chain/metadata")

// Well-known engine accounts on the ledger.
var (
	LedgerAddress   = crypto.DeriveAddress("vchain/ledger")
	TreasuryAddress = crypto.DeriveAddress("vchain/treasury")
	StakingAddress  = crypto.DeriveAddress("vchain/staking")
)

// Methods lists the operations the chain serves itself. Fallback
// implementations cannot take these names.
var Methods = []string{
	"initialize", "pay", "grant_balance", "balance", "sync_nonce", "supply",
	"create_block", "finalize_block", "finalize_block_attested",
	"submit_transaction", "include_transaction", "verify_transaction",
	"deposit_eth", "deposit_token", "deposit_ledger", "request_withdrawal",
	"execute_withdrawal", "allocate", "grant_balances", "add_governor",
	"remove_governor", "transfer_ownership",
	"stake", "unstake", "claim_rewards",
	"propose_admin", "accept_admin", "reject_admin",
	"propose_implementation", "accept_implementation", "reject_implementation",
	"add_validator", "remove_validator", "set_treasury", "set_staking",
	"set_coprocessor", "set_token_allow_list", "allow_token",
	"set_signature_verification", "set_staker", "register_identity",
	"set_staking_apr", "set_staking_min_lock", "credit",
}

// Options configures a Chain.
type Options struct {
	DB          storage.Database
	Coprocessor fhe.Coprocessor
	Emitter     events.Emitter
	Logger      *slog.Logger
	Now         func() time.Time
	Height      func() uint64
	// Bonus picks the relay reward multiplier. Nil keeps the ledger default.
	Bonus ledger.BonusSource

	// AllowMigrate tolerates state written by a different schema version.
	AllowMigrate bool
}

// Chain is the virtual chain host.
type Chain struct {
	stateMu sync.Mutex

	state    *state.Manager
	cop      *fhe.Deferred
	buffer   *events.Buffer
	onCommit []func()
	sink     events.Emitter
	logger   *slog.Logger
	nowFn    func() time.Time
	heightF  func() uint64

	ledger     *ledger.Engine
	validators *validators.Set
	verifier   *verifier.TrieVerifier
	vblock     *vblock.Engine
	treasury   *treasury.Engine
	staking    *staking.Engine
	governance *governance.Engine
}

// NewChain wires every engine onto opts.DB.
func NewChain(opts Options) (*Chain, error) {
	if opts.DB == nil {
		return nil, coreerrors.Configuration("chain: database required")
	}
	if opts.Coprocessor == nil {
		return nil, coreerrors.Configuration("chain: coprocessor required")
	}
	manager := state.NewManager(opts.DB)
	if err := state.EnsureStateVersion(manager, opts.AllowMigrate); err != nil {
		return nil, err
	}
	c := &Chain{
		state:   manager,
		cop:     fhe.NewDeferred(opts.Coprocessor),
		buffer:  &events.Buffer{},
		sink:    opts.Emitter,
		logger:  opts.Logger,
		nowFn:   opts.Now,
		heightF: opts.Height,
	}
	if c.sink == nil {
		c.sink = events.NoopEmitter{}
	}
	if c.logger == nil {
		c.logger = logging.Discard()
	}
	if c.nowFn == nil {
		c.nowFn = func() time.Time { return time.Now().UTC() }
	}
	now := func() time.Time { return c.nowFn() }

	c.validators = validators.NewSet(c.state)
	c.verifier = verifier.New(c.validators.Members)

	c.ledger = ledger.NewEngine(LedgerAddress)
	c.ledger.SetState(c.state)
	c.ledger.SetCoprocessor(c.cop)
	c.ledger.SetEmitter(c.buffer)
	c.ledger.SetNowFunc(now)
	c.ledger.SetHeightFunc(c.height)
	c.ledger.SetBonusSource(opts.Bonus)

	c.vblock = vblock.NewEngine()
	c.vblock.SetState(c.state)
	c.vblock.SetCoprocessor(c.cop)
	c.vblock.SetValidators(c.validators)
	c.vblock.SetVerifier(c.verifier)
	c.vblock.SetChainNameFunc(func() string {
		meta, _ := c.metadata()
		return meta.Name
	})
	c.vblock.SetEmitter(c.buffer)
	c.vblock.SetNowFunc(now)

	c.treasury = treasury.NewEngine(TreasuryAddress)
	c.treasury.SetState(c.state)
	c.treasury.SetCoprocessor(c.cop)
	c.treasury.SetLedger(c.ledger)
	c.treasury.SetEmitter(c.buffer)
	c.treasury.SetNowFunc(now)

	c.staking = staking.NewEngine(StakingAddress)
	c.staking.SetState(c.state)
	c.staking.SetCoprocessor(c.cop)
	c.staking.SetLedger(c.ledger)
	c.staking.SetEmitter(c.buffer)
	c.staking.SetNowFunc(now)
	c.staking.SetHeightFunc(c.height)

	c.ledger.SetStakerSet(ledger.StakerSetFunc(c.staking.HasActiveStake))

	c.governance = governance.NewEngine()
	c.governance.SetState(c.state)
	c.governance.SetEmitter(c.buffer)
	c.governance.SetNowFunc(now)
	c.governance.SetNamespaceFunc(func(prefix string) governance.Store {
		return state.NewNamespace(c.state, prefix)
	})
	c.governance.Reserve(Methods...)
	return c, nil
}

// SetNowFunc overrides the host clock. Nil restores the default UTC clock.
func (c *Chain) SetNowFunc(now func() time.Time) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	c.nowFn = now
}

// SetHeightFunc overrides the host height. Nil restores the height derived
// from genesis time and block time.
func (c *Chain) SetHeightFunc(height func() uint64) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.heightF = height
}

// SetWithdrawalDelay overrides the treasury withdrawal delay.
func (c *Chain) SetWithdrawalDelay(d time.Duration) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	c.treasury.SetWithdrawalDelay(d)
}

// RegisterImplementation adds a fallback implementation to the dispatch
// table. It is meant to be called at boot.
func (c *Chain) RegisterImplementation(addr crypto.Address, impl governance.Implementation) error {
	return c.governance.Register(addr, impl)
}

// Implementations lists the registered fallback implementations.
func (c *Chain) Implementations() []crypto.Address {
	return c.governance.Registered()
}

// height is elapsed seconds since genesis divided by the block time unless
// a height function was injected.
func (c *Chain) height() uint64 {
	if c.heightF != nil {
		return c.heightF()
	}
	meta, err := c.metadata()
	if err != nil || !meta.Initialized || meta.BlockTime == 0 {
		return 0
	}
	now := uint64(c.nowFn().Unix())
	if now <= meta.GenesisTime {
		return 0
	}
	return (now - meta.GenesisTime) / meta.BlockTime
}

// Height returns the current host height.
func (c *Chain) Height() uint64 {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.height()
}

func (c *Chain) metadata() (Metadata, error) {
	var meta Metadata
	_, err := c.state.KVGet(metadataKey, &meta)
	return meta, err
}

// Metadata returns the chain metadata.
func (c *Chain) Metadata() (Metadata, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.metadata()
}

// execute runs fn as one atomic chain operation. On error every state
// write, buffered event, queued grant and commit hook is dropped. On success
// grants are flushed, state committed, hooks run and events delivered, in
// that order.
func (c *Chain) execute(ctx context.Context, module, method string, fn func(ctx context.Context) error) (err error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	ctx, span := telemetry.Tracer().Start(ctx, module+"."+method)
	span.SetAttributes(attribute.String("vchain.module", module), attribute.String("vchain.method", method))
	start := time.Now()
	defer func() {
		kind := coreerrors.Kind(err)
		observability.ModuleMetrics().Observe(module, method, kind, time.Since(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, kind)
			c.logger.Warn("chain operation rejected",
				slog.String("module", module),
				slog.String("method", method),
				slog.String("kind", kind),
				slog.String("error", err.Error()))
		} else {
			c.logger.Debug("chain operation applied",
				slog.String("module", module),
				slog.String("method", method),
				slog.Duration("duration", time.Since(start)))
		}
		span.End()
	}()

	snapshot := c.state.Snapshot()
	c.buffer.Reset()
	c.onCommit = nil
	rollback := func() {
		c.state.RevertToSnapshot(snapshot)
		c.cop.Discard()
		c.buffer.Reset()
		c.onCommit = nil
	}
	if err = fn(ctx); err != nil {
		rollback()
		return err
	}
	if err = c.cop.Flush(ctx); err != nil {
		rollback()
		return err
	}
	if err = c.state.Commit(); err != nil {
		rollback()
		c.state.Discard()
		return err
	}
	for _, fn := range c.onCommit {
		fn()
	}
	c.onCommit = nil
	c.buffer.Flush(c.sink)
	return nil
}

// afterCommit defers fn until the running operation commits. A failed
// operation drops it.
func (c *Chain) afterCommit(fn func()) {
	c.onCommit = append(c.onCommit, fn)
}

// view runs a read under the chain lock against committed state.
func (c *Chain) view(fn func() error) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return fn()
}

func (c *Chain) requireInitialized() error {
	meta, err := c.metadata()
	if err != nil {
		return err
	}
	if !meta.Initialized {
		return coreerrors.State("chain: not initialized")
	}
	return nil
}
