package core

import (
	"context"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/ledger"
)

// Metadata is the persisted chain identity.
type Metadata struct {
	Name           string
	ChainID        uint64
	PrincipalToken crypto.Address
	GasLimit       uint64
	GenesisTime    uint64
	BlockTime      uint64
	Initialized    bool
}

// InitParams are the one-time chain parameters.
type InitParams struct {
	Name           string
	ChainID        uint64
	PrincipalToken crypto.Address
	GasLimit       uint64
	BlockTime      time.Duration
	TotalSupply    uint64
	EraThreshold   uint64
	RewardPerTx    uint64
}

// Initialize sets the chain up once. The caller becomes the governance
// admin and the treasury owner.
func (c *Chain) Initialize(ctx context.Context, caller crypto.Address, p InitParams) error {
	return c.execute(ctx, "chain", "initialize", func(ctx context.Context) error {
		meta, err := c.metadata()
		if err != nil {
			return err
		}
		if meta.Initialized {
			return coreerrors.State("chain: already initialized")
		}
		if p.Name == "" || p.ChainID == 0 || p.PrincipalToken.IsZero() {
			return coreerrors.Configuration("chain: name, chain id and principal token are required")
		}
		if p.BlockTime <= 0 {
			p.BlockTime = time.Second
		}
		if err := c.governance.Bootstrap(caller); err != nil {
			return err
		}
		if err := c.treasury.Bootstrap(caller); err != nil {
			return err
		}
		if err := c.ledger.PutSettings(ledger.Settings{
			ChainID:        p.ChainID,
			PrincipalToken: p.PrincipalToken,
			Treasury:       c.treasury.Address(),
			Staking:        c.staking.Address(),
		}); err != nil {
			return err
		}
		if err := c.ledger.InitializeSupply(ctx, p.TotalSupply, p.EraThreshold, p.RewardPerTx); err != nil {
			return err
		}
		if err := c.staking.SetBlocksPerYear(ctx, blocksPerYear(p.BlockTime)); err != nil {
			return err
		}
		meta = Metadata{
			Name:           p.Name,
			ChainID:        p.ChainID,
			PrincipalToken: p.PrincipalToken,
			GasLimit:       p.GasLimit,
			GenesisTime:    uint64(c.nowFn().Unix()),
			BlockTime:      uint64(p.BlockTime / time.Second),
			Initialized:    true,
		}
		if meta.BlockTime == 0 {
			meta.BlockTime = 1
		}
		if err := c.state.KVPut(metadataKey, meta); err != nil {
			return err
		}
		c.buffer.Emit(wrap(newInitializedEvent(meta, caller)))
		return nil
	})
}

// blocksPerYear converts the block time into the staking rate denominator.
func blocksPerYear(blockTime time.Duration) uint64 {
	n := uint64(365 * 24 * time.Hour / blockTime)
	if n == 0 {
		return 1
	}
	return n
}

// admin runs fn as an admin-only operation on an initialized chain.
func (c *Chain) admin(ctx context.Context, caller crypto.Address, method string, fn func(ctx context.Context) error) error {
	return c.execute(ctx, "admin", method, func(ctx context.Context) error {
		if err := c.requireInitialized(); err != nil {
			return err
		}
		if err := c.governance.RequireAdmin(caller); err != nil {
			return err
		}
		if err := fn(ctx); err != nil {
			return err
		}
		c.buffer.Emit(wrap(newAdminEvent(method, caller)))
		return nil
	})
}

// AddValidator admits addr to the validator set.
func (c *Chain) AddValidator(ctx context.Context, caller, addr crypto.Address) error {
	return c.admin(ctx, caller, "add_validator", func(context.Context) error {
		return c.validators.Add(addr)
	})
}

// RemoveValidator drops addr from the validator set.
func (c *Chain) RemoveValidator(ctx context.Context, caller, addr crypto.Address) error {
	return c.admin(ctx, caller, "remove_validator", func(context.Context) error {
		return c.validators.Remove(addr)
	})
}

// SetTreasury moves the treasury to a new ledger account. Every ledger
// token the vault holds follows it, and the vault acts as addr from then on.
func (c *Chain) SetTreasury(ctx context.Context, caller, addr crypto.Address) error {
	return c.admin(ctx, caller, "set_treasury", func(ctx context.Context) error {
		settings, err := c.privilegedTarget(addr)
		if err != nil {
			return err
		}
		tokens, err := c.treasury.LedgerTokens()
		if err != nil {
			return err
		}
		for _, token := range tokens {
			if err := c.ledger.MoveBalance(ctx, settings.Treasury, addr, token); err != nil {
				return err
			}
		}
		return c.ledger.UpdateSettings(func(s *ledger.Settings) error {
			s.Treasury = addr
			return nil
		})
	})
}

// SetStaking moves the staking pool to a new ledger account together with
// the staked principal it holds.
func (c *Chain) SetStaking(ctx context.Context, caller, addr crypto.Address) error {
	return c.admin(ctx, caller, "set_staking", func(ctx context.Context) error {
		settings, err := c.privilegedTarget(addr)
		if err != nil {
			return err
		}
		if err := c.ledger.MoveBalance(ctx, settings.Staking, addr, settings.PrincipalToken); err != nil {
			return err
		}
		return c.ledger.UpdateSettings(func(s *ledger.Settings) error {
			s.Staking = addr
			return nil
		})
	})
}

// privilegedTarget checks addr can become a privileged engine account. The
// treasury and staking accounts must stay distinct from each other and from
// the ledger itself.
func (c *Chain) privilegedTarget(addr crypto.Address) (ledger.Settings, error) {
	settings, err := c.ledger.Settings()
	if err != nil {
		return settings, err
	}
	if addr.IsZero() {
		return settings, coreerrors.Configuration("chain: zero privileged account")
	}
	if addr == settings.Treasury || addr == settings.Staking || addr == c.ledger.Address() {
		return settings, coreerrors.Configuration("chain: %s is already a privileged account", addr.Hex())
	}
	return settings, nil
}

// SetCoprocessorAdapter points the chain at a different coprocessor. The
// switch happens only once the operation has committed.
func (c *Chain) SetCoprocessorAdapter(ctx context.Context, caller crypto.Address, cop fhe.Coprocessor) error {
	return c.admin(ctx, caller, "set_coprocessor", func(context.Context) error {
		if cop == nil {
			return coreerrors.Configuration("chain: nil coprocessor")
		}
		c.afterCommit(func() { c.cop.Swap(cop) })
		return nil
	})
}

// SetTokenAllowList toggles token allow-list enforcement for payments.
func (c *Chain) SetTokenAllowList(ctx context.Context, caller crypto.Address, enabled bool) error {
	return c.admin(ctx, caller, "set_token_allow_list", func(context.Context) error {
		return c.ledger.UpdateSettings(func(s *ledger.Settings) error {
			s.AllowListEnabled = enabled
			return nil
		})
	})
}

// AllowToken adds or removes token from the payment allow-list.
func (c *Chain) AllowToken(ctx context.Context, caller, token crypto.Address, allowed bool) error {
	return c.admin(ctx, caller, "allow_token", func(context.Context) error {
		return c.ledger.AllowToken(token, allowed)
	})
}

// SetSignatureVerification toggles signature checks on payments.
func (c *Chain) SetSignatureVerification(ctx context.Context, caller crypto.Address, enabled bool) error {
	return c.admin(ctx, caller, "set_signature_verification", func(context.Context) error {
		return c.ledger.UpdateSettings(func(s *ledger.Settings) error {
			s.SignaturesEnabled = enabled
			return nil
		})
	})
}

// SetStaker sets the admin staker flag on addr.
func (c *Chain) SetStaker(ctx context.Context, caller, addr crypto.Address, staker bool) error {
	return c.admin(ctx, caller, "set_staker", func(context.Context) error {
		return c.ledger.SetStaker(addr, staker)
	})
}

// RegisterIdentity binds a payment identity to addr.
func (c *Chain) RegisterIdentity(ctx context.Context, caller crypto.Address, alias string, addr crypto.Address) error {
	return c.admin(ctx, caller, "register_identity", func(context.Context) error {
		return c.ledger.RegisterIdentity(alias, addr)
	})
}

// SetStakingAPR changes the staking reward rate.
func (c *Chain) SetStakingAPR(ctx context.Context, caller crypto.Address, apr uint64) error {
	return c.admin(ctx, caller, "set_staking_apr", func(ctx context.Context) error {
		return c.staking.SetAPR(ctx, apr)
	})
}

// SetStakingMinLockPeriod changes the shortest accepted staking lock.
func (c *Chain) SetStakingMinLockPeriod(ctx context.Context, caller crypto.Address, d time.Duration) error {
	return c.admin(ctx, caller, "set_staking_min_lock", func(ctx context.Context) error {
		return c.staking.SetMinLockPeriod(ctx, d)
	})
}

// Credit funds to with amount of token out of nothing. It serves genesis
// allocations and is routed through the treasury's privileged ledger entry.
func (c *Chain) Credit(ctx context.Context, caller, to, token crypto.Address, amount uint64) error {
	return c.admin(ctx, caller, "credit", func(ctx context.Context) error {
		settings, err := c.ledger.Settings()
		if err != nil {
			return err
		}
		h, err := fhe.NewEvaluator(ctx, c.cop).Const(amount)
		if err != nil {
			return err
		}
		return c.ledger.PrivilegedCredit(ctx, settings.Treasury, to, token, h)
	})
}
