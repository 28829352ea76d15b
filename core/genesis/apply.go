package genesis

import (
	"context"
	"fmt"
	"time"

	"vchain/core"
	"vchain/crypto"
)

// Apply initializes chain from spec with admin as the governance admin and
// treasury owner. Each step is its own chain operation; a failure part way
// leaves the earlier steps applied and is reported with the failing step.
func Apply(ctx context.Context, chain *core.Chain, admin crypto.Address, spec *GenesisSpec) error {
	if chain == nil || spec == nil {
		return fmt.Errorf("genesis: chain and spec must not be nil")
	}
	if admin.IsZero() {
		return fmt.Errorf("genesis: admin must not be zero")
	}

	params := core.InitParams{
		Name:           spec.Name,
		ChainID:        spec.ChainID,
		PrincipalToken: spec.Principal(),
		GasLimit:       spec.GasLimit,
		BlockTime:      time.Duration(spec.BlockTimeSeconds) * time.Second,
		TotalSupply:    spec.Supply.Total,
		EraThreshold:   spec.Supply.EraThreshold,
		RewardPerTx:    spec.Supply.RewardPerTx,
	}
	if err := chain.Initialize(ctx, admin, params); err != nil {
		return fmt.Errorf("genesis: initialize: %w", err)
	}

	validators, err := spec.ValidatorAddresses()
	if err != nil {
		return err
	}
	for _, v := range validators {
		if err := chain.AddValidator(ctx, admin, v); err != nil {
			return fmt.Errorf("genesis: validator %s: %w", v.Hex(), err)
		}
	}

	governors, err := spec.GovernorAddresses()
	if err != nil {
		return err
	}
	for _, g := range governors {
		if g == admin {
			continue
		}
		if err := chain.AddGovernor(ctx, admin, g); err != nil {
			return fmt.Errorf("genesis: governor %s: %w", g.Hex(), err)
		}
	}

	stakers, err := spec.StakerAddresses()
	if err != nil {
		return err
	}
	for _, s := range stakers {
		if err := chain.SetStaker(ctx, admin, s, true); err != nil {
			return fmt.Errorf("genesis: staker %s: %w", s.Hex(), err)
		}
	}

	tokens, err := spec.AllowedTokens()
	if err != nil {
		return err
	}
	for _, token := range tokens {
		if err := chain.AllowToken(ctx, admin, token, true); err != nil {
			return fmt.Errorf("genesis: allow token %s: %w", token.Hex(), err)
		}
	}
	if spec.AllowList.Enabled {
		if err := chain.SetTokenAllowList(ctx, admin, true); err != nil {
			return fmt.Errorf("genesis: allow list: %w", err)
		}
	}
	if spec.Signatures {
		if err := chain.SetSignatureVerification(ctx, admin, true); err != nil {
			return fmt.Errorf("genesis: signatures: %w", err)
		}
	}

	identities, err := spec.ResolvedIdentities()
	if err != nil {
		return err
	}
	for _, id := range identities {
		if err := chain.RegisterIdentity(ctx, admin, id.Alias, id.Address); err != nil {
			return fmt.Errorf("genesis: identity %q: %w", id.Alias, err)
		}
	}

	if st := spec.Staking; st != nil {
		if st.APR != nil {
			if err := chain.SetStakingAPR(ctx, admin, *st.APR); err != nil {
				return fmt.Errorf("genesis: staking apr: %w", err)
			}
		}
		if st.MinLockSeconds != nil {
			d := time.Duration(*st.MinLockSeconds) * time.Second
			if err := chain.SetStakingMinLockPeriod(ctx, admin, d); err != nil {
				return fmt.Errorf("genesis: staking lock: %w", err)
			}
		}
	}

	allocs, err := spec.Allocations()
	if err != nil {
		return err
	}
	for _, a := range allocs {
		if err := chain.Credit(ctx, admin, a.Account, a.Token, a.Amount); err != nil {
			return fmt.Errorf("genesis: alloc %s/%s: %w", a.Account.Hex(), a.Token.Hex(), err)
		}
	}
	return nil
}
