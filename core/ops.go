package core

import (
	"context"
	"errors"
	"math/big"
	"time"

	coreerrors "vchain/core/errors"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/native/ledger"
	"vchain/native/staking"
	"vchain/native/treasury"
	"vchain/native/vblock"
)

// Pay settles a payment through the encrypted ledger.
func (c *Chain) Pay(ctx context.Context, caller crypto.Address, req *ledger.PayRequest) (*ledger.Receipt, error) {
	var receipt *ledger.Receipt
	err := c.execute(ctx, "ledger", "pay", func(ctx context.Context) error {
		if err := c.requireInitialized(); err != nil {
			return err
		}
		r, err := c.ledger.Pay(ctx, caller, req)
		receipt = r
		return err
	})
	if err != nil {
		return nil, err
	}
	return receipt, nil
}

// GrantBalance shares decrypt capability on caller's balance with viewer.
func (c *Chain) GrantBalance(ctx context.Context, caller, token, viewer crypto.Address) error {
	return c.execute(ctx, "ledger", "grant_balance", func(ctx context.Context) error {
		return c.ledger.GrantBalance(ctx, caller, token, viewer)
	})
}

// Balance returns the encrypted balance handle of account in token.
func (c *Chain) Balance(account, token crypto.Address) (h fhe.Handle, err error) {
	err = c.view(func() error {
		h, err = c.ledger.Balance(account, token)
		return err
	})
	return h, err
}

// SyncNonce returns the next expected sync nonce of addr.
func (c *Chain) SyncNonce(addr crypto.Address) (n uint64, err error) {
	err = c.view(func() error {
		n, err = c.ledger.Nonces().SyncNonce(addr)
		return err
	})
	return n, err
}

const decryptPollInterval = 5 * time.Millisecond

// ResolveIdentity returns the address bound to a payment identity.
func (c *Chain) ResolveIdentity(alias string) (addr crypto.Address, err error) {
	err = c.view(func() error {
		addr, err = c.ledger.ResolveIdentity(alias)
		return err
	})
	return addr, err
}

// IdentityOf returns the payment identity bound to addr, if any.
func (c *Chain) IdentityOf(addr crypto.Address) (alias string, ok bool, err error) {
	err = c.view(func() error {
		alias, ok, err = c.ledger.Identities().AliasOf(addr)
		return err
	})
	return alias, ok, err
}

// Decrypt asks the coprocessor to decrypt h for requester and waits for the
// plaintext. The coprocessor enforces the access list and its rate limits.
func (c *Chain) Decrypt(ctx context.Context, requester crypto.Address, h fhe.Handle) (*big.Int, error) {
	value, err := fhe.AwaitDecryption(ctx, c.cop, h, requester, decryptPollInterval)
	switch {
	case err == nil:
		return value, nil
	case errors.Is(err, fhe.ErrAccessDenied):
		return nil, coreerrors.Authorization("chain: %s may not decrypt %s", requester.Hex(), h.Hex())
	case errors.Is(err, fhe.ErrUnknownHandle):
		return nil, coreerrors.State("chain: unknown handle %s", h.Hex())
	case errors.Is(err, fhe.ErrThrottled):
		return nil, coreerrors.Timing("chain: decryption rate exceeded for %s", requester.Hex())
	default:
		return nil, err
	}
}

// Supply returns the encrypted supply handles.
func (c *Chain) Supply() (s ledger.Supply, err error) {
	err = c.view(func() error {
		s, err = c.ledger.Supply()
		return err
	})
	return s, err
}

// CreateBlock opens the next virtual block.
func (c *Chain) CreateBlock(ctx context.Context, caller crypto.Address, gasLimit fhe.ExternalInput, validators []crypto.Address) (uint64, error) {
	var seq uint64
	err := c.execute(ctx, "vblock", "create_block", func(ctx context.Context) (err error) {
		seq, err = c.vblock.CreateBlock(ctx, caller, gasLimit, validators)
		return err
	})
	return seq, err
}

// FinalizeBlock marks block seq final.
func (c *Chain) FinalizeBlock(ctx context.Context, caller crypto.Address, seq uint64) error {
	return c.execute(ctx, "vblock", "finalize_block", func(ctx context.Context) error {
		return c.vblock.FinalizeBlock(ctx, caller, seq)
	})
}

// FinalizeBlockWithAttestation finalizes block seq with a validator-signed
// content hash.
func (c *Chain) FinalizeBlockWithAttestation(ctx context.Context, caller crypto.Address, seq uint64, contentHash [32]byte, sigs [][]byte) error {
	return c.execute(ctx, "vblock", "finalize_block_attested", func(ctx context.Context) error {
		return c.vblock.FinalizeBlockWithAttestation(ctx, caller, seq, contentHash, sigs)
	})
}

// SubmitTransaction records a virtual transaction.
func (c *Chain) SubmitTransaction(ctx context.Context, caller, to crypto.Address, value fhe.ExternalInput, payload []byte) (uint64, error) {
	var seq uint64
	err := c.execute(ctx, "vblock", "submit_transaction", func(ctx context.Context) (err error) {
		seq, err = c.vblock.SubmitTransaction(ctx, caller, to, value, payload)
		return err
	})
	return seq, err
}

// IncludeTransaction places a transaction into an open block.
func (c *Chain) IncludeTransaction(ctx context.Context, caller crypto.Address, txSeq, blockSeq uint64, gasUsed fhe.ExternalInput) error {
	return c.execute(ctx, "vblock", "include_transaction", func(ctx context.Context) error {
		return c.vblock.IncludeTransaction(ctx, caller, txSeq, blockSeq, gasUsed)
	})
}

// VerifyTransaction returns an encrypted inclusion flag decryptable by
// caller.
func (c *Chain) VerifyTransaction(ctx context.Context, caller crypto.Address, txSeq, blockSeq uint64) (fhe.Handle, error) {
	var h fhe.Handle
	err := c.execute(ctx, "vblock", "verify_transaction", func(ctx context.Context) (err error) {
		h, err = c.vblock.VerifyTransaction(ctx, caller, txSeq, blockSeq)
		return err
	})
	return h, err
}

// Block returns virtual block seq.
func (c *Chain) Block(seq uint64) (b *vblock.Block, err error) {
	err = c.view(func() error {
		b, err = c.vblock.Block(seq)
		return err
	})
	return b, err
}

// Transaction returns virtual transaction seq.
func (c *Chain) Transaction(seq uint64) (tx *vblock.Transaction, err error) {
	err = c.view(func() error {
		tx, err = c.vblock.Transaction(seq)
		return err
	})
	return tx, err
}

// TransactionRoot returns the attestation root of block seq.
func (c *Chain) TransactionRoot(seq uint64) (root [32]byte, err error) {
	err = c.view(func() error {
		root, err = c.vblock.TransactionRoot(seq)
		return err
	})
	return root, err
}

// TransactionCount returns the sequence of the latest virtual transaction.
func (c *Chain) TransactionCount() (n uint64, err error) {
	err = c.view(func() error {
		n, err = c.vblock.TransactionCount()
		return err
	})
	return n, err
}

// TransactionProof returns the inclusion proof of txSeq under the
// attestation root of block blockSeq.
func (c *Chain) TransactionProof(txSeq, blockSeq uint64) (p *vblock.Proof, err error) {
	err = c.view(func() error {
		p, err = c.vblock.TransactionProof(txSeq, blockSeq)
		return err
	})
	return p, err
}

// Validators lists the current validator set.
func (c *Chain) Validators() (members []crypto.Address, err error) {
	err = c.view(func() error {
		members, err = c.validators.Members()
		return err
	})
	return members, err
}

// DepositETH records a native-currency treasury deposit.
func (c *Chain) DepositETH(ctx context.Context, caller crypto.Address, value *big.Int, amount fhe.ExternalInput) error {
	return c.execute(ctx, "treasury", "deposit_eth", func(ctx context.Context) error {
		return c.treasury.DepositETH(ctx, caller, value, amount)
	})
}

// DepositToken records an out-of-band token deposit into the treasury.
func (c *Chain) DepositToken(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput) error {
	return c.execute(ctx, "treasury", "deposit_token", func(ctx context.Context) error {
		return c.treasury.DepositToken(ctx, caller, token, amount)
	})
}

// DepositLedger moves ledger funds into the treasury.
func (c *Chain) DepositLedger(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput) error {
	return c.execute(ctx, "treasury", "deposit_ledger", func(ctx context.Context) error {
		return c.treasury.DepositLedger(ctx, caller, token, amount)
	})
}

// RequestWithdrawal queues a time-delayed treasury withdrawal.
func (c *Chain) RequestWithdrawal(ctx context.Context, caller, token crypto.Address, amount fhe.ExternalInput, recipient crypto.Address) (uint64, error) {
	var id uint64
	err := c.execute(ctx, "treasury", "request_withdrawal", func(ctx context.Context) (err error) {
		id, err = c.treasury.RequestWithdrawal(ctx, caller, token, amount, recipient)
		return err
	})
	return id, err
}

// ExecuteWithdrawal pays out a matured withdrawal.
func (c *Chain) ExecuteWithdrawal(ctx context.Context, caller crypto.Address, id uint64) error {
	return c.execute(ctx, "treasury", "execute_withdrawal", func(ctx context.Context) error {
		return c.treasury.ExecuteWithdrawal(ctx, caller, id)
	})
}

// Allocate earmarks treasury funds for purpose.
func (c *Chain) Allocate(ctx context.Context, caller, token crypto.Address, purpose string, amount fhe.ExternalInput) error {
	return c.execute(ctx, "treasury", "allocate", func(ctx context.Context) error {
		return c.treasury.Allocate(ctx, caller, token, purpose, amount)
	})
}

// GrantTreasuryBalances shares the treasury figures for token with viewer.
func (c *Chain) GrantTreasuryBalances(ctx context.Context, caller, token, viewer crypto.Address) error {
	return c.execute(ctx, "treasury", "grant_balances", func(ctx context.Context) error {
		return c.treasury.GrantBalances(ctx, caller, token, viewer)
	})
}

// AddGovernor grants treasury governor rights.
func (c *Chain) AddGovernor(ctx context.Context, caller, addr crypto.Address) error {
	return c.execute(ctx, "treasury", "add_governor", func(context.Context) error {
		return c.treasury.AddGovernor(caller, addr)
	})
}

// RemoveGovernor revokes treasury governor rights.
func (c *Chain) RemoveGovernor(ctx context.Context, caller, addr crypto.Address) error {
	return c.execute(ctx, "treasury", "remove_governor", func(context.Context) error {
		return c.treasury.RemoveGovernor(caller, addr)
	})
}

// TransferTreasuryOwnership hands the treasury to next.
func (c *Chain) TransferTreasuryOwnership(ctx context.Context, caller, next crypto.Address) error {
	return c.execute(ctx, "treasury", "transfer_ownership", func(context.Context) error {
		return c.treasury.TransferOwnership(caller, next)
	})
}

// TreasuryBalances returns the treasury figures for token.
func (c *Chain) TreasuryBalances(token crypto.Address) (b treasury.Balances, err error) {
	err = c.view(func() error {
		b, err = c.treasury.Balances(token)
		return err
	})
	return b, err
}

// Withdrawal returns treasury withdrawal id.
func (c *Chain) Withdrawal(id uint64) (w *treasury.Withdrawal, err error) {
	err = c.view(func() error {
		w, err = c.treasury.Withdrawal(id)
		return err
	})
	return w, err
}

// Allocation returns the treasury bucket for (token, purpose).
func (c *Chain) Allocation(token crypto.Address, purpose string) (h fhe.Handle, err error) {
	err = c.view(func() error {
		h, err = c.treasury.Allocation(token, purpose)
		return err
	})
	return h, err
}

// Stake locks principal tokens in the staking pool.
func (c *Chain) Stake(ctx context.Context, caller crypto.Address, amount fhe.ExternalInput, lockPeriod time.Duration) (uint64, error) {
	var id uint64
	err := c.execute(ctx, "staking", "stake", func(ctx context.Context) (err error) {
		id, err = c.staking.Stake(ctx, caller, amount, lockPeriod)
		return err
	})
	return id, err
}

// Unstake closes an expired position.
func (c *Chain) Unstake(ctx context.Context, caller crypto.Address, id uint64) (fhe.Handle, error) {
	var h fhe.Handle
	err := c.execute(ctx, "staking", "unstake", func(ctx context.Context) (err error) {
		h, err = c.staking.Unstake(ctx, caller, id)
		return err
	})
	return h, err
}

// ClaimRewards pays accrued staking rewards.
func (c *Chain) ClaimRewards(ctx context.Context, caller crypto.Address, id uint64) (fhe.Handle, error) {
	var h fhe.Handle
	err := c.execute(ctx, "staking", "claim_rewards", func(ctx context.Context) (err error) {
		h, err = c.staking.ClaimRewards(ctx, caller, id)
		return err
	})
	return h, err
}

// Position returns staking position id.
func (c *Chain) Position(id uint64) (s *staking.Stake, err error) {
	err = c.view(func() error {
		s, err = c.staking.Position(id)
		return err
	})
	return s, err
}

// IsStaker reports whether addr earns relay rewards.
func (c *Chain) IsStaker(addr crypto.Address) (ok bool, err error) {
	err = c.view(func() error {
		ok, err = c.ledger.IsStaker(addr)
		return err
	})
	return ok, err
}

// ProposeAdmin nominates the next chain admin.
func (c *Chain) ProposeAdmin(ctx context.Context, caller, target crypto.Address) error {
	return c.execute(ctx, "governance", "propose_admin", func(context.Context) error {
		return c.governance.ProposeAdmin(caller, target)
	})
}

// AcceptAdmin completes an admin transfer.
func (c *Chain) AcceptAdmin(ctx context.Context, caller crypto.Address) error {
	return c.execute(ctx, "governance", "accept_admin", func(context.Context) error {
		return c.governance.AcceptAdmin(caller)
	})
}

// RejectAdmin cancels a pending admin transfer.
func (c *Chain) RejectAdmin(ctx context.Context, caller crypto.Address) error {
	return c.execute(ctx, "governance", "reject_admin", func(context.Context) error {
		return c.governance.RejectAdmin(caller)
	})
}

// ProposeImplementation nominates a registered implementation.
func (c *Chain) ProposeImplementation(ctx context.Context, caller, target crypto.Address) error {
	return c.execute(ctx, "governance", "propose_implementation", func(context.Context) error {
		return c.governance.ProposeImplementation(caller, target)
	})
}

// AcceptImplementation activates the pending implementation.
func (c *Chain) AcceptImplementation(ctx context.Context, caller crypto.Address) error {
	return c.execute(ctx, "governance", "accept_implementation", func(context.Context) error {
		return c.governance.AcceptImplementation(caller)
	})
}

// RejectImplementation drops the pending implementation.
func (c *Chain) RejectImplementation(ctx context.Context, caller crypto.Address) error {
	return c.execute(ctx, "governance", "reject_implementation", func(context.Context) error {
		return c.governance.RejectImplementation(caller)
	})
}

// Admin returns the current chain admin.
func (c *Chain) Admin() (addr crypto.Address, err error) {
	err = c.view(func() error {
		addr, err = c.governance.Admin()
		return err
	})
	return addr, err
}

// Call forwards method to the accepted implementation.
func (c *Chain) Call(ctx context.Context, caller crypto.Address, method string, payload []byte) ([]byte, error) {
	var out []byte
	err := c.execute(ctx, "fallback", "call", func(ctx context.Context) (err error) {
		out, err = c.governance.Dispatch(ctx, caller, method, payload)
		return err
	})
	return out, err
}
