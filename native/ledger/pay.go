package ledger

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	coreerrors "vchain/core/errors"
	"vchain/crypto"
	"vchain/fhe"
)

// PayMessage renders the text a payer signs when signature verification is
// enabled:
//
//	<chainID>,pay,<to|toIdentity>,<token>,<amount>,<fee>,<nonce>,<priority>,<executor>
//
// Addresses are lowercase 0x-hex, integers decimal and the priority flag
// true/false. The recipient field is the identity when one is named.
func PayMessage(chainID uint64, req *PayRequest) string {
	recipient := req.To.Hex()
	if id := strings.TrimSpace(req.ToIdentity); id != "" {
		recipient = id
	}
	return fmt.Sprintf("%d,pay,%s,%s,%s,%s,%d,%t,%s",
		chainID,
		recipient,
		req.Token.Hex(),
		decimal(req.PlainAmount),
		decimal(req.PlainFee),
		req.Nonce,
		req.Priority,
		req.Executor.Hex(),
	)
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

// SignPay signs req for chainID with key and stores the signature on req.
func SignPay(key *crypto.PrivateKey, chainID uint64, req *PayRequest) error {
	sig, err := crypto.SignText(key, []byte(PayMessage(chainID, req)))
	if err != nil {
		return err
	}
	req.Signature = sig
	return nil
}

// Pay settles a payment submitted by caller. The checks run in a fixed
// order and any failure aborts the whole payment; the host rolls back every
// write made before the failure.
func (e *Engine) Pay(ctx context.Context, caller crypto.Address, req *PayRequest) (*Receipt, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if req == nil {
		return nil, coreerrors.Configuration("ledger: nil pay request")
	}
	settings, err := e.Settings()
	if err != nil {
		return nil, err
	}

	if settings.AllowListEnabled {
		allowed, err := e.IsTokenAllowed(req.Token)
		if err != nil {
			return nil, err
		}
		if !allowed {
			return nil, coreerrors.Configuration("ledger: token %s not allow-listed", req.Token.Hex())
		}
	}

	to := req.To
	if strings.TrimSpace(req.ToIdentity) != "" {
		if to, err = e.ResolveIdentity(req.ToIdentity); err != nil {
			return nil, err
		}
	}
	if req.From.IsZero() || to.IsZero() {
		return nil, coreerrors.Configuration("ledger: zero address in payment")
	}

	if settings.SignaturesEnabled {
		if req.PlainAmount == nil || req.PlainFee == nil {
			return nil, coreerrors.Configuration("ledger: plaintext amount and fee required for signed payments")
		}
		signer, err := crypto.RecoverText([]byte(PayMessage(settings.ChainID, req)), req.Signature)
		if err != nil {
			return nil, coreerrors.Authorization("ledger: bad payment signature: %v", err)
		}
		if signer != req.From {
			return nil, coreerrors.Authorization("ledger: payment signed by %s, not %s", signer.Hex(), req.From.Hex())
		}
	}

	if !req.Executor.IsZero() && caller != req.Executor {
		return nil, coreerrors.Authorization("ledger: payment reserved for executor %s", req.Executor.Hex())
	}

	if req.Priority {
		err = e.nonces.ConsumeAsync(req.From, req.Nonce)
	} else {
		err = e.nonces.ConsumeSync(req.From, req.Nonce)
	}
	if err != nil {
		return nil, err
	}

	ev := fhe.NewEvaluator(ctx, e.cop)
	amount, err := ev.Import(req.Amount, caller)
	if err != nil {
		return nil, coreerrors.ProofCause(err, "ledger: import amount")
	}
	fee, err := ev.Import(req.Fee, caller)
	if err != nil {
		return nil, coreerrors.ProofCause(err, "ledger: import fee")
	}
	if err := e.transfer(ev, req.From, to, req.Token, amount); err != nil {
		return nil, err
	}

	receipt := &Receipt{
		From:     req.From,
		To:       to,
		Token:    req.Token,
		Relayer:  caller,
		Nonce:    req.Nonce,
		Priority: req.Priority,
	}

	staker, err := e.IsStaker(caller)
	if err != nil {
		return nil, err
	}
	if staker {
		if err := e.transfer(ev, req.From, caller, req.Token, fee); err != nil {
			return nil, err
		}
		if err := e.reward(ev, caller); err != nil {
			return nil, err
		}
		receipt.Rewarded = true
		e.emit(newRewardEvent(caller))
	}

	e.emit(NewPayEvent(receipt))
	return receipt, nil
}

// reward mints the relay reward to relayer and advances the era schedule:
// once the supply reaches the threshold the per-relay reward halves and the
// threshold doubles. Both updates are oblivious selects so the crossing is
// never revealed.
func (e *Engine) reward(ev *fhe.Evaluator, relayer crypto.Address) error {
	supply, err := e.Supply()
	if err != nil {
		return err
	}
	if !supply.Initialized() {
		return coreerrors.Configuration("ledger: supply not initialized")
	}
	bonus, err := e.bonus.Bonus(e.nowFn(), e.heightFn())
	if err != nil {
		return err
	}
	if bonus == 0 {
		bonus = 1
	}
	reward, err := ev.MulScalar(supply.RewardPerTx, bonus)
	if err != nil {
		return err
	}
	if err := e.mint(ev, relayer, reward); err != nil {
		return err
	}

	supply, err = e.Supply()
	if err != nil {
		return err
	}
	crossed, err := ev.Gte(supply.TotalSupply, supply.EraThreshold)
	if err != nil {
		return err
	}
	halved, err := ev.ShrScalar(supply.RewardPerTx, 1)
	if err != nil {
		return err
	}
	if supply.RewardPerTx, err = ev.Select(crossed, halved, supply.RewardPerTx); err != nil {
		return err
	}
	doubled, err := ev.MulScalar(supply.EraThreshold, 2)
	if err != nil {
		return err
	}
	if supply.EraThreshold, err = ev.Select(crossed, doubled, supply.EraThreshold); err != nil {
		return err
	}
	return e.putSupply(ev, supply)
}
