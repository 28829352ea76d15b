package ledger

import (
	"strconv"

	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
)

const (
	EventTypePay            = "ledger.pay"
	EventTypePrivilegedMove = "ledger.privileged_transfer"
	EventTypePrivilegedMint = "ledger.privileged_mint"
	EventTypeRewardApplied  = "ledger.reward_applied"
	EventTypeBalanceShared  = "ledger.balance_shared"
	EventTypeAccountMoved   = "ledger.account_moved"
)

// NewPayEvent returns the canonical payload for an accepted payment. Amounts
// and fees are never included.
func NewPayEvent(r *Receipt) *types.Event {
	if r == nil {
		return nil
	}
	return &types.Event{Type: EventTypePay, Attributes: map[string]string{
		"from":     r.From.Hex(),
		"to":       r.To.Hex(),
		"token":    r.Token.Hex(),
		"relayer":  r.Relayer.Hex(),
		"nonce":    events.UintAttr(r.Nonce),
		"priority": strconv.FormatBool(r.Priority),
		"rewarded": strconv.FormatBool(r.Rewarded),
	}}
}

func newPrivilegedEvent(kind string, caller, from, to, token crypto.Address) *types.Event {
	attrs := map[string]string{
		"caller": caller.Hex(),
		"to":     to.Hex(),
		"token":  token.Hex(),
	}
	if !from.IsZero() {
		attrs["from"] = from.Hex()
	}
	return &types.Event{Type: kind, Attributes: attrs}
}

func newRewardEvent(relayer crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeRewardApplied, Attributes: map[string]string{
		"relayer": relayer.Hex(),
	}}
}

func newAccountMovedEvent(from, to, token crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeAccountMoved, Attributes: map[string]string{
		"from":  from.Hex(),
		"to":    to.Hex(),
		"token": token.Hex(),
	}}
}

func newSharedEvent(owner, token, viewer crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeBalanceShared, Attributes: map[string]string{
		"owner":  owner.Hex(),
		"token":  token.Hex(),
		"viewer": viewer.Hex(),
	}}
}
