package treasury

import (
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
)

const (
	EventTypeDeposit             = "treasury.deposit"
	EventTypeWithdrawalRequested = "treasury.withdrawal_requested"
	EventTypeWithdrawalExecuted  = "treasury.withdrawal_executed"
	EventTypeAllocated           = "treasury.allocated"
	EventTypeGovernorAdded       = "treasury.governor_added"
	EventTypeGovernorRemoved     = "treasury.governor_removed"
	EventTypeOwnershipTransfer   = "treasury.ownership_transferred"
)

func newDepositEvent(token, depositor crypto.Address, kind string) *types.Event {
	return &types.Event{Type: EventTypeDeposit, Attributes: map[string]string{
		"token":     token.Hex(),
		"depositor": depositor.Hex(),
		"kind":      kind,
	}}
}

// NewWithdrawalRequestedEvent returns the canonical payload for a queued
// withdrawal. The amount is never included.
func NewWithdrawalRequestedEvent(w *Withdrawal) *types.Event {
	return &types.Event{Type: EventTypeWithdrawalRequested, Attributes: map[string]string{
		"id":        events.UintAttr(w.ID),
		"token":     w.Token.Hex(),
		"recipient": w.Recipient.Hex(),
		"executeAt": events.UintAttr(w.ExecuteAt),
		"kind":      w.Kind.String(),
	}}
}

// NewWithdrawalExecutedEvent returns the canonical payload for an executed
// withdrawal.
func NewWithdrawalExecutedEvent(w *Withdrawal, executor crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeWithdrawalExecuted, Attributes: map[string]string{
		"id":        events.UintAttr(w.ID),
		"recipient": w.Recipient.Hex(),
		"executor":  executor.Hex(),
	}}
}

func newAllocatedEvent(token crypto.Address, purpose string, governor crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeAllocated, Attributes: map[string]string{
		"token":    token.Hex(),
		"purpose":  purpose,
		"governor": governor.Hex(),
	}}
}

func newRoleEvent(kind string, subject crypto.Address) *types.Event {
	return &types.Event{Type: kind, Attributes: map[string]string{"address": subject.Hex()}}
}
