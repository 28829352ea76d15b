package governance

import (
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
)

const (
	EventTypeProposed   = "governance.proposed"
	EventTypeAccepted   = "governance.accepted"
	EventTypeRejected   = "governance.rejected"
	EventTypeDispatched = "governance.dispatched"
)

func newProposedEvent(kind GateKind, p Proposal) *types.Event {
	return &types.Event{Type: EventTypeProposed, Attributes: map[string]string{
		"gate":    string(kind),
		"target":  p.Target.Hex(),
		"readyAt": events.UintAttr(p.ReadyAt),
	}}
}

func newAcceptedEvent(kind GateKind, target crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeAccepted, Attributes: map[string]string{
		"gate":   string(kind),
		"target": target.Hex(),
	}}
}

func newRejectedEvent(kind GateKind, target, by crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeRejected, Attributes: map[string]string{
		"gate":   string(kind),
		"target": target.Hex(),
		"by":     by.Hex(),
	}}
}

func newDispatchedEvent(impl, caller crypto.Address, method string) *types.Event {
	return &types.Event{Type: EventTypeDispatched, Attributes: map[string]string{
		"implementation": impl.Hex(),
		"caller":         caller.Hex(),
		"method":         method,
	}}
}
