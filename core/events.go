package core

import (
	"vchain/core/events"
	"vchain/core/types"
	"vchain/crypto"
)

const (
	EventTypeInitialized = "chain.initialized"
	EventTypeAdmin       = "chain.admin"
)

func wrap(evt *types.Event) events.Event { return events.Wrap(evt) }

func newInitializedEvent(meta Metadata, caller crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeInitialized, Attributes: map[string]string{
		"name":           meta.Name,
		"chainId":        events.UintAttr(meta.ChainID),
		"principalToken": meta.PrincipalToken.Hex(),
		"admin":          caller.Hex(),
	}}
}

func newAdminEvent(method string, caller crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeAdmin, Attributes: map[string]string{
		"method": method,
		"caller": caller.Hex(),
	}}
}
