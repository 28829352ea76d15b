package vblock

import (
	"strconv"

	"vchain/core/events"
	"vchain/core/types"
)

const (
	EventTypeBlockCreated   = "vblock.created"
	EventTypeBlockFinalized = "vblock.finalized"
	EventTypeTxSubmitted    = "vblock.tx_submitted"
	EventTypeTxIncluded     = "vblock.tx_included"
)

// NewBlockCreatedEvent returns the canonical payload for a created block.
func NewBlockCreatedEvent(b *Block) *types.Event {
	return &types.Event{Type: EventTypeBlockCreated, Attributes: map[string]string{
		"seq":         events.UintAttr(b.Seq),
		"proposer":    b.Proposer.Hex(),
		"validators":  strconv.Itoa(len(b.Validators)),
		"contentHash": events.HexAttr(b.ContentHash[:]),
	}}
}

// NewBlockFinalizedEvent returns the canonical payload for a finalized block.
func NewBlockFinalizedEvent(b *Block, attested bool) *types.Event {
	return &types.Event{Type: EventTypeBlockFinalized, Attributes: map[string]string{
		"seq":         events.UintAttr(b.Seq),
		"contentHash": events.HexAttr(b.ContentHash[:]),
		"attested":    strconv.FormatBool(attested),
	}}
}

// NewTxSubmittedEvent returns the canonical payload for a submitted
// transaction.
func NewTxSubmittedEvent(tx *Transaction) *types.Event {
	return &types.Event{Type: EventTypeTxSubmitted, Attributes: map[string]string{
		"seq":         events.UintAttr(tx.Seq),
		"from":        tx.From.Hex(),
		"to":          tx.To.Hex(),
		"payloadHash": events.HexAttr(tx.PayloadHash[:]),
	}}
}

// NewTxIncludedEvent returns the canonical payload for an included
// transaction.
func NewTxIncludedEvent(tx *Transaction) *types.Event {
	return &types.Event{Type: EventTypeTxIncluded, Attributes: map[string]string{
		"seq":   events.UintAttr(tx.Seq),
		"block": events.UintAttr(tx.IncludedInBlock),
	}}
}
