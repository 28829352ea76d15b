package staking

import (
	"vchain/core/events"
	"vchain/core/types"
)

const (
	EventTypeStaked         = "staking.staked"
	EventTypeUnstaked       = "staking.unstaked"
	EventTypeRewardsClaimed = "staking.rewards_claimed"
	EventTypeParamsUpdated  = "staking.params_updated"
)

// NewStakedEvent returns the canonical payload for a new position.
func NewStakedEvent(s *Stake) *types.Event {
	return &types.Event{Type: EventTypeStaked, Attributes: map[string]string{
		"id":         events.UintAttr(s.ID),
		"owner":      s.Owner.Hex(),
		"lockExpiry": events.UintAttr(s.LockExpiry),
	}}
}

// NewUnstakedEvent returns the canonical payload for a closed position.
func NewUnstakedEvent(s *Stake) *types.Event {
	return &types.Event{Type: EventTypeUnstaked, Attributes: map[string]string{
		"id":    events.UintAttr(s.ID),
		"owner": s.Owner.Hex(),
	}}
}

// NewRewardsClaimedEvent returns the canonical payload for a reward claim.
func NewRewardsClaimedEvent(s *Stake, height uint64) *types.Event {
	return &types.Event{Type: EventTypeRewardsClaimed, Attributes: map[string]string{
		"id":     events.UintAttr(s.ID),
		"owner":  s.Owner.Hex(),
		"height": events.UintAttr(height),
	}}
}

func newParamsEvent(p Pool) *types.Event {
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: map[string]string{
		"apr":           events.UintAttr(p.APR),
		"minLockPeriod": events.UintAttr(p.MinLockPeriod),
		"blocksPerYear": events.UintAttr(p.BlocksPerYear),
	}}
}
