package rpc

import (
	"time"
)

type stakeParams struct {
	Amount      *inputParam `json:"amount"`
	LockSeconds uint64      `json:"lockSeconds"`
}

type stakeResult struct {
	ID            uint64 `json:"id"`
	Owner         string `json:"owner"`
	EncAmount     string `json:"encAmount"`
	EncRewardDebt string `json:"encRewardDebt"`
	CreatedAt     uint64 `json:"createdAt"`
	LockExpiry    uint64 `json:"lockExpiry"`
	Active        bool   `json:"active"`
}

type stakerResult struct {
	Staker bool `json:"staker"`
}

func (s *Server) registerStaking() {
	s.write("staking_stake", func(c call) (interface{}, error) {
		var p stakeParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		id, err := s.chain.Stake(c.ctx, c.caller, amount, time.Duration(p.LockSeconds)*time.Second)
		if err != nil {
			return nil, err
		}
		return idResult{ID: id}, nil
	})
	s.write("staking_unstake", func(c call) (interface{}, error) {
		var p idParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		h, err := s.chain.Unstake(c.ctx, c.caller, p.ID)
		if err != nil {
			return nil, err
		}
		return handleView(h), nil
	})
	s.write("staking_claimRewards", func(c call) (interface{}, error) {
		var p idParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		h, err := s.chain.ClaimRewards(c.ctx, c.caller, p.ID)
		if err != nil {
			return nil, err
		}
		return handleView(h), nil
	})
	s.read("staking_position", func(c call) (interface{}, error) {
		var p idParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		st, err := s.chain.Position(p.ID)
		if err != nil {
			return nil, err
		}
		return stakeResult{
			ID:            st.ID,
			Owner:         st.Owner.String(),
			EncAmount:     st.EncAmount.Hex(),
			EncRewardDebt: st.EncRewardDebt.Hex(),
			CreatedAt:     st.CreatedAt,
			LockExpiry:    st.LockExpiry,
			Active:        st.Active,
		}, nil
	})
	s.read("staking_isStaker", func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		ok, err := s.chain.IsStaker(addr)
		if err != nil {
			return nil, err
		}
		return stakerResult{Staker: ok}, nil
	})
}
