package rpc

import (
	"context"
	"time"

	"vchain/crypto"
)

type toggleParams struct {
	Enabled bool `json:"enabled"`
}

type allowTokenParams struct {
	Token   string `json:"token"`
	Allowed bool   `json:"allowed"`
}

type stakerParams struct {
	Address string `json:"address"`
	Staker  bool   `json:"staker"`
}

type registerIdentityParams struct {
	Alias   string `json:"alias"`
	Address string `json:"address"`
}

type aprParams struct {
	APR uint64 `json:"apr"`
}

type minLockParams struct {
	Seconds uint64 `json:"seconds"`
}

type creditParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  uint64 `json:"amount"`
}

// addressOp registers a write method that takes a single address.
func (s *Server) addressOp(name string, op func(ctx context.Context, caller, addr crypto.Address) error) {
	s.write(name, func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		return done, op(c.ctx, c.caller, addr)
	})
}

func (s *Server) registerAdmin() {
	s.addressOp("admin_addValidator", s.chain.AddValidator)
	s.addressOp("admin_removeValidator", s.chain.RemoveValidator)
	s.addressOp("admin_setTreasury", s.chain.SetTreasury)
	s.addressOp("admin_setStaking", s.chain.SetStaking)

	s.write("admin_setTokenAllowList", func(c call) (interface{}, error) {
		var p toggleParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.SetTokenAllowList(c.ctx, c.caller, p.Enabled)
	})
	s.write("admin_allowToken", func(c call) (interface{}, error) {
		var p allowTokenParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		return done, s.chain.AllowToken(c.ctx, c.caller, token, p.Allowed)
	})
	s.write("admin_setSignatureVerification", func(c call) (interface{}, error) {
		var p toggleParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.SetSignatureVerification(c.ctx, c.caller, p.Enabled)
	})
	s.write("admin_setStaker", func(c call) (interface{}, error) {
		var p stakerParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		return done, s.chain.SetStaker(c.ctx, c.caller, addr, p.Staker)
	})
	s.write("admin_registerIdentity", func(c call) (interface{}, error) {
		var p registerIdentityParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		return done, s.chain.RegisterIdentity(c.ctx, c.caller, p.Alias, addr)
	})
	s.write("admin_setStakingAPR", func(c call) (interface{}, error) {
		var p aprParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.SetStakingAPR(c.ctx, c.caller, p.APR)
	})
	s.write("admin_setStakingMinLock", func(c call) (interface{}, error) {
		var p minLockParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.SetStakingMinLockPeriod(c.ctx, c.caller, time.Duration(p.Seconds)*time.Second)
	})
	s.write("admin_credit", func(c call) (interface{}, error) {
		var p creditParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		account, err := parseAddress("account", p.Account)
		if err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		return done, s.chain.Credit(c.ctx, c.caller, account, token, p.Amount)
	})
}
