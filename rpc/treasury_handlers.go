package rpc

import (
	"vchain/native/treasury"
)

type depositEthParams struct {
	Value  string      `json:"value"`
	Amount *inputParam `json:"amount"`
}

type depositParams struct {
	Token  string      `json:"token"`
	Amount *inputParam `json:"amount"`
}

type withdrawalRequestParams struct {
	Token     string      `json:"token"`
	Amount    *inputParam `json:"amount"`
	Recipient string      `json:"recipient"`
}

type allocateParams struct {
	Token   string      `json:"token"`
	Purpose string      `json:"purpose"`
	Amount  *inputParam `json:"amount"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type allocationParams struct {
	Token   string `json:"token"`
	Purpose string `json:"purpose"`
}

type ownershipParams struct {
	Next string `json:"next"`
}

type idResult struct {
	ID uint64 `json:"id"`
}

type balancesResult struct {
	Total     string `json:"total"`
	Available string `json:"available"`
	Reserved  string `json:"reserved"`
}

type withdrawalResult struct {
	ID        uint64 `json:"id"`
	Token     string `json:"token"`
	EncAmount string `json:"encAmount"`
	Recipient string `json:"recipient"`
	Requester string `json:"requester"`
	CreatedAt uint64 `json:"createdAt"`
	ExecuteAt uint64 `json:"executeAt"`
	Approved  bool   `json:"approved"`
	Executed  bool   `json:"executed"`
	Kind      string `json:"kind"`
}

func withdrawalView(w *treasury.Withdrawal) withdrawalResult {
	return withdrawalResult{
		ID:        w.ID,
		Token:     w.Token.String(),
		EncAmount: w.EncAmount.Hex(),
		Recipient: w.Recipient.String(),
		Requester: w.Requester.String(),
		CreatedAt: w.CreatedAt,
		ExecuteAt: w.ExecuteAt,
		Approved:  w.Approved,
		Executed:  w.Executed,
		Kind:      w.Kind.String(),
	}
}

func (s *Server) registerTreasury() {
	s.write("treasury_depositEth", func(c call) (interface{}, error) {
		var p depositEthParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		value, err := parseAmount("value", p.Value)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, invalidParams("value is required", nil)
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		return done, s.chain.DepositETH(c.ctx, c.caller, value, amount)
	})
	s.write("treasury_depositToken", func(c call) (interface{}, error) {
		var p depositParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		return done, s.chain.DepositToken(c.ctx, c.caller, token, amount)
	})
	s.write("treasury_depositLedger", func(c call) (interface{}, error) {
		var p depositParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		return done, s.chain.DepositLedger(c.ctx, c.caller, token, amount)
	})
	s.write("treasury_requestWithdrawal", func(c call) (interface{}, error) {
		var p withdrawalRequestParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		recipient, err := parseAddress("recipient", p.Recipient)
		if err != nil {
			return nil, err
		}
		id, err := s.chain.RequestWithdrawal(c.ctx, c.caller, token, amount, recipient)
		if err != nil {
			return nil, err
		}
		return idResult{ID: id}, nil
	})
	s.write("treasury_executeWithdrawal", func(c call) (interface{}, error) {
		var p idParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		return done, s.chain.ExecuteWithdrawal(c.ctx, c.caller, p.ID)
	})
	s.write("treasury_allocate", func(c call) (interface{}, error) {
		var p allocateParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		amount, err := p.Amount.decode("amount")
		if err != nil {
			return nil, err
		}
		return done, s.chain.Allocate(c.ctx, c.caller, token, p.Purpose, amount)
	})
	s.write("treasury_grantBalances", func(c call) (interface{}, error) {
		var p tokenViewerParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		viewer, err := parseAddress("viewer", p.Viewer)
		if err != nil {
			return nil, err
		}
		return done, s.chain.GrantTreasuryBalances(c.ctx, c.caller, token, viewer)
	})
	s.write("treasury_addGovernor", func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		return done, s.chain.AddGovernor(c.ctx, c.caller, addr)
	})
	s.write("treasury_removeGovernor", func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		return done, s.chain.RemoveGovernor(c.ctx, c.caller, addr)
	})
	s.write("treasury_transferOwnership", func(c call) (interface{}, error) {
		var p ownershipParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		next, err := parseAddress("next", p.Next)
		if err != nil {
			return nil, err
		}
		return done, s.chain.TransferTreasuryOwnership(c.ctx, c.caller, next)
	})
	s.read("treasury_balances", func(c call) (interface{}, error) {
		var p tokenParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		b, err := s.chain.TreasuryBalances(token)
		if err != nil {
			return nil, err
		}
		return balancesResult{Total: b.Total.Hex(), Available: b.Available.Hex(), Reserved: b.Reserved.Hex()}, nil
	})
	s.read("treasury_withdrawal", func(c call) (interface{}, error) {
		var p idParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		w, err := s.chain.Withdrawal(p.ID)
		if err != nil {
			return nil, err
		}
		return withdrawalView(w), nil
	})
	s.read("treasury_allocation", func(c call) (interface{}, error) {
		var p allocationParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		token, err := parseAddress("token", p.Token)
		if err != nil {
			return nil, err
		}
		h, err := s.chain.Allocation(token, p.Purpose)
		if err != nil {
			return nil, err
		}
		return handleView(h), nil
	})
}
