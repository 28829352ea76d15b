package rpc

import (
	"vchain/native/ledger"
)

type payParams struct {
	From        string      `json:"from"`
	To          string      `json:"to,omitempty"`
	ToIdentity  string      `json:"toIdentity,omitempty"`
	Token       string      `json:"token"`
	Amount      *inputParam `json:"amount"`
	Fee         *inputParam `json:"fee"`
	Nonce       uint64      `json:"nonce"`
	Priority    bool        `json:"priority,omitempty"`
	Executor    string      `json:"executor,omitempty"`
	Signature   string      `json:"signature,omitempty"`
	PlainAmount string      `json:"plainAmount,omitempty"`
	PlainFee    string      `json:"plainFee,omitempty"`
}

func (p payParams) request() (*ledger.PayRequest, error) {
	from, err := parseAddress("from", p.From)
	if err != nil {
		return nil, err
	}
	req := &ledger.PayRequest{From: from, ToIdentity: p.ToIdentity, Nonce: p.Nonce, Priority: p.Priority}
	if p.ToIdentity == "" {
		if req.To, err = parseAddress("to", p.To); err != nil {
			return nil, err
		}
	}
	if req.Token, err = parseAddress("token", p.Token); err != nil {
		return nil, err
	}
	if req.Amount, err = p.Amount.decode("amount"); err != nil {
		return nil, err
	}
	if req.Fee, err = p.Fee.decode("fee"); err != nil {
		return nil, err
	}
	if req.Executor, err = parseOptionalAddress("executor", p.Executor); err != nil {
		return nil, err
	}
	if req.Signature, err = parseBytes("signature", p.Signature); err != nil {
		return nil, err
	}
	if req.PlainAmount, err = parseAmount("plainAmount", p.PlainAmount); err != nil {
		return nil, err
	}
	if req.PlainFee, err = parseAmount("plainFee", p.PlainFee); err != nil {
		return nil, err
	}
	return req, nil
}

type receiptResult struct {
	From     string `json:"from"`
	To       string `json:"to"`
	Token    string `json:"token"`
	Relayer  string `json:"relayer"`
	Nonce    uint64 `json:"nonce"`
	Priority bool   `json:"priority"`
	Rewarded bool   `json:"rewarded"`
}

type tokenViewerParams struct {
	Token  string `json:"token"`
	Viewer string `json:"viewer"`
}

type balanceParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
}

type nonceResult struct {
	Nonce uint64 `json:"nonce"`
}

type supplyResult struct {
	TotalSupply  string `json:"totalSupply"`
	EraThreshold string `json:"eraThreshold"`
	RewardPerTx  string `json:"rewardPerTx"`
}

type identityParams struct {
	Alias string `json:"alias"`
}

type identityResult struct {
	Alias   string `json:"alias,omitempty"`
	Address string `json:"address,omitempty"`
	Found   bool   `json:"found"`
}

func (s *Server) registerLedger() {
	s.write("ledger_pay", func(c call) (interface{}, error) {
		var p payParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		req, err := p.request()
		if err != nil {
			return nil, err
		}
		receipt, err := s.chain.Pay(c.ctx, c.caller, req)
		if err != nil {
			return nil, err
		}
		return receiptResult{
			From:     receipt.From.String(),
			To:       receipt.To.String(),
			Token:    receipt.Token.String(),
			Relayer:  receipt.Relayer.String(),
			Nonce:    receipt.Nonce,
			Priority: receipt.Priority,
			Rewarded: receipt.Rewarded,
		}, nil
	})
	s.write("ledger_grantBalance", func(c call) (interface{}, error) {
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
		return done, s.chain.GrantBalance(c.ctx, c.caller, token, viewer)
	})
	s.read("ledger_balance", func(c call) (interface{}, error) {
		var p balanceParams
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
		h, err := s.chain.Balance(account, token)
		if err != nil {
			return nil, err
		}
		return handleView(h), nil
	})
	s.read("ledger_nonce", func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		n, err := s.chain.SyncNonce(addr)
		if err != nil {
			return nil, err
		}
		return nonceResult{Nonce: n}, nil
	})
	s.read("ledger_supply", func(c call) (interface{}, error) {
		supply, err := s.chain.Supply()
		if err != nil {
			return nil, err
		}
		return supplyResult{
			TotalSupply:  supply.TotalSupply.Hex(),
			EraThreshold: supply.EraThreshold.Hex(),
			RewardPerTx:  supply.RewardPerTx.Hex(),
		}, nil
	})
	s.read("ledger_resolveIdentity", func(c call) (interface{}, error) {
		var p identityParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := s.chain.ResolveIdentity(p.Alias)
		if err != nil {
			return nil, err
		}
		return identityResult{Alias: p.Alias, Address: addr.String(), Found: true}, nil
	})
	s.read("ledger_identityOf", func(c call) (interface{}, error) {
		var p addressParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		addr, err := parseAddress("address", p.Address)
		if err != nil {
			return nil, err
		}
		alias, ok, err := s.chain.IdentityOf(addr)
		if err != nil {
			return nil, err
		}
		return identityResult{Alias: alias, Address: addr.String(), Found: ok}, nil
	})
}
