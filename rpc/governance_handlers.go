package rpc

type targetParams struct {
	Target string `json:"target"`
}

type callParams struct {
	Method  string `json:"method"`
	Payload string `json:"payload,omitempty"`
}

type callResult struct {
	Output string `json:"output"`
}

type adminResult struct {
	Admin string `json:"admin"`
}

func (s *Server) registerGovernance() {
	s.write("governance_proposeAdmin", func(c call) (interface{}, error) {
		var p targetParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		target, err := parseAddress("target", p.Target)
		if err != nil {
			return nil, err
		}
		return done, s.chain.ProposeAdmin(c.ctx, c.caller, target)
	})
	s.write("governance_acceptAdmin", func(c call) (interface{}, error) {
		return done, s.chain.AcceptAdmin(c.ctx, c.caller)
	})
	s.write("governance_rejectAdmin", func(c call) (interface{}, error) {
		return done, s.chain.RejectAdmin(c.ctx, c.caller)
	})
	s.write("governance_proposeImplementation", func(c call) (interface{}, error) {
		var p targetParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		target, err := parseAddress("target", p.Target)
		if err != nil {
			return nil, err
		}
		return done, s.chain.ProposeImplementation(c.ctx, c.caller, target)
	})
	s.write("governance_acceptImplementation", func(c call) (interface{}, error) {
		return done, s.chain.AcceptImplementation(c.ctx, c.caller)
	})
	s.write("governance_rejectImplementation", func(c call) (interface{}, error) {
		return done, s.chain.RejectImplementation(c.ctx, c.caller)
	})
	s.write("chain_call", func(c call) (interface{}, error) {
		var p callParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		if p.Method == "" {
			return nil, invalidParams("method is required", nil)
		}
		payload, err := parseBytes("payload", p.Payload)
		if err != nil {
			return nil, err
		}
		out, err := s.chain.Call(c.ctx, c.caller, p.Method, payload)
		if err != nil {
			return nil, err
		}
		return callResult{Output: hexBytes(out)}, nil
	})
	s.read("governance_admin", func(c call) (interface{}, error) {
		admin, err := s.chain.Admin()
		if err != nil {
			return nil, err
		}
		return adminResult{Admin: admin.String()}, nil
	})
	s.read("governance_implementations", func(c call) (interface{}, error) {
		return addressStrings(s.chain.Implementations()), nil
	})
}
