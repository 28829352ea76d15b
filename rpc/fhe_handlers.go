package rpc

import (
	"strings"

	"vchain/fhe"
)

type encryptParams struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type decryptParams struct {
	Handle string `json:"handle"`
}

type decryptResult struct {
	Value string `json:"value"`
}

func parseType(raw string) (fhe.Type, error) {
	for _, t := range []fhe.Type{fhe.EBool, fhe.EUint64, fhe.EAddress} {
		if strings.EqualFold(strings.TrimSpace(raw), t.String()) {
			return t, nil
		}
	}
	return 0, &RPCError{Code: codeInvalidParams, Message: "unknown ciphertext type", Data: raw}
}

func (s *Server) registerFHE() {
	s.write("fhe_encrypt", func(c call) (interface{}, error) {
		if s.encrypter == nil {
			return nil, &RPCError{Code: codeUnavailable, Message: "coprocessor does not encrypt locally"}
		}
		var p encryptParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		t, err := parseType(p.Type)
		if err != nil {
			return nil, err
		}
		value, err := parseAmount("value", p.Value)
		if err != nil {
			return nil, err
		}
		if value == nil {
			return nil, invalidParams("value is required", nil)
		}
		in, err := s.encrypter.Encrypt(c.caller, t, value)
		if err != nil {
			return nil, invalidParams("value does not fit type", err)
		}
		return inputView(in), nil
	})
	s.write("fhe_decrypt", func(c call) (interface{}, error) {
		var p decryptParams
		if err := c.bind(&p); err != nil {
			return nil, err
		}
		h, err := parseHandle("handle", p.Handle)
		if err != nil {
			return nil, err
		}
		value, err := s.chain.Decrypt(c.ctx, c.caller, h)
		if err != nil {
			return nil, err
		}
		return decryptResult{Value: value.String()}, nil
	})
}
