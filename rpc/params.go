package rpc

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"vchain/crypto"
	"vchain/fhe"
)

// inputParam is an encrypted input as sent by clients: the handle and its
// proof of knowledge, both 0x-hex.
type inputParam struct {
	Handle string `json:"handle"`
	Proof  string `json:"proof"`
}

func (p *inputParam) decode(field string) (fhe.ExternalInput, error) {
	if p == nil {
		return fhe.ExternalInput{}, invalidParams(field+" is required", nil)
	}
	h, err := fhe.ParseHandle(p.Handle)
	if err != nil {
		return fhe.ExternalInput{}, invalidParams("invalid "+field+" handle", err)
	}
	proof, err := decodeHex(p.Proof)
	if err != nil {
		return fhe.ExternalInput{}, invalidParams("invalid "+field+" proof", err)
	}
	return fhe.ExternalInput{Handle: h, Proof: proof}, nil
}

func inputView(in fhe.ExternalInput) inputParam {
	return inputParam{Handle: in.Handle.Hex(), Proof: "0x" + hex.EncodeToString(in.Proof)}
}

func parseAddress(field, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, invalidParams(field+" is required", nil)
	}
	addr, err := crypto.DecodeAddress(raw)
	if err != nil {
		return crypto.Address{}, invalidParams("invalid "+field+" address", err)
	}
	return addr, nil
}

// parseOptionalAddress accepts an empty string as the zero address.
func parseOptionalAddress(field, raw string) (crypto.Address, error) {
	if strings.TrimSpace(raw) == "" {
		return crypto.Address{}, nil
	}
	return parseAddress(field, raw)
}

func parseAddresses(field string, raw []string) ([]crypto.Address, error) {
	out := make([]crypto.Address, 0, len(raw))
	for _, r := range raw {
		addr, err := parseAddress(field, r)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}

func parseHandle(field, raw string) (fhe.Handle, error) {
	h, err := fhe.ParseHandle(raw)
	if err != nil {
		return fhe.Handle{}, invalidParams("invalid "+field+" handle", err)
	}
	return h, nil
}

// parseAmount reads a non-negative decimal integer. An empty string is nil.
func parseAmount(field, raw string) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	value, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, invalidParams(fmt.Sprintf("invalid %s", field), nil)
	}
	if value.Sign() < 0 {
		return nil, invalidParams(fmt.Sprintf("%s must not be negative", field), nil)
	}
	return value, nil
}

func decodeHex(raw string) ([]byte, error) {
	trimmed := strings.TrimSpace(raw)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if trimmed == "" {
		return nil, nil
	}
	return hex.DecodeString(trimmed)
}

func parseBytes(field, raw string) ([]byte, error) {
	b, err := decodeHex(raw)
	if err != nil {
		return nil, invalidParams("invalid "+field, err)
	}
	return b, nil
}

func parseHash(field, raw string) ([32]byte, error) {
	b, err := parseBytes(field, raw)
	if err != nil {
		return [32]byte{}, err
	}
	if len(b) != 32 {
		return [32]byte{}, invalidParams(fmt.Sprintf("%s must be 32 bytes", field), nil)
	}
	var out [32]byte
	copy(out[:], b)
	return out, nil
}

func hexBytes(b []byte) string { return "0x" + hex.EncodeToString(b) }

func addressStrings(addrs []crypto.Address) []string {
	out := make([]string, 0, len(addrs))
	for _, a := range addrs {
		out = append(out, a.String())
	}
	return out
}

type okResult struct {
	OK bool `json:"ok"`
}

var done = okResult{OK: true}

type handleResult struct {
	Handle string `json:"handle"`
}

func handleView(h fhe.Handle) handleResult { return handleResult{Handle: h.Hex()} }

type seqResult struct {
	Seq uint64 `json:"seq"`
}

type addressParams struct {
	Address string `json:"address"`
}

type seqParams struct {
	Seq uint64 `json:"seq"`
}

type idParams struct {
	ID uint64 `json:"id"`
}
