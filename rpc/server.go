// Package rpc serves the chain operations over JSON-RPC 2.0. Reads are open;
// every state-changing method requires a bearer token whose subject is the
// calling account.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"sort"

	"vchain/core"
	coreerrors "vchain/core/errors"
	"vchain/crypto"
	"vchain/fhe"
	"vchain/observability/logging"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
	codeForbidden      = -32003
	codeReplay         = -32010
	codeProofRejected  = -32011
	codeNotYet         = -32012
	codeStateConflict  = -32013
	codeUnavailable    = -32014
)

// Encrypter produces input ciphertexts with proofs. Only coprocessors that
// hold the encryption key locally implement it.
type Encrypter interface {
	Encrypt(owner crypto.Address, t fhe.Type, value *big.Int) (fhe.ExternalInput, error)
}

type RPCRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      int               `json:"id"`
}

type RPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
}

type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

func invalidParams(message string, err error) *RPCError {
	out := &RPCError{Code: codeInvalidParams, Message: message}
	if err != nil {
		out.Data = err.Error()
	}
	return out
}

// call is the decoded request handed to a method.
type call struct {
	ctx    context.Context
	caller crypto.Address
	params json.RawMessage
}

// bind decodes the single parameter object into out. Methods without
// parameters accept an empty list.
func (c call) bind(out interface{}) error {
	if len(c.params) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(c.params))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return invalidParams("invalid parameter object", err)
	}
	return nil
}

type method struct {
	auth bool
	fn   func(call) (interface{}, error)
}

// Server is the JSON-RPC endpoint.
type Server struct {
	chain     *core.Chain
	auth      *Authenticator
	encrypter Encrypter
	logger    *slog.Logger
	methods   map[string]method
}

// NewServer binds the endpoint to chain. encrypter may be nil, which turns
// fhe_encrypt off.
func NewServer(chain *core.Chain, auth *Authenticator, encrypter Encrypter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.Discard()
	}
	if auth == nil {
		auth = NewAuthenticator(AuthConfig{})
	}
	s := &Server{chain: chain, auth: auth, encrypter: encrypter, logger: logger, methods: make(map[string]method)}
	s.registerLedger()
	s.registerBlocks()
	s.registerTreasury()
	s.registerStaking()
	s.registerGovernance()
	s.registerAdmin()
	s.registerFHE()
	return s
}

func (s *Server) read(name string, fn func(call) (interface{}, error)) {
	s.methods[name] = method{fn: fn}
}

func (s *Server) write(name string, fn func(call) (interface{}, error)) {
	s.methods[name] = method{auth: true, fn: fn}
}

// Methods lists the served method names.
func (s *Server) Methods() []string {
	out := make([]string, 0, len(s.methods))
	for name := range s.methods {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, nil, codeInvalidRequest, "POST required", nil)
		return
	}
	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", maxRequestBytes)
		}
		writeError(w, status, nil, codeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, codeInvalidRequest, "request body required", nil)
		return
	}

	req := &RPCRequest{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, codeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidRequest, "method required", nil)
		return
	}
	m, ok := s.methods[req.Method]
	if !ok {
		writeError(w, http.StatusNotFound, req.ID, codeMethodNotFound, "method not found", req.Method)
		return
	}
	if len(req.Params) > 1 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "at most one parameter object expected", nil)
		return
	}

	c := call{ctx: r.Context()}
	if len(req.Params) == 1 {
		c.params = req.Params[0]
	}
	if m.auth {
		caller, err := s.auth.Caller(r.Header.Get("Authorization"))
		if err != nil {
			s.logger.Warn("rpc auth rejected", slog.String("method", req.Method), slog.String("error", err.Error()))
			writeError(w, http.StatusUnauthorized, req.ID, codeUnauthorized, "invalid RPC credentials", err.Error())
			return
		}
		c.caller = caller
	}

	result, err := m.fn(c)
	if err != nil {
		s.fail(w, req, err)
		return
	}
	writeResult(w, req.ID, result)
}

// fail maps err onto a JSON-RPC error. Chain errors keep their category so
// clients can tell a replay from a timing gate.
func (s *Server) fail(w http.ResponseWriter, req *RPCRequest, err error) {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		status := http.StatusBadRequest
		if rpcErr.Code == codeUnavailable {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
		return
	}
	kind := coreerrors.Kind(err)
	status, code := http.StatusInternalServerError, codeServerError
	switch kind {
	case "authorization":
		status, code = http.StatusForbidden, codeForbidden
	case "replay":
		status, code = http.StatusConflict, codeReplay
	case "proof":
		status, code = http.StatusBadRequest, codeProofRejected
	case "timing":
		status, code = http.StatusConflict, codeNotYet
	case "state":
		status, code = http.StatusConflict, codeStateConflict
	case "configuration":
		status, code = http.StatusBadRequest, codeInvalidParams
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		status, code = http.StatusServiceUnavailable, codeUnavailable
	}
	if code == codeServerError {
		s.logger.Error("rpc method failed", slog.String("method", req.Method), slog.String("error", err.Error()))
	}
	writeError(w, status, req.ID, code, err.Error(), kind)
}

func writeError(w http.ResponseWriter, status int, id interface{}, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &RPCError{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Error: errObj}
	_ = json.NewEncoder(w).Encode(resp)
}

func writeResult(w http.ResponseWriter, id interface{}, result interface{}) {
	resp := RPCResponse{JSONRPC: jsonRPCVersion, ID: id, Result: result}
	_ = json.NewEncoder(w).Encode(resp)
}
