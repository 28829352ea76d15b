package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"vchain/core"
	"vchain/crypto"
	"vchain/fhe/local"
	"vchain/observability/logging"
	"vchain/storage"
)

var (
	usd   = crypto.Address{0xBB}
	alice = crypto.Address{0x01}
	bob   = crypto.Address{0x02}
)

type fixture struct {
	server *Server
	chain  *core.Chain
	cop    *local.Coprocessor
	auth   AuthConfig
	admin  crypto.Address
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		cop:   local.New(local.Config{Secret: []byte("rpc-test")}),
		auth:  AuthConfig{HMACSecret: "rpc-secret", Issuer: "vchain", Audience: "vchaind"},
		admin: crypto.Address{0xAD},
	}
	f.cop.Start()
	t.Cleanup(f.cop.Stop)
	chain, err := core.NewChain(core.Options{DB: storage.NewMemDB(), Coprocessor: f.cop})
	require.NoError(t, err)
	require.NoError(t, chain.Initialize(context.Background(), f.admin, core.InitParams{
		Name:           "rpc",
		ChainID:        9,
		PrincipalToken: usd,
		GasLimit:       30_000_000,
		BlockTime:      5 * time.Second,
		TotalSupply:    1_000_000,
		EraThreshold:   2_000_000,
		RewardPerTx:    1,
	}))
	f.chain = chain
	f.server = NewServer(chain, NewAuthenticator(f.auth), f.cop, logging.Discard())
	return f
}

func (f *fixture) token(t *testing.T, subject crypto.Address) string {
	t.Helper()
	token, err := IssueToken(f.auth, subject, time.Hour, time.Now())
	require.NoError(t, err)
	return token
}

func (f *fixture) post(t *testing.T, token, method string, params interface{}) (int, response) {
	t.Helper()
	req := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	if params != nil {
		req["params"] = []interface{}{params}
	}
	body, err := json.Marshal(req)
	require.NoError(t, err)
	return f.raw(t, token, http.MethodPost, body)
}

func (f *fixture) raw(t *testing.T, token, httpMethod string, body []byte) (int, response) {
	t.Helper()
	httpReq := httptest.NewRequest(httpMethod, "/rpc", bytes.NewReader(body))
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, httpReq)
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

// call posts as subject and decodes a successful result into out.
func (f *fixture) call(t *testing.T, subject crypto.Address, method string, params, out interface{}) {
	t.Helper()
	token := ""
	if !subject.IsZero() {
		token = f.token(t, subject)
	}
	code, resp := f.post(t, token, method, params)
	require.Nil(t, resp.Error, "%s failed: %+v", method, resp.Error)
	require.Equal(t, http.StatusOK, code)
	if out != nil {
		require.NoError(t, json.Unmarshal(resp.Result, out))
	}
}

func (f *fixture) encrypt(t *testing.T, owner crypto.Address, value string) inputParam {
	t.Helper()
	var in inputParam
	f.call(t, owner, "fhe_encrypt", encryptParams{Type: "euint64", Value: value}, &in)
	return in
}

func (f *fixture) decryptBalance(t *testing.T, account crypto.Address) string {
	t.Helper()
	var h handleResult
	f.call(t, crypto.Address{}, "ledger_balance", balanceParams{Account: account.String(), Token: usd.String()}, &h)
	var out decryptResult
	f.call(t, account, "fhe_decrypt", decryptParams{Handle: h.Handle}, &out)
	return out.Value
}

func TestPayOverRPC(t *testing.T) {
	f := newFixture(t)
	f.call(t, f.admin, "admin_credit", creditParams{Account: alice.String(), Token: usd.String(), Amount: 100}, nil)

	amount := f.encrypt(t, alice, "30")
	fee := f.encrypt(t, alice, "1")
	var receipt receiptResult
	f.call(t, alice, "ledger_pay", payParams{
		From:   alice.Hex(),
		To:     bob.String(),
		Token:  usd.String(),
		Amount: &amount,
		Fee:    &fee,
	}, &receipt)
	require.Equal(t, alice.String(), receipt.From)
	require.Equal(t, bob.String(), receipt.To)

	require.Equal(t, "70", f.decryptBalance(t, alice))
	require.Equal(t, "30", f.decryptBalance(t, bob))

	var n nonceResult
	f.call(t, crypto.Address{}, "ledger_nonce", addressParams{Address: alice.String()}, &n)
	require.Equal(t, uint64(1), n.Nonce)

	var h handleResult
	f.call(t, crypto.Address{}, "ledger_balance", balanceParams{Account: alice.String(), Token: usd.String()}, &h)
	code, resp := f.post(t, f.token(t, bob), "fhe_decrypt", decryptParams{Handle: h.Handle})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, codeForbidden, resp.Error.Code)
}

func TestWritesRequireCredentials(t *testing.T) {
	f := newFixture(t)
	params := creditParams{Account: alice.String(), Token: usd.String(), Amount: 1}

	code, resp := f.post(t, "", "admin_credit", params)
	require.Equal(t, http.StatusUnauthorized, code)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	now := time.Now()
	expired, err := IssueToken(f.auth, f.admin, time.Minute, now.Add(-time.Hour))
	require.NoError(t, err)
	code, _ = f.post(t, expired, "admin_credit", params)
	require.Equal(t, http.StatusUnauthorized, code)

	foreign := f.auth
	foreign.Audience = "gateway"
	wrongAudience, err := IssueToken(foreign, f.admin, time.Hour, now)
	require.NoError(t, err)
	code, _ = f.post(t, wrongAudience, "admin_credit", params)
	require.Equal(t, http.StatusUnauthorized, code)

	forged := f.auth
	forged.HMACSecret = "guess"
	badSecret, err := IssueToken(forged, f.admin, time.Hour, now)
	require.NoError(t, err)
	code, _ = f.post(t, badSecret, "admin_credit", params)
	require.Equal(t, http.StatusUnauthorized, code)

	// A valid token for the wrong account reaches the chain and is refused there.
	code, resp = f.post(t, f.token(t, alice), "admin_credit", params)
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, codeForbidden, resp.Error.Code)

	// Reads stay open.
	var admin adminResult
	f.call(t, crypto.Address{}, "governance_admin", nil, &admin)
	require.Equal(t, f.admin.String(), admin.Admin)
}

func TestChainErrorsKeepTheirCategory(t *testing.T) {
	f := newFixture(t)
	f.call(t, f.admin, "admin_credit", creditParams{Account: alice.String(), Token: usd.String(), Amount: 100}, nil)

	pay := func(nonce uint64) (int, response) {
		amount := f.encrypt(t, alice, "5")
		fee := f.encrypt(t, alice, "1")
		return f.post(t, f.token(t, alice), "ledger_pay", payParams{
			From:     alice.String(),
			To:       bob.String(),
			Token:    usd.String(),
			Amount:   &amount,
			Fee:      &fee,
			Nonce:    nonce,
			Priority: true,
		})
	}
	code, resp := pay(7)
	require.Equal(t, http.StatusOK, code, "%+v", resp.Error)
	code, resp = pay(7)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, codeReplay, resp.Error.Code)

	gas := f.encrypt(t, alice, "1000")
	code, resp = f.post(t, f.token(t, alice), "vblock_createBlock", createBlockParams{GasLimit: &gas})
	require.Equal(t, http.StatusForbidden, code)
	require.Equal(t, codeForbidden, resp.Error.Code)

	code, resp = f.post(t, f.token(t, f.admin), "governance_acceptAdmin", nil)
	require.Equal(t, http.StatusConflict, code)
	require.Equal(t, codeStateConflict, resp.Error.Code)
}

func TestBlocksOverRPC(t *testing.T) {
	f := newFixture(t)
	f.call(t, f.admin, "admin_addValidator", addressParams{Address: bob.String()}, nil)

	var validators []string
	f.call(t, crypto.Address{}, "chain_validators", nil, &validators)
	require.Equal(t, []string{bob.String()}, validators)

	gas := f.encrypt(t, bob, "30000000")
	var block seqResult
	f.call(t, bob, "vblock_createBlock", createBlockParams{GasLimit: &gas}, &block)

	value := f.encrypt(t, alice, "5")
	var tx seqResult
	f.call(t, alice, "vblock_submitTransaction", submitTxParams{To: bob.String(), Value: &value, Payload: "0x0102"}, &tx)

	used := f.encrypt(t, bob, "21000")
	f.call(t, bob, "vblock_includeTransaction", includeTxParams{TxSeq: tx.Seq, BlockSeq: block.Seq, GasUsed: &used}, nil)

	var count countResult
	f.call(t, crypto.Address{}, "vblock_transactionCount", nil, &count)
	require.Equal(t, uint64(1), count.Count)

	var got transactionResult
	f.call(t, crypto.Address{}, "vblock_getTransaction", seqParams{Seq: tx.Seq}, &got)
	require.True(t, got.Included)
	require.Equal(t, "0x0102", got.Payload)

	var proof proofResult
	f.call(t, crypto.Address{}, "vblock_transactionProof", txBlockParams{TxSeq: tx.Seq, BlockSeq: block.Seq}, &proof)
	require.Equal(t, got.PayloadHash, proof.Leaf)
	require.NotEmpty(t, proof.Root)
}

func TestRequestValidation(t *testing.T) {
	f := newFixture(t)

	code, resp := f.raw(t, "", http.MethodGet, nil)
	require.Equal(t, http.StatusMethodNotAllowed, code)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	code, resp = f.raw(t, "", http.MethodPost, []byte("{"))
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeParseError, resp.Error.Code)

	code, resp = f.post(t, "", "ledger_mint", nil)
	require.Equal(t, http.StatusNotFound, code)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	code, resp = f.post(t, "", "ledger_balance", balanceParams{Account: "nope", Token: usd.String()})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	code, resp = f.post(t, "", "ledger_balance", map[string]string{"account": alice.String(), "token": usd.String(), "extra": "1"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	code, resp = f.post(t, f.token(t, alice), "fhe_encrypt", encryptParams{Type: "euint8", Value: "1"})
	require.Equal(t, http.StatusBadRequest, code)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	require.Contains(t, f.server.Methods(), "ledger_pay")
	require.Contains(t, f.server.Methods(), "staking_claimRewards")
}

func TestEncryptNeedsLocalKey(t *testing.T) {
	f := newFixture(t)
	srv := NewServer(f.chain, NewAuthenticator(f.auth), nil, nil)
	body, err := json.Marshal(map[string]interface{}{
		"jsonrpc": "2.0", "id": 1, "method": "fhe_encrypt",
		"params": []interface{}{encryptParams{Type: "euint64", Value: "1"}},
	})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token(t, alice))
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, req)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
