package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"vchain/core"
	"vchain/core/events"
	"vchain/crypto"
	"vchain/fhe/local"
	"vchain/indexer"
	"vchain/observability/logging"
	"vchain/rpc"
	"vchain/storage"
)

func newTestServer(t *testing.T) (*server, *core.Chain) {
	return newTestServerWithRPC(t, false)
}

func newTestServerWithRPC(t *testing.T, withRPC bool) (*server, *core.Chain) {
	t.Helper()
	idx, err := indexer.Open(filepath.Join(t.TempDir(), "events.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })

	chain, err := core.NewChain(core.Options{
		DB:          storage.NewMemDB(),
		Coprocessor: local.New(local.Config{Secret: []byte("vchaind")}),
		Emitter:     events.Fanout{idx},
	})
	require.NoError(t, err)
	var handler http.Handler
	if withRPC {
		handler = rpc.NewServer(chain, rpc.NewAuthenticator(rpc.AuthConfig{HMACSecret: "s"}), nil, logging.Discard())
	}
	return newServer(chain, idx, handler, logging.Discard()), chain
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)
	require.Equal(t, http.StatusOK, get(t, srv.handler, "/healthz").Code)
	require.Equal(t, http.StatusOK, get(t, srv.handler, "/metrics").Code)
}

func TestChainAndEvents(t *testing.T) {
	srv, chain := newTestServer(t)

	rec := get(t, srv.handler, "/v1/chain")
	require.Equal(t, http.StatusOK, rec.Code)
	var view chainView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.False(t, view.Initialized)

	ctx := context.Background()
	admin := crypto.Address{0xAD}
	require.NoError(t, chain.Initialize(ctx, admin, core.InitParams{Name: "http", ChainID: 5, PrincipalToken: crypto.Address{0xBB}}))
	require.NoError(t, chain.AddValidator(ctx, admin, crypto.Address{0x11}))

	rec = get(t, srv.handler, "/v1/chain")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	require.True(t, view.Initialized)
	require.Equal(t, uint64(5), view.ChainID)
	require.Equal(t, admin.String(), view.Admin)

	rec = get(t, srv.handler, "/v1/validators")
	var members []string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &members))
	require.Equal(t, []string{crypto.Address{0x11}.String()}, members)

	rec = get(t, srv.handler, "/v1/events?module=chain")
	require.Equal(t, http.StatusOK, rec.Code)
	var evts []eventView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evts))
	require.Len(t, evts, 2)
	require.Equal(t, core.EventTypeInitialized, evts[0].Type)
	require.Equal(t, "http", evts[0].Attributes["name"])

	rec = get(t, srv.handler, fmt.Sprintf("/v1/events?after=%d&limit=1", evts[0].Sequence))
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &evts))
	require.Len(t, evts, 1)
	require.Equal(t, core.EventTypeAdmin, evts[0].Type)

	require.Equal(t, http.StatusBadRequest, get(t, srv.handler, "/v1/events?after=x").Code)
}

func TestRPCMountedWhenEnabled(t *testing.T) {
	srv, _ := newTestServer(t)
	rec := httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"governance_admin"}`)))
	require.Equal(t, http.StatusNotFound, rec.Code)

	srv, chain := newTestServerWithRPC(t, true)
	admin := crypto.Address{0xAD}
	require.NoError(t, chain.Initialize(context.Background(), admin, core.InitParams{Name: "rpc", ChainID: 5, PrincipalToken: crypto.Address{0xBB}}))
	rec = httptest.NewRecorder()
	srv.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"governance_admin"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Result struct {
			Admin string `json:"admin"`
		} `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, admin.String(), resp.Result.Admin)
}
