package main

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vchain/core"
	"vchain/crypto"
	"vchain/indexer"
)

// chainReader is the read surface the HTTP server needs.
type chainReader interface {
	Metadata() (core.Metadata, error)
	Height() uint64
	Validators() ([]crypto.Address, error)
	Admin() (crypto.Address, error)
}

type server struct {
	chain   chainReader
	events  *indexer.Indexer
	rpc     http.Handler
	logger  *slog.Logger
	handler http.Handler
}

// newServer builds the HTTP surface. A nil rpc handler leaves /rpc unmounted.
func newServer(chain chainReader, idx *indexer.Indexer, rpc http.Handler, logger *slog.Logger) *server {
	s := &server{chain: chain, events: idx, rpc: rpc, logger: logger}
	s.handler = s.buildRouter()
	return s
}

func (s *server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	if s.rpc != nil {
		r.Handle("/rpc", s.rpc)
	}

	r.Route("/v1", func(api chi.Router) {
		api.Get("/chain", s.getChain)
		api.Get("/validators", s.getValidators)
		api.Get("/events", s.getEvents)
	})
	return r
}

type chainView struct {
	Name           string `json:"name"`
	ChainID        uint64 `json:"chainId"`
	PrincipalToken string `json:"principalToken"`
	GasLimit       uint64 `json:"gasLimit"`
	BlockTime      uint64 `json:"blockTimeSeconds"`
	Height         uint64 `json:"height"`
	Admin          string `json:"admin"`
	Initialized    bool   `json:"initialized"`
}

func (s *server) getChain(w http.ResponseWriter, _ *http.Request) {
	meta, err := s.chain.Metadata()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	view := chainView{
		Name:        meta.Name,
		ChainID:     meta.ChainID,
		GasLimit:    meta.GasLimit,
		BlockTime:   meta.BlockTime,
		Height:      s.chain.Height(),
		Initialized: meta.Initialized,
	}
	if meta.Initialized {
		view.PrincipalToken = meta.PrincipalToken.String()
		admin, err := s.chain.Admin()
		if err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		view.Admin = admin.String()
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *server) getValidators(w http.ResponseWriter, _ *http.Request) {
	members, err := s.chain.Validators()
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]string, 0, len(members))
	for _, m := range members {
		out = append(out, m.String())
	}
	writeJSON(w, http.StatusOK, out)
}

type eventView struct {
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func (s *server) getEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		http.Error(w, "indexer disabled", http.StatusNotFound)
		return
	}
	q := r.URL.Query()
	filter := indexer.Filter{Type: q.Get("type"), Module: q.Get("module")}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		filter.After = &after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}
	recs, err := s.events.Query(r.Context(), filter)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]eventView, 0, len(recs))
	for _, rec := range recs {
		attrs, err := rec.Attrs()
		if err != nil {
			s.fail(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, eventView{Sequence: rec.Sequence, Type: rec.Type, Attributes: attrs, CreatedAt: rec.CreatedAt.Unix()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *server) fail(w http.ResponseWriter, status int, err error) {
	s.logger.Error("http request failed", slog.String("error", err.Error()))
	http.Error(w, http.StatusText(status), status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
