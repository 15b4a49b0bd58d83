// Package api exposes the runtime over REST and streams applied transitions
// over a websocket feed. It is a thin shell: requests are decoded into
// transactions, handed to the host, and the program's error codes are passed
// through to callers.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/spotdex/pkg/dexerr"
	"github.com/uhyunpark/spotdex/pkg/host"
	"github.com/uhyunpark/spotdex/pkg/instruction"
	"github.com/uhyunpark/spotdex/pkg/state"
)

// Server handles REST and websocket connections.
type Server struct {
	rt     *host.Runtime
	router *mux.Router
	hub    *Hub
	log    *zap.Logger
}

// NewServer wires the router and subscribes the websocket hub to runtime
// events.
func NewServer(rt *host.Runtime, log *zap.Logger) *Server {
	s := &Server{
		rt:     rt,
		router: mux.NewRouter(),
		hub:    NewHub(log),
		log:    log,
	}
	rt.SetEventSink(func(ev host.Event) {
		s.hub.Broadcast(ev.Channel(), ev)
	})
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")
	api.HandleFunc("/markets/{pubkey}", s.handleGetMarket).Methods("GET")
	api.HandleFunc("/orders/{pubkey}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/tokens/{pubkey}", s.handleGetToken).Methods("GET")

	// Dev/setup surface: token account registration and faucets.
	api.HandleFunc("/tokens", s.handleCreateToken).Methods("POST")
	api.HandleFunc("/tokens/{pubkey}/mint", s.handleMint).Methods("POST")
	api.HandleFunc("/faucet", s.handleFund).Methods("POST")

	s.router.HandleFunc("/ws", s.hub.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start blocks serving HTTP on addr.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type"},
	})

	s.log.Info("api server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, c.Handler(s.router))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok", "program": s.rt.ProgramID().Hex()})
}

func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	var req SubmitTxRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed request: "+err.Error(), nil)
		return
	}

	data, err := hexutil.Decode(req.Data)
	if err != nil {
		respondError(w, http.StatusBadRequest, "instruction data: "+err.Error(), nil)
		return
	}

	msg := instruction.Message{Data: data}
	for _, m := range req.Accounts {
		pk, err := state.ParsePubkey(m.Pubkey)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		msg.Accounts = append(msg.Accounts, instruction.AccountMeta{
			Pubkey:     pk,
			IsSigner:   m.IsSigner,
			IsWritable: m.IsWritable,
		})
	}

	var signers []state.Pubkey
	for _, ss := range req.Signers {
		pk, err := state.ParsePubkey(ss)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error(), nil)
			return
		}
		signers = append(signers, pk)
	}

	if err := s.rt.Execute(host.Transaction{Message: msg, Signers: signers}); err != nil {
		s.respondProgramError(w, err)
		return
	}
	respondJSON(w, SubmitTxResponse{Applied: true})
}

// respondProgramError maps transition failures to 422 with the stable code
// attached; anything else is a 500.
func (s *Server) respondProgramError(w http.ResponseWriter, err error) {
	if code, ok := dexerr.CodeOf(err); ok {
		c := uint32(code)
		respondError(w, http.StatusUnprocessableEntity, err.Error(), &c)
		return
	}
	respondError(w, http.StatusInternalServerError, err.Error(), nil)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	pk, err := state.ParsePubkey(mux.Vars(r)["pubkey"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	market, err := s.rt.LoadMarket(pk)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	respondJSON(w, MarketInfo{
		Pubkey:           pk.Hex(),
		Authority:        market.Authority.Hex(),
		BaseMint:         market.BaseMint.Hex(),
		QuoteMint:        market.QuoteMint.Hex(),
		MinBaseOrderSize: market.MinBaseOrderSize,
		TickSize:         market.TickSize,
		FeeRateBps:       market.FeeRateBps,
		NextOrderID:      market.NextOrderID,
		NumBids:          market.NumBids,
		NumAsks:          market.NumAsks,
	})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	pk, err := state.ParsePubkey(mux.Vars(r)["pubkey"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	order, err := s.rt.LoadOrder(pk)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	respondJSON(w, OrderInfo{
		Pubkey:            pk.Hex(),
		OrderID:           order.OrderID,
		Owner:             order.Owner.Hex(),
		Market:            order.Market.Hex(),
		IsBuy:             order.IsBuy,
		LimitPrice:        order.LimitPrice,
		OriginalQuantity:  order.OriginalQuantity,
		RemainingQuantity: order.RemainingQuantity,
		CreationTimestamp: order.CreationTimestamp,
	})
}

func (s *Server) handleGetToken(w http.ResponseWriter, r *http.Request) {
	pk, err := state.ParsePubkey(mux.Vars(r)["pubkey"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	acc, err := s.rt.Tokens().Get(pk)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	if acc == nil {
		respondError(w, http.StatusNotFound, "token account not found", nil)
		return
	}
	respondJSON(w, TokenInfo{
		Pubkey:  acc.Address.Hex(),
		Mint:    acc.Mint.Hex(),
		Owner:   acc.Owner.Hex(),
		Balance: acc.Balance,
	})
}

func (s *Server) handleCreateToken(w http.ResponseWriter, r *http.Request) {
	var req CreateTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	pk, err := state.ParsePubkey(req.Pubkey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	mint, err := state.ParsePubkey(req.Mint)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	owner, err := state.ParsePubkey(req.Owner)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := s.rt.Tokens().CreateAccount(pk, mint, owner); err != nil {
		s.respondProgramError(w, err)
		return
	}
	respondJSON(w, map[string]bool{"created": true})
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	pk, err := state.ParsePubkey(mux.Vars(r)["pubkey"])
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	var req MintRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := s.rt.Tokens().MintTo(pk, req.Amount); err != nil {
		s.respondProgramError(w, err)
		return
	}
	respondJSON(w, map[string]uint64{"balance": s.rt.Tokens().Balance(pk)})
}

func (s *Server) handleFund(w http.ResponseWriter, r *http.Request) {
	var req FundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	pk, err := state.ParsePubkey(req.Pubkey)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if err := s.rt.Fund(pk, req.Lamports); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error(), nil)
		return
	}
	respondJSON(w, map[string]bool{"funded": true})
}
