package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
	"github.com/uhyunpark/dexcore/pkg/app/exchange"
	"github.com/uhyunpark/dexcore/pkg/crypto"
	"github.com/uhyunpark/dexcore/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// EventReader serves the event journal.
type EventReader interface {
	Range(from uint64, limit int) ([]types.Event, error)
	ByAccount(addr common.Address, from uint64, limit int) ([]types.Event, error)
}

// Faucet funds devnet accounts with test tokens.
type Faucet interface {
	Fund(ctx context.Context, symbol types.Symbol, to common.Address, amount *uint256.Int) error
}

// TokenFactory builds the handle for a token being registered.
type TokenFactory func(symbol types.Symbol, address common.Address) (types.Token, error)

type Config struct {
	Exchange     *exchange.Exchange
	Events       EventReader  // optional
	Faucet       Faucet       // optional, devnet only
	TokenFactory TokenFactory // optional; without it POST /tokens is disabled
	Logger       *zap.Logger
	CORSOrigins  []string

	// DevDeposits credits POST /deposits/eth amounts as given. Without it the
	// route exists only if the exchange verifies native deposits on chain.
	DevDeposits bool
}

// Server handles REST API and WebSocket connections
type Server struct {
	ex      *exchange.Exchange
	events  EventReader
	faucet  Faucet
	factory TokenFactory
	nonces  *nonceTracker
	devEth  bool

	router  *mux.Router
	hub     *Hub
	log     *zap.SugaredLogger
	origins []string
}

func NewServer(cfg Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	log := cfg.Logger.Sugar().Named("api")
	s := &Server{
		ex:      cfg.Exchange,
		events:  cfg.Events,
		faucet:  cfg.Faucet,
		factory: cfg.TokenFactory,
		nonces:  newNonceTracker(),
		devEth:  cfg.DevDeposits,
		router:  mux.NewRouter(),
		hub:     NewHub(log),
		log:     log,
		origins: cfg.CORSOrigins,
	}
	s.setupRoutes()
	return s
}

// Hub returns the websocket hub; attach it to the exchange as an event sink.
func (s *Server) Hub() *Hub { return s.hub }

func (s *Server) setupRoutes() {
	s.router.Use(s.instrument)

	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Registry
	api.HandleFunc("/tokens", s.handleGetTokens).Methods("GET")
	api.HandleFunc("/tokens", s.handleRegisterToken).Methods("POST")

	// Custody
	api.HandleFunc("/deposits", s.handleDeposit).Methods("POST")
	switch {
	case s.devEth:
		api.HandleFunc("/deposits/eth", s.handleDepositEth).Methods("POST")
	case s.ex.VerifiesNative():
		api.HandleFunc("/deposits/eth", s.handleClaimEth).Methods("POST")
	}
	api.HandleFunc("/withdrawals", s.handleWithdraw).Methods("POST")

	// Accounts
	api.HandleFunc("/accounts/{address}/balances", s.handleGetBalances).Methods("GET")
	api.HandleFunc("/accounts/{address}/balances/{symbol}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/accounts/{address}/nonce", s.handleGetNonce).Methods("GET")

	// Orders
	api.HandleFunc("/orders", s.handleCreateOrder).Methods("POST")
	api.HandleFunc("/orderbook/{symbol}", s.handleGetDepth).Methods("GET")
	api.HandleFunc("/orderbook/{symbol}/{side}", s.handleGetOrderbook).Methods("GET")

	// Indexer feed
	api.HandleFunc("/events", s.handleGetEvents).Methods("GET")

	if s.faucet != nil {
		api.HandleFunc("/dev/faucet", s.handleFaucet).Methods("POST")
	}

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS.
func (s *Server) Handler() http.Handler {
	origins := s.origins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Request-ID"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go s.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infow("server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// instrument tags each request with an id, records metrics and logs it.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", reqID)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
		if route != "/ws" && route != "/metrics" {
			s.log.Debugw("http_request", "id", reqID, "method", r.Method, "route", route, "status", rec.status, "dur", time.Since(start))
		}
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack is needed by the websocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTokens(w http.ResponseWriter, r *http.Request) {
	list, err := s.ex.Tokens(r.Context())
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]TokenInfo, len(list))
	for i, l := range list {
		out[i] = TokenInfo{Symbol: l.Symbol.String(), Address: l.Address.Hex()}
	}
	respondJSON(w, out)
}

func (s *Server) handleRegisterToken(w http.ResponseWriter, r *http.Request) {
	if s.factory == nil {
		respondError(w, http.StatusNotImplemented, "not_supported", "token registration is disabled on this node")
		return
	}
	caller, p, err := decodeSigned[RegisterTokenPayload](s, r, ActionRegisterToken)
	if err != nil {
		respondErr(w, err)
		return
	}
	if caller != s.ex.Owner() {
		respondErr(w, fmt.Errorf("%w: %s is not the registry owner", types.ErrUnauthorized, caller.Hex()))
		return
	}
	symbol, err := types.NewSymbol(p.Symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	var addr common.Address
	if p.Token != "" {
		if !common.IsHexAddress(p.Token) {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid token address")
			return
		}
		addr = common.HexToAddress(p.Token)
	}
	token, err := s.factory(symbol, addr)
	if err != nil {
		if types.Code(err) == "internal" {
			err = fmt.Errorf("%w: %v", types.ErrInvalidToken, err)
		}
		respondErr(w, err)
		return
	}
	if err := s.ex.Register(r.Context(), caller, symbol, token); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex()})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, p, err := decodeSigned[DepositPayload](s, r, ActionDeposit)
	if err != nil {
		respondErr(w, err)
		return
	}
	symbol, amount, err := parseSymbolAmount(p.Symbol, p.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.ex.Deposit(r.Context(), caller, symbol, amount); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex()})
}

func (s *Server) handleDepositEth(w http.ResponseWriter, r *http.Request) {
	caller, p, err := decodeSigned[DepositEthPayload](s, r, ActionDepositEth)
	if err != nil {
		respondErr(w, err)
		return
	}
	amount, err := parseAmount(p.Amount, types.ErrInvalidAmount)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.ex.DepositEth(r.Context(), caller, amount); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex()})
}

// handleClaimEth credits an on-chain ETH payment into custody.
func (s *Server) handleClaimEth(w http.ResponseWriter, r *http.Request) {
	caller, p, err := decodeSigned[DepositEthPayload](s, r, ActionDepositEth)
	if err != nil {
		respondErr(w, err)
		return
	}
	raw, err := hexutil.Decode(p.TxHash)
	if err != nil || len(raw) != common.HashLength {
		respondError(w, http.StatusBadRequest, "bad_request", "txHash must be a 32-byte hex string")
		return
	}
	hash := common.BytesToHash(raw)
	amount, err := s.ex.ClaimEthDeposit(r.Context(), caller, hash)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("eth_deposit_claimed", "account", caller.Hex(), "tx", hash.Hex(), "amount", amount.Dec())
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex(), Amount: amount.Dec()})
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	caller, p, err := decodeSigned[WithdrawPayload](s, r, ActionWithdraw)
	if err != nil {
		respondErr(w, err)
		return
	}
	symbol, amount, err := parseSymbolAmount(p.Symbol, p.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	if err := s.ex.Withdraw(r.Context(), caller, symbol, amount); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex()})
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, p, err := decodeSigned[OrderPayload](s, r, ActionCreateOrder)
	if err != nil {
		respondErr(w, err)
		return
	}
	// Malformed fields are handed to the exchange as unset values so that
	// rejections come back in its check order (side, symbol, amount, price).
	side := uint8(0xff)
	if p.Side >= 0 && p.Side <= 0xff {
		side = uint8(p.Side)
	}
	symbol, _ := types.NewSymbol(p.Symbol)
	amount, _ := parseAmount(p.Amount, types.ErrInvalidAmount)
	price, _ := parseAmount(p.Price, types.ErrInvalidPrice)

	id, err := s.ex.CreateLimitOrder(r.Context(), caller, symbol, side, amount, price)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("order_submitted", "id", id, "trader", caller.Hex(), "symbol", symbol.String())
	respondJSON(w, SubmitResponse{Status: "ok", Account: caller.Hex(), OrderID: id})
}

func (s *Server) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	bals, err := s.ex.Balances(r.Context(), addr)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := AccountBalances{Address: addr.Hex(), Balances: make(map[string]string, len(bals))}
	for sym, bal := range bals {
		out.Balances[sym.String()] = bal.Dec()
	}
	respondJSON(w, out)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	symbol, err := types.NewSymbol(mux.Vars(r)["symbol"])
	if err != nil {
		respondErr(w, err)
		return
	}
	bal, err := s.ex.BalanceOf(r.Context(), addr, symbol)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, BalanceInfo{Address: addr.Hex(), Symbol: symbol.String(), Balance: bal.Dec()})
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	addr, ok := pathAddress(w, r)
	if !ok {
		return
	}
	respondJSON(w, map[string]interface{}{"address": addr.Hex(), "nextNonce": s.nonces.next(addr)})
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	symbol, err := types.NewSymbol(vars["symbol"])
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", types.ErrUnknownToken, err))
		return
	}
	side, err := types.ParseSideString(vars["side"])
	if err != nil {
		respondErr(w, err)
		return
	}

	orders, err := s.ex.GetOrderBook(r.Context(), symbol, uint8(side))
	if err != nil {
		respondErr(w, err)
		return
	}
	out := OrderbookSide{Symbol: symbol.String(), Side: side.String(), Orders: make([]OrderInfo, len(orders))}
	for i, o := range orders {
		out.Orders[i] = OrderInfo{
			ID:        o.ID,
			Trader:    o.Trader.Hex(),
			Symbol:    o.Symbol.String(),
			Side:      o.Side.String(),
			Amount:    o.Amount.Dec(),
			Price:     o.Price.Dec(),
			CreatedAt: o.CreatedAt,
		}
	}
	respondJSON(w, out)
}

func (s *Server) handleGetDepth(w http.ResponseWriter, r *http.Request) {
	symbol, err := types.NewSymbol(mux.Vars(r)["symbol"])
	if err != nil {
		respondErr(w, fmt.Errorf("%w: %v", types.ErrUnknownToken, err))
		return
	}
	d, err := s.ex.Depth(r.Context(), symbol)
	if err != nil {
		respondErr(w, err)
		return
	}

	bids := make([]PriceLevel, len(d.Bids))
	for i, level := range d.Bids {
		bids[i] = PriceLevel{Price: level.Price.Dec(), Amount: level.Amount.Dec(), Orders: level.Orders}
	}
	asks := make([]PriceLevel, len(d.Asks))
	for i, level := range d.Asks {
		asks[i] = PriceLevel{Price: level.Price.Dec(), Amount: level.Amount.Dec(), Orders: level.Orders}
	}

	respondJSON(w, OrderbookSnapshot{
		Symbol:    symbol.String(),
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotImplemented, "not_supported", "event journal is disabled on this node")
		return
	}
	q := r.URL.Query()
	from, err := parseUintParam(q.Get("from"), 1)
	if err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid from")
		return
	}
	limit, err := parseUintParam(q.Get("limit"), 100)
	if err != nil || limit == 0 || limit > 1000 {
		respondError(w, http.StatusBadRequest, "bad_request", "limit must be 1..1000")
		return
	}

	var events []types.Event
	if acct := q.Get("account"); acct != "" {
		if !common.IsHexAddress(acct) {
			respondError(w, http.StatusBadRequest, "bad_request", "invalid account")
			return
		}
		events, err = s.events.ByAccount(common.HexToAddress(acct), from, int(limit))
	} else {
		events, err = s.events.Range(from, int(limit))
	}
	if err != nil {
		respondErr(w, err)
		return
	}

	next := from
	if n := len(events); n > 0 {
		next = events[n-1].Seq + 1
	}
	respondJSON(w, EventsPage{Events: events, Next: next})
}

func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req FaucetRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	if !common.IsHexAddress(req.Address) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid address")
		return
	}
	symbol, amount, err := parseSymbolAmount(req.Symbol, req.Amount)
	if err != nil {
		respondErr(w, err)
		return
	}
	to := common.HexToAddress(req.Address)
	if err := s.faucet.Fund(r.Context(), symbol, to, amount); err != nil {
		respondErr(w, err)
		return
	}
	s.log.Infow("faucet_funded", "to", to.Hex(), "symbol", symbol.String(), "amount", amount.Dec())
	respondJSON(w, SubmitResponse{Status: "ok", Account: to.Hex()})
}

// ==============================
// Helper Functions
// ==============================

// apiError is a request-level failure that never reached the exchange.
type apiError struct {
	status int
	code   string
	msg    string
}

func (e *apiError) Error() string { return e.code + ": " + e.msg }

// decodeSigned reads a signed envelope, recovers the caller, checks the
// payload action, consumes the payload nonce and decodes the payload into T.
func decodeSigned[T any](s *Server, r *http.Request, action string) (common.Address, T, error) {
	var zero T

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return common.Address{}, zero, &apiError{http.StatusBadRequest, "bad_request", "failed to read body"}
	}
	var env crypto.Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return common.Address{}, zero, &apiError{http.StatusBadRequest, "bad_request", "invalid envelope: " + err.Error()}
	}
	caller, err := env.Signer()
	if err != nil {
		return common.Address{}, zero, &apiError{http.StatusUnauthorized, "bad_signature", err.Error()}
	}

	var payload T
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		return common.Address{}, zero, &apiError{http.StatusBadRequest, "bad_request", "invalid payload: " + err.Error()}
	}
	var n struct {
		Action string  `json:"action"`
		Nonce  *uint64 `json:"nonce"`
	}
	if err := json.Unmarshal(env.Payload, &n); err != nil || n.Nonce == nil {
		return common.Address{}, zero, &apiError{http.StatusBadRequest, "bad_request", "payload nonce is required"}
	}
	if n.Action != action {
		return common.Address{}, zero, &apiError{http.StatusBadRequest, "wrong_action", fmt.Sprintf("payload action %q, endpoint expects %q", n.Action, action)}
	}
	if err := s.nonces.use(caller, *n.Nonce); err != nil {
		return common.Address{}, zero, &apiError{http.StatusUnauthorized, "stale_nonce", err.Error()}
	}
	return caller, payload, nil
}

func parseAmount(s string, kind error) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", kind, s)
	}
	return v, nil
}

func parseSymbolAmount(sym, amt string) (types.Symbol, *uint256.Int, error) {
	symbol, err := types.NewSymbol(sym)
	if err != nil {
		return types.Symbol{}, nil, err
	}
	amount, err := parseAmount(amt, types.ErrInvalidAmount)
	if err != nil {
		return types.Symbol{}, nil, err
	}
	return symbol, amount, nil
}

func parseUintParam(v string, def uint64) (uint64, error) {
	if v == "" {
		return def, nil
	}
	return strconv.ParseUint(v, 10, 64)
}

func pathAddress(w http.ResponseWriter, r *http.Request) (common.Address, bool) {
	addressStr := mux.Vars(r)["address"]
	if !common.IsHexAddress(addressStr) {
		respondError(w, http.StatusBadRequest, "bad_request", "invalid address")
		return common.Address{}, false
	}
	return common.HexToAddress(addressStr), true
}

// statusFor maps a failure kind to its HTTP status.
func statusFor(code string) int {
	switch code {
	case "unauthorized":
		return http.StatusForbidden
	case "already_registered", "already_claimed":
		return http.StatusConflict
	case "unknown_token":
		return http.StatusNotFound
	case "invalid_side", "invalid_amount", "invalid_price", "invalid_symbol", "invalid_token":
		return http.StatusBadRequest
	case "insufficient_balance":
		return http.StatusUnprocessableEntity
	case "transfer_pending":
		return http.StatusAccepted
	case "transfer_failed":
		return http.StatusBadGateway
	case "closed":
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		respondError(w, ae.status, ae.code, ae.msg)
		return
	}
	code := types.Code(err)
	respondError(w, statusFor(code), code, err.Error())
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, code string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   code,
		Message: message,
	})
}
