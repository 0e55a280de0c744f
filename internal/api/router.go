// Package api serves the desk's JSON HTTP API and the live WebSocket stream.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketdesk/internal/account"
	"marketdesk/internal/execution"
	"marketdesk/internal/indicator"
	"marketdesk/internal/ledger"
	"marketdesk/internal/logger"
	"marketdesk/internal/metrics"
	"marketdesk/internal/model"
)

// EventLister returns the most recent ledger events, newest first.
type EventLister interface {
	RecentEvents(ctx context.Context, n int64) ([]ledger.Event, error)
}

// Deps are the services the router exposes. Ledger, Account and Engine are
// required; the rest are optional and their routes answer 503 when unset.
type Deps struct {
	Ledger  *ledger.Ledger
	Account *account.Service
	Engine  *indicator.Engine
	Journal *execution.Journal
	Events  EventLister
	Hub     *Hub
	Metrics *metrics.Metrics
	Health  http.Handler
	Logger  *slog.Logger
}

const maxBodyBytes = 1 << 20

// NewRouter sets up HTTP routes for the API server.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	h := &handlers{Deps: d}
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", h.health)
	mux.HandleFunc("/api/v1/register", h.register)
	mux.HandleFunc("/api/v1/login", h.login)
	mux.HandleFunc("/api/v1/logout", h.logout)
	mux.HandleFunc("/api/v1/wallet", h.wallet)
	mux.HandleFunc("/api/v1/wallet/deposit", h.deposit)
	mux.HandleFunc("/api/v1/wallet/withdraw", h.withdraw)
	mux.HandleFunc("/api/v1/orders", h.orders)
	mux.HandleFunc("/api/v1/orders/", h.orderByID)
	mux.HandleFunc("/api/v1/positions", h.positions)
	mux.HandleFunc("/api/v1/positions/", h.positionByID)
	mux.HandleFunc("/api/v1/summary", h.summary)
	mux.HandleFunc("/api/v1/trades", h.trades)
	mux.HandleFunc("/api/v1/events", h.events)
	mux.HandleFunc("/api/v1/candles", h.candles)
	mux.HandleFunc("/api/v1/indicators", h.indicators)
	mux.HandleFunc("/api/v1/indicators/compute", h.compute)
	mux.HandleFunc("/api/v1/indicators/config", h.indicatorConfig)
	mux.HandleFunc("/api/v1/stream/missed", h.missed)
	if d.Hub != nil {
		mux.Handle("/api/v1/stream", d.Hub)
	}

	return h.trace(mux)
}

type handlers struct {
	Deps
}

// trace tags each request with a trace ID, echoed in X-Trace-ID.
func (h *handlers) trace(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		tid := r.Header.Get("X-Trace-ID")
		if tid == "" {
			tid = logger.GenerateTraceID("api", start)
		}
		ctx := logger.WithTraceID(r.Context(), tid)
		w.Header().Set("X-Trace-ID", tid)

		if r.Method == http.MethodOptions {
			setCORS(w)
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))

		h.Logger.Debug("http request",
			append(logger.LogWithTrace(ctx),
				"method", r.Method,
				"path", r.URL.Path,
				"elapsed", time.Since(start),
			)...,
		)
	})
}

func setCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Trace-ID")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	setCORS(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]any{"success": false, "error": msg})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

func allow(w http.ResponseWriter, r *http.Request, methods ...string) bool {
	for _, m := range methods {
		if r.Method == m {
			return true
		}
	}
	w.Header().Set("Allow", strings.Join(methods, ", "))
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	return false
}

// pathID returns the segment after prefix, plus any trailing action.
// "/api/v1/positions/POS1/exit" with prefix "/api/v1/positions/" gives
// ("POS1", "exit").
func pathID(path, prefix string) (id, action string) {
	rest := strings.Trim(strings.TrimPrefix(path, prefix), "/")
	id, action, _ = strings.Cut(rest, "/")
	return id, action
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v <= 0 {
		return def
	}
	return v
}

// ledgerStatus maps a failed ledger result to an HTTP status.
func ledgerStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, ledger.ErrOrderNotFound), errors.Is(err, ledger.ErrPositionNotFound):
		return http.StatusNotFound
	case errors.Is(err, ledger.ErrOrderNotCancellable), errors.Is(err, ledger.ErrOrderNotPending),
		errors.Is(err, ledger.ErrSymbolHeld):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientMargin):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrInvalidOrder):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// accountStatus maps a failed account result to an HTTP status.
func accountStatus(err error) int {
	switch {
	case errors.Is(err, account.ErrInvalidCredentials),
		errors.Is(err, account.ErrInvalidTOTP),
		errors.Is(err, account.ErrNotLoggedIn):
		return http.StatusUnauthorized
	case errors.Is(err, account.ErrUserExists):
		return http.StatusConflict
	case errors.Is(err, account.ErrInvalidAmount), errors.Is(err, account.ErrMissingField):
		return http.StatusBadRequest
	case errors.Is(err, account.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func writeLedgerResult(w http.ResponseWriter, okCode int, res ledger.Result) {
	if res.Success {
		writeJSON(w, okCode, res)
		return
	}
	writeJSON(w, ledgerStatus(res.Err), res)
}

func writeAccountResult(w http.ResponseWriter, res account.Result) {
	if res.Success {
		writeJSON(w, http.StatusOK, res)
		return
	}
	writeJSON(w, accountStatus(res.Err), res)
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if h.Health != nil {
		setCORS(w)
		h.Health.ServeHTTP(w, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Password string `json:"password"`
	}
	if !decode(w, r, &req) {
		return
	}
	res := h.Account.Register(req.Username, req.Email, req.Phone, req.Password)
	if res.Success {
		writeJSON(w, http.StatusCreated, res)
		return
	}
	writeAccountResult(w, res)
}

func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req struct {
		Identity string `json:"identity"`
		Password string `json:"password"`
		Code     string `json:"code,omitempty"`
	}
	if !decode(w, r, &req) {
		return
	}
	res := h.Account.Login(req.Identity, req.Password, req.Code)
	if !res.Success {
		h.Logger.Warn("login failed", append(logger.LogWithTrace(r.Context()), "identity", req.Identity)...)
	}
	writeAccountResult(w, res)
}

func (h *handlers) logout(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	h.Account.Logout()
	writeJSON(w, http.StatusOK, account.Result{Success: true, Message: "Logged out"})
}

func (h *handlers) wallet(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	wallet, ok := h.Account.Wallet()
	if !ok {
		writeError(w, http.StatusUnauthorized, account.ErrNotLoggedIn.Error())
		return
	}
	writeJSON(w, http.StatusOK, wallet)
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

func (h *handlers) deposit(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	writeAccountResult(w, h.Account.AddMoney(req.Amount))
}

func (h *handlers) withdraw(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req amountRequest
	if !decode(w, r, &req) {
		return
	}
	writeAccountResult(w, h.Account.WithdrawMoney(req.Amount))
}

func (h *handlers) orders(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		orders := h.Ledger.Orders()
		if status := r.URL.Query().Get("status"); status != "" {
			filtered := orders[:0]
			for _, o := range orders {
				if strings.EqualFold(string(o.Status), status) {
					filtered = append(filtered, o)
				}
			}
			orders = filtered
		}
		writeJSON(w, http.StatusOK, orders)

	case http.MethodPost:
		var req ledger.OrderRequest
		if !decode(w, r, &req) {
			return
		}
		req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
		res := h.Ledger.PlaceOrder(req)
		if h.Metrics != nil {
			h.Metrics.RecordPlace(req.Kind, res)
		}
		if !res.Success {
			h.Logger.Info("order rejected",
				append(logger.LogWithTrace(r.Context()), "symbol", req.Symbol, "reason", res.Message)...)
		}
		writeLedgerResult(w, http.StatusCreated, res)

	default:
		allow(w, r, http.MethodGet, http.MethodPost)
	}
}

func (h *handlers) orderByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathID(r.URL.Path, "/api/v1/orders/")
	if id == "" || action != "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		o, ok := h.Ledger.Order(id)
		if !ok {
			writeError(w, http.StatusNotFound, ledger.ErrOrderNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, o)
	case http.MethodDelete:
		writeLedgerResult(w, http.StatusOK, h.Ledger.CancelOrder(id))
	default:
		allow(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (h *handlers) positions(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if r.URL.Query().Get("all") == "true" {
		writeJSON(w, http.StatusOK, h.Ledger.AllPositions())
		return
	}
	writeJSON(w, http.StatusOK, h.Ledger.Positions())
}

func (h *handlers) positionByID(w http.ResponseWriter, r *http.Request) {
	id, action := pathID(r.URL.Path, "/api/v1/positions/")
	switch {
	case id == "":
		writeError(w, http.StatusNotFound, "not found")
	case action == "exit":
		if !allow(w, r, http.MethodPost) {
			return
		}
		writeLedgerResult(w, http.StatusOK, h.Ledger.ExitPosition(id))
	case action == "":
		if !allow(w, r, http.MethodGet) {
			return
		}
		p, ok := h.Ledger.Position(id)
		if !ok {
			writeError(w, http.StatusNotFound, ledger.ErrPositionNotFound.Error())
			return
		}
		writeJSON(w, http.StatusOK, p)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *handlers) summary(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	resp := map[string]any{"ledger": h.Ledger.Summary()}
	if wallet, ok := h.Account.Wallet(); ok {
		resp["wallet"] = wallet
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) trades(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.Journal == nil {
		writeError(w, http.StatusServiceUnavailable, "trade journal disabled")
		return
	}
	trades, err := h.Journal.GetTrades(queryInt(r, "limit", 100))
	if err != nil {
		h.Logger.Error("read trades", append(logger.LogWithTrace(r.Context()), "error", err)...)
		writeError(w, http.StatusInternalServerError, "read trades failed")
		return
	}
	if trades == nil {
		trades = []execution.TradeRecord{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (h *handlers) events(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.Events == nil {
		writeError(w, http.StatusServiceUnavailable, "event history requires the redis backend")
		return
	}
	events, err := h.Events.RecentEvents(r.Context(), int64(queryInt(r, "limit", 50)))
	if err != nil {
		h.Logger.Error("read events", append(logger.LogWithTrace(r.Context()), "error", err)...)
		writeError(w, http.StatusServiceUnavailable, "event history unavailable")
		return
	}
	if events == nil {
		events = []ledger.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *handlers) candles(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeJSON(w, http.StatusOK, map[string]any{"symbols": h.Engine.Symbols()})
		return
	}
	candles := h.Engine.Candles(symbol)
	if limit := queryInt(r, "limit", 0); limit > 0 && len(candles) > limit {
		candles = candles[len(candles)-limit:]
	}
	if candles == nil {
		candles = []model.Candle{}
	}
	writeJSON(w, http.StatusOK, candles)
}

func (h *handlers) indicators(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	series := h.Engine.Series(symbol)
	if series == nil {
		writeError(w, http.StatusNotFound, "no candles for "+symbol)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"symbol":     symbol,
		"indicators": series,
	})
}

// computeRequest runs one indicator on demand. Spec uses the INDICATOR_CONFIGS
// syntax ("ST:10:3") and overrides Name. Candles default to the engine's
// history for Symbol.
type computeRequest struct {
	Name    string         `json:"name"`
	Spec    string         `json:"spec,omitempty"`
	Symbol  string         `json:"symbol,omitempty"`
	Candles []model.Candle `json:"candles,omitempty"`
}

func (h *handlers) compute(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	var req computeRequest
	if !decode(w, r, &req) {
		return
	}

	var settings indicator.Settings
	name := req.Name
	if req.Spec != "" {
		parsed := indicator.ParseSpecs(req.Spec)
		if len(parsed) != 1 {
			writeError(w, http.StatusBadRequest, "spec must name exactly one valid indicator")
			return
		}
		settings = parsed[0]
		name = string(settings.Kind())
	}

	candles := req.Candles
	if len(candles) == 0 && req.Symbol != "" {
		candles = h.Engine.Candles(strings.ToUpper(req.Symbol))
	}

	res, err := indicator.ComputeByName(name, candles, settings)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type indicatorSetting struct {
	Kind     indicator.Kind     `json:"kind"`
	Settings indicator.Settings `json:"settings"`
}

// indicatorConfig lists the configured indicator set (GET) or replaces it
// from an INDICATOR_CONFIGS style spec (PUT {"spec": "..."}).
func (h *handlers) indicatorConfig(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodPut {
		var req struct {
			Spec string `json:"spec"`
		}
		if !decode(w, r, &req) {
			return
		}
		parsed, err := indicator.ParseSpecsStrict(req.Spec)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if err := h.Engine.Reload(parsed); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.Logger.Info("indicator set reloaded", append(logger.LogWithTrace(r.Context()), "spec", req.Spec, "count", len(parsed))...)
	}

	current := h.Engine.Settings()
	out := make([]indicatorSetting, 0, len(current))
	for _, s := range current {
		out = append(out, indicatorSetting{Kind: s.Kind(), Settings: s})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handlers) missed(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if h.Hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream disabled")
		return
	}
	q := r.URL.Query()
	channel := q.Get("channel")
	from, err1 := strconv.ParseInt(q.Get("from"), 10, 64)
	to, err2 := strconv.ParseInt(q.Get("to"), 10, 64)
	if channel == "" || err1 != nil || err2 != nil || from > to {
		writeError(w, http.StatusBadRequest, "channel, from and to are required")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channel":     channel,
		"channel_seq": h.Hub.ChannelSeq(channel),
		"messages":    h.Hub.Missed(channel, from, to),
	})
}
