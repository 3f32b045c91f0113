// Package rest serves the venue over HTTP/JSON.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"perpx/api"
	"perpx/service"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type handler struct {
	venue api.Venue
	log   *zap.Logger
}

// NewRouter registers the /v1 routes on a fresh router.
func NewRouter(venue api.Venue, log *zap.Logger) *mux.Router {
	h := &handler{venue: venue, log: log.Named("rest")}

	r := mux.NewRouter()
	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/orders", h.placeOrder).Methods(http.MethodPost)
	v1.HandleFunc("/orders/{id}", h.cancelOrder).Methods(http.MethodDelete)
	v1.HandleFunc("/markets", h.markets).Methods(http.MethodGet)
	v1.HandleFunc("/markets/{market}/book", h.book).Methods(http.MethodGet)
	v1.HandleFunc("/accounts/{trader}", h.account).Methods(http.MethodGet)
	v1.HandleFunc("/deposits", h.collateral(venue.Deposit)).Methods(http.MethodPost)
	v1.HandleFunc("/withdrawals", h.collateral(venue.Withdraw)).Methods(http.MethodPost)
	return r
}

type errorBody struct {
	Error  string               `json:"error"`
	Kind   string               `json:"kind,omitempty"`
	Result *service.OrderResult `json:"result,omitempty"`
}

func (h *handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req api.OrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid order body: " + err.Error(), Kind: service.KindValidation.String()})
		return
	}
	order, err := req.Order()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Kind: service.KindValidation.String()})
		return
	}

	res, err := h.venue.PlaceOrder(r.Context(), order)
	if err != nil {
		code, kind := statusOf(err)
		writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind, Result: res})
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := api.CancelRequest{Trader: q.Get("trader"), OrderID: mux.Vars(r)["id"]}
	if req.Trader == "" {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "trader query parameter is required", Kind: service.KindValidation.String()})
		return
	}

	st, err := h.venue.CancelOrder(r.Context(), req.Trader, req.OrderID)
	if err != nil {
		h.fail(w, err)
		return
	}
	code := http.StatusOK
	if st == service.CancelNotFound {
		code = http.StatusNotFound
	}
	writeJSON(w, code, api.CancelReply{OrderID: req.OrderID, Status: st})
}

func (h *handler) markets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.venue.Markets())
}

func (h *handler) book(w http.ResponseWriter, r *http.Request) {
	levels := 0
	if v := r.URL.Query().Get("levels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "levels must be a non-negative integer", Kind: service.KindValidation.String()})
			return
		}
		levels = n
	}
	view, err := h.venue.Book(mux.Vars(r)["market"], levels)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *handler) account(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.venue.Account(mux.Vars(r)["trader"]))
}

func (h *handler) collateral(settle func(ctx context.Context, trader, txHash string) (decimal.Decimal, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req api.CollateralRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid body: " + err.Error(), Kind: service.KindValidation.String()})
			return
		}
		amount, err := settle(r.Context(), req.Trader, req.TxHash)
		if err != nil {
			h.fail(w, err)
			return
		}
		writeJSON(w, http.StatusOK, api.CollateralReply{Trader: req.Trader, TxHash: req.TxHash, Amount: amount})
	}
}

func (h *handler) fail(w http.ResponseWriter, err error) {
	code, kind := statusOf(err)
	if code >= http.StatusInternalServerError {
		h.log.Warn("request failed", zap.Int("status", code), zap.Error(err))
	}
	writeJSON(w, code, errorBody{Error: err.Error(), Kind: kind})
}

func statusOf(err error) (int, string) {
	if errors.Is(err, service.ErrStopped) {
		return http.StatusServiceUnavailable, "stopped"
	}
	kind := service.KindOf(err)
	switch kind {
	case service.KindValidation:
		return http.StatusBadRequest, kind.String()
	case service.KindMargin:
		return http.StatusUnprocessableEntity, kind.String()
	case service.KindNotFound:
		return http.StatusNotFound, kind.String()
	case service.KindSync, service.KindStale:
		return http.StatusServiceUnavailable, kind.String()
	}
	return http.StatusInternalServerError, kind.String()
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
