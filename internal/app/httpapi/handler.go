// Package httpapi exposes the settlement engine's REST surface.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/lampochka7181/Euromillions-back-end/internal/app"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/metrics"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/payout"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/settlement"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/services/tickets"
	"github.com/lampochka7181/Euromillions-back-end/internal/app/storage"
)

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app         *app.Application
	adminTokens map[string]struct{}
}

// NewHandler returns the router exposing the core REST API. adminTokens
// guard the settlement trigger endpoints; an empty list disables them.
func NewHandler(application *app.Application, adminTokens []string) http.Handler {
	h := &handler{app: application, adminTokens: make(map[string]struct{}, len(adminTokens))}
	for _, token := range adminTokens {
		if trimmed := strings.TrimSpace(token); trimmed != "" {
			h.adminTokens[trimmed] = struct{}{}
		}
	}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/tickets", h.purchaseTicket).Methods(http.MethodPost)
	r.HandleFunc("/tickets", h.listTickets).Methods(http.MethodGet)
	r.HandleFunc("/tickets/{id}", h.getTicket).Methods(http.MethodGet)

	r.HandleFunc("/draws", h.listDraws).Methods(http.MethodGet)
	r.HandleFunc("/draws/{id}", h.getDraw).Methods(http.MethodGet)
	r.HandleFunc("/draws/{id}/winners", h.listWinners).Methods(http.MethodGet)

	r.HandleFunc("/pot", h.getPot).Methods(http.MethodGet)

	r.HandleFunc("/settlements/run", h.requireAdmin(h.runSettlement)).Methods(http.MethodPost)
	r.HandleFunc("/settlements/{drawID}/retry", h.requireAdmin(h.retryPayouts)).Methods(http.MethodPost)

	return metrics.InstrumentHandler(r)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) purchaseTicket(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		OwnerID       string `json:"owner_id"`
		WalletAddress string `json:"wallet_address"`
		Numbers       []int  `json:"numbers"`
		Powerball     int    `json:"powerball"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	bought, err := h.app.Tickets.Purchase(r.Context(), payload.OwnerID, payload.WalletAddress, payload.Numbers, payload.Powerball)
	if err != nil {
		// The sale stood but the pot credit failed; the error names the
		// ticket so the client knows not to buy again.
		if errors.Is(err, tickets.ErrSaleUncredited) {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusCreated, bought)
}

func (h *handler) listTickets(w http.ResponseWriter, r *http.Request) {
	ownerID := strings.TrimSpace(r.URL.Query().Get("owner_id"))
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("owner_id query parameter is required"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}

	list, err := h.app.Tickets.ListByOwner(r.Context(), ownerID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *handler) getTicket(w http.ResponseWriter, r *http.Request) {
	t, err := h.app.Tickets.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handler) listDraws(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("limit must be a non-negative integer"))
			return
		}
		limit = parsed
	}
	draws, err := h.app.Stores.Draws.ListDraws(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, draws)
}

func (h *handler) getDraw(w http.ResponseWriter, r *http.Request) {
	d, err := h.app.Stores.Draws.GetDraw(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *handler) listWinners(w http.ResponseWriter, r *http.Request) {
	drawID := mux.Vars(r)["id"]
	if _, err := h.app.Stores.Draws.GetDraw(r.Context(), drawID); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	records, err := h.app.Stores.WinRecords.ListWinRecords(r.Context(), drawID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *handler) getPot(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Stores.Pot.GetPot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *handler) runSettlement(w http.ResponseWriter, r *http.Request) {
	result, err := h.app.Settlement.Run(r.Context())
	if err != nil {
		if errors.Is(err, settlement.ErrSettlementInFlight) {
			writeError(w, http.StatusConflict, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) retryPayouts(w http.ResponseWriter, r *http.Request) {
	drawID := mux.Vars(r)["drawID"]
	batch, err := h.app.Settlement.RetryPayouts(r.Context(), drawID)
	if err != nil {
		switch {
		case errors.Is(err, settlement.ErrSettlementInFlight):
			writeError(w, http.StatusConflict, err)
		case errors.Is(err, payout.ErrInsufficientFunds):
			writeError(w, http.StatusConflict, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, batch)
}

// requireAdmin guards mutating settlement endpoints with bearer tokens.
func (h *handler) requireAdmin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if len(h.adminTokens) == 0 {
			writeError(w, http.StatusForbidden, fmt.Errorf("settlement endpoints are disabled: no admin tokens configured"))
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if _, ok := h.adminTokens[token]; !ok {
			writeError(w, http.StatusUnauthorized, fmt.Errorf("invalid admin token"))
			return
		}
		next(w, r)
	}
}

func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
