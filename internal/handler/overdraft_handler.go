package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/service"
	u "github.com/riteshkumar/merchant-credit/internal/utils"
)

type OverdraftHandler struct {
	creditService service.CreditService
	logger        *slog.Logger
}

func NewOverdraftHandler(creditService service.CreditService, logger *slog.Logger) *OverdraftHandler {
	return &OverdraftHandler{
		creditService: creditService,
		logger:        logger,
	}
}

func (h *OverdraftHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/overdraft", h.ToggleOverdraft).Methods(http.MethodPut)
	router.HandleFunc("/accounts/{id}/overdraft/borrow", h.Borrow).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}/overdraft/repay", h.Repay).Methods(http.MethodPost)
}

// RegisterInternalRoutes mounts the auto-repayment hook for the payment
// pipeline. It moves merchant funds without an owner check.
func (h *OverdraftHandler) RegisterInternalRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/auto-repay", h.AutoRepay).Methods(http.MethodPost)
}

func (h *OverdraftHandler) Borrow(w http.ResponseWriter, r *http.Request) {
	var req models.OverdraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid overdraft request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	req.AccountID = mux.Vars(r)["id"]
	req.OwnerID = ownerID(r)

	result, err := h.creditService.RequestOverdraft(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "request overdraft")
		return
	}

	u.WriteJSON(w, http.StatusCreated, result)
}

func (h *OverdraftHandler) Repay(w http.ResponseWriter, r *http.Request) {
	var req models.RepayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid repay request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	req.AccountID = mux.Vars(r)["id"]
	req.OwnerID = ownerID(r)

	result, err := h.creditService.RepayOverdraft(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "repay overdraft")
		return
	}

	u.WriteJSON(w, http.StatusCreated, result)
}

func (h *OverdraftHandler) ToggleOverdraft(w http.ResponseWriter, r *http.Request) {
	var req models.ToggleOverdraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	account, err := h.creditService.ToggleOverdraft(r.Context(), mux.Vars(r)["id"], ownerID(r), req.Enabled)
	if err != nil {
		handleServiceError(w, h.logger, err, "toggle overdraft")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

// AutoRepay always answers 200; a sweep that could not run reports zero.
func (h *OverdraftHandler) AutoRepay(w http.ResponseWriter, r *http.Request) {
	var req models.IncomingPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	id := mux.Vars(r)["id"]
	repaid := h.creditService.AutoRepayFromIncoming(r.Context(), id, req.Amount)

	u.WriteJSON(w, http.StatusOK, models.AutoRepayResponse{
		AccountID: id,
		Repaid:    repaid,
	})
}
