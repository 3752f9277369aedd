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

type AccountHandler struct {
	creditService service.CreditService
	logger        *slog.Logger
}

func NewAccountHandler(creditService service.CreditService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{
		creditService: creditService,
		logger:        logger,
	}
}

func (h *AccountHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/accounts", h.CreateAccount).Methods(http.MethodPost)
	router.HandleFunc("/accounts/{id}", h.GetAccount).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/assessment", h.AssessCredit).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/audit", h.GetAuditTrail).Methods(http.MethodGet)
	router.HandleFunc("/accounts/{id}/auto-repayment", h.SetAutoRepayment).Methods(http.MethodPut)
}

// RegisterInternalRoutes mounts the routes only platform services may call.
func (h *AccountHandler) RegisterInternalRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/verification", h.SetVerified).Methods(http.MethodPut)
}

func (h *AccountHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req models.CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid create account request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	if req.OwnerID == "" {
		req.OwnerID = ownerID(r)
	}

	account, err := h.creditService.CreateAccount(r.Context(), &req)
	if err != nil {
		handleServiceError(w, h.logger, err, "create account")
		return
	}

	u.WriteJSON(w, http.StatusCreated, models.NewAccountResponse(account))
}

func (h *AccountHandler) GetAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.creditService.GetAccount(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, h.logger, err, "get account")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

func (h *AccountHandler) AssessCredit(w http.ResponseWriter, r *http.Request) {
	assessment, err := h.creditService.AssessCredit(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, h.logger, err, "assess credit")
		return
	}

	u.WriteJSON(w, http.StatusOK, assessment)
}

func (h *AccountHandler) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	logs, err := h.creditService.GetAuditTrail(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		handleServiceError(w, h.logger, err, "get audit trail")
		return
	}
	if logs == nil {
		logs = []*models.AuditLog{}
	}

	u.WriteJSON(w, http.StatusOK, logs)
}

func (h *AccountHandler) SetAutoRepayment(w http.ResponseWriter, r *http.Request) {
	var req models.AutoRepaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	account, err := h.creditService.SetAutoRepayment(r.Context(), mux.Vars(r)["id"], ownerID(r), req.Enabled)
	if err != nil {
		handleServiceError(w, h.logger, err, "set auto-repayment")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.NewAccountResponse(account))
}

func (h *AccountHandler) SetVerified(w http.ResponseWriter, r *http.Request) {
	var req models.VerificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}

	account, err := h.creditService.SetVerified(r.Context(), mux.Vars(r)["id"], req.Verified)
	if err != nil {
		handleServiceError(w, h.logger, err, "set verification")
		return
	}

	u.WriteJSON(w, http.StatusOK, models.NewAccountResponse(account))
}
