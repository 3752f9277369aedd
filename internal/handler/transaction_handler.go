package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/service"
	u "github.com/riteshkumar/merchant-credit/internal/utils"
)

// TransactionHandler receives completed and failed merchant transactions
// from the payment pipeline.
type TransactionHandler struct {
	creditService service.CreditService
	logger        *slog.Logger
}

func NewTransactionHandler(creditService service.CreditService, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{
		creditService: creditService,
		logger:        logger,
	}
}

// RegisterInternalRoutes mounts the transaction feed. Recorded volume drives
// score and limit, so it is never served on the public router.
func (h *TransactionHandler) RegisterInternalRoutes(router *mux.Router) {
	router.HandleFunc("/accounts/{id}/transactions", h.RecordTransaction).Methods(http.MethodPost)
}

// RecordTransaction folds the transaction into the account's scoring inputs.
// A completed incoming payment is then offered to auto-repayment in the same
// request.
func (h *TransactionHandler) RecordTransaction(w http.ResponseWriter, r *http.Request) {
	var req models.RecordTransactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warn("invalid record transaction request", "error", err.Error())
		u.WriteError(w, http.StatusBadRequest, "invalid request payload", err.Error())
		return
	}
	id := mux.Vars(r)["id"]

	var (
		account *models.CreditAccount
		err     error
	)
	switch req.Status {
	case "", models.StatusCompleted:
		account, err = h.creditService.RecordCompletedTransaction(r.Context(), id, req.Amount, req.Direction)
	case models.StatusFailed:
		account, err = h.creditService.RecordFailedTransaction(r.Context(), id, req.Amount, req.Direction)
	default:
		u.WriteError(w, http.StatusBadRequest, "validation error", "status must be completed or failed")
		return
	}
	if err != nil {
		handleServiceError(w, h.logger, err, "record transaction")
		return
	}

	repaid := decimal.Zero
	if req.Status != models.StatusFailed && req.Direction == models.PaymentIncoming {
		repaid = h.creditService.AutoRepayFromIncoming(r.Context(), id, req.Amount)
		if repaid.IsPositive() {
			if refreshed, err := h.creditService.GetAccount(r.Context(), id); err == nil {
				account = refreshed
			}
		}
	}

	u.WriteJSON(w, http.StatusCreated, models.RecordTransactionResponse{
		AccountResponse: models.NewAccountResponse(account),
		AutoRepaid:      repaid,
	})
}
