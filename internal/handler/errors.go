package handler

import (
	"log/slog"
	"net/http"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	u "github.com/riteshkumar/merchant-credit/internal/utils"
)

// OwnerHeader carries the identity of the business owner making the request.
const OwnerHeader = "X-Owner-ID"

func ownerID(r *http.Request) string {
	return r.Header.Get(OwnerHeader)
}

func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error, operation string) {
	switch errors.CodeOf(err) {
	case errors.CodeNotFound:
		u.WriteServiceError(w, http.StatusNotFound, "account not found", err)
	case errors.CodeAlreadyExists:
		u.WriteServiceError(w, http.StatusConflict, "account already exists", err)
	case errors.CodeUnauthorized:
		u.WriteServiceError(w, http.StatusForbidden, "not the account owner", err)
	case errors.CodeValidation:
		u.WriteServiceError(w, http.StatusBadRequest, "validation error", err)
	case errors.CodeInvalidAmount:
		u.WriteServiceError(w, http.StatusBadRequest, "invalid amount", err)
	case errors.CodeFacilityDisabled:
		u.WriteServiceError(w, http.StatusUnprocessableEntity, "overdraft disabled", err)
	case errors.CodeRiskCapExceeded:
		u.WriteServiceError(w, http.StatusUnprocessableEntity, "risk cap exceeded", err)
	case errors.CodeNotEligible:
		u.WriteServiceError(w, http.StatusUnprocessableEntity, "not eligible", err)
	case errors.CodeTransferFailed:
		logger.Error("ledger transfer failed during "+operation, "error", err.Error())
		u.WriteServiceError(w, http.StatusBadGateway, "transfer failed", err)
	case errors.CodeConcurrencyConflict:
		u.WriteServiceError(w, http.StatusConflict, "concurrent update, try again", err)
	default:
		logger.Error("internal server error during "+operation, "error", err.Error())
		u.WriteError(w, http.StatusInternalServerError, "internal server error", "")
	}
}
