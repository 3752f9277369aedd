package utils

import (
	"encoding/json"
	"net/http"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
)

func WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

func WriteError(w http.ResponseWriter, status int, errorMsg, details string) {
	response := models.ErrorResponse{
		Error:   errorMsg,
		Message: details,
	}
	WriteJSON(w, status, response)
}

// WriteServiceError writes err with its machine-readable code. Credit errors
// also carry the balances at the time of failure.
func WriteServiceError(w http.ResponseWriter, status int, errorMsg string, err error) {
	response := models.ErrorResponse{
		Error:   errorMsg,
		Code:    string(errors.CodeOf(err)),
		Message: err.Error(),
	}
	if creditErr, ok := errors.AsCreditError(err); ok {
		current, available := creditErr.CurrentCredit, creditErr.AvailableCredit
		response.CurrentCredit = &current
		response.AvailableCredit = &available
	}
	WriteJSON(w, status, response)
}
