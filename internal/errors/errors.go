package errors

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Domain errors for the merchant credit service
var (
	ErrAccountNotFound      = errors.New("credit account not found")
	ErrAccountAlreadyExists = errors.New("credit account already exists")
	ErrInvalidAccountID     = errors.New("invalid account ID")
	ErrUnauthorized         = errors.New("requester does not own this account")
	ErrFacilityDisabled     = errors.New("overdraft facility is disabled")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrRiskCapExceeded      = errors.New("amount exceeds the per-request cap for this risk level")
	ErrNotEligible          = errors.New("account is not eligible for overdraft")
	ErrTransferFailed       = errors.New("ledger transfer failed")
	ErrConcurrencyConflict  = errors.New("credit account was modified concurrently")
)

// Code is the machine-readable error code returned to callers.
type Code string

const (
	CodeNotFound            Code = "NOT_FOUND"
	CodeAlreadyExists       Code = "ALREADY_EXISTS"
	CodeUnauthorized        Code = "UNAUTHORIZED"
	CodeFacilityDisabled    Code = "FACILITY_DISABLED"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeRiskCapExceeded     Code = "RISK_CAP_EXCEEDED"
	CodeNotEligible         Code = "NOT_ELIGIBLE"
	CodeTransferFailed      Code = "TRANSFER_FAILED"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeInternal            Code = "INTERNAL"
)

var sentinelCodes = map[error]Code{
	ErrAccountNotFound:      CodeNotFound,
	ErrAccountAlreadyExists: CodeAlreadyExists,
	ErrInvalidAccountID:     CodeValidation,
	ErrUnauthorized:         CodeUnauthorized,
	ErrFacilityDisabled:     CodeFacilityDisabled,
	ErrInvalidAmount:        CodeInvalidAmount,
	ErrRiskCapExceeded:      CodeRiskCapExceeded,
	ErrNotEligible:          CodeNotEligible,
	ErrTransferFailed:       CodeTransferFailed,
	ErrConcurrencyConflict:  CodeConcurrencyConflict,
}

// CreditError is a financial error carrying the account balances at the
// time of failure so callers can explain it without a second read.
type CreditError struct {
	Kind            error
	Message         string
	CurrentCredit   decimal.Decimal
	AvailableCredit decimal.Decimal
	Cause           error
}

func (e *CreditError) Error() string {
	msg := e.Kind.Error()
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap exposes both the sentinel kind and the underlying cause.
func (e *CreditError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Code returns the machine-readable code for the error kind.
func (e *CreditError) Code() Code {
	if code, ok := sentinelCodes[e.Kind]; ok {
		return code
	}
	return CodeInternal
}

func NewCreditError(kind error, message string, currentCredit, availableCredit decimal.Decimal) *CreditError {
	return &CreditError{
		Kind:            kind,
		Message:         message,
		CurrentCredit:   currentCredit,
		AvailableCredit: availableCredit,
	}
}

// WithCause attaches the underlying error, e.g. the ledger failure.
func (e *CreditError) WithCause(cause error) *CreditError {
	e.Cause = cause
	return e
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func NewValidationError(field, message string) error {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// TransactionError wraps a persistence failure during a named operation.
type TransactionError struct {
	Operation string
	Cause     error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction error during '%s': %v", e.Operation, e.Cause)
}

func (e *TransactionError) Unwrap() error {
	return e.Cause
}

func NewTransactionError(operation string, cause error) error {
	return &TransactionError{
		Operation: operation,
		Cause:     cause,
	}
}

// CodeOf maps any error to its machine-readable code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var creditErr *CreditError
	if errors.As(err, &creditErr) {
		return creditErr.Code()
	}
	if IsValidationError(err) {
		return CodeValidation
	}
	for sentinel, code := range sentinelCodes {
		if errors.Is(err, sentinel) {
			return code
		}
	}
	return CodeInternal
}

// AsCreditError extracts a CreditError from the chain.
func AsCreditError(err error) (*CreditError, bool) {
	var creditErr *CreditError
	ok := errors.As(err, &creditErr)
	return creditErr, ok
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAccountAlreadyExists)
}

func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict)
}

func IsTransferFailed(err error) bool {
	return errors.Is(err, ErrTransferFailed)
}

func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
