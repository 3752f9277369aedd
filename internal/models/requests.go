package models

import "github.com/shopspring/decimal"

type CreateAccountRequest struct {
	ID            string `json:"id"`
	OwnerID       string `json:"owner_id"`
	BusinessName  string `json:"business_name"`
	WalletAddress string `json:"wallet_address"`
	ContactPhone  string `json:"contact_phone"`
	ContactEmail  string `json:"contact_email"`
}

type OverdraftRequest struct {
	AccountID string          `json:"-"`
	OwnerID   string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
	Purpose   string          `json:"purpose"`
}

type RepayRequest struct {
	AccountID string          `json:"-"`
	OwnerID   string          `json:"-"`
	Amount    decimal.Decimal `json:"amount"`
}

type ToggleOverdraftRequest struct {
	Enabled bool `json:"enabled"`
}

type AutoRepaymentRequest struct {
	Enabled bool `json:"enabled"`
}

type VerificationRequest struct {
	Verified bool `json:"verified"`
}

type RecordTransactionRequest struct {
	Amount    decimal.Decimal  `json:"amount"`
	Direction PaymentDirection `json:"direction"`
	Status    EventStatus      `json:"status"`
}

type IncomingPaymentRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

// OverdraftResult is returned by borrow and repay.
type OverdraftResult struct {
	AccountID       string             `json:"account_id"`
	TransactionID   string             `json:"transaction_id"`
	Type            OverdraftEventType `json:"type"`
	Amount          decimal.Decimal    `json:"amount"`
	CurrentCredit   decimal.Decimal    `json:"current_credit"`
	AvailableCredit decimal.Decimal    `json:"available_credit"`
	TransactionHash string             `json:"transaction_hash"`
	ExplorerURL     string             `json:"explorer_url,omitempty"`
}

// RecordTransactionResponse is the account after a recorded transaction and
// whatever an incoming payment swept towards the overdraft.
type RecordTransactionResponse struct {
	AccountResponse
	AutoRepaid decimal.Decimal `json:"auto_repaid"`
}

type AutoRepayResponse struct {
	AccountID string          `json:"account_id"`
	Repaid    decimal.Decimal `json:"repaid"`
}

type AccountResponse struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	BusinessName     string           `json:"business_name"`
	WalletAddress    string           `json:"wallet_address"`
	Verified         bool             `json:"verified"`
	CreditLimit      decimal.Decimal  `json:"credit_limit"`
	CurrentCredit    decimal.Decimal  `json:"current_credit"`
	AvailableCredit  decimal.Decimal  `json:"available_credit"`
	CreditScore      int              `json:"credit_score"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	TotalVolume      decimal.Decimal  `json:"total_volume"`
	MonthlyVolume    decimal.Decimal  `json:"monthly_volume"`
	OverdraftEnabled bool             `json:"overdraft_enabled"`
	AutoRepayment    bool             `json:"auto_repayment"`
	OverdraftHistory []OverdraftEvent `json:"overdraft_history"`
}

func NewAccountResponse(a *CreditAccount) AccountResponse {
	history := a.OverdraftHistory
	if history == nil {
		history = []OverdraftEvent{}
	}
	return AccountResponse{
		ID:               a.ID,
		OwnerID:          a.OwnerID,
		BusinessName:     a.BusinessName,
		WalletAddress:    a.WalletAddress,
		Verified:         a.Verified,
		CreditLimit:      a.CreditLimit,
		CurrentCredit:    a.CurrentCredit,
		AvailableCredit:  a.AvailableCredit,
		CreditScore:      a.CreditScore,
		RiskLevel:        a.RiskLevel,
		TotalVolume:      a.TotalVolume,
		MonthlyVolume:    a.MonthlyVolume,
		OverdraftEnabled: a.OverdraftEnabled,
		AutoRepayment:    a.AutoRepayment,
		OverdraftHistory: history,
	}
}

type ErrorResponse struct {
	Error           string           `json:"error"`
	Code            string           `json:"code,omitempty"`
	Message         string           `json:"message"`
	CurrentCredit   *decimal.Decimal `json:"current_credit,omitempty"`
	AvailableCredit *decimal.Decimal `json:"available_credit,omitempty"`
}
