package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

type OverdraftEventType string

const (
	OverdraftBorrow OverdraftEventType = "borrow"
	OverdraftRepay  OverdraftEventType = "repay"
)

type EventStatus string

const (
	StatusPending   EventStatus = "pending"
	StatusCompleted EventStatus = "completed"
	StatusFailed    EventStatus = "failed"
)

type PaymentDirection string

const (
	PaymentIncoming PaymentDirection = "incoming"
	PaymentOutgoing PaymentDirection = "outgoing"
)

// Baseline values for a freshly registered business.
const (
	BaselineCreditScore = 300
	MaxCreditScore      = 1000
)

// OverdraftEvent is one borrow or repay against the facility. Only Status
// and TransactionHash change after the event is appended, and Status moves
// out of pending exactly once.
type OverdraftEvent struct {
	TransactionID   string             `json:"transaction_id"`
	Amount          decimal.Decimal    `json:"amount"`
	Type            OverdraftEventType `json:"type"`
	Purpose         string             `json:"purpose,omitempty"`
	Timestamp       time.Time          `json:"timestamp"`
	Status          EventStatus        `json:"status"`
	TransactionHash string             `json:"transaction_hash,omitempty"`
}

// PaymentEvent is a merchant transaction used as scoring input.
type PaymentEvent struct {
	TransactionID string           `json:"transaction_id"`
	Amount        decimal.Decimal  `json:"amount"`
	Timestamp     time.Time        `json:"timestamp"`
	Status        EventStatus      `json:"status"`
	Type          PaymentDirection `json:"type"`
}

type CreditAccount struct {
	ID               string           `json:"id"`
	OwnerID          string           `json:"owner_id"`
	BusinessName     string           `json:"business_name"`
	WalletAddress    string           `json:"wallet_address"`
	ContactPhone     string           `json:"contact_phone,omitempty"`
	ContactEmail     string           `json:"contact_email,omitempty"`
	Verified         bool             `json:"verified"`
	CreditLimit      decimal.Decimal  `json:"credit_limit"`
	CurrentCredit    decimal.Decimal  `json:"current_credit"`
	AvailableCredit  decimal.Decimal  `json:"available_credit"`
	CreditScore      int              `json:"credit_score"`
	RiskLevel        RiskLevel        `json:"risk_level"`
	TotalVolume      decimal.Decimal  `json:"total_volume"`
	MonthlyVolume    decimal.Decimal  `json:"monthly_volume"`
	LastVolumeUpdate time.Time        `json:"last_volume_update"`
	OverdraftEnabled bool             `json:"overdraft_enabled"`
	AutoRepayment    bool             `json:"auto_repayment"`
	OverdraftHistory []OverdraftEvent `json:"overdraft_history"`
	PaymentHistory   []PaymentEvent   `json:"payment_history"`
	Version          int64            `json:"version"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// RecalculateAvailableCredit derives AvailableCredit from its operands.
func (a *CreditAccount) RecalculateAvailableCredit() {
	a.AvailableCredit = decimal.Max(decimal.Zero, a.CreditLimit.Sub(a.CurrentCredit))
}

// PendingAmount sums the amounts of in-flight overdraft events of one type.
func (a *CreditAccount) PendingAmount(eventType OverdraftEventType) decimal.Decimal {
	total := decimal.Zero
	for _, ev := range a.OverdraftHistory {
		if ev.Type == eventType && ev.Status == StatusPending {
			total = total.Add(ev.Amount)
		}
	}
	return total
}

// FindOverdraftEvent returns the index of the event with the given id, or -1.
func (a *CreditAccount) FindOverdraftEvent(transactionID string) int {
	for i := range a.OverdraftHistory {
		if a.OverdraftHistory[i].TransactionID == transactionID {
			return i
		}
	}
	return -1
}

// Snapshot captures the balance-bearing fields for audit records.
func (a *CreditAccount) Snapshot() CreditSnapshot {
	return CreditSnapshot{
		ID:               a.ID,
		CreditLimit:      a.CreditLimit,
		CurrentCredit:    a.CurrentCredit,
		AvailableCredit:  a.AvailableCredit,
		CreditScore:      a.CreditScore,
		RiskLevel:        a.RiskLevel,
		OverdraftEnabled: a.OverdraftEnabled,
		AutoRepayment:    a.AutoRepayment,
		Verified:         a.Verified,
		Version:          a.Version,
	}
}

type CreditSnapshot struct {
	ID               string          `json:"id"`
	CreditLimit      decimal.Decimal `json:"credit_limit"`
	CurrentCredit    decimal.Decimal `json:"current_credit"`
	AvailableCredit  decimal.Decimal `json:"available_credit"`
	CreditScore      int             `json:"credit_score"`
	RiskLevel        RiskLevel       `json:"risk_level"`
	OverdraftEnabled bool            `json:"overdraft_enabled"`
	AutoRepayment    bool            `json:"auto_repayment"`
	Verified         bool            `json:"verified"`
	Version          int64           `json:"version"`
}

// CreditAssessment is the read-only view of an account's creditworthiness.
type CreditAssessment struct {
	AccountID          string          `json:"account_id"`
	CreditScore        int             `json:"credit_score"`
	RiskLevel          RiskLevel       `json:"risk_level"`
	CreditLimit        decimal.Decimal `json:"credit_limit"`
	AvailableCredit    decimal.Decimal `json:"available_credit"`
	CurrentCredit      decimal.Decimal `json:"current_credit"`
	TotalVolume        decimal.Decimal `json:"total_volume"`
	MonthlyVolume      decimal.Decimal `json:"monthly_volume"`
	PaymentSuccessRate float64         `json:"payment_success_rate"`
	OverdraftEnabled   bool            `json:"overdraft_enabled"`
	Recommendations    []string        `json:"recommendations"`
}

type AuditLog struct {
	ID         string          `json:"id"`
	EntityType string          `json:"entity_type"`
	EntityID   string          `json:"entity_id"`
	Action     string          `json:"action"`
	OldValue   json.RawMessage `json:"old_value"`
	NewValue   json.RawMessage `json:"new_value"`
	CreatedAt  time.Time       `json:"created_at"`
}

const (
	AuditActionCreate            = "CREATE"
	AuditActionBorrow            = "BORROW"
	AuditActionRepay             = "REPAY"
	AuditActionAutoRepay         = "AUTO_REPAY"
	AuditActionTransferFailed    = "TRANSFER_FAILED"
	AuditActionToggle            = "TOGGLE_OVERDRAFT"
	AuditActionAutoRepaySetting  = "AUTO_REPAY_SETTING"
	AuditActionVerify            = "VERIFY"
	AuditActionRecordTransaction = "RECORD_TRANSACTION"
)

const (
	EntityTypeCreditAccount = "CREDIT_ACCOUNT"
)
