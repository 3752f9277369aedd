package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/ledger"
	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/notify"
	"github.com/riteshkumar/merchant-credit/internal/repository"
)

// DefaultMaxRetries bounds the optimistic read-validate-write cycle.
const DefaultMaxRetries = 3

// settleAttempts bounds the write that records a transfer outcome. Money has
// already moved by then, so it tries harder than a request would.
const settleAttempts = 10

type CreditService interface {
	CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.CreditAccount, error)
	GetAccount(ctx context.Context, id string) (*models.CreditAccount, error)
	GetAuditTrail(ctx context.Context, id string) ([]*models.AuditLog, error)
	SetAutoRepayment(ctx context.Context, id, ownerID string, enabled bool) (*models.CreditAccount, error)
	SetVerified(ctx context.Context, id string, verified bool) (*models.CreditAccount, error)

	RequestOverdraft(ctx context.Context, req *models.OverdraftRequest) (*models.OverdraftResult, error)
	RepayOverdraft(ctx context.Context, req *models.RepayRequest) (*models.OverdraftResult, error)
	ToggleOverdraft(ctx context.Context, id, ownerID string, enabled bool) (*models.CreditAccount, error)
	AssessCredit(ctx context.Context, id string) (*models.CreditAssessment, error)
	AutoRepayFromIncoming(ctx context.Context, id string, incomingAmount decimal.Decimal) decimal.Decimal

	RecordCompletedTransaction(ctx context.Context, id string, amount decimal.Decimal, direction models.PaymentDirection) (*models.CreditAccount, error)
	RecordFailedTransaction(ctx context.Context, id string, amount decimal.Decimal, direction models.PaymentDirection) (*models.CreditAccount, error)
}

// Treasury identifies the platform wallet that funds overdrafts.
type Treasury struct {
	Wallet string
	Chain  string
	Token  string
}

type CreditServiceImpl struct {
	accountRepo repository.CreditAccountRepository
	auditRepo   repository.AuditRepository
	ledger      ledger.Ledger
	notifier    notify.Notifier
	treasury    Treasury
	maxRetries  int
	now         func() time.Time
	logger      *slog.Logger
}

func NewCreditService(
	accountRepo repository.CreditAccountRepository,
	auditRepo repository.AuditRepository,
	ledgerClient ledger.Ledger,
	notifier notify.Notifier,
	treasury Treasury,
	maxRetries int,
	logger *slog.Logger,
) *CreditServiceImpl {
	if maxRetries < 1 {
		maxRetries = DefaultMaxRetries
	}
	return &CreditServiceImpl{
		accountRepo: accountRepo,
		auditRepo:   auditRepo,
		ledger:      ledgerClient,
		notifier:    notifier,
		treasury:    treasury,
		maxRetries:  maxRetries,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      logger,
	}
}

// update loads the account, applies fn and saves it against the version it
// was loaded at. On a version conflict the whole cycle runs again on a fresh
// read, so fn must derive every change from the account it is given. An
// error from fn aborts without saving.
func (s *CreditServiceImpl) update(ctx context.Context, id string, fn func(a *models.CreditAccount) error) (*models.CreditAccount, models.CreditSnapshot, error) {
	return s.updateN(ctx, id, s.maxRetries, fn)
}

func (s *CreditServiceImpl) updateN(ctx context.Context, id string, attempts int, fn func(a *models.CreditAccount) error) (*models.CreditAccount, models.CreditSnapshot, error) {
	var last *models.CreditAccount
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		account, err := s.loadAccount(ctx, id)
		if err != nil {
			return nil, models.CreditSnapshot{}, err
		}
		before := account.Snapshot()

		if err := fn(account); err != nil {
			return nil, before, err
		}

		account.UpdatedAt = s.now()
		err = s.accountRepo.SaveAccount(ctx, account, before.Version)
		if err == nil {
			return account, before, nil
		}
		if !errors.IsConflict(err) {
			s.logger.Error("failed to save credit account",
				"account_id", id,
				"error", err.Error(),
			)
			return nil, before, errors.NewTransactionError("save account", err)
		}

		s.logger.Warn("credit account modified concurrently, retrying",
			"account_id", id,
			"attempt", attempt,
			"version", before.Version,
		)
		last, lastErr = account, err
	}

	s.logger.Error("giving up after repeated version conflicts",
		"account_id", id,
		"attempts", attempts,
	)
	return nil, models.CreditSnapshot{}, errors.NewCreditError(
		errors.ErrConcurrencyConflict,
		fmt.Sprintf("gave up after %d attempts", attempts),
		last.CurrentCredit, last.AvailableCredit,
	).WithCause(lastErr)
}

func (s *CreditServiceImpl) loadAccount(ctx context.Context, id string) (*models.CreditAccount, error) {
	if id == "" {
		return nil, errors.ErrInvalidAccountID
	}

	account, err := s.accountRepo.GetAccountByID(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			s.logger.Warn("credit account not found",
				"account_id", id,
			)
			return nil, err
		}
		s.logger.Error("failed to get credit account",
			"account_id", id,
			"error", err.Error(),
		)
		return nil, errors.NewTransactionError("get account", err)
	}
	return account, nil
}

func authorize(a *models.CreditAccount, ownerID string) error {
	if ownerID == "" || a.OwnerID != ownerID {
		return errors.NewCreditError(errors.ErrUnauthorized, "", a.CurrentCredit, a.AvailableCredit)
	}
	return nil
}

func creditError(kind error, a *models.CreditAccount, format string, args ...any) *errors.CreditError {
	return errors.NewCreditError(kind, fmt.Sprintf(format, args...), a.CurrentCredit, a.AvailableCredit)
}

// recordAudit stores a before/after snapshot. Audit failures are logged and
// never fail the operation.
func (s *CreditServiceImpl) recordAudit(ctx context.Context, id, action string, oldValue, newValue any) {
	auditLog := &models.AuditLog{
		EntityType: models.EntityTypeCreditAccount,
		EntityID:   id,
		Action:     action,
	}

	var err error
	if oldValue != nil {
		if auditLog.OldValue, err = json.Marshal(oldValue); err != nil {
			s.logger.Error("failed to marshal audit value", "account_id", id, "action", action, "error", err.Error())
			return
		}
	}
	if newValue != nil {
		if auditLog.NewValue, err = json.Marshal(newValue); err != nil {
			s.logger.Error("failed to marshal audit value", "account_id", id, "action", action, "error", err.Error())
			return
		}
	}

	if err := s.auditRepo.Create(context.WithoutCancel(ctx), auditLog); err != nil {
		s.logger.Error("failed to create audit log",
			"account_id", id,
			"action", action,
			"error", err.Error(),
		)
	}
}
