package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/scoring"
)

// CreateAccount opens a credit account for a registered business. The
// facility starts disabled with no limit until volume is recorded.
func (s *CreditServiceImpl) CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.CreditAccount, error) {
	if err := s.validateCreateRequest(req); err != nil {
		s.logger.Warn("invalid create account request",
			"account_id", req.ID,
			"owner_id", req.OwnerID,
			"error", err.Error(),
		)
		return nil, err
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := s.now()

	account := &models.CreditAccount{
		ID:               id,
		OwnerID:          req.OwnerID,
		BusinessName:     req.BusinessName,
		WalletAddress:    req.WalletAddress,
		ContactPhone:     req.ContactPhone,
		ContactEmail:     req.ContactEmail,
		CreditLimit:      decimal.Zero,
		CurrentCredit:    decimal.Zero,
		AvailableCredit:  decimal.Zero,
		CreditScore:      models.BaselineCreditScore,
		RiskLevel:        models.RiskHigh,
		TotalVolume:      decimal.Zero,
		MonthlyVolume:    decimal.Zero,
		LastVolumeUpdate: now,
		AutoRepayment:    true,
		OverdraftHistory: []models.OverdraftEvent{},
		PaymentHistory:   []models.PaymentEvent{},
		Version:          1,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.accountRepo.CreateAccount(ctx, account); err != nil {
		if errors.IsAlreadyExists(err) {
			s.logger.Warn("credit account already exists",
				"account_id", id,
			)
			return nil, err
		}

		s.logger.Error("failed to create credit account",
			"account_id", id,
			"error", err.Error(),
		)
		return nil, errors.NewTransactionError("create account", err)
	}

	s.recordAudit(ctx, id, models.AuditActionCreate, nil, account.Snapshot())
	s.logger.Info("credit account created",
		"account_id", id,
		"owner_id", req.OwnerID,
	)
	return account, nil
}

func (s *CreditServiceImpl) GetAccount(ctx context.Context, id string) (*models.CreditAccount, error) {
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	account.RecalculateAvailableCredit()
	return account, nil
}

// AssessCredit scores the account from its current history without
// persisting anything.
func (s *CreditServiceImpl) AssessCredit(ctx context.Context, id string) (*models.CreditAssessment, error) {
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		return nil, err
	}

	assessment := scoring.Assess(account)
	s.logger.Debug("credit assessed",
		"account_id", id,
		"credit_score", assessment.CreditScore,
		"risk_level", string(assessment.RiskLevel),
	)
	return &assessment, nil
}

func (s *CreditServiceImpl) GetAuditTrail(ctx context.Context, id string) ([]*models.AuditLog, error) {
	if _, err := s.loadAccount(ctx, id); err != nil {
		return nil, err
	}

	logs, err := s.auditRepo.GetByEntityID(ctx, models.EntityTypeCreditAccount, id)
	if err != nil {
		s.logger.Error("failed to get audit trail",
			"account_id", id,
			"error", err.Error(),
		)
		return nil, errors.NewTransactionError("get audit trail", err)
	}
	return logs, nil
}

func (s *CreditServiceImpl) SetAutoRepayment(ctx context.Context, id, ownerID string, enabled bool) (*models.CreditAccount, error) {
	account, before, err := s.update(ctx, id, func(a *models.CreditAccount) error {
		if err := authorize(a, ownerID); err != nil {
			return err
		}
		a.AutoRepayment = enabled
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to change auto-repayment",
			"account_id", id,
			"enabled", enabled,
			"error", err.Error(),
		)
		return nil, err
	}

	s.recordAudit(ctx, id, models.AuditActionAutoRepaySetting, before, account.Snapshot())
	s.logger.Info("auto-repayment changed",
		"account_id", id,
		"enabled", enabled,
	)
	return account, nil
}

// SetVerified records the outcome of business verification. It is an
// administrative action and carries no owner check.
func (s *CreditServiceImpl) SetVerified(ctx context.Context, id string, verified bool) (*models.CreditAccount, error) {
	account, before, err := s.update(ctx, id, func(a *models.CreditAccount) error {
		a.Verified = verified
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, id, models.AuditActionVerify, before, account.Snapshot())
	s.logger.Info("business verification changed",
		"account_id", id,
		"verified", verified,
	)
	return account, nil
}

func (s *CreditServiceImpl) validateCreateRequest(req *models.CreateAccountRequest) error {
	if req.OwnerID == "" {
		return errors.NewValidationError("owner_id", "must be non-empty")
	}
	if req.BusinessName == "" {
		return errors.NewValidationError("business_name", "must be non-empty")
	}
	if req.WalletAddress == "" {
		return errors.NewValidationError("wallet_address", "must be non-empty")
	}
	return nil
}
