package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/scoring"
)

// monthlyWindow is how long monthly volume keeps accumulating before the
// next transaction starts a new month.
const monthlyWindow = 30 * 24 * time.Hour

// RecordCompletedTransaction folds a completed merchant transaction into the
// volume aggregates and re-derives score, risk level and limit. Crossing the
// enable threshold with nothing outstanding switches the facility on.
func (s *CreditServiceImpl) RecordCompletedTransaction(ctx context.Context, id string, amount decimal.Decimal, direction models.PaymentDirection) (*models.CreditAccount, error) {
	return s.recordTransaction(ctx, id, amount, direction, models.StatusCompleted)
}

// RecordFailedTransaction keeps a failed transaction in the payment history
// so it weighs on the success rate. Volume is unchanged.
func (s *CreditServiceImpl) RecordFailedTransaction(ctx context.Context, id string, amount decimal.Decimal, direction models.PaymentDirection) (*models.CreditAccount, error) {
	return s.recordTransaction(ctx, id, amount, direction, models.StatusFailed)
}

func (s *CreditServiceImpl) recordTransaction(ctx context.Context, id string, amount decimal.Decimal, direction models.PaymentDirection, status models.EventStatus) (*models.CreditAccount, error) {
	amount = roundAmount(amount)
	if err := validateTransaction(amount, direction); err != nil {
		s.logger.Warn("invalid transaction record",
			"account_id", id,
			"amount", amount.String(),
			"direction", string(direction),
			"error", err.Error(),
		)
		return nil, err
	}

	txID := uuid.NewString()
	autoEnabled := false

	account, before, err := s.update(ctx, id, func(a *models.CreditAccount) error {
		now := s.now()
		autoEnabled = false

		if status == models.StatusCompleted {
			a.TotalVolume = a.TotalVolume.Add(amount)
			if now.Sub(a.LastVolumeUpdate) > monthlyWindow {
				a.MonthlyVolume = amount
			} else {
				a.MonthlyVolume = a.MonthlyVolume.Add(amount)
			}
			a.LastVolumeUpdate = now
		}

		a.PaymentHistory = append(a.PaymentHistory, models.PaymentEvent{
			TransactionID: txID,
			Amount:        amount,
			Timestamp:     now,
			Status:        status,
			Type:          direction,
		})

		rescore(a)

		if status == models.StatusCompleted && !a.OverdraftEnabled &&
			a.CreditScore >= scoring.EnableScoreThreshold && a.CurrentCredit.IsZero() {
			a.OverdraftEnabled = true
			autoEnabled = true
		}
		return nil
	})
	if err != nil {
		s.logger.Warn("failed to record transaction",
			"account_id", id,
			"amount", amount.String(),
			"status", string(status),
			"error", err.Error(),
		)
		return nil, err
	}

	s.recordAudit(ctx, id, models.AuditActionRecordTransaction, before, account.Snapshot())
	s.logger.Info("transaction recorded",
		"account_id", id,
		"transaction_id", txID,
		"amount", amount.String(),
		"direction", string(direction),
		"status", string(status),
		"credit_score", account.CreditScore,
		"risk_level", string(account.RiskLevel),
		"credit_limit", account.CreditLimit.String(),
	)
	if autoEnabled {
		s.logger.Info("overdraft facility enabled automatically",
			"account_id", id,
			"credit_score", account.CreditScore,
		)
	}
	return account, nil
}

// rescore overwrites every derived field from the scoring engine. The stored
// limit never drops below what is already drawn.
func rescore(a *models.CreditAccount) {
	r := scoring.Evaluate(a)
	a.CreditScore = r.CreditScore
	a.RiskLevel = r.RiskLevel
	a.CreditLimit = decimal.Max(r.CreditLimit, a.CurrentCredit)
	a.RecalculateAvailableCredit()
}

func validateTransaction(amount decimal.Decimal, direction models.PaymentDirection) error {
	if !amount.IsPositive() {
		return errors.NewValidationError("amount", "must be positive")
	}
	switch direction {
	case models.PaymentIncoming, models.PaymentOutgoing:
		return nil
	default:
		return errors.NewValidationError("direction", "must be incoming or outgoing")
	}
}
