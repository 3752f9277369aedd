package service

import (
	"context"
	stderrors "errors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/ledger"
	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/notify"
	"github.com/riteshkumar/merchant-credit/internal/scoring"
)

// amountPlaces is the precision every stored amount is kept at.
const amountPlaces int32 = 2

var (
	autoRepayShare = decimal.NewFromFloat(0.5)

	errAlreadySettled = stderrors.New("overdraft event already settled")
)

// RequestOverdraft disburses credit from the treasury to the merchant wallet.
//
// The amount is first reserved against the account (a pending borrow that
// already counts towards current credit), then transferred, then settled.
// A version conflict while reserving re-runs every check on fresh state, so
// two concurrent borrows can never together exceed the limit.
func (s *CreditServiceImpl) RequestOverdraft(ctx context.Context, req *models.OverdraftRequest) (*models.OverdraftResult, error) {
	txID := uuid.NewString()
	amount := roundAmount(req.Amount)

	reserved, before, err := s.update(ctx, req.AccountID, func(a *models.CreditAccount) error {
		if err := authorize(a, req.OwnerID); err != nil {
			return err
		}
		if !a.OverdraftEnabled {
			return creditError(errors.ErrFacilityDisabled, a, "enable the overdraft facility first")
		}

		a.RecalculateAvailableCredit()
		if !amount.IsPositive() {
			return creditError(errors.ErrInvalidAmount, a, "amount must be positive")
		}
		if amount.GreaterThan(a.AvailableCredit) {
			return creditError(errors.ErrInvalidAmount, a, "amount %s exceeds available credit %s", amount, a.AvailableCredit)
		}
		if maxAmount, capped := scoring.RiskCap(a.RiskLevel); capped && amount.GreaterThan(maxAmount) {
			return creditError(errors.ErrRiskCapExceeded, a, "%s risk accounts may borrow at most %s per request", a.RiskLevel, maxAmount)
		}

		a.CurrentCredit = a.CurrentCredit.Add(amount)
		a.RecalculateAvailableCredit()
		a.OverdraftHistory = append(a.OverdraftHistory, models.OverdraftEvent{
			TransactionID: txID,
			Amount:        amount,
			Type:          models.OverdraftBorrow,
			Purpose:       req.Purpose,
			Timestamp:     s.now(),
			Status:        models.StatusPending,
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("overdraft request rejected",
			"account_id", req.AccountID,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	// The reference makes the transfer idempotent on the ledger side, so it
	// runs to completion even if the caller goes away.
	receipt, transferErr := s.ledger.Transfer(context.WithoutCancel(ctx), ledger.TransferRequest{
		Amount:     amount,
		FromWallet: s.treasury.Wallet,
		ToWallet:   reserved.WalletAddress,
		Chain:      s.treasury.Chain,
		Token:      s.treasury.Token,
		Reference:  txID,
	})
	if transferErr != nil {
		return nil, s.failTransfer(ctx, reserved, txID, amount, models.OverdraftBorrow, transferErr)
	}

	settled := s.completeTransfer(ctx, req.AccountID, txID, receipt.TransactionHash, reserved)
	s.recordAudit(ctx, req.AccountID, models.AuditActionBorrow, before, settled.Snapshot())
	s.logger.Info("overdraft disbursed",
		"account_id", req.AccountID,
		"transaction_id", txID,
		"amount", amount.String(),
		"current_credit", settled.CurrentCredit.String(),
		"transaction_hash", receipt.TransactionHash,
	)

	result := s.overdraftResult(settled, txID, models.OverdraftBorrow, amount, receipt.TransactionHash)
	s.notify(ctx, settled, result)
	return result, nil
}

func (s *CreditServiceImpl) RepayOverdraft(ctx context.Context, req *models.RepayRequest) (*models.OverdraftResult, error) {
	return s.repay(ctx, req.AccountID, req.OwnerID, req.Amount, models.AuditActionRepay)
}

// repay moves funds from the merchant wallet back to the treasury. The
// pending repay holds part of the outstanding balance so that concurrent
// repayments cannot together exceed it; current credit only drops once the
// transfer succeeds.
func (s *CreditServiceImpl) repay(ctx context.Context, id, ownerID string, amount decimal.Decimal, action string) (*models.OverdraftResult, error) {
	txID := uuid.NewString()
	amount = roundAmount(amount)

	reserved, before, err := s.update(ctx, id, func(a *models.CreditAccount) error {
		if err := authorize(a, ownerID); err != nil {
			return err
		}

		a.RecalculateAvailableCredit()
		if !amount.IsPositive() {
			return creditError(errors.ErrInvalidAmount, a, "amount must be positive")
		}
		if outstanding := repayable(a); amount.GreaterThan(outstanding) {
			return creditError(errors.ErrInvalidAmount, a, "amount %s exceeds outstanding credit %s", amount, outstanding)
		}

		a.OverdraftHistory = append(a.OverdraftHistory, models.OverdraftEvent{
			TransactionID: txID,
			Amount:        amount,
			Type:          models.OverdraftRepay,
			Timestamp:     s.now(),
			Status:        models.StatusPending,
		})
		return nil
	})
	if err != nil {
		s.logger.Warn("overdraft repayment rejected",
			"account_id", id,
			"amount", amount.String(),
			"error", err.Error(),
		)
		return nil, err
	}

	receipt, transferErr := s.ledger.Transfer(context.WithoutCancel(ctx), ledger.TransferRequest{
		Amount:     amount,
		FromWallet: reserved.WalletAddress,
		ToWallet:   s.treasury.Wallet,
		Chain:      s.treasury.Chain,
		Token:      s.treasury.Token,
		Reference:  txID,
	})
	if transferErr != nil {
		return nil, s.failTransfer(ctx, reserved, txID, amount, models.OverdraftRepay, transferErr)
	}

	settled := s.completeTransfer(ctx, id, txID, receipt.TransactionHash, reserved)
	s.recordAudit(ctx, id, action, before, settled.Snapshot())
	s.logger.Info("overdraft repaid",
		"account_id", id,
		"transaction_id", txID,
		"amount", amount.String(),
		"current_credit", settled.CurrentCredit.String(),
		"transaction_hash", receipt.TransactionHash,
	)

	result := s.overdraftResult(settled, txID, models.OverdraftRepay, amount, receipt.TransactionHash)
	s.notify(ctx, settled, result)
	return result, nil
}

// completeTransfer marks the pending event completed. A settled repay
// releases its amount from current credit. The transfer has already
// happened, so a settle failure is logged and the reserved state returned.
func (s *CreditServiceImpl) completeTransfer(ctx context.Context, id, txID, txHash string, reserved *models.CreditAccount) *models.CreditAccount {
	settled, _, err := s.updateN(context.WithoutCancel(ctx), id, settleAttempts, func(a *models.CreditAccount) error {
		idx := a.FindOverdraftEvent(txID)
		if idx < 0 || a.OverdraftHistory[idx].Status != models.StatusPending {
			return errAlreadySettled
		}
		ev := &a.OverdraftHistory[idx]
		ev.Status = models.StatusCompleted
		ev.TransactionHash = txHash
		if ev.Type == models.OverdraftRepay {
			a.CurrentCredit = a.CurrentCredit.Sub(ev.Amount)
		}
		a.RecalculateAvailableCredit()
		return nil
	})
	if err != nil {
		s.logger.Error("failed to settle completed transfer",
			"account_id", id,
			"transaction_id", txID,
			"transaction_hash", txHash,
			"error", err.Error(),
		)
		return reserved
	}
	return settled
}

// failTransfer marks the pending event failed and releases a borrow's
// reservation, leaving balances as they were before the request.
func (s *CreditServiceImpl) failTransfer(ctx context.Context, reserved *models.CreditAccount, txID string, amount decimal.Decimal, eventType models.OverdraftEventType, transferErr error) error {
	id := reserved.ID
	s.logger.Error("ledger transfer failed",
		"account_id", id,
		"transaction_id", txID,
		"type", string(eventType),
		"amount", amount.String(),
		"error", transferErr.Error(),
	)

	released, before, err := s.updateN(context.WithoutCancel(ctx), id, settleAttempts, func(a *models.CreditAccount) error {
		idx := a.FindOverdraftEvent(txID)
		if idx < 0 || a.OverdraftHistory[idx].Status != models.StatusPending {
			return errAlreadySettled
		}
		ev := &a.OverdraftHistory[idx]
		ev.Status = models.StatusFailed
		if ev.Type == models.OverdraftBorrow {
			a.CurrentCredit = a.CurrentCredit.Sub(ev.Amount)
		}
		a.RecalculateAvailableCredit()
		return nil
	})
	if err != nil {
		s.logger.Error("failed to release reservation after transfer failure",
			"account_id", id,
			"transaction_id", txID,
			"error", err.Error(),
		)
		return errors.NewCreditError(errors.ErrTransferFailed, "reservation not released", reserved.CurrentCredit, reserved.AvailableCredit).
			WithCause(stderrors.Join(transferErr, err))
	}

	s.recordAudit(ctx, id, models.AuditActionTransferFailed, before, released.Snapshot())
	return errors.NewCreditError(errors.ErrTransferFailed, string(eventType), released.CurrentCredit, released.AvailableCredit).
		WithCause(transferErr)
}

// AutoRepayFromIncoming sweeps half of an incoming payment towards the
// outstanding overdraft. It never fails: any problem is logged and reported
// as nothing repaid, so the payment that triggered it is unaffected.
func (s *CreditServiceImpl) AutoRepayFromIncoming(ctx context.Context, id string, incomingAmount decimal.Decimal) decimal.Decimal {
	account, err := s.loadAccount(ctx, id)
	if err != nil {
		s.logger.Warn("auto-repayment skipped",
			"account_id", id,
			"error", err.Error(),
		)
		return decimal.Zero
	}
	if !account.AutoRepayment || !account.CurrentCredit.IsPositive() {
		return decimal.Zero
	}

	// The share is cut down to whole cents so it never exceeds half the payment.
	maxRepayment := decimal.Min(incomingAmount.Mul(autoRepayShare).Truncate(amountPlaces), repayable(account))
	if !maxRepayment.IsPositive() {
		return decimal.Zero
	}

	if _, err := s.repay(ctx, id, account.OwnerID, maxRepayment, models.AuditActionAutoRepay); err != nil {
		s.logger.Warn("auto-repayment failed",
			"account_id", id,
			"incoming_amount", incomingAmount.String(),
			"amount", maxRepayment.String(),
			"error", err.Error(),
		)
		return decimal.Zero
	}
	return maxRepayment
}

// ToggleOverdraft switches the facility. Enabling needs a score of at least
// 500 and nothing outstanding; disabling always succeeds.
func (s *CreditServiceImpl) ToggleOverdraft(ctx context.Context, id, ownerID string, enabled bool) (*models.CreditAccount, error) {
	account, before, err := s.update(ctx, id, func(a *models.CreditAccount) error {
		if err := authorize(a, ownerID); err != nil {
			return err
		}
		if enabled {
			if a.CreditScore < scoring.EnableScoreThreshold {
				return creditError(errors.ErrNotEligible, a, "credit score %d is below %d", a.CreditScore, scoring.EnableScoreThreshold)
			}
			if !a.CurrentCredit.IsZero() {
				return creditError(errors.ErrNotEligible, a, "outstanding credit must be repaid first")
			}
		}
		a.OverdraftEnabled = enabled
		return nil
	})
	if err != nil {
		s.logger.Warn("overdraft toggle rejected",
			"account_id", id,
			"enabled", enabled,
			"error", err.Error(),
		)
		return nil, err
	}

	s.recordAudit(ctx, id, models.AuditActionToggle, before, account.Snapshot())
	s.logger.Info("overdraft facility toggled",
		"account_id", id,
		"enabled", enabled,
	)
	return account, nil
}

// roundAmount brings a caller-supplied amount to whole cents. An amount that
// rounds to zero is then rejected as not positive.
func roundAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(amountPlaces)
}

// repayable is the credit that can still be claimed by a new repayment:
// borrows still in flight and repayments already under way are excluded.
func repayable(a *models.CreditAccount) decimal.Decimal {
	return a.CurrentCredit.
		Sub(a.PendingAmount(models.OverdraftBorrow)).
		Sub(a.PendingAmount(models.OverdraftRepay))
}

func (s *CreditServiceImpl) overdraftResult(a *models.CreditAccount, txID string, eventType models.OverdraftEventType, amount decimal.Decimal, txHash string) *models.OverdraftResult {
	return &models.OverdraftResult{
		AccountID:       a.ID,
		TransactionID:   txID,
		Type:            eventType,
		Amount:          amount,
		CurrentCredit:   a.CurrentCredit,
		AvailableCredit: a.AvailableCredit,
		TransactionHash: txHash,
		ExplorerURL:     s.ledger.ExplorerURL(txHash),
	}
}

func (s *CreditServiceImpl) notify(ctx context.Context, a *models.CreditAccount, result *models.OverdraftResult) {
	err := s.notifier.NotifyOverdraftEvent(context.WithoutCancel(ctx), notify.OverdraftNotification{
		AccountID:       a.ID,
		BusinessName:    a.BusinessName,
		PhoneNumber:     a.ContactPhone,
		Email:           a.ContactEmail,
		Amount:          result.Amount,
		Type:            result.Type,
		NewBalance:      result.CurrentCredit,
		AvailableCredit: result.AvailableCredit,
		ExplorerURL:     result.ExplorerURL,
	})
	if err != nil {
		s.logger.Warn("failed to send overdraft notification",
			"account_id", a.ID,
			"transaction_id", result.TransactionID,
			"error", err.Error(),
		)
	}
}
