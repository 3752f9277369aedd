package repository

import (
	"context"

	"github.com/riteshkumar/merchant-credit/internal/models"
)

// CreditAccountRepository persists credit accounts with optimistic
// concurrency. Save succeeds only when the stored version still equals
// expectedVersion; otherwise it returns errors.ErrConcurrencyConflict and
// writes nothing. On success account.Version is advanced.
//
// Histories are append-only: Save inserts events it has not seen before and
// may only move an existing overdraft event out of the pending status.
type CreditAccountRepository interface {
	CreateAccount(ctx context.Context, account *models.CreditAccount) error
	GetAccountByID(ctx context.Context, id string) (*models.CreditAccount, error)
	SaveAccount(ctx context.Context, account *models.CreditAccount, expectedVersion int64) error
}

type AuditRepository interface {
	Create(ctx context.Context, log *models.AuditLog) error
	GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error)
}
