package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
)

const accountColumns = `id, owner_id, business_name, wallet_address, contact_phone, contact_email, verified,
	credit_limit, current_credit, available_credit, credit_score, risk_level,
	total_volume, monthly_volume, last_volume_update, overdraft_enabled, auto_repayment,
	version, created_at, updated_at`

type PostgresCreditAccountRepository struct {
	db      *sql.DB
	history *PostgresHistoryRepository
}

func NewCreditAccountRepository(db *sql.DB) *PostgresCreditAccountRepository {
	return &PostgresCreditAccountRepository{
		db:      db,
		history: NewHistoryRepository(),
	}
}

func (r *PostgresCreditAccountRepository) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin create account: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	query := `INSERT INTO credit_accounts (` + accountColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`

	_, err = tx.ExecContext(ctx, query,
		account.ID, account.OwnerID, account.BusinessName, account.WalletAddress,
		account.ContactPhone, account.ContactEmail, account.Verified,
		account.CreditLimit, account.CurrentCredit, account.AvailableCredit,
		account.CreditScore, string(account.RiskLevel),
		account.TotalVolume, account.MonthlyVolume, nullTime(account.LastVolumeUpdate),
		account.OverdraftEnabled, account.AutoRepayment,
		account.Version, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return errors.ErrAccountAlreadyExists
		}
		return fmt.Errorf("failed to create credit account: %w", err)
	}

	if err := r.history.UpsertOverdraftEvents(ctx, tx, account.ID, account.OverdraftHistory); err != nil {
		return err
	}
	if err := r.history.InsertPaymentEvents(ctx, tx, account.ID, account.PaymentHistory); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit create account: %w", err)
	}
	tx = nil
	return nil
}

// GetAccountByID reads the account row and both histories from one
// consistent snapshot.
func (r *PostgresCreditAccountRepository) GetAccountByID(ctx context.Context, id string) (*models.CreditAccount, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read account: %w", err)
	}
	defer tx.Rollback()

	query := `SELECT ` + accountColumns + ` FROM credit_accounts WHERE id = $1`

	account := &models.CreditAccount{}
	var riskLevel string
	var lastVolumeUpdate pq.NullTime

	err = tx.QueryRowContext(ctx, query, id).Scan(
		&account.ID, &account.OwnerID, &account.BusinessName, &account.WalletAddress,
		&account.ContactPhone, &account.ContactEmail, &account.Verified,
		&account.CreditLimit, &account.CurrentCredit, &account.AvailableCredit,
		&account.CreditScore, &riskLevel,
		&account.TotalVolume, &account.MonthlyVolume, &lastVolumeUpdate,
		&account.OverdraftEnabled, &account.AutoRepayment,
		&account.Version, &account.CreatedAt, &account.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account by ID: %w", err)
	}
	account.RiskLevel = models.RiskLevel(riskLevel)
	if lastVolumeUpdate.Valid {
		account.LastVolumeUpdate = lastVolumeUpdate.Time
	}

	account.OverdraftHistory, err = r.history.GetOverdraftEvents(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	account.PaymentHistory, err = r.history.GetPaymentEvents(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	return account, nil
}

// SaveAccount writes the account and its new history entries in one
// database transaction guarded by the version column.
func (r *PostgresCreditAccountRepository) SaveAccount(ctx context.Context, account *models.CreditAccount, expectedVersion int64) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin save account: %w", err)
	}
	defer func() {
		if tx != nil {
			tx.Rollback()
		}
	}()

	query := `UPDATE credit_accounts SET
			business_name = $3, wallet_address = $4, contact_phone = $5, contact_email = $6, verified = $7,
			credit_limit = $8, current_credit = $9, available_credit = $10, credit_score = $11, risk_level = $12,
			total_volume = $13, monthly_volume = $14, last_volume_update = $15,
			overdraft_enabled = $16, auto_repayment = $17, updated_at = $18,
			version = version + 1
		WHERE id = $1 AND version = $2`

	result, err := tx.ExecContext(ctx, query,
		account.ID, expectedVersion,
		account.BusinessName, account.WalletAddress, account.ContactPhone, account.ContactEmail, account.Verified,
		account.CreditLimit, account.CurrentCredit, account.AvailableCredit, account.CreditScore, string(account.RiskLevel),
		account.TotalVolume, account.MonthlyVolume, nullTime(account.LastVolumeUpdate),
		account.OverdraftEnabled, account.AutoRepayment, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update credit account: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected after updating credit account: %w", err)
	}
	if rowsAffected == 0 {
		var exists bool
		if err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM credit_accounts WHERE id = $1)`, account.ID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check if credit account exists: %w", err)
		}
		if !exists {
			return errors.ErrAccountNotFound
		}
		return errors.ErrConcurrencyConflict
	}

	if err := r.history.UpsertOverdraftEvents(ctx, tx, account.ID, account.OverdraftHistory); err != nil {
		return err
	}
	if err := r.history.InsertPaymentEvents(ctx, tx, account.ID, account.PaymentHistory); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit save account: %w", err)
	}
	tx = nil

	account.Version = expectedVersion + 1
	return nil
}

func nullTime(t time.Time) pq.NullTime {
	return pq.NullTime{Time: t, Valid: !t.IsZero()}
}
