package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/riteshkumar/merchant-credit/internal/models"
)

// PostgresHistoryRepository stores the two append-only account histories.
// Event order is kept in an explicit position column. Every method runs
// inside the caller's transaction so histories and account row stay in step.
type PostgresHistoryRepository struct{}

func NewHistoryRepository() *PostgresHistoryRepository {
	return &PostgresHistoryRepository{}
}

// UpsertOverdraftEvents inserts unseen events and applies a status change
// only to events that are still pending.
func (r *PostgresHistoryRepository) UpsertOverdraftEvents(ctx context.Context, tx *sql.Tx, accountID string, events []models.OverdraftEvent) error {
	if len(events) == 0 {
		return nil
	}

	n := len(events)
	ids := make([]string, n)
	positions := make([]int64, n)
	amounts := make([]string, n)
	types := make([]string, n)
	purposes := make([]string, n)
	statuses := make([]string, n)
	hashes := make([]string, n)
	timestamps := make([]string, n)
	for i, ev := range events {
		ids[i] = ev.TransactionID
		positions[i] = int64(i)
		amounts[i] = ev.Amount.String()
		types[i] = string(ev.Type)
		purposes[i] = ev.Purpose
		statuses[i] = string(ev.Status)
		hashes[i] = ev.TransactionHash
		timestamps[i] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	query := `INSERT INTO overdraft_events
			(transaction_id, account_id, position, amount, type, purpose, status, transaction_hash, created_at)
		SELECT e.id, $1, e.position, e.amount, e.type, e.purpose, e.status, e.hash, e.created_at
		FROM unnest($2::text[], $3::int[], $4::numeric[], $5::text[], $6::text[], $7::text[], $8::text[], $9::timestamptz[])
			AS e(id, position, amount, type, purpose, status, hash, created_at)
		ON CONFLICT (transaction_id) DO UPDATE
			SET status = EXCLUDED.status, transaction_hash = EXCLUDED.transaction_hash
			WHERE overdraft_events.status = 'pending' AND EXCLUDED.status <> 'pending'`

	_, err := tx.ExecContext(ctx, query, accountID,
		pq.Array(ids), pq.Array(positions), pq.Array(amounts), pq.Array(types),
		pq.Array(purposes), pq.Array(statuses), pq.Array(hashes), pq.Array(timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert overdraft events: %w", err)
	}
	return nil
}

func (r *PostgresHistoryRepository) InsertPaymentEvents(ctx context.Context, tx *sql.Tx, accountID string, events []models.PaymentEvent) error {
	if len(events) == 0 {
		return nil
	}

	n := len(events)
	ids := make([]string, n)
	positions := make([]int64, n)
	amounts := make([]string, n)
	types := make([]string, n)
	statuses := make([]string, n)
	timestamps := make([]string, n)
	for i, ev := range events {
		ids[i] = ev.TransactionID
		positions[i] = int64(i)
		amounts[i] = ev.Amount.String()
		types[i] = string(ev.Type)
		statuses[i] = string(ev.Status)
		timestamps[i] = ev.Timestamp.UTC().Format(time.RFC3339Nano)
	}

	query := `INSERT INTO payment_events
			(transaction_id, account_id, position, amount, type, status, created_at)
		SELECT e.id, $1, e.position, e.amount, e.type, e.status, e.created_at
		FROM unnest($2::text[], $3::int[], $4::numeric[], $5::text[], $6::text[], $7::timestamptz[])
			AS e(id, position, amount, type, status, created_at)
		ON CONFLICT (transaction_id) DO NOTHING`

	_, err := tx.ExecContext(ctx, query, accountID,
		pq.Array(ids), pq.Array(positions), pq.Array(amounts), pq.Array(types),
		pq.Array(statuses), pq.Array(timestamps),
	)
	if err != nil {
		return fmt.Errorf("failed to insert payment events: %w", err)
	}
	return nil
}

func (r *PostgresHistoryRepository) GetOverdraftEvents(ctx context.Context, tx *sql.Tx, accountID string) ([]models.OverdraftEvent, error) {
	query := `SELECT transaction_id, amount, type, purpose, status, transaction_hash, created_at
		FROM overdraft_events
		WHERE account_id = $1
		ORDER BY position ASC`

	rows, err := tx.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdraft events by account ID: %w", err)
	}
	defer rows.Close()

	var events []models.OverdraftEvent
	for rows.Next() {
		var ev models.OverdraftEvent
		var eventType, status string
		if err := rows.Scan(&ev.TransactionID, &ev.Amount, &eventType, &ev.Purpose, &status, &ev.TransactionHash, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan overdraft event: %w", err)
		}
		ev.Type = models.OverdraftEventType(eventType)
		ev.Status = models.EventStatus(status)
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over overdraft events: %w", err)
	}
	return events, nil
}

func (r *PostgresHistoryRepository) GetPaymentEvents(ctx context.Context, tx *sql.Tx, accountID string) ([]models.PaymentEvent, error) {
	query := `SELECT transaction_id, amount, type, status, created_at
		FROM payment_events
		WHERE account_id = $1
		ORDER BY position ASC`

	rows, err := tx.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to get payment events by account ID: %w", err)
	}
	defer rows.Close()

	var events []models.PaymentEvent
	for rows.Next() {
		var ev models.PaymentEvent
		var direction, status string
		if err := rows.Scan(&ev.TransactionID, &ev.Amount, &direction, &status, &ev.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan payment event: %w", err)
		}
		ev.Type = models.PaymentDirection(direction)
		ev.Status = models.EventStatus(status)
		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over payment events: %w", err)
	}
	return events, nil
}
