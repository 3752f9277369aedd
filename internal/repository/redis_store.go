package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
)

const (
	accountKeyPrefix = "credit:account:"
	auditKeyPrefix   = "credit:audit:"
)

// RedisStore keeps each credit account as a JSON document. SaveAccount
// runs under WATCH so a concurrent write to the same key aborts the EXEC.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode credit account: %w", err)
	}

	created, err := s.client.SetNX(ctx, accountKey(account.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create credit account: %w", err)
	}
	if !created {
		return errors.ErrAccountAlreadyExists
	}
	return nil
}

func (s *RedisStore) GetAccountByID(ctx context.Context, id string) (*models.CreditAccount, error) {
	data, err := s.client.Get(ctx, accountKey(id)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, errors.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to get credit account by ID: %w", err)
	}

	var account models.CreditAccount
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("failed to decode credit account: %w", err)
	}
	return &account, nil
}

func (s *RedisStore) SaveAccount(ctx context.Context, account *models.CreditAccount, expectedVersion int64) error {
	key := accountKey(account.ID)
	var saved models.CreditAccount

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if err == redis.Nil {
				return errors.ErrAccountNotFound
			}
			return fmt.Errorf("failed to read credit account: %w", err)
		}

		var stored models.CreditAccount
		if err := json.Unmarshal(data, &stored); err != nil {
			return fmt.Errorf("failed to decode credit account: %w", err)
		}
		if stored.Version != expectedVersion {
			return errors.ErrConcurrencyConflict
		}

		saved = *account
		saved.OverdraftHistory = MergeOverdraftHistory(stored.OverdraftHistory, account.OverdraftHistory)
		saved.PaymentHistory = MergePaymentHistory(stored.PaymentHistory, account.PaymentHistory)
		saved.Version = expectedVersion + 1

		next, err := json.Marshal(&saved)
		if err != nil {
			return fmt.Errorf("failed to encode credit account: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, next, 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if err == redis.TxFailedErr {
		return errors.ErrConcurrencyConflict
	}
	if err != nil {
		return err
	}

	*account = saved
	return nil
}

// Create pushes an audit entry onto the entity's list, newest at the head.
func (s *RedisStore) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}
	if err := s.client.LPush(ctx, auditKey(log.EntityType, log.EntityID), data).Err(); err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

func (s *RedisStore) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	items, err := s.client.LRange(ctx, auditKey(entityType, entityID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by entity ID: %w", err)
	}

	logs := make([]*models.AuditLog, 0, len(items))
	for _, item := range items {
		log := &models.AuditLog{}
		if err := json.Unmarshal([]byte(item), log); err != nil {
			return nil, fmt.Errorf("failed to decode audit log: %w", err)
		}
		logs = append(logs, log)
	}
	return logs, nil
}

func accountKey(id string) string {
	return accountKeyPrefix + id
}

func auditKey(entityType, entityID string) string {
	return auditKeyPrefix + entityType + ":" + entityID
}
