package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/google/uuid"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
)

var (
	accountsBucket = []byte("credit_accounts")
	auditBucket    = []byte("audit_logs")
)

// BoltStore keeps credit accounts and audit logs in a single BoltDB file.
// Bolt serialises write transactions, so the version check and the write in
// SaveAccount can never interleave with another writer.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the database file and its buckets.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{accountsBucket, auditBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bolt buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}

func (s *BoltStore) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to encode credit account: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)
		if b.Get([]byte(account.ID)) != nil {
			return errors.ErrAccountAlreadyExists
		}
		return b.Put([]byte(account.ID), data)
	})
}

func (s *BoltStore) GetAccountByID(ctx context.Context, id string) (*models.CreditAccount, error) {
	var account models.CreditAccount

	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(accountsBucket).Get([]byte(id))
		if v == nil {
			return errors.ErrAccountNotFound
		}
		return json.Unmarshal(v, &account)
	})
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (s *BoltStore) SaveAccount(ctx context.Context, account *models.CreditAccount, expectedVersion int64) error {
	var saved models.CreditAccount

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(accountsBucket)

		existing := b.Get([]byte(account.ID))
		if existing == nil {
			return errors.ErrAccountNotFound
		}
		var stored models.CreditAccount
		if err := json.Unmarshal(existing, &stored); err != nil {
			return fmt.Errorf("failed to decode credit account: %w", err)
		}
		if stored.Version != expectedVersion {
			return errors.ErrConcurrencyConflict
		}

		saved = *account
		saved.OverdraftHistory = MergeOverdraftHistory(stored.OverdraftHistory, account.OverdraftHistory)
		saved.PaymentHistory = MergePaymentHistory(stored.PaymentHistory, account.PaymentHistory)
		saved.Version = expectedVersion + 1

		data, err := json.Marshal(&saved)
		if err != nil {
			return fmt.Errorf("failed to encode credit account: %w", err)
		}
		return b.Put([]byte(account.ID), data)
	})
	if err != nil {
		return err
	}

	*account = saved
	return nil
}

// Create appends an audit entry. Keys sort by entity and then by time.
func (s *BoltStore) Create(ctx context.Context, log *models.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.New().String()
	}
	log.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to encode audit log: %w", err)
	}

	key := fmt.Sprintf("%s%020d/%s", auditPrefix(log.EntityType, log.EntityID), log.CreatedAt.UnixNano(), log.ID)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(auditBucket).Put([]byte(key), data)
	})
}

// GetByEntityID returns the entity's audit entries, newest first.
func (s *BoltStore) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	prefix := []byte(auditPrefix(entityType, entityID))
	logs := []*models.AuditLog{}

	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(auditBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			log := &models.AuditLog{}
			if err := json.Unmarshal(v, log); err != nil {
				return err
			}
			logs = append(logs, log)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get audit logs by entity ID: %w", err)
	}

	for i, j := 0, len(logs)-1; i < j; i, j = i+1, j-1 {
		logs[i], logs[j] = logs[j], logs[i]
	}
	return logs, nil
}

func auditPrefix(entityType, entityID string) string {
	return entityType + "/" + entityID + "/"
}
