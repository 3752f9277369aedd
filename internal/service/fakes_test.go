package service

import (
	"context"
	stderrors "errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/ledger"
	"github.com/riteshkumar/merchant-credit/internal/models"
	"github.com/riteshkumar/merchant-credit/internal/notify"
	"github.com/riteshkumar/merchant-credit/internal/repository"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// memoryStore is an in-memory account and audit store with the same version
// check and history merge as the real backends. conflicts forces that many
// saves to fail.
type memoryStore struct {
	mu        sync.Mutex
	accounts  map[string]*models.CreditAccount
	audit     []*models.AuditLog
	conflicts int
	saves     int
	saveErr   error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[string]*models.CreditAccount)}
}

func cloneAccount(a *models.CreditAccount) *models.CreditAccount {
	c := *a
	c.OverdraftHistory = append([]models.OverdraftEvent(nil), a.OverdraftHistory...)
	c.PaymentHistory = append([]models.PaymentEvent(nil), a.PaymentHistory...)
	return &c
}

func (m *memoryStore) CreateAccount(ctx context.Context, account *models.CreditAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[account.ID]; ok {
		return errors.ErrAccountAlreadyExists
	}
	m.accounts[account.ID] = cloneAccount(account)
	return nil
}

func (m *memoryStore) GetAccountByID(ctx context.Context, id string) (*models.CreditAccount, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return nil, errors.ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

func (m *memoryStore) SaveAccount(ctx context.Context, account *models.CreditAccount, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	stored, ok := m.accounts[account.ID]
	if !ok {
		return errors.ErrAccountNotFound
	}
	if m.conflicts > 0 {
		m.conflicts--
		stored.Version++
		return errors.ErrConcurrencyConflict
	}
	if stored.Version != expectedVersion {
		return errors.ErrConcurrencyConflict
	}
	account.OverdraftHistory = repository.MergeOverdraftHistory(stored.OverdraftHistory, account.OverdraftHistory)
	account.PaymentHistory = repository.MergePaymentHistory(stored.PaymentHistory, account.PaymentHistory)
	account.Version = expectedVersion + 1
	m.accounts[account.ID] = cloneAccount(account)
	m.saves++
	return nil
}

func (m *memoryStore) Create(ctx context.Context, log *models.AuditLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.ID = uuid.NewString()
	log.CreatedAt = testNow
	m.audit = append(m.audit, log)
	return nil
}

func (m *memoryStore) GetByEntityID(ctx context.Context, entityType, entityID string) ([]*models.AuditLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var logs []*models.AuditLog
	for i := len(m.audit) - 1; i >= 0; i-- {
		if m.audit[i].EntityType == entityType && m.audit[i].EntityID == entityID {
			logs = append(logs, m.audit[i])
		}
	}
	return logs, nil
}

func (m *memoryStore) failSaves(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saveErr = err
}

func (m *memoryStore) conflictNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.conflicts = n
}

func (m *memoryStore) account(id string) *models.CreditAccount {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneAccount(m.accounts[id])
}

func (m *memoryStore) auditActions(id string) []string {
	logs, _ := m.GetByEntityID(context.Background(), models.EntityTypeCreditAccount, id)
	actions := make([]string, 0, len(logs))
	for i := len(logs) - 1; i >= 0; i-- {
		actions = append(actions, logs[i].Action)
	}
	return actions
}

// fakeLedger records transfers and whether their context was done. onTransfer
// runs while the transfer is in flight.
type fakeLedger struct {
	mu         sync.Mutex
	transfers  []ledger.TransferRequest
	ctxErrs    []error
	err        error
	onTransfer func()
}

func (f *fakeLedger) Transfer(ctx context.Context, req ledger.TransferRequest) (*ledger.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transfers = append(f.transfers, req)
	if f.onTransfer != nil {
		f.onTransfer()
	}
	f.ctxErrs = append(f.ctxErrs, ctx.Err())
	if f.err != nil {
		return nil, f.err
	}
	return &ledger.Receipt{TransactionHash: "0xhash-" + req.Reference}, nil
}

func (f *fakeLedger) contextErrors() []error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]error(nil), f.ctxErrs...)
}

func (f *fakeLedger) ExplorerURL(txHash string) string {
	return "https://explorer.test/tx/" + txHash
}

func (f *fakeLedger) calls() []ledger.TransferRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ledger.TransferRequest(nil), f.transfers...)
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notify.OverdraftNotification
	err  error
}

func (f *fakeNotifier) NotifyOverdraftEvent(ctx context.Context, n notify.OverdraftNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, n)
	return f.err
}

type testEnv struct {
	svc      *CreditServiceImpl
	store    *memoryStore
	ledger   *fakeLedger
	notifier *fakeNotifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store := newMemoryStore()
	l := &fakeLedger{}
	n := &fakeNotifier{}
	svc := NewCreditService(store, store, l, n,
		Treasury{Wallet: "0xtreasury", Chain: "base", Token: "USDC"},
		DefaultMaxRetries,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	svc.now = func() time.Time { return testNow }
	return &testEnv{svc: svc, store: store, ledger: l, notifier: n}
}

// seed stores an account owned by owner-1 after applying mutate.
func (e *testEnv) seed(t *testing.T, id string, mutate func(a *models.CreditAccount)) {
	t.Helper()
	a := &models.CreditAccount{
		ID:               id,
		OwnerID:          "owner-1",
		BusinessName:     "Duka La Mama",
		WalletAddress:    "0xmerchant",
		ContactPhone:     "+254700000000",
		CreditLimit:      decimal.Zero,
		CurrentCredit:    decimal.Zero,
		CreditScore:      models.BaselineCreditScore,
		RiskLevel:        models.RiskHigh,
		TotalVolume:      decimal.Zero,
		MonthlyVolume:    decimal.Zero,
		LastVolumeUpdate: testNow,
		AutoRepayment:    true,
		Version:          1,
		CreatedAt:        testNow,
		UpdatedAt:        testNow,
	}
	if mutate != nil {
		mutate(a)
	}
	a.RecalculateAvailableCredit()
	if err := e.store.CreateAccount(context.Background(), a); err != nil {
		t.Fatalf("seed account: %v", err)
	}
}

// borrowable configures an enabled facility with the given tier and limit.
func borrowable(level models.RiskLevel, limit string) func(a *models.CreditAccount) {
	return func(a *models.CreditAccount) {
		a.OverdraftEnabled = true
		a.RiskLevel = level
		a.CreditLimit = decimal.RequireFromString(limit)
		switch level {
		case models.RiskLow:
			a.CreditScore = 750
		case models.RiskMedium:
			a.CreditScore = 600
		}
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var (
	errLedgerDown = stderrors.New("ledger unavailable")
	errDiskFull   = stderrors.New("disk full")
)
