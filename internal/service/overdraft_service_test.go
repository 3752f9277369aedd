package service

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/riteshkumar/merchant-credit/internal/errors"
	"github.com/riteshkumar/merchant-credit/internal/models"
)

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func borrow(env *testEnv, id, amount string) (*models.OverdraftResult, error) {
	return env.svc.RequestOverdraft(context.Background(), &models.OverdraftRequest{
		AccountID: id,
		OwnerID:   "owner-1",
		Amount:    dec(amount),
		Purpose:   "stock",
	})
}

func repayAmount(env *testEnv, id, amount string) (*models.OverdraftResult, error) {
	return env.svc.RepayOverdraft(context.Background(), &models.RepayRequest{
		AccountID: id,
		OwnerID:   "owner-1",
		Amount:    dec(amount),
	})
}

func TestRequestOverdraft(t *testing.T) {
	t.Run("high risk scenario", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))

		result, err := borrow(env, "acc-1", "50")
		require.NoError(t, err)

		assertDecimal(t, "50", result.CurrentCredit)
		assertDecimal(t, "30", result.AvailableCredit)
		assert.Equal(t, models.OverdraftBorrow, result.Type)
		assert.Equal(t, "0xhash-"+result.TransactionID, result.TransactionHash)
		assert.Equal(t, "https://explorer.test/tx/"+result.TransactionHash, result.ExplorerURL)

		// the remaining 30 is below the per-request cap, 40 is above what is left
		_, err = borrow(env, "acc-1", "40")
		assert.True(t, stderrors.Is(err, errors.ErrInvalidAmount), "got %v", err)

		result, err = borrow(env, "acc-1", "30")
		require.NoError(t, err)
		assertDecimal(t, "80", result.CurrentCredit)
		assertDecimal(t, "0", result.AvailableCredit)
	})

	t.Run("persists completed event and transfers from treasury", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))

		result, err := borrow(env, "acc-1", "50")
		require.NoError(t, err)

		calls := env.ledger.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "0xtreasury", calls[0].FromWallet)
		assert.Equal(t, "0xmerchant", calls[0].ToWallet)
		assert.Equal(t, "base", calls[0].Chain)
		assert.Equal(t, "USDC", calls[0].Token)
		assertDecimal(t, "50", calls[0].Amount)

		stored := env.store.account("acc-1")
		require.Len(t, stored.OverdraftHistory, 1)
		ev := stored.OverdraftHistory[0]
		assert.Equal(t, result.TransactionID, ev.TransactionID)
		assert.Equal(t, models.StatusCompleted, ev.Status)
		assert.Equal(t, result.TransactionHash, ev.TransactionHash)
		assert.Equal(t, "stock", ev.Purpose)
		assertDecimal(t, "50", stored.CurrentCredit)
		assertDecimal(t, "30", stored.AvailableCredit)

		require.Len(t, env.notifier.sent, 1)
		assert.Equal(t, "+254700000000", env.notifier.sent[0].PhoneNumber)
		assert.Equal(t, models.OverdraftBorrow, env.notifier.sent[0].Type)
		assert.Equal(t, []string{models.AuditActionBorrow}, env.store.auditActions("acc-1"))
	})

	t.Run("exact available credit succeeds", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskLow, "1000")(a)
			a.CurrentCredit = dec("749.25")
		})

		_, err := borrow(env, "acc-1", "250.76")
		assert.True(t, stderrors.Is(err, errors.ErrInvalidAmount), "got %v", err)

		result, err := borrow(env, "acc-1", "250.75")
		require.NoError(t, err)
		assertDecimal(t, "1000", result.CurrentCredit)
		assertDecimal(t, "0", result.AvailableCredit)
	})

	t.Run("risk caps are per request", func(t *testing.T) {
		tests := []struct {
			level   models.RiskLevel
			allowed string
			over    string
		}{
			{models.RiskHigh, "50", "50.01"},
			{models.RiskMedium, "200", "200.01"},
		}
		for _, tt := range tests {
			t.Run(string(tt.level), func(t *testing.T) {
				env := newTestEnv(t)
				env.seed(t, "acc-1", borrowable(tt.level, "1000"))

				_, err := borrow(env, "acc-1", tt.over)
				require.Error(t, err)
				assert.Equal(t, errors.CodeRiskCapExceeded, errors.CodeOf(err))

				_, err = borrow(env, "acc-1", tt.allowed)
				require.NoError(t, err)
			})
		}
	})

	t.Run("low risk has no cap beyond available credit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskLow, "5000"))

		result, err := borrow(env, "acc-1", "4000")
		require.NoError(t, err)
		assertDecimal(t, "1000", result.AvailableCredit)
	})

	t.Run("notification failure does not fail the borrow", func(t *testing.T) {
		env := newTestEnv(t)
		env.notifier.err = stderrors.New("sms gateway down")
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))

		_, err := borrow(env, "acc-1", "20")
		require.NoError(t, err)
		assertDecimal(t, "20", env.store.account("acc-1").CurrentCredit)
	})
}

func TestRequestOverdraftValidationOrder(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *models.CreditAccount)
		id     string
		owner  string
		amount string
		want   errors.Code
	}{
		{
			name:   "missing account",
			id:     "nope",
			owner:  "owner-1",
			amount: "10",
			want:   errors.CodeNotFound,
		},
		{
			name:   "owner checked before facility state",
			owner:  "intruder",
			amount: "10",
			want:   errors.CodeUnauthorized,
		},
		{
			name:   "facility disabled before amount",
			mutate: func(a *models.CreditAccount) { a.OverdraftEnabled = false },
			owner:  "owner-1",
			amount: "-1",
			want:   errors.CodeFacilityDisabled,
		},
		{
			name:   "zero amount",
			owner:  "owner-1",
			amount: "0",
			want:   errors.CodeInvalidAmount,
		},
		{
			name:   "amount checked before risk cap",
			owner:  "owner-1",
			amount: "90",
			want:   errors.CodeInvalidAmount,
		},
		{
			name:   "risk cap",
			owner:  "owner-1",
			amount: "60",
			want:   errors.CodeRiskCapExceeded,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.seed(t, "acc-1", func(a *models.CreditAccount) {
				borrowable(models.RiskHigh, "80")(a)
				if tt.mutate != nil {
					tt.mutate(a)
				}
			})
			id := tt.id
			if id == "" {
				id = "acc-1"
			}

			_, err := env.svc.RequestOverdraft(context.Background(), &models.OverdraftRequest{
				AccountID: id,
				OwnerID:   tt.owner,
				Amount:    dec(tt.amount),
			})

			require.Error(t, err)
			assert.Equal(t, tt.want, errors.CodeOf(err))
			assert.Empty(t, env.ledger.calls())
			assert.Equal(t, 0, env.store.saves)
		})
	}

	t.Run("errors carry balances", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskHigh, "80")(a)
			a.CurrentCredit = dec("45")
		})

		_, err := borrow(env, "acc-1", "40")

		creditErr, ok := errors.AsCreditError(err)
		require.True(t, ok)
		assertDecimal(t, "45", creditErr.CurrentCredit)
		assertDecimal(t, "35", creditErr.AvailableCredit)
	})
}

func TestRequestOverdraftTransferFailure(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.err = errLedgerDown
	env.seed(t, "acc-1", func(a *models.CreditAccount) {
		borrowable(models.RiskHigh, "80")(a)
		a.CurrentCredit = dec("10")
	})

	_, err := borrow(env, "acc-1", "50")

	require.Error(t, err)
	assert.True(t, errors.IsTransferFailed(err))
	assert.True(t, stderrors.Is(err, errLedgerDown))
	creditErr, ok := errors.AsCreditError(err)
	require.True(t, ok)
	assertDecimal(t, "10", creditErr.CurrentCredit)
	assertDecimal(t, "70", creditErr.AvailableCredit)

	stored := env.store.account("acc-1")
	assertDecimal(t, "10", stored.CurrentCredit)
	assertDecimal(t, "70", stored.AvailableCredit)
	require.Len(t, stored.OverdraftHistory, 1)
	assert.Equal(t, models.StatusFailed, stored.OverdraftHistory[0].Status)
	assert.Empty(t, stored.OverdraftHistory[0].TransactionHash)
	assert.Empty(t, env.notifier.sent)
	assert.Equal(t, []string{models.AuditActionTransferFailed}, env.store.auditActions("acc-1"))
}

func TestRepayOverdraft(t *testing.T) {
	owing := func(a *models.CreditAccount) {
		borrowable(models.RiskHigh, "80")(a)
		a.CurrentCredit = dec("50")
	}

	t.Run("repays into treasury", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", owing)

		result, err := repayAmount(env, "acc-1", "20")
		require.NoError(t, err)

		assertDecimal(t, "30", result.CurrentCredit)
		assertDecimal(t, "50", result.AvailableCredit)
		calls := env.ledger.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, "0xmerchant", calls[0].FromWallet)
		assert.Equal(t, "0xtreasury", calls[0].ToWallet)

		stored := env.store.account("acc-1")
		require.Len(t, stored.OverdraftHistory, 1)
		assert.Equal(t, models.OverdraftRepay, stored.OverdraftHistory[0].Type)
		assert.Equal(t, models.StatusCompleted, stored.OverdraftHistory[0].Status)
		assert.Equal(t, []string{models.AuditActionRepay}, env.store.auditActions("acc-1"))
	})

	t.Run("allowed while facility disabled", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			owing(a)
			a.OverdraftEnabled = false
		})

		result, err := repayAmount(env, "acc-1", "50")
		require.NoError(t, err)
		assertDecimal(t, "0", result.CurrentCredit)
	})

	t.Run("invalid amounts", func(t *testing.T) {
		for _, amount := range []string{"0", "-5", "50.01"} {
			env := newTestEnv(t)
			env.seed(t, "acc-1", owing)

			_, err := repayAmount(env, "acc-1", amount)
			assert.Equal(t, errors.CodeInvalidAmount, errors.CodeOf(err), "amount %s", amount)
			assert.Empty(t, env.ledger.calls())
		}
	})

	t.Run("unauthorized", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", owing)

		_, err := env.svc.RepayOverdraft(context.Background(), &models.RepayRequest{
			AccountID: "acc-1", OwnerID: "owner-2", Amount: dec("10"),
		})
		assert.True(t, errors.IsUnauthorized(err))
	})

	t.Run("pending repayments hold the outstanding balance", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			owing(a)
			a.OverdraftHistory = []models.OverdraftEvent{
				{TransactionID: "in-flight", Amount: dec("40"), Type: models.OverdraftRepay, Status: models.StatusPending, Timestamp: testNow},
			}
		})

		_, err := repayAmount(env, "acc-1", "20")
		assert.Equal(t, errors.CodeInvalidAmount, errors.CodeOf(err))

		_, err = repayAmount(env, "acc-1", "10")
		require.NoError(t, err)
	})

	t.Run("transfer failure leaves balance unchanged", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.err = errLedgerDown
		env.seed(t, "acc-1", owing)

		_, err := repayAmount(env, "acc-1", "20")

		assert.True(t, errors.IsTransferFailed(err))
		stored := env.store.account("acc-1")
		assertDecimal(t, "50", stored.CurrentCredit)
		require.Len(t, stored.OverdraftHistory, 1)
		assert.Equal(t, models.StatusFailed, stored.OverdraftHistory[0].Status)
	})

	t.Run("repay then borrow restores credit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", owing)

		_, err := repayAmount(env, "acc-1", "25")
		require.NoError(t, err)
		result, err := borrow(env, "acc-1", "25")
		require.NoError(t, err)

		assertDecimal(t, "50", result.CurrentCredit)
		assert.Len(t, env.store.account("acc-1").OverdraftHistory, 2)
	})
}

func TestToggleOverdraft(t *testing.T) {
	t.Run("score below threshold", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) { a.CreditScore = 450 })

		_, err := env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-1", true)
		assert.Equal(t, errors.CodeNotEligible, errors.CodeOf(err))
	})

	t.Run("outstanding credit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			a.CreditScore = 600
			a.CreditLimit = dec("500")
			a.CurrentCredit = dec("1")
		})

		_, err := env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-1", true)
		assert.Equal(t, errors.CodeNotEligible, errors.CodeOf(err))
	})

	t.Run("enable and disable", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) { a.CreditScore = 500 })

		account, err := env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-1", true)
		require.NoError(t, err)
		assert.True(t, account.OverdraftEnabled)

		account, err = env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-1", false)
		require.NoError(t, err)
		assert.False(t, account.OverdraftEnabled)
		assert.Equal(t, []string{models.AuditActionToggle, models.AuditActionToggle}, env.store.auditActions("acc-1"))
	})

	t.Run("disable is unconditional", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskHigh, "80")(a)
			a.CurrentCredit = dec("80")
		})

		account, err := env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-1", false)
		require.NoError(t, err)
		assert.False(t, account.OverdraftEnabled)
	})

	t.Run("unauthorized", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", nil)

		_, err := env.svc.ToggleOverdraft(context.Background(), "acc-1", "owner-2", false)
		assert.True(t, errors.IsUnauthorized(err))
	})
}

func TestAutoRepayFromIncoming(t *testing.T) {
	owing := func(a *models.CreditAccount) {
		borrowable(models.RiskMedium, "200")(a)
		a.CurrentCredit = dec("150")
	}

	t.Run("repays half of incoming", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", owing)

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("200"))

		assertDecimal(t, "100", repaid)
		assertDecimal(t, "50", env.store.account("acc-1").CurrentCredit)
		calls := env.ledger.calls()
		require.Len(t, calls, 1)
		assertDecimal(t, "100", calls[0].Amount)
		assert.Equal(t, []string{models.AuditActionAutoRepay}, env.store.auditActions("acc-1"))
	})

	t.Run("capped at outstanding credit", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", owing)

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("1000"))

		assertDecimal(t, "150", repaid)
		assertDecimal(t, "0", env.store.account("acc-1").CurrentCredit)
	})

	t.Run("nothing outstanding", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskMedium, "200"))

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("200"))

		assert.True(t, repaid.IsZero())
		assert.Empty(t, env.ledger.calls())
	})

	t.Run("auto-repayment off", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			owing(a)
			a.AutoRepayment = false
		})

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("200"))

		assert.True(t, repaid.IsZero())
		assert.Empty(t, env.ledger.calls())
	})

	t.Run("failures are swallowed", func(t *testing.T) {
		env := newTestEnv(t)
		env.ledger.err = errLedgerDown
		env.seed(t, "acc-1", owing)

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("200"))

		assert.True(t, repaid.IsZero())
		assertDecimal(t, "150", env.store.account("acc-1").CurrentCredit)
	})

	t.Run("missing account", func(t *testing.T) {
		env := newTestEnv(t)

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "nope", dec("200"))
		assert.True(t, repaid.IsZero())
	})
}

func TestOptimisticRetries(t *testing.T) {
	t.Run("conflicts within budget are retried", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))
		env.store.conflicts = DefaultMaxRetries - 1

		result, err := borrow(env, "acc-1", "50")
		require.NoError(t, err)

		assertDecimal(t, "50", result.CurrentCredit)
		assert.Len(t, env.ledger.calls(), 1)
	})

	t.Run("exhausted retries surface a conflict", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))
		env.store.conflicts = DefaultMaxRetries

		_, err := borrow(env, "acc-1", "50")

		require.Error(t, err)
		assert.True(t, errors.IsConflict(err))
		assert.Equal(t, errors.CodeConcurrencyConflict, errors.CodeOf(err))
		assert.Empty(t, env.ledger.calls())
		stored := env.store.account("acc-1")
		assertDecimal(t, "0", stored.CurrentCredit)
		assert.Empty(t, stored.OverdraftHistory)
	})

	t.Run("store failures are not retried", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))
		env.store.saveErr = stderrors.New("disk full")

		_, err := borrow(env, "acc-1", "50")

		assert.Equal(t, errors.CodeInternal, errors.CodeOf(err))
		assert.Empty(t, env.ledger.calls())
	})

	t.Run("concurrent borrows never exceed the limit", func(t *testing.T) {
		env := newTestEnv(t)
		env.svc.maxRetries = 50
		env.seed(t, "acc-1", borrowable(models.RiskLow, "100"))

		var wg sync.WaitGroup
		var mu sync.Mutex
		succeeded := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := borrow(env, "acc-1", "30"); err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		stored := env.store.account("acc-1")
		assert.Equal(t, 3, succeeded)
		assertDecimal(t, "90", stored.CurrentCredit)
		assert.True(t, stored.CurrentCredit.LessThanOrEqual(stored.CreditLimit))
		assert.Len(t, env.ledger.calls(), 3)
		require.Len(t, stored.OverdraftHistory, 3)
		for _, ev := range stored.OverdraftHistory {
			assert.Equal(t, models.StatusCompleted, ev.Status)
		}
	})
}

func TestOverdraftHistoryIsAppendOnly(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acc-1", func(a *models.CreditAccount) {
		borrowable(models.RiskHigh, "80")(a)
		a.CurrentCredit = dec("20")
		a.OverdraftHistory = []models.OverdraftEvent{{
			TransactionID:   "tx-old",
			Amount:          dec("20"),
			Type:            models.OverdraftBorrow,
			Timestamp:       testNow,
			Status:          models.StatusCompleted,
			TransactionHash: "0xold",
		}}
	})

	_, _, err := env.svc.update(context.Background(), "acc-1", func(a *models.CreditAccount) error {
		a.OverdraftHistory[0].Status = models.StatusFailed
		a.OverdraftHistory[0].Amount = dec("1")
		return nil
	})
	require.NoError(t, err)

	_, _, err = env.svc.update(context.Background(), "acc-1", func(a *models.CreditAccount) error {
		a.OverdraftHistory = nil
		return nil
	})
	require.NoError(t, err)

	stored := env.store.account("acc-1")
	require.Len(t, stored.OverdraftHistory, 1)
	assert.Equal(t, models.StatusCompleted, stored.OverdraftHistory[0].Status)
	assertDecimal(t, "20", stored.OverdraftHistory[0].Amount)
	assert.Equal(t, "0xold", stored.OverdraftHistory[0].TransactionHash)
}

func TestAmountsRoundedToCents(t *testing.T) {
	t.Run("sub-cent borrow is rejected", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskLow, "100"))

		_, err := borrow(env, "acc-1", "0.001")

		assert.True(t, stderrors.Is(err, errors.ErrInvalidAmount))
		assert.Empty(t, env.ledger.calls())
		assertDecimal(t, "0", env.store.account("acc-1").CurrentCredit)
	})

	t.Run("borrow is rounded before transfer", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskLow, "100"))

		result, err := borrow(env, "acc-1", "10.004")
		require.NoError(t, err)

		assertDecimal(t, "10", result.Amount)
		assertDecimal(t, "10", result.CurrentCredit)
		calls := env.ledger.calls()
		require.Len(t, calls, 1)
		assertDecimal(t, "10", calls[0].Amount)
		assertDecimal(t, "10", env.store.account("acc-1").OverdraftHistory[0].Amount)
	})

	t.Run("repay is rounded before transfer", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskHigh, "80")(a)
			a.CurrentCredit = dec("50")
		})

		result, err := repayAmount(env, "acc-1", "20.001")
		require.NoError(t, err)

		assertDecimal(t, "20", result.Amount)
		assertDecimal(t, "30", result.CurrentCredit)
		assertDecimal(t, "20", env.ledger.calls()[0].Amount)
	})

	t.Run("auto-repay below one cent does nothing", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskLow, "100")(a)
			a.CurrentCredit = dec("10")
		})

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("0.01"))

		assert.True(t, repaid.IsZero())
		assert.Empty(t, env.ledger.calls())
		assertDecimal(t, "10", env.store.account("acc-1").CurrentCredit)
	})

	t.Run("auto-repay share is cut to whole cents", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskLow, "100")(a)
			a.CurrentCredit = dec("10")
		})

		repaid := env.svc.AutoRepayFromIncoming(context.Background(), "acc-1", dec("0.05"))

		assertDecimal(t, "0.02", repaid)
		assertDecimal(t, "9.98", env.store.account("acc-1").CurrentCredit)
		assertDecimal(t, "0.02", env.ledger.calls()[0].Amount)
	})
}

func TestSettleFailureAfterTransfer(t *testing.T) {
	t.Run("borrow keeps the pending reservation", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))
		env.ledger.onTransfer = func() { env.store.failSaves(errDiskFull) }

		result, err := borrow(env, "acc-1", "50")
		require.NoError(t, err)

		assertDecimal(t, "50", result.CurrentCredit)
		assertDecimal(t, "30", result.AvailableCredit)
		assert.Equal(t, "0xhash-"+result.TransactionID, result.TransactionHash)

		stored := env.store.account("acc-1")
		assertDecimal(t, "50", stored.CurrentCredit)
		require.Len(t, stored.OverdraftHistory, 1)
		assert.Equal(t, models.StatusPending, stored.OverdraftHistory[0].Status)
		assert.Empty(t, stored.OverdraftHistory[0].TransactionHash)
	})

	t.Run("repay leaves the balance until settled", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", func(a *models.CreditAccount) {
			borrowable(models.RiskHigh, "80")(a)
			a.CurrentCredit = dec("50")
		})
		env.ledger.onTransfer = func() { env.store.conflictNext(settleAttempts) }

		result, err := repayAmount(env, "acc-1", "20")
		require.NoError(t, err)

		assertDecimal(t, "50", result.CurrentCredit)

		stored := env.store.account("acc-1")
		assertDecimal(t, "50", stored.CurrentCredit)
		require.Len(t, stored.OverdraftHistory, 1)
		assert.Equal(t, models.OverdraftRepay, stored.OverdraftHistory[0].Type)
		assert.Equal(t, models.StatusPending, stored.OverdraftHistory[0].Status)
		assertDecimal(t, "30", repayable(stored))
	})
}

func TestReleaseFailureAfterTransferError(t *testing.T) {
	reservedAccount := func(a *models.CreditAccount) {
		borrowable(models.RiskHigh, "80")(a)
		a.CurrentCredit = dec("10")
	}

	t.Run("store error", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", reservedAccount)
		env.ledger.err = errLedgerDown
		env.ledger.onTransfer = func() { env.store.failSaves(errDiskFull) }

		_, err := borrow(env, "acc-1", "50")

		require.Error(t, err)
		assert.True(t, errors.IsTransferFailed(err))
		assert.True(t, stderrors.Is(err, errLedgerDown))
		assert.True(t, stderrors.Is(err, errDiskFull))
		creditErr, ok := errors.AsCreditError(err)
		require.True(t, ok)
		assertDecimal(t, "60", creditErr.CurrentCredit)
		assertDecimal(t, "20", creditErr.AvailableCredit)

		stored := env.store.account("acc-1")
		assertDecimal(t, "60", stored.CurrentCredit)
		require.Len(t, stored.OverdraftHistory, 1)
		assert.Equal(t, models.StatusPending, stored.OverdraftHistory[0].Status)
		assert.Empty(t, env.store.auditActions("acc-1"))
	})

	t.Run("version conflicts", func(t *testing.T) {
		env := newTestEnv(t)
		env.seed(t, "acc-1", reservedAccount)
		env.ledger.err = errLedgerDown
		env.ledger.onTransfer = func() { env.store.conflictNext(settleAttempts) }

		_, err := borrow(env, "acc-1", "50")

		require.Error(t, err)
		assert.True(t, errors.IsTransferFailed(err))
		assert.True(t, stderrors.Is(err, errLedgerDown))
		assert.True(t, stderrors.Is(err, errors.ErrConcurrencyConflict))
		creditErr, ok := errors.AsCreditError(err)
		require.True(t, ok)
		assertDecimal(t, "60", creditErr.CurrentCredit)
		assertDecimal(t, "20", creditErr.AvailableCredit)
		assert.Equal(t, models.StatusPending, env.store.account("acc-1").OverdraftHistory[0].Status)
	})
}

func TestTransferOutlivesCancelledRequest(t *testing.T) {
	env := newTestEnv(t)
	env.seed(t, "acc-1", borrowable(models.RiskHigh, "80"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.ledger.onTransfer = cancel

	result, err := env.svc.RequestOverdraft(ctx, &models.OverdraftRequest{
		AccountID: "acc-1",
		OwnerID:   "owner-1",
		Amount:    dec("50"),
	})
	require.NoError(t, err)

	assert.Equal(t, []error{nil}, env.ledger.contextErrors())
	assertDecimal(t, "50", result.CurrentCredit)
	stored := env.store.account("acc-1")
	require.Len(t, stored.OverdraftHistory, 1)
	assert.Equal(t, models.StatusCompleted, stored.OverdraftHistory[0].Status)
}
