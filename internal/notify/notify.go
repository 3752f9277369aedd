// Package notify tells merchants about overdraft activity. Delivery is best
// effort: callers log failures and carry on.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/riteshkumar/merchant-credit/internal/models"
)

type OverdraftNotification struct {
	AccountID       string
	BusinessName    string
	PhoneNumber     string
	Email           string
	Amount          decimal.Decimal
	Type            models.OverdraftEventType
	NewBalance      decimal.Decimal
	AvailableCredit decimal.Decimal
	ExplorerURL     string
}

type Notifier interface {
	NotifyOverdraftEvent(ctx context.Context, n OverdraftNotification) error
}

// LogNotifier records notifications in the service log.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) NotifyOverdraftEvent(ctx context.Context, n OverdraftNotification) error {
	l.logger.Info("overdraft notification",
		"account_id", n.AccountID,
		"phone", n.PhoneNumber,
		"type", string(n.Type),
		"amount", n.Amount.String(),
		"current_credit", n.NewBalance.String(),
		"available_credit", n.AvailableCredit.String(),
		"explorer_url", n.ExplorerURL,
	)
	return nil
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) NotifyOverdraftEvent(ctx context.Context, n OverdraftNotification) error {
	var errs []error
	for _, notifier := range m {
		if err := notifier.NotifyOverdraftEvent(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
