package notify

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"time"

	"github.com/jordan-wright/email"

	"github.com/riteshkumar/merchant-credit/internal/models"
)

type SMTPConfig struct {
	Host        string
	Port        string
	Username    string
	Password    string
	SenderEmail string
}

// EmailNotifier sends overdraft notifications via SMTP
type EmailNotifier struct {
	cfg    SMTPConfig
	logger *slog.Logger
	send   func(e *email.Email) error
}

func NewEmailNotifier(cfg SMTPConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{cfg: cfg, logger: logger}
	n.send = func(e *email.Email) error {
		addr := fmt.Sprintf("%s:%s", cfg.Host, cfg.Port)
		auth := smtp.PlainAuth("", cfg.Username, cfg.Password, cfg.Host)
		return e.Send(addr, auth)
	}
	return n
}

func (s *EmailNotifier) NotifyOverdraftEvent(ctx context.Context, n OverdraftNotification) error {
	if n.Email == "" {
		return nil
	}

	e := s.buildMessage(n)
	if err := s.send(e); err != nil {
		s.logger.Error("failed to send overdraft email",
			"account_id", n.AccountID,
			"to", n.Email,
			"error", err.Error(),
		)
		return fmt.Errorf("failed to send overdraft email: %w", err)
	}

	s.logger.Info("overdraft email sent", "account_id", n.AccountID, "subject", e.Subject)
	return nil
}

func (s *EmailNotifier) buildMessage(n OverdraftNotification) *email.Email {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{n.Email}

	name := n.BusinessName
	if name == "" {
		name = "Merchant"
	}
	body := fmt.Sprintf("Dear %s,\n\n", name)

	switch n.Type {
	case models.OverdraftBorrow:
		e.Subject = "Overdraft Disbursed"
		body += fmt.Sprintf("An overdraft of %s has been credited to your business wallet.\n", n.Amount.StringFixed(2))
	case models.OverdraftRepay:
		e.Subject = "Overdraft Repayment Received"
		body += fmt.Sprintf("We received your overdraft repayment of %s.\n", n.Amount.StringFixed(2))
	}
	body += fmt.Sprintf(
		"Outstanding balance: %s\n"+
			"Available credit: %s\n"+
			"Time: %s\n",
		n.NewBalance.StringFixed(2), n.AvailableCredit.StringFixed(2), time.Now().UTC().Format("2006-01-02 15:04:05 MST"),
	)
	if n.ExplorerURL != "" {
		body += fmt.Sprintf("Transaction: %s\n", n.ExplorerURL)
	}
	body += "\nBest regards,\nMerchant Credit"
	e.Text = []byte(body)
	return e
}
