// Package ledger moves value between custodial wallets through an external
// transfer service. A transfer either returns a receipt or fails; no partial
// transfer is ever reported.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type TransferRequest struct {
	Amount     decimal.Decimal `json:"amount"`
	FromWallet string          `json:"from"`
	ToWallet   string          `json:"to"`
	Chain      string          `json:"chain"`
	Token      string          `json:"token"`
	Reference  string          `json:"reference,omitempty"`
}

type Receipt struct {
	TransactionHash string `json:"transaction_hash"`
}

// Ledger is the transfer capability the credit service consumes.
type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) (*Receipt, error)
	ExplorerURL(txHash string) string
}

// TransferError describes a rejected or unreachable transfer.
type TransferError struct {
	StatusCode int
	Message    string
	Cause      error
}

func (e *TransferError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("transfer failed: %s: %v", e.Message, e.Cause)
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("transfer failed with status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("transfer failed: %s", e.Message)
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

type Config struct {
	BaseURL     string
	APIKey      string
	ExplorerURL string
	Timeout     time.Duration
}

// HTTPClient talks to the transfer service over JSON.
type HTTPClient struct {
	baseURL     string
	apiKey      string
	explorerURL string
	client      *http.Client
	logger      *slog.Logger
}

func NewHTTPClient(cfg Config, logger *slog.Logger) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		explorerURL: strings.TrimRight(cfg.ExplorerURL, "/"),
		client:      &http.Client{Timeout: timeout},
		logger:      logger,
	}
}

func (c *HTTPClient) Transfer(ctx context.Context, req TransferRequest) (*Receipt, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, &TransferError{Message: "failed to encode request", Cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transfers", bytes.NewReader(body))
	if err != nil {
		return nil, &TransferError{Message: "failed to create request", Cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &TransferError{Message: "request failed", Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &TransferError{StatusCode: resp.StatusCode, Message: "failed to read response", Cause: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, &TransferError{StatusCode: resp.StatusCode, Message: msg}
	}

	var receipt Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, &TransferError{StatusCode: resp.StatusCode, Message: "invalid response body", Cause: err}
	}
	if receipt.TransactionHash == "" {
		return nil, &TransferError{StatusCode: resp.StatusCode, Message: "response has no transaction hash"}
	}

	c.logger.Info("ledger transfer completed",
		"from", req.FromWallet,
		"to", req.ToWallet,
		"amount", req.Amount.String(),
		"chain", req.Chain,
		"transaction_hash", receipt.TransactionHash,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &receipt, nil
}

// ExplorerURL links a transaction hash to the configured block explorer.
func (c *HTTPClient) ExplorerURL(txHash string) string {
	if c.explorerURL == "" || txHash == "" {
		return ""
	}
	return c.explorerURL + "/tx/" + txHash
}

// IsTransferError reports whether err came from a failed transfer.
func IsTransferError(err error) bool {
	var transferErr *TransferError
	return errors.As(err, &transferErr)
}
