// Package gateway wraps the external payment provider. It carries no
// business rules: callers decide what a verified transaction means.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
)

// StatusSuccess is the normalised status of a charge or transfer that
// completed on the provider side.
const StatusSuccess = "success"

// Transaction is the server-to-server view of a charge.
type Transaction struct {
	ID        string
	Reference string
	Status    string
	Amount    int64
	Metadata  json.RawMessage
}

type InitializeRequest struct {
	Reference   string
	Email       string
	FullName    string
	Amount      int64
	ItemID      string
	ItemName    string
	CallbackURL string
	Metadata    Metadata
}

type Initialization struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

type Bank struct {
	Name string `json:"name"`
	Code string `json:"code"`
}

type ResolvedAccount struct {
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
}

type Transfer struct {
	Status       string
	TransferCode string
	Reference    string
}

// Client is the charge side of the provider.
type Client interface {
	VerifyTransaction(ctx context.Context, reference string) (*Transaction, error)
	InitializeTransaction(ctx context.Context, req InitializeRequest) (*Initialization, error)
}

// Payouts is the transfer side of the provider.
type Payouts interface {
	ListBanks(ctx context.Context) ([]Bank, error)
	ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error)
	CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error)
	InitiateTransfer(ctx context.Context, amount int64, recipientCode, reference, reason string) (*Transfer, error)
	VerifyTransfer(ctx context.Context, reference string) (*Transfer, error)
}

// TransferFailed reports whether a transfer status is final and no money
// left the balance.
func TransferFailed(status string) bool {
	switch status {
	case "failed", "reversed", "rejected", "abandoned", "blocked":
		return true
	}
	return false
}

// APIError is returned when the provider answers with a failure.
type APIError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s (status %d)", e.Provider, e.Message, e.StatusCode)
}

// IsRejection reports whether the provider definitely refused the request,
// so nothing was created on its side. Transport errors, timeouts and 5xx
// answers are not rejections: the request may have gone through.
func IsRejection(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.StatusCode {
	case http.StatusRequestTimeout, http.StatusConflict:
		return false
	}
	return apiErr.StatusCode >= 400 && apiErr.StatusCode < 500
}

// IsNotFound reports whether the provider has no record of the resource.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}
