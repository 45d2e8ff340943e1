package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Paystack talks to the Paystack REST API. It implements both Client and
// Payouts.
type Paystack struct {
	secretKey  string
	baseURL    string
	httpClient *http.Client
}

func NewPaystack(secretKey, baseURL string) *Paystack {
	if baseURL == "" {
		baseURL = "https://api.paystack.co"
	}
	return &Paystack{
		secretKey:  secretKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type paystackEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func (p *Paystack) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.secretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("paystack %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	var env paystackEnvelope[json.RawMessage]
	if err := json.Unmarshal(raw, &env); err != nil {
		return &APIError{Provider: "paystack", StatusCode: resp.StatusCode, Message: "invalid response body"}
	}
	if resp.StatusCode >= 300 || !env.Status {
		return &APIError{Provider: "paystack", StatusCode: resp.StatusCode, Message: env.Message}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("failed to decode paystack data: %w", err)
	}
	return nil
}

func (p *Paystack) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	var data struct {
		ID        int64           `json:"id"`
		Status    string          `json:"status"`
		Reference string          `json:"reference"`
		Amount    int64           `json:"amount"`
		Metadata  json.RawMessage `json:"metadata"`
	}
	if err := p.do(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	return &Transaction{
		ID:        strconv.FormatInt(data.ID, 10),
		Reference: data.Reference,
		Status:    data.Status,
		Amount:    data.Amount,
		Metadata:  data.Metadata,
	}, nil
}

func (p *Paystack) InitializeTransaction(ctx context.Context, req InitializeRequest) (*Initialization, error) {
	body := map[string]interface{}{
		"email":     req.Email,
		"amount":    req.Amount,
		"reference": req.Reference,
		"metadata":  req.Metadata,
	}
	if req.CallbackURL != "" {
		body["callback_url"] = req.CallbackURL
	}

	var data struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	return &Initialization{
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
		Reference:        data.Reference,
	}, nil
}

func (p *Paystack) ListBanks(ctx context.Context) ([]Bank, error) {
	var banks []Bank
	if err := p.do(ctx, http.MethodGet, "/bank?currency=NGN", nil, &banks); err != nil {
		return nil, err
	}
	return banks, nil
}

func (p *Paystack) ResolveAccount(ctx context.Context, accountNumber, bankCode string) (*ResolvedAccount, error) {
	q := url.Values{}
	q.Set("account_number", accountNumber)
	q.Set("bank_code", bankCode)

	var acct ResolvedAccount
	if err := p.do(ctx, http.MethodGet, "/bank/resolve?"+q.Encode(), nil, &acct); err != nil {
		return nil, err
	}
	return &acct, nil
}

func (p *Paystack) CreateTransferRecipient(ctx context.Context, name, accountNumber, bankCode string) (string, error) {
	body := map[string]string{
		"type":           "nuban",
		"name":           name,
		"account_number": accountNumber,
		"bank_code":      bankCode,
		"currency":       "NGN",
	}
	var data struct {
		RecipientCode string `json:"recipient_code"`
	}
	if err := p.do(ctx, http.MethodPost, "/transferrecipient", body, &data); err != nil {
		return "", err
	}
	return data.RecipientCode, nil
}

func (p *Paystack) InitiateTransfer(ctx context.Context, amount int64, recipientCode, reference, reason string) (*Transfer, error) {
	body := map[string]interface{}{
		"source":    "balance",
		"amount":    amount,
		"recipient": recipientCode,
		"reference": reference,
		"reason":    reason,
	}
	var data struct {
		Status       string `json:"status"`
		TransferCode string `json:"transfer_code"`
		Reference    string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodPost, "/transfer", body, &data); err != nil {
		return nil, err
	}
	return &Transfer{
		Status:       data.Status,
		TransferCode: data.TransferCode,
		Reference:    data.Reference,
	}, nil
}

// VerifyTransfer fetches a transfer by the reference it was initiated with.
func (p *Paystack) VerifyTransfer(ctx context.Context, reference string) (*Transfer, error) {
	var data struct {
		Status       string `json:"status"`
		TransferCode string `json:"transfer_code"`
		Reference    string `json:"reference"`
	}
	if err := p.do(ctx, http.MethodGet, "/transfer/verify/"+url.PathEscape(reference), nil, &data); err != nil {
		return nil, err
	}
	return &Transfer{
		Status:       data.Status,
		TransferCode: data.TransferCode,
		Reference:    data.Reference,
	}, nil
}
