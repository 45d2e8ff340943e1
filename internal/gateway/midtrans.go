package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"
	"github.com/midtrans/midtrans-go/snap"
	"github.com/shopspring/decimal"
)

// MetadataLookup resolves checkout metadata for a reference. Midtrans does
// not echo arbitrary metadata back on status checks, so the checkout row is
// the source for it.
type MetadataLookup func(ctx context.Context, reference string) (Metadata, error)

// Midtrans implements Client on top of Snap (checkout) and the Core API
// (status checks). Payouts are not offered through this provider.
type Midtrans struct {
	core   coreapi.Client
	snap   snap.Client
	lookup MetadataLookup
}

func NewMidtrans(serverKey string, production bool, lookup MetadataLookup) *Midtrans {
	env := midtrans.Sandbox
	if production {
		env = midtrans.Production
	}

	m := &Midtrans{lookup: lookup}
	m.core.New(serverKey, env)
	m.snap.New(serverKey, env)
	return m
}

// NormalizeMidtransStatus folds Midtrans' transaction/fraud status pair into
// success, pending or failed.
func NormalizeMidtransStatus(transactionStatus, fraudStatus string) string {
	switch transactionStatus {
	case "capture":
		if fraudStatus == "accept" {
			return StatusSuccess
		}
		return "pending"
	case "settlement":
		return StatusSuccess
	case "deny", "cancel", "expire", "failure":
		return "failed"
	default:
		return "pending"
	}
}

func (m *Midtrans) VerifyTransaction(ctx context.Context, reference string) (*Transaction, error) {
	resp, mErr := m.core.CheckTransaction(reference)
	if mErr != nil {
		return nil, &APIError{Provider: "midtrans", StatusCode: mErr.StatusCode, Message: mErr.GetMessage()}
	}

	gross, err := decimal.NewFromString(resp.GrossAmount)
	if err != nil {
		return nil, fmt.Errorf("midtrans gross amount %q: %w", resp.GrossAmount, err)
	}

	tx := &Transaction{
		ID:        resp.TransactionID,
		Reference: resp.OrderID,
		Status:    NormalizeMidtransStatus(resp.TransactionStatus, resp.FraudStatus),
		Amount:    gross.IntPart(),
	}

	if m.lookup != nil {
		meta, err := m.lookup(ctx, reference)
		if err != nil {
			return nil, fmt.Errorf("checkout metadata for %s: %w", reference, err)
		}
		if tx.Metadata, err = json.Marshal(meta); err != nil {
			return nil, err
		}
	}
	return tx, nil
}

func (m *Midtrans) InitializeTransaction(ctx context.Context, req InitializeRequest) (*Initialization, error) {
	snapReq := &snap.Request{
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.Reference,
			GrossAmt: req.Amount,
		},
		CreditCard: &snap.CreditCardDetails{
			Secure: true,
		},
		CustomerDetail: &midtrans.CustomerDetails{
			FName: req.FullName,
			Email: req.Email,
		},
		Items: &[]midtrans.ItemDetails{
			{
				ID:    req.ItemID,
				Name:  req.ItemName,
				Price: req.Amount,
				Qty:   1,
			},
		},
	}

	snapResp, errSnap := m.snap.CreateTransaction(snapReq)
	if errSnap != nil {
		return nil, &APIError{Provider: "midtrans", StatusCode: errSnap.StatusCode, Message: errSnap.GetMessage()}
	}

	return &Initialization{
		AuthorizationURL: snapResp.RedirectURL,
		AccessCode:       snapResp.Token,
		Reference:        req.Reference,
	}, nil
}
