package settlement

import (
	"errors"

	"materials-backend/internal/gateway"
)

var (
	ErrVerificationFailed  = errors.New("payment verification failed")
	ErrNotFound            = errors.New("record not found")
	ErrStateConflict       = errors.New("state conflict")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidMetadata     = gateway.ErrInvalidMetadata

	ErrBelowMinimum       = errors.New("amount below minimum withdrawal")
	ErrInvalidBankAccount = errors.New("bank account could not be resolved")
	ErrPayoutFailed       = errors.New("payout could not be initiated")
	ErrPayoutUnconfirmed  = errors.New("payout outcome not yet known")
	ErrPayoutsUnavailable = errors.New("payouts are not configured")
	ErrAlreadyOwned       = errors.New("material already owned")
	ErrInvalidReferral    = errors.New("referral code is not valid for this material")
)
