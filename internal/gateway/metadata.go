package gateway

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidMetadata = errors.New("invalid transaction metadata")

var validate = validator.New()

// Metadata is what the checkout attaches to a charge.
type Metadata struct {
	MaterialID   uint64 `json:"materialId" validate:"required"`
	UserID       uint64 `json:"userId" validate:"required"`
	ReferralCode string `json:"referralCode,omitempty" validate:"omitempty,max=50"`
}

type rawMetadata struct {
	MaterialID   flexID        `json:"materialId"`
	UserID       flexID        `json:"userId"`
	ReferralCode string        `json:"referralCode"`
	CustomFields []customField `json:"custom_fields"`
}

type customField struct {
	VariableName string          `json:"variable_name"`
	Value        json.RawMessage `json:"value"`
}

// flexID accepts 42, "42" and "".
type flexID uint64

func (f *flexID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("not an id: %s", s)
	}
	*f = flexID(v)
	return nil
}

// DecodeMetadata turns the provider's metadata blob into a validated
// Metadata. Top-level keys win; Paystack-style custom_fields are consulted
// for anything missing. Every failure wraps ErrInvalidMetadata.
func DecodeMetadata(raw json.RawMessage) (Metadata, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return Metadata{}, fmt.Errorf("%w: empty", ErrInvalidMetadata)
	}

	// Some dashboards send metadata as a JSON encoded string.
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
		}
		if inner == "" {
			return Metadata{}, fmt.Errorf("%w: empty", ErrInvalidMetadata)
		}
		raw = json.RawMessage(inner)
	}

	var rm rawMetadata
	if err := json.Unmarshal(raw, &rm); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	for _, f := range rm.CustomFields {
		switch f.VariableName {
		case "materialId", "material_id":
			if rm.MaterialID == 0 {
				if err := json.Unmarshal(f.Value, &rm.MaterialID); err != nil {
					return Metadata{}, fmt.Errorf("%w: material id: %v", ErrInvalidMetadata, err)
				}
			}
		case "userId", "user_id":
			if rm.UserID == 0 {
				if err := json.Unmarshal(f.Value, &rm.UserID); err != nil {
					return Metadata{}, fmt.Errorf("%w: user id: %v", ErrInvalidMetadata, err)
				}
			}
		case "referralCode", "referral_code":
			if rm.ReferralCode == "" {
				var code string
				if err := json.Unmarshal(f.Value, &code); err != nil {
					return Metadata{}, fmt.Errorf("%w: referral code: %v", ErrInvalidMetadata, err)
				}
				rm.ReferralCode = code
			}
		}
	}

	m := Metadata{
		MaterialID:   uint64(rm.MaterialID),
		UserID:       uint64(rm.UserID),
		ReferralCode: strings.TrimSpace(rm.ReferralCode),
	}
	if err := validate.Struct(m); err != nil {
		return Metadata{}, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}
	return m, nil
}
