package mpesa

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

// ErrMalformedCallback signals a callback body that does not carry the
// fields needed to resolve a transaction.
var ErrMalformedCallback = errors.New("mpesa: malformed callback payload")

// Callback is the flattened content of a Daraja stkCallback delivery.
type Callback struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	Amount            float64
	ReceiptNumber     string
	PhoneNumber       string
}

// ParseCallback extracts the correlation id, result, and metadata items
// from a raw callback body.
func ParseCallback(raw []byte) (Callback, error) {
	var envelope struct {
		Body struct {
			StkCallback struct {
				MerchantRequestID string `json:"MerchantRequestID"`
				CheckoutRequestID string `json:"CheckoutRequestID"`
				ResultCode        *int   `json:"ResultCode"`
				ResultDesc        string `json:"ResultDesc"`
				CallbackMetadata  struct {
					Item []struct {
						Name  string `json:"Name"`
						Value any    `json:"Value"`
					} `json:"Item"`
				} `json:"CallbackMetadata"`
			} `json:"stkCallback"`
		} `json:"Body"`
	}

	if err := json.Unmarshal(raw, &envelope); err != nil {
		return Callback{}, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	stk := envelope.Body.StkCallback
	if stk.CheckoutRequestID == "" || stk.ResultCode == nil {
		return Callback{}, fmt.Errorf("%w: missing CheckoutRequestID or ResultCode", ErrMalformedCallback)
	}

	cb := Callback{
		MerchantRequestID: stk.MerchantRequestID,
		CheckoutRequestID: stk.CheckoutRequestID,
		ResultCode:        *stk.ResultCode,
		ResultDesc:        stk.ResultDesc,
	}

	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				cb.Amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				cb.ReceiptNumber = v
			}
		case "PhoneNumber":
			switch v := item.Value.(type) {
			case float64:
				cb.PhoneNumber = strconv.FormatFloat(v, 'f', 0, 64)
			case string:
				cb.PhoneNumber = v
			}
		}
	}

	return cb, nil
}
