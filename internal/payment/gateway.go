// Package payment talks to the third-party payment gateways: it initiates
// purchases and authenticates their asynchronous notifications.
package payment

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrSignatureInvalid = errors.New("payment notification signature invalid")

// Bodies the gateways expect in reply to a notification.
const (
	AckSuccess = "success"
	AckFail    = "fail"
)

type PurchaseRequest struct {
	OrderID   string
	Amount    decimal.Decimal
	Title     string
	NotifyURL string
	ReturnURL string
}

type PurchaseResult struct {
	PaymentURL string `json:"paymentUrl"`
	QRCodeURL  string `json:"qrCodeUrl,omitempty"`
}

// Notification is an authenticated gateway callback.
type Notification struct {
	OrderID string
	TradeNo string
	Status  string
	Paid    bool
	// Amount is set when the gateway reported one.
	Amount decimal.NullDecimal
}

type Gateway interface {
	Name() string
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
	// Verify authenticates callback fields. Tampered or unsigned payloads yield ErrSignatureInvalid.
	Verify(params map[string]string) (*Notification, error)
}

// Params flattens decoded form or query values, keeping the first value per key.
func Params(values url.Values) map[string]string {
	out := make(map[string]string, len(values))
	for k, v := range values {
		if len(v) > 0 {
			out[k] = v[0]
		}
	}
	return out
}

func parseAmount(raw string) decimal.NullDecimal {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "¥")
	if raw == "" {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: d, Valid: true}
}
