package payment

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/Calcium-Ion/go-epay/epay"
)

type EPayConfig struct {
	Gateway   string
	PartnerID string
	Key       string
	// Type is the EPay channel: alipay, wxpay or qqpay.
	Type string
}

type epayVerification struct {
	Valid   bool
	Success bool
	OrderID string
	TradeNo string
	Money   string
}

// EPay is the generic "easy pay" gateway protocol.
type EPay struct {
	payType  string
	purchase func(args *epay.PurchaseArgs) (string, map[string]string, error)
	verify   func(params map[string]string) (epayVerification, error)
}

func NewEPay(cfg EPayConfig) (*EPay, error) {
	client, err := epay.NewClient(&epay.Config{
		PartnerID: strings.TrimSpace(cfg.PartnerID),
		Key:       strings.TrimSpace(cfg.Key),
	}, strings.TrimSpace(cfg.Gateway))
	if err != nil {
		return nil, fmt.Errorf("epay client: %w", err)
	}

	payType := cfg.Type
	switch payType {
	case "alipay", "wxpay", "qqpay":
	case "":
		payType = "wxpay"
	default:
		return nil, fmt.Errorf("unsupported epay type: %s", cfg.Type)
	}

	return &EPay{
		payType: payType,
		purchase: func(args *epay.PurchaseArgs) (string, map[string]string, error) {
			purchaseURL, params, err := client.Purchase(args)
			return purchaseURL, params, err
		},
		verify: func(params map[string]string) (epayVerification, error) {
			info, err := client.Verify(params)
			if err != nil {
				return epayVerification{}, err
			}
			return epayVerification{
				Valid:   info.VerifyStatus,
				Success: info.TradeStatus == epay.StatusTradeSuccess,
				OrderID: info.ServiceTradeNo,
				TradeNo: strings.TrimSpace(info.TradeNo),
				Money:   info.Money,
			}, nil
		},
	}, nil
}

func (e *EPay) Name() string { return "epay" }

func (e *EPay) Purchase(_ context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	notifyURL, err := url.Parse(req.NotifyURL)
	if err != nil {
		return nil, fmt.Errorf("parse notify url: %w", err)
	}
	returnURL, err := url.Parse(req.ReturnURL)
	if err != nil {
		return nil, fmt.Errorf("parse return url: %w", err)
	}

	purchaseURL, params, err := e.purchase(&epay.PurchaseArgs{
		Type:           e.payType,
		ServiceTradeNo: req.OrderID,
		Name:           req.Title,
		Money:          req.Amount.StringFixed(2),
		Device:         epay.PC,
		NotifyUrl:      notifyURL,
		ReturnUrl:      returnURL,
	})
	if err != nil {
		return nil, fmt.Errorf("epay purchase: %w", err)
	}

	redirect, err := url.Parse(purchaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse epay purchase url: %w", err)
	}
	q := redirect.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	redirect.RawQuery = q.Encode()
	return &PurchaseResult{PaymentURL: redirect.String()}, nil
}

func (e *EPay) Verify(params map[string]string) (*Notification, error) {
	info, err := e.verify(params)
	if err != nil || !info.Valid {
		return nil, ErrSignatureInvalid
	}
	status := "pending"
	if info.Success {
		status = "TRADE_SUCCESS"
	}
	return &Notification{
		OrderID: info.OrderID,
		TradeNo: info.TradeNo,
		Status:  status,
		Paid:    info.Success,
		Amount:  parseAmount(info.Money),
	}, nil
}
