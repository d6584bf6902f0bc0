package payment

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// StatusPaid is the xunhupay callback status for a completed payment.
const StatusPaid = "OD"

type XunhupayConfig struct {
	AppID   string
	Secret  string
	APIURL  string
	WapURL  string
	WapName string
}

// Xunhupay is the WeChat-style hosted checkout. Requests and callbacks are
// signed with md5 over the sorted non-empty fields followed by the secret.
type Xunhupay struct {
	cfg    XunhupayConfig
	client *http.Client
	now    func() time.Time
}

func NewXunhupay(cfg XunhupayConfig, client *http.Client) *Xunhupay {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Xunhupay{cfg: cfg, client: client, now: time.Now}
}

func (x *Xunhupay) Name() string { return "xunhupay" }

func (x *Xunhupay) Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	params := map[string]string{
		"version":        "1.1",
		"appid":          x.cfg.AppID,
		"trade_order_id": req.OrderID,
		"total_fee":      req.Amount.StringFixed(2),
		"title":          req.Title,
		"time":           strconv.FormatInt(x.now().Unix(), 10),
		"notify_url":     req.NotifyURL,
		"return_url":     req.ReturnURL,
		"nonce_str":      strings.ReplaceAll(uuid.NewString(), "-", ""),
		"type":           "WAP",
		"wap_url":        x.cfg.WapURL,
		"wap_name":       x.cfg.WapName,
	}
	params["hash"] = Sign(params, x.cfg.Secret)

	form := url.Values{}
	for k, v := range params {
		if v != "" {
			form.Set(k, v)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.APIURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := x.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("post xunhupay: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read xunhupay response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("xunhupay error: status=%d body=%s", resp.StatusCode, truncate(body))
	}
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("xunhupay returned non-json body: %s", truncate(body))
	}

	parsed := gjson.ParseBytes(body)
	if code := parsed.Get("errcode").Int(); code != 0 {
		return nil, fmt.Errorf("xunhupay rejected purchase: errcode=%d errmsg=%s", code, parsed.Get("errmsg").String())
	}
	result := &PurchaseResult{
		PaymentURL: parsed.Get("url").String(),
		QRCodeURL:  parsed.Get("url_qrcode").String(),
	}
	if result.PaymentURL == "" && result.QRCodeURL == "" {
		return nil, fmt.Errorf("xunhupay response carries no payment url: %s", truncate(body))
	}
	return result, nil
}

func (x *Xunhupay) Verify(params map[string]string) (*Notification, error) {
	received := strings.ToLower(strings.TrimSpace(params["hash"]))
	if received == "" {
		return nil, ErrSignatureInvalid
	}
	expected := Sign(params, x.cfg.Secret)
	if subtle.ConstantTimeCompare([]byte(received), []byte(expected)) != 1 {
		return nil, ErrSignatureInvalid
	}

	tradeNo := params["transaction_id"]
	if tradeNo == "" {
		tradeNo = params["open_order_id"]
	}
	status := params["status"]
	return &Notification{
		OrderID: params["trade_order_id"],
		TradeNo: tradeNo,
		Status:  status,
		Paid:    status == StatusPaid,
		Amount:  parseAmount(params["total_fee"]),
	}, nil
}

// Sign joins the non-empty fields other than hash as sorted k=v pairs with '&',
// appends the secret and returns the lowercase md5 hex digest.
func Sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k, v := range params {
		if k == "hash" || v == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(params[k])
	}
	b.WriteString(secret)

	sum := md5.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func truncate(body []byte) string {
	const limit = 512
	s := strings.TrimSpace(string(body))
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "…"
}
