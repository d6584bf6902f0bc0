package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/notify"
	"github.com/digkill/figureshop/internal/payment"
	"github.com/digkill/figureshop/internal/pricing"
	"github.com/digkill/figureshop/internal/repository"
)

const repairBatchSize = 100

var (
	minPurchaseAmount = decimal.RequireFromString("0.01")
	maxPurchaseAmount = decimal.NewFromInt(10000)
)

type SettlementConfig struct {
	Title     string
	NotifyURL string
	ReturnURL string
	// CodeTTL sets expires_at on minted codes. Zero means they never expire.
	CodeTTL time.Duration
}

type PurchaseResult struct {
	OrderID    string          `json:"orderId"`
	Amount     decimal.Decimal `json:"amount"`
	PaymentURL string          `json:"paymentUrl,omitempty"`
	QRCodeURL  string          `json:"qrCodeUrl,omitempty"`
}

type RepairResult struct {
	OrderID       string `json:"orderId"`
	Minted        int    `json:"minted"`
	AlreadyIssued bool   `json:"alreadyIssued"`
	Error         string `json:"error,omitempty"`
}

// SettlementService turns gateway callbacks into paid orders and minted codes.
type SettlementService struct {
	cfg     SettlementConfig
	log     *slog.Logger
	gateway payment.Gateway
	orders  *repository.OrderRepository
	codes   *repository.CodeRepository
	users   *UserService
	ladder  pricing.Ladder
	alerter notify.Alerter
	now     func() time.Time
}

func NewSettlementService(cfg SettlementConfig, log *slog.Logger, gateway payment.Gateway, orders *repository.OrderRepository, codes *repository.CodeRepository, users *UserService, ladder pricing.Ladder, alerter notify.Alerter) *SettlementService {
	if alerter == nil {
		alerter = notify.Nop{}
	}
	return &SettlementService{
		cfg:     cfg,
		log:     log,
		gateway: gateway,
		orders:  orders,
		codes:   codes,
		users:   users,
		ladder:  ladder,
		alerter: alerter,
		now:     time.Now,
	}
}

func (s *SettlementService) Ladder() pricing.Ladder {
	return s.ladder
}

// Purchase opens a pending order for amount and asks the gateway for a
// checkout link. A gateway failure leaves the order pending.
func (s *SettlementService) Purchase(ctx context.Context, amount decimal.Decimal) (*PurchaseResult, error) {
	if amount.LessThan(minPurchaseAmount) || amount.GreaterThan(maxPurchaseAmount) {
		return nil, invalidInput("支付金额无效")
	}
	amount = amount.Round(2)

	user, err := s.users.EnsureGuest(ctx)
	if err != nil {
		return nil, err
	}

	order := &models.Order{
		OrderID:  newOrderID(s.now()),
		UserID:   user.ID,
		Amount:   amount,
		Provider: s.gateway.Name(),
	}
	if err := s.orders.Create(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	res, err := s.gateway.Purchase(ctx, payment.PurchaseRequest{
		OrderID:   order.OrderID,
		Amount:    amount,
		Title:     s.cfg.Title,
		NotifyURL: s.cfg.NotifyURL,
		ReturnURL: withOrderID(s.cfg.ReturnURL, order.OrderID),
	})
	if err != nil {
		s.log.Error("gateway purchase failed", "order_id", order.OrderID, "provider", s.gateway.Name(), "err", err)
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	s.log.Info("order created", "order_id", order.OrderID, "amount", amount.StringFixed(2), "provider", s.gateway.Name())
	return &PurchaseResult{
		OrderID:    order.OrderID,
		Amount:     amount,
		PaymentURL: res.PaymentURL,
		QRCodeURL:  res.QRCodeURL,
	}, nil
}

// HandleNotification settles one gateway callback and returns the body the
// gateway expects. Only a bad signature is answered with a failure body;
// anything after that is acknowledged so the gateway stops retrying.
func (s *SettlementService) HandleNotification(ctx context.Context, params map[string]string) string {
	n, err := s.gateway.Verify(params)
	if err != nil {
		s.log.Warn("payment notification rejected", "provider", s.gateway.Name(), "order_id", params["trade_order_id"], "err", err)
		return payment.AckFail
	}
	log := s.log.With("order_id", n.OrderID, "trade_no", n.TradeNo, "status", n.Status)

	if !n.Paid {
		log.Info("payment notification is not a completed payment")
		return payment.AckSuccess
	}

	order, err := s.orders.GetByOrderID(ctx, n.OrderID)
	if err != nil {
		log.Error("load order for settlement", "err", err)
		s.alert(ctx, "结算失败：读取订单 %s 出错：%v", n.OrderID, err)
		return payment.AckSuccess
	}
	if order == nil {
		log.Warn("payment notification for unknown order")
		return payment.AckSuccess
	}

	if n.Amount.Valid && !n.Amount.Decimal.Equal(order.Amount) {
		log.Error("payment amount mismatch", "expected", order.Amount.StringFixed(2), "got", n.Amount.Decimal.String())
		s.alert(ctx, "订单 %s 金额不一致：应付 %s，回调 %s，未结算", order.OrderID, order.Amount.StringFixed(2), n.Amount.Decimal.String())
		return payment.AckSuccess
	}

	settled, err := s.orders.TransitionToPaid(ctx, order.OrderID, n.TradeNo)
	if err != nil {
		log.Error("transition order to paid", "err", err)
		s.alert(ctx, "结算失败：订单 %s 状态更新出错：%v", order.OrderID, err)
		return payment.AckSuccess
	}
	if !settled {
		log.Info("order already settled")
		return payment.AckSuccess
	}
	order.Status = models.OrderPaid

	codes, err := s.issue(ctx, order)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadyIssued) {
			log.Info("codes already issued")
			return payment.AckSuccess
		}
		log.Error("mint codes for paid order", "err", err)
		s.alert(ctx, "订单 %s 已支付但兑换码生成失败：%v。请执行修复。", order.OrderID, err)
		return payment.AckSuccess
	}

	log.Info("order settled", "amount", order.Amount.StringFixed(2), "codes", len(codes))
	return payment.AckSuccess
}

// RepairOrder mints the codes of a paid order that has none. Running it on an
// order that already has codes changes nothing.
func (s *SettlementService) RepairOrder(ctx context.Context, orderID string) (*RepairResult, error) {
	order, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}
	if order.Status != models.OrderPaid {
		return nil, invalidInput("订单尚未支付")
	}
	return s.repair(ctx, order), nil
}

// RepairAll sweeps paid orders without codes.
func (s *SettlementService) RepairAll(ctx context.Context) ([]RepairResult, error) {
	orders, err := s.orders.ListPaidWithoutCodes(ctx, repairBatchSize)
	if err != nil {
		return nil, fmt.Errorf("list orders to repair: %w", err)
	}

	results := make([]RepairResult, 0, len(orders))
	minted := 0
	for i := range orders {
		r := s.repair(ctx, &orders[i])
		minted += r.Minted
		results = append(results, *r)
	}
	if minted > 0 {
		s.alert(ctx, "修复完成：%d 个订单，补发 %d 个兑换码", len(orders), minted)
	}
	return results, nil
}

func (s *SettlementService) repair(ctx context.Context, order *models.Order) *RepairResult {
	result := &RepairResult{OrderID: order.OrderID}
	if order.CodesIssued {
		result.AlreadyIssued = true
		return result
	}

	codes, err := s.issue(ctx, order)
	switch {
	case errors.Is(err, repository.ErrAlreadyIssued):
		result.AlreadyIssued = true
	case err != nil:
		s.log.Error("repair order", "order_id", order.OrderID, "err", err)
		result.Error = err.Error()
	default:
		result.Minted = len(codes)
		s.log.Info("order repaired", "order_id", order.OrderID, "codes", len(codes))
	}
	return result
}

func (s *SettlementService) issue(ctx context.Context, order *models.Order) ([]models.RedemptionCode, error) {
	alloc := s.ladder.Resolve(order.Amount)
	return s.codes.MintForOrder(ctx, repository.MintParams{
		OrderID:      order.OrderID,
		UserID:       order.UserID,
		Count:        alloc.CodeCount,
		UsagePerCode: alloc.UsagePerCode,
		ExpiresAt:    expiry(s.now(), s.cfg.CodeTTL),
	})
}

func (s *SettlementService) alert(ctx context.Context, format string, args ...any) {
	s.alerter.Alert(context.WithoutCancel(ctx), fmt.Sprintf(format, args...))
}

// newOrderID looks like ORDER1700000000000-1A2B3C4D.
func newOrderID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("ORDER%d-%s", now.UnixMilli(), suffix)
}

func withOrderID(returnURL, orderID string) string {
	if returnURL == "" {
		return ""
	}
	sep := "?"
	if strings.Contains(returnURL, "?") {
		sep = "&"
	}
	return returnURL + sep + "orderId=" + orderID
}
