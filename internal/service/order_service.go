package service

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/repository"
)

// maxStatusCodes caps the codes returned to a polling client.
const maxStatusCodes = 5

type OrderStatus struct {
	OrderID         string             `json:"orderId"`
	Status          models.OrderStatus `json:"status"`
	Amount          decimal.Decimal    `json:"amount"`
	RedemptionCodes []string           `json:"redemptionCodes"`
	CreatedAt       time.Time          `json:"createdAt"`
}

type OrderService struct {
	orders *repository.OrderRepository
	codes  *repository.CodeRepository
}

func NewOrderService(orders *repository.OrderRepository, codes *repository.CodeRepository) *OrderService {
	return &OrderService{orders: orders, codes: codes}
}

// GetStatus is the read path polled by the storefront after checkout. Paid
// orders carry their newest unexhausted codes.
func (s *OrderService) GetStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	if orderID == "" {
		return nil, invalidInput("缺少订单号")
	}
	order, err := s.orders.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	if order == nil {
		return nil, ErrOrderNotFound
	}

	status := &OrderStatus{
		OrderID:         order.OrderID,
		Status:          order.Status,
		Amount:          order.Amount,
		RedemptionCodes: []string{},
		CreatedAt:       order.CreatedAt,
	}
	if order.Status != models.OrderPaid {
		return status, nil
	}

	codes, err := s.codes.ListAvailableByOrder(ctx, order.OrderID, maxStatusCodes)
	if err != nil {
		return nil, fmt.Errorf("list order codes: %w", err)
	}
	for _, c := range codes {
		status.RedemptionCodes = append(status.RedemptionCodes, c.Code)
	}
	return status, nil
}

func (s *OrderService) List(ctx context.Context, limit, offset int) ([]models.Order, error) {
	limit, offset = clampPage(limit, offset)
	return s.orders.List(ctx, limit, offset)
}
