package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending OrderStatus = "pending"
	OrderPaid    OrderStatus = "paid"
)

type AttemptStatus string

const (
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

type User struct {
	ID        int64     `json:"id"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type Order struct {
	ID          int64           `json:"id"`
	OrderID     string          `json:"orderId"`
	UserID      int64           `json:"userId"`
	Amount      decimal.Decimal `json:"amount"`
	Status      OrderStatus     `json:"status"`
	Provider    string          `json:"provider"`
	TradeNo     string          `json:"tradeNo,omitempty"`
	CodesIssued bool            `json:"codesIssued"`
	CreatedAt   time.Time       `json:"createdAt"`
	UpdatedAt   time.Time       `json:"updatedAt"`
}

type RedemptionCode struct {
	ID         int64      `json:"id"`
	Code       string     `json:"code"`
	OrderID    string     `json:"orderId,omitempty"`
	UserID     int64      `json:"userId"`
	UsageCount int        `json:"usageCount"`
	UsedCount  int        `json:"usedCount"`
	CreatedAt  time.Time  `json:"createdAt"`
	ExpiresAt  *time.Time `json:"expiresAt,omitempty"`
}

func (c *RedemptionCode) Remaining() int {
	return c.UsageCount - c.UsedCount
}

func (c *RedemptionCode) Exhausted() bool {
	return c.UsedCount >= c.UsageCount
}

func (c *RedemptionCode) ExpiredAt(now time.Time) bool {
	return c.ExpiresAt != nil && !now.Before(*c.ExpiresAt)
}

// GenerationAttempt is one row of the append-only generation log.
type GenerationAttempt struct {
	ID               int64         `json:"id"`
	OriginalImageRef string        `json:"originalImageUrl"`
	GeneratedPayload string        `json:"generatedImageUrl,omitempty"`
	UserID           *int64        `json:"userId,omitempty"`
	RedemptionCodeID *int64        `json:"redemptionCodeId,omitempty"`
	Vendor           string        `json:"vendor,omitempty"`
	Prompt           string        `json:"prompt,omitempty"`
	Status           AttemptStatus `json:"status"`
	ErrorMessage     string        `json:"errorMessage,omitempty"`
	CreatedAt        time.Time     `json:"createdAt"`
}
