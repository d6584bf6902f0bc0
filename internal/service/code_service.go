package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/digkill/figureshop/internal/models"
	"github.com/digkill/figureshop/internal/repository"
)

const (
	maxAdminMintCount = 1000
	maxUsagePerCode   = 1000
	maxListLimit      = 200
)

// Verification describes a code that can pay for at least one generation.
type Verification struct {
	CodeID        int64      `json:"codeId"`
	UserID        int64      `json:"userId"`
	Code          string     `json:"code"`
	UsageCount    int        `json:"usageCount"`
	RemainingUses int        `json:"remainingUses"`
	ExpiresAt     *time.Time `json:"expiresAt,omitempty"`
}

type CodeService struct {
	codes *repository.CodeRepository
	users *UserService
	now   func() time.Time
}

func NewCodeService(codes *repository.CodeRepository, users *UserService) *CodeService {
	return &CodeService{codes: codes, users: users, now: time.Now}
}

// NormalizeCode trims whitespace and upper-cases what the customer typed.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Verify checks that the code exists, has not expired and has at least one use left.
// It never writes.
func (s *CodeService) Verify(ctx context.Context, code string) (*Verification, error) {
	v, _, err := s.verify(ctx, code, 1)
	return v, err
}

// verify also returns the looked-up code, when there is one, so callers can
// attribute a rejected attempt to it.
func (s *CodeService) verify(ctx context.Context, code string, units int) (*Verification, *models.RedemptionCode, error) {
	code = NormalizeCode(code)
	if code == "" {
		return nil, nil, invalidInput("请输入兑换码")
	}

	rc, err := s.codes.GetByCode(ctx, code)
	if err != nil {
		return nil, nil, fmt.Errorf("lookup code: %w", err)
	}
	if rc == nil {
		return nil, nil, ErrCodeNotFound
	}
	if rc.ExpiredAt(s.now()) {
		return nil, rc, ErrCodeExpired
	}
	if rc.Remaining() < units {
		return nil, rc, ErrQuotaExceeded
	}

	return &Verification{
		CodeID:        rc.ID,
		UserID:        rc.UserID,
		Code:          rc.Code,
		UsageCount:    rc.UsageCount,
		RemainingUses: rc.Remaining(),
		ExpiresAt:     rc.ExpiresAt,
	}, rc, nil
}

type MintRequest struct {
	Count         int `json:"count"`
	UsageCount    int `json:"usageCount"`
	ExpiresInDays int `json:"expiresInDays"`
}

// Mint issues standalone codes that belong to no order.
func (s *CodeService) Mint(ctx context.Context, req MintRequest) ([]models.RedemptionCode, error) {
	if req.Count <= 0 || req.Count > maxAdminMintCount {
		return nil, invalidInput("数量必须在 1 到 %d 之间", maxAdminMintCount)
	}
	if req.UsageCount <= 0 || req.UsageCount > maxUsagePerCode {
		return nil, invalidInput("可用次数必须在 1 到 %d 之间", maxUsagePerCode)
	}
	if req.ExpiresInDays < 0 {
		return nil, invalidInput("有效天数不能为负数")
	}

	owner, err := s.users.EnsureGuest(ctx)
	if err != nil {
		return nil, err
	}

	codes, err := s.codes.Mint(ctx, repository.MintParams{
		UserID:       owner.ID,
		Count:        req.Count,
		UsagePerCode: req.UsageCount,
		ExpiresAt:    expiry(s.now(), time.Duration(req.ExpiresInDays)*24*time.Hour),
	})
	if err != nil {
		return nil, fmt.Errorf("mint codes: %w", err)
	}
	return codes, nil
}

func (s *CodeService) List(ctx context.Context, limit, offset int) ([]models.RedemptionCode, error) {
	limit, offset = clampPage(limit, offset)
	return s.codes.List(ctx, limit, offset)
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	t := now.UTC().Add(ttl).Truncate(time.Millisecond)
	return &t
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
