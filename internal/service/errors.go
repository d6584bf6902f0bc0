package service

import (
	"errors"
	"fmt"

	"github.com/digkill/figureshop/internal/imagegen"
	"github.com/digkill/figureshop/internal/payment"
	"github.com/digkill/figureshop/internal/repository"
	"github.com/digkill/figureshop/internal/storage"
)

var (
	ErrInvalidInput  = errors.New("invalid input")
	ErrCodeNotFound  = errors.New("redemption code not found")
	ErrCodeExpired   = errors.New("redemption code expired")
	ErrOrderNotFound = errors.New("order not found")
	ErrQuotaExceeded = repository.ErrQuotaExceeded
	ErrPaymentFailed = errors.New("payment gateway request failed")
)

// inputError carries a message that is safe to show to the customer.
type inputError struct {
	msg string
}

func (e *inputError) Error() string { return "invalid input: " + e.msg }

func (e *inputError) Is(target error) bool { return target == ErrInvalidInput }

func invalidInput(format string, args ...any) error {
	return &inputError{msg: fmt.Sprintf(format, args...)}
}

// UserMessage turns any error from this package into the reason string the
// storefront shows. Unknown errors get a generic message.
func UserMessage(err error) string {
	var in *inputError
	var vendorErr *imagegen.Error
	var storeErr *storage.Error

	switch {
	case err == nil:
		return ""
	case errors.As(err, &in):
		return in.msg
	case errors.Is(err, ErrCodeNotFound):
		return "兑换码无效"
	case errors.Is(err, ErrQuotaExceeded):
		return "兑换码使用次数已达上限"
	case errors.Is(err, ErrCodeExpired):
		return "兑换码已过期"
	case errors.Is(err, ErrOrderNotFound):
		return "订单不存在"
	case errors.Is(err, repository.ErrDuplicateOrder):
		return "订单已存在，请重新下单"
	case errors.Is(err, payment.ErrSignatureInvalid):
		return "签名验证失败"
	case errors.Is(err, ErrPaymentFailed):
		return "创建支付订单失败，请稍后重试"
	case errors.Is(err, imagegen.ErrTimeout):
		return "图片生成超时，兑换码未扣除次数，请稍后重试"
	case errors.Is(err, imagegen.ErrConnectionReset):
		return "与生成服务的连接中断，兑换码未扣除次数，请重试"
	case errors.As(err, &vendorErr):
		if vendorErr.Reason == imagegen.ReasonContentFilter {
			return "图片或描述未通过内容审核，兑换码未扣除次数"
		}
		return "图片生成失败，兑换码未扣除次数，请稍后重试"
	case errors.As(err, &storeErr):
		return "图片上传失败，请稍后重试"
	default:
		return "服务器内部错误，请稍后重试"
	}
}
