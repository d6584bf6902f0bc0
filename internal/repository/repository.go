package repository

import (
	"errors"
	"time"
)

var (
	ErrDuplicateOrder = errors.New("order already exists")
	ErrQuotaExceeded  = errors.New("redemption code usage limit reached")
	ErrAlreadyIssued  = errors.New("codes already issued for order")
	ErrCodeCollision  = errors.New("could not generate a unique redemption code")
)

// now is truncated to the precision every supported backend can hold.
func now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
