package rental

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the payment components.
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrNotFound             = errors.New("not found")
	ErrInvalidState         = errors.New("invalid state")
	ErrProviderError        = errors.New("provider error")
	ErrValidation           = errors.New("validation error")
	ErrRetryable            = errors.New("retryable")
	ErrStaleState           = errors.New("stale state")
	ErrUserLimitReached     = errors.New("per-user limit reached")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidBookingID     = errors.New("invalid booking id")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidCouponCode    = errors.New("invalid coupon code")
	ErrInvalidAmountCents   = errors.New("invalid amount cents")
	ErrInvalidCurrency      = errors.New("invalid currency")
	ErrInvalidTransaction   = errors.New("invalid transaction")
	ErrInvalidServiceConfig = errors.New("invalid service config")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}

// ProviderFailure marks err as a payment gateway failure while keeping the cause.
func ProviderFailure(provider ProviderName, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrProviderError, provider, err)
}

// CouponRejection enumerates why a coupon could not be applied.
type CouponRejection string

const (
	CouponInvalid             CouponRejection = "Invalid"
	CouponNotYetActive        CouponRejection = "NotYetActive"
	CouponExpired             CouponRejection = "Expired"
	CouponGlobalLimitReached  CouponRejection = "GlobalLimitReached"
	CouponUserLimitReached    CouponRejection = "UserLimitReached"
	CouponBelowMinimum        CouponRejection = "BelowMinimum"
	CouponVehicleTypeExcluded CouponRejection = "VehicleTypeExcluded"
)

// CouponError reports a rejected coupon with its reason.
type CouponError struct {
	Reason CouponRejection
}

func (couponError *CouponError) Error() string {
	return fmt.Sprintf("coupon rejected: %s", couponError.Reason)
}

// Unwrap lets callers match on ErrValidation.
func (couponError *CouponError) Unwrap() error {
	return ErrValidation
}
