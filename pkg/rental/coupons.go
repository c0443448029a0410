package rental

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// CouponQuery is what price composition asks about a code.
type CouponQuery struct {
	Code             string
	TotalAmountCents AmountCents
	VehicleType      string
}

// CouponQuote is an accepted coupon with the discount it grants.
type CouponQuote struct {
	Coupon           Coupon
	DiscountCents    AmountCents
	FinalAmountCents AmountCents
}

// CouponValidator checks promotional codes against booking totals.
type CouponValidator struct {
	store Store
	options
}

// NewCouponValidator wires a CouponValidator.
func NewCouponValidator(store Store, opts ...Option) (*CouponValidator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &CouponValidator{store: store, options: applyOptions(opts)}, nil
}

// Validate runs the coupon checks in a fixed order and returns the first rejection.
// It never changes usage counters.
func (validator *CouponValidator) Validate(ctx context.Context, caller Caller, query CouponQuery) (CouponQuote, error) {
	quote, err := validator.validate(ctx, caller, query)
	validator.logOperation(ctx, OperationLog{
		Operation: operationCoupon,
		Amount:    quote.DiscountCents,
		Outcome:   rejectionOutcome(err),
		Error:     err,
	})
	return quote, err
}

// Redeem validates again and consumes one use of the coupon for a booking.
func (validator *CouponValidator) Redeem(ctx context.Context, caller Caller, query CouponQuery, bookingID BookingID) (CouponQuote, error) {
	quote, err := func() (CouponQuote, error) {
		if bookingID.IsZero() {
			return CouponQuote{}, fmt.Errorf("%w: booking id is required", ErrValidation)
		}
		quote, err := validator.validate(ctx, caller, query)
		if err != nil {
			return CouponQuote{}, err
		}
		err = validator.store.RedeemCoupon(ctx, CouponUsage{
			CouponID:  quote.Coupon.ID,
			UserID:    caller.UserID,
			BookingID: bookingID,
			CreatedAt: validator.nowFn(),
		})
		if errors.Is(err, ErrUserLimitReached) {
			return CouponQuote{}, &CouponError{Reason: CouponUserLimitReached}
		}
		if errors.Is(err, ErrStaleState) {
			return CouponQuote{}, &CouponError{Reason: CouponGlobalLimitReached}
		}
		if err != nil {
			return CouponQuote{}, WrapError(operationRedeem, errorSubjectCoupon, errorCodeRedeem, err)
		}
		return quote, nil
	}()
	validator.logOperation(ctx, OperationLog{
		Operation: operationRedeem,
		BookingID: bookingID,
		Amount:    quote.DiscountCents,
		Outcome:   rejectionOutcome(err),
		Error:     err,
	})
	return quote, err
}

func (validator *CouponValidator) validate(ctx context.Context, caller Caller, query CouponQuery) (CouponQuote, error) {
	code, err := NewCouponCode(query.Code)
	if err != nil {
		return CouponQuote{}, &CouponError{Reason: CouponInvalid}
	}
	if query.TotalAmountCents < 0 {
		return CouponQuote{}, fmt.Errorf("%w: total amount must not be negative", ErrValidation)
	}
	coupon, err := validator.store.FindCouponByCode(ctx, code)
	if errors.Is(err, ErrNotFound) {
		return CouponQuote{}, &CouponError{Reason: CouponInvalid}
	}
	if err != nil {
		return CouponQuote{}, WrapError(operationCoupon, errorSubjectCoupon, errorCodeLoad, err)
	}
	if !coupon.Active {
		return CouponQuote{}, &CouponError{Reason: CouponInvalid}
	}
	now := validator.nowFn()
	if now.Before(coupon.ValidFrom) {
		return CouponQuote{}, &CouponError{Reason: CouponNotYetActive}
	}
	if coupon.ValidUntil != nil && now.After(*coupon.ValidUntil) {
		return CouponQuote{}, &CouponError{Reason: CouponExpired}
	}
	if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
		return CouponQuote{}, &CouponError{Reason: CouponGlobalLimitReached}
	}
	if coupon.UsagePerUser != nil {
		used, err := validator.store.CountCouponUsages(ctx, coupon.ID, caller.UserID)
		if err != nil {
			return CouponQuote{}, WrapError(operationCoupon, errorSubjectCoupon, errorCodeUsageCount, err)
		}
		if used >= *coupon.UsagePerUser {
			return CouponQuote{}, &CouponError{Reason: CouponUserLimitReached}
		}
	}
	if query.TotalAmountCents < coupon.MinBookingAmountCents {
		return CouponQuote{}, &CouponError{Reason: CouponBelowMinimum}
	}
	if !vehicleTypeAllowed(coupon.ApplicableVehicleTypes, query.VehicleType) {
		return CouponQuote{}, &CouponError{Reason: CouponVehicleTypeExcluded}
	}
	discount := ComputeDiscount(coupon, query.TotalAmountCents)
	return CouponQuote{
		Coupon:           coupon,
		DiscountCents:    discount,
		FinalAmountCents: query.TotalAmountCents - discount,
	}, nil
}

// ComputeDiscount returns the coupon's discount on total, always within [0, total].
func ComputeDiscount(coupon Coupon, total AmountCents) AmountCents {
	var discount AmountCents
	switch coupon.DiscountType {
	case DiscountPercentage:
		discount = total * AmountCents(coupon.DiscountValue) / percentBase
		if coupon.MaxDiscountCents != nil && discount > *coupon.MaxDiscountCents {
			discount = *coupon.MaxDiscountCents
		}
	case DiscountFixed:
		discount = AmountCents(coupon.DiscountValue)
	}
	return max(AmountCents(0), min(discount, total))
}

func vehicleTypeAllowed(allowed []string, vehicleType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if strings.EqualFold(strings.TrimSpace(candidate), strings.TrimSpace(vehicleType)) {
			return true
		}
	}
	return false
}

func rejectionOutcome(err error) string {
	var couponError *CouponError
	if errors.As(err, &couponError) {
		return string(couponError.Reason)
	}
	return ""
}
