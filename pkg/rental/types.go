package rental

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"
)

// AmountCents is an integer amount in the minor unit of its currency.
type AmountCents int64

// Int64 returns the raw amount.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// NewAmountCents validates an amount and ensures it is not negative.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmountCents)
	}
	return AmountCents(raw), nil
}

// BookingID identifies a rental booking.
type BookingID struct {
	value string
}

// NewBookingID validates and normalizes a booking id.
func NewBookingID(raw string) (BookingID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BookingID{}, fmt.Errorf("%w: empty value", ErrInvalidBookingID)
	}
	return BookingID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BookingID) String() string {
	return id.value
}

// IsZero reports whether the id was never set.
func (id BookingID) IsZero() bool {
	return id.value == ""
}

// UserID identifies a renter, owner or administrator.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// CouponCode is an upper-cased promotional code.
type CouponCode struct {
	value string
}

// NewCouponCode trims and upper-cases a code.
func NewCouponCode(raw string) (CouponCode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if normalized == "" {
		return CouponCode{}, fmt.Errorf("%w: empty value", ErrInvalidCouponCode)
	}
	return CouponCode{value: normalized}, nil
}

// String returns the normalized code.
func (code CouponCode) String() string {
	return code.value
}

// NormalizeCurrency upper-cases a three letter ISO-4217 code.
func NormalizeCurrency(raw string) (string, error) {
	normalized := strings.ToUpper(strings.TrimSpace(raw))
	if len(normalized) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, raw)
	}
	return normalized, nil
}

// RoleAdmin grants refund and ledger access on any booking.
const RoleAdmin = "admin"

// Caller is the authenticated party issuing a request.
type Caller struct {
	UserID UserID
	Email  string
	Roles  []string
}

// IsAdmin reports whether the caller carries the admin role.
func (caller Caller) IsAdmin() bool {
	return slices.Contains(caller.Roles, RoleAdmin)
}

// BookingStatus defines the rental lifecycle.
type BookingStatus string

const (
	BookingStatusPending   BookingStatus = "pending"
	BookingStatusApproved  BookingStatus = "approved"
	BookingStatusPaid      BookingStatus = "paid"
	BookingStatusActive    BookingStatus = "active"
	BookingStatusCompleted BookingStatus = "completed"
	BookingStatusRejected  BookingStatus = "rejected"
	BookingStatusCancelled BookingStatus = "cancelled"
)

// PaymentStatus defines the money lifecycle of a booking.
type PaymentStatus string

const (
	PaymentStatusUnpaid   PaymentStatus = "unpaid"
	PaymentStatusPaid     PaymentStatus = "paid"
	PaymentStatusRefunded PaymentStatus = "refunded"
	PaymentStatusFailed   PaymentStatus = "failed"
)

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusUnpaid: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusFailed: {PaymentStatusPaid, PaymentStatusFailed},
	PaymentStatusPaid:   {PaymentStatusRefunded},
}

// CanTransition reports whether the payment status may move from one value to another.
func (status PaymentStatus) CanTransition(to PaymentStatus) bool {
	return slices.Contains(paymentTransitions[status], to)
}

// Booking is one rental agreement between a renter and an owner.
type Booking struct {
	ID                    BookingID
	RenterID              UserID
	RenterEmail           string
	RenterName            string
	OwnerID               UserID
	OwnerEmail            string
	OwnerName             string
	VehicleID             string
	VehicleTitle          string
	VehicleType           string
	StartDate             time.Time
	EndDate               time.Time
	Days                  int
	Currency              string
	SubtotalCents         AmountCents
	PlatformFeeCents      AmountCents
	InsuranceCents        AmountCents
	ExtrasCents           AmountCents
	SecurityDepositCents  AmountCents
	TotalAmountCents      AmountCents
	OwnerPayoutCents      AmountCents
	Status                BookingStatus
	PaymentStatus         PaymentStatus
	PaymentProvider       ProviderName
	StripePaymentIntentID string
	MercadoPagoPaymentID  string
	Metadata              map[string]string
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// RentalChargeCents is the non-refundable part of checkout: subtotal, fee, insurance and extras.
func (booking Booking) RentalChargeCents() AmountCents {
	return booking.SubtotalCents + booking.PlatformFeeCents + booking.InsuranceCents + booking.ExtrasCents
}

// PaymentReference returns the provider that captured the payment and its id.
// MercadoPago takes precedence when both columns are somehow populated.
func (booking Booking) PaymentReference() (ProviderName, string, bool) {
	if booking.MercadoPagoPaymentID != "" {
		return ProviderMercadoPago, booking.MercadoPagoPaymentID, true
	}
	if booking.StripePaymentIntentID != "" {
		return ProviderStripe, booking.StripePaymentIntentID, true
	}
	return "", "", false
}

// PaymentTransition is a compare-and-set request on a booking's payment status.
// The store applies it only when the current payment status is one of From.
// When BookingStatusFrom is set, BookingStatus is written only while the booking
// status still equals it; the payment status moves either way.
type PaymentTransition struct {
	BookingID         BookingID
	From              []PaymentStatus
	To                PaymentStatus
	BookingStatusFrom BookingStatus
	BookingStatus     BookingStatus
	Provider          ProviderName
	ProviderPayment   string
	MetadataPatch     map[string]string
	At                time.Time
}

// ActorRole names whose money a ledger row moves.
type ActorRole string

const (
	ActorRenter   ActorRole = "renter"
	ActorOwner    ActorRole = "owner"
	ActorPlatform ActorRole = "platform"
)

// TransactionType enumerates ledger row kinds.
type TransactionType string

const (
	TransactionPayment     TransactionType = "payment"
	TransactionCommission  TransactionType = "commission"
	TransactionPayout      TransactionType = "payout"
	TransactionDepositHold TransactionType = "deposit_hold"
	TransactionRefund      TransactionType = "refund"
)

// TransactionStatus is the settlement state of a ledger row.
type TransactionStatus string

const (
	TransactionCompleted TransactionStatus = "completed"
	TransactionPending   TransactionStatus = "pending"
)

// Transaction is a single immutable line in the ledger.
type Transaction struct {
	ID                string
	BookingID         BookingID
	ActorEmail        string
	ActorRole         ActorRole
	Type              TransactionType
	AmountCents       AmountCents
	Currency          string
	Status            TransactionStatus
	Description       string
	ProviderReference string
	IdempotencyKey    string
	Metadata          map[string]string
	CreatedAt         time.Time
}

// DiscountType selects how a coupon's value is read.
type DiscountType string

const (
	DiscountPercentage DiscountType = "percentage"
	DiscountFixed      DiscountType = "fixed"
)

// Coupon is a promotional rule.
type Coupon struct {
	ID                     string
	Code                   CouponCode
	Active                 bool
	ValidFrom              time.Time
	ValidUntil             *time.Time
	UsageLimit             *int64
	UsedCount              int64
	UsagePerUser           *int64
	MinBookingAmountCents  AmountCents
	ApplicableVehicleTypes []string
	DiscountType           DiscountType
	DiscountValue          int64
	MaxDiscountCents       *AmountCents
}

// CouponUsage records one redemption of a coupon by a user.
type CouponUsage struct {
	ID        string
	CouponID  string
	UserID    UserID
	BookingID BookingID
	CreatedAt time.Time
}

// Store is the persistence contract used by the payment components.
// Single-row operations are atomic; WithTx groups several of them.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetBooking(ctx context.Context, bookingID BookingID) (Booking, error)
	MergeBookingMetadata(ctx context.Context, bookingID BookingID, provider ProviderName, patch map[string]string) error
	TransitionPayment(ctx context.Context, transition PaymentTransition) error
	InsertTransaction(ctx context.Context, transaction Transaction) (string, error)
	ListTransactions(ctx context.Context, bookingID BookingID) ([]Transaction, error)
	FindCouponByCode(ctx context.Context, code CouponCode) (Coupon, error)
	CountCouponUsages(ctx context.Context, couponID string, userID UserID) (int64, error)
	RedeemCoupon(ctx context.Context, usage CouponUsage) error
}
