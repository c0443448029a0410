package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Booking mirrors the bookings table. Rows are created upstream at approval time.
type Booking struct {
	BookingID             string         `gorm:"primaryKey"`
	RenterID              string         `gorm:"not null;index:idx_bookings_renter"`
	RenterEmail           string         `gorm:"not null"`
	RenterName            string         `gorm:"not null;default:''"`
	OwnerID               string         `gorm:"not null;index:idx_bookings_owner"`
	OwnerEmail            string         `gorm:"not null"`
	OwnerName             string         `gorm:"not null;default:''"`
	VehicleID             string         `gorm:"not null"`
	VehicleTitle          string         `gorm:"not null"`
	VehicleType           string         `gorm:"not null;default:''"`
	StartDate             time.Time      `gorm:"not null"`
	EndDate               time.Time      `gorm:"not null"`
	Days                  int            `gorm:"not null"`
	Currency              string         `gorm:"size:3;not null;default:'USD'"`
	SubtotalCents         int64          `gorm:"not null"`
	PlatformFeeCents      int64          `gorm:"not null"`
	InsuranceCents        int64          `gorm:"not null;default:0"`
	ExtrasCents           int64          `gorm:"not null;default:0"`
	SecurityDepositCents  int64          `gorm:"not null;default:0"`
	TotalAmountCents      int64          `gorm:"not null"`
	OwnerPayoutCents      int64          `gorm:"not null"`
	Status                string         `gorm:"not null;index:idx_bookings_status"`
	PaymentStatus         string         `gorm:"not null;default:'unpaid'"`
	PaymentProvider       string         `gorm:"not null;default:''"`
	StripePaymentIntentID *string        `gorm:"index:uniq_bookings_stripe_intent,unique"`
	MercadoPagoPaymentID  *string        `gorm:"index:uniq_bookings_mercadopago_payment,unique"`
	Metadata              datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt             time.Time      `gorm:"not null"`
	UpdatedAt             time.Time      `gorm:"not null"`
}

func (Booking) TableName() string { return "bookings" }

func (booking *Booking) BeforeCreate(tx *gorm.DB) error {
	if booking.BookingID == "" {
		booking.BookingID = uuid.NewString()
	}
	return nil
}

// Transaction mirrors the append-only transactions table.
type Transaction struct {
	TransactionID     string         `gorm:"type:uuid;primaryKey"`
	BookingID         string         `gorm:"not null;index:idx_transactions_booking_created,priority:1"`
	ActorEmail        string         `gorm:"not null"`
	ActorRole         string         `gorm:"not null"`
	Type              string         `gorm:"not null"`
	AmountCents       int64          `gorm:"not null;check:chk_transactions_amount,amount_cents >= 0"`
	Currency          string         `gorm:"size:3;not null"`
	Status            string         `gorm:"not null"`
	Description       string         `gorm:"not null;default:''"`
	ProviderReference string         `gorm:"not null;default:''"`
	IdempotencyKey    string         `gorm:"not null;index:uniq_transactions_idempotency_key,unique"`
	Metadata          datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt         time.Time      `gorm:"not null;index:idx_transactions_booking_created,priority:2"`
}

func (Transaction) TableName() string { return "transactions" }

func (transaction *Transaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Coupon mirrors the coupons table.
type Coupon struct {
	CouponID               string         `gorm:"type:uuid;primaryKey"`
	Code                   string         `gorm:"not null;index:uniq_coupons_code,unique"`
	Active                 bool           `gorm:"not null"`
	ValidFrom              time.Time      `gorm:"not null"`
	ValidUntil             *time.Time     `gorm:""`
	UsageLimit             *int64         `gorm:""`
	UsedCount              int64          `gorm:"not null;default:0"`
	UsagePerUser           *int64         `gorm:""`
	MinBookingAmountCents  int64          `gorm:"not null;default:0"`
	ApplicableVehicleTypes datatypes.JSON `gorm:"type:jsonb;not null"`
	DiscountType           string         `gorm:"not null"`
	DiscountValue          int64          `gorm:"not null"`
	MaxDiscountCents       *int64         `gorm:""`
	CreatedAt              time.Time      `gorm:"not null"`
}

func (Coupon) TableName() string { return "coupons" }

func (coupon *Coupon) BeforeCreate(tx *gorm.DB) error {
	if coupon.CouponID == "" {
		coupon.CouponID = uuid.NewString()
	}
	return nil
}

// CouponUsage mirrors the coupon_usages table.
type CouponUsage struct {
	UsageID   string    `gorm:"type:uuid;primaryKey"`
	CouponID  string    `gorm:"type:uuid;not null;index:idx_coupon_usages_coupon_user,priority:1"`
	UserID    string    `gorm:"not null;index:idx_coupon_usages_coupon_user,priority:2"`
	BookingID string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CouponUsage) TableName() string { return "coupon_usages" }

func (usage *CouponUsage) BeforeCreate(tx *gorm.DB) error {
	if usage.UsageID == "" {
		usage.UsageID = uuid.NewString()
	}
	return nil
}

// Models lists every table the store needs, in migration order.
func Models() []any {
	return []any{&Booking{}, &Transaction{}, &Coupon{}, &CouponUsage{}}
}
