package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	constraintTransactionIdempotencyKey = "uniq_transactions_idempotency_key"
	defaultMetadataJSON                 = "{}"
	defaultListJSON                     = "[]"
	pgUniqueViolationCode               = "23505"
	sqliteConstraintCode                = 19
	errorOperationStore                 = "store"
	errorSubjectBooking                 = "booking"
	errorSubjectTransaction             = "transaction"
	errorSubjectCoupon                  = "coupon"
	errorCodeCreate                     = "create"
	errorCodeDuplicate                  = "duplicate"
	errorCodeGet                        = "get"
	errorCodeInsert                     = "insert"
	errorCodeInvalid                    = "invalid"
	errorCodeList                       = "list"
	errorCodeMetadata                   = "metadata"
	errorCodeTransition                 = "transition"
	errorCodeCount                      = "count"
	errorCodeRedeem                     = "redeem"
)

// Store implements rental.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore rental.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// CreateBooking inserts a booking. The engine never creates bookings itself; this
// exists for the upstream approval flow and for seeding.
func (store *Store) CreateBooking(ctx context.Context, booking rental.Booking) error {
	metadata, err := encodeJSON(booking.Metadata, defaultMetadataJSON)
	if err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	model := Booking{
		BookingID:            booking.ID.String(),
		RenterID:             booking.RenterID.String(),
		RenterEmail:          booking.RenterEmail,
		RenterName:           booking.RenterName,
		OwnerID:              booking.OwnerID.String(),
		OwnerEmail:           booking.OwnerEmail,
		OwnerName:            booking.OwnerName,
		VehicleID:            booking.VehicleID,
		VehicleTitle:         booking.VehicleTitle,
		VehicleType:          booking.VehicleType,
		StartDate:            booking.StartDate.UTC(),
		EndDate:              booking.EndDate.UTC(),
		Days:                 booking.Days,
		Currency:             booking.Currency,
		SubtotalCents:        booking.SubtotalCents.Int64(),
		PlatformFeeCents:     booking.PlatformFeeCents.Int64(),
		InsuranceCents:       booking.InsuranceCents.Int64(),
		ExtrasCents:          booking.ExtrasCents.Int64(),
		SecurityDepositCents: booking.SecurityDepositCents.Int64(),
		TotalAmountCents:     booking.TotalAmountCents.Int64(),
		OwnerPayoutCents:     booking.OwnerPayoutCents.Int64(),
		Status:               string(booking.Status),
		PaymentStatus:        string(booking.PaymentStatus),
		PaymentProvider:      string(booking.PaymentProvider),
		Metadata:             metadata,
	}
	if model.PaymentStatus == "" {
		model.PaymentStatus = string(rental.PaymentStatusUnpaid)
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return wrapStoreError(errorSubjectBooking, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetBooking(ctx context.Context, bookingID rental.BookingID) (rental.Booking, error) {
	var model Booking
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rental.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, rental.ErrNotFound)
		}
		return rental.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	booking, err := mapBooking(model)
	if err != nil {
		return rental.Booking{}, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return booking, nil
}

// MergeBookingMetadata patches the metadata map under a row lock and tags the provider.
func (store *Store) MergeBookingMetadata(ctx context.Context, bookingID rental.BookingID, provider rental.ProviderName, patch map[string]string) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		merged, err := lockedMetadata(transaction, bookingID, patch)
		if err != nil {
			return err
		}
		updates := map[string]any{"metadata": merged, "updated_at": time.Now().UTC()}
		if provider != "" {
			updates["payment_provider"] = string(provider)
		}
		err = transaction.Model(&Booking{}).
			Where("booking_id = ?", bookingID.String()).
			Updates(updates).Error
		if err != nil {
			return wrapStoreError(errorSubjectBooking, errorCodeMetadata, err)
		}
		return nil
	})
}

// TransitionPayment is a compare-and-set on payment_status. Zero rows affected means
// another writer moved the booking first. A guarded booking status is rewritten in
// the same statement only while it still holds the expected value.
func (store *Store) TransitionPayment(ctx context.Context, transition rental.PaymentTransition) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		merged, err := lockedMetadata(transaction, transition.BookingID, transition.MetadataPatch)
		if err != nil {
			return err
		}
		updatedAt := transition.At
		if updatedAt.IsZero() {
			updatedAt = time.Now().UTC()
		}
		updates := map[string]any{
			"payment_status": string(transition.To),
			"metadata":       merged,
			"updated_at":     updatedAt.UTC(),
		}
		switch {
		case transition.BookingStatus == "":
		case transition.BookingStatusFrom == "":
			updates["status"] = string(transition.BookingStatus)
		default:
			updates["status"] = gorm.Expr("CASE WHEN status = ? THEN ? ELSE status END",
				string(transition.BookingStatusFrom), string(transition.BookingStatus))
		}
		if transition.Provider != "" {
			updates["payment_provider"] = string(transition.Provider)
			switch transition.Provider {
			case rental.ProviderStripe:
				updates["stripe_payment_intent_id"] = transition.ProviderPayment
			case rental.ProviderMercadoPago:
				updates["mercado_pago_payment_id"] = transition.ProviderPayment
			}
		}
		from := make([]string, 0, len(transition.From))
		for _, status := range transition.From {
			from = append(from, string(status))
		}
		result := transaction.Model(&Booking{}).
			Where("booking_id = ? AND payment_status IN ?", transition.BookingID.String(), from).
			Updates(updates)
		if result.Error != nil {
			return wrapStoreError(errorSubjectBooking, errorCodeTransition, result.Error)
		}
		if result.RowsAffected == 0 {
			return wrapStoreError(errorSubjectBooking, errorCodeTransition, rental.ErrStaleState)
		}
		return nil
	})
}

func (store *Store) InsertTransaction(ctx context.Context, transaction rental.Transaction) (string, error) {
	metadata, err := encodeJSON(transaction.Metadata, defaultMetadataJSON)
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	model := Transaction{
		BookingID:         transaction.BookingID.String(),
		ActorEmail:        transaction.ActorEmail,
		ActorRole:         string(transaction.ActorRole),
		Type:              string(transaction.Type),
		AmountCents:       transaction.AmountCents.Int64(),
		Currency:          transaction.Currency,
		Status:            string(transaction.Status),
		Description:       transaction.Description,
		ProviderReference: transaction.ProviderReference,
		IdempotencyKey:    transaction.IdempotencyKey,
		Metadata:          metadata,
		CreatedAt:         transaction.CreatedAt.UTC(),
	}
	if transaction.CreatedAt.IsZero() {
		model.CreatedAt = time.Now().UTC()
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isIdempotencyConflict(err) {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, rental.ErrDuplicateTransaction)
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return model.TransactionID, nil
}

func (store *Store) ListTransactions(ctx context.Context, bookingID rental.BookingID) ([]rental.Transaction, error) {
	var rows []Transaction
	err := store.db.WithContext(ctx).
		Where("booking_id = ?", bookingID.String()).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]rental.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

// CreateCoupon inserts a coupon definition.
func (store *Store) CreateCoupon(ctx context.Context, coupon rental.Coupon) (string, error) {
	vehicleTypes, err := encodeJSON(coupon.ApplicableVehicleTypes, defaultListJSON)
	if err != nil {
		return "", wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	model := Coupon{
		CouponID:               coupon.ID,
		Code:                   coupon.Code.String(),
		Active:                 coupon.Active,
		ValidFrom:              coupon.ValidFrom.UTC(),
		ValidUntil:             coupon.ValidUntil,
		UsageLimit:             coupon.UsageLimit,
		UsedCount:              coupon.UsedCount,
		UsagePerUser:           coupon.UsagePerUser,
		MinBookingAmountCents:  coupon.MinBookingAmountCents.Int64(),
		ApplicableVehicleTypes: vehicleTypes,
		DiscountType:           string(coupon.DiscountType),
		DiscountValue:          coupon.DiscountValue,
	}
	if coupon.MaxDiscountCents != nil {
		maxDiscount := coupon.MaxDiscountCents.Int64()
		model.MaxDiscountCents = &maxDiscount
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return "", wrapStoreError(errorSubjectCoupon, errorCodeDuplicate, fmt.Errorf("%w: coupon %s exists", rental.ErrValidation, coupon.Code))
	}
	if err != nil {
		return "", wrapStoreError(errorSubjectCoupon, errorCodeCreate, err)
	}
	return model.CouponID, nil
}

func (store *Store) FindCouponByCode(ctx context.Context, code rental.CouponCode) (rental.Coupon, error) {
	var model Coupon
	err := store.db.WithContext(ctx).
		Where("code = ?", code.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rental.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, rental.ErrNotFound)
		}
		return rental.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeGet, err)
	}
	coupon, err := mapCoupon(model)
	if err != nil {
		return rental.Coupon{}, wrapStoreError(errorSubjectCoupon, errorCodeInvalid, err)
	}
	return coupon, nil
}

func (store *Store) CountCouponUsages(ctx context.Context, couponID string, userID rental.UserID) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&CouponUsage{}).
		Where("coupon_id = ? AND user_id = ?", couponID, userID.String()).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCoupon, errorCodeCount, err)
	}
	return count, nil
}

// RedeemCoupon increments used_count only while it is below usage_limit and records
// the usage in the same transaction. The increment holds the coupon row lock while
// the user's earlier usages are counted against usage_per_user.
func (store *Store) RedeemCoupon(ctx context.Context, usage rental.CouponUsage) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		result := transaction.Model(&Coupon{}).
			Where("coupon_id = ? AND (usage_limit IS NULL OR used_count < usage_limit)", usage.CouponID).
			Update("used_count", gorm.Expr("used_count + 1"))
		if result.Error != nil {
			return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, result.Error)
		}
		if result.RowsAffected == 0 {
			var exists int64
			if err := transaction.Model(&Coupon{}).Where("coupon_id = ?", usage.CouponID).Count(&exists).Error; err != nil {
				return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, err)
			}
			if exists == 0 {
				return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, rental.ErrNotFound)
			}
			return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, rental.ErrStaleState)
		}

		var coupon Coupon
		err := transaction.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("coupon_id", "usage_per_user").
			Where("coupon_id = ?", usage.CouponID).
			Take(&coupon).Error
		if err != nil {
			return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, err)
		}
		if coupon.UsagePerUser != nil {
			var used int64
			err := transaction.Model(&CouponUsage{}).
				Where("coupon_id = ? AND user_id = ?", usage.CouponID, usage.UserID.String()).
				Count(&used).Error
			if err != nil {
				return wrapStoreError(errorSubjectCoupon, errorCodeCount, err)
			}
			if used >= *coupon.UsagePerUser {
				return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, rental.ErrUserLimitReached)
			}
		}

		model := CouponUsage{
			CouponID:  usage.CouponID,
			UserID:    usage.UserID.String(),
			BookingID: usage.BookingID.String(),
			CreatedAt: usage.CreatedAt.UTC(),
		}
		if usage.CreatedAt.IsZero() {
			model.CreatedAt = time.Now().UTC()
		}
		if err := transaction.Create(&model).Error; err != nil {
			return wrapStoreError(errorSubjectCoupon, errorCodeRedeem, err)
		}
		return nil
	})
}

// lockedMetadata reads the booking row FOR UPDATE and returns its metadata with patch applied.
func lockedMetadata(transaction *gorm.DB, bookingID rental.BookingID, patch map[string]string) (datatypes.JSON, error) {
	var model Booking
	err := transaction.
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Select("booking_id", "metadata").
		Where("booking_id = ?", bookingID.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, wrapStoreError(errorSubjectBooking, errorCodeGet, rental.ErrNotFound)
		}
		return nil, wrapStoreError(errorSubjectBooking, errorCodeGet, err)
	}
	current, err := decodeMetadata(model.Metadata)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	maps.Copy(current, patch)
	merged, err := encodeJSON(current, defaultMetadataJSON)
	if err != nil {
		return nil, wrapStoreError(errorSubjectBooking, errorCodeInvalid, err)
	}
	return merged, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return rental.WrapError(errorOperationStore, subject, code, err)
}

func mapBooking(model Booking) (rental.Booking, error) {
	bookingID, err := rental.NewBookingID(model.BookingID)
	if err != nil {
		return rental.Booking{}, err
	}
	renterID, err := rental.NewUserID(model.RenterID)
	if err != nil {
		return rental.Booking{}, err
	}
	ownerID, err := rental.NewUserID(model.OwnerID)
	if err != nil {
		return rental.Booking{}, err
	}
	metadata, err := decodeMetadata(model.Metadata)
	if err != nil {
		return rental.Booking{}, err
	}
	return rental.Booking{
		ID:                    bookingID,
		RenterID:              renterID,
		RenterEmail:           model.RenterEmail,
		RenterName:            model.RenterName,
		OwnerID:               ownerID,
		OwnerEmail:            model.OwnerEmail,
		OwnerName:             model.OwnerName,
		VehicleID:             model.VehicleID,
		VehicleTitle:          model.VehicleTitle,
		VehicleType:           model.VehicleType,
		StartDate:             model.StartDate.UTC(),
		EndDate:               model.EndDate.UTC(),
		Days:                  model.Days,
		Currency:              model.Currency,
		SubtotalCents:         rental.AmountCents(model.SubtotalCents),
		PlatformFeeCents:      rental.AmountCents(model.PlatformFeeCents),
		InsuranceCents:        rental.AmountCents(model.InsuranceCents),
		ExtrasCents:           rental.AmountCents(model.ExtrasCents),
		SecurityDepositCents:  rental.AmountCents(model.SecurityDepositCents),
		TotalAmountCents:      rental.AmountCents(model.TotalAmountCents),
		OwnerPayoutCents:      rental.AmountCents(model.OwnerPayoutCents),
		Status:                rental.BookingStatus(model.Status),
		PaymentStatus:         rental.PaymentStatus(model.PaymentStatus),
		PaymentProvider:       rental.ProviderName(model.PaymentProvider),
		StripePaymentIntentID: stringOrEmpty(model.StripePaymentIntentID),
		MercadoPagoPaymentID:  stringOrEmpty(model.MercadoPagoPaymentID),
		Metadata:              metadata,
		CreatedAt:             model.CreatedAt,
		UpdatedAt:             model.UpdatedAt,
	}, nil
}

func mapTransaction(row Transaction) (rental.Transaction, error) {
	bookingID, err := rental.NewBookingID(row.BookingID)
	if err != nil {
		return rental.Transaction{}, err
	}
	amount, err := rental.NewAmountCents(row.AmountCents)
	if err != nil {
		return rental.Transaction{}, err
	}
	metadata, err := decodeMetadata(row.Metadata)
	if err != nil {
		return rental.Transaction{}, err
	}
	return rental.Transaction{
		ID:                row.TransactionID,
		BookingID:         bookingID,
		ActorEmail:        row.ActorEmail,
		ActorRole:         rental.ActorRole(row.ActorRole),
		Type:              rental.TransactionType(row.Type),
		AmountCents:       amount,
		Currency:          row.Currency,
		Status:            rental.TransactionStatus(row.Status),
		Description:       row.Description,
		ProviderReference: row.ProviderReference,
		IdempotencyKey:    row.IdempotencyKey,
		Metadata:          metadata,
		CreatedAt:         row.CreatedAt,
	}, nil
}

func mapCoupon(model Coupon) (rental.Coupon, error) {
	code, err := rental.NewCouponCode(model.Code)
	if err != nil {
		return rental.Coupon{}, err
	}
	var vehicleTypes []string
	if len(model.ApplicableVehicleTypes) > 0 {
		if err := json.Unmarshal(model.ApplicableVehicleTypes, &vehicleTypes); err != nil {
			return rental.Coupon{}, err
		}
	}
	coupon := rental.Coupon{
		ID:                     model.CouponID,
		Code:                   code,
		Active:                 model.Active,
		ValidFrom:              model.ValidFrom,
		ValidUntil:             model.ValidUntil,
		UsageLimit:             model.UsageLimit,
		UsedCount:              model.UsedCount,
		UsagePerUser:           model.UsagePerUser,
		MinBookingAmountCents:  rental.AmountCents(model.MinBookingAmountCents),
		ApplicableVehicleTypes: vehicleTypes,
		DiscountType:           rental.DiscountType(model.DiscountType),
		DiscountValue:          model.DiscountValue,
	}
	if model.MaxDiscountCents != nil {
		maxDiscount := rental.AmountCents(*model.MaxDiscountCents)
		coupon.MaxDiscountCents = &maxDiscount
	}
	return coupon, nil
}

func decodeMetadata(raw datatypes.JSON) (map[string]string, error) {
	metadata := make(map[string]string)
	if len(raw) == 0 {
		return metadata, nil
	}
	if err := json.Unmarshal(raw, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

func encodeJSON(value any, fallback string) (datatypes.JSON, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	if string(encoded) == "null" {
		return datatypes.JSON([]byte(fallback)), nil
	}
	return datatypes.JSON(encoded), nil
}

func stringOrEmpty(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintTransactionIdempotencyKey
	}
	return isUniqueViolation(err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
