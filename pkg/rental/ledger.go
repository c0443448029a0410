package rental

import (
	"context"
	"fmt"
	"strings"
)

// LedgerWriter appends immutable financial rows. Every money-moving path goes through it.
type LedgerWriter struct {
	store Store
	options
}

// NewLedgerWriter wires a LedgerWriter.
func NewLedgerWriter(store Store, opts ...Option) (*LedgerWriter, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	return &LedgerWriter{store: store, options: applyOptions(opts)}, nil
}

// Append persists a fully-formed transaction and returns its identity.
func (writer *LedgerWriter) Append(ctx context.Context, transaction Transaction) (string, error) {
	return writer.appendWith(ctx, writer.store, transaction)
}

// appendWith writes through the given store so callers can join an open transaction.
func (writer *LedgerWriter) appendWith(ctx context.Context, store Store, transaction Transaction) (string, error) {
	if err := validateTransaction(transaction); err != nil {
		return "", WrapError(operationAppend, errorSubjectLedger, errorCodeInvalid, err)
	}
	if transaction.CreatedAt.IsZero() {
		transaction.CreatedAt = writer.nowFn()
	}
	transactionID, err := store.InsertTransaction(ctx, transaction)
	writer.logOperation(ctx, OperationLog{
		Operation: operationAppend,
		BookingID: transaction.BookingID,
		Amount:    transaction.AmountCents,
		Outcome:   string(transaction.Type),
		Error:     err,
	})
	if err != nil {
		return "", err
	}
	return transactionID, nil
}

// List returns the rows recorded against a booking, oldest first.
func (writer *LedgerWriter) List(ctx context.Context, bookingID BookingID) ([]Transaction, error) {
	return writer.store.ListTransactions(ctx, bookingID)
}

// ListForCaller is List restricted to the booking's renter, its owner or an admin.
func (writer *LedgerWriter) ListForCaller(ctx context.Context, caller Caller, bookingID BookingID) ([]Transaction, error) {
	booking, err := writer.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, WrapError(operationList, errorSubjectBooking, errorCodeLoad, err)
	}
	if !caller.IsAdmin() && caller.UserID != booking.RenterID && caller.UserID != booking.OwnerID {
		return nil, fmt.Errorf("%w: caller is not a party to booking %s", ErrUnauthorized, booking.ID)
	}
	transactions, err := writer.store.ListTransactions(ctx, bookingID)
	if err != nil {
		return nil, WrapError(operationList, errorSubjectLedger, errorCodeLoad, err)
	}
	return transactions, nil
}

func validateTransaction(transaction Transaction) error {
	if transaction.BookingID.IsZero() {
		return fmt.Errorf("%w: booking id is required", ErrInvalidTransaction)
	}
	switch transaction.Type {
	case TransactionPayment, TransactionCommission, TransactionPayout, TransactionDepositHold, TransactionRefund:
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidTransaction, transaction.Type)
	}
	switch transaction.ActorRole {
	case ActorRenter, ActorOwner, ActorPlatform:
	default:
		return fmt.Errorf("%w: actor role %q", ErrInvalidTransaction, transaction.ActorRole)
	}
	switch transaction.Status {
	case TransactionCompleted, TransactionPending:
	default:
		return fmt.Errorf("%w: status %q", ErrInvalidTransaction, transaction.Status)
	}
	if transaction.AmountCents < 0 {
		return fmt.Errorf("%w: negative amount", ErrInvalidAmountCents)
	}
	if _, err := NormalizeCurrency(transaction.Currency); err != nil {
		return err
	}
	if strings.TrimSpace(transaction.IdempotencyKey) == "" {
		return fmt.Errorf("%w: idempotency key is required", ErrInvalidTransaction)
	}
	return nil
}

func ledgerIdempotencyKey(parts ...string) string {
	return strings.Join(parts, idempotencyKeyDelimiter)
}
