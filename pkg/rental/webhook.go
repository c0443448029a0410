package rental

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const operationNotify = "notify"

// ReconcileOutcome tells the webhook caller what a delivery did.
type ReconcileOutcome string

const (
	OutcomePaid            ReconcileOutcome = "paid"
	OutcomeFailed          ReconcileOutcome = "failed"
	OutcomeDuplicate       ReconcileOutcome = "duplicate"
	OutcomeIgnored         ReconcileOutcome = "ignored"
	OutcomeBookingNotFound ReconcileOutcome = "booking_not_found"
)

// WebhookReconciler turns untrusted provider notifications into idempotent booking and ledger changes.
type WebhookReconciler struct {
	store         Store
	providers     Providers
	ledger        *LedgerWriter
	platformEmail string
	options
}

// NewWebhookReconciler wires a WebhookReconciler.
func NewWebhookReconciler(store Store, providers Providers, ledger *LedgerWriter, platformEmail string, opts ...Option) (*WebhookReconciler, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no payment providers configured", ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(platformEmail) == "" {
		return nil, fmt.Errorf("%w: platform email is required", ErrInvalidServiceConfig)
	}
	return &WebhookReconciler{
		store:         store,
		providers:     providers,
		ledger:        ledger,
		platformEmail: strings.TrimSpace(platformEmail),
		options:       applyOptions(opts),
	}, nil
}

// Reconcile handles one delivery. The payload only names a payment; its status is
// always re-fetched from the provider. A non-nil error wraps ErrRetryable and means
// the delivery should be retried; every other situation is acknowledged.
func (reconciler *WebhookReconciler) Reconcile(ctx context.Context, providerName ProviderName, payload []byte) (ReconcileOutcome, error) {
	var bookingID BookingID
	outcome, operationError := func() (ReconcileOutcome, error) {
		gateway, err := reconciler.providers.Lookup(providerName)
		if err != nil {
			return OutcomeIgnored, nil
		}
		hint, err := gateway.ParseWebhook(payload)
		if err != nil || !hint.Supported || strings.TrimSpace(hint.PaymentID) == "" {
			return OutcomeIgnored, nil
		}
		payment, err := gateway.GetPayment(ctx, hint.PaymentID)
		if err != nil {
			return "", retryable(WrapError(operationReconcile, errorSubjectProvider, errorCodeLookup, ProviderFailure(providerName, err)))
		}
		bookingID, err = NewBookingID(payment.ExternalReference)
		if err != nil {
			return OutcomeBookingNotFound, nil
		}
		booking, err := reconciler.store.GetBooking(ctx, bookingID)
		if errors.Is(err, ErrNotFound) {
			return OutcomeBookingNotFound, nil
		}
		if err != nil {
			return "", retryable(WrapError(operationReconcile, errorSubjectBooking, errorCodeLoad, err))
		}
		switch payment.Status {
		case ProviderPaymentApproved:
			return reconciler.applyPaid(ctx, gateway.Name(), booking, payment)
		case ProviderPaymentRejected, ProviderPaymentCancelled:
			return reconciler.applyFailed(ctx, booking, payment)
		default:
			return OutcomeIgnored, nil
		}
	}()
	reconciler.logOperation(ctx, OperationLog{
		Operation: operationReconcile,
		BookingID: bookingID,
		Provider:  providerName,
		Outcome:   string(outcome),
		Error:     operationError,
	})
	return outcome, operationError
}

func (reconciler *WebhookReconciler) applyPaid(ctx context.Context, provider ProviderName, booking Booking, payment ProviderPayment) (ReconcileOutcome, error) {
	if !booking.PaymentStatus.CanTransition(PaymentStatusPaid) {
		if booking.PaymentStatus == PaymentStatusPaid || booking.PaymentStatus == PaymentStatusRefunded {
			return OutcomeDuplicate, nil
		}
		return OutcomeIgnored, nil
	}
	patch := map[string]string{
		MetadataProviderCurrency: payment.Currency,
		MetadataProviderAmount:   strconv.FormatInt(payment.AmountCents.Int64(), 10),
	}
	// A booking that left approved still records the payment; its status stays put.
	bookingOpen := booking.Status == BookingStatusApproved
	if !bookingOpen {
		patch[MetadataLatePaymentStatus] = string(booking.Status)
	}
	mismatch := amountMismatch(booking, payment)
	if mismatch != "" {
		patch[MetadataAmountMismatch] = mismatch
	}
	transition := PaymentTransition{
		BookingID:         booking.ID,
		From:              []PaymentStatus{PaymentStatusUnpaid, PaymentStatusFailed},
		To:                PaymentStatusPaid,
		BookingStatusFrom: BookingStatusApproved,
		BookingStatus:     BookingStatusPaid,
		Provider:          provider,
		ProviderPayment:   payment.ID,
		MetadataPatch:     patch,
		At:                reconciler.nowFn(),
	}
	err := reconciler.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if err := transactionStore.TransitionPayment(ctx, transition); err != nil {
			return err
		}
		for _, row := range reconciler.paymentRows(booking, payment.ID) {
			if _, err := reconciler.ledger.appendWith(ctx, transactionStore, row); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrStaleState) || errors.Is(err, ErrDuplicateTransaction) {
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", retryable(WrapError(operationReconcile, errorSubjectBooking, errorCodeTransition, err))
	}
	if mismatch != "" {
		reconciler.logOperation(ctx, OperationLog{
			Operation: operationReconcile,
			BookingID: booking.ID,
			Provider:  provider,
			Amount:    payment.AmountCents,
			Outcome:   outcomeAmountMismatch,
			Error:     fmt.Errorf("%w: %s", ErrValidation, mismatch),
		})
	}
	if bookingOpen {
		reconciler.notifyPaid(ctx, booking)
	}
	return OutcomePaid, nil
}

// amountMismatch compares a captured payment with the charge recorded at checkout.
// It returns an empty string when they agree or no charge was recorded.
func amountMismatch(booking Booking, payment ProviderPayment) string {
	expectedAmount, hasAmount := booking.Metadata[MetadataCheckoutAmount]
	expectedCurrency := booking.Metadata[MetadataCheckoutCurrency]
	if !hasAmount || expectedCurrency == "" {
		return ""
	}
	got := strconv.FormatInt(payment.AmountCents.Int64(), 10)
	if expectedAmount == got && strings.EqualFold(expectedCurrency, payment.Currency) {
		return ""
	}
	return fmt.Sprintf("expected %s %s, got %s %s", expectedAmount, expectedCurrency, got, payment.Currency)
}

func (reconciler *WebhookReconciler) applyFailed(ctx context.Context, booking Booking, payment ProviderPayment) (ReconcileOutcome, error) {
	if !booking.PaymentStatus.CanTransition(PaymentStatusFailed) {
		return OutcomeIgnored, nil
	}
	detail := payment.StatusDetail
	if detail == "" {
		detail = payment.RawStatus
	}
	err := reconciler.store.TransitionPayment(ctx, PaymentTransition{
		BookingID: booking.ID,
		From:      []PaymentStatus{PaymentStatusUnpaid, PaymentStatusFailed},
		To:        PaymentStatusFailed,
		MetadataPatch: map[string]string{
			MetadataPaymentError:       detail,
			MetadataPaymentErrorStatus: string(payment.Status),
		},
		At: reconciler.nowFn(),
	})
	if errors.Is(err, ErrStaleState) {
		return OutcomeIgnored, nil
	}
	if err != nil {
		return "", retryable(WrapError(operationReconcile, errorSubjectBooking, errorCodeTransition, err))
	}
	return OutcomeFailed, nil
}

// paymentRows is the fixed four-row split of a confirmed payment.
func (reconciler *WebhookReconciler) paymentRows(booking Booking, paymentID string) []Transaction {
	bookingID := booking.ID.String()
	row := func(transactionType TransactionType, role ActorRole, email string, amount AmountCents, status TransactionStatus, description string) Transaction {
		return Transaction{
			BookingID:         booking.ID,
			ActorEmail:        email,
			ActorRole:         role,
			Type:              transactionType,
			AmountCents:       amount,
			Currency:          booking.Currency,
			Status:            status,
			Description:       description,
			ProviderReference: paymentID,
			IdempotencyKey:    ledgerIdempotencyKey(bookingID, string(transactionType), paymentID),
		}
	}
	return []Transaction{
		row(TransactionPayment, ActorRenter, booking.RenterEmail, booking.TotalAmountCents, TransactionCompleted,
			fmt.Sprintf("Payment for %s rental", booking.VehicleTitle)),
		row(TransactionCommission, ActorPlatform, reconciler.platformEmail, booking.PlatformFeeCents, TransactionCompleted,
			"Platform commission"),
		row(TransactionPayout, ActorOwner, booking.OwnerEmail, booking.OwnerPayoutCents, TransactionPending,
			fmt.Sprintf("Payout for %s rental", booking.VehicleTitle)),
		row(TransactionDepositHold, ActorRenter, booking.RenterEmail, booking.SecurityDepositCents, TransactionPending,
			"Security deposit hold"),
	}
}

func (reconciler *WebhookReconciler) notifyPaid(ctx context.Context, booking Booking) {
	if reconciler.notifier == nil {
		return
	}
	notifications := []Notification{
		{
			Kind:           NotificationBookingPaid,
			BookingID:      booking.ID,
			RecipientID:    booking.RenterID,
			RecipientEmail: booking.RenterEmail,
			RecipientRole:  ActorRenter,
			VehicleTitle:   booking.VehicleTitle,
			AmountCents:    booking.TotalAmountCents,
			Currency:       booking.Currency,
		},
		{
			Kind:           NotificationPaymentReceived,
			BookingID:      booking.ID,
			RecipientID:    booking.OwnerID,
			RecipientEmail: booking.OwnerEmail,
			RecipientRole:  ActorOwner,
			VehicleTitle:   booking.VehicleTitle,
			AmountCents:    booking.OwnerPayoutCents,
			Currency:       booking.Currency,
		},
	}
	for _, notification := range notifications {
		err := reconciler.notifier.Notify(ctx, notification)
		if err != nil {
			reconciler.logOperation(ctx, OperationLog{
				Operation: operationNotify,
				BookingID: booking.ID,
				Outcome:   string(notification.Kind),
				Error:     err,
			})
		}
	}
}

func retryable(err error) error {
	return fmt.Errorf("%w: %w", ErrRetryable, err)
}
