package rental

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

const hoursPerDay = 24

// RefundQuote is the tier maths for one booking on one calendar day.
type RefundQuote struct {
	DaysUntilStart int
	Percentage     int
	AmountCents    AmountCents
}

// RefundResult is returned to the caller of a cancellation refund.
type RefundResult struct {
	Success           bool
	RefundAmountCents AmountCents
	RefundPercentage  int
	RefundID          string
	DaysUntilStart    int
}

// ComputeRefund applies the cancellation tiers. today is read as a calendar date;
// the platform fee is never refunded and the deposit is returned whenever the
// rental has not started yet.
//
//	>= 7 days  100% of subtotal + deposit
//	3..6 days   50% of subtotal + deposit
//	1..2 days    0% of subtotal + deposit
//	<= 0 days   nothing
func ComputeRefund(booking Booking, today time.Time) RefundQuote {
	days := calendarDaysBetween(today, booking.StartDate)
	var percentage int
	switch {
	case days >= 7:
		percentage = 100
	case days >= 3:
		percentage = 50
	case days >= 1:
		percentage = 0
	default:
		return RefundQuote{DaysUntilStart: days}
	}
	amount := booking.SubtotalCents*AmountCents(percentage)/percentBase + booking.SecurityDepositCents
	return RefundQuote{DaysUntilStart: days, Percentage: percentage, AmountCents: amount}
}

func calendarDaysBetween(from time.Time, to time.Time) int {
	fromDate := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	toDate := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	return int(toDate.Sub(fromDate).Hours() / hoursPerDay)
}

// RefundPolicyEngine cancels paid bookings and returns money through the capturing provider.
type RefundPolicyEngine struct {
	store     Store
	providers Providers
	rates     RateTable
	ledger    *LedgerWriter
	options
}

// NewRefundPolicyEngine wires a RefundPolicyEngine.
func NewRefundPolicyEngine(store Store, providers Providers, rates RateTable, ledger *LedgerWriter, opts ...Option) (*RefundPolicyEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledger == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no payment providers configured", ErrInvalidServiceConfig)
	}
	return &RefundPolicyEngine{
		store:     store,
		providers: providers,
		rates:     rates,
		ledger:    ledger,
		options:   applyOptions(opts),
	}, nil
}

// Refund computes the tiered refund and, when it is positive, issues it and
// records it. A provider failure leaves the booking and ledger untouched.
func (engine *RefundPolicyEngine) Refund(ctx context.Context, caller Caller, bookingID BookingID) (RefundResult, error) {
	var (
		result   RefundResult
		provider ProviderName
	)
	operationError := func() error {
		booking, err := engine.store.GetBooking(ctx, bookingID)
		if err != nil {
			return WrapError(operationRefund, errorSubjectBooking, errorCodeLoad, err)
		}
		if booking.RenterID != caller.UserID && !caller.IsAdmin() {
			return fmt.Errorf("%w: caller may not refund booking %s", ErrUnauthorized, booking.ID)
		}
		quote := ComputeRefund(booking, engine.nowFn().In(engine.location))
		result = RefundResult{
			Success:           true,
			RefundAmountCents: quote.AmountCents,
			RefundPercentage:  quote.Percentage,
			DaysUntilStart:    quote.DaysUntilStart,
		}
		if quote.AmountCents == 0 {
			return nil
		}
		if booking.PaymentStatus != PaymentStatusPaid {
			return fmt.Errorf("%w: payment status is %s, want %s", ErrInvalidState, booking.PaymentStatus, PaymentStatusPaid)
		}
		var paymentID string
		var found bool
		provider, paymentID, found = booking.PaymentReference()
		if !found {
			return fmt.Errorf("%w: no payment method found for refund", ErrInvalidState)
		}
		gateway, err := engine.providers.Lookup(provider)
		if err != nil {
			return WrapError(operationRefund, errorSubjectProvider, errorCodeLookup, ProviderFailure(provider, err))
		}
		providerAmount, err := engine.rates.Convert(quote.AmountCents, booking.Currency, gateway.Currency())
		if err != nil {
			return WrapError(operationRefund, errorSubjectBooking, errorCodeConvertAmounts, err)
		}

		refund, err := gateway.Refund(ctx, RefundRequest{
			PaymentID:      paymentID,
			AmountCents:    providerAmount,
			Currency:       gateway.Currency(),
			IdempotencyKey: ledgerIdempotencyKey(refundIdempotencyPrefix, booking.ID.String()),
		})
		if err != nil {
			return WrapError(operationRefund, errorSubjectProvider, errorCodeRefund, ProviderFailure(provider, err))
		}
		result.RefundID = refund.ID

		err = engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			transitionErr := transactionStore.TransitionPayment(ctx, PaymentTransition{
				BookingID: booking.ID,
				From:      []PaymentStatus{PaymentStatusPaid},
				To:        PaymentStatusRefunded,
				MetadataPatch: map[string]string{
					MetadataRefundAmountCents: strconv.FormatInt(quote.AmountCents.Int64(), 10),
					MetadataRefundPercentage:  strconv.Itoa(quote.Percentage),
					MetadataDaysUntilStart:    strconv.Itoa(quote.DaysUntilStart),
					MetadataRefundID:          refund.ID,
				},
				At: engine.nowFn(),
			})
			if transitionErr != nil {
				return transitionErr
			}
			_, appendErr := engine.ledger.appendWith(ctx, transactionStore, Transaction{
				BookingID:         booking.ID,
				ActorEmail:        booking.RenterEmail,
				ActorRole:         ActorRenter,
				Type:              TransactionRefund,
				AmountCents:       quote.AmountCents,
				Currency:          booking.Currency,
				Status:            TransactionCompleted,
				Description:       fmt.Sprintf("Refund (%d%%) for %s rental", quote.Percentage, booking.VehicleTitle),
				ProviderReference: refund.ID,
				IdempotencyKey:    ledgerIdempotencyKey(booking.ID.String(), string(TransactionRefund), refund.ID),
				Metadata: map[string]string{
					MetadataRefundID: refund.ID,
					"provider":       string(provider),
				},
			})
			return appendErr
		})
		if errors.Is(err, ErrStaleState) || errors.Is(err, ErrDuplicateTransaction) {
			return fmt.Errorf("%w: booking %s was already refunded", ErrInvalidState, booking.ID)
		}
		if err != nil {
			return WrapError(operationRefund, errorSubjectBooking, errorCodeTransition, err)
		}
		return nil
	}()
	engine.logOperation(ctx, OperationLog{
		Operation: operationRefund,
		BookingID: bookingID,
		Provider:  provider,
		Amount:    result.RefundAmountCents,
		Error:     operationError,
	})
	if operationError != nil {
		return RefundResult{}, operationError
	}
	return result, nil
}
