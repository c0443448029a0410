package rental

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const bookingIDPlaceholder = "{booking_id}"

// CheckoutURLs holds the return URL templates; "{booking_id}" is substituted.
type CheckoutURLs struct {
	SuccessURL string
	CancelURL  string
}

// CheckoutInput is what a renter supplies when starting payment.
type CheckoutInput struct {
	BookingID BookingID
	Provider  ProviderName
}

// CheckoutResult points the renter at the hosted checkout.
type CheckoutResult struct {
	CheckoutURL string
	SessionID   string
	Provider    ProviderName
}

// CheckoutOrchestrator opens provider checkout sessions for approved bookings.
type CheckoutOrchestrator struct {
	store     Store
	providers Providers
	rates     RateTable
	urls      CheckoutURLs
	options
}

// NewCheckoutOrchestrator wires a CheckoutOrchestrator.
func NewCheckoutOrchestrator(store Store, providers Providers, rates RateTable, urls CheckoutURLs, opts ...Option) (*CheckoutOrchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if len(providers) == 0 {
		return nil, fmt.Errorf("%w: no payment providers configured", ErrInvalidServiceConfig)
	}
	if strings.TrimSpace(urls.SuccessURL) == "" || strings.TrimSpace(urls.CancelURL) == "" {
		return nil, fmt.Errorf("%w: checkout return urls are required", ErrInvalidServiceConfig)
	}
	return &CheckoutOrchestrator{
		store:     store,
		providers: providers,
		rates:     rates,
		urls:      urls,
		options:   applyOptions(opts),
	}, nil
}

// CreateCheckout verifies the caller and booking state, then opens a provider session.
// Only the session id is stored; the payment id arrives with the confirmed webhook.
func (orchestrator *CheckoutOrchestrator) CreateCheckout(ctx context.Context, caller Caller, input CheckoutInput) (CheckoutResult, error) {
	var (
		result   CheckoutResult
		provider ProviderName
		amount   AmountCents
	)
	operationError := func() error {
		booking, err := orchestrator.store.GetBooking(ctx, input.BookingID)
		if err != nil {
			return WrapError(operationCheckout, errorSubjectBooking, errorCodeLoad, err)
		}
		if booking.RenterID != caller.UserID {
			return fmt.Errorf("%w: caller is not the renter of booking %s", ErrUnauthorized, booking.ID)
		}
		if booking.Status != BookingStatusApproved {
			return fmt.Errorf("%w: booking status is %s, want %s", ErrInvalidState, booking.Status, BookingStatusApproved)
		}
		gateway, err := orchestrator.providers.Select(input.Provider, booking)
		if err != nil {
			return err
		}
		provider = gateway.Name()
		amount = booking.RentalChargeCents() + booking.SecurityDepositCents

		request, err := orchestrator.buildRequest(booking, gateway.Currency())
		if err != nil {
			return WrapError(operationCheckout, errorSubjectBooking, errorCodeConvertAmounts, err)
		}
		session, err := gateway.CreateSession(ctx, request)
		if err != nil {
			return WrapError(operationCheckout, errorSubjectProvider, errorCodeSession, ProviderFailure(provider, err))
		}

		var charged AmountCents
		for _, item := range request.LineItems {
			charged += item.AmountCents
		}
		patch := map[string]string{
			string(provider) + MetadataSessionSuffix: session.ID,
			MetadataCheckoutCreatedAt:                orchestrator.nowFn().Format(time.RFC3339),
			MetadataCheckoutAmount:                   strconv.FormatInt(charged.Int64(), 10),
			MetadataCheckoutCurrency:                 gateway.Currency(),
		}
		if err := orchestrator.store.MergeBookingMetadata(ctx, booking.ID, provider, patch); err != nil {
			return WrapError(operationCheckout, errorSubjectBooking, errorCodeMetadata, err)
		}
		result = CheckoutResult{CheckoutURL: session.URL, SessionID: session.ID, Provider: provider}
		return nil
	}()
	orchestrator.logOperation(ctx, OperationLog{
		Operation: operationCheckout,
		BookingID: input.BookingID,
		Provider:  provider,
		Amount:    amount,
		Error:     operationError,
	})
	if operationError != nil {
		return CheckoutResult{}, operationError
	}
	return result, nil
}

func (orchestrator *CheckoutOrchestrator) buildRequest(booking Booking, settlementCurrency string) (CheckoutRequest, error) {
	rentalCharge, err := orchestrator.rates.Convert(booking.RentalChargeCents(), booking.Currency, settlementCurrency)
	if err != nil {
		return CheckoutRequest{}, err
	}
	lineItems := []LineItem{{
		Title:       fmt.Sprintf("%s rental (%d days)", booking.VehicleTitle, booking.Days),
		AmountCents: rentalCharge,
		Currency:    settlementCurrency,
	}}
	if booking.SecurityDepositCents > 0 {
		deposit, err := orchestrator.rates.Convert(booking.SecurityDepositCents, booking.Currency, settlementCurrency)
		if err != nil {
			return CheckoutRequest{}, err
		}
		lineItems = append(lineItems, LineItem{
			Title:       "Security deposit (refundable)",
			AmountCents: deposit,
			Currency:    settlementCurrency,
			Refundable:  true,
		})
	}
	return CheckoutRequest{
		BookingID:         booking.ID,
		LineItems:         lineItems,
		SuccessURL:        expandBookingURL(orchestrator.urls.SuccessURL, booking.ID),
		CancelURL:         expandBookingURL(orchestrator.urls.CancelURL, booking.ID),
		CustomerEmail:     booking.RenterEmail,
		ExternalReference: booking.ID.String(),
		Metadata: map[string]string{
			MetadataBookingID: booking.ID.String(),
			MetadataRenterID:  booking.RenterID.String(),
			MetadataOwnerID:   booking.OwnerID.String(),
			MetadataVehicleID: booking.VehicleID,
		},
	}, nil
}

func expandBookingURL(template string, bookingID BookingID) string {
	return strings.ReplaceAll(template, bookingIDPlaceholder, bookingID.String())
}
