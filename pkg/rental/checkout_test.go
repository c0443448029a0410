package rental

import (
	"context"
	"errors"
	"testing"
)

func newTestCheckout(test *testing.T, store Store, providers ...PaymentProvider) *CheckoutOrchestrator {
	test.Helper()
	orchestrator, err := NewCheckoutOrchestrator(
		store,
		NewProviders(providers...),
		RateTable{"USD/ARS": 1000},
		CheckoutURLs{
			SuccessURL: "https://rent.example/bookings/{booking_id}?paid=1",
			CancelURL:  "https://rent.example/bookings/{booking_id}",
		},
		WithClock(fixedClock),
	)
	if err != nil {
		test.Fatalf("checkout init: %v", err)
	}
	return orchestrator
}

func TestCreateCheckoutOpensStripeSession(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-1")
	store := newStubStore(test, booking)
	stripe := newFakeProvider(ProviderStripe, "USD")
	orchestrator := newTestCheckout(test, store, stripe)

	result, err := orchestrator.CreateCheckout(context.Background(), renterCaller(test), CheckoutInput{BookingID: booking.ID})
	if err != nil {
		test.Fatalf("create checkout: %v", err)
	}
	if result.Provider != ProviderStripe || result.SessionID != "sess_1" || result.CheckoutURL != "https://pay.example/sess_1" {
		test.Fatalf("unexpected result: %+v", result)
	}
	if len(stripe.sessionCalls) != 1 {
		test.Fatalf("expected one session request, got %d", len(stripe.sessionCalls))
	}
	request := stripe.sessionCalls[0]
	if len(request.LineItems) != 2 {
		test.Fatalf("expected rental and deposit lines, got %+v", request.LineItems)
	}
	if request.LineItems[0].AmountCents != 900 || request.LineItems[0].Refundable {
		test.Fatalf("unexpected rental line: %+v", request.LineItems[0])
	}
	if request.LineItems[1].AmountCents != 100 || !request.LineItems[1].Refundable {
		test.Fatalf("unexpected deposit line: %+v", request.LineItems[1])
	}
	if request.SuccessURL != "https://rent.example/bookings/booking-1?paid=1" {
		test.Fatalf("unexpected success url: %s", request.SuccessURL)
	}
	if request.ExternalReference != "booking-1" || request.Metadata[MetadataVehicleID] != "vehicle-1" || request.Metadata[MetadataOwnerID] != "owner-1" {
		test.Fatalf("unexpected request metadata: %+v", request)
	}

	stored := store.booking(test, booking.ID)
	if store.metadataHits != 1 {
		test.Fatalf("expected one metadata update, got %d", store.metadataHits)
	}
	if stored.Metadata["stripe_session_id"] != "sess_1" || stored.PaymentProvider != ProviderStripe {
		test.Fatalf("unexpected booking after checkout: %+v", stored)
	}
	if stored.Metadata[MetadataCheckoutAmount] != "1000" || stored.Metadata[MetadataCheckoutCurrency] != "USD" {
		test.Fatalf("expected charged amount in metadata, got %+v", stored.Metadata)
	}
	if stored.StripePaymentIntentID != "" || stored.PaymentStatus != PaymentStatusUnpaid {
		test.Fatalf("checkout must not record a payment: %+v", stored)
	}
	if store.transactionCount() != 0 {
		test.Fatalf("checkout must not write ledger rows")
	}
}

func TestCreateCheckoutOmitsZeroDeposit(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-1")
	booking.SecurityDepositCents = 0
	store := newStubStore(test, booking)
	stripe := newFakeProvider(ProviderStripe, "USD")
	orchestrator := newTestCheckout(test, store, stripe)

	if _, err := orchestrator.CreateCheckout(context.Background(), renterCaller(test), CheckoutInput{BookingID: booking.ID}); err != nil {
		test.Fatalf("create checkout: %v", err)
	}
	if got := len(stripe.sessionCalls[0].LineItems); got != 1 {
		test.Fatalf("expected a single line item, got %d", got)
	}
}

func TestCreateCheckoutConvertsForMercadoPago(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-ars")
	store := newStubStore(test, booking)
	mercadoPago := newFakeProvider(ProviderMercadoPago, "ARS")
	orchestrator := newTestCheckout(test, store, newFakeProvider(ProviderStripe, "USD"), mercadoPago)

	result, err := orchestrator.CreateCheckout(context.Background(), renterCaller(test), CheckoutInput{BookingID: booking.ID, Provider: ProviderMercadoPago})
	if err != nil {
		test.Fatalf("create checkout: %v", err)
	}
	if result.Provider != ProviderMercadoPago {
		test.Fatalf("expected mercadopago, got %s", result.Provider)
	}
	lines := mercadoPago.sessionCalls[0].LineItems
	if lines[0].AmountCents != 900_000 || lines[0].Currency != "ARS" || lines[1].AmountCents != 100_000 {
		test.Fatalf("unexpected converted lines: %+v", lines)
	}
	if store.booking(test, booking.ID).Metadata["mercadopago_session_id"] != "sess_1" {
		test.Fatalf("expected mercadopago session id on booking")
	}
}

func TestCreateCheckoutRejections(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		mutate   func(*Booking)
		caller   func(*testing.T) Caller
		input    func(BookingID) CheckoutInput
		expected error
	}{
		{
			name:     "pending booking",
			mutate:   func(booking *Booking) { booking.Status = BookingStatusPending },
			caller:   renterCaller,
			expected: ErrInvalidState,
		},
		{
			name:     "paid booking",
			mutate:   func(booking *Booking) { booking.Status = BookingStatusPaid },
			caller:   renterCaller,
			expected: ErrInvalidState,
		},
		{
			name:   "owner cannot pay",
			mutate: func(*Booking) {},
			caller: func(test *testing.T) Caller {
				return Caller{UserID: mustUserID(test, "owner-1")}
			},
			expected: ErrUnauthorized,
		},
		{
			name:   "unknown booking",
			mutate: func(*Booking) {},
			caller: renterCaller,
			input: func(BookingID) CheckoutInput {
				return CheckoutInput{BookingID: mustBookingID(test, "missing")}
			},
			expected: ErrNotFound,
		},
		{
			name:   "unregistered provider",
			mutate: func(*Booking) {},
			caller: renterCaller,
			input: func(bookingID BookingID) CheckoutInput {
				return CheckoutInput{BookingID: bookingID, Provider: ProviderMercadoPago}
			},
			expected: ErrValidation,
		},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			booking := approvedBooking(test, "booking-1")
			testCase.mutate(&booking)
			store := newStubStore(test, booking)
			stripe := newFakeProvider(ProviderStripe, "USD")
			orchestrator := newTestCheckout(test, store, stripe)
			input := CheckoutInput{BookingID: booking.ID}
			if testCase.input != nil {
				input = testCase.input(booking.ID)
			}

			_, err := orchestrator.CreateCheckout(context.Background(), testCase.caller(test), input)
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			if len(stripe.sessionCalls) != 0 || store.metadataHits != 0 {
				test.Fatalf("rejected checkout must not call the provider or touch the booking")
			}
		})
	}
}

func TestCreateCheckoutProviderFailureLeavesBookingUntouched(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-1")
	store := newStubStore(test, booking)
	stripe := newFakeProvider(ProviderStripe, "USD")
	stripe.sessionErr = errors.New("card network down")
	logger := &recorderLogger{}
	orchestrator, err := NewCheckoutOrchestrator(store, NewProviders(stripe), nil,
		CheckoutURLs{SuccessURL: "https://rent.example/ok", CancelURL: "https://rent.example/cancel"},
		WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("checkout init: %v", err)
	}

	_, err = orchestrator.CreateCheckout(context.Background(), renterCaller(test), CheckoutInput{BookingID: booking.ID})
	if !errors.Is(err, ErrProviderError) {
		test.Fatalf("expected ErrProviderError, got %v", err)
	}
	var operationError OperationError
	if !errors.As(err, &operationError) || operationError.Code() != errorCodeSession {
		test.Fatalf("expected session operation error, got %v", err)
	}
	if store.metadataHits != 0 {
		test.Fatalf("provider failure must not touch the booking")
	}
	entries := logger.operations(operationCheckout)
	if len(entries) != 1 || entries[0].Status != operationStatusError {
		test.Fatalf("expected one failed checkout log, got %+v", entries)
	}
}

func TestCreateCheckoutKeepsBookingProviderTag(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-1")
	booking.PaymentProvider = ProviderMercadoPago
	store := newStubStore(test, booking)
	orchestrator := newTestCheckout(test, store, newFakeProvider(ProviderStripe, "USD"), newFakeProvider(ProviderMercadoPago, "ARS"))

	result, err := orchestrator.CreateCheckout(context.Background(), renterCaller(test), CheckoutInput{BookingID: booking.ID})
	if err != nil {
		test.Fatalf("create checkout: %v", err)
	}
	if result.Provider != ProviderMercadoPago {
		test.Fatalf("expected tagged provider, got %s", result.Provider)
	}
}

func TestNewCheckoutOrchestratorRequiresDependencies(test *testing.T) {
	test.Parallel()
	urls := CheckoutURLs{SuccessURL: "https://a", CancelURL: "https://b"}
	providers := NewProviders(newFakeProvider(ProviderStripe, "USD"))
	if _, err := NewCheckoutOrchestrator(nil, providers, nil, urls); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config, got %v", err)
	}
	store := newStubStore(test)
	if _, err := NewCheckoutOrchestrator(store, nil, nil, urls); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config, got %v", err)
	}
	if _, err := NewCheckoutOrchestrator(store, providers, nil, CheckoutURLs{}); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config, got %v", err)
	}
}
