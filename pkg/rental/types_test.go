package rental

import (
	"errors"
	"fmt"
	"testing"
)

func TestPaymentStatusTransitions(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		from    PaymentStatus
		to      PaymentStatus
		allowed bool
	}{
		{PaymentStatusUnpaid, PaymentStatusPaid, true},
		{PaymentStatusUnpaid, PaymentStatusFailed, true},
		{PaymentStatusFailed, PaymentStatusPaid, true},
		{PaymentStatusFailed, PaymentStatusFailed, true},
		{PaymentStatusPaid, PaymentStatusRefunded, true},
		{PaymentStatusPaid, PaymentStatusFailed, false},
		{PaymentStatusPaid, PaymentStatusUnpaid, false},
		{PaymentStatusUnpaid, PaymentStatusRefunded, false},
		{PaymentStatusRefunded, PaymentStatusPaid, false},
	}
	for _, testCase := range testCases {
		if got := testCase.from.CanTransition(testCase.to); got != testCase.allowed {
			test.Fatalf("%s -> %s: expected %t, got %t", testCase.from, testCase.to, testCase.allowed, got)
		}
	}
}

func TestIdentifiersNormalize(test *testing.T) {
	test.Parallel()
	if _, err := NewBookingID("   "); !errors.Is(err, ErrInvalidBookingID) {
		test.Fatalf("expected ErrInvalidBookingID, got %v", err)
	}
	if _, err := NewUserID(""); !errors.Is(err, ErrInvalidUserID) {
		test.Fatalf("expected ErrInvalidUserID, got %v", err)
	}
	if code := mustCouponCode(test, " summer20 "); code.String() != "SUMMER20" {
		test.Fatalf("expected upper-cased code, got %s", code)
	}
	if currency, err := NormalizeCurrency("ars"); err != nil || currency != "ARS" {
		test.Fatalf("expected ARS, got %q (%v)", currency, err)
	}
	if _, err := NewAmountCents(-5); !errors.Is(err, ErrInvalidAmountCents) {
		test.Fatalf("expected ErrInvalidAmountCents, got %v", err)
	}
}

func TestBookingPaymentReferencePrefersMercadoPago(test *testing.T) {
	test.Parallel()
	booking := Booking{StripePaymentIntentID: "pi_1", MercadoPagoPaymentID: "mp_1"}
	provider, paymentID, ok := booking.PaymentReference()
	if !ok || provider != ProviderMercadoPago || paymentID != "mp_1" {
		test.Fatalf("unexpected reference: %s %s %t", provider, paymentID, ok)
	}
	if _, _, ok := (Booking{}).PaymentReference(); ok {
		test.Fatalf("expected no reference on a fresh booking")
	}
}

func TestProvidersSelect(test *testing.T) {
	test.Parallel()
	providers := NewProviders(newFakeProvider(ProviderStripe, "USD"), newFakeProvider(ProviderMercadoPago, "ARS"), nil)
	testCases := []struct {
		name      string
		requested ProviderName
		booking   Booking
		expected  ProviderName
	}{
		{name: "explicit request", requested: ProviderStripe, booking: Booking{Currency: "ARS"}, expected: ProviderStripe},
		{name: "booking tag", booking: Booking{Currency: "USD", PaymentProvider: ProviderMercadoPago}, expected: ProviderMercadoPago},
		{name: "ars convention", booking: Booking{Currency: "ars"}, expected: ProviderMercadoPago},
		{name: "default stripe", booking: Booking{Currency: "EUR"}, expected: ProviderStripe},
	}
	for _, testCase := range testCases {
		provider, err := providers.Select(testCase.requested, testCase.booking)
		if err != nil {
			test.Fatalf("%s: %v", testCase.name, err)
		}
		if provider.Name() != testCase.expected {
			test.Fatalf("%s: expected %s, got %s", testCase.name, testCase.expected, provider.Name())
		}
	}
	if _, err := NewProviders(newFakeProvider(ProviderStripe, "USD")).Select("", Booking{Currency: "ARS"}); !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrValidation for unconfigured provider, got %v", err)
	}
	if _, err := ParseProviderName("paypal"); !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrValidation for unknown provider, got %v", err)
	}
	if name, err := ParseProviderName(" MercadoPago "); err != nil || name != ProviderMercadoPago {
		test.Fatalf("expected mercadopago, got %q (%v)", name, err)
	}
}

func TestRateTableConvert(test *testing.T) {
	test.Parallel()
	rates := RateTable{"USD/ARS": 1050}
	if amount, err := rates.Convert(1000, "USD", "usd"); err != nil || amount != 1000 {
		test.Fatalf("expected identity, got %d (%v)", amount, err)
	}
	if amount, err := rates.Convert(1000, "USD", "ARS"); err != nil || amount != 1_050_000 {
		test.Fatalf("expected direct rate, got %d (%v)", amount, err)
	}
	if amount, err := rates.Convert(1_050_000, "ARS", "USD"); err != nil || amount != 1000 {
		test.Fatalf("expected inverse rate, got %d (%v)", amount, err)
	}
	if _, err := rates.Convert(1000, "EUR", "ARS"); !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrValidation for missing rate, got %v", err)
	}
}

func TestWrapErrorFormatsOperationCode(test *testing.T) {
	test.Parallel()
	wrapped := WrapError(operationRefund, errorSubjectProvider, errorCodeRefund, ProviderFailure(ProviderStripe, errors.New("declined")))
	if wrapped.Error() != "refund.provider.refund: provider error: stripe: declined" {
		test.Fatalf("unexpected message: %s", wrapped.Error())
	}
	if !errors.Is(wrapped, ErrProviderError) {
		test.Fatalf("expected ErrProviderError in chain")
	}
	if WrapError(operationRefund, errorSubjectProvider, errorCodeRefund, nil) != nil {
		test.Fatalf("expected nil for nil error")
	}
	if ProviderFailure(ProviderStripe, nil) != nil {
		test.Fatalf("expected nil provider failure for nil error")
	}
}

func TestCouponErrorMatchesValidation(test *testing.T) {
	test.Parallel()
	err := fmt.Errorf("apply: %w", &CouponError{Reason: CouponExpired})
	if !errors.Is(err, ErrValidation) {
		test.Fatalf("expected ErrValidation")
	}
	if err.Error() != "apply: coupon rejected: Expired" {
		test.Fatalf("unexpected message: %s", err.Error())
	}
}
