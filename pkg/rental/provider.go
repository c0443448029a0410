package rental

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// ProviderName tags which payment gateway handles a booking.
type ProviderName string

const (
	ProviderStripe      ProviderName = "stripe"
	ProviderMercadoPago ProviderName = "mercadopago"
)

// ParseProviderName validates a provider tag.
func ParseProviderName(raw string) (ProviderName, error) {
	switch ProviderName(strings.ToLower(strings.TrimSpace(raw))) {
	case ProviderStripe:
		return ProviderStripe, nil
	case ProviderMercadoPago:
		return ProviderMercadoPago, nil
	}
	return "", fmt.Errorf("%w: unknown provider %q", ErrValidation, raw)
}

// LineItem is one priced row on a provider checkout page.
type LineItem struct {
	Title       string
	AmountCents AmountCents
	Currency    string
	Refundable  bool
}

// CheckoutRequest carries everything a provider needs to open a hosted checkout.
type CheckoutRequest struct {
	BookingID         BookingID
	LineItems         []LineItem
	SuccessURL        string
	CancelURL         string
	CustomerEmail     string
	ExternalReference string
	Metadata          map[string]string
}

// CheckoutSession is the provider-issued hosted checkout.
type CheckoutSession struct {
	ID  string
	URL string
}

// ProviderPaymentStatus is the normalized authoritative payment state.
type ProviderPaymentStatus string

const (
	ProviderPaymentApproved  ProviderPaymentStatus = "approved"
	ProviderPaymentRejected  ProviderPaymentStatus = "rejected"
	ProviderPaymentCancelled ProviderPaymentStatus = "cancelled"
	ProviderPaymentPending   ProviderPaymentStatus = "pending"
	ProviderPaymentOther     ProviderPaymentStatus = "other"
)

// ProviderPayment is the authoritative payment record fetched from a provider.
type ProviderPayment struct {
	ID                string
	Status            ProviderPaymentStatus
	RawStatus         string
	StatusDetail      string
	AmountCents       AmountCents
	Currency          string
	ExternalReference string
}

// RefundRequest asks a provider to return money on a captured payment.
type RefundRequest struct {
	PaymentID      string
	AmountCents    AmountCents
	Currency       string
	IdempotencyKey string
}

// ProviderRefund is the provider's answer to a refund.
type ProviderRefund struct {
	ID     string
	Status string
}

// WebhookHint is the only thing taken from an inbound notification: which payment to look up.
type WebhookHint struct {
	EventType string
	PaymentID string
	Supported bool
}

// PaymentProvider is the single capability both gateways implement.
type PaymentProvider interface {
	Name() ProviderName
	Currency() string
	CreateSession(ctx context.Context, request CheckoutRequest) (CheckoutSession, error)
	GetPayment(ctx context.Context, paymentID string) (ProviderPayment, error)
	Refund(ctx context.Context, request RefundRequest) (ProviderRefund, error)
	ParseWebhook(payload []byte) (WebhookHint, error)
}

// Providers indexes the configured gateways by name.
type Providers map[ProviderName]PaymentProvider

// NewProviders builds a registry, skipping nil entries.
func NewProviders(providers ...PaymentProvider) Providers {
	registry := make(Providers, len(providers))
	for _, provider := range providers {
		if provider != nil {
			registry[provider.Name()] = provider
		}
	}
	return registry
}

// Lookup returns a registered provider.
func (providers Providers) Lookup(name ProviderName) (PaymentProvider, error) {
	provider, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: provider %q is not configured", ErrValidation, name)
	}
	return provider, nil
}

// Select picks a provider for a booking: the explicit request first, then the
// booking's stored tag, then the currency convention (ARS settles on MercadoPago).
func (providers Providers) Select(requested ProviderName, booking Booking) (PaymentProvider, error) {
	if requested != "" {
		return providers.Lookup(requested)
	}
	if booking.PaymentProvider != "" {
		return providers.Lookup(booking.PaymentProvider)
	}
	if strings.EqualFold(booking.Currency, currencyARS) {
		return providers.Lookup(ProviderMercadoPago)
	}
	return providers.Lookup(ProviderStripe)
}

// RateTable converts between currencies using configured rates keyed "FROM/TO".
type RateTable map[string]float64

// Convert moves an amount into another currency, rounding to the nearest minor unit.
func (rates RateTable) Convert(amount AmountCents, from string, to string) (AmountCents, error) {
	if strings.EqualFold(from, to) {
		return amount, nil
	}
	key := strings.ToUpper(from) + rateKeyDelimiter + strings.ToUpper(to)
	if rate, ok := rates[key]; ok && rate > 0 {
		return AmountCents(math.Round(float64(amount) * rate)), nil
	}
	inverseKey := strings.ToUpper(to) + rateKeyDelimiter + strings.ToUpper(from)
	if rate, ok := rates[inverseKey]; ok && rate > 0 {
		return AmountCents(math.Round(float64(amount) / rate)), nil
	}
	return 0, fmt.Errorf("%w: no exchange rate for %s", ErrValidation, key)
}
