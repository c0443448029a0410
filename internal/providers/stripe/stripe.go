// Package stripe talks to the Stripe REST API for card checkouts in USD-style flows.
package stripe

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/providers"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
)

const (
	DefaultAPIBase     = "https://api.stripe.com"
	DefaultCurrency    = "USD"
	providerLabel      = "stripe"
	pathSessions       = "/v1/checkout/sessions"
	pathPaymentIntents = "/v1/payment_intents/"
	pathRefunds        = "/v1/refunds"
	headerContentType  = "Content-Type"
	headerIdempotency  = "Idempotency-Key"
	mimeForm           = "application/x-www-form-urlencoded"

	statusSucceeded             = "succeeded"
	statusCanceled              = "canceled"
	statusRequiresPaymentMethod = "requires_payment_method"
	statusProcessing            = "processing"
	statusRequiresAction        = "requires_action"
	statusRequiresConfirmation  = "requires_confirmation"

	eventIntentSucceeded     = "payment_intent.succeeded"
	eventIntentFailed        = "payment_intent.payment_failed"
	eventIntentCanceled      = "payment_intent.canceled"
	eventSessionCompleted    = "checkout.session.completed"
	eventSessionAsyncSuccess = "checkout.session.async_payment_succeeded"
	eventSessionAsyncFailure = "checkout.session.async_payment_failed"
)

// Config holds the Stripe credentials and endpoint.
type Config struct {
	SecretKey string
	APIBase   string
	Currency  string
	Timeout   time.Duration
}

// Client implements rental.PaymentProvider against Stripe Checkout and PaymentIntents.
type Client struct {
	transport *providers.Transport
	currency  string
}

// New builds a Stripe client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	transport, err := providers.NewTransport(providerLabel, apiBase, cfg.SecretKey, cfg.Timeout, httpClient)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, currency: currency}, nil
}

func (client *Client) Name() rental.ProviderName { return rental.ProviderStripe }

func (client *Client) Currency() string { return client.currency }

// CreateSession opens a hosted Checkout Session in payment mode.
func (client *Client) CreateSession(ctx context.Context, request rental.CheckoutRequest) (rental.CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("success_url", request.SuccessURL)
	form.Set("cancel_url", request.CancelURL)
	form.Set("client_reference_id", request.ExternalReference)
	if request.CustomerEmail != "" {
		form.Set("customer_email", request.CustomerEmail)
	}
	for index, item := range request.LineItems {
		prefix := fmt.Sprintf("line_items[%d]", index)
		form.Set(prefix+"[quantity]", "1")
		form.Set(prefix+"[price_data][currency]", strings.ToLower(item.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(item.AmountCents.Int64(), 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Title)
	}
	for key, value := range request.Metadata {
		form.Set("metadata["+key+"]", value)
		form.Set("payment_intent_data[metadata]["+key+"]", value)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	headers := map[string]string{headerContentType: mimeForm}
	if err := client.transport.Do(ctx, http.MethodPost, pathSessions, strings.NewReader(form.Encode()), headers, &session); err != nil {
		return rental.CheckoutSession{}, err
	}
	return rental.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

type paymentIntent struct {
	ID               string            `json:"id"`
	Status           string            `json:"status"`
	Amount           int64             `json:"amount"`
	Currency         string            `json:"currency"`
	Metadata         map[string]string `json:"metadata"`
	LastPaymentError *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"last_payment_error"`
	CancellationReason string `json:"cancellation_reason"`
}

// GetPayment fetches the PaymentIntent, the authoritative record of a Stripe payment.
func (client *Client) GetPayment(ctx context.Context, paymentID string) (rental.ProviderPayment, error) {
	var intent paymentIntent
	if err := client.transport.Do(ctx, http.MethodGet, pathPaymentIntents+url.PathEscape(paymentID), nil, nil, &intent); err != nil {
		return rental.ProviderPayment{}, err
	}
	payment := rental.ProviderPayment{
		ID:                intent.ID,
		Status:            normalizeStatus(intent),
		RawStatus:         intent.Status,
		AmountCents:       rental.AmountCents(intent.Amount),
		Currency:          strings.ToUpper(intent.Currency),
		ExternalReference: intent.Metadata[rental.MetadataBookingID],
	}
	switch {
	case intent.LastPaymentError != nil:
		payment.StatusDetail = intent.LastPaymentError.Message
		if payment.StatusDetail == "" {
			payment.StatusDetail = intent.LastPaymentError.Code
		}
	case intent.CancellationReason != "":
		payment.StatusDetail = intent.CancellationReason
	}
	return payment, nil
}

func normalizeStatus(intent paymentIntent) rental.ProviderPaymentStatus {
	switch intent.Status {
	case statusSucceeded:
		return rental.ProviderPaymentApproved
	case statusCanceled:
		return rental.ProviderPaymentCancelled
	case statusRequiresPaymentMethod:
		if intent.LastPaymentError != nil {
			return rental.ProviderPaymentRejected
		}
		return rental.ProviderPaymentPending
	case statusProcessing, statusRequiresAction, statusRequiresConfirmation:
		return rental.ProviderPaymentPending
	default:
		return rental.ProviderPaymentOther
	}
}

// Refund returns part or all of a PaymentIntent. The idempotency key makes retries safe.
func (client *Client) Refund(ctx context.Context, request rental.RefundRequest) (rental.ProviderRefund, error) {
	form := url.Values{}
	form.Set("payment_intent", request.PaymentID)
	form.Set("amount", strconv.FormatInt(request.AmountCents.Int64(), 10))
	form.Set("reason", "requested_by_customer")

	var refund struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	headers := map[string]string{headerContentType: mimeForm, headerIdempotency: request.IdempotencyKey}
	if err := client.transport.Do(ctx, http.MethodPost, pathRefunds, strings.NewReader(form.Encode()), headers, &refund); err != nil {
		return rental.ProviderRefund{}, err
	}
	return rental.ProviderRefund{ID: refund.ID, Status: refund.Status}, nil
}

// ParseWebhook extracts the PaymentIntent id from an event. The event body is
// never trusted for status; the reconciler re-fetches the intent.
func (client *Client) ParseWebhook(payload []byte) (rental.WebhookHint, error) {
	var event struct {
		Type string `json:"type"`
		Data struct {
			Object struct {
				ID            string `json:"id"`
				Object        string `json:"object"`
				PaymentIntent string `json:"payment_intent"`
			} `json:"object"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return rental.WebhookHint{}, fmt.Errorf("stripe webhook: %w", err)
	}
	hint := rental.WebhookHint{EventType: event.Type}
	switch event.Type {
	case eventIntentSucceeded, eventIntentFailed, eventIntentCanceled:
		hint.PaymentID = event.Data.Object.ID
		hint.Supported = true
	case eventSessionCompleted, eventSessionAsyncSuccess, eventSessionAsyncFailure:
		hint.PaymentID = event.Data.Object.PaymentIntent
		hint.Supported = true
	}
	return hint, nil
}
