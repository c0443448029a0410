// Package mercadopago talks to the MercadoPago REST API for ARS checkouts.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/providers"
	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
)

const (
	DefaultAPIBase    = "https://api.mercadopago.com"
	DefaultCurrency   = "ARS"
	providerLabel     = "mercadopago"
	pathPreferences   = "/checkout/preferences"
	pathPayments      = "/v1/payments/"
	pathRefundsSuffix = "/refunds"
	headerContentType = "Content-Type"
	headerIdempotency = "X-Idempotency-Key"
	mimeJSON          = "application/json"
	topicPayment      = "payment"
	minorUnits        = 100

	statusApproved   = "approved"
	statusRejected   = "rejected"
	statusCancelled  = "cancelled"
	statusPending    = "pending"
	statusInProcess  = "in_process"
	statusAuthorized = "authorized"
)

// Config holds the MercadoPago credentials and endpoint.
type Config struct {
	AccessToken     string
	APIBase         string
	Currency        string
	NotificationURL string
	Timeout         time.Duration
}

// Client implements rental.PaymentProvider against Checkout Pro preferences and payments.
type Client struct {
	transport       *providers.Transport
	currency        string
	notificationURL string
}

// New builds a MercadoPago client. httpClient may be nil.
func New(cfg Config, httpClient *http.Client) (*Client, error) {
	apiBase := cfg.APIBase
	if apiBase == "" {
		apiBase = DefaultAPIBase
	}
	currency := strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if currency == "" {
		currency = DefaultCurrency
	}
	transport, err := providers.NewTransport(providerLabel, apiBase, cfg.AccessToken, cfg.Timeout, httpClient)
	if err != nil {
		return nil, err
	}
	return &Client{transport: transport, currency: currency, notificationURL: cfg.NotificationURL}, nil
}

func (client *Client) Name() rental.ProviderName { return rental.ProviderMercadoPago }

func (client *Client) Currency() string { return client.currency }

type preferenceItem struct {
	ID         string  `json:"id,omitempty"`
	Title      string  `json:"title"`
	Quantity   int     `json:"quantity"`
	UnitPrice  float64 `json:"unit_price"`
	CurrencyID string  `json:"currency_id"`
}

type preferenceRequest struct {
	Items             []preferenceItem  `json:"items"`
	Payer             *preferencePayer  `json:"payer,omitempty"`
	BackURLs          map[string]string `json:"back_urls"`
	AutoReturn        string            `json:"auto_return"`
	ExternalReference string            `json:"external_reference"`
	NotificationURL   string            `json:"notification_url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

type preferencePayer struct {
	Email string `json:"email"`
}

// CreateSession creates a Checkout Pro preference; its init_point is the redirect URL.
func (client *Client) CreateSession(ctx context.Context, request rental.CheckoutRequest) (rental.CheckoutSession, error) {
	body := preferenceRequest{
		BackURLs: map[string]string{
			"success": request.SuccessURL,
			"failure": request.CancelURL,
			"pending": request.SuccessURL,
		},
		AutoReturn:        statusApproved,
		ExternalReference: request.ExternalReference,
		NotificationURL:   client.notificationURL,
		Metadata:          request.Metadata,
	}
	if request.CustomerEmail != "" {
		body.Payer = &preferencePayer{Email: request.CustomerEmail}
	}
	for index, item := range request.LineItems {
		body.Items = append(body.Items, preferenceItem{
			ID:         request.ExternalReference + "-" + strconv.Itoa(index+1),
			Title:      item.Title,
			Quantity:   1,
			UnitPrice:  toMajorUnits(item.AmountCents),
			CurrencyID: strings.ToUpper(item.Currency),
		})
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		return rental.CheckoutSession{}, fmt.Errorf("mercadopago preference: %w", err)
	}

	var preference struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	headers := map[string]string{headerContentType: mimeJSON}
	if err := client.transport.Do(ctx, http.MethodPost, pathPreferences, bytes.NewReader(encoded), headers, &preference); err != nil {
		return rental.CheckoutSession{}, err
	}
	return rental.CheckoutSession{ID: preference.ID, URL: preference.InitPoint}, nil
}

// GetPayment fetches the authoritative payment record.
func (client *Client) GetPayment(ctx context.Context, paymentID string) (rental.ProviderPayment, error) {
	var payment struct {
		ID                json.Number `json:"id"`
		Status            string      `json:"status"`
		StatusDetail      string      `json:"status_detail"`
		TransactionAmount float64     `json:"transaction_amount"`
		CurrencyID        string      `json:"currency_id"`
		ExternalReference string      `json:"external_reference"`
	}
	if err := client.transport.Do(ctx, http.MethodGet, pathPayments+url.PathEscape(paymentID), nil, nil, &payment); err != nil {
		return rental.ProviderPayment{}, err
	}
	return rental.ProviderPayment{
		ID:                payment.ID.String(),
		Status:            normalizeStatus(payment.Status),
		RawStatus:         payment.Status,
		StatusDetail:      payment.StatusDetail,
		AmountCents:       toMinorUnits(payment.TransactionAmount),
		Currency:          strings.ToUpper(payment.CurrencyID),
		ExternalReference: payment.ExternalReference,
	}, nil
}

func normalizeStatus(status string) rental.ProviderPaymentStatus {
	switch status {
	case statusApproved:
		return rental.ProviderPaymentApproved
	case statusRejected:
		return rental.ProviderPaymentRejected
	case statusCancelled:
		return rental.ProviderPaymentCancelled
	case statusPending, statusInProcess, statusAuthorized:
		return rental.ProviderPaymentPending
	default:
		return rental.ProviderPaymentOther
	}
}

// Refund issues a partial or total refund on a payment.
func (client *Client) Refund(ctx context.Context, request rental.RefundRequest) (rental.ProviderRefund, error) {
	encoded, err := json.Marshal(map[string]float64{"amount": toMajorUnits(request.AmountCents)})
	if err != nil {
		return rental.ProviderRefund{}, fmt.Errorf("mercadopago refund: %w", err)
	}
	var refund struct {
		ID     json.Number `json:"id"`
		Status string      `json:"status"`
	}
	headers := map[string]string{headerContentType: mimeJSON, headerIdempotency: request.IdempotencyKey}
	path := pathPayments + url.PathEscape(request.PaymentID) + pathRefundsSuffix
	if err := client.transport.Do(ctx, http.MethodPost, path, bytes.NewReader(encoded), headers, &refund); err != nil {
		return rental.ProviderRefund{}, err
	}
	return rental.ProviderRefund{ID: refund.ID.String(), Status: refund.Status}, nil
}

// ParseWebhook reads both notification shapes: the JSON body {type, data: {id}}
// and the older {topic, resource} form.
func (client *Client) ParseWebhook(payload []byte) (rental.WebhookHint, error) {
	var notification struct {
		Type     string `json:"type"`
		Topic    string `json:"topic"`
		Action   string `json:"action"`
		Resource string `json:"resource"`
		Data     struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	decoder.UseNumber()
	if err := decoder.Decode(&notification); err != nil {
		return rental.WebhookHint{}, fmt.Errorf("mercadopago webhook: %w", err)
	}
	eventType := notification.Type
	if eventType == "" {
		eventType = notification.Topic
	}
	paymentID := notification.Data.ID.String()
	if paymentID == "" && notification.Resource != "" {
		paymentID = notification.Resource[strings.LastIndex(notification.Resource, "/")+1:]
	}
	return rental.WebhookHint{
		EventType: eventType,
		PaymentID: paymentID,
		Supported: eventType == topicPayment,
	}, nil
}

// QueryPayload turns the query-string notification form (?type=payment&data.id=123)
// into the JSON body ParseWebhook understands. It returns nil when the query carries no id.
func QueryPayload(query url.Values) []byte {
	eventType := query.Get("type")
	if eventType == "" {
		eventType = query.Get("topic")
	}
	paymentID := query.Get("data.id")
	if paymentID == "" {
		paymentID = query.Get("id")
	}
	if eventType == "" || paymentID == "" {
		return nil
	}
	encoded, err := json.Marshal(map[string]any{
		"type": eventType,
		"data": map[string]string{"id": paymentID},
	})
	if err != nil {
		return nil
	}
	return encoded
}

func toMajorUnits(amount rental.AmountCents) float64 {
	return float64(amount.Int64()) / minorUnits
}

func toMinorUnits(amount float64) rental.AmountCents {
	return rental.AmountCents(math.Round(amount * minorUnits))
}
