package mercadopago

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
)

func newTestClient(test *testing.T, handler http.HandlerFunc) *Client {
	test.Helper()
	server := httptest.NewServer(handler)
	test.Cleanup(server.Close)
	client, err := New(Config{
		AccessToken:     "APP_USR-123",
		APIBase:         server.URL,
		NotificationURL: "https://rent.example/webhooks/mercadopago",
	}, server.Client())
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	return client
}

func TestCreateSessionBuildsPreference(test *testing.T) {
	test.Parallel()
	var received preferenceRequest
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.Method != http.MethodPost || request.URL.Path != pathPreferences {
			test.Errorf("unexpected request %s %s", request.Method, request.URL.Path)
		}
		if request.Header.Get("Authorization") != "Bearer APP_USR-123" {
			test.Errorf("missing bearer auth")
		}
		if err := json.NewDecoder(request.Body).Decode(&received); err != nil {
			test.Errorf("decode preference: %v", err)
		}
		_, _ = io.WriteString(writer, `{"id":"pref_1","init_point":"https://www.mercadopago.com.ar/checkout/v1/redirect?pref_id=pref_1"}`)
	})

	session, err := client.CreateSession(context.Background(), rental.CheckoutRequest{
		LineItems: []rental.LineItem{
			{Title: "Hilux rental (3 days)", AmountCents: 945_000, Currency: "ARS"},
			{Title: "Security deposit (refundable)", AmountCents: 105_050, Currency: "ARS", Refundable: true},
		},
		SuccessURL:        "https://rent.example/bookings/booking-1?payment=success",
		CancelURL:         "https://rent.example/bookings/booking-1?payment=cancelled",
		CustomerEmail:     "renter@example.com",
		ExternalReference: "booking-1",
		Metadata:          map[string]string{rental.MetadataBookingID: "booking-1"},
	})
	if err != nil {
		test.Fatalf("create session: %v", err)
	}
	if session.ID != "pref_1" || session.URL == "" {
		test.Fatalf("unexpected session: %+v", session)
	}
	if len(received.Items) != 2 {
		test.Fatalf("expected 2 items, got %d", len(received.Items))
	}
	if received.Items[0].UnitPrice != 9450 || received.Items[1].UnitPrice != 1050.5 {
		test.Fatalf("expected major-unit prices, got %+v", received.Items)
	}
	if received.Items[0].CurrencyID != "ARS" || received.Items[0].Quantity != 1 {
		test.Fatalf("unexpected item: %+v", received.Items[0])
	}
	if received.ExternalReference != "booking-1" || received.AutoReturn != "approved" {
		test.Fatalf("unexpected preference: %+v", received)
	}
	if received.BackURLs["failure"] != "https://rent.example/bookings/booking-1?payment=cancelled" {
		test.Fatalf("unexpected back urls: %v", received.BackURLs)
	}
	if received.NotificationURL != "https://rent.example/webhooks/mercadopago" {
		test.Fatalf("unexpected notification url %q", received.NotificationURL)
	}
	if received.Payer == nil || received.Payer.Email != "renter@example.com" {
		test.Fatalf("expected payer email")
	}
}

func TestGetPaymentConvertsToMinorUnits(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		status   string
		expected rental.ProviderPaymentStatus
	}{
		{status: "approved", expected: rental.ProviderPaymentApproved},
		{status: "rejected", expected: rental.ProviderPaymentRejected},
		{status: "cancelled", expected: rental.ProviderPaymentCancelled},
		{status: "in_process", expected: rental.ProviderPaymentPending},
		{status: "charged_back", expected: rental.ProviderPaymentOther},
	}
	for _, testCase := range testCases {
		test.Run(testCase.status, func(test *testing.T) {
			test.Parallel()
			client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
				if request.URL.Path != pathPayments+"98765" {
					test.Errorf("unexpected path %s", request.URL.Path)
				}
				_, _ = io.WriteString(writer, `{"id":98765,"status":"`+testCase.status+`","status_detail":"cc_rejected_other_reason","transaction_amount":10500.55,"currency_id":"ARS","external_reference":"booking-1"}`)
			})
			payment, err := client.GetPayment(context.Background(), "98765")
			if err != nil {
				test.Fatalf("get payment: %v", err)
			}
			if payment.Status != testCase.expected || payment.RawStatus != testCase.status {
				test.Fatalf("unexpected status: %+v", payment)
			}
			if payment.ID != "98765" || payment.AmountCents != 1_050_055 || payment.ExternalReference != "booking-1" {
				test.Fatalf("unexpected payment: %+v", payment)
			}
		})
	}
}

func TestRefundSendsIdempotencyKey(test *testing.T) {
	test.Parallel()
	client := newTestClient(test, func(writer http.ResponseWriter, request *http.Request) {
		if request.URL.Path != pathPayments+"98765"+pathRefundsSuffix {
			test.Errorf("unexpected path %s", request.URL.Path)
		}
		if request.Header.Get(headerIdempotency) != "refund:booking-1" {
			test.Errorf("missing idempotency key")
		}
		var body map[string]float64
		_ = json.NewDecoder(request.Body).Decode(&body)
		if body["amount"] != 2500 {
			test.Errorf("expected 2500 major units, got %v", body["amount"])
		}
		_, _ = io.WriteString(writer, `{"id":555,"status":"approved"}`)
	})

	refund, err := client.Refund(context.Background(), rental.RefundRequest{PaymentID: "98765", AmountCents: 250_000, Currency: "ARS", IdempotencyKey: "refund:booking-1"})
	if err != nil {
		test.Fatalf("refund: %v", err)
	}
	if refund.ID != "555" || refund.Status != "approved" {
		test.Fatalf("unexpected refund: %+v", refund)
	}
}

func TestParseWebhookShapes(test *testing.T) {
	test.Parallel()
	client, err := New(Config{AccessToken: "token"}, nil)
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	testCases := []struct {
		name      string
		payload   string
		paymentID string
		supported bool
	}{
		{name: "numeric data id", payload: `{"type":"payment","action":"payment.updated","data":{"id":12345}}`, paymentID: "12345", supported: true},
		{name: "string data id", payload: `{"type":"payment","data":{"id":"12345"}}`, paymentID: "12345", supported: true},
		{name: "topic and resource", payload: `{"topic":"payment","resource":"https://api.mercadopago.com/v1/payments/777"}`, paymentID: "777", supported: true},
		{name: "merchant order", payload: `{"topic":"merchant_order","resource":"https://api.mercadolibre.com/merchant_orders/1"}`, paymentID: "1", supported: false},
	}
	for _, testCase := range testCases {
		hint, err := client.ParseWebhook([]byte(testCase.payload))
		if err != nil {
			test.Fatalf("%s: %v", testCase.name, err)
		}
		if hint.PaymentID != testCase.paymentID || hint.Supported != testCase.supported {
			test.Fatalf("%s: unexpected hint %+v", testCase.name, hint)
		}
	}
}

func TestQueryPayload(test *testing.T) {
	test.Parallel()
	payload := QueryPayload(url.Values{"type": {"payment"}, "data.id": {"4321"}})
	client, err := New(Config{AccessToken: "token"}, nil)
	if err != nil {
		test.Fatalf("new client: %v", err)
	}
	hint, err := client.ParseWebhook(payload)
	if err != nil {
		test.Fatalf("parse query payload: %v", err)
	}
	if hint.PaymentID != "4321" || !hint.Supported {
		test.Fatalf("unexpected hint %+v", hint)
	}
	if QueryPayload(url.Values{"topic": {"payment"}}) != nil {
		test.Fatalf("expected nil payload without id")
	}
	legacy := QueryPayload(url.Values{"topic": {"payment"}, "id": {"99"}})
	if legacy == nil {
		test.Fatalf("expected payload from topic and id")
	}
}
