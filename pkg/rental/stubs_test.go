package rental

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"
)

var fixedNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time {
	return fixedNow
}

type stubStore struct {
	txMutex      sync.Mutex
	mutex        sync.Mutex
	bookings     map[BookingID]Booking
	transactions []Transaction
	keys         map[string]struct{}
	coupons      map[CouponCode]Coupon
	usages       []CouponUsage
	getErr       error
	insertErr    error
	metadataErr  error
	metadataHits int
	redeemHook   func()
}

func newStubStore(test *testing.T, bookings ...Booking) *stubStore {
	test.Helper()
	store := &stubStore{
		bookings: make(map[BookingID]Booking),
		keys:     make(map[string]struct{}),
		coupons:  make(map[CouponCode]Coupon),
	}
	for _, booking := range bookings {
		store.bookings[booking.ID] = booking
	}
	return store
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.txMutex.Lock()
	defer store.txMutex.Unlock()

	store.mutex.Lock()
	savedBookings := make(map[BookingID]Booking, len(store.bookings))
	for id, booking := range store.bookings {
		booking.Metadata = maps.Clone(booking.Metadata)
		savedBookings[id] = booking
	}
	savedTransactions := slices.Clone(store.transactions)
	savedKeys := maps.Clone(store.keys)
	store.mutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.mutex.Lock()
		store.bookings = savedBookings
		store.transactions = savedTransactions
		store.keys = savedKeys
		store.mutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) GetBooking(ctx context.Context, bookingID BookingID) (Booking, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.getErr != nil {
		return Booking{}, store.getErr
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return Booking{}, fmt.Errorf("%w: booking %s", ErrNotFound, bookingID)
	}
	booking.Metadata = maps.Clone(booking.Metadata)
	return booking, nil
}

func (store *stubStore) MergeBookingMetadata(ctx context.Context, bookingID BookingID, provider ProviderName, patch map[string]string) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.metadataErr != nil {
		return store.metadataErr
	}
	booking, ok := store.bookings[bookingID]
	if !ok {
		return ErrNotFound
	}
	store.metadataHits++
	if provider != "" {
		booking.PaymentProvider = provider
	}
	booking.Metadata = mergeMetadata(booking.Metadata, patch)
	store.bookings[bookingID] = booking
	return nil
}

func (store *stubStore) TransitionPayment(ctx context.Context, transition PaymentTransition) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	booking, ok := store.bookings[transition.BookingID]
	if !ok {
		return ErrNotFound
	}
	if !slices.Contains(transition.From, booking.PaymentStatus) {
		return ErrStaleState
	}
	booking.PaymentStatus = transition.To
	if transition.BookingStatus != "" && (transition.BookingStatusFrom == "" || booking.Status == transition.BookingStatusFrom) {
		booking.Status = transition.BookingStatus
	}
	if transition.Provider != "" {
		booking.PaymentProvider = transition.Provider
		switch transition.Provider {
		case ProviderStripe:
			booking.StripePaymentIntentID = transition.ProviderPayment
		case ProviderMercadoPago:
			booking.MercadoPagoPaymentID = transition.ProviderPayment
		}
	}
	booking.Metadata = mergeMetadata(booking.Metadata, transition.MetadataPatch)
	booking.UpdatedAt = transition.At
	store.bookings[transition.BookingID] = booking
	return nil
}

func (store *stubStore) InsertTransaction(ctx context.Context, transaction Transaction) (string, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.insertErr != nil {
		return "", store.insertErr
	}
	if _, exists := store.keys[transaction.IdempotencyKey]; exists {
		return "", ErrDuplicateTransaction
	}
	store.keys[transaction.IdempotencyKey] = struct{}{}
	transaction.ID = fmt.Sprintf("txn-%d", len(store.transactions)+1)
	store.transactions = append(store.transactions, transaction)
	return transaction.ID, nil
}

func (store *stubStore) ListTransactions(ctx context.Context, bookingID BookingID) ([]Transaction, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var out []Transaction
	for _, transaction := range store.transactions {
		if transaction.BookingID == bookingID {
			out = append(out, transaction)
		}
	}
	return out, nil
}

func (store *stubStore) FindCouponByCode(ctx context.Context, code CouponCode) (Coupon, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	coupon, ok := store.coupons[code]
	if !ok {
		return Coupon{}, ErrNotFound
	}
	return coupon, nil
}

func (store *stubStore) CountCouponUsages(ctx context.Context, couponID string, userID UserID) (int64, error) {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	var count int64
	for _, usage := range store.usages {
		if usage.CouponID == couponID && usage.UserID == userID {
			count++
		}
	}
	return count, nil
}

func (store *stubStore) RedeemCoupon(ctx context.Context, usage CouponUsage) error {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	if store.redeemHook != nil {
		store.redeemHook()
	}
	for code, coupon := range store.coupons {
		if coupon.ID != usage.CouponID {
			continue
		}
		if coupon.UsageLimit != nil && coupon.UsedCount >= *coupon.UsageLimit {
			return ErrStaleState
		}
		if coupon.UsagePerUser != nil {
			var used int64
			for _, existing := range store.usages {
				if existing.CouponID == usage.CouponID && existing.UserID == usage.UserID {
					used++
				}
			}
			if used >= *coupon.UsagePerUser {
				return ErrUserLimitReached
			}
		}
		coupon.UsedCount++
		store.coupons[code] = coupon
		store.usages = append(store.usages, usage)
		return nil
	}
	return ErrNotFound
}

func (store *stubStore) booking(test *testing.T, bookingID BookingID) Booking {
	test.Helper()
	store.mutex.Lock()
	defer store.mutex.Unlock()
	booking, ok := store.bookings[bookingID]
	if !ok {
		test.Fatalf("booking %s not found", bookingID)
	}
	return booking
}

func (store *stubStore) transactionCount() int {
	store.mutex.Lock()
	defer store.mutex.Unlock()
	return len(store.transactions)
}

func mergeMetadata(current map[string]string, patch map[string]string) map[string]string {
	merged := maps.Clone(current)
	if merged == nil {
		merged = make(map[string]string, len(patch))
	}
	maps.Copy(merged, patch)
	return merged
}

// fakeProvider reads webhook payloads shaped as {"type": "...", "id": "..."}.
type fakeProvider struct {
	mutex          sync.Mutex
	name           ProviderName
	currency       string
	session        CheckoutSession
	sessionErr     error
	payments       map[string]ProviderPayment
	paymentErr     error
	refund         ProviderRefund
	refundErr      error
	sessionCalls   []CheckoutRequest
	refundCalls    []RefundRequest
	getPaymentHits int
}

func newFakeProvider(name ProviderName, currency string) *fakeProvider {
	return &fakeProvider{
		name:     name,
		currency: currency,
		session:  CheckoutSession{ID: "sess_1", URL: "https://pay.example/sess_1"},
		payments: make(map[string]ProviderPayment),
		refund:   ProviderRefund{ID: "re_1", Status: "succeeded"},
	}
}

func (provider *fakeProvider) Name() ProviderName { return provider.name }

func (provider *fakeProvider) Currency() string { return provider.currency }

func (provider *fakeProvider) CreateSession(ctx context.Context, request CheckoutRequest) (CheckoutSession, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.sessionCalls = append(provider.sessionCalls, request)
	if provider.sessionErr != nil {
		return CheckoutSession{}, provider.sessionErr
	}
	return provider.session, nil
}

func (provider *fakeProvider) GetPayment(ctx context.Context, paymentID string) (ProviderPayment, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.getPaymentHits++
	if provider.paymentErr != nil {
		return ProviderPayment{}, provider.paymentErr
	}
	payment, ok := provider.payments[paymentID]
	if !ok {
		return ProviderPayment{}, fmt.Errorf("payment %s not found", paymentID)
	}
	return payment, nil
}

func (provider *fakeProvider) Refund(ctx context.Context, request RefundRequest) (ProviderRefund, error) {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()
	provider.refundCalls = append(provider.refundCalls, request)
	if provider.refundErr != nil {
		return ProviderRefund{}, provider.refundErr
	}
	return provider.refund, nil
}

func (provider *fakeProvider) ParseWebhook(payload []byte) (WebhookHint, error) {
	var event struct {
		Type string `json:"type"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		return WebhookHint{}, err
	}
	return WebhookHint{EventType: event.Type, PaymentID: event.ID, Supported: event.Type == "payment"}, nil
}

type recorderLogger struct {
	mutex   sync.Mutex
	entries []OperationLog
}

func (logger *recorderLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recorderLogger) operations(name string) []OperationLog {
	logger.mutex.Lock()
	defer logger.mutex.Unlock()
	var out []OperationLog
	for _, entry := range logger.entries {
		if entry.Operation == name {
			out = append(out, entry)
		}
	}
	return out
}

type recordingNotifier struct {
	mutex         sync.Mutex
	notifications []Notification
	err           error
}

func (notifier *recordingNotifier) Notify(_ context.Context, notification Notification) error {
	notifier.mutex.Lock()
	defer notifier.mutex.Unlock()
	notifier.notifications = append(notifier.notifications, notification)
	return notifier.err
}

func mustBookingID(test *testing.T, raw string) BookingID {
	test.Helper()
	bookingID, err := NewBookingID(raw)
	if err != nil {
		test.Fatalf("booking id: %v", err)
	}
	return bookingID
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	return userID
}

func mustCouponCode(test *testing.T, raw string) CouponCode {
	test.Helper()
	code, err := NewCouponCode(raw)
	if err != nil {
		test.Fatalf("coupon code: %v", err)
	}
	return code
}

// approvedBooking is the 1000 total booking: 750 subtotal, 150 fee, 100 deposit, 850 payout.
func approvedBooking(test *testing.T, raw string) Booking {
	test.Helper()
	return Booking{
		ID:                   mustBookingID(test, raw),
		RenterID:             mustUserID(test, "renter-1"),
		RenterEmail:          "renter@example.com",
		RenterName:           "Rita Renter",
		OwnerID:              mustUserID(test, "owner-1"),
		OwnerEmail:           "owner@example.com",
		OwnerName:            "Omar Owner",
		VehicleID:            "vehicle-1",
		VehicleTitle:         "Toyota Hilux 2022",
		VehicleType:          "pickup",
		StartDate:            time.Date(2026, time.March, 11, 0, 0, 0, 0, time.UTC),
		EndDate:              time.Date(2026, time.March, 14, 0, 0, 0, 0, time.UTC),
		Days:                 3,
		Currency:             "USD",
		SubtotalCents:        750,
		PlatformFeeCents:     150,
		SecurityDepositCents: 100,
		TotalAmountCents:     1000,
		OwnerPayoutCents:     850,
		Status:               BookingStatusApproved,
		PaymentStatus:        PaymentStatusUnpaid,
		Metadata:             map[string]string{},
	}
}

func renterCaller(test *testing.T) Caller {
	test.Helper()
	return Caller{UserID: mustUserID(test, "renter-1"), Email: "renter@example.com"}
}

func int64Pointer(value int64) *int64 {
	return &value
}

func amountPointer(value AmountCents) *AmountCents {
	return &value
}
