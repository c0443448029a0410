package rental

import (
	"context"
	"errors"
	"testing"
)

func validTransaction(test *testing.T) Transaction {
	test.Helper()
	return Transaction{
		BookingID:      mustBookingID(test, "booking-1"),
		ActorEmail:     "renter@example.com",
		ActorRole:      ActorRenter,
		Type:           TransactionPayment,
		AmountCents:    1000,
		Currency:       "USD",
		Status:         TransactionCompleted,
		Description:    "Payment",
		IdempotencyKey: "booking-1:payment:pay_1",
	}
}

func TestLedgerAppendStampsAndStores(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	logger := &recorderLogger{}
	writer, err := NewLedgerWriter(store, WithClock(fixedClock), WithOperationLogger(logger))
	if err != nil {
		test.Fatalf("ledger init: %v", err)
	}

	transactionID, err := writer.Append(context.Background(), validTransaction(test))
	if err != nil {
		test.Fatalf("append: %v", err)
	}
	if transactionID == "" {
		test.Fatalf("expected transaction id")
	}
	rows, err := writer.List(context.Background(), mustBookingID(test, "booking-1"))
	if err != nil {
		test.Fatalf("list: %v", err)
	}
	if len(rows) != 1 || !rows[0].CreatedAt.Equal(fixedNow) {
		test.Fatalf("unexpected rows: %+v", rows)
	}
	entries := logger.operations(operationAppend)
	if len(entries) != 1 || entries[0].Status != operationStatusOK || entries[0].Outcome != string(TransactionPayment) {
		test.Fatalf("unexpected append log: %+v", entries)
	}
}

func TestLedgerAppendRejectsDuplicateKey(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	writer, _ := NewLedgerWriter(store)
	transaction := validTransaction(test)

	if _, err := writer.Append(context.Background(), transaction); err != nil {
		test.Fatalf("append: %v", err)
	}
	if _, err := writer.Append(context.Background(), transaction); !errors.Is(err, ErrDuplicateTransaction) {
		test.Fatalf("expected ErrDuplicateTransaction, got %v", err)
	}
	if store.transactionCount() != 1 {
		test.Fatalf("duplicate append must not add a row")
	}
}

func TestLedgerAppendValidatesStructure(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		name     string
		mutate   func(*Transaction)
		expected error
	}{
		{name: "missing booking", mutate: func(transaction *Transaction) { transaction.BookingID = BookingID{} }, expected: ErrInvalidTransaction},
		{name: "unknown type", mutate: func(transaction *Transaction) { transaction.Type = "chargeback" }, expected: ErrInvalidTransaction},
		{name: "unknown role", mutate: func(transaction *Transaction) { transaction.ActorRole = "broker" }, expected: ErrInvalidTransaction},
		{name: "unknown status", mutate: func(transaction *Transaction) { transaction.Status = "settled" }, expected: ErrInvalidTransaction},
		{name: "negative amount", mutate: func(transaction *Transaction) { transaction.AmountCents = -1 }, expected: ErrInvalidAmountCents},
		{name: "bad currency", mutate: func(transaction *Transaction) { transaction.Currency = "dollars" }, expected: ErrInvalidCurrency},
		{name: "missing key", mutate: func(transaction *Transaction) { transaction.IdempotencyKey = " " }, expected: ErrInvalidTransaction},
	}
	for _, testCase := range testCases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			store := newStubStore(test)
			writer, _ := NewLedgerWriter(store)
			transaction := validTransaction(test)
			testCase.mutate(&transaction)

			_, err := writer.Append(context.Background(), transaction)
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("expected %v, got %v", testCase.expected, err)
			}
			var operationError OperationError
			if !errors.As(err, &operationError) || operationError.Operation() != operationAppend || operationError.Code() != errorCodeInvalid {
				test.Fatalf("expected ledger operation error, got %v", err)
			}
			if store.transactionCount() != 0 {
				test.Fatalf("invalid transaction was stored")
			}
		})
	}
}

func TestLedgerAppendAcceptsZeroAmount(test *testing.T) {
	test.Parallel()
	store := newStubStore(test)
	writer, _ := NewLedgerWriter(store)
	transaction := validTransaction(test)
	transaction.Type = TransactionDepositHold
	transaction.Status = TransactionPending
	transaction.AmountCents = 0

	if _, err := writer.Append(context.Background(), transaction); err != nil {
		test.Fatalf("zero amount deposit hold: %v", err)
	}
}

func TestNewLedgerWriterRequiresStore(test *testing.T) {
	test.Parallel()
	if _, err := NewLedgerWriter(nil); !errors.Is(err, ErrInvalidServiceConfig) {
		test.Fatalf("expected invalid service config, got %v", err)
	}
}

func TestLedgerListForCallerRestrictsToParties(test *testing.T) {
	test.Parallel()
	booking := approvedBooking(test, "booking-1")
	store := newStubStore(test, booking)
	writer, _ := NewLedgerWriter(store)
	if _, err := writer.Append(context.Background(), validTransaction(test)); err != nil {
		test.Fatalf("append: %v", err)
	}

	testCases := []struct {
		name     string
		caller   Caller
		expected error
	}{
		{name: "renter", caller: Caller{UserID: booking.RenterID}},
		{name: "owner", caller: Caller{UserID: booking.OwnerID}},
		{name: "admin", caller: Caller{UserID: mustUserID(test, "admin-1"), Roles: []string{RoleAdmin}}},
		{name: "stranger", caller: Caller{UserID: mustUserID(test, "stranger")}, expected: ErrUnauthorized},
	}
	for _, testCase := range testCases {
		rows, err := writer.ListForCaller(context.Background(), testCase.caller, booking.ID)
		if testCase.expected != nil {
			if !errors.Is(err, testCase.expected) {
				test.Fatalf("%s: expected %v, got %v", testCase.name, testCase.expected, err)
			}
			continue
		}
		if err != nil || len(rows) != 1 {
			test.Fatalf("%s: unexpected result rows=%d err=%v", testCase.name, len(rows), err)
		}
	}

	_, err := writer.ListForCaller(context.Background(), renterCaller(test), mustBookingID(test, "missing"))
	if !errors.Is(err, ErrNotFound) {
		test.Fatalf("expected ErrNotFound, got %v", err)
	}
}
