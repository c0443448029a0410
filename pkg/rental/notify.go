package rental

import "context"

// NotificationKind names the message a recipient should get.
type NotificationKind string

const (
	NotificationPaymentReceived NotificationKind = "booking_payment_received"
	NotificationBookingPaid     NotificationKind = "booking_paid"
)

// Notification is a request for the external delivery collaborator.
type Notification struct {
	Kind           NotificationKind
	BookingID      BookingID
	RecipientID    UserID
	RecipientEmail string
	RecipientRole  ActorRole
	VehicleTitle   string
	AmountCents    AmountCents
	Currency       string
}

// Notifier hands notifications to whatever delivers them.
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}
