package notify

import (
	"time"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/ThreeDotsLabs/watermill"
)

// Header is carried by every published event.
type Header struct {
	ID          string    `json:"id"`
	PublishedAt time.Time `json:"published_at"`
}

func newHeader(now time.Time) Header {
	return Header{ID: watermill.NewUUID(), PublishedAt: now.UTC()}
}

// BookingNotificationRequested asks the delivery side to message one recipient.
type BookingNotificationRequested struct {
	Header         Header `json:"header"`
	Kind           string `json:"kind"`
	BookingID      string `json:"booking_id"`
	RecipientID    string `json:"recipient_id"`
	RecipientEmail string `json:"recipient_email"`
	RecipientRole  string `json:"recipient_role"`
	VehicleTitle   string `json:"vehicle_title"`
	AmountCents    int64  `json:"amount_cents"`
	Currency       string `json:"currency"`
}

func newBookingNotificationRequested(notification rental.Notification, now time.Time) *BookingNotificationRequested {
	return &BookingNotificationRequested{
		Header:         newHeader(now),
		Kind:           string(notification.Kind),
		BookingID:      notification.BookingID.String(),
		RecipientID:    notification.RecipientID.String(),
		RecipientEmail: notification.RecipientEmail,
		RecipientRole:  string(notification.RecipientRole),
		VehicleTitle:   notification.VehicleTitle,
		AmountCents:    notification.AmountCents.Int64(),
		Currency:       notification.Currency,
	}
}
