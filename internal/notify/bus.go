// Package notify publishes booking notification requests on a watermill event
// bus and runs the handlers that hand them to a delivery collaborator.
package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/rental/pkg/rental"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
)

// Publisher implements rental.Notifier by publishing events.
type Publisher struct {
	eventBus *cqrs.EventBus
	nowFn    func() time.Time
}

// NewPublisher builds the event bus on top of the transport publisher.
func NewPublisher(transport Transport, logger watermill.LoggerAdapter) (*Publisher, error) {
	if transport.Publisher == nil {
		return nil, fmt.Errorf("%w: transport publisher is nil", rental.ErrInvalidServiceConfig)
	}
	eventBus, err := cqrs.NewEventBusWithConfig(transport.Publisher, cqrs.EventBusConfig{
		GeneratePublishTopic: func(params cqrs.GenerateEventPublishTopicParams) (string, error) {
			return topicPrefix + params.EventName, nil
		},
		Marshaler: cqrs.JSONMarshaler{
			GenerateName: cqrs.StructName,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event bus: %w", err)
	}
	return &Publisher{eventBus: eventBus, nowFn: time.Now}, nil
}

// Notify publishes a BookingNotificationRequested event.
func (publisher *Publisher) Notify(ctx context.Context, notification rental.Notification) error {
	event := newBookingNotificationRequested(notification, publisher.nowFn())
	if err := publisher.eventBus.Publish(ctx, event); err != nil {
		return fmt.Errorf("publishing %s notification: %w", notification.Kind, err)
	}
	return nil
}
