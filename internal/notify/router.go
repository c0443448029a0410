package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/rental/internal/oplog"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lithammer/shortuuid/v3"
	"go.uber.org/zap"
)

const (
	handlerDeliverNotification = "deliver-booking-notification"
	generatedCorrelationPrefix = "gen_"
)

// Deliverer sends a notification to its recipient (email, push, ...).
type Deliverer interface {
	Deliver(ctx context.Context, event *BookingNotificationRequested) error
}

// LogDeliverer records notifications instead of sending them.
type LogDeliverer struct {
	Logger *zap.Logger
}

func (deliverer LogDeliverer) Deliver(ctx context.Context, event *BookingNotificationRequested) error {
	logger := deliverer.Logger
	if logger == nil {
		return nil
	}
	logger.Info("booking notification",
		zap.String("kind", event.Kind),
		zap.String("booking_id", event.BookingID),
		zap.String("recipient_email", event.RecipientEmail),
		zap.String("recipient_role", event.RecipientRole),
		zap.Int64("amount_cents", event.AmountCents),
		zap.String("currency", event.Currency),
		zap.String("correlation_id", oplog.CorrelationID(ctx)),
	)
	return nil
}

// RouterConfig wires the message router.
type RouterConfig struct {
	Transport Transport
	Deliverer Deliverer
	Logger    watermill.LoggerAdapter
	// RetryInterval is the first backoff step; zero uses the default.
	RetryInterval time.Duration
	MaxRetries    int
}

// NewRouter builds a watermill router whose event processor delivers notifications.
func NewRouter(cfg RouterConfig) (*message.Router, error) {
	if cfg.Transport.NewSubscriber == nil {
		return nil, fmt.Errorf("transport subscriber constructor is nil")
	}
	if cfg.Deliverer == nil {
		return nil, fmt.Errorf("deliverer is nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	retryInterval := cfg.RetryInterval
	if retryInterval <= 0 {
		retryInterval = 100 * time.Millisecond
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}

	router, err := message.NewRouter(message.RouterConfig{}, logger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}
	router.AddMiddleware(correlationIDMiddleware)
	router.AddMiddleware(handlerLogMiddleware(logger))
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      maxRetries,
		InitialInterval: retryInterval,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}.Middleware)

	processor, err := cqrs.NewEventProcessorWithConfig(router, cqrs.EventProcessorConfig{
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return cfg.Transport.NewSubscriber(params.HandlerName)
		},
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return topicPrefix + params.EventName, nil
		},
		Marshaler: cqrs.JSONMarshaler{
			GenerateName: cqrs.StructName,
		},
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event processor: %w", err)
	}

	handlers := []cqrs.EventHandler{
		cqrs.NewEventHandler(handlerDeliverNotification, cfg.Deliverer.Deliver),
	}
	if err := processor.AddHandlers(handlers...); err != nil {
		return nil, fmt.Errorf("adding handlers: %w", err)
	}
	return router, nil
}

func correlationIDMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		correlationID := middleware.MessageCorrelationID(msg)
		if correlationID == "" {
			correlationID = generatedCorrelationPrefix + shortuuid.New()
		}
		msg.SetContext(oplog.WithCorrelationID(msg.Context(), correlationID))
		return next(msg)
	}
}

func handlerLogMiddleware(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	return func(next message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			fields := watermill.LogFields{
				"message_uuid":   msg.UUID,
				"correlation_id": oplog.CorrelationID(msg.Context()),
			}
			logger.Debug("handling message", fields)
			produced, err := next(msg)
			if err != nil {
				logger.Error("message handling error", err, fields)
			}
			return produced, err
		}
	}
}
