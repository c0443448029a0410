package notify

import (
	"fmt"

	"github.com/MarkoPoloResearchLab/rental/internal/oplog"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
)

const (
	topicPrefix         = "rental.events."
	consumerGroupPrefix = "rental."
	outputBuffer        = 64
)

// Transport is the message broker the notification bus runs on.
type Transport struct {
	Publisher     message.Publisher
	NewSubscriber func(handlerName string) (message.Subscriber, error)
	close         func() error
}

// Close releases the broker resources.
func (transport Transport) Close() error {
	if transport.close == nil {
		return nil
	}
	return transport.close()
}

// NewRedisTransport uses Redis streams with one consumer group per handler.
func NewRedisTransport(client redis.UniversalClient, logger watermill.LoggerAdapter) (Transport, error) {
	if client == nil {
		return Transport{}, fmt.Errorf("redis client is nil")
	}
	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: client}, logger)
	if err != nil {
		return Transport{}, fmt.Errorf("creating redis publisher: %w", err)
	}
	return Transport{
		Publisher: correlationPublisher{Publisher: publisher},
		NewSubscriber: func(handlerName string) (message.Subscriber, error) {
			return redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        client,
				ConsumerGroup: consumerGroupPrefix + handlerName,
			}, logger)
		},
		close: publisher.Close,
	}, nil
}

// NewInProcessTransport keeps messages in memory; used when no Redis address is configured.
func NewInProcessTransport(logger watermill.LoggerAdapter) Transport {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	pubSub := gochannel.NewGoChannel(gochannel.Config{OutputChannelBuffer: outputBuffer}, logger)
	return Transport{
		Publisher: correlationPublisher{Publisher: pubSub},
		NewSubscriber: func(string) (message.Subscriber, error) {
			return pubSub, nil
		},
		close: pubSub.Close,
	}
}

// correlationPublisher copies the request correlation id onto outgoing messages.
type correlationPublisher struct {
	message.Publisher
}

func (publisher correlationPublisher) Publish(topic string, messages ...*message.Message) error {
	for _, msg := range messages {
		if correlationID := oplog.CorrelationID(msg.Context()); correlationID != "" {
			middleware.SetCorrelationID(correlationID, msg)
		}
	}
	return publisher.Publisher.Publish(topic, messages...)
}
