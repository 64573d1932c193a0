// Package relay bridges in-process broker events to Kafka so external
// consumers (dashboards, alerting) can follow status and data updates
// without talking to the API. Delivery is best-effort: a Kafka outage never
// backpressures the publisher.
package relay

import (
	"context"
	"log/slog"
	"time"

	"github.com/duskwatch/duskwatch/internal/status"
	"github.com/duskwatch/duskwatch/pkg/kafka"
)

const publishTimeout = 5 * time.Second

// Relay subscribes to the broker and forwards each event to the Kafka topic
// configured for it.
type Relay struct {
	broker    *status.Broker
	producers map[string]*kafka.Producer
	logger    *slog.Logger
}

// New creates a Relay forwarding status-updates and data-updates. Either
// producer may be nil to skip that stream.
func New(broker *status.Broker, statusProducer, dataProducer *kafka.Producer) *Relay {
	producers := make(map[string]*kafka.Producer, 2)
	if statusProducer != nil {
		producers[status.TopicStatusUpdates] = statusProducer
	}
	if dataProducer != nil {
		producers[status.TopicDataUpdates] = dataProducer
	}
	return &Relay{
		broker:    broker,
		producers: producers,
		logger:    slog.Default().With("component", "event-relay"),
	}
}

// Run forwards broker events to Kafka until ctx is canceled. It returns
// immediately when no producers are configured.
func (r *Relay) Run(ctx context.Context) {
	if len(r.producers) == 0 {
		return
	}
	topics := make([]string, 0, len(r.producers))
	for topic := range r.producers {
		topics = append(topics, topic)
	}
	events, cancel := r.broker.Subscribe(topics...)
	defer cancel()

	r.logger.Info("event relay started", "topics", topics)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			r.forward(ctx, event)
		}
	}
}

func (r *Relay) forward(ctx context.Context, event status.Event) {
	producer, ok := r.producers[event.Topic]
	if !ok {
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	if err := producer.Publish(pubCtx, kafka.Event{Key: event.Topic, Value: event.Payload}); err != nil {
		r.logger.Warn("event dropped", "topic", event.Topic, "error", err)
	}
}
