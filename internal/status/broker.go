package status

import (
	"log/slog"
	"sync"
)

// Topics carried by the Broker.
const (
	TopicStatusUpdates = "status-updates"
	TopicDataUpdates   = "data-updates"
)

// subscriberBuffer bounds how many undelivered events a subscriber may lag
// behind before events are dropped for it.
const subscriberBuffer = 16

// Event is one published message with the topic it arrived on.
type Event struct {
	Topic   string `json:"topic"`
	Payload any    `json:"payload"`
}

// Broker is an in-process publish/subscribe hub with best-effort delivery:
// publishing never blocks, and a slow subscriber loses events rather than
// stalling the publisher.
type Broker struct {
	mu     sync.RWMutex
	subs   map[int]*subscriber
	nextID int
	logger *slog.Logger
}

type subscriber struct {
	topics map[string]struct{}
	ch     chan Event
}

// NewBroker creates an empty Broker.
func NewBroker() *Broker {
	return &Broker{
		subs:   make(map[int]*subscriber),
		logger: slog.Default().With("component", "status-broker"),
	}
}

// Subscribe registers a listener for the given topics (all topics when none
// are named). The returned cancel function removes the subscription and
// closes the channel; it is safe to call more than once.
func (b *Broker) Subscribe(topics ...string) (<-chan Event, func()) {
	sub := &subscriber{ch: make(chan Event, subscriberBuffer)}
	if len(topics) > 0 {
		sub.topics = make(map[string]struct{}, len(topics))
		for _, t := range topics {
			sub.topics[t] = struct{}{}
		}
	}

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = sub
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Publish delivers the payload to every subscriber of the topic. Subscribers
// whose buffer is full are skipped.
func (b *Broker) Publish(topic string, payload any) {
	event := Event{Topic: topic, Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if sub.topics != nil {
			if _, ok := sub.topics[topic]; !ok {
				continue
			}
		}
		select {
		case sub.ch <- event:
		default:
			b.logger.Debug("dropping event for slow subscriber", "topic", topic)
		}
	}
}

// SubscriberCount returns how many listeners are registered.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
