package app

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

const defaultSubscriberBuffer = 256

// Hub is an in-process topic fan-out. Publish never blocks: a subscriber
// whose buffer is full loses the record and its drop counter grows.
//
// Ordering: records published from one goroutine arrive at every
// subscriber in publish order.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]map[string]*subscription
	closed bool

	observer ports.ProcessingObserver
}

type subscription struct {
	id      string
	topic   string
	events  chan domain.EventRecord
	dropped atomic.Int64
}

func (s *subscription) ID() string                        { return s.id }
func (s *subscription) Topic() string                     { return s.topic }
func (s *subscription) Events() <-chan domain.EventRecord { return s.events }
func (s *subscription) Dropped() int64                    { return s.dropped.Load() }

func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[string]*subscription)}
}

// SetObserver reports subscriber drops to o.
func (h *Hub) SetObserver(o ports.ProcessingObserver) {
	h.mu.Lock()
	h.observer = o
	h.mu.Unlock()
}

func (h *Hub) Publish(topic string, rec domain.EventRecord) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered, dropped := 0, 0
	for _, sub := range h.topics[topic] {
		select {
		case sub.events <- rec:
			delivered++
		default:
			sub.dropped.Add(1)
			dropped++
		}
	}
	if dropped > 0 && h.observer != nil {
		h.observer.AddDropped(dropped)
	}
	return delivered
}

// Subscribe registers a subscriber with the given channel buffer. After
// Close the returned subscription's channel is already closed.
func (h *Hub) Subscribe(topic string, buffer int) ports.Subscription {
	if buffer <= 0 {
		buffer = defaultSubscriberBuffer
	}
	sub := &subscription{
		id:     uuid.NewString(),
		topic:  topic,
		events: make(chan domain.EventRecord, buffer),
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(sub.events)
		return sub
	}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[string]*subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub

	log.Debug().Str("topic", topic).Str("subscriber", sub.id).Int("subscribers", len(subs)).Msg("Subscriber added")
	return sub
}

// Unsubscribe removes sub and closes its channel. Unknown or already
// removed subscriptions are ignored.
func (h *Hub) Unsubscribe(s ports.Subscription) {
	if s == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	subs := h.topics[s.Topic()]
	sub, ok := subs[s.ID()]
	if !ok {
		return
	}
	delete(subs, sub.id)
	if len(subs) == 0 {
		delete(h.topics, sub.topic)
	}
	close(sub.events)

	log.Debug().
		Str("topic", sub.topic).
		Str("subscriber", sub.id).
		Int64("dropped", sub.dropped.Load()).
		Msg("Subscriber removed")
}

func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close removes every subscriber and closes their channels.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for topic, subs := range h.topics {
		for _, sub := range subs {
			close(sub.events)
		}
		delete(h.topics, topic)
	}
}
