package ports

import (
	"github.com/xoelrdgz/authradar/internal/domain"
)

// TopicSSHEvent is the topic live events are published on.
const TopicSSHEvent = "ssh_event"

// Subscription is one subscriber's view of a topic.
type Subscription interface {
	ID() string
	Topic() string

	// Events delivers records in publish order. Closed on unsubscribe.
	Events() <-chan domain.EventRecord

	// Dropped returns how many records were discarded because the
	// subscriber fell behind.
	Dropped() int64
}

// EventBus fans records out to subscribers of a topic.
//
// Delivery: at most once, non-blocking per subscriber. A slow subscriber
// loses records instead of stalling the publisher.
//
// Thread Safety: All methods MUST be safe for concurrent use.
type EventBus interface {
	// Publish delivers rec to every current subscriber of topic and returns
	// the number of subscribers that received it.
	Publish(topic string, rec domain.EventRecord) int

	Subscribe(topic string, buffer int) Subscription
	Unsubscribe(sub Subscription)
	SubscriberCount(topic string) int
}
