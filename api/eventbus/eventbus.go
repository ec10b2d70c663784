// Package eventbus provides process-wide event fan-out for the daemon's
// published events. Publishing never blocks the caller: subscribers that
// cannot keep up miss events.
package eventbus

import (
	"github.com/cskr/pubsub/v2"
)

// UnsubFunc removes a subscription from the bus.
type UnsubFunc func()

var bus = pubsub.New[uint, any](8)

// Publish publishes data to all subscribers of the topic.
func Publish(topic uint, data any) {
	bus.TryPub(data, topic)
}

// Subscribe returns a channel of events published to the topic, along
// with a function to cancel the subscription.
func Subscribe(topic uint) (chan any, UnsubFunc) {
	ch := bus.Sub(topic)

	return ch, func() {
		go bus.Unsub(ch, topic)
	}
}
