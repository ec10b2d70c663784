package bluetooth

import (
	"github.com/bluewire-org/bluetooth-hostd/api/errorkinds"
	"github.com/bluewire-org/bluetooth-hostd/api/eventbus"
)

// EventID represents a unique event ID.
type EventID byte

// The different types of event IDs.
const (
	EventNone EventID = iota // The zero value for this type.
	EventError
	EventAdapter
	EventTransfer
)

// EventAction describes an action that is associated with an event.
type EventAction string

// The different types of event actions.
const (
	EventActionNone    EventAction = "none"
	EventActionUpdated EventAction = "updated"
	EventActionAdded   EventAction = "added"
	EventActionRemoved EventAction = "removed"
)

// eventNames holds names of different events.
var eventNames = map[EventID]string{
	EventNone:     "",
	EventError:    "error_event",
	EventAdapter:  "adapter_event",
	EventTransfer: "transfer_event",
}

// String returns the name of the event ID.
func (e EventID) String() string {
	return eventNames[e]
}

// String returns the name of the event action.
func (e EventAction) String() string {
	return string(e)
}

// Value returns the event ID.
func (e EventID) Value() uint {
	return uint(e)
}

// Event represents a general event.
type Event[T any] struct {
	// ID holds the event ID.
	ID EventID `json:"event_id,omitempty" doc:"The event ID."`

	// Action holds the corresponding action associated
	// with this event.
	Action EventAction `json:"event_action,omitempty" enum:"updated,added,removed" doc:"The corresponding action associated with this event"`

	// Data holds the actual event data.
	Data T `json:"event_data,omitempty" doc:"The actual event data."`
}

// EventGroup publishes events of a single data type under one event ID.
type EventGroup[T any] struct {
	// ID holds the event ID.
	ID EventID
}

// Subscriber receives events published to an event group.
type Subscriber[T any] struct {
	Events chan Event[T]

	Unsubscribe eventbus.UnsubFunc
}

// PublishAdded publishes data under the "added" action.
func (e EventGroup[T]) PublishAdded(data T) {
	eventbus.Publish(e.ID.Value(), Event[T]{e.ID, EventActionAdded, data})
}

// PublishUpdated publishes data under the "updated" action.
func (e EventGroup[T]) PublishUpdated(data T) {
	eventbus.Publish(e.ID.Value(), Event[T]{e.ID, EventActionUpdated, data})
}

// PublishRemoved publishes data under the "removed" action.
func (e EventGroup[T]) PublishRemoved(data T) {
	eventbus.Publish(e.ID.Value(), Event[T]{e.ID, EventActionRemoved, data})
}

// Subscribe returns a subscriber to this event group.
// Events are delivered on a best-effort basis: a subscriber that does not
// drain its channel misses events.
func (e EventGroup[T]) Subscribe() *Subscriber[T] {
	ch, unsub := eventbus.Subscribe(e.ID.Value())

	done := make(chan struct{})
	sub := &Subscriber[T]{
		Events: make(chan Event[T], 8),
		Unsubscribe: func() {
			unsub()
			close(done)
		},
	}

	go func() {
		defer close(sub.Events)

		for {
			select {
			case <-done:
				return

			case msg, ok := <-ch:
				if !ok {
					return
				}

				ev, ok := msg.(Event[T])
				if !ok {
					continue
				}

				select {
				case sub.Events <- ev:
				default:
				}
			}
		}
	}()

	return sub
}

// AdapterEvents returns an event interface to subscribe to adapter events.
func AdapterEvents() EventGroup[AdapterEventData] {
	return EventGroup[AdapterEventData]{ID: EventAdapter}
}

// TransferEvents returns an event interface to subscribe to transfer events.
func TransferEvents() EventGroup[TransferEventData] {
	return EventGroup[TransferEventData]{ID: EventTransfer}
}

// ErrorEvents returns an event interface to subscribe to the global error
// event stream.
func ErrorEvents() EventGroup[errorkinds.GenericError] {
	return EventGroup[errorkinds.GenericError]{ID: EventError}
}

// PublishError publishes an error to the global error event stream.
func PublishError(err error) {
	if err == nil {
		return
	}

	ErrorEvents().PublishAdded(errorkinds.GenericError{Error: err.Error()})
}
