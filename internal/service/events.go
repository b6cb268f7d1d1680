package service

// EventType defines the type of a change event
type EventType string

const (
	EventNodeUpdate       EventType = "node_update"
	EventConnectionUpdate EventType = "connection_update"
)

// Event is a change notification pushed toward the delivery layer
type Event struct {
	Type    EventType   `json:"type"`
	Payload interface{} `json:"payload,omitempty"`
}

// EventBus allows publishing and subscribing to events
type EventBus struct {
	subscribers []chan<- Event
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make([]chan<- Event, 0),
	}
}

// Subscribe adds a subscriber to receive events. All subscriptions happen
// during wiring, before any publisher runs.
func (eb *EventBus) Subscribe(ch chan<- Event) {
	eb.subscribers = append(eb.subscribers, ch)
}

// Publish sends an event to all subscribers without blocking
func (eb *EventBus) Publish(event Event) {
	for _, ch := range eb.subscribers {
		select {
		case ch <- event:
		default:
			// Subscriber is slow, skip
		}
	}
}

// Notifier adapts the event bus to the engine's change-notification port.
// Publish never blocks, so mutation latency stays decoupled from delivery.
type Notifier struct {
	bus *EventBus
}

// NewNotifier creates a Notifier over the given bus
func NewNotifier(bus *EventBus) *Notifier {
	return &Notifier{bus: bus}
}

// NodeChanged publishes a node_update event
func (n *Notifier) NodeChanged(id string) {
	n.bus.Publish(Event{
		Type:    EventNodeUpdate,
		Payload: map[string]string{"node_id": id},
	})
}

// ConnectionChanged publishes a connection_update event
func (n *Notifier) ConnectionChanged(fromID, toID string) {
	n.bus.Publish(Event{
		Type:    EventConnectionUpdate,
		Payload: map[string]string{"from_id": fromID, "to_id": toID},
	})
}
