package interfaces

import "context"

// EventType represents different event types in the system
type EventType string

const (
	// EventStockProgress is published after every settled item.
	// Payload: map with run_id, checked, total
	EventStockProgress EventType = "stock_progress"

	// EventStockComplete is published once when a run settles.
	// Payload: map with run_id, total, checked, available, cancelled
	EventStockComplete EventType = "stock_complete"

	// EventStockStarted is published when a run is admitted.
	// Payload: map with run_id, total, concurrency
	EventStockStarted EventType = "stock_started"

	// EventCollectionUpdated is published when a collection is saved or imported.
	// Payload: map with artist
	EventCollectionUpdated EventType = "collection_updated"
)

// Event represents a system event
type Event struct {
	Type    EventType
	Payload interface{}
}

// EventHandler is a function that handles events
type EventHandler func(ctx context.Context, event Event) error

// EventService manages pub/sub event bus
type EventService interface {
	// Subscribe to an event type
	Subscribe(eventType EventType, handler EventHandler) error

	// Publish an event to all subscribers
	Publish(ctx context.Context, event Event) error

	// PublishSync publishes event and waits for all handlers to complete
	PublishSync(ctx context.Context, event Event) error

	// Close shuts down the event service
	Close() error
}
