package events

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/stockcheck/internal/interfaces"
)

// NewLoggerSubscriber creates an event handler that logs all events
func NewLoggerSubscriber(logger arbor.ILogger) interfaces.EventHandler {
	return func(ctx context.Context, event interfaces.Event) error {
		logEvent := logger.Trace().
			Str("event_type", string(event.Type))

		if payload, ok := event.Payload.(map[string]interface{}); ok {
			if id, ok := payload["run_id"].(string); ok {
				logEvent = logEvent.Str("run_id", id)
			}
			if checked, ok := payload["checked"].(int); ok {
				logEvent = logEvent.Int("checked", checked)
			}
			if total, ok := payload["total"].(int); ok {
				logEvent = logEvent.Int("total", total)
			}
			if artist, ok := payload["artist"].(string); ok {
				logEvent = logEvent.Str("artist", artist)
			}
		}

		logEvent.Msg("Event published")
		return nil
	}
}

// SubscribeLoggerToAllEvents subscribes the logger to all known event types
func SubscribeLoggerToAllEvents(eventService interfaces.EventService, logger arbor.ILogger) error {
	subscriber := NewLoggerSubscriber(logger)

	eventTypes := []interfaces.EventType{
		interfaces.EventStockStarted,
		interfaces.EventStockProgress,
		interfaces.EventStockComplete,
		interfaces.EventCollectionUpdated,
	}

	for _, eventType := range eventTypes {
		if err := eventService.Subscribe(eventType, subscriber); err != nil {
			return fmt.Errorf("failed to subscribe logger to event type %s: %w", eventType, err)
		}
	}

	return nil
}
