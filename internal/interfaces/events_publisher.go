package interfaces

import "context"

// EventPublisher emits domain events to the operational messaging layer.
type EventPublisher interface {
	Publish(ctx context.Context, topic string, event any) error
}
