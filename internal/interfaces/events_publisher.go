package interfaces

import "context"

type EventPublisher interface {
	// Publish sends event to topic. key decides partitioning, so events of one
	// account stay ordered.
	Publish(ctx context.Context, topic string, key string, event any) error
	Close() error
}

// NoopPublisher drops every event
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, string, string, any) error { return nil }

func (NoopPublisher) Close() error { return nil }
