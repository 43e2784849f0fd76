package processor

import "context"

// ActuatorPublisher publishes activation events to the bus consumed by the
// physical gate controller
type ActuatorPublisher interface {
	// Publish sends one message best-effort; failures are logged, not returned
	Publish(ctx context.Context, payload string)
}

// NotificationDispatcher fans a grant notification out to the configured
// operators
type NotificationDispatcher interface {
	// Notify sends the formatted message to every recipient independently
	Notify(ctx context.Context, grant AccessGrant)
}
