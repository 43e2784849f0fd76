package processor

import (
	"context"
	"crypto/subtle"
	"fmt"

	"gate-server/internal/observability"
)

// AccessGrant is the normalized reason for opening the gate. Either field may
// be empty: a grant with no identifying context is still valid and must not
// fail downstream.
type AccessGrant struct {
	// Trigger is the matched keyword when access was granted by speech
	Trigger string
	// Caller is the caller's number when the provider supplied one
	Caller string
}

// GateProcessor decides when the gate opens and fans the decision out to the
// actuator bus and the notification channel
type GateProcessor struct {
	publisher  ActuatorPublisher
	notifier   NotificationDispatcher
	accessCode string
	logger     *observability.Logger
}

func New(publisher ActuatorPublisher, notifier NotificationDispatcher, accessCode string, logger *observability.Logger) *GateProcessor {
	return &GateProcessor{
		publisher:  publisher,
		notifier:   notifier,
		accessCode: accessCode,
		logger:     logger,
	}
}

// ValidCode reports whether the received touch-tone digits match the
// configured access code
func (p *GateProcessor) ValidCode(digits string) bool {
	return subtle.ConstantTimeCompare([]byte(digits), []byte(p.accessCode)) == 1
}

// GrantAccess publishes the activation event and dispatches notifications.
// Both side effects are fire-and-forget: the caller's response path must not
// wait on the broker or the SMS gateway, so each runs as its own task whose
// outcome is only logged. The detached context keeps them alive past the
// webhook response.
func (p *GateProcessor) GrantAccess(ctx context.Context, grant AccessGrant) {
	ctx = observability.WithFields(ctx,
		observability.Field{Key: "trigger", Value: grant.Trigger},
		observability.Field{Key: "caller", Value: grant.Caller},
	)
	p.logger.Info(ctx, fmt.Sprintf("Granting access (trigger=%q caller=%q)", grant.Trigger, grant.Caller))

	background := context.WithoutCancel(ctx)
	go p.publisher.Publish(background, "activate")
	go p.notifier.Notify(background, grant)
}
