package bootstrap

import (
	"context"
	"fmt"

	"gate-server/internal/clients/deepgram"
	"gate-server/internal/clients/mail"
	"gate-server/internal/clients/mqtt"
	"gate-server/internal/clients/twiliorest"
	"gate-server/internal/config"
	gateHandler "gate-server/internal/gate/handler"
	gateProcessor "gate-server/internal/gate/processor"
	"gate-server/internal/mediastream"
	"gate-server/internal/notify"
	"gate-server/internal/observability"
	"gate-server/internal/trigger"

	"github.com/gin-gonic/gin"
)

// Dependencies holds all initialized application dependencies
type Dependencies struct {
	// Core
	Logger *observability.Logger

	// Handlers
	GateHandler         gateHandler.Handler
	MediaHandler        mediastream.Handler
	SignatureMiddleware gin.HandlerFunc

	// Shared clients (for cleanup)
	Publisher *mqtt.Publisher
}

// Initialize sets up all application dependencies. The MQTT client and the
// Twilio REST client are process-wide singletons: every call session shares
// them through stateless single-call operations.
func Initialize(ctx context.Context, cfg *config.Config, logger *observability.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Logger: logger,
	}

	// Actuator bus connection, established once at startup.
	deps.Publisher = mqtt.NewPublisher(mqtt.PublisherConfig{
		BrokerURL: cfg.MQTT.BrokerURL,
		Username:  cfg.MQTT.Username,
		Password:  cfg.MQTT.Password,
		Topic:     cfg.MQTT.Topic,
	}, logger)

	// Telephony provider REST client (SMS + call redirects).
	twilioClient := twiliorest.NewClient(cfg.Twilio.AccountSID, cfg.Twilio.AuthToken, logger)

	// Notification fan-out: SMS always, email only when configured.
	notifier := notify.New(twilioClient, cfg.Twilio.PhoneNumber, cfg.Notify.SMSRecipients, logger)
	if cfg.Notify.ResendAPIKey != "" && cfg.Notify.EmailSender != "" && len(cfg.Notify.EmailRecipients) > 0 {
		mailClient, err := mail.NewResendClient(cfg.Notify.ResendAPIKey, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create resend client: %w", err)
		}
		notifier = notifier.WithEmail(mailClient, cfg.Notify.EmailSender, cfg.Notify.EmailRecipients)
	}

	// Access decision engine and its webhook handler.
	processor := gateProcessor.New(deps.Publisher, notifier, cfg.Gate.AccessCode, logger)
	deps.GateHandler = gateHandler.New(processor, logger)
	deps.SignatureMiddleware = gateHandler.RequireTwilioSignature(cfg.Twilio.AuthToken, logger)

	// Speech trigger path: one transcription channel per call session,
	// keyword matches redirect the call through the shared REST client.
	detector := trigger.NewDetector(twilioClient, logger)
	dialer := mediastream.DialerFunc(func(dialCtx context.Context) (mediastream.Transcriber, error) {
		return deepgram.Dial(dialCtx, deepgram.Config{
			APIKey:   cfg.Transcription.APIKey,
			Model:    cfg.Transcription.Model,
			Language: cfg.Transcription.Language,
		}, logger)
	})
	deps.MediaHandler = mediastream.New(dialer, detector, logger)

	return deps, nil
}

// Cleanup releases shared clients on shutdown
func (d *Dependencies) Cleanup() {
	if d.Publisher != nil {
		d.Publisher.Close()
	}
}
