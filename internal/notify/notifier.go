package notify

import (
	"context"
	"fmt"
	"strings"

	"gate-server/internal/gate/processor"
	"gate-server/internal/observability"
)

const messageSubject = "Front gate opened"

// SMSSender sends a single text message
type SMSSender interface {
	SendSMS(ctx context.Context, from, to, body string) error
}

// EmailSender sends a single email
type EmailSender interface {
	SendEmail(ctx context.Context, from, to, subject, htmlContent string) (string, error)
}

// Service fans a gate-opened notification out to the configured recipients.
// Each recipient's send is independent: one failure is logged and does not
// affect the others. With nothing configured the service is a logged no-op.
type Service struct {
	sms             SMSSender
	email           EmailSender
	fromNumber      string
	smsRecipients   []string
	emailSender     string
	emailRecipients []string
	logger          *observability.Logger
}

func New(sms SMSSender, fromNumber string, smsRecipients []string, logger *observability.Logger) *Service {
	return &Service{
		sms:           sms,
		fromNumber:    fromNumber,
		smsRecipients: smsRecipients,
		logger:        logger,
	}
}

// WithEmail enables the optional email channel
func (s *Service) WithEmail(email EmailSender, sender string, recipients []string) *Service {
	s.email = email
	s.emailSender = sender
	s.emailRecipients = recipients
	return s
}

// FormatGrantMessage renders the one-line notification body. Only present
// fields appear, trigger first, comma-delimited.
func FormatGrantMessage(grant processor.AccessGrant) string {
	var parts []string
	if grant.Trigger != "" {
		parts = append(parts, grant.Trigger)
	}
	if grant.Caller != "" {
		parts = append(parts, grant.Caller)
	}
	return "FRONT GATE OPENED BY: " + strings.Join(parts, ", ")
}

// Notify implements processor.NotificationDispatcher
func (s *Service) Notify(ctx context.Context, grant processor.AccessGrant) {
	message := FormatGrantMessage(grant)

	s.notifySMS(ctx, message)
	s.notifyEmail(ctx, message)
}

func (s *Service) notifySMS(ctx context.Context, message string) {
	if len(s.smsRecipients) == 0 || s.fromNumber == "" {
		s.logger.Warn(ctx, "no SMS recipients or sender number configured, skipping SMS notification")
		return
	}

	for _, recipient := range s.smsRecipients {
		if err := s.sms.SendSMS(ctx, s.fromNumber, recipient, message); err != nil {
			s.logger.Error(ctx, fmt.Sprintf("failed to send SMS to %s", recipient), err)
		}
	}
}

func (s *Service) notifyEmail(ctx context.Context, message string) {
	if s.email == nil || len(s.emailRecipients) == 0 || s.emailSender == "" {
		return
	}

	body := fmt.Sprintf("<html><body><p>%s</p></body></html>", message)
	for _, recipient := range s.emailRecipients {
		if _, err := s.email.SendEmail(ctx, s.emailSender, recipient, messageSubject, body); err != nil {
			s.logger.Error(ctx, fmt.Sprintf("failed to send email to %s", recipient), err)
		}
	}
}
