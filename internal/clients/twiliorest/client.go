package twiliorest

import (
	"context"
	"fmt"

	"gate-server/internal/observability"

	"github.com/twilio/twilio-go"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Client wraps the Twilio REST client for the two stateless calls this
// service makes: sending an SMS and redirecting a live call. It is a
// process-wide singleton shared across sessions.
type Client struct {
	api    *twilio.RestClient
	logger *observability.Logger
}

func NewClient(accountSID, authToken string, logger *observability.Logger) *Client {
	api := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &Client{
		api:    api,
		logger: logger,
	}
}

// SendSMS sends a single text message
func (c *Client) SendSMS(ctx context.Context, from, to, body string) error {
	params := &twilioapi.CreateMessageParams{}
	params.SetFrom(from)
	params.SetTo(to)
	params.SetBody(body)

	msg, err := c.api.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send SMS to %s: %w", to, err)
	}

	sid := ""
	if msg.Sid != nil {
		sid = *msg.Sid
	}
	c.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "sms_to", Value: to},
		observability.Field{Key: "sms_sid", Value: sid},
	), "SMS sent")
	return nil
}

// RedirectCall points an in-progress call at a new webhook URL. Twilio
// fetches the URL with a POST and replaces the call's current TwiML.
func (c *Client) RedirectCall(ctx context.Context, callSID, webhookURL string) error {
	params := (&twilioapi.UpdateCallParams{}).
		SetUrl(webhookURL).
		SetMethod("POST")

	if _, err := c.api.Api.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("failed to redirect call %s: %w", callSID, err)
	}

	c.logger.Info(observability.WithFields(ctx,
		observability.Field{Key: "call_sid", Value: callSID},
		observability.Field{Key: "redirect_url", Value: webhookURL},
	), "Call redirected")
	return nil
}
