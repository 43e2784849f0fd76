package handler

import (
	"fmt"
	"net/http"

	"gate-server/internal/gate/processor"
	"gate-server/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/twiml"
)

const (
	greetingMessage = "hello, please state your purpose or enter your code."
	acceptedMessage = "Thank you, opening"
	rejectedMessage = "Invalid code"

	// gatherTimeout is how long the provider waits for a digit before the
	// call times out to its default message. Enforced provider-side.
	gatherTimeout = "60"
)

type Handler struct {
	gateProcessor *processor.GateProcessor
	logger        *observability.Logger
}

func New(gateProcessor *processor.GateProcessor, logger *observability.Logger) Handler {
	return Handler{
		gateProcessor: gateProcessor,
		logger:        logger,
	}
}

// HandleEvent is the inbound-call webhook. A turn without digits answers
// with the greeting: open a media stream to the audio endpoint and gather one
// touch-tone digit, replaying this webhook. A turn with digits is the code
// decision, which is terminal either way.
func (h Handler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	digits := c.PostForm("Digits")
	if digits == "" {
		h.respondGreeting(c)
		return
	}

	caller := c.PostForm("From")
	ctx = observability.WithFields(ctx, observability.Field{Key: "caller", Value: caller})
	h.logger.Info(ctx, fmt.Sprintf("DTMF tones received: %s", digits))

	if !h.gateProcessor.ValidCode(digits) {
		h.respondVoice(c, []twiml.Element{
			&twiml.VoiceSay{Message: rejectedMessage},
			&twiml.VoiceHangup{},
		})
		return
	}

	h.gateProcessor.GrantAccess(ctx, processor.AccessGrant{Caller: caller})
	h.respondAccepted(c)
}

// HandleSuccess is the speech-trigger outcome webhook, reached via the call
// redirect issued by the trigger matcher. It behaves the same with or
// without a caller identity or trigger value: a grant with empty fields is
// still acted on.
func (h Handler) HandleSuccess(c *gin.Context) {
	ctx := c.Request.Context()

	grant := processor.AccessGrant{
		Trigger: c.Query("trigger"),
		Caller:  c.PostForm("From"),
	}
	h.logger.Info(ctx, "Received success webhook")

	h.gateProcessor.GrantAccess(ctx, grant)
	h.respondAccepted(c)
}

func (h Handler) respondGreeting(c *gin.Context) {
	streamURL := fmt.Sprintf("wss://%s/audio-stream", c.Request.Host)

	start := &twiml.VoiceStart{
		InnerElements: []twiml.Element{
			twiml.VoiceStream{Url: streamURL},
		},
	}
	gather := &twiml.VoiceGather{
		Input:     "dtmf",
		NumDigits: "1",
		Timeout:   gatherTimeout,
		Action:    "/twilio/event",
		InnerElements: []twiml.Element{
			twiml.VoiceSay{Message: greetingMessage},
		},
	}

	h.respondVoice(c, []twiml.Element{start, gather})
}

func (h Handler) respondAccepted(c *gin.Context) {
	h.respondVoice(c, []twiml.Element{
		&twiml.VoiceSay{Message: acceptedMessage},
		&twiml.VoiceHangup{},
	})
}

func (h Handler) respondVoice(c *gin.Context, elements []twiml.Element) {
	doc, err := twiml.Voice(elements)
	if err != nil {
		h.logger.Error(c.Request.Context(), "failed to render voice response", err)
		c.String(http.StatusInternalServerError, err.Error())
		return
	}

	c.Header("Content-Type", "text/xml")
	c.String(http.StatusOK, doc)
}
