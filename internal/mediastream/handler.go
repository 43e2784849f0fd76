package mediastream

import (
	"net/http"

	"gate-server/internal/observability"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader is a shared WebSocket upgrader. The media stream is opened by the
// telephony provider, which sends no browser Origin header.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler accepts media stream connections and runs one Session per call
type Handler struct {
	dialer TranscriberDialer
	sink   TranscriptSink
	logger *observability.Logger
}

func New(dialer TranscriberDialer, sink TranscriptSink, logger *observability.Logger) Handler {
	return Handler{
		dialer: dialer,
		sink:   sink,
		logger: logger,
	}
}

// HandleAudioStream upgrades the request and runs the call session until the
// media channel closes. One session per connection; sessions are independent.
func (h Handler) HandleAudioStream(c *gin.Context) {
	ctx := c.Request.Context()

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error(ctx, "media stream upgrade failed", err)
		return
	}
	h.logger.Info(ctx, "media stream connected")

	session := NewSession(conn, h.dialer, h.sink, c.Request.Host, h.logger)
	session.Run(ctx)
}
