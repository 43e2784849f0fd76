package api

import (
	"net/http"

	gateHandler "gate-server/internal/gate/handler"
	"gate-server/internal/mediastream"

	"github.com/gin-gonic/gin"
)

type API struct {
	router              *gin.RouterGroup
	gateHandler         gateHandler.Handler
	mediaHandler        mediastream.Handler
	signatureMiddleware gin.HandlerFunc
}

func New(router *gin.RouterGroup, gateHandler gateHandler.Handler, mediaHandler mediastream.Handler,
	signatureMiddleware gin.HandlerFunc) API {
	return API{
		router:              router,
		gateHandler:         gateHandler,
		mediaHandler:        mediaHandler,
		signatureMiddleware: signatureMiddleware,
	}
}

func (a *API) RegisterRoutes() {
	a.Health()

	// Both webhooks require a valid provider signature, including the
	// redirect target: the redirect goes through the provider, so the
	// follow-up request is signed like any other.
	twilioGroup := a.router.Group("/twilio", a.signatureMiddleware)
	twilioGroup.POST("/event", a.gateHandler.HandleEvent)
	twilioGroup.POST("/success", a.gateHandler.HandleSuccess)

	// Duplex media channel, opened by the provider per the Stream directive.
	a.router.GET("/audio-stream", a.mediaHandler.HandleAudioStream)
}

func (a *API) Health() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})
}
