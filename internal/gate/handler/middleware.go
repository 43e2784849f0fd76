package handler

import (
	"net/http"

	"gate-server/internal/observability"

	"github.com/gin-gonic/gin"
	twilioclient "github.com/twilio/twilio-go/client"
)

// RequireTwilioSignature rejects webhook requests that were not signed by
// the telephony provider. The signature covers the externally-visible
// request URL plus the sorted form parameters; the provider's validator
// compares in constant time. A rejected request gets a 401 and no further
// processing.
func RequireTwilioSignature(authToken string, logger *observability.Logger) gin.HandlerFunc {
	validator := twilioclient.NewRequestValidator(authToken)

	return func(c *gin.Context) {
		ctx := c.Request.Context()

		signature := c.GetHeader("X-Twilio-Signature")
		if signature == "" {
			logger.Warn(ctx, "webhook rejected: missing provider signature")
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		if err := c.Request.ParseForm(); err != nil {
			logger.Error(ctx, "webhook rejected: unparseable form body", err)
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		params := make(map[string]string, len(c.Request.PostForm))
		for key, values := range c.Request.PostForm {
			if len(values) > 0 {
				params[key] = values[0]
			}
		}

		// The provider signs the URL it was configured with, which is
		// always https on the public side of any proxy.
		url := "https://" + c.Request.Host + c.Request.RequestURI
		if !validator.Validate(url, params, signature) {
			logger.Warn(ctx, "webhook rejected: invalid provider signature")
			c.String(http.StatusUnauthorized, "Unauthorized")
			c.Abort()
			return
		}

		c.Next()
	}
}
