package telephony

import (
	"net/http"
	"strings"

	"survey-caller/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const headerTwilioSignature = "X-Twilio-Signature"

// Validator checks an X-Twilio-Signature against the full request URL and POST params.
type Validator interface {
	Validate(url string, params map[string]string, expectedSignature string) bool
}

func NewValidator(authToken string) Validator {
	rv := client.NewRequestValidator(authToken)
	return &rv
}

// RequireSignature rejects webhooks whose signature does not match.
// publicBaseURL must be the externally visible scheme and host Twilio signed against.
func RequireSignature(v Validator, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		sig := c.GetHeader(headerTwilioSignature)
		if sig == "" {
			logger.FromGin(c).Warn("twilio webhook without signature", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "missing signature"})
			return
		}
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid form"})
			return
		}
		full := base + c.Request.URL.RequestURI()
		if !v.Validate(full, flatten(c.Request.PostForm), sig) {
			logger.FromGin(c).Warn("twilio signature mismatch", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"success": false, "error": "invalid signature"})
			return
		}
		c.Next()
	}
}
