package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Probe checks one dependency. A nil probe means the dependency is not configured.
type Probe func(ctx context.Context) error

// Health reports backing stores and provider configuration.
// A failing probe makes the service degraded (503); missing optional parts do not.
type Health struct {
	Database Probe
	Redis    Probe

	TwilioConfigured     bool
	VoiceAgentConfigured bool
	DefaultBackend       string
	Timeout              time.Duration
}

func (h *Health) Handle(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	healthy := true
	probe := func(p Probe, fallback string) string {
		if p == nil {
			return fallback
		}
		if err := p(ctx); err != nil {
			healthy = false
			return "error: " + err.Error()
		}
		return "connected"
	}

	body := gin.H{
		"database":        probe(h.Database, "memory"),
		"redis":           probe(h.Redis, "memory"),
		"twilio":          configured(h.TwilioConfigured),
		"voice_agent":     configured(h.VoiceAgentConfigured),
		"default_backend": h.DefaultBackend,
		"timestamp":       time.Now().UTC().Format(time.RFC3339),
	}
	if !healthy {
		body["status"] = "degraded"
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "healthy"
	c.JSON(http.StatusOK, body)
}

func configured(ok bool) string {
	if ok {
		return "configured"
	}
	return "not_configured"
}
